package order

import "sort"

// Book is the arena of every order an account created, addressed by ID,
// plus the per-symbol sets of open (activated, not yet retired) orders.
type Book struct {
	orders map[int64]*Order
	open   map[string][]int64
}

func NewBook() *Book {
	return &Book{
		orders: make(map[int64]*Order),
		open:   make(map[string][]int64),
	}
}

// Add stores o in the arena without opening it.
func (b *Book) Add(o *Order) {
	b.orders[o.id] = o
}

// Get returns the order with the given ID.
func (b *Book) Get(id int64) (*Order, bool) {
	o, ok := b.orders[id]
	return o, ok
}

// Open puts o in the open set of its symbol. Opening twice is a no-op.
func (b *Book) Open(o *Order) {
	b.orders[o.id] = o
	sym := o.Symbol()
	ids := b.open[sym]
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= o.id })
	if i < len(ids) && ids[i] == o.id {
		return
	}
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = o.id
	b.open[sym] = ids
}

// Close removes o from its symbol's open set. It reports whether o was open.
func (b *Book) Close(o *Order) bool {
	sym := o.Symbol()
	ids := b.open[sym]
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= o.id })
	if i == len(ids) || ids[i] != o.id {
		return false
	}
	ids = append(ids[:i], ids[i+1:]...)
	if len(ids) == 0 {
		delete(b.open, sym)
	} else {
		b.open[sym] = ids
	}
	return true
}

// IsOpen reports whether o is in its symbol's open set.
func (b *Book) IsOpen(o *Order) bool {
	ids := b.open[o.Symbol()]
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= o.id })
	return i < len(ids) && ids[i] == o.id
}

// OpenIDs returns a snapshot of the open order IDs for symbol in ascending
// order. Callers iterate the snapshot and re-check IsOpen, so orders may be
// opened or closed during the traversal.
func (b *Book) OpenIDs(symbol string) []int64 {
	return append([]int64(nil), b.open[symbol]...)
}

// OpenOrders returns the open orders for symbol in ascending ID order.
func (b *Book) OpenOrders(symbol string) []*Order {
	ids := b.open[symbol]
	out := make([]*Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.orders[id])
	}
	return out
}

// Symbols returns the symbols that currently have open orders.
func (b *Book) Symbols() []string {
	out := make([]string, 0, len(b.open))
	for sym := range b.open {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Children returns the attached legs of o in attach order.
func (b *Book) Children(o *Order) []*Order {
	out := make([]*Order, 0, len(o.attachments))
	for _, id := range o.attachments {
		if c, ok := b.orders[id]; ok {
			out = append(out, c)
		}
	}
	return out
}
