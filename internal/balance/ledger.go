package balance

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"settlement-core/pkg/money"
)

var (
	// ErrNegativeBalance means an operation would take a quantity below zero
	// by more than money.Epsilon.
	ErrNegativeBalance = errors.New("balance would go negative")
	ErrNegativeAmount  = errors.New("amount must not be negative")
)

// Ledger holds every balance of one account. State only changes through the
// operations of a Tx, committed as a whole by Update.
type Ledger struct {
	mu       sync.RWMutex
	balances map[string]*Balance
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]*Balance)}
}

// Update runs fn against a transaction and commits its changes only if fn
// returns nil. A failed operation leaves the ledger exactly as it was.
func (l *Ledger) Update(fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &Tx{base: l.balances, touched: make(map[string]*Balance)}
	if err := fn(tx); err != nil {
		return err
	}
	for sym, b := range tx.touched {
		l.balances[sym] = b
	}
	return nil
}

// Balance returns a copy of the balance of symbol.
func (l *Ledger) Balance(symbol string) Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[symbol]; ok {
		return *b.clone()
	}
	return Balance{Symbol: symbol}
}

// Balances returns a copy of every non-empty balance.
func (l *Ledger) Balances() map[string]Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]Balance, len(l.balances))
	for sym, b := range l.balances {
		if !b.IsEmpty() {
			out[sym] = *b.clone()
		}
	}
	return out
}

// Symbols lists every symbol with a non-empty balance, sorted.
func (l *Ledger) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.balances))
	for sym, b := range l.balances {
		if !b.IsEmpty() {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// SetFree overwrites the free amount of symbol. Used to fund an account.
func (l *Ledger) SetFree(symbol string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.Wrapf(ErrNegativeAmount, "set free %s to %s", symbol, amount)
	}
	return l.Update(func(tx *Tx) error {
		b := tx.get(symbol)
		b.Free = money.Round(amount)
		return nil
	})
}

func (l *Ledger) Lock(symbol string, amount decimal.Decimal) error {
	return l.Update(func(tx *Tx) error { return tx.Lock(symbol, amount) })
}

func (l *Ledger) Release(symbol string, amount decimal.Decimal) error {
	return l.Update(func(tx *Tx) error { return tx.Release(symbol, amount) })
}

func (l *Ledger) AddFree(symbol string, amount decimal.Decimal) error {
	return l.Update(func(tx *Tx) error { return tx.AddFree(symbol, amount) })
}

// Tx is the mutation surface of a Ledger. Every operation keeps each quantity
// non-negative, clamping residues within money.Epsilon to zero.
type Tx struct {
	base    map[string]*Balance
	touched map[string]*Balance
}

func (tx *Tx) get(symbol string) *Balance {
	if b, ok := tx.touched[symbol]; ok {
		return b
	}
	var b *Balance
	if cur, ok := tx.base[symbol]; ok {
		b = cur.clone()
	} else {
		b = &Balance{Symbol: symbol, MarginReserves: make(map[string]decimal.Decimal)}
	}
	tx.touched[symbol] = b
	return b
}

func (tx *Tx) peek(symbol string) Balance {
	if b, ok := tx.touched[symbol]; ok {
		return *b
	}
	if b, ok := tx.base[symbol]; ok {
		return *b
	}
	return Balance{Symbol: symbol}
}

func (tx *Tx) Free(symbol string) decimal.Decimal    { return tx.peek(symbol).Free }
func (tx *Tx) Locked(symbol string) decimal.Decimal  { return tx.peek(symbol).Locked }
func (tx *Tx) Shorted(symbol string) decimal.Decimal { return tx.peek(symbol).Shorted }

// MarginReserve returns the reserve held in funds against shorts of asset.
func (tx *Tx) MarginReserve(funds, asset string) decimal.Decimal {
	return tx.peek(funds).MarginReserve(asset)
}

func (tx *Tx) AddFree(symbol string, amount decimal.Decimal) error {
	return tx.apply(symbol, "free", amount, func(b *Balance) *decimal.Decimal { return &b.Free })
}

func (tx *Tx) SubtractFree(symbol string, amount decimal.Decimal) error {
	return tx.apply(symbol, "free", amount.Neg(), func(b *Balance) *decimal.Decimal { return &b.Free })
}

func (tx *Tx) SubtractLocked(symbol string, amount decimal.Decimal) error {
	return tx.apply(symbol, "locked", amount.Neg(), func(b *Balance) *decimal.Decimal { return &b.Locked })
}

func (tx *Tx) AddShorted(symbol string, amount decimal.Decimal) error {
	return tx.apply(symbol, "shorted", amount, func(b *Balance) *decimal.Decimal { return &b.Shorted })
}

func (tx *Tx) SubtractShorted(symbol string, amount decimal.Decimal) error {
	return tx.apply(symbol, "shorted", amount.Neg(), func(b *Balance) *decimal.Decimal { return &b.Shorted })
}

// Lock moves amount of symbol from free to locked.
func (tx *Tx) Lock(symbol string, amount decimal.Decimal) error {
	if err := tx.SubtractFree(symbol, amount); err != nil {
		return errors.Wrap(err, "lock")
	}
	return tx.apply(symbol, "locked", amount, func(b *Balance) *decimal.Decimal { return &b.Locked })
}

// Release moves amount of symbol from locked back to free.
func (tx *Tx) Release(symbol string, amount decimal.Decimal) error {
	if err := tx.SubtractLocked(symbol, amount); err != nil {
		return errors.Wrap(err, "release")
	}
	return tx.AddFree(symbol, amount)
}

// AddMarginReserve credits the reserve held in funds against shorts of asset.
func (tx *Tx) AddMarginReserve(funds, asset string, amount decimal.Decimal) error {
	return tx.applyReserve(funds, asset, amount)
}

func (tx *Tx) SubtractMarginReserve(funds, asset string, amount decimal.Decimal) error {
	return tx.applyReserve(funds, asset, amount.Neg())
}

// MarkMarginReserve pays spent out of the reserve and free funds and then
// sets the reserve to target, moving the difference through free funds in a
// single step: free += reserve - spent - target.
func (tx *Tx) MarkMarginReserve(funds, asset string, spent, target decimal.Decimal) error {
	if spent.IsNegative() || target.IsNegative() {
		return errors.Wrapf(ErrNegativeAmount, "mark reserve %s/%s spent=%s target=%s", funds, asset, spent, target)
	}
	b := tx.peek(funds)
	current := b.MarginReserve(asset)
	delta := money.Sub(money.Sub(current, money.Round(spent)), money.Round(target))
	next := money.Clamp(money.Add(b.Free, delta))
	if next.IsNegative() {
		return errors.Wrapf(ErrNegativeBalance, "%s free would be %s after marking reserve[%s] to %s", funds, next, asset, target)
	}
	w := tx.get(funds)
	w.Free = next
	w.MarginReserves[asset] = money.Round(target)
	return nil
}

func (tx *Tx) apply(symbol, field string, delta decimal.Decimal, sel func(*Balance) *decimal.Decimal) error {
	delta = money.Round(delta)
	if delta.IsZero() {
		return nil
	}
	cur := *sel(ptr(tx.peek(symbol)))
	next := money.Clamp(money.Add(cur, delta))
	if next.IsNegative() {
		return errors.Wrapf(ErrNegativeBalance, "%s %s would be %s (have %s, change %s)", symbol, field, next, cur, delta)
	}
	*sel(tx.get(symbol)) = next
	return nil
}

func (tx *Tx) applyReserve(funds, asset string, delta decimal.Decimal) error {
	delta = money.Round(delta)
	if delta.IsZero() {
		return nil
	}
	cur := tx.peek(funds).MarginReserve(asset)
	next := money.Clamp(money.Add(cur, delta))
	if next.IsNegative() {
		return errors.Wrapf(ErrNegativeBalance, "%s reserve[%s] would be %s (have %s, change %s)", funds, asset, next, cur, delta)
	}
	tx.get(funds).MarginReserves[asset] = next
	return nil
}

func ptr(b Balance) *Balance { return &b }
