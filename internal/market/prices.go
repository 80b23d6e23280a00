package market

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource yields the last closing price of a symbol.
type PriceSource interface {
	LastClose(symbol string) (decimal.Decimal, bool)
}

const numShards = 16

// PriceCache is a sharded last-close cache.
type PriceCache struct {
	shards [numShards]*priceShard
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]priceEntry
}

type priceEntry struct {
	price     decimal.Decimal
	updatedAt time.Time
}

func NewPriceCache() *PriceCache {
	c := &PriceCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &priceShard{items: make(map[string]priceEntry)}
	}
	return c
}

func (c *PriceCache) shard(key string) *priceShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores price as the last close of symbol at time at.
func (c *PriceCache) Set(symbol string, price decimal.Decimal, at time.Time) {
	s := c.shard(symbol)
	s.mu.Lock()
	s.items[symbol] = priceEntry{price: price, updatedAt: at}
	s.mu.Unlock()
}

// Update records the close of a candle.
func (c *PriceCache) Update(k Candle) {
	c.Set(k.Symbol, k.Close, k.OpenTime)
}

func (c *PriceCache) LastClose(symbol string) (decimal.Decimal, bool) {
	s := c.shard(symbol)
	s.mu.RLock()
	e, ok := s.items[symbol]
	s.mu.RUnlock()
	return e.price, ok
}

// UpdatedAt returns the candle time of the cached close.
func (c *PriceCache) UpdatedAt(symbol string) (time.Time, bool) {
	s := c.shard(symbol)
	s.mu.RLock()
	e, ok := s.items[symbol]
	s.mu.RUnlock()
	return e.updatedAt, ok
}

// Snapshot returns a copy of every cached close.
func (c *PriceCache) Snapshot() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, s := range c.shards {
		s.mu.RLock()
		for sym, e := range s.items {
			out[sym] = e.price
		}
		s.mu.RUnlock()
	}
	return out
}
