// Package account owns the balances of one trading client and decides how
// much of them a new trade may use.
package account

import (
	"sync"

	"github.com/shopspring/decimal"

	"settlement-core/internal/balance"
	"settlement-core/internal/market"
	"settlement-core/internal/order"
	"settlement-core/pkg/money"
)

const (
	DefaultMarginReservePercentage = 150
	// MinMarginReservePercentage keeps the reserve at least as large as the
	// proceeds of the short it backs.
	MinMarginReservePercentage = 100
)

// Config configures one account.
type Config struct {
	ReferenceCurrency       string
	MarginReservePercentage int
	Limits                  Limits
}

// Manager values and allocates the holdings of one account.
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	ledger *balance.Ledger
	prices market.PriceSource
}

// NewManager creates the manager of one account. An unset reserve percentage
// takes the default; one below MinMarginReservePercentage is raised to it.
func NewManager(cfg Config, ledger *balance.Ledger, prices market.PriceSource) *Manager {
	switch {
	case cfg.MarginReservePercentage <= 0:
		cfg.MarginReservePercentage = DefaultMarginReservePercentage
	case cfg.MarginReservePercentage < MinMarginReservePercentage:
		cfg.MarginReservePercentage = MinMarginReservePercentage
	}
	if ledger == nil {
		ledger = balance.NewLedger()
	}
	return &Manager{cfg: cfg, ledger: ledger, prices: prices}
}

func (m *Manager) Ledger() *balance.Ledger { return m.ledger }

// Prices is the price source used to value holdings.
func (m *Manager) Prices() market.PriceSource { return m.prices }

func (m *Manager) ReferenceCurrency() string { return m.cfg.ReferenceCurrency }

func (m *Manager) Limits() Limits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Limits
}

func (m *Manager) SetLimits(l Limits) {
	m.mu.Lock()
	m.cfg.Limits = l
	m.mu.Unlock()
}

func (m *Manager) MarginReservePercentage() int { return m.cfg.MarginReservePercentage }

// ApplyMarginReserve is the reserve a short of the given notional requires.
func (m *Manager) ApplyMarginReserve(amount decimal.Decimal) decimal.Decimal {
	return money.Percent(amount, decimal.NewFromInt(int64(m.cfg.MarginReservePercentage)))
}

// MarginReserve is the reserve currently held in funds against asset.
func (m *Manager) MarginReserve(funds, asset string) decimal.Decimal {
	return m.ledger.Balance(funds).MarginReserve(asset)
}

// Price returns the last close of asset in the reference currency.
func (m *Manager) Price(asset string) (decimal.Decimal, bool) {
	if asset == m.cfg.ReferenceCurrency {
		return decimal.NewFromInt(1), true
	}
	if m.prices == nil {
		return decimal.Zero, false
	}
	return m.prices.LastClose(asset + m.cfg.ReferenceCurrency)
}

// HoldingsValue is what the account already has invested in asset: owned
// quantity for longs, shorted quantity for shorts, at the last close.
func (m *Manager) HoldingsValue(asset string, dir order.Direction) decimal.Decimal {
	price, ok := m.Price(asset)
	if !ok {
		return decimal.Zero
	}
	b := m.ledger.Balance(asset)
	if dir == order.Short {
		return money.Mul(b.Shorted, price)
	}
	return money.Mul(b.Owned(), price)
}

// TotalHoldings values the whole account in the reference currency: owned
// assets and margin reserves, less what is owed on shorts. Assets without a
// known price count as zero.
func (m *Manager) TotalHoldings() decimal.Decimal {
	total := decimal.Zero
	for sym, b := range m.ledger.Balances() {
		if sym == m.cfg.ReferenceCurrency {
			total = money.Add(total, b.Owned())
			total = money.Add(total, b.TotalMarginReserve())
			continue
		}
		price, ok := m.Price(sym)
		if !ok {
			continue
		}
		total = money.Add(total, money.Mul(b.Owned(), price))
		total = money.Sub(total, money.Mul(b.Shorted, price))
	}
	return total
}

// AllocateFunds returns how much of the reference currency a new trade on
// asset may use. Every configured cap is applied and the result never exceeds
// the free funds. Fees are not deducted.
func (m *Manager) AllocateFunds(asset string, dir order.Direction) decimal.Decimal {
	if asset == m.cfg.ReferenceCurrency {
		return decimal.Zero
	}
	limits := m.Limits()
	free := m.ledger.Balance(m.cfg.ReferenceCurrency).Free

	result := free
	invested := decimal.Zero
	total := decimal.Zero
	if limits.MaxAmountPerAsset != nil || limits.MaxPercentagePerAsset != nil {
		invested = m.HoldingsValue(asset, dir)
	}
	if limits.MaxPercentagePerAsset != nil || limits.MaxPercentagePerTrade != nil {
		total = m.TotalHoldings()
	}

	if limits.MaxAmountPerAsset != nil {
		result = decimal.Min(result, money.Sub(money.FromFloat(*limits.MaxAmountPerAsset), invested))
	}
	if limits.MaxPercentagePerAsset != nil {
		result = decimal.Min(result, money.Sub(money.Percent(total, money.FromFloat(*limits.MaxPercentagePerAsset)), invested))
	}
	if limits.MaxAmountPerTrade != nil {
		result = decimal.Min(result, money.FromFloat(*limits.MaxAmountPerTrade))
	}
	if limits.MaxPercentagePerTrade != nil {
		result = decimal.Min(result, money.Percent(total, money.FromFloat(*limits.MaxPercentagePerTrade)))
	}

	if !money.IsPositive(result) {
		return decimal.Zero
	}
	if limits.MinAmountPerTrade != nil && money.Less(result, money.FromFloat(*limits.MinAmountPerTrade)) {
		return decimal.Zero
	}
	return result
}
