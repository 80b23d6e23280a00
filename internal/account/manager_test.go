package account

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"settlement-core/internal/balance"
	"settlement-core/internal/market"
	"settlement-core/internal/order"
	"settlement-core/pkg/money"
)

func newManager(t require.TestingT, limits Limits, balances map[string]string) *Manager {
	prices := market.NewPriceCache()
	prices.Set("ADAUSDT", money.MustParse("2"), time.Unix(0, 0))
	m := NewManager(Config{ReferenceCurrency: "USDT", Limits: limits}, balance.NewLedger(), prices)
	for sym, amount := range balances {
		require.NoError(t, m.Ledger().SetFree(sym, money.MustParse(amount)))
	}
	return m
}

func TestAllocateFunds(t *testing.T) {
	testCases := []struct {
		name     string
		limits   Limits
		balances map[string]string
		asset    string
		want     string
	}{
		{name: "no limits takes all free funds", balances: map[string]string{"USDT": "100"}, asset: "ADA", want: "100"},
		{name: "per trade amount", limits: Limits{MaxAmountPerTrade: Cap(40)}, balances: map[string]string{"USDT": "100"}, asset: "ADA", want: "40"},
		{name: "per trade amount above free", limits: Limits{MaxAmountPerTrade: Cap(400)}, balances: map[string]string{"USDT": "100"}, asset: "ADA", want: "100"},
		{name: "per trade percentage", limits: Limits{MaxPercentagePerTrade: Cap(25)}, balances: map[string]string{"USDT": "100", "ADA": "50"}, asset: "ADA", want: "50"},
		{name: "per asset amount less invested", limits: Limits{MaxAmountPerAsset: Cap(50)}, balances: map[string]string{"USDT": "100", "ADA": "10"}, asset: "ADA", want: "30"},
		{name: "per asset amount exhausted", limits: Limits{MaxAmountPerAsset: Cap(20)}, balances: map[string]string{"USDT": "100", "ADA": "10"}, asset: "ADA", want: "0"},
		{name: "per asset percentage", limits: Limits{MaxPercentagePerAsset: Cap(50)}, balances: map[string]string{"USDT": "100", "ADA": "10"}, asset: "ADA", want: "40"},
		{name: "below minimum", limits: Limits{MaxAmountPerTrade: Cap(5), MinAmountPerTrade: Cap(10)}, balances: map[string]string{"USDT": "100"}, asset: "ADA", want: "0"},
		{name: "reference currency", balances: map[string]string{"USDT": "100"}, asset: "USDT", want: "0"},
		{name: "no funds", balances: map[string]string{"ADA": "5"}, asset: "ADA", want: "0"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := newManager(t, tc.limits, tc.balances)
			got := m.AllocateFunds(tc.asset, order.Long)
			assert.True(t, money.MustParse(tc.want).Equal(got), "want %s, got %s", tc.want, got)
		})
	}
}

func TestAllocateFundsShortUsesShortedExposure(t *testing.T) {
	m := newManager(t, Limits{MaxAmountPerAsset: Cap(50)}, map[string]string{"USDT": "100", "ADA": "10"})
	require.NoError(t, m.Ledger().Update(func(tx *balance.Tx) error {
		return tx.AddShorted("ADA", money.MustParse("5"))
	}))

	assert.True(t, m.AllocateFunds("ADA", order.Short).Equal(money.MustParse("40")))
	assert.True(t, m.AllocateFunds("ADA", order.Long).Equal(money.MustParse("30")))
}

func TestTotalHoldings(t *testing.T) {
	m := newManager(t, Limits{}, map[string]string{"USDT": "100", "ADA": "10", "XRP": "7"})
	require.NoError(t, m.Ledger().Update(func(tx *balance.Tx) error {
		if err := tx.AddShorted("ADA", money.MustParse("4")); err != nil {
			return err
		}
		return tx.AddMarginReserve("USDT", "ADA", money.MustParse("12"))
	}))

	// 100 + 12 reserve + (10 - 4) ADA at 2; XRP has no price
	assert.True(t, m.TotalHoldings().Equal(money.MustParse("124")), "got %s", m.TotalHoldings())
}

func TestMarginReserve(t *testing.T) {
	m := newManager(t, Limits{}, nil)
	assert.Equal(t, DefaultMarginReservePercentage, m.MarginReservePercentage())
	assert.True(t, m.ApplyMarginReserve(money.MustParse("40")).Equal(money.MustParse("60")))
}

func TestMarginReservePercentageBounds(t *testing.T) {
	testCases := []struct {
		name string
		pct  int
		want int
	}{
		{name: "unset", pct: 0, want: DefaultMarginReservePercentage},
		{name: "negative", pct: -5, want: DefaultMarginReservePercentage},
		{name: "below proceeds", pct: 50, want: MinMarginReservePercentage},
		{name: "just below proceeds", pct: 99, want: MinMarginReservePercentage},
		{name: "proceeds only", pct: 100, want: 100},
		{name: "above default", pct: 200, want: 200},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(Config{ReferenceCurrency: "USDT", MarginReservePercentage: tc.pct}, nil, market.NewPriceCache())
			assert.Equal(t, tc.want, m.MarginReservePercentage())

			// the reserve never falls short of the notional it backs
			notional := money.MustParse("40")
			assert.True(t, m.ApplyMarginReserve(notional).GreaterThanOrEqual(notional))
		})
	}
}

func TestLimitsMerge(t *testing.T) {
	base := Limits{MaxAmountPerTrade: Cap(40), MinAmountPerTrade: Cap(1)}
	merged := base.Merge(Limits{MaxAmountPerTrade: Cap(10), MaxPercentagePerAsset: Cap(20)})

	assert.Equal(t, 10.0, *merged.MaxAmountPerTrade)
	assert.Equal(t, 20.0, *merged.MaxPercentagePerAsset)
	assert.Equal(t, 1.0, *merged.MinAmountPerTrade)
	assert.Nil(t, merged.MaxAmountPerAsset)
	assert.Equal(t, 40.0, *base.MaxAmountPerTrade, "merge does not modify the receiver")
}

func TestPropertyAllocationBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		free := rapid.IntRange(0, 10000).Draw(t, "free")
		held := rapid.IntRange(0, 1000).Draw(t, "held")
		var limits Limits
		if rapid.Bool().Draw(t, "perTrade") {
			limits.MaxAmountPerTrade = Cap(float64(rapid.IntRange(0, 5000).Draw(t, "maxPerTrade")))
		}
		if rapid.Bool().Draw(t, "perAsset") {
			limits.MaxAmountPerAsset = Cap(float64(rapid.IntRange(0, 5000).Draw(t, "maxPerAsset")))
		}
		if rapid.Bool().Draw(t, "pctTrade") {
			limits.MaxPercentagePerTrade = Cap(float64(rapid.IntRange(0, 100).Draw(t, "maxPctTrade")))
		}

		m := newManager(t, limits, map[string]string{
			"USDT": decimal.NewFromInt(int64(free)).String(),
			"ADA":  decimal.NewFromInt(int64(held)).String(),
		})
		got := m.AllocateFunds("ADA", order.Long)

		require.False(t, got.IsNegative())
		require.True(t, got.LessThanOrEqual(decimal.NewFromInt(int64(free))), "allocation %s above free %d", got, free)
		if limits.MaxAmountPerTrade != nil {
			require.True(t, got.LessThanOrEqual(money.FromFloat(*limits.MaxAmountPerTrade)))
		}

		// a tighter per-trade cap never allocates more
		tighter := limits
		tighter.MaxAmountPerTrade = Cap(float64(rapid.IntRange(0, 5000).Draw(t, "tighter")))
		if limits.MaxAmountPerTrade == nil || *tighter.MaxAmountPerTrade <= *limits.MaxAmountPerTrade {
			m.SetLimits(tighter)
			require.True(t, m.AllocateFunds("ADA", order.Long).LessThanOrEqual(got))
		}
	})
}
