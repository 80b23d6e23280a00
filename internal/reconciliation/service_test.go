package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-core/internal/balance"
	"settlement-core/pkg/money"
)

type staticSource struct {
	balances map[string]balance.Balance
	holds    map[string]decimal.Decimal
}

func (s staticSource) Balances() map[string]balance.Balance { return s.balances }
func (s staticSource) Holds() map[string]decimal.Decimal    { return s.holds }

func TestReconcile(t *testing.T) {
	testCases := []struct {
		name   string
		src    staticSource
		fields []string
	}{
		{
			name: "locked explained by orders",
			src: staticSource{
				balances: map[string]balance.Balance{
					"USDT": {Symbol: "USDT", Free: money.MustParse("60"), Locked: money.MustParse("40")},
				},
				holds: map[string]decimal.Decimal{"USDT": money.MustParse("40")},
			},
		},
		{
			name: "residue within tolerance",
			src: staticSource{
				balances: map[string]balance.Balance{
					"USDT": {Symbol: "USDT", Locked: money.MustParse("40.00000001")},
				},
				holds: map[string]decimal.Decimal{"USDT": money.MustParse("40")},
			},
		},
		{
			name: "orphaned lock",
			src: staticSource{
				balances: map[string]balance.Balance{
					"ADA": {Symbol: "ADA", Locked: money.MustParse("5")},
				},
			},
			fields: []string{"locked"},
		},
		{
			name: "order holds more than is locked",
			src: staticSource{
				balances: map[string]balance.Balance{},
				holds:    map[string]decimal.Decimal{"USDT": money.MustParse("1")},
			},
			fields: []string{"locked"},
		},
		{
			name: "negative balances",
			src: staticSource{
				balances: map[string]balance.Balance{
					"USDT": {
						Symbol:         "USDT",
						Free:           money.MustParse("-1"),
						MarginReserves: map[string]decimal.Decimal{"ADA": money.MustParse("-2")},
					},
				},
			},
			fields: []string{"free", "margin_reserve:ADA"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewService(nil, decimal.Zero)
			at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

			report := s.Reconcile(context.Background(), "acc-1", tc.src, at)
			require.NotNil(t, report)
			assert.Equal(t, "acc-1", report.AccountID)
			assert.Equal(t, at, report.Timestamp)
			assert.Equal(t, len(tc.fields) > 0, report.HasDiffs)

			var fields []string
			for _, d := range report.Diffs {
				fields = append(fields, d.Field)
			}
			assert.ElementsMatch(t, tc.fields, fields)

			audits, failed := s.Stats()
			assert.Equal(t, 1, audits)
			assert.Equal(t, len(tc.fields) > 0, failed == 1)
		})
	}
}
