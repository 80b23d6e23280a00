package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-core/internal/fill"
	"settlement-core/internal/market"
	"settlement-core/internal/order"
	"settlement-core/pkg/money"
)

func TestConcurrentTradingAcrossSymbols(t *testing.T) {
	h := newHarness(t, 0, fill.Partial{MaxVolumePct: 50}, map[string]string{"USDT": "1000"})
	ctx := context.Background()
	assets := []string{"ADA", "XRP"}
	one := decimal.NewFromInt(1)

	const workers, rounds = 8, 40
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			asset := assets[w%len(assets)]
			for i := 0; i < rounds; i++ {
				side := order.Buy
				if i%3 == 2 {
					side = order.Sell
				}
				req, err := order.NewRequest(asset, "USDT", side, order.Long, t0)
				if !assert.NoError(t, err) {
					return
				}
				req.SetPrice(one)
				req.SetQuantity(decimal.NewFromInt(int64(1 + i%4)))
				o, err := h.eng.ExecuteOrder(ctx, req)
				assert.NoError(t, err)

				at := t0.Add(time.Duration(w*rounds+i) * time.Minute)
				c := market.Flat(asset+"USDT", at, one, decimal.NewFromInt(int64(1+i%5)))
				_, err = h.eng.AdvanceOpenOrders(ctx, c.Symbol, &c)
				assert.NoError(t, err)

				if o != nil && i%4 == 3 {
					_, err := h.eng.Cancel(ctx, o.ID())
					assert.NoError(t, err)
				}
			}
		}(w)
	}
	wg.Wait()

	for _, asset := range assets {
		require.NoError(t, h.eng.Halted(asset+"USDT"))
	}
	h.requireConsistent(t)

	// every trade went through at 1, so value only moved between balances
	total := decimal.Zero
	for _, b := range h.eng.Balances() {
		total = money.Add(total, b.Owned())
	}
	assertDecimal(t, "1000", total)

	for _, asset := range assets {
		for _, o := range h.eng.OpenOrders(asset + "USDT") {
			_, err := h.eng.Cancel(ctx, o.ID())
			require.NoError(t, err)
		}
	}
	h.requireConsistent(t)
	assert.True(t, h.eng.Balance("USDT").Locked.IsZero())
	assert.True(t, h.eng.Balance("ADA").Locked.IsZero())
	assert.True(t, h.eng.Balance("XRP").Locked.IsZero())
}
