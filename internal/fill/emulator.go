// Package fill emulates order execution against candles.
package fill

import (
	"math/rand"

	"github.com/shopspring/decimal"

	"settlement-core/internal/market"
	"settlement-core/internal/order"
	"settlement-core/pkg/money"
)

// Emulator advances an active order against one candle. It records the
// execution on the order through ApplyFill and returns exactly the delta
// filled during this call.
type Emulator interface {
	Fill(o *order.Order, c market.Candle) order.Fill
}

// SimConfig shapes simulated fills.
type SimConfig struct {
	// SlippageBps worsens market fill prices by this many basis points:
	// buys pay more, sells receive less. Limit prices are always honored.
	SlippageBps float64
	// Rng, when set, draws the slippage uniformly from [0, SlippageBps].
	Rng *rand.Rand
	// MarketAtClose fills market orders at the candle close instead of the
	// price they were admitted at. The engine caps such fills to what the
	// account can pay for.
	MarketAtClose bool
}

var tenThousand = decimal.NewFromInt(10000)

// Immediate fills the whole remaining quantity as soon as the candle reaches
// the order price. Market orders fill at their own price, or at the close
// when MarketAtClose is set; limit orders fill at their price or better when
// the candle opens through it.
type Immediate struct {
	Config SimConfig
}

func (e Immediate) Fill(o *order.Order, c market.Candle) order.Fill {
	price, ok := e.Config.fillPrice(o, c)
	if !ok {
		return order.Fill{}
	}
	return o.ApplyFill(o.RemainingQuantity(), e.Config.slip(o, price))
}

// Partial caps each fill at MaxVolumePct percent of the candle volume, so
// large orders execute over several candles.
type Partial struct {
	MaxVolumePct float64
	Config       SimConfig
}

func (e Partial) Fill(o *order.Order, c market.Candle) order.Fill {
	price, ok := e.Config.fillPrice(o, c)
	if !ok {
		return order.Fill{}
	}
	pct := e.MaxVolumePct
	if pct <= 0 || pct > 100 {
		pct = 100
	}
	available := money.Percent(c.Volume, money.FromFloat(pct))
	qty := decimal.Min(available, o.RemainingQuantity())
	if !money.IsPositive(qty) {
		return order.Fill{}
	}
	return o.ApplyFill(qty, e.Config.slip(o, price))
}

// fillPrice reports whether c reaches o and at what price. A market order
// without a price of its own takes the close.
func (s SimConfig) fillPrice(o *order.Order, c market.Candle) (decimal.Decimal, bool) {
	if !o.IsActive() || o.IsFinalized() {
		return decimal.Zero, false
	}
	if o.Type() == order.Market {
		if !s.MarketAtClose && money.IsPositive(o.Price()) {
			return o.Price(), true
		}
		return c.Close, money.IsPositive(c.Close)
	}
	limit := o.Price()
	if o.IsBuy() {
		if c.Low.GreaterThan(limit) {
			return decimal.Zero, false
		}
		return decimal.Min(limit, c.Open), true
	}
	if c.High.LessThan(limit) {
		return decimal.Zero, false
	}
	return decimal.Max(limit, c.Open), true
}

func (s SimConfig) slip(o *order.Order, price decimal.Decimal) decimal.Decimal {
	if s.SlippageBps <= 0 || o.Type() != order.Market {
		return price
	}
	bps := s.SlippageBps
	if s.Rng != nil {
		bps = s.Rng.Float64() * s.SlippageBps
	}
	frac := decimal.NewFromFloat(bps).Div(tenThousand)
	if o.IsBuy() {
		return money.Round(price.Mul(decimal.NewFromInt(1).Add(frac)))
	}
	return money.Round(price.Mul(decimal.NewFromInt(1).Sub(frac)))
}
