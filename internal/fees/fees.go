// Package fees holds the trading-fee policies used to reserve and charge
// fees on orders.
package fees

import (
	"github.com/shopspring/decimal"

	"settlement-core/internal/order"
	"settlement-core/pkg/money"
)

// TradingFees computes fees. Implementations are pure functions of their
// arguments.
type TradingFees interface {
	// FeesOnAmount is the fee on a notional amount traded with the given kind
	// and side.
	FeesOnAmount(amount decimal.Decimal, kind order.Type, side order.Side) decimal.Decimal
	// FeesOnOrder is the fee on a request's full notional.
	FeesOnOrder(req *order.Request) decimal.Decimal
	// FeesOnTotalOrderAmount is the fee on an order's effective notional;
	// the most the order can be charged.
	FeesOnTotalOrderAmount(o *order.Order) decimal.Decimal
	// FeesOnTradedAmount is the fee on what the order actually traded.
	FeesOnTradedAmount(o *order.Order) decimal.Decimal
	// TakeFee returns amount less the fee it would pay.
	TakeFee(amount decimal.Decimal, kind order.Type, side order.Side) decimal.Decimal
}

// Percentage charges a flat percentage of notional. Maker and Taker apply to
// LIMIT and MARKET orders; both default to the same rate.
type Percentage struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// NewPercentage charges pct percent on every order kind.
func NewPercentage(pct float64) Percentage {
	p := money.FromFloat(pct)
	return Percentage{Maker: p, Taker: p}
}

func (p Percentage) rate(kind order.Type) decimal.Decimal {
	if kind == order.Market {
		return p.Taker
	}
	return p.Maker
}

func (p Percentage) FeesOnAmount(amount decimal.Decimal, kind order.Type, _ order.Side) decimal.Decimal {
	if !money.IsPositive(amount) {
		return decimal.Zero
	}
	return money.Percent(amount, p.rate(kind))
}

func (p Percentage) FeesOnOrder(req *order.Request) decimal.Decimal {
	return p.FeesOnAmount(req.TotalOrderAmount(), req.Type(), req.Side())
}

func (p Percentage) FeesOnTotalOrderAmount(o *order.Order) decimal.Decimal {
	return p.FeesOnAmount(o.TotalOrderAmount(), o.Type(), o.Side())
}

func (p Percentage) FeesOnTradedAmount(o *order.Order) decimal.Decimal {
	return p.FeesOnAmount(o.TotalTraded(), o.Type(), o.Side())
}

func (p Percentage) TakeFee(amount decimal.Decimal, kind order.Type, side order.Side) decimal.Decimal {
	return money.Sub(amount, p.FeesOnAmount(amount, kind, side))
}

// Zero charges nothing.
var Zero = Percentage{}
