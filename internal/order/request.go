package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"settlement-core/pkg/money"
)

var (
	ErrBlankSymbol      = errors.New("asset and funds symbols are required")
	ErrInvalidSide      = errors.New("side must be BUY or SELL")
	ErrInvalidDirection = errors.New("trade direction must be LONG or SHORT")
)

// SafetyFactor trims computed quantities so floating remainders never exceed
// what is available.
var SafetyFactor = decimal.RequireFromString("0.9999")

// Request describes a trade a caller wants executed. Only cancellation and the
// engine's quantity/price adjustments change it once built.
type Request struct {
	assetsSymbol string
	fundsSymbol  string
	side         Side
	direction    Direction
	kind         Type
	time         time.Time

	price    decimal.Decimal
	quantity decimal.Decimal

	triggerCondition TriggerCondition
	triggerPrice     decimal.NullDecimal
	active           bool
	cancelled        bool

	parentOrderID int64
	attachments   []*Request
}

// NewRequest validates the identifying fields of a request. The kind defaults
// to LIMIT.
func NewRequest(assets, funds string, side Side, dir Direction, at time.Time) (*Request, error) {
	if strings.TrimSpace(assets) == "" || strings.TrimSpace(funds) == "" {
		return nil, ErrBlankSymbol
	}
	if !side.Valid() {
		return nil, errors.Wrapf(ErrInvalidSide, "got %q", side)
	}
	if !dir.Valid() {
		return nil, errors.Wrapf(ErrInvalidDirection, "got %q", dir)
	}
	return &Request{
		assetsSymbol:     assets,
		fundsSymbol:      funds,
		side:             side,
		direction:        dir,
		kind:             Limit,
		time:             at,
		triggerCondition: TriggerNone,
		active:           true,
	}, nil
}

func (r *Request) AssetsSymbol() string   { return r.assetsSymbol }
func (r *Request) FundsSymbol() string    { return r.fundsSymbol }
func (r *Request) Symbol() string         { return r.assetsSymbol + r.fundsSymbol }
func (r *Request) Side() Side             { return r.side }
func (r *Request) Direction() Direction   { return r.direction }
func (r *Request) Type() Type             { return r.kind }
func (r *Request) Time() time.Time        { return r.time }
func (r *Request) Price() decimal.Decimal { return r.price }
func (r *Request) Quantity() decimal.Decimal {
	return r.quantity
}
func (r *Request) TriggerCondition() TriggerCondition { return r.triggerCondition }
func (r *Request) TriggerPrice() decimal.NullDecimal  { return r.triggerPrice }
func (r *Request) ParentOrderID() int64               { return r.parentOrderID }

func (r *Request) IsBuy() bool   { return r.side == Buy }
func (r *Request) IsSell() bool  { return r.side == Sell }
func (r *Request) IsLong() bool  { return r.direction == Long }
func (r *Request) IsShort() bool { return r.direction == Short }

func (r *Request) IsLongBuy() bool   { return r.IsLong() && r.IsBuy() }
func (r *Request) IsLongSell() bool  { return r.IsLong() && r.IsSell() }
func (r *Request) IsShortSell() bool { return r.IsShort() && r.IsSell() }
func (r *Request) IsShortCover() bool {
	return r.IsShort() && r.IsBuy()
}

// IsActive reports whether the request is eligible to fill: not waiting on a
// trigger and not cancelled.
func (r *Request) IsActive() bool { return r.active && !r.cancelled }

func (r *Request) IsCancelled() bool { return r.cancelled }

// SetPrice sets the limit price.
func (r *Request) SetPrice(p decimal.Decimal) { r.price = money.Round(p) }

// SetQuantity sets the requested quantity.
func (r *Request) SetQuantity(q decimal.Decimal) { r.quantity = money.Round(q) }

// SetType sets the order kind.
func (r *Request) SetType(t Type) { r.kind = t }

// SetTime stamps the request.
func (r *Request) SetTime(t time.Time) { r.time = t }

// ForParent binds the request to an already filled bracket parent so the
// engine reuses the parent's locked pool instead of locking again.
func (r *Request) ForParent(orderID int64) { r.parentOrderID = orderID }

// Cancel marks the request cancelled.
func (r *Request) Cancel() { r.cancelled = true }

// Activate clears the pending-trigger state.
func (r *Request) Activate() { r.active = true }

// SetTriggerCondition holds the request back until price reaches
// triggerPrice. A request without a price takes the trigger price as its
// limit price.
func (r *Request) SetTriggerCondition(cond TriggerCondition, triggerPrice decimal.NullDecimal) {
	r.triggerCondition = cond
	if triggerPrice.Valid {
		triggerPrice.Decimal = money.Round(triggerPrice.Decimal)
	}
	r.triggerPrice = triggerPrice
	r.active = !(cond != TriggerNone && triggerPrice.Valid)
	if triggerPrice.Valid && money.IsZero(r.price) {
		r.price = triggerPrice.Decimal
	}
}

// Attach adds an exit leg priced changePct percent away from this request's
// price. Negative changes produce a stop-loss leg, others a stop-gain leg.
// The leg takes the opposite side, the same direction and the same quantity.
func (r *Request) Attach(kind Type, changePct decimal.Decimal) *Request {
	legPrice := money.Round(r.price.Mul(decimal.NewFromInt(1).Add(changePct.Div(decimal.NewFromInt(100)))))

	leg := &Request{
		assetsSymbol:     r.assetsSymbol,
		fundsSymbol:      r.fundsSymbol,
		side:             r.side.Opposite(),
		direction:        r.direction,
		kind:             kind,
		time:             r.time,
		price:            legPrice,
		quantity:         r.quantity,
		triggerCondition: TriggerNone,
		active:           true,
	}
	cond := TriggerStopGain
	if changePct.IsNegative() {
		cond = TriggerStopLoss
	}
	leg.SetTriggerCondition(cond, decimal.NewNullDecimal(legPrice))

	r.attachments = append(r.attachments, leg)
	return leg
}

// Attachments returns the attached legs in attach order.
func (r *Request) Attachments() []*Request { return r.attachments }

// TotalOrderAmount is price times quantity.
func (r *Request) TotalOrderAmount() decimal.Decimal {
	return money.Mul(r.price, r.quantity)
}

func (r *Request) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s %s %s @ %s", r.direction, r.side, r.quantity, r.Symbol(), r.kind, r.price)
	if r.triggerCondition != TriggerNone && r.triggerPrice.Valid {
		fmt.Fprintf(&b, " [%s %s]", r.triggerCondition, r.triggerPrice.Decimal)
	}
	return b.String()
}
