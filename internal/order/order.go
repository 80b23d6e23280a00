package order

import (
	"fmt"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"settlement-core/pkg/money"
)

var lastOrderID atomic.Int64

func init() {
	lastOrderID.Store(1)
}

// Order is the lifecycle-tracked realization of an accepted Request. Parent
// and attachments are referenced by ID; the Book owns the orders themselves.
type Order struct {
	Request

	id           int64
	status       Status
	executed     decimal.Decimal
	averagePrice decimal.Decimal
	feesPaid     decimal.Decimal

	parentID    int64
	attachments []int64

	// set once the parent is finalized
	quantityCap decimal.NullDecimal

	// funds or assets this order still holds in the ledger's locked balance
	held decimal.Decimal

	settled bool
}

// New creates an order from req with a fresh ID. The request's attachments
// are not carried over; the engine turns them into child orders.
func New(req *Request) *Order {
	o := &Order{
		Request: *req,
		id:      lastOrderID.Add(1),
		status:  StatusNew,
	}
	o.Request.attachments = nil
	return o
}

func (o *Order) ID() int64                         { return o.id }
func (o *Order) Status() Status                    { return o.status }
func (o *Order) ExecutedQuantity() decimal.Decimal { return o.executed }
func (o *Order) AveragePrice() decimal.Decimal     { return o.averagePrice }
func (o *Order) FeesPaid() decimal.Decimal         { return o.feesPaid }
func (o *Order) ParentID() int64                   { return o.parentID }
func (o *Order) HasParent() bool                   { return o.parentID != 0 }
func (o *Order) Settled() bool                     { return o.settled }

// Attachments returns the IDs of the attached legs in attach order.
func (o *Order) Attachments() []int64 { return o.attachments }

func (o *Order) IsFinalized() bool {
	return o.status == StatusFilled || o.status == StatusCancelled
}

func (o *Order) IsCancelled() bool { return o.status == StatusCancelled }

func (o *Order) IsActive() bool {
	return o.active && o.status != StatusCancelled
}

// Quantity is the tradeable quantity. A leg whose parent has been finalized
// can only dispose of what the parent actually executed.
func (o *Order) Quantity() decimal.Decimal {
	q := o.quantity
	if o.quantityCap.Valid {
		limit := o.quantityCap.Decimal
		if limit.LessThan(q) || limit.IsZero() {
			return limit
		}
	}
	return q
}

func (o *Order) RemainingQuantity() decimal.Decimal {
	return money.Sub(o.Quantity(), o.executed)
}

// TotalOrderAmount is price times effective quantity.
func (o *Order) TotalOrderAmount() decimal.Decimal {
	return money.Mul(o.price, o.Quantity())
}

// TotalTraded is executed quantity at the average fill price.
func (o *Order) TotalTraded() decimal.Decimal {
	return money.Mul(o.executed, o.averagePrice)
}

// FillPct returns the executed share of the quantity, 0 to 100.
func (o *Order) FillPct() decimal.Decimal {
	q := o.Quantity()
	if money.IsZero(q) {
		return decimal.Zero
	}
	return money.Mul(money.Div(o.executed, q), decimal.NewFromInt(100))
}

// Cancel moves a NEW order to CANCELLED. It reports whether the status
// changed; FILLED and CANCELLED orders are left alone.
func (o *Order) Cancel() bool {
	if o.status != StatusNew {
		return false
	}
	o.status = StatusCancelled
	return true
}

// ApplyFill records qty executed at price, capped at the remaining quantity,
// and returns the delta actually applied. The order becomes FILLED once
// nothing meaningful remains.
func (o *Order) ApplyFill(qty, price decimal.Decimal) Fill {
	if o.IsFinalized() {
		return Fill{}
	}
	remaining := o.RemainingQuantity()
	qty = money.Round(qty)
	if qty.GreaterThan(remaining) {
		qty = remaining
	}
	if !money.IsPositive(qty) {
		return Fill{}
	}
	price = money.Round(price)

	prior := o.executed.Mul(o.averagePrice)
	o.executed = money.Add(o.executed, qty)
	o.averagePrice = money.Round(prior.Add(qty.Mul(price)).DivRound(o.executed, money.Scale+4))

	if money.IsZero(money.Sub(remaining, qty)) {
		o.status = StatusFilled
	}
	return Fill{Quantity: qty, Price: price}
}

// SetFeesPaid fixes the fees charged for this order.
func (o *Order) SetFeesPaid(fee decimal.Decimal) { o.feesPaid = money.Round(fee) }

// SetParent links the order as an attached leg of parentID.
func (o *Order) SetParent(parentID int64) { o.parentID = parentID }

// AddAttachment links a child leg.
func (o *Order) AddAttachment(childID int64) { o.attachments = append(o.attachments, childID) }

// CapQuantity limits the leg to what a finalized parent executed.
func (o *Order) CapQuantity(q decimal.Decimal) { o.quantityCap = decimal.NewNullDecimal(q) }

// Held is what the order still holds locked: assets for long sells, funds
// for everything else. Legs of a bracket all report the shared pool.
func (o *Order) Held() decimal.Decimal { return o.held }

func (o *Order) SetHeld(d decimal.Decimal) { o.held = money.Clamp(money.Round(d)) }

// MarkSettled records that the order's final reconciliation ran.
func (o *Order) MarkSettled() { o.settled = true }

// Clone returns a copy safe to hand out of the engine.
func (o *Order) Clone() *Order {
	c := *o
	c.attachments = append([]int64(nil), o.attachments...)
	return &c
}

func (o *Order) String() string {
	return fmt.Sprintf("#%d %s %s filled %s/%s avg %s", o.id, o.Request.String(), o.status, o.executed, o.Quantity(), o.averagePrice)
}
