package events

import (
	"time"

	"settlement-core/internal/order"
)

// Event enumerates the topics published by the execution core.
type Event string

const (
	EventPriceTick            Event = "price_tick"
	EventOrderAccepted        Event = "order.accepted"
	EventOrderRejected        Event = "order.rejected"
	EventOrderActivated       Event = "order.activated"
	EventOrderPartiallyFilled Event = "order.partially_filled"
	EventOrderFilled          Event = "order.filled"
	EventOrderCancelled       Event = "order.cancelled"
	EventLedgerFault          Event = "ledger.fault"
)

// OrderTopics are the topics carrying an OrderEvent.
var OrderTopics = []Event{
	EventOrderAccepted,
	EventOrderActivated,
	EventOrderPartiallyFilled,
	EventOrderFilled,
	EventOrderCancelled,
	EventLedgerFault,
}

// OrderEvent is the payload of every order topic. Order is a snapshot taken
// when the event was published; Fill is the delta reconciled, if any.
type OrderEvent struct {
	Topic     Event
	AccountID string
	Order     *order.Order
	Fill      order.Fill
	Err       error
	At        time.Time
}

// RejectedEvent is published when a request could not be admitted.
type RejectedEvent struct {
	AccountID string
	Request   string
	Reason    string
	At        time.Time
}
