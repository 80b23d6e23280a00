package monitor

import (
	"fmt"

	"settlement-core/internal/events"
)

// Rule inspects one bus payload and returns the alert it warrants, if any.
type Rule func(msg any) (string, bool)

// FaultRule alerts on every ledger fault.
func FaultRule(msg any) (string, bool) {
	ev, ok := msg.(events.OrderEvent)
	if !ok || ev.Topic != events.EventLedgerFault {
		return "", false
	}
	if ev.Order != nil {
		return fmt.Sprintf("account %s: ledger fault on order %d: %v", ev.AccountID, ev.Order.ID(), ev.Err), true
	}
	return fmt.Sprintf("account %s: ledger fault: %v", ev.AccountID, ev.Err), true
}

// RejectionRule alerts on rejected requests.
func RejectionRule(msg any) (string, bool) {
	ev, ok := msg.(events.RejectedEvent)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("account %s: rejected %s: %s", ev.AccountID, ev.Request, ev.Reason), true
}
