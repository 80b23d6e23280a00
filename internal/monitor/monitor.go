// Package monitor watches a simulation run: it turns bus events into alerts
// and keeps latency and throughput metrics of the replay.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"settlement-core/internal/events"
	"settlement-core/pkg/logger"
)

const alertBuffer = 256

// Monitor watches events and emits alerts.
type Monitor struct {
	sink  AlertSink
	rules []Rule
	log   *logger.Logger

	ch     <-chan any
	unsub  func()
	wg     sync.WaitGroup
	alerts atomic.Uint64
}

// New subscribes to the fault and rejection topics of bus. Without rules
// every fault and rejection is alerted.
func New(bus *events.Bus, sink AlertSink, log *logger.Logger, rules ...Rule) *Monitor {
	if log == nil {
		log = logger.NewNop()
	}
	if len(rules) == 0 {
		rules = []Rule{FaultRule, RejectionRule}
	}
	ch, unsub := bus.SubscribeMany([]events.Event{events.EventLedgerFault, events.EventOrderRejected}, alertBuffer)
	return &Monitor{
		sink:  sink,
		rules: rules,
		log:   log.WithFields(logger.NewField("component", "monitor")),
		ch:    ch,
		unsub: unsub,
	}
}

// Start delivers alerts until ctx is done or Close is called.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-m.ch:
				if !ok {
					return
				}
				m.handle(ctx, msg)
			}
		}
	}()
}

func (m *Monitor) handle(ctx context.Context, msg any) {
	for _, rule := range m.rules {
		text, ok := rule(msg)
		if !ok {
			continue
		}
		m.alerts.Add(1)
		if err := m.sink.Send(formatAlert(text)); err != nil {
			m.log.ErrorContext(ctx, err)
		}
	}
}

// Close unsubscribes and waits for pending alerts to be delivered.
func (m *Monitor) Close() {
	m.unsub()
	m.wg.Wait()
}

// Alerts is the number of alerts raised so far.
func (m *Monitor) Alerts() uint64 {
	return m.alerts.Load()
}

func formatAlert(text string) string {
	return "[" + time.Now().UTC().Format(time.RFC3339) + "] " + text
}
