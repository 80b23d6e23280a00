// Package journal records order lifecycle events from the bus into the
// sqlite journal. It is an audit trail only; the core never reads it back.
package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"settlement-core/internal/events"
	"settlement-core/internal/persistence"
	"settlement-core/pkg/db"
	"settlement-core/pkg/logger"
)

const subscriberBuffer = 4096

// Journal consumes order events on its own goroutine.
type Journal struct {
	database *db.Database
	writer   *persistence.BatchWriter
	log      *logger.Logger
	runID    string

	ch    <-chan any
	unsub func()
	wg    sync.WaitGroup
}

// New subscribes to every order topic of bus. Call Start to begin consuming.
func New(database *db.Database, bus *events.Bus, runID string, log *logger.Logger) *Journal {
	if log == nil {
		log = logger.NewNop()
	}
	ch, unsub := bus.SubscribeMany(events.OrderTopics, subscriberBuffer)
	return &Journal{
		database: database,
		writer:   persistence.NewBatchWriter(database.DB, 100, 250*time.Millisecond, log),
		log:      log.WithFields(logger.NewField("component", "journal")),
		runID:    runID,
		ch:       ch,
		unsub:    unsub,
	}
}

// Start consumes events until Close.
func (j *Journal) Start(ctx context.Context) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		for msg := range j.ch {
			ev, ok := msg.(events.OrderEvent)
			if !ok {
				continue
			}
			j.Record(ctx, ev)
		}
	}()
}

// Record writes one event. Order state and fills go through the batch
// writer; faults are written immediately.
func (j *Journal) Record(ctx context.Context, ev events.OrderEvent) {
	if ev.Topic == events.EventLedgerFault {
		fault := db.FaultRecord{
			ID:        uuid.NewString(),
			RunID:     j.runID,
			AccountID: ev.AccountID,
			CreatedAt: time.Now().UTC(),
		}
		if ev.Err != nil {
			fault.Error = ev.Err.Error()
		}
		if ev.Order != nil {
			fault.OrderID = ev.Order.ID()
		}
		if err := j.database.CreateFault(ctx, fault); err != nil {
			j.log.ErrorContext(ctx, err)
		}
		return
	}
	if ev.Order == nil {
		return
	}

	query, args := db.UpsertOrderStmt(orderRecord(j.runID, ev))
	j.writer.Write(persistence.WriteOp{Table: "journal_orders", Query: query, Args: args})

	if !ev.Fill.Empty() {
		query, args := db.InsertFillStmt(fillRecord(j.runID, ev))
		j.writer.Write(persistence.WriteOp{Table: "journal_fills", Query: query, Args: args})
	}
}

// Close stops consuming, waits for buffered events and flushes them.
func (j *Journal) Close() error {
	j.unsub()
	j.wg.Wait()
	return j.writer.Close()
}

// Metrics exposes the batch writer statistics.
func (j *Journal) Metrics() persistence.BatchWriterMetrics {
	return j.writer.GetMetrics()
}

func orderRecord(runID string, ev events.OrderEvent) db.OrderRecord {
	o := ev.Order
	return db.OrderRecord{
		AccountID:   ev.AccountID,
		OrderID:     o.ID(),
		RunID:       runID,
		ParentID:    o.ParentID(),
		Symbol:      o.Symbol(),
		Side:        string(o.Side()),
		Direction:   string(o.Direction()),
		Type:        string(o.Type()),
		Price:       o.Price().String(),
		Qty:         o.Quantity().String(),
		ExecutedQty: o.ExecutedQuantity().String(),
		AvgPrice:    o.AveragePrice().String(),
		FeesPaid:    o.FeesPaid().String(),
		Status:      string(o.Status()),
		UpdatedAt:   ev.At,
	}
}

func fillRecord(runID string, ev events.OrderEvent) db.FillRecord {
	o := ev.Order
	return db.FillRecord{
		ID:        uuid.NewString(),
		RunID:     runID,
		AccountID: ev.AccountID,
		OrderID:   o.ID(),
		Symbol:    o.Symbol(),
		Side:      string(o.Side()),
		Direction: string(o.Direction()),
		Qty:       ev.Fill.Quantity.String(),
		Price:     ev.Fill.Price.String(),
		FilledAt:  ev.At,
	}
}
