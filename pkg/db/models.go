package db

import (
	"context"
	"fmt"
	"time"
)

// OrderRecord is the latest known state of one order of one account.
// Amounts are decimal strings.
type OrderRecord struct {
	AccountID   string
	OrderID     int64
	RunID       string
	ParentID    int64
	Symbol      string
	Side        string
	Direction   string
	Type        string
	Price       string
	Qty         string
	ExecutedQty string
	AvgPrice    string
	FeesPaid    string
	Status      string
	UpdatedAt   time.Time
}

// FillRecord is one reconciled fill delta.
type FillRecord struct {
	ID        string
	RunID     string
	AccountID string
	OrderID   int64
	Symbol    string
	Side      string
	Direction string
	Qty       string
	Price     string
	FilledAt  time.Time
}

// FaultRecord is a ledger fault that halted a symbol.
type FaultRecord struct {
	ID        string
	RunID     string
	AccountID string
	OrderID   int64
	Error     string
	CreatedAt time.Time
}

// Run identifies one simulation run.
type Run struct {
	ID        string
	Scenario  string
	StartedAt time.Time
}

const upsertOrderSQL = `
	INSERT INTO journal_orders (
		account_id, order_id, run_id, parent_id, symbol, side, direction, type,
		price, qty, executed_qty, avg_price, fees_paid, status, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(account_id, order_id) DO UPDATE SET
		qty = excluded.qty,
		executed_qty = excluded.executed_qty,
		avg_price = excluded.avg_price,
		fees_paid = excluded.fees_paid,
		status = excluded.status,
		updated_at = excluded.updated_at
`

const insertFillSQL = `
	INSERT INTO journal_fills (id, run_id, account_id, order_id, symbol, side, direction, qty, price, filled_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// UpsertOrderStmt returns the statement recording o, for batched writers.
func UpsertOrderStmt(o OrderRecord) (string, []any) {
	return upsertOrderSQL, []any{
		o.AccountID, o.OrderID, o.RunID, o.ParentID, o.Symbol, o.Side, o.Direction, o.Type,
		o.Price, o.Qty, o.ExecutedQty, o.AvgPrice, o.FeesPaid, o.Status, o.UpdatedAt,
	}
}

// InsertFillStmt returns the statement recording f, for batched writers.
func InsertFillStmt(f FillRecord) (string, []any) {
	return insertFillSQL, []any{
		f.ID, f.RunID, f.AccountID, f.OrderID, f.Symbol, f.Side, f.Direction, f.Qty, f.Price, f.FilledAt,
	}
}

// CreateRun records the start of a simulation run.
func (d *Database) CreateRun(ctx context.Context, r Run) error {
	_, err := d.DB.ExecContext(ctx, `INSERT INTO runs (id, scenario, started_at) VALUES (?, ?, ?)`,
		r.ID, r.Scenario, r.StartedAt)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpsertOrder inserts or updates an order row.
func (d *Database) UpsertOrder(ctx context.Context, o OrderRecord) error {
	query, args := UpsertOrderStmt(o)
	if _, err := d.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert order %s/%d: %w", o.AccountID, o.OrderID, err)
	}
	return nil
}

// CreateFill inserts a fill row.
func (d *Database) CreateFill(ctx context.Context, f FillRecord) error {
	query, args := InsertFillStmt(f)
	if _, err := d.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("create fill: %w", err)
	}
	return nil
}

// CreateFault records a ledger fault. Faults bypass batching so they are on
// disk before the run stops.
func (d *Database) CreateFault(ctx context.Context, f FaultRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO ledger_faults (id, run_id, account_id, order_id, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.ID, f.RunID, f.AccountID, f.OrderID, f.Error, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("create fault: %w", err)
	}
	return nil
}
