// Package db provides the sqlite journal and account-scoped queries over it.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrAccountIDRequired = errors.New("account_id is required")
	ErrNotFound          = errors.New("record not found")
)

// AccountQueries reads journal rows of one account at a time.
type AccountQueries struct {
	db *sql.DB
}

// NewAccountQueries creates a new AccountQueries instance.
func NewAccountQueries(db *sql.DB) *AccountQueries {
	return &AccountQueries{db: db}
}

// ----------------------------------------
// Order Queries
// ----------------------------------------

// GetOrdersByAccount returns the orders of an account by ascending order ID.
func (q *AccountQueries) GetOrdersByAccount(ctx context.Context, accountID string, limit int) ([]OrderRecord, error) {
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT account_id, order_id, run_id, parent_id, symbol, side, direction, type,
		       price, qty, executed_qty, avg_price, fees_paid, status, updated_at
		FROM journal_orders
		WHERE account_id = ?
		ORDER BY order_id ASC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []OrderRecord
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetOrder returns one order of an account.
func (q *AccountQueries) GetOrder(ctx context.Context, accountID string, orderID int64) (*OrderRecord, error) {
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}

	row := q.db.QueryRowContext(ctx, `
		SELECT account_id, order_id, run_id, parent_id, symbol, side, direction, type,
		       price, qty, executed_qty, avg_price, fees_paid, status, updated_at
		FROM journal_orders
		WHERE account_id = ? AND order_id = ?
	`, accountID, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ----------------------------------------
// Fill Queries
// ----------------------------------------

// GetFillsByAccount returns the fills of an account in the order they happened.
func (q *AccountQueries) GetFillsByAccount(ctx context.Context, accountID string, limit int) ([]FillRecord, error) {
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, run_id, account_id, order_id, symbol, side, direction, qty, price, filled_at
		FROM journal_fills
		WHERE account_id = ?
		ORDER BY filled_at ASC, rowid ASC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var fills []FillRecord
	for rows.Next() {
		var f FillRecord
		if err := rows.Scan(&f.ID, &f.RunID, &f.AccountID, &f.OrderID, &f.Symbol, &f.Side, &f.Direction, &f.Qty, &f.Price, &f.FilledAt); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// ----------------------------------------
// Fault Queries
// ----------------------------------------

// GetFaultsByAccount returns the ledger faults recorded for an account.
func (q *AccountQueries) GetFaultsByAccount(ctx context.Context, accountID string) ([]FaultRecord, error) {
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, run_id, account_id, order_id, error, created_at
		FROM ledger_faults
		WHERE account_id = ?
		ORDER BY created_at ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query faults: %w", err)
	}
	defer rows.Close()

	var faults []FaultRecord
	for rows.Next() {
		var f FaultRecord
		if err := rows.Scan(&f.ID, &f.RunID, &f.AccountID, &f.OrderID, &f.Error, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fault: %w", err)
		}
		faults = append(faults, f)
	}
	return faults, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (OrderRecord, error) {
	var o OrderRecord
	err := s.Scan(
		&o.AccountID, &o.OrderID, &o.RunID, &o.ParentID, &o.Symbol, &o.Side, &o.Direction, &o.Type,
		&o.Price, &o.Qty, &o.ExecutedQty, &o.AvgPrice, &o.FeesPaid, &o.Status, &o.UpdatedAt,
	)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return o, fmt.Errorf("scan order: %w", err)
	}
	return o, err
}
