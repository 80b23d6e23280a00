package db

import (
	"database/sql"
	"fmt"
)

// Amounts are stored as TEXT so decimals round-trip exactly.
const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    scenario TEXT,
    started_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS journal_orders (
    account_id TEXT NOT NULL,
    order_id INTEGER NOT NULL,
    run_id TEXT NOT NULL DEFAULT '',
    parent_id INTEGER DEFAULT 0,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    direction TEXT NOT NULL,
    type TEXT NOT NULL,
    price TEXT NOT NULL,
    qty TEXT NOT NULL,
    executed_qty TEXT NOT NULL DEFAULT '0',
    avg_price TEXT NOT NULL DEFAULT '0',
    fees_paid TEXT NOT NULL DEFAULT '0',
    status TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (account_id, order_id)
);

CREATE TABLE IF NOT EXISTS journal_fills (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL DEFAULT '',
    account_id TEXT NOT NULL,
    order_id INTEGER NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    direction TEXT NOT NULL,
    qty TEXT NOT NULL,
    price TEXT NOT NULL,
    filled_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_fills_account ON journal_fills(account_id, order_id);

CREATE TABLE IF NOT EXISTS ledger_faults (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL DEFAULT '',
    account_id TEXT NOT NULL,
    order_id INTEGER DEFAULT 0,
    error TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older journal files.
	if err := ensureColumn(d.DB, "journal_orders", "run_id", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "journal_fills", "run_id", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
