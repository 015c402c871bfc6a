package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const schemaVersion = 1

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Money columns are TEXT holding decimal strings; times are RFC 3339 TEXT.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		barcode TEXT NOT NULL DEFAULT '',
		unit_sale_price TEXT NOT NULL,
		unit_cost TEXT NOT NULL,
		stock_units INTEGER NOT NULL CHECK (stock_units >= 0),
		sale_type TEXT NOT NULL,
		bulk_unit_size_grams INTEGER NOT NULL DEFAULT 1,
		pending_bulk_grams INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS sales (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		seller_name TEXT NOT NULL DEFAULT '',
		items TEXT NOT NULL,
		total TEXT NOT NULL,
		total_cost TEXT NOT NULL,
		real_profit TEXT NOT NULL,
		payment_type TEXT NOT NULL,
		cash_amount TEXT NOT NULL,
		virtual_amount TEXT NOT NULL,
		closed INTEGER NOT NULL DEFAULT 0,
		closure_id TEXT NOT NULL DEFAULT '',
		settlement_origin TEXT NOT NULL,
		audit_required INTEGER NOT NULL DEFAULT 0,
		audit_reason TEXT NOT NULL DEFAULT '',
		synced INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sales_unsynced ON sales(tenant_id, synced, seq);`,
	`CREATE INDEX IF NOT EXISTS idx_sales_open ON sales(tenant_id, closed);`,
	`CREATE TABLE IF NOT EXISTS closures (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		provisional INTEGER NOT NULL DEFAULT 0,
		synced INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS shifts (
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		emergency INTEGER NOT NULL DEFAULT 0,
		emergency_synced INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, employee_id)
	);`,
	`CREATE TABLE IF NOT EXISTS credentials (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);`,
}

func applyPragmas(ctx context.Context, db *sqlx.DB) error {
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
