package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SchemaVersion is recorded in the metadata table on every open so a future
// migration can tell which layout it is looking at.
const SchemaVersion = "1"

// Store handles persistent storage of accounts, orders, executions,
// positions and price bars in SQLite.
type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx so the read helpers can
// run inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewStore opens (or creates) the SQLite database at dbPath with WAL mode
// enabled and runs the idempotent schema migration.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Configure SQLite for concurrent reader/writer access
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	if err := migrate(db); err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.UpsertMetadata(context.Background(), "schema_version", SchemaVersion, time.Now().UnixMicro()); err != nil {
		return nil, fmt.Errorf("failed to record schema version: %w", err)
	}
	return s, nil
}

// migrate creates all tables and indexes. Every statement is IF NOT EXISTS
// so running it against an existing database is a no-op.
func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		// Monetary columns are canonical decimal strings, never floats.
		// Timestamps are unix microseconds.
		`CREATE TABLE IF NOT EXISTS accounts (
			account_id      TEXT PRIMARY KEY,
			cash_balance    TEXT NOT NULL,
			initial_balance TEXT NOT NULL,
			is_active       INTEGER NOT NULL DEFAULT 1,
			created_at      INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS orders (
			order_id      TEXT PRIMARY KEY,
			account_id    TEXT NOT NULL REFERENCES accounts(account_id),
			instrument_id TEXT NOT NULL,
			side          TEXT NOT NULL,
			type          TEXT NOT NULL,
			limit_price   TEXT,
			quantity      INTEGER NOT NULL CHECK (quantity > 0),
			status        TEXT NOT NULL,
			created_at    INTEGER NOT NULL,
			filled_at     INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_pending ON orders(instrument_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id, created_at);`,
		// UNIQUE(order_id) enforces at most one fill per order at the
		// storage layer, independent of engine bookkeeping.
		`CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT PRIMARY KEY,
			order_id     TEXT NOT NULL UNIQUE REFERENCES orders(order_id),
			price        TEXT NOT NULL,
			quantity     INTEGER NOT NULL,
			executed_at  INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS positions (
			account_id    TEXT NOT NULL REFERENCES accounts(account_id),
			instrument_id TEXT NOT NULL,
			quantity      INTEGER NOT NULL CHECK (quantity > 0),
			avg_cost      TEXT NOT NULL,
			PRIMARY KEY (account_id, instrument_id)
		);`,
		`CREATE TABLE IF NOT EXISTS price_data (
			instrument_id TEXT NOT NULL,
			bar_time      INTEGER NOT NULL,
			open          TEXT NOT NULL,
			high          TEXT NOT NULL,
			low           TEXT NOT NULL,
			close         TEXT NOT NULL,
			volume        INTEGER NOT NULL,
			PRIMARY KEY (instrument_id, bar_time)
		);`,
	}

	for i, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", i, err)
		}
	}
	return nil
}

// Begin starts a write transaction.
func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// UpsertMetadata saves a key-value pair to the metadata table.
func (s *Store) UpsertMetadata(ctx context.Context, key, value string, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		key, value, ts,
	)
	return err
}

// GetMetadata retrieves a value from the metadata table.
// Returns "" when the key does not exist.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
