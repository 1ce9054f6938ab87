package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Capstone-Design2/Backend/internal/domain"
)

// ErrNotPending is returned when a guarded status transition matched no row,
// i.e. the order was already filled or cancelled by the time the statement
// ran. Callers treat it as "lost the race", not as a failure.
var ErrNotPending = errors.New("order is not pending")

const orderColumns = "order_id, account_id, instrument_id, side, type, limit_price, quantity, status, created_at, filled_at"

// InsertOrder persists a freshly validated order.
func (s *Store) InsertOrder(ctx context.Context, o domain.Order) error {
	var limitPrice any
	if o.Type == domain.TypeLimit {
		limitPrice = o.LimitPrice.String()
	}
	var filledAt any
	if !o.FilledAt.IsZero() {
		filledAt = o.FilledAt.UnixMicro()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO orders ("+orderColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		o.OrderID, o.AccountID, o.InstrumentID, o.Side, o.Type, limitPrice, o.Quantity, o.Status, o.CreatedAt.UnixMicro(), filledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// GetOrder loads one order. Returns domain.ErrOrderNotFound when no row
// matches.
func (s *Store) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE order_id = ?", orderID)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("failed to query order %s: %w", orderID, err)
	}
	return o, nil
}

// PendingOrders returns the open orders for one instrument, oldest first.
// Ties on created_at break by order_id so the scan order is deterministic.
func (s *Store) PendingOrders(ctx context.Context, instrumentID string) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE instrument_id = ? AND status = ? ORDER BY created_at ASC, order_id ASC",
		instrumentID, domain.StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending orders: %w", err)
	}
	return collectOrders(rows)
}

// AllPendingOrders returns every open order across all instruments. Used to
// rebuild the in-memory book on startup.
func (s *Store) AllPendingOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE status = ? ORDER BY created_at ASC, order_id ASC",
		domain.StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending orders: %w", err)
	}
	return collectOrders(rows)
}

// OrdersForAccount returns the most recent orders of one account, newest
// first, capped at limit.
func (s *Store) OrdersForAccount(ctx context.Context, accountID string, limit int) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE account_id = ? ORDER BY created_at DESC, order_id DESC LIMIT ?",
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders of %s: %w", accountID, err)
	}
	return collectOrders(rows)
}

// PendingSellQuantity sums the quantity of open SELL orders one account has
// on one instrument. Intake uses it to block overcommitting a position.
func (s *Store) PendingSellQuantity(ctx context.Context, accountID, instrumentID string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(quantity), 0) FROM orders WHERE account_id = ? AND instrument_id = ? AND side = ? AND status = ?",
		accountID, instrumentID, domain.SideSell, domain.StatusPending,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum pending sells: %w", err)
	}
	return total, nil
}

// CancelOrder flips a PENDING order to CANCELED. The guarded WHERE makes the
// transition race-safe against a concurrent fill: exactly one of the two
// writers sees the row. Returns false when the order was no longer pending.
func (s *Store) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = ? WHERE order_id = ? AND status = ?",
		domain.StatusCanceled, orderID, domain.StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// FillOrder commits one fill atomically: the guarded PENDING -> FILLED flip,
// the execution row, and whatever account/position writes apply performs.
// Either every write lands or none do. If the order lost a cancel race the
// transaction aborts with ErrNotPending before touching anything else.
func (s *Store) FillOrder(ctx context.Context, exec domain.Execution, apply func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin fill tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = ?, filled_at = ? WHERE order_id = ? AND status = ?",
		domain.StatusFilled, exec.ExecutedAt.UnixMicro(), exec.OrderID, domain.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark order %s filled: %w", exec.OrderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotPending
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO executions (execution_id, order_id, price, quantity, executed_at) VALUES (?, ?, ?, ?, ?)",
		exec.ExecutionID, exec.OrderID, exec.Price.String(), exec.Quantity, exec.ExecutedAt.UnixMicro(),
	); err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	if err := apply(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fill tx: %w", err)
	}
	return nil
}

// ExecutionForOrder loads the execution of one order, if any.
func (s *Store) ExecutionForOrder(ctx context.Context, orderID string) (domain.Execution, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT execution_id, order_id, price, quantity, executed_at FROM executions WHERE order_id = ?",
		orderID,
	)
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return domain.Execution{}, false, nil
	}
	if err != nil {
		return domain.Execution{}, false, fmt.Errorf("failed to query execution of %s: %w", orderID, err)
	}
	return e, true, nil
}

// ExecutionsForInstrument returns the executions on one instrument in commit
// order.
func (s *Store) ExecutionsForInstrument(ctx context.Context, instrumentID string) ([]domain.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.execution_id, e.order_id, e.price, e.quantity, e.executed_at
		FROM executions e
		JOIN orders o ON o.order_id = e.order_id
		WHERE o.instrument_id = ?
		ORDER BY e.rowid ASC`,
		instrumentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var execs []domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		execs = append(execs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return execs, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o          domain.Order
		limitPrice sql.NullString
		createdAt  int64
		filledAt   sql.NullInt64
	)
	err := row.Scan(&o.OrderID, &o.AccountID, &o.InstrumentID, &o.Side, &o.Type,
		&limitPrice, &o.Quantity, &o.Status, &createdAt, &filledAt)
	if err != nil {
		return domain.Order{}, err
	}

	if limitPrice.Valid {
		p, err := decimal.NewFromString(limitPrice.String)
		if err != nil {
			return domain.Order{}, fmt.Errorf("failed to parse limit price of order %s: %w", o.OrderID, err)
		}
		o.LimitPrice = p
	}
	o.CreatedAt = time.UnixMicro(createdAt)
	if filledAt.Valid {
		o.FilledAt = time.UnixMicro(filledAt.Int64)
	}
	return o, nil
}

func scanExecution(row rowScanner) (domain.Execution, error) {
	var (
		e          domain.Execution
		price      string
		executedAt int64
	)
	if err := row.Scan(&e.ExecutionID, &e.OrderID, &price, &e.Quantity, &executedAt); err != nil {
		return domain.Execution{}, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("failed to parse price of execution %s: %w", e.ExecutionID, err)
	}
	e.Price = p
	e.ExecutedAt = time.UnixMicro(executedAt)
	return e, nil
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return orders, nil
}
