package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Capstone-Design2/Backend/internal/domain"
)

// GetPosition loads one position. The second return is false when the
// account holds nothing in that instrument.
func (s *Store) GetPosition(ctx context.Context, accountID, instrumentID string) (domain.Position, bool, error) {
	return getPosition(ctx, s.db, accountID, instrumentID)
}

// GetPositionTx is GetPosition inside an open transaction.
func (s *Store) GetPositionTx(ctx context.Context, tx *sql.Tx, accountID, instrumentID string) (domain.Position, bool, error) {
	return getPosition(ctx, tx, accountID, instrumentID)
}

func getPosition(ctx context.Context, q querier, accountID, instrumentID string) (domain.Position, bool, error) {
	var (
		p       domain.Position
		avgCost string
	)
	err := q.QueryRowContext(ctx,
		"SELECT account_id, instrument_id, quantity, avg_cost FROM positions WHERE account_id = ? AND instrument_id = ?",
		accountID, instrumentID,
	).Scan(&p.AccountID, &p.InstrumentID, &p.Quantity, &avgCost)
	if err == sql.ErrNoRows {
		return domain.Position{}, false, nil
	}
	if err != nil {
		return domain.Position{}, false, fmt.Errorf("failed to query position %s/%s: %w", accountID, instrumentID, err)
	}

	if p.AvgCost, err = decimal.NewFromString(avgCost); err != nil {
		return domain.Position{}, false, fmt.Errorf("failed to parse avg cost of %s/%s: %w", accountID, instrumentID, err)
	}
	return p, true, nil
}

// UpsertPositionTx writes one position inside an open transaction, creating
// or overwriting the row. Quantity must be positive; closed positions are
// deleted, never stored at zero.
func (s *Store) UpsertPositionTx(ctx context.Context, tx *sql.Tx, p domain.Position) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO positions (account_id, instrument_id, quantity, avg_cost) VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id, instrument_id) DO UPDATE SET quantity=excluded.quantity, avg_cost=excluded.avg_cost`,
		p.AccountID, p.InstrumentID, p.Quantity, p.AvgCost.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position %s/%s: %w", p.AccountID, p.InstrumentID, err)
	}
	return nil
}

// DeletePositionTx removes a fully closed position inside an open
// transaction.
func (s *Store) DeletePositionTx(ctx context.Context, tx *sql.Tx, accountID, instrumentID string) error {
	_, err := tx.ExecContext(ctx,
		"DELETE FROM positions WHERE account_id = ? AND instrument_id = ?",
		accountID, instrumentID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete position %s/%s: %w", accountID, instrumentID, err)
	}
	return nil
}

// PositionsForAccount returns every open position of one account, ordered by
// instrument for stable output.
func (s *Store) PositionsForAccount(ctx context.Context, accountID string) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT account_id, instrument_id, quantity, avg_cost FROM positions WHERE account_id = ? ORDER BY instrument_id ASC",
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions of %s: %w", accountID, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var (
			p       domain.Position
			avgCost string
		)
		if err := rows.Scan(&p.AccountID, &p.InstrumentID, &p.Quantity, &avgCost); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		if p.AvgCost, err = decimal.NewFromString(avgCost); err != nil {
			return nil, fmt.Errorf("failed to parse avg cost: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return positions, nil
}
