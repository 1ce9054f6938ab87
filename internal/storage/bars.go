package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Capstone-Design2/Backend/internal/domain"
)

// UpsertBar writes one minute bar. Re-flushing the same minute overwrites
// the row; the recorder owns the aggregation, so last write wins.
func (s *Store) UpsertBar(ctx context.Context, b domain.Bar) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_data (instrument_id, bar_time, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instrument_id, bar_time) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low, close=excluded.close, volume=excluded.volume`,
		b.InstrumentID, b.BarTime.UnixMicro(),
		b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert bar %s@%d: %w", b.InstrumentID, b.BarTime.UnixMicro(), err)
	}
	return nil
}

// GetBar loads one bar by instrument and minute. The second return is false
// when no bar exists for that minute.
func (s *Store) GetBar(ctx context.Context, instrumentID string, barTime time.Time) (domain.Bar, bool, error) {
	var (
		b                      domain.Bar
		open, high, low, close string
		at                     int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT instrument_id, bar_time, open, high, low, close, volume FROM price_data WHERE instrument_id = ? AND bar_time = ?",
		instrumentID, barTime.UnixMicro(),
	).Scan(&b.InstrumentID, &at, &open, &high, &low, &close, &b.Volume)
	if err == sql.ErrNoRows {
		return domain.Bar{}, false, nil
	}
	if err != nil {
		return domain.Bar{}, false, fmt.Errorf("failed to query bar %s@%d: %w", instrumentID, barTime.UnixMicro(), err)
	}

	b.BarTime = time.UnixMicro(at)
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&b.Open, open}, {&b.High, high}, {&b.Low, low}, {&b.Close, close},
	} {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return domain.Bar{}, false, fmt.Errorf("failed to parse bar field of %s: %w", instrumentID, err)
		}
		*f.dst = v
	}
	return b, true, nil
}

// LatestClose returns the close of the most recent bar for one instrument.
// The second return is false when no bar exists yet.
func (s *Store) LatestClose(ctx context.Context, instrumentID string) (decimal.Decimal, bool, error) {
	var close string
	err := s.db.QueryRowContext(ctx,
		"SELECT close FROM price_data WHERE instrument_id = ? ORDER BY bar_time DESC LIMIT 1",
		instrumentID,
	).Scan(&close)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to query latest close of %s: %w", instrumentID, err)
	}

	p, err := decimal.NewFromString(close)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to parse close of %s: %w", instrumentID, err)
	}
	return p, true, nil
}
