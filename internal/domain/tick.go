package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one normalized trade for an instrument. Immutable once constructed.
type Tick struct {
	InstrumentID string
	LastPrice    decimal.Decimal
	Volume       int64 // shares in this trade
	Change       decimal.Decimal
	EventTime    time.Time
	Sequence     uint64 // per-instrument, assigned by the normalizer
}
