package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is a one-minute OHLCV aggregate of the tick stream.
type Bar struct {
	InstrumentID string
	BarTime      time.Time // minute boundary, KST
	Open         decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	Close        decimal.Decimal
	Volume       int64
}
