package domain

import (
	"github.com/Capstone-Design2/Backend/pkg/safe"

	"github.com/shopspring/decimal"
)

// Position represents an open holding for one account and instrument.
// Quantity is always positive: a holding that reaches zero shares is
// deleted, never stored as zero. AvgCost is the weighted average buy price.
type Position struct {
	AccountID    string
	InstrumentID string
	Quantity     int64
	AvgCost      decimal.Decimal
}

// MarketValue returns the position value at the given price.
func (p *Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return safe.Notional(price, p.Quantity)
}

// UnrealizedPnL returns the gain versus average cost at the given price.
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return price.Sub(p.AvgCost).Mul(decimal.NewFromInt(p.Quantity))
}
