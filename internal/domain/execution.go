package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Execution records the single fill of an order. Immutable.
// An order has at most one execution; the fill price is the tick price
// that triggered it, not the limit price.
type Execution struct {
	ExecutionID string
	OrderID     string
	Price       decimal.Decimal
	Quantity    int64
	ExecutedAt  time.Time
}
