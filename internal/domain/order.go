package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

// OrderType selects the fill predicate.
type OrderType string

// OrderStatus is the order lifecycle state. PENDING is the only
// non-terminal state; FILLED and CANCELED orders never change again.
type OrderStatus string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"

	TypeMarket OrderType = "MARKET"
	TypeLimit  OrderType = "LIMIT"

	StatusPending  OrderStatus = "PENDING"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
)

// Order represents a paper-trading order.
// LimitPrice is zero for MARKET orders.
type Order struct {
	OrderID      string
	AccountID    string
	InstrumentID string
	Side         Side
	Type         OrderType
	LimitPrice   decimal.Decimal
	Quantity     int64
	Status       OrderStatus
	CreatedAt    time.Time
	FilledAt     time.Time // zero until the order fills
}

// IsPending checks if the order can still fill.
func (o *Order) IsPending() bool {
	return o.Status == StatusPending
}

// IsTerminal checks if the order reached a final state.
func (o *Order) IsTerminal() bool {
	return o.Status == StatusFilled || o.Status == StatusCanceled
}
