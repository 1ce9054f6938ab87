package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds the virtual cash ledger for one user.
// IsActive is the kill switch: inactive accounts reject new orders at
// intake, but fills already committed to the engine still complete.
type Account struct {
	AccountID      string
	CashBalance    decimal.Decimal
	InitialBalance decimal.Decimal
	IsActive       bool
	CreatedAt      time.Time
}
