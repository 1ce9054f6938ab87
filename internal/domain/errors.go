package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline.
var (
	ErrStaleTick       = errors.New("stale tick")
	ErrUnknownTrID     = errors.New("unknown tr_id")
	ErrAccountNotFound = errors.New("account not found")
	ErrOrderNotFound   = errors.New("order not found")
)

// ParseError reports a frame that failed structural or numeric parsing.
// Parse failures drop the frame; they are never fatal.
type ParseError struct {
	TrID  string
	Field string
	Cause error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse %s field %q: %v", e.TrID, e.Field, e.Cause)
	}
	return fmt.Sprintf("parse %s field %q", e.TrID, e.Field)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// FillInconsistencyError reports a fill the ledger refused because applying
// it would corrupt account state (e.g. selling more shares than held).
// It signals an intake-validation bug upstream: the order stays PENDING and
// is surfaced for manual reconciliation instead of being clamped.
type FillInconsistencyError struct {
	OrderID      string
	AccountID    string
	InstrumentID string
	Reason       string
}

func (e *FillInconsistencyError) Error() string {
	return fmt.Sprintf("inconsistent fill for order %s (account %s, instrument %s): %s",
		e.OrderID, e.AccountID, e.InstrumentID, e.Reason)
}
