package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Capstone-Design2/Backend/internal/domain"
	"github.com/Capstone-Design2/Backend/internal/storage"
	"github.com/Capstone-Design2/Backend/pkg/safe"
)

// Ledger settles executions against account cash and positions. It keeps no
// balances in memory: every read and write goes through the store inside the
// caller's transaction, so a crash between fills can never fork the books.
type Ledger struct {
	store *storage.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a ledger backed by the given store.
func New(store *storage.Store) *Ledger {
	return &Ledger{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

// LockAccount serializes settlement per account and returns the unlock
// function. Engine shards process different instruments concurrently; two
// fills for the same account must not interleave their read-modify-write of
// the cash balance.
func (l *Ledger) LockAccount(accountID string) func() {
	l.mu.Lock()
	m, ok := l.locks[accountID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[accountID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// ApplyFill settles one execution inside an open transaction. Validation
// happens before any write: a fill that would oversell a position or drive
// cash negative returns *domain.FillInconsistencyError with the transaction
// untouched, so the caller rolls back and the order stays PENDING for manual
// reconciliation.
func (l *Ledger) ApplyFill(ctx context.Context, tx *sql.Tx, order domain.Order, exec domain.Execution) error {
	acct, err := l.store.GetAccountTx(ctx, tx, order.AccountID)
	if err != nil {
		return err
	}

	notional := safe.Notional(exec.Price, exec.Quantity)

	switch order.Side {
	case domain.SideBuy:
		return l.applyBuy(ctx, tx, acct, order, exec, notional)
	case domain.SideSell:
		return l.applySell(ctx, tx, acct, order, exec, notional)
	default:
		return fmt.Errorf("unknown order side %q", order.Side)
	}
}

func (l *Ledger) applyBuy(ctx context.Context, tx *sql.Tx, acct domain.Account, order domain.Order, exec domain.Execution, notional decimal.Decimal) error {
	newCash := acct.CashBalance.Sub(notional)
	if newCash.IsNegative() {
		return &domain.FillInconsistencyError{
			OrderID:      order.OrderID,
			AccountID:    order.AccountID,
			InstrumentID: order.InstrumentID,
			Reason:       fmt.Sprintf("fill needs %s cash, account holds %s", notional, acct.CashBalance),
		}
	}

	pos, found, err := l.store.GetPositionTx(ctx, tx, order.AccountID, order.InstrumentID)
	if err != nil {
		return err
	}
	if !found {
		pos = domain.Position{
			AccountID:    order.AccountID,
			InstrumentID: order.InstrumentID,
			Quantity:     exec.Quantity,
			AvgCost:      exec.Price,
		}
	} else {
		pos.AvgCost = safe.WeightedAverage(pos.AvgCost, pos.Quantity, exec.Price, exec.Quantity)
		pos.Quantity = safe.SafeAdd(pos.Quantity, exec.Quantity)
	}

	if err := l.store.UpsertPositionTx(ctx, tx, pos); err != nil {
		return err
	}
	return l.store.UpdateAccountBalanceTx(ctx, tx, order.AccountID, newCash)
}

func (l *Ledger) applySell(ctx context.Context, tx *sql.Tx, acct domain.Account, order domain.Order, exec domain.Execution, notional decimal.Decimal) error {
	pos, found, err := l.store.GetPositionTx(ctx, tx, order.AccountID, order.InstrumentID)
	if err != nil {
		return err
	}
	if !found || pos.Quantity < exec.Quantity {
		var held int64
		if found {
			held = pos.Quantity
		}
		return &domain.FillInconsistencyError{
			OrderID:      order.OrderID,
			AccountID:    order.AccountID,
			InstrumentID: order.InstrumentID,
			Reason:       fmt.Sprintf("fill sells %d shares, position holds %d", exec.Quantity, held),
		}
	}

	// Average cost never changes on a sell. Fully closed positions are
	// deleted, not stored at zero.
	remaining := safe.SafeSub(pos.Quantity, exec.Quantity)
	if remaining == 0 {
		if err := l.store.DeletePositionTx(ctx, tx, order.AccountID, order.InstrumentID); err != nil {
			return err
		}
	} else {
		pos.Quantity = remaining
		if err := l.store.UpsertPositionTx(ctx, tx, pos); err != nil {
			return err
		}
	}
	return l.store.UpdateAccountBalanceTx(ctx, tx, order.AccountID, acct.CashBalance.Add(notional))
}

// PriceFunc returns the current market price of an instrument, or false when
// no price is known yet.
type PriceFunc func(instrumentID string) (decimal.Decimal, bool)

// Valuation returns cash plus the market value of every open position.
// Positions with no known market price are valued at their average cost.
func (l *Ledger) Valuation(ctx context.Context, accountID string, price PriceFunc) (decimal.Decimal, error) {
	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	positions, err := l.store.PositionsForAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}

	total := acct.CashBalance
	for _, pos := range positions {
		p, ok := price(pos.InstrumentID)
		if !ok {
			p = pos.AvgCost
		}
		total = total.Add(safe.Notional(p, pos.Quantity))
	}
	return total, nil
}
