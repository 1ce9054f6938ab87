package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Capstone-Design2/Backend/internal/book"
	"github.com/Capstone-Design2/Backend/internal/domain"
	"github.com/Capstone-Design2/Backend/internal/storage"
	"github.com/Capstone-Design2/Backend/pkg/safe"
)

// Validation errors returned by SubmitOrder and CancelOrder. All of them
// mean the request was rejected before anything was written.
var (
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrInvalidSide          = errors.New("side must be BUY or SELL")
	ErrInvalidType          = errors.New("type must be MARKET or LIMIT")
	ErrInvalidLimitPrice    = errors.New("limit price must be positive for limit orders")
	ErrUnexpectedLimitPrice = errors.New("market orders must not carry a limit price")
	ErrInvalidInstrument    = errors.New("instrument id is required")
	ErrAccountInactive      = errors.New("account is inactive")
	ErrInsufficientCash     = errors.New("insufficient cash for buy order")
	ErrInsufficientPosition = errors.New("insufficient position for sell order")
	ErrNoMarketPrice        = errors.New("no market price observed yet")
	ErrOrderNotOpen         = errors.New("order is not open")
)

// PriceSource supplies the latest traded price of an instrument. The second
// return is false when no tick has been observed yet.
type PriceSource interface {
	LatestPrice(instrumentID string) (decimal.Decimal, bool)
}

// OrderRequest is one order as submitted by a client, before validation.
type OrderRequest struct {
	AccountID    string
	InstrumentID string
	Side         domain.Side
	Type         domain.OrderType
	LimitPrice   decimal.Decimal
	Quantity     int64
}

// Service validates and persists incoming orders. Accepted orders are
// indexed in the book so the engine starts evaluating them on the next tick.
type Service struct {
	store  *storage.Store
	book   *book.Book
	prices PriceSource

	initialBalance decimal.Decimal

	// Injectable for tests.
	now   func() time.Time
	newID func() string
}

// New creates an intake service. initialBalance seeds accounts created
// through CreateAccount.
func New(store *storage.Store, b *book.Book, prices PriceSource, initialBalance decimal.Decimal) *Service {
	return &Service{
		store:          store,
		book:           b,
		prices:         prices,
		initialBalance: initialBalance,
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// SubmitOrder runs the full validation gauntlet and, on success, persists
// the order as PENDING and indexes it for the engine.
//
// The buy-side cash check is an estimate: market buys are checked against
// the last observed price and may fill at a different one. The ledger is the
// backstop that refuses any fill the account cannot actually afford.
func (s *Service) SubmitOrder(ctx context.Context, req OrderRequest) (domain.Order, error) {
	if req.Quantity <= 0 {
		return domain.Order{}, ErrInvalidQuantity
	}
	if req.InstrumentID == "" {
		return domain.Order{}, ErrInvalidInstrument
	}
	if req.Side != domain.SideBuy && req.Side != domain.SideSell {
		return domain.Order{}, ErrInvalidSide
	}
	switch req.Type {
	case domain.TypeLimit:
		if !req.LimitPrice.IsPositive() {
			return domain.Order{}, ErrInvalidLimitPrice
		}
	case domain.TypeMarket:
		if !req.LimitPrice.IsZero() {
			return domain.Order{}, ErrUnexpectedLimitPrice
		}
	default:
		return domain.Order{}, ErrInvalidType
	}

	acct, err := s.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return domain.Order{}, err
	}
	if !acct.IsActive {
		return domain.Order{}, ErrAccountInactive
	}

	if req.Side == domain.SideBuy {
		if err := s.checkBuyingPower(acct, req); err != nil {
			return domain.Order{}, err
		}
	} else {
		if err := s.checkSellableQuantity(ctx, req); err != nil {
			return domain.Order{}, err
		}
	}

	order := domain.Order{
		OrderID:      s.newID(),
		AccountID:    req.AccountID,
		InstrumentID: req.InstrumentID,
		Side:         req.Side,
		Type:         req.Type,
		LimitPrice:   req.LimitPrice,
		Quantity:     req.Quantity,
		Status:       domain.StatusPending,
		CreatedAt:    s.now(),
	}
	if err := s.store.InsertOrder(ctx, order); err != nil {
		return domain.Order{}, err
	}
	s.book.Add(order)

	slog.Info("Order Accepted",
		slog.String("order_id", order.OrderID),
		slog.String("account_id", order.AccountID),
		slog.String("instrument", order.InstrumentID),
		slog.String("side", string(order.Side)),
		slog.String("type", string(order.Type)),
		slog.Int64("qty", order.Quantity))
	return order, nil
}

// checkBuyingPower estimates the order's cost. Limit buys reserve at the
// limit price; market buys use the last observed trade.
func (s *Service) checkBuyingPower(acct domain.Account, req OrderRequest) error {
	refPrice := req.LimitPrice
	if req.Type == domain.TypeMarket {
		last, ok := s.prices.LatestPrice(req.InstrumentID)
		if !ok {
			return ErrNoMarketPrice
		}
		refPrice = last
	}

	required := safe.Notional(refPrice, req.Quantity)
	if acct.CashBalance.LessThan(required) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientCash, required, acct.CashBalance)
	}
	return nil
}

// checkSellableQuantity refuses a sell that, together with the account's
// other open sells on the instrument, would exceed the held position.
func (s *Service) checkSellableQuantity(ctx context.Context, req OrderRequest) error {
	var held int64
	pos, found, err := s.store.GetPosition(ctx, req.AccountID, req.InstrumentID)
	if err != nil {
		return err
	}
	if found {
		held = pos.Quantity
	}

	committed, err := s.store.PendingSellQuantity(ctx, req.AccountID, req.InstrumentID)
	if err != nil {
		return err
	}

	if held-committed < req.Quantity {
		return fmt.Errorf("%w: hold %d, %d already committed, sell %d requested",
			ErrInsufficientPosition, held, committed, req.Quantity)
	}
	return nil
}

// CancelOrder cancels an open order. The guarded status flip in storage
// decides races against the engine: whichever side transitions the row wins,
// the other sees the terminal status.
func (s *Service) CancelOrder(ctx context.Context, orderID string) error {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	ok, err := s.store.CancelOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is %s", ErrOrderNotOpen, orderID, order.Status)
	}

	s.book.Remove(order.InstrumentID, orderID)
	slog.Info("Order Canceled", slog.String("order_id", orderID))
	return nil
}

// CreateAccount opens a fresh account funded with the configured initial
// balance.
func (s *Service) CreateAccount(ctx context.Context) (domain.Account, error) {
	acct := domain.Account{
		AccountID:      s.newID(),
		CashBalance:    s.initialBalance,
		InitialBalance: s.initialBalance,
		IsActive:       true,
		CreatedAt:      s.now(),
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return domain.Account{}, err
	}

	slog.Info("Account Created",
		slog.String("account_id", acct.AccountID),
		slog.String("balance", acct.CashBalance.String()))
	return acct, nil
}

// SetAccountActive flips the per-account kill switch. Deactivation blocks
// new orders immediately; pending orders still settle.
func (s *Service) SetAccountActive(ctx context.Context, accountID string, active bool) error {
	if err := s.store.SetAccountActive(ctx, accountID, active); err != nil {
		return err
	}
	if active {
		slog.Info("Account Activated", slog.String("account_id", accountID))
	} else {
		slog.Warn("Account Deactivated", slog.String("account_id", accountID))
	}
	return nil
}
