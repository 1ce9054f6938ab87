package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Capstone-Design2/Backend/internal/domain"
)

// CreateAccount inserts a new account row.
func (s *Store) CreateAccount(ctx context.Context, acct domain.Account) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO accounts (account_id, cash_balance, initial_balance, is_active, created_at) VALUES (?, ?, ?, ?, ?)",
		acct.AccountID, acct.CashBalance.String(), acct.InitialBalance.String(), acct.IsActive, acct.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// GetAccount loads one account. Returns domain.ErrAccountNotFound when no
// row matches.
func (s *Store) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	return getAccount(ctx, s.db, accountID)
}

// GetAccountTx is GetAccount inside an open transaction, so the fill path
// sees the balance it is about to overwrite.
func (s *Store) GetAccountTx(ctx context.Context, tx *sql.Tx, accountID string) (domain.Account, error) {
	return getAccount(ctx, tx, accountID)
}

func getAccount(ctx context.Context, q querier, accountID string) (domain.Account, error) {
	var (
		acct          domain.Account
		cash, initial string
		createdAt     int64
	)
	err := q.QueryRowContext(ctx,
		"SELECT account_id, cash_balance, initial_balance, is_active, created_at FROM accounts WHERE account_id = ?",
		accountID,
	).Scan(&acct.AccountID, &cash, &initial, &acct.IsActive, &createdAt)
	if err == sql.ErrNoRows {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("failed to query account %s: %w", accountID, err)
	}

	if acct.CashBalance, err = decimal.NewFromString(cash); err != nil {
		return domain.Account{}, fmt.Errorf("failed to parse cash balance of %s: %w", accountID, err)
	}
	if acct.InitialBalance, err = decimal.NewFromString(initial); err != nil {
		return domain.Account{}, fmt.Errorf("failed to parse initial balance of %s: %w", accountID, err)
	}
	acct.CreatedAt = time.UnixMicro(createdAt)
	return acct, nil
}

// SetAccountActive flips the kill switch for one account. Inactive accounts
// are rejected at order intake; their pending orders still settle.
func (s *Store) SetAccountActive(ctx context.Context, accountID string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET is_active = ? WHERE account_id = ?",
		active, accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// UpdateAccountBalanceTx overwrites the cash balance inside an open
// transaction. The caller has already validated the new balance.
func (s *Store) UpdateAccountBalanceTx(ctx context.Context, tx *sql.Tx, accountID string, balance decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE accounts SET cash_balance = ? WHERE account_id = ?",
		balance.String(), accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance of %s: %w", accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}
