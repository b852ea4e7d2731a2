package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds signals a debit larger than the account balance.
	// A missing account is treated as a zero balance.
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	// ErrInvalidAmount signals a non-positive debit or credit.
	ErrInvalidAmount = errors.New("wallet: invalid amount")
)

// Repository owns the wallet_accounts table. Debit and credit are Tx-scoped
// so the marketplace can settle funds and shares in a single transaction.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// DebitTx withdraws amount from the user's account inside the caller's
// transaction. The guarded UPDATE both locks the row and enforces the
// non-negative balance invariant in one statement.
func (r *Repository) DebitTx(ctx context.Context, tx pgx.Tx, userID string, amount decimal.Decimal) error {
	if userID == "" {
		return fmt.Errorf("wallet: missing user id")
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	const debitSQL = `
UPDATE wallet_accounts
SET balance = balance - $2,
    updated_at = now()
WHERE user_id = $1 AND balance >= $2
`
	tag, err := tx.Exec(ctx, debitSQL, userID, amount)
	if err != nil {
		return fmt.Errorf("wallet: debit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// CreditTx deposits amount into the user's account, creating it on first use.
func (r *Repository) CreditTx(ctx context.Context, tx pgx.Tx, userID string, amount decimal.Decimal) error {
	if userID == "" {
		return fmt.Errorf("wallet: missing user id")
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	const creditSQL = `
INSERT INTO wallet_accounts (user_id, balance)
VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE
SET balance = wallet_accounts.balance + EXCLUDED.balance,
    updated_at = now()
`
	if _, err := tx.Exec(ctx, creditSQL, userID, amount); err != nil {
		return fmt.Errorf("wallet: credit: %w", err)
	}
	return nil
}

// Balance returns the current account balance, zero for unknown users.
func (r *Repository) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	const query = `SELECT balance FROM wallet_accounts WHERE user_id = $1`

	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx, query, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("wallet: query balance: %w", err)
	}
	return balance, nil
}
