package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the single writer of share_pools and holdings. The Tx-scoped
// methods compose into the caller's transaction so the marketplace can settle
// shares and funds atomically; nothing outside this package mutates balances.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreatePoolTx inserts the pool record. The inserted row stays locked for the
// rest of the transaction, serializing issuance against duplicate creates.
func (r *Repository) CreatePoolTx(ctx context.Context, tx pgx.Tx, p Pool) (Pool, error) {
	const insertSQL = `
INSERT INTO share_pools (property_id, total_shares, price_per_share)
VALUES ($1, $2, $3)
RETURNING property_id, total_shares, price_per_share, created_at
`
	var created Pool
	err := tx.QueryRow(ctx, insertSQL, p.PropertyID, p.TotalShares, p.PricePerShare).
		Scan(&created.PropertyID, &created.TotalShares, &created.PricePerShare, &created.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Pool{}, ErrPoolAlreadyExists
		}
		return Pool{}, fmt.Errorf("ledger: insert pool: %w", err)
	}
	return created, nil
}

// GetPool loads the pool record for a property.
func (r *Repository) GetPool(ctx context.Context, propertyID string) (Pool, error) {
	const query = `
SELECT property_id, total_shares, price_per_share, created_at
FROM share_pools
WHERE property_id = $1
`
	var p Pool
	err := r.pool.QueryRow(ctx, query, propertyID).
		Scan(&p.PropertyID, &p.TotalShares, &p.PricePerShare, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Pool{}, ErrPoolNotFound
	}
	if err != nil {
		return Pool{}, fmt.Errorf("ledger: get pool: %w", err)
	}
	return p, nil
}

// IssueTx credits the full initial supply to a holder. It refuses to run
// twice: any existing balance for the pool means issuance already happened.
func (r *Repository) IssueTx(ctx context.Context, tx pgx.Tx, propertyID, holderID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if propertyID == "" || holderID == "" {
		return fmt.Errorf("ledger: missing property or holder id")
	}

	var issued int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(balance), 0) FROM holdings WHERE property_id = $1`,
		propertyID).Scan(&issued); err != nil {
		return fmt.Errorf("ledger: check issued: %w", err)
	}
	if issued > 0 {
		return ErrAlreadyIssued
	}

	const upsertSQL = `
INSERT INTO holdings (property_id, holder_id, balance)
VALUES ($1, $2, $3)
ON CONFLICT (property_id, holder_id) DO UPDATE
SET balance = holdings.balance + EXCLUDED.balance
`
	if _, err := tx.Exec(ctx, upsertSQL, propertyID, holderID, amount); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrPoolNotFound
		}
		return fmt.Errorf("ledger: issue: %w", err)
	}
	return nil
}

// TransferTx atomically moves amount from one holder's free balance to
// another. Both holding rows are locked in holder-id order so concurrent
// transfers over the same pair cannot deadlock.
func (r *Repository) TransferTx(ctx context.Context, tx pgx.Tx, propertyID, fromID, toID string, amount int64) error {
	if amount <= 0 || fromID == toID {
		return ErrInvalidAmount
	}
	if propertyID == "" || fromID == "" || toID == "" {
		return fmt.Errorf("ledger: missing property or holder id")
	}

	if err := r.ensureHoldingTx(ctx, tx, propertyID, toID); err != nil {
		return err
	}

	const lockSQL = `
SELECT holder_id, balance, reserved
FROM holdings
WHERE property_id = $1 AND holder_id IN ($2, $3)
ORDER BY holder_id
FOR UPDATE
`
	rows, err := tx.Query(ctx, lockSQL, propertyID, fromID, toID)
	if err != nil {
		return fmt.Errorf("ledger: lock holdings: %w", err)
	}

	free := make(map[string]int64, 2)
	for rows.Next() {
		var (
			holderID          string
			balance, reserved int64
		)
		if err := rows.Scan(&holderID, &balance, &reserved); err != nil {
			rows.Close()
			return fmt.Errorf("ledger: scan holding: %w", err)
		}
		free[holderID] = balance - reserved
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ledger: iterate holdings: %w", err)
	}

	if free[fromID] < amount {
		return ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx,
		`UPDATE holdings SET balance = balance - $3 WHERE property_id = $1 AND holder_id = $2`,
		propertyID, fromID, amount); err != nil {
		return fmt.Errorf("ledger: debit: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE holdings SET balance = balance + $3 WHERE property_id = $1 AND holder_id = $2`,
		propertyID, toID, amount); err != nil {
		return fmt.Errorf("ledger: credit: %w", err)
	}
	return nil
}

// ReserveTx escrows amount of the holder's free balance for an open listing.
func (r *Repository) ReserveTx(ctx context.Context, tx pgx.Tx, propertyID, holderID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	const reserveSQL = `
UPDATE holdings
SET reserved = reserved + $3
WHERE property_id = $1 AND holder_id = $2 AND balance - reserved >= $3
`
	tag, err := tx.Exec(ctx, reserveSQL, propertyID, holderID, amount)
	if err != nil {
		return fmt.Errorf("ledger: reserve: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// ReleaseTx returns previously escrowed shares to the free balance. A release
// without a matching reservation is a bookkeeping bug, not a caller error.
func (r *Repository) ReleaseTx(ctx context.Context, tx pgx.Tx, propertyID, holderID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	const releaseSQL = `
UPDATE holdings
SET reserved = reserved - $3
WHERE property_id = $1 AND holder_id = $2 AND reserved >= $3
`
	tag, err := tx.Exec(ctx, releaseSQL, propertyID, holderID, amount)
	if err != nil {
		return fmt.Errorf("ledger: release: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: release exceeds reservation for %s/%s", propertyID, holderID)
	}
	return nil
}

// BalanceOf returns the holder's full balance, zero if never issued.
func (r *Repository) BalanceOf(ctx context.Context, propertyID, holderID string) (int64, error) {
	return r.scanBalance(ctx, `SELECT balance FROM holdings WHERE property_id = $1 AND holder_id = $2`, propertyID, holderID)
}

// FreeBalanceOf returns the holder's balance minus escrowed shares.
func (r *Repository) FreeBalanceOf(ctx context.Context, propertyID, holderID string) (int64, error) {
	return r.scanBalance(ctx, `SELECT balance - reserved FROM holdings WHERE property_id = $1 AND holder_id = $2`, propertyID, holderID)
}

// TotalIssued sums all balances for a property. After issuance it must always
// equal the pool's total_shares; tests validate conservation through it.
func (r *Repository) TotalIssued(ctx context.Context, propertyID string) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(balance), 0) FROM holdings WHERE property_id = $1`,
		propertyID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("ledger: total issued: %w", err)
	}
	return total, nil
}

// Holdings lists all non-empty holdings for a property.
func (r *Repository) Holdings(ctx context.Context, propertyID string) ([]Holding, error) {
	const query = `
SELECT property_id, holder_id, balance, reserved
FROM holdings
WHERE property_id = $1 AND balance > 0
ORDER BY holder_id
`
	rows, err := r.pool.Query(ctx, query, propertyID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list holdings: %w", err)
	}
	defer rows.Close()

	out := make([]Holding, 0, 8)
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.PropertyID, &h.HolderID, &h.Balance, &h.Reserved); err != nil {
			return nil, fmt.Errorf("ledger: scan holding: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate holdings: %w", err)
	}
	return out, nil
}

func (r *Repository) ensureHoldingTx(ctx context.Context, tx pgx.Tx, propertyID, holderID string) error {
	const ensureSQL = `
INSERT INTO holdings (property_id, holder_id, balance, reserved)
VALUES ($1, $2, 0, 0)
ON CONFLICT (property_id, holder_id) DO NOTHING
`
	if _, err := tx.Exec(ctx, ensureSQL, propertyID, holderID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrPoolNotFound
		}
		return fmt.Errorf("ledger: ensure holding: %w", err)
	}
	return nil
}

func (r *Repository) scanBalance(ctx context.Context, query, propertyID, holderID string) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, query, propertyID, holderID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: query balance: %w", err)
	}
	return balance, nil
}
