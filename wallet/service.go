package wallet

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"shareflow/audit"
)

// Service exposes the funding operations the platform calls directly.
// Trade settlement goes through the repository's Tx-scoped debit/credit
// instead, inside the marketplace transaction.
type Service struct {
	pool   *pgxpool.Pool
	repo   *Repository
	outbox *audit.Outbox
}

func NewService(pool *pgxpool.Pool, repo *Repository, outbox *audit.Outbox) *Service {
	if repo == nil {
		repo = NewRepository(pool)
	}
	return &Service{pool: pool, repo: repo, outbox: outbox}
}

// Deposit credits funds to a user account.
func (s *Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("wallet: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.CreditTx(ctx, tx, userID, amount); err != nil {
		return err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"user_id": userID,
			"amount":  amount.String(),
		}
		if err := s.outbox.Enqueue(ctx, tx, "wallet.deposited", payload); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("wallet: commit deposit: %w", err)
	}
	return nil
}

// Balance returns the user's current balance.
func (s *Service) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.repo.Balance(ctx, userID)
}
