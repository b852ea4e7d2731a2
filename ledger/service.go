package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"shareflow/audit"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// repository defines the data access the service needs.
type repository interface {
	CreatePoolTx(ctx context.Context, tx pgx.Tx, p Pool) (Pool, error)
	IssueTx(ctx context.Context, tx pgx.Tx, propertyID, holderID string, amount int64) error
	TransferTx(ctx context.Context, tx pgx.Tx, propertyID, fromID, toID string, amount int64) error
	GetPool(ctx context.Context, propertyID string) (Pool, error)
	BalanceOf(ctx context.Context, propertyID, holderID string) (int64, error)
	FreeBalanceOf(ctx context.Context, propertyID, holderID string) (int64, error)
	TotalIssued(ctx context.Context, propertyID string) (int64, error)
}

type eventRecorder interface {
	Append(ctx context.Context, tx pgx.Tx, propertyID, eventType string, actorID *string, payload map[string]any) error
}

type outboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service is the share ledger plus the one-shot token factory. Pool creation
// and issuance happen in a single transaction so a pool can never exist
// without its full supply held somewhere.
type Service struct {
	pool     TxBeginner
	repo     repository
	recorder eventRecorder
	outbox   outboxWriter
	now      func() time.Time
}

func NewService(pool TxBeginner, repo repository, recorder eventRecorder, outbox outboxWriter) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		recorder: recorder,
		outbox:   outbox,
		now:      time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreatePoolParams enumerates what the factory needs to mint a property's shares.
type CreatePoolParams struct {
	PropertyID      string
	TotalShares     int64
	PricePerShare   decimal.Decimal
	InitialHolderID string
}

// CreatePool creates the share pool for a property and issues the entire
// supply to the initial holder. Runs exactly once per property; there is no
// API to issue again or change the supply afterwards.
func (s *Service) CreatePool(ctx context.Context, params CreatePoolParams) (Pool, error) {
	if params.PropertyID == "" {
		return Pool{}, fmt.Errorf("ledger: missing property id")
	}
	if params.InitialHolderID == "" {
		return Pool{}, fmt.Errorf("ledger: missing initial holder id")
	}
	if params.TotalShares <= 0 {
		return Pool{}, ErrInvalidSupply
	}
	if params.PricePerShare.IsNegative() {
		return Pool{}, fmt.Errorf("ledger: negative price per share")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Pool{}, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.CreatePoolTx(ctx, tx, Pool{
		PropertyID:    params.PropertyID,
		TotalShares:   params.TotalShares,
		PricePerShare: params.PricePerShare,
	})
	if err != nil {
		return Pool{}, err
	}

	if err := s.repo.IssueTx(ctx, tx, params.PropertyID, params.InitialHolderID, params.TotalShares); err != nil {
		return Pool{}, err
	}

	if err := s.recorder.Append(ctx, tx, params.PropertyID, audit.EventPoolCreated, nil, map[string]any{
		"total_shares":    params.TotalShares,
		"price_per_share": params.PricePerShare.String(),
	}); err != nil {
		return Pool{}, err
	}
	if err := s.recorder.Append(ctx, tx, params.PropertyID, audit.EventSharesIssued, nil, map[string]any{
		"holder_id": params.InitialHolderID,
		"amount":    params.TotalShares,
	}); err != nil {
		return Pool{}, err
	}

	if err := s.outbox.Enqueue(ctx, tx, "pool.created", map[string]any{
		"property_id":  params.PropertyID,
		"total_shares": params.TotalShares,
	}); err != nil {
		return Pool{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Pool{}, fmt.Errorf("ledger: commit pool creation: %w", err)
	}
	return created, nil
}

// Transfer moves shares between two holders of the same property.
func (s *Service) Transfer(ctx context.Context, propertyID, fromID, toID string, amount int64) error {
	if amount <= 0 || fromID == toID {
		return ErrInvalidAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.TransferTx(ctx, tx, propertyID, fromID, toID, amount); err != nil {
		return err
	}

	if err := s.recorder.Append(ctx, tx, propertyID, audit.EventSharesTransferred, &fromID, map[string]any{
		"from_id": fromID,
		"to_id":   toID,
		"amount":  amount,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit transfer: %w", err)
	}
	return nil
}

// BalanceOf returns the holder's current balance, zero if never issued.
func (s *Service) BalanceOf(ctx context.Context, propertyID, holderID string) (int64, error) {
	return s.repo.BalanceOf(ctx, propertyID, holderID)
}

// FreeBalanceOf returns the balance available for transfers and new listings.
func (s *Service) FreeBalanceOf(ctx context.Context, propertyID, holderID string) (int64, error) {
	return s.repo.FreeBalanceOf(ctx, propertyID, holderID)
}

// TotalIssued returns the sum of all holder balances for a property.
func (s *Service) TotalIssued(ctx context.Context, propertyID string) (int64, error) {
	return s.repo.TotalIssued(ctx, propertyID)
}

// GetPool returns the pool record for a property.
func (s *Service) GetPool(ctx context.Context, propertyID string) (Pool, error) {
	return s.repo.GetPool(ctx, propertyID)
}
