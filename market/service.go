package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"shareflow/audit"
	"shareflow/ledger"
	"shareflow/wallet"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type listingRepository interface {
	InsertTx(ctx context.Context, tx pgx.Tx, l Listing) (Listing, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, listingID string) (Listing, error)
	SetStatusTx(ctx context.Context, tx pgx.Tx, listingID string, status Status) (Listing, error)
	Get(ctx context.Context, listingID string) (Listing, error)
	ListOpen(ctx context.Context, propertyID string) ([]Listing, error)
}

// shareEscrow is the slice of the share ledger the marketplace composes into
// its settlement transaction. Balances are only ever touched through it.
type shareEscrow interface {
	ReserveTx(ctx context.Context, tx pgx.Tx, propertyID, holderID string, amount int64) error
	ReleaseTx(ctx context.Context, tx pgx.Tx, propertyID, holderID string, amount int64) error
	TransferTx(ctx context.Context, tx pgx.Tx, propertyID, fromID, toID string, amount int64) error
}

// fundsLedger is the wallet collaborator used during settlement.
type fundsLedger interface {
	DebitTx(ctx context.Context, tx pgx.Tx, userID string, amount decimal.Decimal) error
	CreditTx(ctx context.Context, tx pgx.Tx, userID string, amount decimal.Decimal) error
}

type eventRecorder interface {
	Append(ctx context.Context, tx pgx.Tx, propertyID, eventType string, actorID *string, payload map[string]any) error
}

type outboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service implements the secondary marketplace. A buy settles listing state,
// share transfer, and both wallet movements in one database transaction;
// no partial trade is ever visible.
type Service struct {
	pool     TxBeginner
	repo     listingRepository
	shares   shareEscrow
	funds    fundsLedger
	recorder eventRecorder
	outbox   outboxWriter
	now      func() time.Time
}

func NewService(pool TxBeginner, repo listingRepository, shares shareEscrow, funds fundsLedger, recorder eventRecorder, outbox outboxWriter) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		shares:   shares,
		funds:    funds,
		recorder: recorder,
		outbox:   outbox,
		now:      time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ListForSale escrows the offered shares and opens a listing.
func (s *Service) ListForSale(ctx context.Context, propertyID, sellerID string, shares int64, pricePerShare decimal.Decimal) (Listing, error) {
	if propertyID == "" || sellerID == "" {
		return Listing{}, fmt.Errorf("market: missing property or seller id")
	}
	if shares <= 0 {
		return Listing{}, ledger.ErrInvalidAmount
	}
	if !pricePerShare.IsPositive() {
		return Listing{}, fmt.Errorf("market: price per share must be positive")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Listing{}, fmt.Errorf("market: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.shares.ReserveTx(ctx, tx, propertyID, sellerID, shares); err != nil {
		return Listing{}, err
	}

	created, err := s.repo.InsertTx(ctx, tx, Listing{
		PropertyID:    propertyID,
		SellerID:      sellerID,
		Shares:        shares,
		PricePerShare: pricePerShare,
	})
	if err != nil {
		return Listing{}, err
	}

	if err := s.recorder.Append(ctx, tx, propertyID, audit.EventSharesReserved, &sellerID, map[string]any{
		"holder_id":  sellerID,
		"amount":     shares,
		"listing_id": created.ID,
	}); err != nil {
		return Listing{}, err
	}
	if err := s.recorder.Append(ctx, tx, propertyID, audit.EventListingCreated, &sellerID, map[string]any{
		"listing_id":      created.ID,
		"shares":          shares,
		"price_per_share": pricePerShare.String(),
	}); err != nil {
		return Listing{}, err
	}
	if err := s.outbox.Enqueue(ctx, tx, "listing.created", map[string]any{
		"listing_id":  created.ID,
		"property_id": propertyID,
	}); err != nil {
		return Listing{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Listing{}, fmt.Errorf("market: commit listing: %w", err)
	}
	return created, nil
}

// Buy fills an open listing. The listing row lock serializes competing
// buyers; the first one to commit wins and the rest see ErrListingNotOpen.
func (s *Service) Buy(ctx context.Context, listingID, buyerID string) (Listing, error) {
	if listingID == "" || buyerID == "" {
		return Listing{}, fmt.Errorf("market: missing listing or buyer id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Listing{}, fmt.Errorf("market: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	lst, err := s.repo.GetForUpdateTx(ctx, tx, listingID)
	if err != nil {
		return Listing{}, err
	}
	if lst.Status != StatusOpen {
		return Listing{}, ErrListingNotOpen
	}
	if buyerID == lst.SellerID {
		return Listing{}, ledger.ErrInvalidAmount
	}

	cost := lst.Cost()
	if err := s.funds.DebitTx(ctx, tx, buyerID, cost); err != nil {
		return Listing{}, classifyWalletErr("debit buyer", err)
	}
	if err := s.funds.CreditTx(ctx, tx, lst.SellerID, cost); err != nil {
		return Listing{}, classifyWalletErr("credit seller", err)
	}

	if err := s.shares.ReleaseTx(ctx, tx, lst.PropertyID, lst.SellerID, lst.Shares); err != nil {
		return Listing{}, classifyLedgerErr("release escrow", err)
	}
	if err := s.shares.TransferTx(ctx, tx, lst.PropertyID, lst.SellerID, buyerID, lst.Shares); err != nil {
		return Listing{}, classifyLedgerErr("transfer shares", err)
	}

	filled, err := s.repo.SetStatusTx(ctx, tx, listingID, StatusFilled)
	if err != nil {
		return Listing{}, err
	}

	if err := s.recorder.Append(ctx, tx, lst.PropertyID, audit.EventSharesTransferred, &buyerID, map[string]any{
		"from_id":    lst.SellerID,
		"to_id":      buyerID,
		"amount":     lst.Shares,
		"listing_id": lst.ID,
	}); err != nil {
		return Listing{}, err
	}
	if err := s.recorder.Append(ctx, tx, lst.PropertyID, audit.EventListingFilled, &buyerID, map[string]any{
		"listing_id": lst.ID,
		"buyer_id":   buyerID,
		"cost":       cost.String(),
	}); err != nil {
		return Listing{}, err
	}
	if err := s.outbox.Enqueue(ctx, tx, "listing.filled", map[string]any{
		"listing_id":  lst.ID,
		"property_id": lst.PropertyID,
		"seller_id":   lst.SellerID,
		"buyer_id":    buyerID,
		"shares":      lst.Shares,
		"cost":        cost.String(),
	}); err != nil {
		return Listing{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Listing{}, fmt.Errorf("market: commit trade: %w", err)
	}
	return filled, nil
}

// CancelListing releases the escrowed shares and closes the listing.
func (s *Service) CancelListing(ctx context.Context, listingID, callerID string) (Listing, error) {
	if listingID == "" || callerID == "" {
		return Listing{}, fmt.Errorf("market: missing listing or caller id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Listing{}, fmt.Errorf("market: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	lst, err := s.repo.GetForUpdateTx(ctx, tx, listingID)
	if err != nil {
		return Listing{}, err
	}
	if lst.SellerID != callerID {
		return Listing{}, ErrNotOwner
	}
	if lst.Status != StatusOpen {
		return Listing{}, ErrListingNotOpen
	}

	if err := s.shares.ReleaseTx(ctx, tx, lst.PropertyID, lst.SellerID, lst.Shares); err != nil {
		return Listing{}, classifyLedgerErr("release escrow", err)
	}

	cancelled, err := s.repo.SetStatusTx(ctx, tx, listingID, StatusCancelled)
	if err != nil {
		return Listing{}, err
	}

	if err := s.recorder.Append(ctx, tx, lst.PropertyID, audit.EventSharesReleased, &callerID, map[string]any{
		"holder_id":  lst.SellerID,
		"amount":     lst.Shares,
		"listing_id": lst.ID,
	}); err != nil {
		return Listing{}, err
	}
	if err := s.recorder.Append(ctx, tx, lst.PropertyID, audit.EventListingCancelled, &callerID, map[string]any{
		"listing_id": lst.ID,
	}); err != nil {
		return Listing{}, err
	}
	if err := s.outbox.Enqueue(ctx, tx, "listing.cancelled", map[string]any{
		"listing_id":  lst.ID,
		"property_id": lst.PropertyID,
	}); err != nil {
		return Listing{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Listing{}, fmt.Errorf("market: commit cancel: %w", err)
	}
	return cancelled, nil
}

// Get returns a listing by id.
func (s *Service) Get(ctx context.Context, listingID string) (Listing, error) {
	return s.repo.Get(ctx, listingID)
}

// ListOpen returns the open listings for a property.
func (s *Service) ListOpen(ctx context.Context, propertyID string) ([]Listing, error) {
	return s.repo.ListOpen(ctx, propertyID)
}

// classifyWalletErr keeps domain outcomes intact and tags everything else as
// an infrastructure failure so the caller can retry the whole trade.
func classifyWalletErr(step string, err error) error {
	if errors.Is(err, wallet.ErrInsufficientFunds) || errors.Is(err, wallet.ErrInvalidAmount) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrDependencyUnavailable, step, err)
}

func classifyLedgerErr(step string, err error) error {
	if errors.Is(err, ledger.ErrInsufficientBalance) ||
		errors.Is(err, ledger.ErrInvalidAmount) ||
		errors.Is(err, ledger.ErrPoolNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrDependencyUnavailable, step, err)
}
