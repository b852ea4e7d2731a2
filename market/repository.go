package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const listingColumns = `id, property_id, seller_id, shares, price_per_share, status::text, created_at, updated_at`

// Repository owns the listings table.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertTx creates a listing in the open state inside the caller's transaction.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, l Listing) (Listing, error) {
	const insertSQL = `
INSERT INTO listings (property_id, seller_id, shares, price_per_share)
VALUES ($1, $2, $3, $4)
RETURNING ` + listingColumns

	var created Listing
	err := tx.QueryRow(ctx, insertSQL, l.PropertyID, l.SellerID, l.Shares, l.PricePerShare).
		Scan(&created.ID, &created.PropertyID, &created.SellerID, &created.Shares,
			&created.PricePerShare, &created.Status, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return Listing{}, fmt.Errorf("market: insert listing: %w", err)
	}
	return created, nil
}

// GetForUpdateTx loads a listing and locks its row, serializing concurrent
// buys and cancels for the same lot.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, listingID string) (Listing, error) {
	const query = `SELECT ` + listingColumns + ` FROM listings WHERE id = $1 FOR UPDATE`

	var l Listing
	err := tx.QueryRow(ctx, query, listingID).
		Scan(&l.ID, &l.PropertyID, &l.SellerID, &l.Shares, &l.PricePerShare, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Listing{}, ErrListingNotFound
	}
	if err != nil {
		return Listing{}, fmt.Errorf("market: lock listing: %w", err)
	}
	return l, nil
}

// SetStatusTx moves a listing into a terminal state.
func (r *Repository) SetStatusTx(ctx context.Context, tx pgx.Tx, listingID string, status Status) (Listing, error) {
	const updateSQL = `
UPDATE listings
SET status = $2::listing_status, updated_at = now()
WHERE id = $1
RETURNING ` + listingColumns

	var l Listing
	err := tx.QueryRow(ctx, updateSQL, listingID, status).
		Scan(&l.ID, &l.PropertyID, &l.SellerID, &l.Shares, &l.PricePerShare, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Listing{}, ErrListingNotFound
	}
	if err != nil {
		return Listing{}, fmt.Errorf("market: update listing status: %w", err)
	}
	return l, nil
}

// Get loads a listing without locking.
func (r *Repository) Get(ctx context.Context, listingID string) (Listing, error) {
	const query = `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	var l Listing
	err := r.pool.QueryRow(ctx, query, listingID).
		Scan(&l.ID, &l.PropertyID, &l.SellerID, &l.Shares, &l.PricePerShare, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Listing{}, ErrListingNotFound
	}
	if err != nil {
		return Listing{}, fmt.Errorf("market: get listing: %w", err)
	}
	return l, nil
}

// ListOpen returns the open listings for a property, newest first.
func (r *Repository) ListOpen(ctx context.Context, propertyID string) ([]Listing, error) {
	const query = `
SELECT ` + listingColumns + `
FROM listings
WHERE property_id = $1 AND status = 'open'
ORDER BY created_at DESC
`
	rows, err := r.pool.Query(ctx, query, propertyID)
	if err != nil {
		return nil, fmt.Errorf("market: list open listings: %w", err)
	}
	defer rows.Close()

	out := make([]Listing, 0, 8)
	for rows.Next() {
		var l Listing
		if err := rows.Scan(&l.ID, &l.PropertyID, &l.SellerID, &l.Shares, &l.PricePerShare, &l.Status, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("market: scan listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("market: iterate listings: %w", err)
	}
	return out, nil
}
