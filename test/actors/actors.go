package actors

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"shareflow/governance"
	"shareflow/ledger"
	"shareflow/market"
)

// Trader lists random slices of its free holding and tries to fill whatever
// listings are open. Domain rejections are expected under contention.
func Trader(ctx context.Context, mkt *market.Service, ldg *ledger.Service, propertyID, selfID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		// Transient infrastructure errors (chaos kills backends) are skipped;
		// the oracles are the arbiter of correctness.
		free, err := ldg.FreeBalanceOf(ctx, propertyID, selfID)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if free > 0 && rand.Intn(2) == 0 {
			shares := 1 + rand.Int63n(free)
			price := decimal.NewFromInt(int64(90 + rand.Intn(40)))
			_, _ = mkt.ListForSale(ctx, propertyID, selfID, shares, price)
		}

		open, err := mkt.ListOpen(ctx, propertyID)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if len(open) > 0 {
			lst := open[rand.Intn(len(open))]
			if lst.SellerID == selfID {
				_, _ = mkt.CancelListing(ctx, lst.ID, selfID)
			} else {
				_, _ = mkt.Buy(ctx, lst.ID, selfID)
			}
		}

		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Transferer moves random amounts between two holders directly on the ledger.
func Transferer(ctx context.Context, ldg *ledger.Service, propertyID, fromID, toID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		amount := 1 + rand.Int63n(50)
		_ = ldg.Transfer(ctx, propertyID, fromID, toID, amount)

		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// Voter casts ballots on a proposal; repeat and late votes bounce off the
// service as domain errors.
func Voter(ctx context.Context, gov *governance.Service, proposalID, voterID string, stop <-chan struct{}) error {
	directions := []governance.Direction{governance.DirectionFor, governance.DirectionAgainst}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		_, _ = gov.CastVote(ctx, proposalID, voterID, directions[rand.Intn(len(directions))])

		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// them processed, occasionally simulating a delivery failure.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1 WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed' WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
