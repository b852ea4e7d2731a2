package governance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"shareflow/audit"
	"shareflow/ledger"
)

func TestProposalLifecycle(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, tbl := range []string{"share_pools", "holdings", "proposals", "votes", "ledger_events", "outbox"} {
		if !tableExists(ctx, pool, tbl) {
			t.Skipf("table %s does not exist; ensure migrations are applied", tbl)
		}
	}

	propertyID := fmt.Sprintf("prop-%d", time.Now().UnixNano())
	alice := fmt.Sprintf("alice-%d", time.Now().UnixNano())
	bob := fmt.Sprintf("bob-%d", time.Now().UnixNano())
	carol := fmt.Sprintf("carol-%d", time.Now().UnixNano())

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'property_id' = $1`, propertyID)
		pool.Exec(ctx2, `DELETE FROM ledger_events WHERE property_id = $1`, propertyID)
		pool.Exec(ctx2, `DELETE FROM votes WHERE proposal_id IN (SELECT id FROM proposals WHERE property_id = $1)`, propertyID)
		pool.Exec(ctx2, `DELETE FROM proposals WHERE property_id = $1`, propertyID)
		pool.Exec(ctx2, `DELETE FROM holdings WHERE property_id = $1`, propertyID)
		pool.Exec(ctx2, `DELETE FROM share_pools WHERE property_id = $1`, propertyID)
	})

	recorder := audit.NewRecorder()
	outbox := audit.NewOutbox()
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(pool, ledgerRepo, recorder, outbox)

	if _, err := ledgerSvc.CreatePool(ctx, ledger.CreatePoolParams{
		PropertyID:      propertyID,
		TotalShares:     1000,
		PricePerShare:   decimal.NewFromInt(100),
		InitialHolderID: alice,
	}); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	if err := ledgerSvc.Transfer(ctx, propertyID, alice, bob, 250); err != nil {
		t.Fatalf("transfer to bob: %v", err)
	}
	if err := ledgerSvc.Transfer(ctx, propertyID, alice, carol, 150); err != nil {
		t.Fatalf("transfer to carol: %v", err)
	}

	clk := &lockedClock{t: time.Now()}
	svc := NewService(pool, NewRepository(pool), ledgerSvc, nil, recorder, outbox, Config{
		QuorumNum:    1,
		QuorumDen:    2,
		VotingWindow: 72 * time.Hour,
	}).WithClock(clk.Now)

	proposal, err := svc.CreateProposal(ctx, CreateProposalParams{
		PropertyID: propertyID,
		ProposerID: alice,
		Title:      "Replace the roof",
	})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if proposal.QuorumThreshold != 500 {
		t.Fatalf("expected quorum threshold 500, got %d", proposal.QuorumThreshold)
	}

	for voter, dir := range map[string]Direction{alice: DirectionFor, bob: DirectionAgainst, carol: DirectionFor} {
		if _, err := svc.CastVote(ctx, proposal.ID, voter, dir); err != nil {
			t.Fatalf("vote %s: %v", voter, err)
		}
	}
	if _, err := svc.CastVote(ctx, proposal.ID, alice, DirectionAgainst); !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}

	// Still inside the window: nothing to execute yet.
	if _, err := svc.Execute(ctx, proposal.ID, alice); !errors.Is(err, ErrProposalNotPassed) {
		t.Fatalf("expected ErrProposalNotPassed before deadline, got %v", err)
	}

	clk.Advance(73 * time.Hour)

	resolved, err := svc.Get(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if resolved.Status != StatusPassed {
		t.Fatalf("expected passed (for=750 against=250), got %s", resolved.Status)
	}
	if resolved.ForVotes != 750 || resolved.AgainstVotes != 250 {
		t.Fatalf("unexpected tallies: for=%d against=%d", resolved.ForVotes, resolved.AgainstVotes)
	}

	// Late ballots bounce.
	if _, err := svc.CastVote(ctx, proposal.ID, bob, DirectionFor); !errors.Is(err, ErrProposalNotActive) {
		t.Fatalf("expected ErrProposalNotActive after resolution, got %v", err)
	}

	executed, err := svc.Execute(ctx, proposal.ID, alice)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if executed.Status != StatusExecuted {
		t.Fatalf("expected executed, got %s", executed.Status)
	}
	if _, err := svc.Execute(ctx, proposal.ID, alice); !errors.Is(err, ErrProposalNotPassed) {
		t.Fatalf("expected ErrProposalNotPassed on re-execute, got %v", err)
	}

	var resolvedEvents int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_events WHERE property_id = $1 AND type = 'PROPOSAL_RESOLVED'`, propertyID).Scan(&resolvedEvents); err != nil {
		t.Fatalf("count resolution events: %v", err)
	}
	if resolvedEvents != 1 {
		t.Fatalf("expected exactly one PROPOSAL_RESOLVED event, got %d", resolvedEvents)
	}
}

func TestSweepResolvesExpiredProposals(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, tbl := range []string{"share_pools", "holdings", "proposals"} {
		if !tableExists(ctx, pool, tbl) {
			t.Skipf("table %s does not exist; ensure migrations are applied", tbl)
		}
	}

	propertyID := fmt.Sprintf("prop-%d", time.Now().UnixNano())
	alice := fmt.Sprintf("alice-%d", time.Now().UnixNano())

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'property_id' = $1`, propertyID)
		pool.Exec(ctx2, `DELETE FROM ledger_events WHERE property_id = $1`, propertyID)
		pool.Exec(ctx2, `DELETE FROM votes WHERE proposal_id IN (SELECT id FROM proposals WHERE property_id = $1)`, propertyID)
		pool.Exec(ctx2, `DELETE FROM proposals WHERE property_id = $1`, propertyID)
		pool.Exec(ctx2, `DELETE FROM holdings WHERE property_id = $1`, propertyID)
		pool.Exec(ctx2, `DELETE FROM share_pools WHERE property_id = $1`, propertyID)
	})

	recorder := audit.NewRecorder()
	outbox := audit.NewOutbox()
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(pool, ledgerRepo, recorder, outbox)

	if _, err := ledgerSvc.CreatePool(ctx, ledger.CreatePoolParams{
		PropertyID:      propertyID,
		TotalShares:     100,
		PricePerShare:   decimal.NewFromInt(10),
		InitialHolderID: alice,
	}); err != nil {
		t.Fatalf("create pool: %v", err)
	}

	clk := &lockedClock{t: time.Now()}
	svc := NewService(pool, NewRepository(pool), ledgerSvc, nil, recorder, outbox, Config{
		QuorumNum:    1,
		QuorumDen:    2,
		VotingWindow: time.Hour,
	}).WithClock(clk.Now)

	proposal, err := svc.CreateProposal(ctx, CreateProposalParams{
		PropertyID: propertyID,
		ProposerID: alice,
		Title:      "Quiet proposal nobody votes on",
	})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}

	clk.Advance(2 * time.Hour)

	resolved, err := svc.ResolveExpired(ctx, 100)
	if err != nil {
		t.Fatalf("resolve expired: %v", err)
	}
	if resolved < 1 {
		t.Fatalf("expected sweep to resolve at least our proposal, got %d", resolved)
	}

	after, err := svc.Get(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if after.Status != StatusFailed {
		t.Fatalf("expected failed without quorum, got %s", after.Status)
	}
}

// lockedClock is a mutex-guarded fake clock shared across goroutines.
type lockedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *lockedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *lockedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func tableExists(ctx context.Context, pool *pgxpool.Pool, name string) bool {
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists); err != nil {
		return false
	}
	return exists
}
