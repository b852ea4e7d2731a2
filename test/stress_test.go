package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"shareflow/audit"
	"shareflow/governance"
	"shareflow/ledger"
	"shareflow/market"
	"shareflow/test/actors"
	"shareflow/test/chaos"
	"shareflow/test/infra"
	"shareflow/test/oracles"
	"shareflow/wallet"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func seedRNG(seed int64) { rand.Seed(seed) }

func TestLedgerConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	seedData := mustSeed(t, ctx, pool)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	// traders competing over the same pool's listings
	for i := 0; i < *flConcurrency; i++ {
		holder := seedData.holders[i%len(seedData.holders)]
		g.Go(func() error {
			return actors.Trader(ctx2, seedData.market, seedData.ledger, seedData.propertyID, holder, stop)
		})
	}
	// direct transfers between neighbouring holders
	for i := range seedData.holders {
		from := seedData.holders[i]
		to := seedData.holders[(i+1)%len(seedData.holders)]
		g.Go(func() error {
			return actors.Transferer(ctx2, seedData.ledger, seedData.propertyID, from, to, stop)
		})
	}
	// every holder keeps trying to vote
	for _, holder := range seedData.holders {
		voter := holder
		g.Go(func() error {
			return actors.Voter(ctx2, seedData.governance, seedData.proposalID, voter, stop)
		})
	}
	// outbox worker draining the queue
	g.Go(func() error { return actors.OutboxWorker(ctx2, pool, stop) })
	// chaos: kill random backend
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	// one last look once everything has settled
	name, row, err := oracles.Run(context.Background(), pool)
	if err != nil {
		t.Fatalf("final oracle error: %v", err)
	}
	if name != "" {
		dumpRecent(t, context.Background(), pool)
		t.Fatalf("Final oracle %s failed. First row: %s (seed=%d)", name, row, seed)
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	propertyID string
	proposalID string
	holders    []string

	ledger     *ledger.Service
	market     *market.Service
	governance *governance.Service
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) seedIDs {
	t.Helper()

	recorder := audit.NewRecorder()
	outbox := audit.NewOutbox()
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(pool, ledgerRepo, recorder, outbox)
	walletRepo := wallet.NewRepository(pool)
	walletSvc := wallet.NewService(pool, walletRepo, outbox)
	marketSvc := market.NewService(pool, market.NewRepository(pool), ledgerRepo, walletRepo, recorder, outbox)
	governanceSvc := governance.NewService(pool, governance.NewRepository(pool), ledgerSvc, nil, recorder, outbox, governance.Config{
		QuorumNum:    1,
		QuorumDen:    2,
		VotingWindow: 24 * time.Hour,
	})

	s := seedIDs{
		propertyID: fmt.Sprintf("prop-stress-%d", rand.Int63()),
		ledger:     ledgerSvc,
		market:     marketSvc,
		governance: governanceSvc,
	}
	for i := 0; i < 4; i++ {
		s.holders = append(s.holders, fmt.Sprintf("holder-%d-%d", i, rand.Int63()))
	}

	if _, err := ledgerSvc.CreatePool(ctx, ledger.CreatePoolParams{
		PropertyID:      s.propertyID,
		TotalShares:     10_000,
		PricePerShare:   decimal.NewFromInt(100),
		InitialHolderID: s.holders[0],
	}); err != nil {
		t.Fatalf("seed pool: %v", err)
	}
	for _, holder := range s.holders[1:] {
		if err := ledgerSvc.Transfer(ctx, s.propertyID, s.holders[0], holder, 2_000); err != nil {
			t.Fatalf("seed transfer to %s: %v", holder, err)
		}
	}
	for _, holder := range s.holders {
		if err := walletSvc.Deposit(ctx, holder, decimal.NewFromInt(1_000_000)); err != nil {
			t.Fatalf("seed wallet %s: %v", holder, err)
		}
	}

	proposal, err := governanceSvc.CreateProposal(ctx, governance.CreateProposalParams{
		PropertyID: s.propertyID,
		ProposerID: s.holders[0],
		Title:      "Stress proposal",
	})
	if err != nil {
		t.Fatalf("seed proposal: %v", err)
	}
	s.proposalID = proposal.ID

	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"holdings", `SELECT property_id, holder_id, balance, reserved FROM holdings ORDER BY property_id, holder_id LIMIT 50`},
		{"listings", `SELECT id, property_id, seller_id, shares, status FROM listings ORDER BY created_at DESC LIMIT 50`},
		{"proposals", `SELECT id, property_id, status, for_votes, against_votes, quorum_threshold FROM proposals ORDER BY created_at DESC LIMIT 50`},
		{"ledger_events", `SELECT id, property_id, type, created_at FROM ledger_events ORDER BY id DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
