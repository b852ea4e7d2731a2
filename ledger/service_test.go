package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

func TestCreatePool_IssuesFullSupply(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{}
	svc := NewService(pool, repo, &fakeRecorder{}, &fakeOutbox{})

	params := CreatePoolParams{
		PropertyID:      "prop-1",
		TotalShares:     1000,
		PricePerShare:   decimal.NewFromInt(100),
		InitialHolderID: "seller",
	}

	created, err := svc.CreatePool(context.Background(), params)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	if created.TotalShares != 1000 {
		t.Fatalf("expected total shares 1000, got %d", created.TotalShares)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
	if repo.issuedAmount != 1000 || repo.issuedHolder != "seller" {
		t.Errorf("expected full supply issued to seller, got %d to %q", repo.issuedAmount, repo.issuedHolder)
	}
}

func TestCreatePool_InvalidSupply(t *testing.T) {
	pool := &fakePool{}
	svc := NewService(pool, &fakeRepo{}, &fakeRecorder{}, &fakeOutbox{})

	_, err := svc.CreatePool(context.Background(), CreatePoolParams{
		PropertyID:      "prop-1",
		TotalShares:     0,
		InitialHolderID: "seller",
	})
	if !errors.Is(err, ErrInvalidSupply) {
		t.Fatalf("expected ErrInvalidSupply, got %v", err)
	}
	if pool.tx != nil {
		t.Error("expected no transaction for rejected supply")
	}
}

func TestCreatePool_Duplicate(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{createErr: ErrPoolAlreadyExists}
	svc := NewService(pool, repo, &fakeRecorder{}, &fakeOutbox{})

	_, err := svc.CreatePool(context.Background(), CreatePoolParams{
		PropertyID:      "prop-1",
		TotalShares:     1000,
		PricePerShare:   decimal.NewFromInt(100),
		InitialHolderID: "seller",
	})
	if !errors.Is(err, ErrPoolAlreadyExists) {
		t.Fatalf("expected ErrPoolAlreadyExists, got %v", err)
	}
	if pool.tx.committed {
		t.Error("expected rollback on duplicate pool")
	}
	if repo.issuedAmount != 0 {
		t.Error("expected no issuance after duplicate pool")
	}
}

func TestTransfer_Validation(t *testing.T) {
	pool := &fakePool{}
	svc := NewService(pool, &fakeRepo{}, &fakeRecorder{}, &fakeOutbox{})

	cases := []struct {
		name   string
		from   string
		to     string
		amount int64
	}{
		{"zero amount", "a", "b", 0},
		{"negative amount", "a", "b", -5},
		{"self transfer", "a", "a", 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Transfer(context.Background(), "prop-1", tc.from, tc.to, tc.amount)
			if !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("expected ErrInvalidAmount, got %v", err)
			}
		})
	}
	if pool.tx != nil {
		t.Error("expected no transaction for rejected transfers")
	}
}

func TestTransfer_InsufficientBalanceRollsBack(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{transferErr: ErrInsufficientBalance}
	rec := &fakeRecorder{}
	svc := NewService(pool, repo, rec, &fakeOutbox{})

	err := svc.Transfer(context.Background(), "prop-1", "a", "b", 50)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if pool.tx.committed {
		t.Error("expected rollback")
	}
	if len(rec.events) != 0 {
		t.Error("expected no events for failed transfer")
	}
}

func TestTransfer_RecordsEvent(t *testing.T) {
	pool := &fakePool{}
	rec := &fakeRecorder{}
	svc := NewService(pool, &fakeRepo{}, rec, &fakeOutbox{})

	if err := svc.Transfer(context.Background(), "prop-1", "a", "b", 50); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !pool.tx.committed {
		t.Fatal("expected commit")
	}
	if len(rec.events) != 1 || rec.events[0].eventType != "SHARES_TRANSFERRED" {
		t.Fatalf("expected one SHARES_TRANSFERRED event, got %+v", rec.events)
	}
	payload := rec.events[0].payload
	if payload["from_id"] != "a" || payload["to_id"] != "b" || payload["amount"] != int64(50) {
		t.Fatalf("unexpected event payload: %+v", payload)
	}
}

type fakeRepo struct {
	createErr    error
	issueErr     error
	transferErr  error
	issuedHolder string
	issuedAmount int64
}

func (f *fakeRepo) CreatePoolTx(ctx context.Context, tx pgx.Tx, p Pool) (Pool, error) {
	if f.createErr != nil {
		return Pool{}, f.createErr
	}
	return p, nil
}

func (f *fakeRepo) IssueTx(ctx context.Context, tx pgx.Tx, propertyID, holderID string, amount int64) error {
	if f.issueErr != nil {
		return f.issueErr
	}
	f.issuedHolder = holderID
	f.issuedAmount = amount
	return nil
}

func (f *fakeRepo) TransferTx(ctx context.Context, tx pgx.Tx, propertyID, fromID, toID string, amount int64) error {
	return f.transferErr
}

func (f *fakeRepo) GetPool(ctx context.Context, propertyID string) (Pool, error) {
	return Pool{}, ErrPoolNotFound
}

func (f *fakeRepo) BalanceOf(ctx context.Context, propertyID, holderID string) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) FreeBalanceOf(ctx context.Context, propertyID, holderID string) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) TotalIssued(ctx context.Context, propertyID string) (int64, error) {
	return 0, nil
}

type recordedEvent struct {
	propertyID string
	eventType  string
	payload    map[string]any
}

type fakeRecorder struct {
	events []recordedEvent
	err    error
}

func (f *fakeRecorder) Append(ctx context.Context, tx pgx.Tx, propertyID, eventType string, actorID *string, payload map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, recordedEvent{propertyID: propertyID, eventType: eventType, payload: payload})
	return nil
}

type fakeOutbox struct {
	topics []string
	err    error
}

func (f *fakeOutbox) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
