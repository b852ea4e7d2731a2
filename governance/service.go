package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"shareflow/audit"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type proposalRepository interface {
	InsertTx(ctx context.Context, tx pgx.Tx, p Proposal) (Proposal, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, proposalID string) (Proposal, error)
	Get(ctx context.Context, proposalID string) (Proposal, error)
	SetStatusTx(ctx context.Context, tx pgx.Tx, proposalID string, status Status) (Proposal, error)
	InsertVoteTx(ctx context.Context, tx pgx.Tx, v Vote) (Vote, error)
	AddVoteWeightTx(ctx context.Context, tx pgx.Tx, proposalID string, direction Direction, weight int64) error
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// shareBalances is the read-only slice of the share ledger governance needs:
// voting weight and the issued supply the quorum is derived from.
type shareBalances interface {
	BalanceOf(ctx context.Context, propertyID, holderID string) (int64, error)
	TotalIssued(ctx context.Context, propertyID string) (int64, error)
}

// RoleResolver answers whether a caller holds the admin role. Implemented by
// the identity service.
type RoleResolver interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// Executor performs the external effect a passed proposal represents.
type Executor interface {
	Execute(ctx context.Context, p Proposal) error
}

type eventRecorder interface {
	Append(ctx context.Context, tx pgx.Tx, propertyID, eventType string, actorID *string, payload map[string]any) error
}

type outboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Config carries the governance policy knobs. The quorum threshold is
// QuorumNum/QuorumDen of the pool's issued supply, computed in integer math.
type Config struct {
	QuorumNum    int64
	QuorumDen    int64
	VotingWindow time.Duration
}

// Service implements property-scoped weighted governance. Proposal rows are
// locked FOR UPDATE on every mutation, so votes, resolution, execution, and
// cancellation for one proposal are serialized.
type Service struct {
	pool     TxBeginner
	repo     proposalRepository
	shares   shareBalances
	roles    RoleResolver
	executor Executor
	recorder eventRecorder
	outbox   outboxWriter
	cfg      Config
	now      func() time.Time
}

func NewService(pool TxBeginner, repo proposalRepository, shares shareBalances, roles RoleResolver, recorder eventRecorder, outbox outboxWriter, cfg Config) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		shares:   shares,
		roles:    roles,
		recorder: recorder,
		outbox:   outbox,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithExecutor(exec Executor) *Service {
	s.executor = exec
	return s
}

// CreateProposalParams enumerates the fields required to open a proposal.
type CreateProposalParams struct {
	PropertyID  string
	ProposerID  string
	Title       string
	Description string
}

// CreateProposal opens a proposal for holders of the property. The quorum
// threshold is snapshotted from the issued supply at creation time.
func (s *Service) CreateProposal(ctx context.Context, params CreateProposalParams) (Proposal, error) {
	if params.PropertyID == "" || params.ProposerID == "" {
		return Proposal{}, fmt.Errorf("governance: missing property or proposer id")
	}
	if params.Title == "" {
		return Proposal{}, fmt.Errorf("governance: title required")
	}

	balance, err := s.shares.BalanceOf(ctx, params.PropertyID, params.ProposerID)
	if err != nil {
		return Proposal{}, err
	}
	if balance == 0 {
		return Proposal{}, ErrNoHolding
	}

	total, err := s.shares.TotalIssued(ctx, params.PropertyID)
	if err != nil {
		return Proposal{}, err
	}

	nowTime := s.now()
	proposal := Proposal{
		PropertyID:      params.PropertyID,
		ProposerID:      params.ProposerID,
		Title:           params.Title,
		Description:     params.Description,
		QuorumThreshold: total * s.cfg.QuorumNum / s.cfg.QuorumDen,
		VotingEndsAt:    nowTime.Add(s.cfg.VotingWindow),
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Proposal{}, fmt.Errorf("governance: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.InsertTx(ctx, tx, proposal)
	if err != nil {
		return Proposal{}, err
	}

	if err := s.recorder.Append(ctx, tx, created.PropertyID, audit.EventProposalCreated, &params.ProposerID, map[string]any{
		"proposal_id":      created.ID,
		"title":            created.Title,
		"quorum_threshold": created.QuorumThreshold,
		"voting_ends_at":   created.VotingEndsAt.UTC(),
	}); err != nil {
		return Proposal{}, err
	}
	if err := s.outbox.Enqueue(ctx, tx, "proposal.created", map[string]any{
		"proposal_id": created.ID,
		"property_id": created.PropertyID,
	}); err != nil {
		return Proposal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Proposal{}, fmt.Errorf("governance: commit proposal: %w", err)
	}
	return created, nil
}

// CastVote records a holder's vote. Weight is the voter's balance at this
// moment and stays fixed even if the holder later transfers shares away.
func (s *Service) CastVote(ctx context.Context, proposalID, voterID string, direction Direction) (Vote, error) {
	if proposalID == "" || voterID == "" {
		return Vote{}, fmt.Errorf("governance: missing proposal or voter id")
	}
	if direction != DirectionFor && direction != DirectionAgainst {
		return Vote{}, ErrInvalidDirection
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Vote{}, fmt.Errorf("governance: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	proposal, err := s.repo.GetForUpdateTx(ctx, tx, proposalID)
	if err != nil {
		return Vote{}, err
	}
	proposal, _, err = s.resolveTx(ctx, tx, proposal)
	if err != nil {
		return Vote{}, err
	}
	if proposal.Status != StatusActive {
		return Vote{}, ErrProposalNotActive
	}

	weight, err := s.shares.BalanceOf(ctx, proposal.PropertyID, voterID)
	if err != nil {
		return Vote{}, err
	}
	if weight == 0 {
		return Vote{}, ErrNoHolding
	}

	vote, err := s.repo.InsertVoteTx(ctx, tx, Vote{
		ProposalID: proposalID,
		VoterID:    voterID,
		Direction:  direction,
		Weight:     weight,
	})
	if err != nil {
		return Vote{}, err
	}

	if err := s.repo.AddVoteWeightTx(ctx, tx, proposalID, direction, weight); err != nil {
		return Vote{}, err
	}

	if err := s.recorder.Append(ctx, tx, proposal.PropertyID, audit.EventVoteCast, &voterID, map[string]any{
		"proposal_id": proposalID,
		"direction":   string(direction),
		"weight":      weight,
	}); err != nil {
		return Vote{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Vote{}, fmt.Errorf("governance: commit vote: %w", err)
	}
	return vote, nil
}

// ResolveIfExpired finalizes an active proposal whose voting window closed.
// Idempotent; safe to call from reads and from the periodic sweep.
func (s *Service) ResolveIfExpired(ctx context.Context, proposalID string) (Proposal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Proposal{}, fmt.Errorf("governance: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	proposal, err := s.repo.GetForUpdateTx(ctx, tx, proposalID)
	if err != nil {
		return Proposal{}, err
	}
	proposal, changed, err := s.resolveTx(ctx, tx, proposal)
	if err != nil {
		return Proposal{}, err
	}
	if !changed {
		return proposal, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return Proposal{}, fmt.Errorf("governance: commit resolution: %w", err)
	}
	return proposal, nil
}

// Execute runs the external effect of a passed proposal. The effect runs
// outside any database transaction; a failure leaves the proposal passed so
// the caller can retry.
func (s *Service) Execute(ctx context.Context, proposalID, callerID string) (Proposal, error) {
	proposal, err := s.gateExecution(ctx, proposalID, callerID)
	if err != nil {
		return Proposal{}, err
	}

	if s.executor != nil {
		if err := s.executor.Execute(ctx, proposal); err != nil {
			return Proposal{}, fmt.Errorf("governance: execute proposal %s: %w", proposalID, err)
		}
	}

	return s.markExecuted(ctx, proposalID, callerID)
}

// gateExecution resolves expiry, authorizes the caller, and confirms the
// proposal is passed. Any resolution it performs is committed even when the
// gate ultimately rejects.
func (s *Service) gateExecution(ctx context.Context, proposalID, callerID string) (Proposal, error) {
	if callerID == "" {
		return Proposal{}, fmt.Errorf("governance: missing caller id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Proposal{}, fmt.Errorf("governance: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	proposal, err := s.repo.GetForUpdateTx(ctx, tx, proposalID)
	if err != nil {
		return Proposal{}, err
	}
	proposal, changed, err := s.resolveTx(ctx, tx, proposal)
	if err != nil {
		return Proposal{}, err
	}
	if changed {
		if err := tx.Commit(ctx); err != nil {
			return Proposal{}, fmt.Errorf("governance: commit resolution: %w", err)
		}
	}

	if err := s.authorize(ctx, proposal, callerID); err != nil {
		return Proposal{}, err
	}
	if proposal.Status != StatusPassed {
		return Proposal{}, ErrProposalNotPassed
	}
	return proposal, nil
}

// markExecuted re-checks the status under lock before finalizing, in case a
// concurrent caller executed the proposal while the effect was running.
func (s *Service) markExecuted(ctx context.Context, proposalID, callerID string) (Proposal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Proposal{}, fmt.Errorf("governance: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	proposal, err := s.repo.GetForUpdateTx(ctx, tx, proposalID)
	if err != nil {
		return Proposal{}, err
	}
	if proposal.Status != StatusPassed {
		return Proposal{}, ErrProposalNotPassed
	}

	executed, err := s.repo.SetStatusTx(ctx, tx, proposalID, StatusExecuted)
	if err != nil {
		return Proposal{}, err
	}

	if err := s.recorder.Append(ctx, tx, executed.PropertyID, audit.EventProposalExecuted, &callerID, map[string]any{
		"proposal_id": executed.ID,
	}); err != nil {
		return Proposal{}, err
	}
	if err := s.outbox.Enqueue(ctx, tx, "proposal.executed", map[string]any{
		"proposal_id": executed.ID,
		"property_id": executed.PropertyID,
	}); err != nil {
		return Proposal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Proposal{}, fmt.Errorf("governance: commit execution: %w", err)
	}
	return executed, nil
}

// Cancel withdraws an active proposal before its voting window closes.
func (s *Service) Cancel(ctx context.Context, proposalID, callerID string) (Proposal, error) {
	if callerID == "" {
		return Proposal{}, fmt.Errorf("governance: missing caller id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Proposal{}, fmt.Errorf("governance: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	proposal, err := s.repo.GetForUpdateTx(ctx, tx, proposalID)
	if err != nil {
		return Proposal{}, err
	}
	proposal, _, err = s.resolveTx(ctx, tx, proposal)
	if err != nil {
		return Proposal{}, err
	}

	if err := s.authorize(ctx, proposal, callerID); err != nil {
		return Proposal{}, err
	}
	if proposal.Status != StatusActive {
		return Proposal{}, ErrProposalNotActive
	}

	cancelled, err := s.repo.SetStatusTx(ctx, tx, proposalID, StatusCancelled)
	if err != nil {
		return Proposal{}, err
	}

	if err := s.recorder.Append(ctx, tx, cancelled.PropertyID, audit.EventProposalCancelled, &callerID, map[string]any{
		"proposal_id": cancelled.ID,
	}); err != nil {
		return Proposal{}, err
	}
	if err := s.outbox.Enqueue(ctx, tx, "proposal.cancelled", map[string]any{
		"proposal_id": cancelled.ID,
		"property_id": cancelled.PropertyID,
	}); err != nil {
		return Proposal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Proposal{}, fmt.Errorf("governance: commit cancel: %w", err)
	}
	return cancelled, nil
}

// Get returns a proposal, lazily resolving it when the window has closed.
func (s *Service) Get(ctx context.Context, proposalID string) (Proposal, error) {
	proposal, err := s.repo.Get(ctx, proposalID)
	if err != nil {
		return Proposal{}, err
	}
	if proposal.Status == StatusActive && s.now().After(proposal.VotingEndsAt) {
		return s.ResolveIfExpired(ctx, proposalID)
	}
	return proposal, nil
}

// ResolveExpired sweeps active proposals past their deadline. Returns how
// many were finalized.
func (s *Service) ResolveExpired(ctx context.Context, limit int) (int, error) {
	ids, err := s.repo.ListExpiredActive(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, id := range ids {
		if _, err := s.ResolveIfExpired(ctx, id); err != nil {
			return resolved, fmt.Errorf("governance: resolve %s: %w", id, err)
		}
		resolved++
	}
	return resolved, nil
}

// resolveTx applies the expiry rule to a locked proposal: quorum met and more
// for than against passes, anything else fails. Returns the (possibly
// updated) proposal and whether a transition happened.
func (s *Service) resolveTx(ctx context.Context, tx pgx.Tx, proposal Proposal) (Proposal, bool, error) {
	if proposal.Status != StatusActive || !s.now().After(proposal.VotingEndsAt) {
		return proposal, false, nil
	}

	outcome := StatusFailed
	turnout := proposal.ForVotes + proposal.AgainstVotes
	if turnout >= proposal.QuorumThreshold && proposal.ForVotes > proposal.AgainstVotes {
		outcome = StatusPassed
	}

	updated, err := s.repo.SetStatusTx(ctx, tx, proposal.ID, outcome)
	if err != nil {
		return Proposal{}, false, err
	}

	if err := s.recorder.Append(ctx, tx, updated.PropertyID, audit.EventProposalResolved, nil, map[string]any{
		"proposal_id":   updated.ID,
		"outcome":       string(outcome),
		"for_votes":     updated.ForVotes,
		"against_votes": updated.AgainstVotes,
		"quorum":        updated.QuorumThreshold,
	}); err != nil {
		return Proposal{}, false, err
	}
	if err := s.outbox.Enqueue(ctx, tx, "proposal.resolved", map[string]any{
		"proposal_id": updated.ID,
		"property_id": updated.PropertyID,
		"outcome":     string(outcome),
	}); err != nil {
		return Proposal{}, false, err
	}

	return updated, true, nil
}

func (s *Service) authorize(ctx context.Context, proposal Proposal, callerID string) error {
	if callerID == proposal.ProposerID {
		return nil
	}
	if s.roles == nil {
		return ErrNotAuthorized
	}
	admin, err := s.roles.IsAdmin(ctx, callerID)
	if err != nil {
		return fmt.Errorf("governance: resolve caller role: %w", err)
	}
	if !admin {
		return ErrNotAuthorized
	}
	return nil
}
