package governance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const proposalColumns = `id, property_id, proposer_id, title, description,
for_votes, against_votes, quorum_threshold, status::text, voting_ends_at, created_at`

// Repository owns the proposals and votes tables.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanProposal(row pgx.Row) (Proposal, error) {
	var p Proposal
	err := row.Scan(&p.ID, &p.PropertyID, &p.ProposerID, &p.Title, &p.Description,
		&p.ForVotes, &p.AgainstVotes, &p.QuorumThreshold, &p.Status, &p.VotingEndsAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Proposal{}, ErrProposalNotFound
	}
	if err != nil {
		return Proposal{}, fmt.Errorf("governance: scan proposal: %w", err)
	}
	return p, nil
}

// InsertTx creates a proposal in the active state.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, p Proposal) (Proposal, error) {
	const insertSQL = `
INSERT INTO proposals (property_id, proposer_id, title, description, quorum_threshold, voting_ends_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + proposalColumns

	return scanProposal(tx.QueryRow(ctx, insertSQL,
		p.PropertyID, p.ProposerID, p.Title, p.Description, p.QuorumThreshold, p.VotingEndsAt))
}

// GetForUpdateTx loads a proposal and locks its row, serializing votes,
// resolution, execution, and cancellation for the same proposal.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, proposalID string) (Proposal, error) {
	const query = `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1 FOR UPDATE`
	return scanProposal(tx.QueryRow(ctx, query, proposalID))
}

// Get loads a proposal without locking.
func (r *Repository) Get(ctx context.Context, proposalID string) (Proposal, error) {
	const query = `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`
	return scanProposal(r.pool.QueryRow(ctx, query, proposalID))
}

// SetStatusTx transitions a proposal's status.
func (r *Repository) SetStatusTx(ctx context.Context, tx pgx.Tx, proposalID string, status Status) (Proposal, error) {
	const updateSQL = `
UPDATE proposals
SET status = $2::proposal_status
WHERE id = $1
RETURNING ` + proposalColumns

	return scanProposal(tx.QueryRow(ctx, updateSQL, proposalID, status))
}

// InsertVoteTx records a holder's vote. The primary key on
// (proposal_id, voter_id) enforces one vote per holder.
func (r *Repository) InsertVoteTx(ctx context.Context, tx pgx.Tx, v Vote) (Vote, error) {
	const insertSQL = `
INSERT INTO votes (proposal_id, voter_id, direction, weight)
VALUES ($1, $2, $3::vote_direction, $4)
RETURNING proposal_id, voter_id, direction::text, weight, voted_at
`
	var created Vote
	err := tx.QueryRow(ctx, insertSQL, v.ProposalID, v.VoterID, v.Direction, v.Weight).
		Scan(&created.ProposalID, &created.VoterID, &created.Direction, &created.Weight, &created.VotedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Vote{}, ErrAlreadyVoted
		}
		return Vote{}, fmt.Errorf("governance: insert vote: %w", err)
	}
	return created, nil
}

// AddVoteWeightTx adds a vote's weight to the proposal tally. The caller
// holds the proposal row lock.
func (r *Repository) AddVoteWeightTx(ctx context.Context, tx pgx.Tx, proposalID string, direction Direction, weight int64) error {
	var column string
	switch direction {
	case DirectionFor:
		column = "for_votes"
	case DirectionAgainst:
		column = "against_votes"
	default:
		return ErrInvalidDirection
	}

	updateSQL := fmt.Sprintf(`UPDATE proposals SET %s = %s + $2 WHERE id = $1`, column, column)
	if _, err := tx.Exec(ctx, updateSQL, proposalID, weight); err != nil {
		return fmt.Errorf("governance: add vote weight: %w", err)
	}
	return nil
}

// Votes returns all recorded votes for a proposal.
func (r *Repository) Votes(ctx context.Context, proposalID string) ([]Vote, error) {
	const query = `
SELECT proposal_id, voter_id, direction::text, weight, voted_at
FROM votes
WHERE proposal_id = $1
ORDER BY voted_at
`
	rows, err := r.pool.Query(ctx, query, proposalID)
	if err != nil {
		return nil, fmt.Errorf("governance: list votes: %w", err)
	}
	defer rows.Close()

	out := make([]Vote, 0, 8)
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.ProposalID, &v.VoterID, &v.Direction, &v.Weight, &v.VotedAt); err != nil {
			return nil, fmt.Errorf("governance: scan vote: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("governance: iterate votes: %w", err)
	}
	return out, nil
}

// ListExpiredActive returns ids of active proposals whose voting window has
// closed, for the periodic sweep.
func (r *Repository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]string, error) {
	const query = `
SELECT id
FROM proposals
WHERE status = 'active' AND voting_ends_at < $1
ORDER BY voting_ends_at
LIMIT $2
`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("governance: list expired: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("governance: scan expired id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("governance: iterate expired ids: %w", err)
	}
	return ids, nil
}

// ListByProperty returns proposals for a property, newest first.
func (r *Repository) ListByProperty(ctx context.Context, propertyID string) ([]Proposal, error) {
	const query = `SELECT ` + proposalColumns + ` FROM proposals WHERE property_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, propertyID)
	if err != nil {
		return nil, fmt.Errorf("governance: list proposals: %w", err)
	}
	defer rows.Close()

	out := make([]Proposal, 0, 8)
	for rows.Next() {
		var p Proposal
		if err := rows.Scan(&p.ID, &p.PropertyID, &p.ProposerID, &p.Title, &p.Description,
			&p.ForVotes, &p.AgainstVotes, &p.QuorumThreshold, &p.Status, &p.VotingEndsAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("governance: scan proposal: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("governance: iterate proposals: %w", err)
	}
	return out, nil
}
