package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Event types recorded in the ledger_events stream. The stream is append-only
// and is the tamper-evidence trail for everything that moves shares or votes.
const (
	EventPoolCreated       = "POOL_CREATED"
	EventSharesIssued      = "SHARES_ISSUED"
	EventSharesTransferred = "SHARES_TRANSFERRED"
	EventSharesReserved    = "SHARES_RESERVED"
	EventSharesReleased    = "SHARES_RELEASED"
	EventListingCreated    = "LISTING_CREATED"
	EventListingFilled     = "LISTING_FILLED"
	EventListingCancelled  = "LISTING_CANCELLED"
	EventProposalCreated   = "PROPOSAL_CREATED"
	EventVoteCast          = "VOTE_CAST"
	EventProposalResolved  = "PROPOSAL_RESOLVED"
	EventProposalExecuted  = "PROPOSAL_EXECUTED"
	EventProposalCancelled = "PROPOSAL_CANCELLED"
)

// Recorder appends immutable audit events. Append always runs inside the
// caller's transaction so the event commits or rolls back with the state
// change it describes.
type Recorder struct{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Append(ctx context.Context, tx pgx.Tx, propertyID, eventType string, actorID *string, payload map[string]any) error {
	if propertyID == "" {
		return fmt.Errorf("audit: missing property id")
	}
	if eventType == "" {
		return fmt.Errorf("audit: missing event type")
	}

	if payload == nil {
		payload = map[string]any{}
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("audit: marshal payload: %w", err)
	}

	var actor any
	if actorID != nil {
		actor = *actorID
	}

	const insertSQL = `
INSERT INTO ledger_events (property_id, type, actor_id, payload)
VALUES ($1, $2, $3, $4::jsonb)
`
	if _, err := tx.Exec(ctx, insertSQL, propertyID, eventType, actor, payloadBytes); err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}
