package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Outbox enqueues messages for asynchronous delivery to the surrounding CRUD
// backend (investment/transaction mirrors, notifications). Enqueue shares the
// caller's transaction so a rolled-back trade never publishes.
type Outbox struct{}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if topic == "" {
		return fmt.Errorf("audit: missing outbox topic")
	}
	if payload == nil {
		payload = map[string]any{}
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("audit: marshal outbox payload: %w", err)
	}

	// Message ids are minted here rather than by the database so a consumer
	// can correlate retries of the same logical message.
	const insertSQL = `
INSERT INTO outbox (id, topic, payload)
VALUES ($1, $2, $3::jsonb)
`
	if _, err := tx.Exec(ctx, insertSQL, uuid.NewString(), topic, payloadBytes); err != nil {
		return fmt.Errorf("audit: enqueue outbox: %w", err)
	}
	return nil
}
