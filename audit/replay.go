package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type replayPayload struct {
	HolderID string `json:"holder_id"`
	FromID   string `json:"from_id"`
	ToID     string `json:"to_id"`
	Amount   int64  `json:"amount"`
}

// ReplayBalances folds the event stream for one property into per-holder
// balances. The result must match the holdings table exactly; a divergence
// means the conservation invariant was broken somewhere.
func ReplayBalances(ctx context.Context, pool *pgxpool.Pool, propertyID string) (map[string]int64, error) {
	const query = `
SELECT type, payload
FROM ledger_events
WHERE property_id = $1 AND type IN ($2, $3)
ORDER BY id
`
	rows, err := pool.Query(ctx, query, propertyID, EventSharesIssued, EventSharesTransferred)
	if err != nil {
		return nil, fmt.Errorf("audit: replay query: %w", err)
	}
	defer rows.Close()

	balances := make(map[string]int64)
	for rows.Next() {
		var (
			eventType string
			raw       []byte
		)
		if err := rows.Scan(&eventType, &raw); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}

		var p replayPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("audit: decode event payload: %w", err)
		}

		switch eventType {
		case EventSharesIssued:
			balances[p.HolderID] += p.Amount
		case EventSharesTransferred:
			balances[p.FromID] -= p.Amount
			balances[p.ToID] += p.Amount
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate events: %w", err)
	}
	return balances, nil
}
