package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_share_conservation",
			SQL: `SELECT p.property_id, p.total_shares, COALESCE(SUM(h.balance),0) AS held
                  FROM share_pools p
                  LEFT JOIN holdings h ON h.property_id = p.property_id
                  GROUP BY p.property_id, p.total_shares
                  HAVING COALESCE(SUM(h.balance),0) <> p.total_shares`,
		},
		{
			Name: "O2_reservation_bounds",
			SQL: `SELECT property_id, holder_id, balance, reserved FROM holdings
                  WHERE balance < 0 OR reserved < 0 OR reserved > balance`,
		},
		{
			Name: "O3_escrow_covers_open_listings",
			SQL: `SELECT h.property_id, h.holder_id, h.reserved, COALESCE(l.open_shares,0) AS open_shares
                  FROM holdings h
                  LEFT JOIN (
                      SELECT property_id, seller_id, SUM(shares) AS open_shares
                      FROM listings WHERE status = 'open'
                      GROUP BY property_id, seller_id
                  ) l ON l.property_id = h.property_id AND l.seller_id = h.holder_id
                  WHERE h.reserved <> COALESCE(l.open_shares, 0)`,
		},
		{
			Name: "O4_vote_tally_matches_ballots",
			SQL: `SELECT p.id, p.for_votes, p.against_votes,
                         COALESCE(SUM(v.weight) FILTER (WHERE v.direction = 'for'),0) AS ballots_for,
                         COALESCE(SUM(v.weight) FILTER (WHERE v.direction = 'against'),0) AS ballots_against
                  FROM proposals p
                  LEFT JOIN votes v ON v.proposal_id = p.id
                  GROUP BY p.id, p.for_votes, p.against_votes
                  HAVING p.for_votes <> COALESCE(SUM(v.weight) FILTER (WHERE v.direction = 'for'),0)
                      OR p.against_votes <> COALESCE(SUM(v.weight) FILTER (WHERE v.direction = 'against'),0)`,
		},
		{
			Name: "O5_passed_means_quorum_and_majority",
			SQL: `SELECT id, status, for_votes, against_votes, quorum_threshold FROM proposals
                  WHERE status IN ('passed','executed')
                    AND (for_votes <= against_votes OR for_votes + against_votes < quorum_threshold)`,
		},
		{
			Name: "O6_issuance_events_match_supply",
			SQL: `SELECT p.property_id FROM share_pools p
                  JOIN (
                      SELECT property_id, SUM((payload->>'amount')::bigint) AS issued
                      FROM ledger_events WHERE type = 'SHARES_ISSUED'
                      GROUP BY property_id
                  ) e ON e.property_id = p.property_id
                  WHERE e.issued <> p.total_shares`,
		},
		{
			Name: "O7_wallet_non_negative",
			SQL:  `SELECT user_id, balance FROM wallet_accounts WHERE balance < 0`,
		},
		{
			Name: "O8_outbox_not_stuck",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
