// Package oracles holds the SQL invariants checked while the stress test runs.
// Every query returns the offending rows; an empty result passes.
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
			Name: "O1_payment_seq_contiguous",
			SQL: `SELECT agreement_id, MAX(seq), COUNT(*) FROM agreement_payments
                  GROUP BY agreement_id HAVING MAX(seq) <> COUNT(*)`,
		},
		{
			Name: "O2_timeline_seq_contiguous",
			SQL: `SELECT agreement_id, MAX(seq), COUNT(*) FROM timeline_events
                  GROUP BY agreement_id HAVING MIN(seq) <> 1 OR MAX(seq) <> COUNT(*)`,
		},
		{
			Name: "O3_terminal_without_marker",
			SQL: `SELECT id, status, pending_action FROM agreements
                  WHERE status IN ('Completed','Cancelled','Disputed') AND pending_action IS NOT NULL`,
		},
		{
			Name: "O4_funded_before_active",
			SQL: `SELECT id, status FROM agreements
                  WHERE status IN ('Active','Completed','Cancelled','Disputed')
                    AND (fund_tx_hash IS NULL OR funded_at IS NULL)`,
		},
		{
			Name: "O5_total_paid_matches_payments",
			SQL: `SELECT a.id, a.total_paid, COALESCE(SUM(p.amount::numeric), 0) AS paid
                  FROM agreements a
                  LEFT JOIN agreement_payments p ON p.agreement_id = a.id
                  WHERE a.type IN ('Rental Agreement','Subscription Agreement')
                  GROUP BY a.id, a.total_paid
                  HAVING COALESCE(a.total_paid, '0')::numeric <> COALESCE(SUM(p.amount::numeric), 0)`,
		},
		{
			Name: "O6_dispute_implies_disputed",
			SQL: `SELECT d.agreement_id, a.status FROM disputes d
                  JOIN agreements a ON a.id = d.agreement_id
                  WHERE a.status <> 'Disputed'`,
		},
		{
			Name: "O7_confirmed_has_chain_id",
			SQL: `SELECT id, status FROM agreements
                  WHERE blockchain_id IS NULL AND status <> 'Created'`,
		},
		{
			Name: "O8_outbox_stale",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now()-created_at > interval '5 minutes'`,
		},
		{
			Name: "O9_agreement_delete_guard",
			SQL: `SELECT 'missing_no_delete_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname='no_delete_agreements')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
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
