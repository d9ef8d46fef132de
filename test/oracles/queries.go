package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the system is healthy.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_active_dispute_per_order",
			SQL: `SELECT order_id, COUNT(*) FROM disputes
                  WHERE status <> 'resolved'
                  GROUP BY order_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_dispute_seq_contiguous",
			SQL: `WITH seqs AS (
                      SELECT dispute_id, seq,
                             ROW_NUMBER() OVER (PARTITION BY dispute_id ORDER BY seq) AS rn
                      FROM dispute_events)
                  SELECT s.* FROM seqs s
                  WHERE s.seq <> s.rn
                  UNION ALL
                  SELECT d.id, d.last_seq, 0 FROM disputes d
                  WHERE d.last_seq <> (SELECT COALESCE(MAX(seq), 0) FROM dispute_events e WHERE e.dispute_id = d.id)`,
		},
		{
			Name: "O3_refund_within_total",
			SQL: `SELECT p.id, p.refunded_amount, o.total FROM payments p
                  JOIN orders o ON o.id = p.order_id
                  WHERE p.refunded_amount > o.total`,
		},
		{
			Name: "O4_settled_payment_matches_total",
			SQL: `SELECT p.id, p.amount, o.total FROM payments p
                  JOIN orders o ON o.id = p.order_id
                  WHERE p.status IN ('successful', 'refunded') AND p.amount <> o.total`,
		},
		{
			Name: "O5_one_decision_per_resolution",
			SQL: `SELECT d.id, d.status FROM disputes d
                  LEFT JOIN settlement_decisions s ON s.dispute_id = d.id
                  WHERE (d.status = 'resolved') <> (s.dispute_id IS NOT NULL)
                     OR (d.status = 'resolved') <> EXISTS (
                            SELECT 1 FROM dispute_events e WHERE e.dispute_id = d.id AND e.type = 'resolved')`,
		},
		{
			Name: "O6_order_reflects_dispute",
			SQL: `SELECT o.id, o.status FROM orders o
                  WHERE (o.status = 'disputed') <> EXISTS (
                      SELECT 1 FROM disputes d WHERE d.order_id = o.id AND d.status <> 'resolved')`,
		},
		{
			Name: "O7_refund_matches_decision",
			SQL: `SELECT o.id, o.status, p.status, p.refunded_amount FROM orders o
                  JOIN payments p ON p.order_id = o.id AND p.status IN ('successful', 'refunded')
                  LEFT JOIN settlement_decisions s ON s.order_id = o.id AND s.action <> 'deny_claim'
                  WHERE (o.status = 'refunded') <> (p.status = 'refunded')
                     OR (o.status = 'refunded' AND (s.dispute_id IS NULL OR s.refund_amount <> p.refunded_amount))`,
		},
		{
			Name: "O8_outbox_drained",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes every oracle and returns the first failure (name and a sample
// row) or an empty name when all pass.
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
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
