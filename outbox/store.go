package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore claims and settles outbox rows for the relay.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// ClaimPending leases up to limit pending rows to claimToken until claimUntil.
// Rows leased by another relay are skipped rather than waited on.
func (s *PGStore) ClaimPending(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]Message, error) {
	const claimSQL = `
UPDATE outbox o
SET claim_token = $1, claimed_until = $2
WHERE o.id IN (
    SELECT id FROM outbox
    WHERE status = 'pending' AND (claimed_until IS NULL OR claimed_until < now())
    ORDER BY created_at
    FOR UPDATE SKIP LOCKED
    LIMIT $3
)
RETURNING o.id::text, o.topic, o.payload, o.attempts, o.created_at;
`
	rows, err := s.pool.Query(ctx, claimSQL, claimToken, claimUntil, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim pending: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan claimed: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate claimed: %w", err)
	}
	return out, nil
}

func (s *PGStore) MarkProcessed(ctx context.Context, id, claimToken string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE outbox SET status = 'processed', last_attempt = now(), processed_at = now(), claim_token = NULL, claimed_until = NULL
WHERE id = $1 AND claim_token = $2`, id, claimToken)
	if err != nil {
		return fmt.Errorf("outbox: mark processed: %w", err)
	}
	return nil
}

func (s *PGStore) MarkFailed(ctx context.Context, id, claimToken, reason string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE outbox SET attempts = attempts + 1, last_attempt = now(), last_error = $3, claim_token = NULL, claimed_until = NULL
WHERE id = $1 AND claim_token = $2`, id, claimToken, reason)
	if err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}

func (s *PGStore) MarkDead(ctx context.Context, id, claimToken, reason string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE outbox SET status = 'dead', attempts = attempts + 1, last_attempt = now(), last_error = $3, claim_token = NULL, claimed_until = NULL
WHERE id = $1 AND claim_token = $2`, id, claimToken, reason)
	if err != nil {
		return fmt.Errorf("outbox: mark dead: %w", err)
	}
	return nil
}
