package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"craftmart/db"
)

var (
	ErrAlreadySettled = errors.New("settlement: dispute already settled")
	ErrNotFound       = errors.New("settlement: record not found")
)

// Store persists settlement records.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, rec Record) error
	Get(ctx context.Context, disputeID string) (Record, error)
}

type PGStore struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Insert(ctx context.Context, tx pgx.Tx, rec Record) error {
	const query = `
INSERT INTO settlement_decisions (dispute_id, order_id, action, refund_amount, note, decided_by, decided_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.Exec(ctx, query, rec.DisputeID, rec.OrderID, string(rec.Action), rec.RefundAmount, rec.Note, rec.DecidedBy, rec.DecidedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return ErrAlreadySettled
		}
		return fmt.Errorf("settlement: insert: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, disputeID string) (Record, error) {
	const query = `
SELECT dispute_id, order_id, action, refund_amount, note, decided_by, decided_at
FROM settlement_decisions
WHERE dispute_id = $1`

	var rec Record
	err := s.pool.QueryRow(ctx, query, disputeID).
		Scan(&rec.DisputeID, &rec.OrderID, &rec.Action, &rec.RefundAmount, &rec.Note, &rec.DecidedBy, &rec.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("settlement: get: %w", err)
	}
	return rec, nil
}
