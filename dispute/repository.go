package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"craftmart/db"
)

var (
	ErrNotFound            = errors.New("dispute: not found")
	ErrEventNotFound       = errors.New("dispute: event not found")
	ErrActiveDisputeExists = errors.New("dispute: order already has an active dispute")
	ErrAlreadyResolved     = errors.New("dispute: already resolved")
	ErrBadStatus           = errors.New("dispute: invalid status transition")
)

const activeDisputeIndex = "disputes_one_active_per_order"

// Repository persists dispute headers and their event log.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, d Dispute) (Dispute, error)
	HasActive(ctx context.Context, tx pgx.Tx, orderID string) (bool, error)
	Get(ctx context.Context, id string) (Dispute, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Dispute, error)
	ListForOrder(ctx context.Context, orderID string) ([]Dispute, error)
	SetStatus(ctx context.Context, tx pgx.Tx, id string, from []Status, to Status) (Dispute, error)
	AppendEvent(ctx context.Context, tx pgx.Tx, ev Event) (Event, error)
	EventByClientKey(ctx context.Context, tx pgx.Tx, disputeID, authorID, key string) (Event, error)
	Events(ctx context.Context, disputeID string) ([]Event, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const disputeColumns = `id, order_id, customer_id, vendor_id, reason, description, evidence,
	status, order_status_before, last_seq, created_at, updated_at, resolved_at`

const eventColumns = `dispute_id, seq, type, author_id, author_role, message,
	COALESCE(client_key, ''), payload, created_at`

func scanDispute(row pgx.Row) (Dispute, error) {
	var (
		d        Dispute
		evidence []byte
	)
	err := row.Scan(&d.ID, &d.OrderID, &d.CustomerID, &d.VendorID, &d.Reason, &d.Description, &evidence,
		&d.Status, &d.OrderStatusBefore, &d.LastSeq, &d.CreatedAt, &d.UpdatedAt, &d.ResolvedAt)
	if err != nil {
		return Dispute{}, err
	}
	d.Evidence = []Evidence{}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &d.Evidence); err != nil {
			return Dispute{}, fmt.Errorf("dispute: decode evidence: %w", err)
		}
	}
	return d, nil
}

func scanEvent(row pgx.Row) (Event, error) {
	var (
		ev      Event
		payload []byte
	)
	if err := row.Scan(&ev.DisputeID, &ev.Seq, &ev.Type, &ev.AuthorID, &ev.Role, &ev.Message, &ev.ClientKey, &payload, &ev.CreatedAt); err != nil {
		return Event{}, err
	}
	if ev.Type == EventResolved && len(payload) > 0 {
		var d Decision
		if err := json.Unmarshal(payload, &d); err != nil {
			return Event{}, fmt.Errorf("dispute: decode decision: %w", err)
		}
		ev.Decision = &d
	}
	return ev, nil
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, d Dispute) (Dispute, error) {
	const query = `
INSERT INTO disputes (order_id, customer_id, vendor_id, reason, description, evidence, status, order_status_before)
VALUES ($1, $2, $3, $4, $5, $6, 'open', $7)
RETURNING ` + disputeColumns

	evidence := d.Evidence
	if evidence == nil {
		evidence = []Evidence{}
	}
	body, err := json.Marshal(evidence)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: encode evidence: %w", err)
	}

	created, err := scanDispute(tx.QueryRow(ctx, query, d.OrderID, d.CustomerID, d.VendorID,
		string(d.Reason), d.Description, body, string(d.OrderStatusBefore)))
	if err != nil {
		if db.IsUniqueViolation(err, activeDisputeIndex) {
			return Dispute{}, ErrActiveDisputeExists
		}
		return Dispute{}, fmt.Errorf("dispute: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) HasActive(ctx context.Context, tx pgx.Tx, orderID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM disputes WHERE order_id = $1 AND status <> 'resolved')`, orderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("dispute: has active: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Dispute, error) {
	d, err := scanDispute(r.pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get: %w", err)
	}
	return d, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Dispute, error) {
	d, err := scanDispute(tx.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get for update: %w", err)
	}
	return d, nil
}

func (r *PGRepository) ListForOrder(ctx context.Context, orderID string) ([]Dispute, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE order_id = $1 ORDER BY created_at DESC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Dispute, 0, 2)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

// SetStatus is a compare-and-set on the cached status. A miss is classified
// by re-reading the row: ErrNotFound, ErrAlreadyResolved, or ErrBadStatus.
func (r *PGRepository) SetStatus(ctx context.Context, tx pgx.Tx, id string, from []Status, to Status) (Dispute, error) {
	const query = `
UPDATE disputes
SET status = $2,
    resolved_at = CASE WHEN $2 = 'resolved' THEN now() ELSE resolved_at END,
    updated_at = now()
WHERE id = $1 AND status = ANY($3)
RETURNING ` + disputeColumns

	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	d, err := scanDispute(tx.QueryRow(ctx, query, id, string(to), allowed))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Dispute{}, fmt.Errorf("dispute: set status: %w", err)
	}

	var status Status
	if err := tx.QueryRow(ctx, `SELECT status FROM disputes WHERE id = $1`, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: set status fetch: %w", err)
	}
	if status == StatusResolved {
		return Dispute{}, ErrAlreadyResolved
	}
	return Dispute{}, ErrBadStatus
}

// AppendEvent allocates the next seq from disputes.last_seq and stamps the
// event with the database clock. Callers hold the dispute row lock.
func (r *PGRepository) AppendEvent(ctx context.Context, tx pgx.Tx, ev Event) (Event, error) {
	const query = `
WITH bumped AS (
	UPDATE disputes
	SET last_seq = last_seq + 1, updated_at = now()
	WHERE id = $1
	RETURNING last_seq
)
INSERT INTO dispute_events (dispute_id, seq, type, author_id, author_role, message, client_key, payload)
SELECT $1::uuid, bumped.last_seq, $2::text, $3::uuid, $4::text, $5::text, NULLIF($6::text, ''), $7::jsonb
FROM bumped
RETURNING ` + eventColumns

	var payload []byte
	if ev.Decision != nil {
		var err error
		if payload, err = json.Marshal(ev.Decision); err != nil {
			return Event{}, fmt.Errorf("dispute: encode decision: %w", err)
		}
	}

	stored, err := scanEvent(tx.QueryRow(ctx, query, ev.DisputeID, string(ev.Type), ev.AuthorID,
		string(ev.Role), ev.Message, ev.ClientKey, payload))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrNotFound
		}
		return Event{}, fmt.Errorf("dispute: append event: %w", err)
	}
	return stored, nil
}

func (r *PGRepository) EventByClientKey(ctx context.Context, tx pgx.Tx, disputeID, authorID, key string) (Event, error) {
	ev, err := scanEvent(tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM dispute_events WHERE dispute_id = $1 AND client_key = $2`, disputeID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrEventNotFound
		}
		return Event{}, fmt.Errorf("dispute: event by key: %w", err)
	}
	return ev, nil
}

func (r *PGRepository) Events(ctx context.Context, disputeID string) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+eventColumns+` FROM dispute_events WHERE dispute_id = $1 ORDER BY seq`, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, 8)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate events: %w", err)
	}
	return out, nil
}
