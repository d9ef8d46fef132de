// Package outbox records integration events in the caller's transaction and
// relays them to a publisher after commit.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	TopicOrderCreated     = "order.created"
	TopicPaymentRecorded  = "payment.recorded"
	TopicDisputeOpened    = "dispute.opened"
	TopicDisputeResponded = "dispute.responded"
	TopicDisputeResolved  = "dispute.resolved"
)

// Message is one outbox row.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
}

// Writer inserts outbox rows inside an open transaction.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// Enqueue appends a pending message. The row becomes visible to the relay
// only if tx commits.
func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if topic == "" {
		return fmt.Errorf("outbox: empty topic")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}

	const insertSQL = `
INSERT INTO outbox (topic, payload)
VALUES ($1, $2);
`
	if _, err := tx.Exec(ctx, insertSQL, topic, body); err != nil {
		return fmt.Errorf("outbox: insert message: %w", err)
	}
	return nil
}
