package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence the relay needs.
type Store interface {
	ClaimPending(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]Message, error)
	MarkProcessed(ctx context.Context, id, claimToken string) error
	MarkFailed(ctx context.Context, id, claimToken, reason string) error
	MarkDead(ctx context.Context, id, claimToken, reason string) error
}

// Publisher delivers one message to downstream consumers (notifications,
// refund execution).
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// LogPublisher writes each message as a structured log line.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, msg Message) error {
	p.Logger.InfoContext(ctx, "outbox message published",
		"module", "outbox",
		"operation", "publish",
		"outbox_id", msg.ID,
		"topic", msg.Topic,
		"payload", string(msg.Payload),
	)
	return nil
}

// RelayConfig tunes the relay loop. Zero values take defaults.
type RelayConfig struct {
	Interval    time.Duration
	BatchSize   int
	ClaimTTL    time.Duration
	MaxAttempts int
}

// Relay drains pending outbox rows to a Publisher.
type Relay struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	cfg       RelayConfig
	now       func() time.Time
}

func NewRelay(store Store, publisher Publisher, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{store: store, publisher: publisher, logger: logger, cfg: cfg, now: time.Now}
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "outbox iteration failed",
				"module", "outbox",
				"operation", "process_once",
				"outcome", "failure",
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// BatchResult counts what one pass did.
type BatchResult struct {
	Published    int
	Failed       int
	DeadLettered int
}

// ProcessOnce claims one batch and settles every message in it.
func (r *Relay) ProcessOnce(ctx context.Context) (BatchResult, error) {
	token := uuid.NewString()
	msgs, err := r.store.ClaimPending(ctx, r.cfg.BatchSize, token, r.now().Add(r.cfg.ClaimTTL))
	if err != nil {
		return BatchResult{}, err
	}

	var res BatchResult
	for _, msg := range msgs {
		pubErr := r.publisher.Publish(ctx, msg)
		if pubErr == nil {
			res.Published++
			if err := r.store.MarkProcessed(ctx, msg.ID, token); err != nil {
				return res, err
			}
			continue
		}

		res.Failed++
		if msg.Attempts+1 >= r.cfg.MaxAttempts {
			res.DeadLettered++
			r.logger.ErrorContext(ctx, "outbox message dead-lettered",
				"module", "outbox",
				"operation", "publish",
				"outcome", "failure",
				"outbox_id", msg.ID,
				"topic", msg.Topic,
				"attempts", msg.Attempts+1,
				"error", pubErr,
			)
			if err := r.store.MarkDead(ctx, msg.ID, token, pubErr.Error()); err != nil {
				return res, err
			}
			continue
		}

		r.logger.WarnContext(ctx, "outbox publish failed; retry scheduled",
			"module", "outbox",
			"operation", "publish",
			"outcome", "failure",
			"outbox_id", msg.ID,
			"topic", msg.Topic,
			"attempts", msg.Attempts+1,
			"error", pubErr,
		)
		if err := r.store.MarkFailed(ctx, msg.ID, token, pubErr.Error()); err != nil {
			return res, err
		}
	}

	if len(msgs) > 0 {
		r.logger.InfoContext(ctx, "outbox batch processed",
			"module", "outbox",
			"operation", "process_once",
			"outcome", "success",
			"batch_size", len(msgs),
			"published_count", res.Published,
			"failed_count", res.Failed,
			"dead_lettered_count", res.DeadLettered,
		)
	}
	return res, nil
}
