package infra

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Harness owns a migrated database for one suite.
type Harness struct {
	Pool      *pgxpool.Pool
	DSN       string
	container *PGContainer
	teardown  func(context.Context) error
}

// Start returns a migrated database or skips t when none is reachable. An
// override DSN or CRAFTMART_TEST_PG_DSN reuses an existing server inside an
// isolated schema; otherwise a container is started when Docker is present.
func Start(ctx context.Context, t testing.TB, overrideDSN string) *Harness {
	t.Helper()

	shared := overrideDSN != "" || os.Getenv(DSNEnv) != ""
	if !shared && !DockerAvailable(ctx) {
		t.Skipf("no database: set %s or install docker", DSNEnv)
	}

	pgC, dsn, err := StartPostgres16(ctx, overrideDSN)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	pool, teardown, err := ApplyMigrations(ctx, dsn, pgC.Shared())
	if err != nil {
		_ = pgC.Terminate(context.Background())
		t.Fatalf("apply migrations: %v", err)
	}

	h := &Harness{Pool: pool, DSN: dsn, container: pgC, teardown: teardown}
	t.Cleanup(func() { h.Close(context.Background(), t) })
	return h
}

// Close releases the pool and drops whatever Start created.
func (h *Harness) Close(ctx context.Context, t testing.TB) {
	h.Pool.Close()
	if err := h.teardown(ctx); err != nil {
		t.Logf("teardown warning: %v", err)
	}
	if err := h.container.Terminate(ctx); err != nil {
		t.Logf("terminate warning: %v", err)
	}
}

// Reset truncates mutable tables so a suite can reseed between cases.
func (h *Harness) Reset(ctx context.Context) error {
	const stmt = `TRUNCATE TABLE outbox, settlement_decisions, dispute_events, disputes,
payments, order_items, orders, products, vendors, users CASCADE`
	if _, err := h.Pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("infra: reset: %w", err)
	}
	return nil
}

// DockerAvailable reports whether a usable docker daemon answers.
func DockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
