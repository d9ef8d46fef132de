package chaos

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Killer terminates random backends of the current database so services see
// dropped connections mid transaction.
type Killer struct {
	Interval time.Duration
	OneIn    int
	Killed   atomic.Int64
}

// Run fires until ctx is done or stop is closed.
func (k *Killer) Run(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) {
	interval := k.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if k.OneIn > 1 && rand.Intn(k.OneIn) != 0 {
				continue
			}
			var n int64
			err := pool.QueryRow(ctx, `
SELECT COUNT(*) FROM (
    SELECT pg_terminate_backend(pid) FROM pg_stat_activity
    WHERE datname = current_database() AND pid <> pg_backend_pid() AND state <> 'idle'
    ORDER BY random() LIMIT 1
) killed`).Scan(&n)
			if err == nil {
				k.Killed.Add(n)
			}
		}
	}
}
