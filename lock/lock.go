// Package lock provides a single-writer lock scoped to one resource key.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrLockBusy signals the key is held by another writer past the wait budget.
var ErrLockBusy = errors.New("lock: busy")

// Release gives the lock back. It is safe to call more than once.
type Release func()

// Locker acquires exclusive access to key.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// RedisOptions tunes the redsync mutex.
type RedisOptions struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// RedisLocker is a cross-process Locker backed by redsync.
type RedisLocker struct {
	rs   *redsync.Redsync
	opts RedisOptions
}

// NewRedisLocker builds a redsync locker over client.
func NewRedisLocker(client *redis.Client, opts RedisOptions) *RedisLocker {
	if opts.Expiry <= 0 {
		opts.Expiry = 10 * time.Second
	}
	if opts.Tries <= 0 {
		opts.Tries = 20
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 50 * time.Millisecond
	}
	return &RedisLocker{rs: redsync.New(goredis.NewPool(client)), opts: opts}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	mu := l.rs.NewMutex("lock:"+key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)
	if err := mu.LockContext(ctx); err != nil {
		if errors.Is(err, redsync.ErrFailed) {
			return nil, fmt.Errorf("%w: %s", ErrLockBusy, key)
		}
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The lock expires on its own if unlock cannot reach redis.
			_, _ = mu.UnlockContext(context.Background())
		})
	}, nil
}

// LocalLocker is an in-process Locker keyed by resource.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (Release, error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, s)
		return nil, fmt.Errorf("%w: %s: %v", ErrLockBusy, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(key, s)
		})
	}, nil
}

func (l *LocalLocker) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
