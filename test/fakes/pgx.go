// Package fakes provides in-memory stand-ins for pgx transactions so service
// tests can assert commit and rollback behaviour without a database.
package fakes

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool hands out Tx values and remembers every one of them.
type Pool struct {
	mu       sync.Mutex
	txs      []*Tx
	BeginErr error
	// CommitErr is copied into every new Tx.
	CommitErr error
}

func (p *Pool) Begin(context.Context) (pgx.Tx, error) {
	if p.BeginErr != nil {
		return nil, p.BeginErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	tx := &Tx{CommitErr: p.CommitErr}
	p.txs = append(p.txs, tx)
	return tx, nil
}

// Txs returns every transaction begun so far.
func (p *Pool) Txs() []*Tx {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Tx, len(p.txs))
	copy(out, p.txs)
	return out
}

// Last returns the most recent transaction or nil.
func (p *Pool) Last() *Tx {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.txs) == 0 {
		return nil
	}
	return p.txs[len(p.txs)-1]
}

// CommittedTopics lists outbox topics written by committed transactions.
func (p *Pool) CommittedTopics() []string {
	var topics []string
	for _, tx := range p.Txs() {
		if tx.Committed() {
			topics = append(topics, tx.Topics()...)
		}
	}
	return topics
}

// Exec is one statement seen by Tx.Exec.
type Exec struct {
	SQL  string
	Args []any
}

// Tx is a pgx.Tx that records Exec calls and replays registered undo hooks
// when rolled back before commit.
type Tx struct {
	mu         sync.Mutex
	committed  bool
	rolledBack bool
	undo       []func()
	execs      []Exec
	CommitErr  error
}

// OnRollback registers fn to run if the transaction does not commit.
func (t *Tx) OnRollback(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.undo = append(t.undo, fn)
}

// Undo registers fn on tx when tx is a fake; real transactions ignore it.
func Undo(tx pgx.Tx, fn func()) {
	if ft, ok := tx.(*Tx); ok {
		ft.OnRollback(fn)
	}
}

func (t *Tx) Committed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed
}

func (t *Tx) RolledBack() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rolledBack
}

// Topics returns the first argument of every outbox insert.
func (t *Tx) Topics() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, e := range t.execs {
		if len(e.Args) == 0 {
			continue
		}
		if topic, ok := e.Args[0].(string); ok {
			out = append(out, topic)
		}
	}
	return out
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakes: nested transactions not supported")
}

func (t *Tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.committed || t.rolledBack {
		t.mu.Unlock()
		return pgx.ErrTxClosed
	}
	if t.CommitErr != nil {
		t.mu.Unlock()
		_ = t.Rollback(ctx)
		return t.CommitErr
	}
	t.committed = true
	t.undo = nil
	t.mu.Unlock()
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	t.mu.Lock()
	if t.committed || t.rolledBack {
		t.mu.Unlock()
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	undo := t.undo
	t.undo = nil
	t.mu.Unlock()

	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
	return nil
}

func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (t *Tx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (t *Tx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.execs = append(t.execs, Exec{SQL: sql, Args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (t *Tx) Conn() *pgx.Conn {
	return nil
}
