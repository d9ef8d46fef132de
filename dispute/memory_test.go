package dispute

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"craftmart/settlement"
	"craftmart/test/fakes"
)

// memRepo is an in-memory Repository whose writes are undone on rollback.
type memRepo struct {
	mu       sync.Mutex
	disputes map[string]Dispute
	events   map[string][]Event
}

func newMemRepo() *memRepo {
	return &memRepo{disputes: make(map[string]Dispute), events: make(map[string][]Event)}
}

func (m *memRepo) put(tx pgx.Tx, d Dispute) {
	prev, existed := m.disputes[d.ID]
	m.disputes[d.ID] = d
	fakes.Undo(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existed {
			m.disputes[d.ID] = prev
		} else {
			delete(m.disputes, d.ID)
		}
	})
}

func (m *memRepo) Insert(_ context.Context, tx pgx.Tx, d Dispute) (Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.disputes {
		if other.OrderID == d.OrderID && other.Status.Active() {
			return Dispute{}, ErrActiveDisputeExists
		}
	}
	d.ID = uuid.NewString()
	d.Status = StatusOpen
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	if d.Evidence == nil {
		d.Evidence = []Evidence{}
	}
	m.put(tx, d)
	return d, nil
}

func (m *memRepo) HasActive(_ context.Context, _ pgx.Tx, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.disputes {
		if d.OrderID == orderID && d.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) Get(_ context.Context, id string) (Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok {
		return Dispute{}, ErrNotFound
	}
	return d, nil
}

func (m *memRepo) GetForUpdate(ctx context.Context, _ pgx.Tx, id string) (Dispute, error) {
	return m.Get(ctx, id)
}

func (m *memRepo) ListForOrder(_ context.Context, orderID string) ([]Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Dispute{}
	for _, d := range m.disputes {
		if d.OrderID == orderID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepo) SetStatus(_ context.Context, tx pgx.Tx, id string, from []Status, to Status) (Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok {
		return Dispute{}, ErrNotFound
	}
	for _, s := range from {
		if d.Status == s {
			d.Status = to
			d.UpdatedAt = time.Now().UTC()
			if to == StatusResolved {
				at := d.UpdatedAt
				d.ResolvedAt = &at
			}
			m.put(tx, d)
			return d, nil
		}
	}
	if d.Status == StatusResolved {
		return Dispute{}, ErrAlreadyResolved
	}
	return Dispute{}, ErrBadStatus
}

func (m *memRepo) AppendEvent(_ context.Context, tx pgx.Tx, ev Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[ev.DisputeID]
	if !ok {
		return Event{}, ErrNotFound
	}
	d.LastSeq++
	m.put(tx, d)
	ev.Seq = d.LastSeq
	ev.CreatedAt = time.Now().UTC()
	m.events[d.ID] = append(m.events[d.ID], ev)
	fakes.Undo(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.events[ev.DisputeID]
		for i := range list {
			if list[i].Seq == ev.Seq {
				m.events[ev.DisputeID] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	})
	return ev, nil
}

func (m *memRepo) EventByClientKey(_ context.Context, _ pgx.Tx, disputeID, authorID, key string) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events[disputeID] {
		if ev.AuthorID == authorID && ev.ClientKey == key {
			return ev, nil
		}
	}
	return Event{}, ErrEventNotFound
}

func (m *memRepo) Events(_ context.Context, disputeID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events[disputeID]))
	copy(out, m.events[disputeID])
	return out, nil
}

// memDecisions is an in-memory settlement.Store.
type memDecisions struct {
	mu      sync.Mutex
	records map[string]settlement.Record
}

func newMemDecisions() *memDecisions {
	return &memDecisions{records: make(map[string]settlement.Record)}
}

func (m *memDecisions) Insert(_ context.Context, tx pgx.Tx, rec settlement.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.DisputeID]; ok {
		return settlement.ErrAlreadySettled
	}
	m.records[rec.DisputeID] = rec
	fakes.Undo(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.records, rec.DisputeID)
	})
	return nil
}

func (m *memDecisions) Get(_ context.Context, disputeID string) (settlement.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[disputeID]
	if !ok {
		return settlement.Record{}, settlement.ErrNotFound
	}
	return rec, nil
}

func (m *memDecisions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
