// README: In-memory booking store; worker availability is delegated to the entity memory store.
package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"karigar/internal/modules/entity"
	"karigar/internal/types"
)

// WorkerLedger is the availability surface of entity.MemoryStore.
type WorkerLedger interface {
	ClaimWorker(ctx context.Context, id types.ID) error
	ReleaseWorker(ctx context.Context, id types.ID) error
	SetWorkerPresence(ctx context.Context, id types.ID, a entity.Availability) error
}

type MemoryStore struct {
	mu       sync.Mutex
	bookings map[types.ID]*Booking
	events   map[types.ID][]Event
	nextID   int64
	workers  WorkerLedger
}

func NewMemoryStore(workers WorkerLedger) *MemoryStore {
	return &MemoryStore{
		bookings: make(map[types.ID]*Booking),
		events:   make(map[types.ID][]Event),
		workers:  workers,
	}
}

func (m *MemoryStore) Create(_ context.Context, b *Booking, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; ok {
		return fmt.Errorf("booking %s already exists: %w", b.ID, types.ErrInvalidInput)
	}
	m.bookings[b.ID] = cloneBooking(b)
	m.appendEvent(e)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, types.ErrNotFound)
	}
	return cloneBooking(b), nil
}

func (m *MemoryStore) List(_ context.Context, f Filter) ([]*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Booking
	for _, b := range m.bookings {
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.CustomerID != "" && b.CustomerID != f.CustomerID {
			continue
		}
		if f.WorkerID != "" && (b.WorkerID == nil || *b.WorkerID != f.WorkerID) {
			continue
		}
		if f.Unassigned && b.WorkerID != nil {
			continue
		}
		out = append(out, cloneBooking(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Assign(ctx context.Context, p AssignParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[p.BookingID]
	if !ok {
		return fmt.Errorf("booking %s: %w", p.BookingID, types.ErrNotFound)
	}
	if b.Status != StatusPending || b.StatusVersion != p.Version {
		return ErrConflict
	}
	if err := m.workers.ClaimWorker(ctx, p.WorkerID); err != nil {
		return err
	}
	w := p.WorkerID
	at := p.At
	b.WorkerID = &w
	b.Status = StatusMatched
	b.StatusVersion++
	b.MatchedAt = &at
	b.UpdatedAt = at
	m.appendEvent(p.Event)
	return nil
}

func (m *MemoryStore) Transition(ctx context.Context, p TransitionParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[p.BookingID]
	if !ok {
		return fmt.Errorf("booking %s: %w", p.BookingID, types.ErrNotFound)
	}
	if b.Status != p.From || b.StatusVersion != p.Version {
		return ErrConflict
	}
	if p.ReleaseWorker != nil {
		if err := m.workers.ReleaseWorker(ctx, *p.ReleaseWorker); err != nil {
			return err
		}
	}
	at := p.At
	b.Status = p.To
	b.StatusVersion++
	b.UpdatedAt = at
	if p.ClearWorker {
		b.WorkerID = nil
	}
	if p.Reason != nil {
		r := *p.Reason
		b.CancelReason = &r
	}
	switch p.To {
	case StatusAccepted:
		b.AcceptedAt = &at
	case StatusInProgress:
		b.StartedAt = &at
	case StatusCompleted:
		b.CompletedAt = &at
	case StatusCancelled:
		b.CancelledAt = &at
	}
	m.appendEvent(p.Event)
	return nil
}

func (m *MemoryStore) UpdateDetails(_ context.Context, id types.ID, version int, d Details, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return fmt.Errorf("booking %s: %w", id, types.ErrNotFound)
	}
	if b.StatusVersion != version || !b.Status.Editable() {
		return ErrConflict
	}
	b.Address = d.Address
	b.City = d.City
	b.Location = clonePoint(d.Location)
	b.ScheduledAt = cloneTime(d.ScheduledAt)
	b.StatusVersion++
	b.UpdatedAt = at
	return nil
}

func (m *MemoryStore) Events(_ context.Context, id types.ID) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events[id]...), nil
}

func (m *MemoryStore) SetWorkerPresence(ctx context.Context, workerID types.ID, a entity.Availability) error {
	return m.workers.SetWorkerPresence(ctx, workerID, a)
}

func (m *MemoryStore) appendEvent(e *Event) {
	if e == nil {
		return
	}
	m.nextID++
	ev := *e
	ev.ID = m.nextID
	m.events[e.BookingID] = append(m.events[e.BookingID], ev)
}

func cloneBooking(b *Booking) *Booking {
	cb := *b
	if b.WorkerID != nil {
		w := *b.WorkerID
		cb.WorkerID = &w
	}
	if b.CancelReason != nil {
		r := *b.CancelReason
		cb.CancelReason = &r
	}
	cb.Location = clonePoint(b.Location)
	cb.ScheduledAt = cloneTime(b.ScheduledAt)
	cb.MatchedAt = cloneTime(b.MatchedAt)
	cb.AcceptedAt = cloneTime(b.AcceptedAt)
	cb.StartedAt = cloneTime(b.StartedAt)
	cb.CompletedAt = cloneTime(b.CompletedAt)
	cb.CancelledAt = cloneTime(b.CancelledAt)
	return &cb
}

func clonePoint(p *types.Point) *types.Point {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
