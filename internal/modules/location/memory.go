// README: In-memory tracking store with a fixed-size buffer per booking and party.
package location

import (
	"context"
	"sync"

	"karigar/internal/types"
)

type track struct {
	history map[Party][]Fix
	latest  Latest
}

type MemoryStore struct {
	mu     sync.Mutex
	tracks map[types.ID]*track
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tracks: make(map[types.ID]*track)}
}

func (m *MemoryStore) Append(_ context.Context, bookingID types.ID, f Fix, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracks[bookingID]
	if !ok {
		t = &track{history: make(map[Party][]Fix)}
		m.tracks[bookingID] = t
	}
	h := append(t.history[f.Party], f)
	if len(h) > limit {
		h = append([]Fix(nil), h[len(h)-limit:]...)
	}
	t.history[f.Party] = h

	cur := t.latest.Worker
	if f.Party == PartyCustomer {
		cur = t.latest.Customer
	}
	if cur == nil || !f.RecordedAt.Before(cur.RecordedAt) {
		t.latest.set(f)
	}
	return nil
}

func (m *MemoryStore) Latest(_ context.Context, bookingID types.ID) (Latest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracks[bookingID]
	if !ok {
		return Latest{}, nil
	}
	var out Latest
	if t.latest.Worker != nil {
		out.set(*t.latest.Worker)
	}
	if t.latest.Customer != nil {
		out.set(*t.latest.Customer)
	}
	return out, nil
}

func (m *MemoryStore) History(_ context.Context, bookingID types.ID, party Party) ([]Fix, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracks[bookingID]
	if !ok {
		return []Fix{}, nil
	}
	return append([]Fix{}, t.history[party]...), nil
}

func (m *MemoryStore) Purge(_ context.Context, bookingID types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tracks, bookingID)
	return nil
}

func (m *MemoryStore) Tracked(_ context.Context) ([]types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ID, 0, len(m.tracks))
	for id := range m.tracks {
		out = append(out, id)
	}
	return out, nil
}
