// README: In-memory entity store for tests and --memory runs; also holds worker availability for the in-memory booking store.
package entity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"karigar/internal/types"
)

type MemoryStore struct {
	mu        sync.RWMutex
	users     map[types.ID]*User
	emails    map[string]types.ID
	customers map[types.ID]*Customer
	workers   map[types.ID]*Worker
	services  map[types.ID]*CatalogEntry

	// lookups counts batched lookup calls per collection.
	lookups map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[types.ID]*User),
		emails:    make(map[string]types.ID),
		customers: make(map[types.ID]*Customer),
		workers:   make(map[types.ID]*Worker),
		services:  make(map[types.ID]*CatalogEntry),
		lookups:   make(map[string]int),
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, u *User, c *Customer, w *Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := m.emails[key]; ok {
		return ErrEmailTaken
	}
	cu := *u
	m.users[u.ID] = &cu
	m.emails[key] = u.ID
	if c != nil {
		cc := *c
		m.customers[c.ID] = &cc
	}
	if w != nil {
		cw := cloneWorker(w)
		m.workers[w.ID] = cw
	}
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id types.ID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("entity: user %s: %w", id, types.ErrNotFound)
	}
	cu := *u
	return &cu, nil
}

func (m *MemoryStore) SetUserActive(_ context.Context, id types.ID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("entity: user %s: %w", id, types.ErrNotFound)
	}
	u.Active = active
	u.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) GetCustomer(_ context.Context, id types.ID) (*Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, fmt.Errorf("entity: customer %s: %w", id, types.ErrNotFound)
	}
	cc := *c
	return &cc, nil
}

func (m *MemoryStore) CustomersByIDs(_ context.Context, ids []types.ID) (map[types.ID]*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups["customers"]++
	out := make(map[types.ID]*Customer, len(ids))
	for _, id := range ids {
		if c, ok := m.customers[id]; ok {
			cc := *c
			out[id] = &cc
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteCustomer(_ context.Context, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[id]; !ok {
		return fmt.Errorf("entity: customer %s: %w", id, types.ErrNotFound)
	}
	delete(m.customers, id)
	return nil
}

func (m *MemoryStore) GetWorker(_ context.Context, id types.ID) (*Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[id]
	if !ok {
		return nil, fmt.Errorf("entity: worker %s: %w", id, types.ErrNotFound)
	}
	return cloneWorker(w), nil
}

func (m *MemoryStore) WorkerByUser(_ context.Context, userID types.ID) (*Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.workers {
		if w.UserID == userID {
			return cloneWorker(w), nil
		}
	}
	return nil, fmt.Errorf("entity: no worker profile for user %s: %w", userID, types.ErrNotFound)
}

func (m *MemoryStore) WorkersByIDs(_ context.Context, ids []types.ID) (map[types.ID]*Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups["workers"]++
	out := make(map[types.ID]*Worker, len(ids))
	for _, id := range ids {
		if w, ok := m.workers[id]; ok {
			out[id] = cloneWorker(w)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateWorkerProfile(_ context.Context, id types.ID, p WorkerPatch) (*Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return nil, fmt.Errorf("entity: worker %s: %w", id, types.ErrNotFound)
	}
	if p.DisplayName != nil {
		w.DisplayName = *p.DisplayName
	}
	if p.Bio != nil {
		w.Bio = *p.Bio
	}
	if p.Skills != nil {
		w.Skills = append([]string(nil), p.Skills...)
	}
	if p.ServiceRadiusKm != nil {
		w.ServiceRadiusKm = *p.ServiceRadiusKm
	}
	if p.BasePrice != nil {
		w.BasePrice = *p.BasePrice
	}
	if p.CrewSize != nil {
		w.CrewSize = *p.CrewSize
	}
	w.UpdatedAt = time.Now()
	return cloneWorker(w), nil
}

func (m *MemoryStore) UpdateWorkerLocation(_ context.Context, id types.ID, p types.Point, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return fmt.Errorf("entity: worker %s: %w", id, types.ErrNotFound)
	}
	if w.LastLocationAt != nil && w.LastLocationAt.After(at) {
		return nil
	}
	pt := p
	w.LastLocation = &pt
	w.LastLocationAt = &at
	return nil
}

// ClaimWorker marks the worker busy. Called only by the booking store.
func (m *MemoryStore) ClaimWorker(_ context.Context, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return fmt.Errorf("entity: worker %s: %w", id, types.ErrInvalidInput)
	}
	if w.Availability == AvailabilityBusy {
		return fmt.Errorf("entity: worker %s is busy: %w", id, types.ErrWorkerUnavailable)
	}
	w.Availability = AvailabilityBusy
	w.UpdatedAt = time.Now()
	return nil
}

// ReleaseWorker puts the worker back online. Called only by the booking store.
func (m *MemoryStore) ReleaseWorker(_ context.Context, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return nil
	}
	w.Availability = AvailabilityOnline
	w.UpdatedAt = time.Now()
	return nil
}

// SetWorkerPresence toggles online/offline for an idle worker. Called only by the booking store.
func (m *MemoryStore) SetWorkerPresence(_ context.Context, id types.ID, a Availability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return fmt.Errorf("entity: worker %s: %w", id, types.ErrNotFound)
	}
	if w.Availability == AvailabilityBusy {
		return fmt.Errorf("entity: worker %s is busy: %w", id, types.ErrWorkerUnavailable)
	}
	w.Availability = a
	w.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CreateService(_ context.Context, sv *CatalogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := *sv
	m.services[sv.ID] = &cs
	return nil
}

func (m *MemoryStore) GetService(_ context.Context, id types.ID) (*CatalogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sv, ok := m.services[id]
	if !ok {
		return nil, fmt.Errorf("entity: service %s: %w", id, types.ErrNotFound)
	}
	cs := *sv
	return &cs, nil
}

func (m *MemoryStore) ServicesByIDs(_ context.Context, ids []types.ID) (map[types.ID]*CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups["services"]++
	out := make(map[types.ID]*CatalogEntry, len(ids))
	for _, id := range ids {
		if sv, ok := m.services[id]; ok {
			cs := *sv
			out[id] = &cs
		}
	}
	return out, nil
}

func (m *MemoryStore) ListServices(_ context.Context) ([]*CatalogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*CatalogEntry, 0, len(m.services))
	for _, sv := range m.services {
		cs := *sv
		out = append(out, &cs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// LookupCount reports how many batched lookups hit the named collection.
func (m *MemoryStore) LookupCount(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookups[collection]
}

func cloneWorker(w *Worker) *Worker {
	cw := *w
	cw.Skills = append([]string(nil), w.Skills...)
	if w.LastLocation != nil {
		p := *w.LastLocation
		cw.LastLocation = &p
	}
	if w.LastLocationAt != nil {
		t := *w.LastLocationAt
		cw.LastLocationAt = &t
	}
	return &cw
}
