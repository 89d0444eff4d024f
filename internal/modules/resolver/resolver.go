// README: Reference resolver expands booking references into a human-readable view; reads only.
package resolver

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"karigar/internal/modules/booking"
	"karigar/internal/modules/entity"
	"karigar/internal/types"
)

// Lookup is the batched read surface of the entity store.
type Lookup interface {
	CustomersByIDs(ctx context.Context, ids []types.ID) (map[types.ID]*entity.Customer, error)
	WorkersByIDs(ctx context.Context, ids []types.ID) (map[types.ID]*entity.Worker, error)
	ServicesByIDs(ctx context.Context, ids []types.ID) (map[types.ID]*entity.CatalogEntry, error)
}

type ServiceView struct {
	ID          types.ID    `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Price       types.Money `json:"price"`
}

type CustomerView struct {
	ID       types.ID `json:"id"`
	FullName string   `json:"full_name"`
	Phone    string   `json:"phone,omitempty"`
	Email    string   `json:"email,omitempty"`
	City     string   `json:"city,omitempty"`
}

type WorkerView struct {
	ID           types.ID            `json:"id"`
	DisplayName  string              `json:"display_name"`
	Kind         entity.WorkerKind   `json:"kind"`
	Skills       []string            `json:"skills,omitempty"`
	CrewSize     int                 `json:"crew_size,omitempty"`
	Availability entity.Availability `json:"availability"`
}

// View is a booking with its references expanded.
type View struct {
	*booking.Booking
	Service  ServiceView  `json:"service"`
	Customer CustomerView `json:"customer"`
	Worker   *WorkerView  `json:"worker"`
}

type Resolver struct {
	lookup Lookup
}

func New(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

func (r *Resolver) Resolve(ctx context.Context, b *booking.Booking) (*View, error) {
	views, err := r.ResolveMany(ctx, []*booking.Booking{b})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// ResolveMany issues one lookup per collection regardless of how many
// bookings share a reference. Output order follows the input.
func (r *Resolver) ResolveMany(ctx context.Context, bookings []*booking.Booking) ([]*View, error) {
	if len(bookings) == 0 {
		return []*View{}, nil
	}
	var serviceIDs, customerIDs, workerIDs []types.ID
	for _, b := range bookings {
		serviceIDs = append(serviceIDs, b.ServiceID)
		customerIDs = append(customerIDs, b.CustomerID)
		if b.WorkerID != nil {
			workerIDs = append(workerIDs, *b.WorkerID)
		}
	}

	var (
		services  map[types.ID]*entity.CatalogEntry
		customers map[types.ID]*entity.Customer
		workers   map[types.ID]*entity.Worker
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		services, err = r.lookup.ServicesByIDs(gctx, types.UniqueIDs(serviceIDs))
		return err
	})
	g.Go(func() (err error) {
		customers, err = r.lookup.CustomersByIDs(gctx, types.UniqueIDs(customerIDs))
		return err
	})
	if len(workerIDs) > 0 {
		g.Go(func() (err error) {
			workers, err = r.lookup.WorkersByIDs(gctx, types.UniqueIDs(workerIDs))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resolver: lookup: %w", err)
	}

	out := make([]*View, 0, len(bookings))
	for _, b := range bookings {
		sv, ok := services[b.ServiceID]
		if !ok {
			return nil, dangling(b, "service", b.ServiceID)
		}
		c, ok := customers[b.CustomerID]
		if !ok {
			return nil, dangling(b, "customer", b.CustomerID)
		}
		v := &View{
			Booking: b,
			Service: ServiceView{ID: sv.ID, Name: sv.Name, Description: sv.Description, Price: sv.Price},
			Customer: CustomerView{
				ID:       c.ID,
				FullName: c.FullName,
				Phone:    c.Phone,
				Email:    c.Email,
				City:     c.City,
			},
		}
		if b.WorkerID != nil {
			w, ok := workers[*b.WorkerID]
			if !ok {
				return nil, dangling(b, "worker", *b.WorkerID)
			}
			v.Worker = &WorkerView{
				ID:           w.ID,
				DisplayName:  w.DisplayName,
				Kind:         w.Kind,
				Skills:       w.Skills,
				CrewSize:     w.CrewSize,
				Availability: w.Availability,
			}
		}
		out = append(out, v)
	}
	return out, nil
}

func dangling(b *booking.Booking, kind string, id types.ID) error {
	return fmt.Errorf("resolver: booking %s references missing %s %s: %w", b.ID, kind, id, types.ErrDanglingReference)
}
