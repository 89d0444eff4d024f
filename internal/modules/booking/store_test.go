// README: Postgres booking store tests (run with KARIGAR_TEST_DSN or KARIGAR_TEST_CONTAINERS=1).
package booking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"karigar/internal/modules/entity"
	"karigar/internal/testutil/pgtest"
	"karigar/internal/types"
)

func newPGFixture(t *testing.T) (*Service, *entity.Service, types.ID, types.ID) {
	t.Helper()
	db := pgtest.Pool(t)
	log := slog.New(slog.DiscardHandler)
	dir := entity.NewService(entity.NewStore(db), log)
	svc := NewService(Deps{Store: NewStore(db), Directory: dir, Logger: log})

	ctx := context.Background()
	c, err := dir.Register(ctx, entity.RegisterCommand{Email: "c@example.com", Password: "password1", Role: types.RoleCustomer, DisplayName: "C"})
	if err != nil {
		t.Fatalf("register customer: %v", err)
	}
	sv, err := dir.CreateService(ctx, entity.CreateServiceCommand{Name: "Electrician", Price: types.Money{Amount: 30000}})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return svc, dir, c.Customer.ID, sv.ID
}

func registerPGWorker(t *testing.T, svc *Service, dir *entity.Service, email string) types.ID {
	t.Helper()
	ctx := context.Background()
	reg, err := dir.Register(ctx, entity.RegisterCommand{Email: email, Password: "password1", Role: types.RoleWorker, DisplayName: email})
	if err != nil {
		t.Fatalf("register worker: %v", err)
	}
	if err := svc.SetPresence(ctx, reg.Worker.ID, true); err != nil {
		t.Fatalf("presence: %v", err)
	}
	return reg.Worker.ID
}

func TestPGStoreLifecycle(t *testing.T) {
	svc, dir, customer, service := newPGFixture(t)
	ctx := context.Background()
	w := registerPGWorker(t, svc, dir, "w@example.com")

	b, err := svc.Create(ctx, CreateCommand{CustomerID: customer, ServiceID: service, Address: "1 Park St", City: "Kolkata", Location: &types.Point{Lat: 22.55, Lng: 88.35}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.AssignWorker(ctx, AssignCommand{BookingID: b.ID, WorkerID: w}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	worker, err := dir.GetWorker(ctx, w)
	if err != nil || worker.Availability != entity.AvailabilityBusy {
		t.Fatalf("worker after assign = %+v, %v", worker, err)
	}

	if _, err := svc.Cancel(ctx, CancelCommand{BookingID: b.ID, Reason: "rain"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, err := svc.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCancelled || got.WorkerID != nil || got.CancelReason == nil || *got.CancelReason != "rain" {
		t.Fatalf("cancelled booking = %+v", got)
	}
	if got.Location == nil || got.QuotedPrice.Amount != 30000 || got.QuotedPrice.Currency != types.DefaultCurrency {
		t.Fatalf("stored fields lost: %+v", got)
	}
	worker, _ = dir.GetWorker(ctx, w)
	if worker.Availability != entity.AvailabilityOnline {
		t.Fatalf("worker after cancel = %s", worker.Availability)
	}

	history, err := svc.History(ctx, b.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 || history[2].WorkerID == nil || *history[2].WorkerID != w {
		t.Fatalf("history = %+v", history)
	}

	list, err := svc.List(ctx, Filter{Status: StatusCancelled, CustomerID: customer, Limit: 10})
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v, %v", list, err)
	}
}

func TestPGStoreStaleVersionConflicts(t *testing.T) {
	svc, dir, customer, service := newPGFixture(t)
	ctx := context.Background()
	w := registerPGWorker(t, svc, dir, "w@example.com")

	b, err := svc.Create(ctx, CreateCommand{CustomerID: customer, ServiceID: service, Address: "2 Park St"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	store := svc.store
	if err := store.Assign(ctx, AssignParams{BookingID: b.ID, WorkerID: w, Version: b.StatusVersion + 1}); !errors.Is(err, types.ErrInvalidTransition) {
		t.Fatalf("stale assign: expected InvalidTransition, got %v", err)
	}
	worker, _ := dir.GetWorker(ctx, w)
	if worker.Availability != entity.AvailabilityOnline {
		t.Fatalf("failed assign leaked a busy worker: %s", worker.Availability)
	}
}

func TestPGStoreConcurrentServicesOneBooking(t *testing.T) {
	svc, dir, customer, service := newPGFixture(t)
	ctx := context.Background()
	w1 := registerPGWorker(t, svc, dir, "w1@example.com")
	w2 := registerPGWorker(t, svc, dir, "w2@example.com")

	b, err := svc.Create(ctx, CreateCommand{CustomerID: customer, ServiceID: service, Address: "3 Park St"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Two services share the database but not the in-process locks.
	other := NewService(Deps{Store: svc.store, Directory: dir, Logger: slog.New(slog.DiscardHandler)})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i, s := range []*Service{svc, other} {
		wg.Add(1)
		go func(s *Service, w types.ID) {
			defer wg.Done()
			_, err := s.AssignWorker(ctx, AssignCommand{BookingID: b.ID, WorkerID: w})
			errs <- err
		}(s, []types.ID{w1, w2}[i])
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
		} else if !errors.Is(err, types.ErrInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected one winner, got %d", success)
	}

	busy := 0
	for _, w := range []types.ID{w1, w2} {
		worker, _ := dir.GetWorker(ctx, w)
		if worker.Availability == entity.AvailabilityBusy {
			busy++
		}
	}
	if busy != 1 {
		t.Fatalf("expected exactly one busy worker, got %d", busy)
	}
}
