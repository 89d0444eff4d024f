// README: Postgres entity store tests (run with KARIGAR_TEST_DSN or KARIGAR_TEST_CONTAINERS=1).
package entity

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"karigar/internal/testutil/pgtest"
	"karigar/internal/types"
)

func TestPGStoreRegistrationAndBatchLookups(t *testing.T) {
	store := NewStore(pgtest.Pool(t))
	svc := NewService(store, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	c, err := svc.Register(ctx, RegisterCommand{Email: "c@example.com", Password: "password1", Role: types.RoleCustomer, DisplayName: "C"})
	if err != nil {
		t.Fatalf("register customer: %v", err)
	}
	w, err := svc.Register(ctx, RegisterCommand{Email: "w@example.com", Password: "password1", Role: types.RoleWorker, DisplayName: "W"})
	if err != nil {
		t.Fatalf("register worker: %v", err)
	}
	if _, err := svc.Register(ctx, RegisterCommand{Email: "c@example.com", Password: "password1", Role: types.RoleCustomer, DisplayName: "C2"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	customers, err := store.CustomersByIDs(ctx, []types.ID{c.Customer.ID, "missing"})
	if err != nil {
		t.Fatalf("customers by ids: %v", err)
	}
	if len(customers) != 1 || customers[c.Customer.ID] == nil {
		t.Fatalf("unexpected customers: %v", customers)
	}

	at := time.Now().UTC().Truncate(time.Microsecond)
	if err := store.UpdateWorkerLocation(ctx, w.Worker.ID, types.Point{Lat: 19.07, Lng: 72.87}, at); err != nil {
		t.Fatalf("update location: %v", err)
	}
	if err := store.UpdateWorkerLocation(ctx, w.Worker.ID, types.Point{Lat: 0, Lng: 0}, at.Add(-time.Minute)); err != nil {
		t.Fatalf("update stale location: %v", err)
	}
	workers, err := store.WorkersByIDs(ctx, []types.ID{w.Worker.ID})
	if err != nil {
		t.Fatalf("workers by ids: %v", err)
	}
	got := workers[w.Worker.ID]
	if got == nil || got.LastLocation == nil || got.LastLocation.Lat != 19.07 {
		t.Fatalf("unexpected worker location: %+v", got)
	}

	byUser, err := store.WorkerByUser(ctx, w.User.ID)
	if err != nil || byUser.ID != w.Worker.ID {
		t.Fatalf("worker by user = %+v, %v", byUser, err)
	}
	if _, err := store.WorkerByUser(ctx, c.User.ID); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("customer has no worker profile: expected NotFound, got %v", err)
	}

	if err := store.DeleteCustomer(ctx, c.Customer.ID); err != nil {
		t.Fatalf("delete customer: %v", err)
	}
	if _, err := store.GetCustomer(ctx, c.Customer.ID); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPGStoreCatalog(t *testing.T) {
	store := NewStore(pgtest.Pool(t))
	svc := NewService(store, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	sv, err := svc.CreateService(ctx, CreateServiceCommand{Name: "Deep cleaning", Price: types.Money{Amount: 1499}})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	got, err := store.GetService(ctx, sv.ID)
	if err != nil {
		t.Fatalf("get service: %v", err)
	}
	if got.Price.Amount != 1499 || got.Price.Currency != types.DefaultCurrency {
		t.Fatalf("unexpected price: %+v", got.Price)
	}
	byID, err := store.ServicesByIDs(ctx, []types.ID{sv.ID, sv.ID})
	if err != nil || len(byID) != 1 {
		t.Fatalf("services by ids = %v, %v", byID, err)
	}
}
