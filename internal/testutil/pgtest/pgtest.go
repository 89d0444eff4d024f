// README: Postgres fixture for store tests: an external DSN or a throwaway testcontainers instance.
package pgtest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"karigar/migrations"
)

const (
	dsnEnv        = "KARIGAR_TEST_DSN"
	containersEnv = "KARIGAR_TEST_CONTAINERS"
)

// Pool returns a migrated pool with all tables truncated. It skips the test
// unless KARIGAR_TEST_DSN is set or KARIGAR_TEST_CONTAINERS=1 allows starting
// a Postgres 16 container.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		if os.Getenv(containersEnv) != "1" {
			t.Skipf("%s not set and %s!=1; skipping DB-backed test", dsnEnv, containersEnv)
		}
		pgC, err := postgres.Run(ctx,
			"postgres:16",
			postgres.WithDatabase("karigar"),
			postgres.WithUsername("karigar"),
			postgres.WithPassword("karigar"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			t.Fatalf("start postgres container: %v", err)
		}
		t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })
		dsn, err = pgC.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("container dsn: %v", err)
		}
	}

	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)

	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE booking_status_events, bookings, services, worker_profiles, customer_profiles, users"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}
