package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// mustTestPool returns a pool against a real Postgres with the platform DDL
// applied. TEST_DATABASE_URL overrides the default throwaway container, which
// is skipped in short mode.
func mustTestPool(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()

	ctx := context.Background()
	url, ok := os.LookupEnv("TEST_DATABASE_URL")
	if !ok || url == "" {
		if testing.Short() {
			t.Skip("skipping Postgres-backed test in short mode")
		}

		startCtx, cancel := context.WithTimeout(ctx, 3*time.Minute)
		defer cancel()

		pgContainer, err := postgres.Run(startCtx,
			"postgres:16-alpine",
			postgres.WithDatabase("staffbridge"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
		)
		if err != nil {
			t.Fatalf("start postgres container: %v", err)
		}
		t.Cleanup(func() {
			_ = pgContainer.Terminate(context.Background())
		})

		url, err = pgContainer.ConnectionString(startCtx, "sslmode=disable")
		if err != nil {
			t.Fatalf("container connection string: %v", err)
		}
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("create test pool: %v", err)
	}

	if err := BootstrapSchema(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply platform schema: %v", err)
	}

	cleanup := func() {
		pool.Close()
	}

	return pool, cleanup
}
