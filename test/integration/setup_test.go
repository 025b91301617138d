package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayushbridge/bridge/internal/platform/db"
	"github.com/ayushbridge/bridge/migrations"
)

// globalPool is nil when no database could be provided; tests then skip.
var globalPool *pgxpool.Pool

// TestMain uses TEST_DATABASE_URL when set and otherwise starts a
// disposable container if Docker is on PATH.
func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr := os.Getenv("TEST_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" {
		if _, err := exec.LookPath("docker"); err == nil {
			var err error
			connStr, cleanup, err = startPostgresContainer(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "postgres container unavailable, skipping: %v\n", err)
				connStr = ""
			}
		}
	}

	if connStr != "" {
		pool, err := db.NewPool(ctx, connStr, 4, 1)
		if err != nil {
			fmt.Fprintf(os.Stderr, "connect to test database: %v\n", err)
			cleanup()
			os.Exit(1)
		}
		if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "migrate test database: %v\n", err)
			pool.Close()
			cleanup()
			os.Exit(1)
		}
		globalPool = pool
	}

	code := m.Run()
	if globalPool != nil {
		globalPool.Close()
	}
	cleanup()
	os.Exit(code)
}

func requireDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if globalPool == nil {
		t.Skip("no database: set TEST_DATABASE_URL or install Docker")
	}
	return globalPool
}
