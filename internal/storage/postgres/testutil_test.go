package postgres

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"evm-token-lab/internal/domain"
)

// setupTestDB starts a throwaway Postgres with the token schema applied.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)

	runMigrations(t, ctx, pool)

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	}

	return pool, cleanup
}

// migrationsDir holds the schema files embedded by internal/storage/migrations.
// Tests run with the package directory as working directory.
const migrationsDir = "../migrations/postgres"

// runMigrations applies every schema file in name order inside one transaction.
func runMigrations(t *testing.T, ctx context.Context, pool *Pool) {
	t.Helper()

	files, err := fs.Glob(os.DirFS(migrationsDir), "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files, "no migrations in %s", migrationsDir)
	sort.Strings(files)

	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, name := range files {
			body, err := os.ReadFile(filepath.Join(migrationsDir, name))
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		return nil
	})
	require.NoError(t, err, "apply migrations")
}

// ptr returns a pointer to v.
func ptr[T any](v T) *T {
	return &v
}

func addr(chain domain.ChainID, hex string) domain.TokenAddress {
	return domain.TokenAddress{Chain: chain, Hex: hex}
}
