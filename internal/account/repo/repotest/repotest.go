// Package repotest builds account stores for tests.
package repotest

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-account/internal/account"
	"github.com/ovaphlow/pitchfork/service-account/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-account/pkg/database"
	"github.com/ovaphlow/pitchfork/service-account/pkg/utilities"
)

// Memory returns an empty in-memory store.
func Memory(t testing.TB, uniqueNames bool) *repo.MemoryRepo {
	t.Helper()
	r, err := repo.NewMemoryRepo(1, uniqueNames)
	require.NoError(t, err)
	return r
}

// Postgres returns an AccountRepo on a fresh schema of the database named by
// DATABASE_URL. The schema is dropped when the test ends. Without
// DATABASE_URL the test is skipped.
func Postgres(t testing.TB, uniqueNames bool) *repo.AccountRepo {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	base := database.Config{DSN: dsn, MaxConns: 2, Timeout: 5 * time.Second}

	admin, err := database.Connect(base)
	require.NoError(t, err)
	// citext must be visible from every test schema, so it lives in public
	const citext = `CREATE EXTENSION IF NOT EXISTS citext SCHEMA public`
	if _, err := admin.ExecContext(ctx, citext); err != nil {
		// another test binary may have created it concurrently
		_, err = admin.ExecContext(ctx, citext)
		require.NoError(t, err)
	}
	schema := "acct_test_" + strings.ToLower(utilities.NewKSUID())
	_, err = admin.ExecContext(ctx, `CREATE SCHEMA `+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.ExecContext(context.Background(), `DROP SCHEMA `+schema+` CASCADE`)
		admin.Close()
	})

	cfg := base
	cfg.SearchPath = schema + ",public"
	db, err := database.Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r := repo.NewAccountRepo(db, uniqueNames)
	require.NoError(t, r.EnsureTable(ctx))
	return r
}

// Each runs fn as a subtest against every available backend.
func Each(t *testing.T, uniqueNames bool, fn func(t *testing.T, store account.Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, Memory(t, uniqueNames)) })
	t.Run("postgres", func(t *testing.T) { fn(t, Postgres(t, uniqueNames)) })
}
