//go:build integration

package circuit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carebase/internal/platform/postgres"
	"carebase/pkg/testutil/containers"
)

func TestRedisStore_Contract(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	runStoreContract(t, NewRedisStore(rc.Client))
}

func TestPostgresStore_Contract(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	ctx := context.Background()
	db, err := postgres.Open(ctx, pg.URL, postgres.Options{MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, postgres.Migrate(ctx, db, slog.New(slog.NewTextHandler(io.Discard, nil))))

	runStoreContract(t, NewPostgresStore(db))
}

func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("unknown service starts closed", func(t *testing.T) {
		st, err := store.Load(ctx, "provider-a")
		require.NoError(t, err)
		assert.Equal(t, StatusClosed, st.Status)
		assert.Zero(t, st.Version)
	})

	t.Run("swap requires the expected version", func(t *testing.T) {
		failedAt := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
		next := State{Service: "provider-b", Status: StatusClosed, FailureCount: 1, LastFailureAt: &failedAt}

		ok, err := store.CompareAndSwap(ctx, 0, next)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = store.CompareAndSwap(ctx, 0, next)
		require.NoError(t, err)
		assert.False(t, ok, "stale version must not overwrite")

		st, err := store.Load(ctx, "provider-b")
		require.NoError(t, err)
		assert.Equal(t, int64(1), st.Version)
		assert.Equal(t, 1, st.FailureCount)
		require.NotNil(t, st.LastFailureAt)
		assert.True(t, failedAt.Equal(*st.LastFailureAt))
	})

	t.Run("breaker opens through the store", func(t *testing.T) {
		b := New("provider-c", store, WithFailureThreshold(2))
		_, err := b.RecordFailure(ctx)
		require.NoError(t, err)
		change, err := b.RecordFailure(ctx)
		require.NoError(t, err)
		assert.True(t, change.Opened())

		open, err := b.IsOpen(ctx)
		require.NoError(t, err)
		assert.True(t, open)
	})
}
