//go:build integration

package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carebase/internal/platform/postgres"
	"carebase/pkg/testutil/containers"
)

func TestMigrateIsIdempotent(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := postgres.Open(ctx, pg.URL, postgres.Options{MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, postgres.Migrate(ctx, db, logger))
	require.NoError(t, postgres.Migrate(ctx, db, logger))

	var applied int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 4, applied)

	var contained bool
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT 'root.org_acme.north'::ltree <@ 'root.org_acme'::ltree`).Scan(&contained))
	assert.True(t, contained)
}
