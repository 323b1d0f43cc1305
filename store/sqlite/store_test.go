package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DimensionCoin/credits/store"
	"github.com/DimensionCoin/credits/store/sqlite"
	"github.com/DimensionCoin/credits/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := sqlite.Open(filepath.Join(t.TempDir(), "credits.db"))
		require.NoError(t, err)
		require.NoError(t, s.Migrate(context.Background()))
		return s
	})
}

func TestMigrateIsRepeatable(t *testing.T) {
	ctx := context.Background()

	s, err := sqlite.Open(filepath.Join(t.TempDir(), "credits.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))

	var n int
	require.NoError(t, s.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credits_schema_migrations`).Scan(&n))
	assert.Equal(t, 2, n)
}
