package backfill

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/chainforge/evmindex/internal/storedb"
	"github.com/chainforge/evmindex/pkg/config"
	"github.com/stretchr/testify/require"
)

func newCoverageTestDB(t *testing.T) (*sql.DB, storedb.Dialect) {
	t.Helper()
	dbCfg := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "coverage.db")}
	dbCfg.ApplyDefaults()

	db, dialect, err := storedb.Open(dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, EnsureCoverageSchema(context.Background(), db))
	return db, dialect
}

func TestStoreDBCoverageStoreMarksAndMergesAcrossCalls(t *testing.T) {
	ctx := context.Background()
	db, dialect := newCoverageTestDB(t)
	store := NewStoreDBCoverageStore(db, dialect, "transfers@1")

	require.NoError(t, store.MarkCovered(ctx, 1, 100, 200))
	require.NoError(t, store.MarkCovered(ctx, 1, 201, 300))

	ranges, err := store.CoveredRanges(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []Range{{FromBlock: 100, ToBlock: 300}}, ranges)
}

func TestStoreDBCoverageStoreScopesByOwnerAndChain(t *testing.T) {
	ctx := context.Background()
	db, dialect := newCoverageTestDB(t)

	a := NewStoreDBCoverageStore(db, dialect, "transfers@1")
	b := NewStoreDBCoverageStore(db, dialect, "mints@1")

	require.NoError(t, a.MarkCovered(ctx, 1, 0, 100))
	require.NoError(t, b.MarkCovered(ctx, 1, 50, 150))

	aRanges, err := a.CoveredRanges(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []Range{{FromBlock: 0, ToBlock: 100}}, aRanges)

	bRanges, err := b.CoveredRanges(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []Range{{FromBlock: 50, ToBlock: 150}}, bRanges)

	otherChain, err := a.CoveredRanges(ctx, 2)
	require.NoError(t, err)
	require.Empty(t, otherChain)
}

func TestStoreDBCoverageStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	db, dialect := newCoverageTestDB(t)

	first := NewStoreDBCoverageStore(db, dialect, "transfers@1")
	require.NoError(t, first.MarkCovered(ctx, 1, 10, 20))

	second := NewStoreDBCoverageStore(db, dialect, "transfers@1")
	ranges, err := second.CoveredRanges(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []Range{{FromBlock: 10, ToBlock: 20}}, ranges)
}
