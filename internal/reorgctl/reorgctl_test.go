package reorgctl

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/chainforge/evmindex/internal/checkpoint"
	"github.com/chainforge/evmindex/internal/errs"
	"github.com/chainforge/evmindex/internal/indexcache"
	"github.com/chainforge/evmindex/internal/storedb"
	"github.com/chainforge/evmindex/pkg/config"
	"github.com/stretchr/testify/require"
)

func cp(block uint64) checkpoint.Checkpoint {
	return checkpoint.Checkpoint{BlockTimestamp: block * 10, ChainID: 1, BlockNumber: block}
}

type fakeChainReset struct {
	calls []checkpoint.Checkpoint
}

func (f *fakeChainReset) ResetCheckpoint(_ context.Context, _ uint64, to checkpoint.Checkpoint) error {
	f.calls = append(f.calls, to)
	return nil
}

func newTestController(t *testing.T) (*Controller, *sql.DB, *fakeChainReset) {
	t.Helper()
	dir := t.TempDir()
	dbCfg := config.DatabaseConfig{Path: filepath.Join(dir, "reorg.db")}
	dbCfg.ApplyDefaults()

	db, dialect, err := storedb.Open(dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE events (
		id INTEGER PRIMARY KEY,
		value TEXT,
		effective_from TEXT,
		effective_to TEXT
	)`)
	require.NoError(t, err)

	cacheStore := newNopStore{}
	cache := indexcache.New(cacheStore, config.IndexCacheConfig{MaxBytes: 1 << 20, FlushRatio: 0.25}, nil)

	resets := &fakeChainReset{}
	tables := []VersionedTable{{Name: "events", EffectiveFrom: "effective_from", EffectiveTo: "effective_to"}}
	ctl := New(db, dialect, tables, cache, resets, 0, nil)
	return ctl, db, resets
}

func TestReorgDeletesRowsWithEffectiveFromAtOrAfterCursor(t *testing.T) {
	ctl, db, _ := newTestController(t)
	ctx := context.Background()

	insertEvent(t, db, 1, "kept", cp(5), Infinity)
	insertEvent(t, db, 2, "rolled-back", cp(10), Infinity)

	require.NoError(t, ctl.Reorg(ctx, 1, cp(10), 10))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM events WHERE id = 2").Scan(&count))
	require.Zero(t, count, "row whose effective_from >= cursor must be deleted")

	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM events WHERE id = 1").Scan(&count))
	require.Equal(t, 1, count, "row before the cursor is untouched")
}

func TestReorgReopensRowsWithEffectiveToAtOrAfterCursor(t *testing.T) {
	ctl, db, _ := newTestController(t)
	ctx := context.Background()

	insertEvent(t, db, 1, "superseded", cp(1), cp(10).Encode())

	require.NoError(t, ctl.Reorg(ctx, 1, cp(10), 10))

	var effectiveTo string
	require.NoError(t, db.QueryRow("SELECT effective_to FROM events WHERE id = 1").Scan(&effectiveTo))
	require.Equal(t, Infinity, effectiveTo, "a row superseded at or after the cursor becomes current again")
}

func TestReorgResetsChainCheckpoint(t *testing.T) {
	ctl, db, resets := newTestController(t)
	ctx := context.Background()
	insertEvent(t, db, 1, "v", cp(1), Infinity)

	require.NoError(t, ctl.Reorg(ctx, 7, cp(5), 5))
	require.Len(t, resets.calls, 1)
	require.Equal(t, cp(5), resets.calls[0])
}

func TestReorgFailsWithDeepReorgErrorBeyondMaxDepth(t *testing.T) {
	dir := t.TempDir()
	dbCfg := config.DatabaseConfig{Path: filepath.Join(dir, "reorg.db")}
	dbCfg.ApplyDefaults()
	db, dialect, err := storedb.Open(dbCfg)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE events (id INTEGER PRIMARY KEY, value TEXT, effective_from TEXT, effective_to TEXT)`)
	require.NoError(t, err)

	cache := indexcache.New(newNopStore{}, config.IndexCacheConfig{MaxBytes: 1 << 20, FlushRatio: 0.25}, nil)
	resets := &fakeChainReset{}
	tables := []VersionedTable{{Name: "events", EffectiveFrom: "effective_from", EffectiveTo: "effective_to"}}
	ctl := New(db, dialect, tables, cache, resets, 100, nil)

	err = ctl.Reorg(context.Background(), 1, cp(1), 500)
	require.Error(t, err)
	var deep *errs.DeepReorgError
	require.ErrorAs(t, err, &deep)
	require.Empty(t, resets.calls, "a rejected reorg must not touch the chain's persisted checkpoint")
}

func insertEvent(t *testing.T, db *sql.DB, id int, value string, from checkpoint.Checkpoint, to string) {
	t.Helper()
	_, err := db.Exec("INSERT INTO events (id, value, effective_from, effective_to) VALUES (?, ?, ?, ?)",
		id, value, from.Encode(), to)
	require.NoError(t, err)
}

// newNopStore is an indexcache.Store that never gets exercised in these
// tests - the controller only calls InvalidateAll, which never touches
// Store - but a non-nil Store is still required to construct a Cache.
type newNopStore struct{}

func (newNopStore) Find(context.Context, *indexcache.TableSchema, any) (map[string]any, error) {
	return nil, nil
}
func (newNopStore) Insert(context.Context, *indexcache.TableSchema, map[string]any) error {
	return nil
}
func (newNopStore) Update(context.Context, *indexcache.TableSchema, any, map[string]any) error {
	return nil
}
func (newNopStore) Delete(context.Context, *indexcache.TableSchema, any) (bool, error) {
	return false, nil
}
func (newNopStore) Query(context.Context, string, ...any) ([]map[string]any, error) {
	return nil, nil
}
