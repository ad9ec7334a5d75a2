package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chainforge/evmindex/internal/checkpoint"
	"github.com/chainforge/evmindex/internal/filter"
	"github.com/chainforge/evmindex/internal/indexcache"
	"github.com/chainforge/evmindex/internal/logger"
	"github.com/chainforge/evmindex/internal/storedb"
	"github.com/chainforge/evmindex/pkg/config"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) (*indexcache.Cache, storedb.Dialect) {
	t.Helper()
	dir := t.TempDir()
	dbCfg := config.DatabaseConfig{Path: filepath.Join(dir, "pipeline.db")}
	dbCfg.ApplyDefaults()

	db, dialect, err := storedb.Open(dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mig := MigrationFor("transfers")
	require.NoError(t, storedb.Run(logger.NewNopLogger(), dialect, db, []storedb.Migration{mig}))

	cache := indexcache.New(indexcache.NewSQLStore(db, dialect), config.IndexCacheConfig{MaxBytes: 1 << 20, FlushRatio: 0.25}, nil)
	cache.RegisterTable(LogTableSchema("transfers"))
	return cache, dialect
}

func sampleLogRecord() filter.LogRecord {
	return filter.LogRecord{
		ChainID: 1,
		Log: types.Log{
			Address:     common.HexToAddress("0xabc"),
			Topics:      []common.Hash{common.HexToHash("0x1"), common.HexToHash("0x2")},
			Data:        []byte{0xde, 0xad},
			BlockNumber: 100,
			TxHash:      common.HexToHash("0xfeed"),
			Index:       3,
		},
	}
}

func TestWriteLogInsertsARowKeyedByCheckpoint(t *testing.T) {
	cache, _ := newTestDB(t)
	w := NewWriter(cache)
	cp := checkpoint.Checkpoint{BlockTimestamp: 1700000000, ChainID: 1, BlockNumber: 100, TransactionIndex: 2, EventTypeRank: checkpoint.RankLog, EventIndex: 0}

	require.NoError(t, w.WriteLog(context.Background(), "transfers", cp, sampleLogRecord()))

	row, err := cache.Find(context.Background(), "transfers", cp.Encode())
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, "0x0000000000000000000000000000000000000abc", row["address"])
	require.Equal(t, "0x000000000000000000000000000000000000000000000000000000000000feed", row["tx_hash"])
}

func TestWriteLogIsIdempotentForTheSameCheckpoint(t *testing.T) {
	cache, _ := newTestDB(t)
	w := NewWriter(cache)
	cp := checkpoint.Checkpoint{ChainID: 1, BlockNumber: 100}

	require.NoError(t, w.WriteLog(context.Background(), "transfers", cp, sampleLogRecord()))
	require.NoError(t, w.WriteLog(context.Background(), "transfers", cp, sampleLogRecord()))
}

func TestVersionedTableForNamesTheRowVersionColumns(t *testing.T) {
	vt := VersionedTableFor("transfers")
	require.Equal(t, "transfers", vt.Name)
	require.Equal(t, "effective_from", vt.EffectiveFrom)
	require.Equal(t, "effective_to", vt.EffectiveTo)
}
