// Package pipeline turns a matched log record into the generic row a
// source's configured table stores, and the CREATE TABLE migration that
// table needs. Sources are configuration, not generated Go types, so one
// pipeline implementation serves every log source the same way
// internal/indexcache serves every table without code generation.
package pipeline

import (
	"context"
	"fmt"

	"github.com/chainforge/evmindex/internal/checkpoint"
	"github.com/chainforge/evmindex/internal/filter"
	"github.com/chainforge/evmindex/internal/indexcache"
	"github.com/chainforge/evmindex/internal/reorgctl"
	"github.com/chainforge/evmindex/internal/storedb"
)

// effectiveFromColumn and effectiveToColumn name the row-version columns
// every generated table carries, matching the columns internal/reorgctl's
// VersionedTable rewinds on a reorg transaction.
const (
	effectiveFromColumn = "effective_from"
	effectiveToColumn   = "effective_to"
)

// LogTableSchema builds the indexing cache's schema for a log-kind source's
// table: one row per matched log occurrence, keyed by the globally unique,
// totally ordered checkpoint that produced it.
func LogTableSchema(tableName string) *indexcache.TableSchema {
	return &indexcache.TableSchema{
		Name: tableName,
		PK:   effectiveFromColumn,
		Cols: []indexcache.Column{
			{Name: effectiveFromColumn, Kind: indexcache.ColumnKindPlain, NotNull: true},
			{Name: effectiveToColumn, Kind: indexcache.ColumnKindPlain, NotNull: true},
			{Name: "chain_id", Kind: indexcache.ColumnKindPlain, NotNull: true},
			{Name: "block_number", Kind: indexcache.ColumnKindPlain, NotNull: true},
			{Name: "block_timestamp", Kind: indexcache.ColumnKindPlain, NotNull: true},
			{Name: "tx_hash", Kind: indexcache.ColumnKindHex, ByteLength: 32, NotNull: true},
			{Name: "log_index", Kind: indexcache.ColumnKindPlain, NotNull: true},
			{Name: "address", Kind: indexcache.ColumnKindHex, ByteLength: 20, NotNull: true},
			{Name: "topics", Kind: indexcache.ColumnKindJSON},
			{Name: "data", Kind: indexcache.ColumnKindHex},
		},
	}
}

// VersionedTableFor names tableName's row-version columns, for registering
// it with a reorgctl.Controller so a reorg rewinds it along with every other
// generated table.
func VersionedTableFor(tableName string) reorgctl.VersionedTable {
	return reorgctl.VersionedTable{
		Name:          tableName,
		EffectiveFrom: effectiveFromColumn,
		EffectiveTo:   effectiveToColumn,
	}
}

// MigrationFor generates the CREATE TABLE migration for a log-kind source's
// table. BIGINT and TEXT are understood identically by sqlite3 and pgx, so
// one statement serves both configured dialects without a dialect branch.
func MigrationFor(tableName string) storedb.Migration {
	sql := fmt.Sprintf(`-- +migrate Up
CREATE TABLE IF NOT EXISTS %[1]s (
	effective_from TEXT PRIMARY KEY,
	effective_to TEXT NOT NULL,
	chain_id BIGINT NOT NULL,
	block_number BIGINT NOT NULL,
	block_timestamp BIGINT NOT NULL,
	tx_hash TEXT NOT NULL,
	log_index BIGINT NOT NULL,
	address TEXT NOT NULL,
	topics TEXT,
	data TEXT
);
CREATE INDEX IF NOT EXISTS %[1]s_address_idx ON %[1]s (address);
CREATE INDEX IF NOT EXISTS %[1]s_effective_to_idx ON %[1]s (effective_to);

-- +migrate Down
DROP TABLE IF EXISTS %[1]s;
`, tableName)

	return storedb.Migration{ID: "pipeline_" + tableName + "_1", SQL: sql}
}

// Writer persists matched records into their source's table through the
// indexing cache.
type Writer struct {
	cache *indexcache.Cache
}

// NewWriter constructs a Writer over cache. Every table a source writes to
// must already be registered with cache via RegisterTable.
func NewWriter(cache *indexcache.Cache) *Writer {
	return &Writer{cache: cache}
}

// WriteLog inserts one row for a log matched against tableName's source,
// positioned at cp in the global order. effective_to starts at
// reorgctl.Infinity and is only ever patched by a later reorg transaction.
func (w *Writer) WriteLog(ctx context.Context, tableName string, cp checkpoint.Checkpoint, rec filter.LogRecord) error {
	topics := make([]string, len(rec.Log.Topics))
	for i, t := range rec.Log.Topics {
		topics[i] = t.Hex()
	}

	values := map[string]any{
		effectiveFromColumn: cp.Encode(),
		effectiveToColumn:   reorgctl.Infinity,
		"chain_id":          rec.ChainID,
		"block_number":      rec.Log.BlockNumber,
		"block_timestamp":   cp.BlockTimestamp,
		"tx_hash":           rec.Log.TxHash.Hex(),
		"log_index":         rec.Log.Index,
		"address":           rec.Log.Address.Hex(),
		"topics":            topics,
		"data":              rec.Log.Data,
	}

	_, err := w.cache.Insert(ctx, tableName, values, indexcache.ConflictPolicy{Action: indexcache.ConflictDoNothing})
	if err != nil {
		return fmt.Errorf("pipeline: write %s: %w", tableName, err)
	}
	return nil
}
