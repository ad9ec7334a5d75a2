// Package reorgctl owns the row-version table layout shared user tables are
// written through, and executes the four-step transaction that reconciles
// storage, the indexing cache and the sync coordinator's per-chain progress
// whenever a chain tail reports a reorg back to a given checkpoint.
package reorgctl

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chainforge/evmindex/internal/checkpoint"
	"github.com/chainforge/evmindex/internal/errs"
	"github.com/chainforge/evmindex/internal/indexcache"
	"github.com/chainforge/evmindex/internal/logger"
	"github.com/chainforge/evmindex/internal/storedb"
)

// VersionedTable names a user table carrying effective_from/effective_to
// checkpoint columns; a row is the current version while its effective_to
// is Infinity. The writer sets both columns on insert (pipeline.Writer uses
// the write's checkpoint and Infinity). The indexing cache does not version
// rows itself: an update through it overwrites the row in place and does
// not close a previous version's effective_to.
type VersionedTable struct {
	Name          string
	EffectiveFrom string
	EffectiveTo   string
}

// Infinity is the effective_to value a row holds while it is the current
// version. checkpoint.Max sorts after every real checkpoint, so a plain
// string comparison against it behaves like "still open".
var Infinity = checkpoint.Max.Encode()

// ChainReset resets a single chain's persisted sync progress, the fourth
// step of a reorg transaction. It is implemented by whatever owns that
// chain's tail (its sync-state store), not by this package.
type ChainReset interface {
	ResetCheckpoint(ctx context.Context, chainID uint64, to checkpoint.Checkpoint) error
}

// Controller runs reorg transactions against a set of versioned tables.
type Controller struct {
	db      *sql.DB
	dialect storedb.Dialect
	tables  []VersionedTable
	cache   *indexcache.Cache
	resets  ChainReset
	log     *logger.Logger

	// maxReorgDepth bounds how far back a reorg may reach before it is
	// treated as unrecoverable. Zero means unbounded.
	maxReorgDepth uint64
}

// New constructs a Controller. maxReorgDepth of 0 disables the depth check.
func New(db *sql.DB, dialect storedb.Dialect, tables []VersionedTable, cache *indexcache.Cache, resets ChainReset, maxReorgDepth uint64, log *logger.Logger) *Controller {
	return &Controller{
		db:            db,
		dialect:       dialect,
		tables:        tables,
		cache:         cache,
		resets:        resets,
		maxReorgDepth: maxReorgDepth,
		log:           log,
	}
}

// Reorg reconciles storage, the indexing cache and the given chain's
// persisted progress to a common ancestor at checkpoint at. currentHead is
// the chain tail's block number immediately before the reorg was detected,
// used only to bound how deep a reorg is allowed to reach.
func (c *Controller) Reorg(ctx context.Context, chainID uint64, at checkpoint.Checkpoint, currentHead uint64) error {
	if c.maxReorgDepth > 0 && currentHead > at.BlockNumber && currentHead-at.BlockNumber > c.maxReorgDepth {
		return &errs.DeepReorgError{ChainID: chainID, SearchedBack: currentHead - at.BlockNumber}
	}

	if err := c.runTransaction(ctx, at); err != nil {
		return err
	}

	// Cache entries are invalidated only after the rewound rows have
	// actually landed in storage, so a reload sees the post-reorg state.
	c.cache.InvalidateAll()

	if err := c.resets.ResetCheckpoint(ctx, chainID, at); err != nil {
		return fmt.Errorf("reorgctl: reset chain %d checkpoint: %w", chainID, err)
	}

	return nil
}

func (c *Controller) runTransaction(ctx context.Context, at checkpoint.Checkpoint) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return &errs.DBConnectionError{Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	cursor := at.Encode()

	for _, table := range c.tables {
		deleteStmt := fmt.Sprintf("DELETE FROM %s WHERE %s >= %s",
			table.Name, table.EffectiveFrom, storedb.Placeholder(c.dialect, 1))
		if _, err := tx.ExecContext(ctx, deleteStmt, cursor); err != nil {
			return &errs.TransactionStatementError{Statement: deleteStmt, Err: err}
		}

		reopenStmt := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s >= %s",
			table.Name, table.EffectiveTo, storedb.Placeholder(c.dialect, 1), table.EffectiveTo, storedb.Placeholder(c.dialect, 2))
		if _, err := tx.ExecContext(ctx, reopenStmt, Infinity, cursor); err != nil {
			return &errs.TransactionStatementError{Statement: reopenStmt, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errs.DBConnectionError{Err: err}
	}
	return nil
}
