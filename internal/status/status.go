// Package status owns the small per-chain readiness table the API's health
// endpoint reads: each chain's last-processed block and whether it has
// caught up to finalized at least once.
package status

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/chainforge/evmindex/internal/checkpoint"
	"github.com/chainforge/evmindex/internal/errs"
	"github.com/chainforge/evmindex/internal/storedb"
)

// ChainStatus is one chain's entry in the status table.
type ChainStatus struct {
	ChainID        uint64 `json:"chain_id"`
	BlockNumber    uint64 `json:"block_number"`
	BlockTimestamp uint64 `json:"block_timestamp"`
	// Ready reports "caught up to finalized at least once". Once true it
	// is never flipped back by SetStatus, per the reorg controller's
	// readiness contract.
	Ready bool `json:"ready"`
}

// Store is the keyed metadata table: setStatus upserts, getStatus returns
// the whole map.
type Store struct {
	mu      sync.Mutex
	db      *sql.DB
	dialect storedb.Dialect
}

func New(db *sql.DB, dialect storedb.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// EnsureSchema creates the status table if it does not already exist. Meant
// to run once at startup, outside the migration runner, since this table
// has no columns a source's config can extend.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS chain_status (
		chain_id BIGINT PRIMARY KEY,
		block_number BIGINT NOT NULL,
		block_timestamp BIGINT NOT NULL,
		ready BOOLEAN NOT NULL DEFAULT FALSE
	)`)
	if err != nil {
		return &errs.DBConnectionError{Err: err}
	}
	return nil
}

// SetStatus upserts chainID's status. ready is OR'd with whatever is
// currently stored, so a caller reporting ready=false after a chain has
// already caught up once cannot regress it - the readiness contract is
// "caught up to finalized at least once", not "currently caught up".
func (s *Store) SetStatus(ctx context.Context, st ChainStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getLocked(ctx, st.ChainID)
	if err != nil {
		return err
	}
	if current != nil && current.Ready {
		st.Ready = true
	}

	var query string
	switch s.dialect {
	case storedb.DialectPostgres:
		query = `INSERT INTO chain_status (chain_id, block_number, block_timestamp, ready)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (chain_id) DO UPDATE SET
				block_number = excluded.block_number,
				block_timestamp = excluded.block_timestamp,
				ready = excluded.ready`
	default:
		query = `INSERT INTO chain_status (chain_id, block_number, block_timestamp, ready)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (chain_id) DO UPDATE SET
				block_number = excluded.block_number,
				block_timestamp = excluded.block_timestamp,
				ready = excluded.ready`
	}

	if _, err := s.db.ExecContext(ctx, query, st.ChainID, st.BlockNumber, st.BlockTimestamp, st.Ready); err != nil {
		return &errs.DBConnectionError{Err: err}
	}
	return nil
}

// GetStatus returns every chain's current status, keyed by chain ID.
func (s *Store) GetStatus(ctx context.Context) (map[uint64]ChainStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, "SELECT chain_id, block_number, block_timestamp, ready FROM chain_status")
	if err != nil {
		return nil, &errs.DBConnectionError{Err: err}
	}
	defer rows.Close()

	out := make(map[uint64]ChainStatus)
	for rows.Next() {
		var st ChainStatus
		if err := rows.Scan(&st.ChainID, &st.BlockNumber, &st.BlockTimestamp, &st.Ready); err != nil {
			return nil, fmt.Errorf("status: scan chain_status row: %w", err)
		}
		out[st.ChainID] = st
	}
	return out, rows.Err()
}

func (s *Store) getLocked(ctx context.Context, chainID uint64) (*ChainStatus, error) {
	placeholder := storedb.Placeholder(s.dialect, 1)
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT chain_id, block_number, block_timestamp, ready FROM chain_status WHERE chain_id = %s", placeholder), chainID)

	var st ChainStatus
	switch err := row.Scan(&st.ChainID, &st.BlockNumber, &st.BlockTimestamp, &st.Ready); err {
	case nil:
		return &st, nil
	case sql.ErrNoRows:
		return nil, nil
	default:
		return nil, &errs.DBConnectionError{Err: err}
	}
}

// ResetCheckpoint rewinds chainID's recorded progress to a reorg's cutoff,
// satisfying internal/reorgctl.ChainReset: this store is the thing that
// owns a chain's persisted sync progress. Ready is left untouched - a
// reorg shallow enough to reconcile does not mean the chain has stopped
// being caught up to finalized.
func (s *Store) ResetCheckpoint(ctx context.Context, chainID uint64, to checkpoint.Checkpoint) error {
	s.mu.Lock()
	current, err := s.getLocked(ctx, chainID)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	st := ChainStatus{ChainID: chainID, BlockNumber: to.BlockNumber, BlockTimestamp: to.BlockTimestamp}
	if current != nil {
		st.Ready = current.Ready
	}
	return s.SetStatus(ctx, st)
}

// Ready reports whether every chain in the status table reports ready.
// An empty table (no chain has reported in yet) is not ready.
func Ready(statuses map[uint64]ChainStatus) bool {
	if len(statuses) == 0 {
		return false
	}
	for _, st := range statuses {
		if !st.Ready {
			return false
		}
	}
	return true
}
