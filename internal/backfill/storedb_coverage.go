package backfill

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chainforge/evmindex/internal/errs"
	"github.com/chainforge/evmindex/internal/storedb"
)

// StoreDBCoverageStore is a CoverageStore backed by the same database the
// indexing cache and status store use, so backfill progress survives a
// restart. Owner scopes rows to one source, since several sources can share
// a chain ID but must not share coverage - a factory-derived source's
// unfiltered eth_getLogs sweep covers different ground than its parent's.
type StoreDBCoverageStore struct {
	db      *sql.DB
	dialect storedb.Dialect
	owner   string
}

// NewStoreDBCoverageStore constructs a CoverageStore scoped to owner (a
// source's filter ID). Call EnsureCoverageSchema once per process before use.
func NewStoreDBCoverageStore(db *sql.DB, dialect storedb.Dialect, owner string) *StoreDBCoverageStore {
	return &StoreDBCoverageStore{db: db, dialect: dialect, owner: owner}
}

// EnsureCoverageSchema creates the shared coverage table if it does not already
// exist. Outside the migration runner for the same reason
// internal/status.Store's table is: it has no source-declared columns to
// ever extend.
func EnsureCoverageSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS backfill_coverage (
		owner TEXT NOT NULL,
		chain_id BIGINT NOT NULL,
		from_block BIGINT NOT NULL,
		to_block BIGINT NOT NULL
	)`)
	if err != nil {
		return &errs.DBConnectionError{Err: err}
	}
	return nil
}

func (s *StoreDBCoverageStore) CoveredRanges(ctx context.Context, chainID uint64) ([]Range, error) {
	p1, p2 := storedb.Placeholder(s.dialect, 1), storedb.Placeholder(s.dialect, 2)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT from_block, to_block FROM backfill_coverage
		 WHERE owner = %s AND chain_id = %s
		 ORDER BY from_block`, p1, p2), s.owner, chainID)
	if err != nil {
		return nil, &errs.DBConnectionError{Err: err}
	}
	defer rows.Close()

	var out []Range
	for rows.Next() {
		var r Range
		if err := rows.Scan(&r.FromBlock, &r.ToBlock); err != nil {
			return nil, fmt.Errorf("backfill: scan coverage row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkCovered appends [from, to] and recompacts the owner's rows into their
// merged form in one transaction, so CoveredRanges never has to merge at
// read time and a crash between the insert and the compaction cannot leave
// the table in a state MergeRanges would disagree with.
func (s *StoreDBCoverageStore) MarkCovered(ctx context.Context, chainID uint64, from, to uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &errs.DBConnectionError{Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	p1, p2 := storedb.Placeholder(s.dialect, 1), storedb.Placeholder(s.dialect, 2)
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		`SELECT from_block, to_block FROM backfill_coverage
		 WHERE owner = %s AND chain_id = %s`, p1, p2), s.owner, chainID)
	if err != nil {
		return &errs.DBConnectionError{Err: err}
	}
	var existing []Range
	for rows.Next() {
		var r Range
		if err := rows.Scan(&r.FromBlock, &r.ToBlock); err != nil {
			rows.Close()
			return fmt.Errorf("backfill: scan coverage row: %w", err)
		}
		existing = append(existing, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return &errs.DBConnectionError{Err: err}
	}
	rows.Close()

	merged := MergeRanges(append(existing, Range{FromBlock: from, ToBlock: to}))

	delP1, delP2 := storedb.Placeholder(s.dialect, 1), storedb.Placeholder(s.dialect, 2)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM backfill_coverage WHERE owner = %s AND chain_id = %s", delP1, delP2),
		s.owner, chainID); err != nil {
		return &errs.DBConnectionError{Err: err}
	}

	for _, r := range merged {
		ip1, ip2, ip3, ip4 := storedb.Placeholder(s.dialect, 1), storedb.Placeholder(s.dialect, 2), storedb.Placeholder(s.dialect, 3), storedb.Placeholder(s.dialect, 4)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			"INSERT INTO backfill_coverage (owner, chain_id, from_block, to_block) VALUES (%s, %s, %s, %s)",
			ip1, ip2, ip3, ip4), s.owner, chainID, r.FromBlock, r.ToBlock); err != nil {
			return &errs.DBConnectionError{Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errs.DBConnectionError{Err: err}
	}
	return nil
}
