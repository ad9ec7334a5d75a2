package indexcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/chainforge/evmindex/internal/errs"
	"github.com/chainforge/evmindex/internal/storedb"
	"github.com/jackc/pgx/v5/pgconn"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// Store persists normalized rows for the cache to fall back to on a miss
// and to write through to on every mutation. It operates on schema-agnostic
// map[string]any rows rather than compile-time structs, since one cache
// implementation must serve every source's table shapes.
type Store interface {
	Find(ctx context.Context, table *TableSchema, pk any) (map[string]any, error)
	Insert(ctx context.Context, table *TableSchema, values map[string]any) error
	Update(ctx context.Context, table *TableSchema, pk any, values map[string]any) error
	Delete(ctx context.Context, table *TableSchema, pk any) (bool, error)
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)
}

// SQLStore is the *sql.DB-backed Store, dialect-aware only for its
// placeholder syntax - sqlite and postgres agree on everything else this
// package needs.
type SQLStore struct {
	db      *sql.DB
	dialect storedb.Dialect
}

func NewSQLStore(db *sql.DB, dialect storedb.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

func (s *SQLStore) placeholder(position int) string {
	return storedb.Placeholder(s.dialect, position)
}

func (s *SQLStore) Find(ctx context.Context, table *TableSchema, pk any) (map[string]any, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		strings.Join(table.ColumnNames(), ", "), table.Name, table.PK, s.placeholder(1))

	rows, err := s.db.QueryContext(ctx, query, pk)
	if err != nil {
		return nil, classifyDBError(table.Name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	row, err := scanRow(rows)
	if err != nil {
		return nil, classifyDBError(table.Name, err)
	}
	return row, nil
}

func (s *SQLStore) Insert(ctx context.Context, table *TableSchema, values map[string]any) error {
	cols := make([]string, 0, len(values))
	placeholders := make([]string, 0, len(values))
	args := make([]any, 0, len(values))

	for _, col := range table.Cols {
		v, ok := values[col.Name]
		if !ok {
			continue
		}
		cols = append(cols, col.Name)
		args = append(args, v)
		placeholders = append(placeholders, s.placeholder(len(args)))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table.Name, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return classifyDBError(table.Name, err)
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, table *TableSchema, pk any, values map[string]any) error {
	sets := make([]string, 0, len(values))
	args := make([]any, 0, len(values)+1)

	for _, col := range table.Cols {
		if col.Name == table.PK {
			continue
		}
		v, ok := values[col.Name]
		if !ok {
			continue
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = %s", col.Name, s.placeholder(len(args))))
	}

	args = append(args, pk)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		table.Name, strings.Join(sets, ", "), table.PK, s.placeholder(len(args)))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return classifyDBError(table.Name, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, table *TableSchema, pk any) (bool, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", table.Name, table.PK, s.placeholder(1))

	result, err := s.db.ExecContext(ctx, query, pk)
	if err != nil {
		return false, classifyDBError(table.Name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, classifyDBError(table.Name, err)
	}
	return affected > 0, nil
}

// Query runs a read-only passthrough statement, for the sql() operation
// the cache exposes directly over storage.
func (s *SQLStore) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyDBError("", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, classifyDBError("", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanRow(rows *sql.Rows) (map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	row := make(map[string]any, len(cols))
	for i, c := range cols {
		row[c] = vals[i]
	}
	return row, nil
}

// classifyDBError maps a driver-level failure to the errs taxonomy so
// callers can tell a bad request from a transient infrastructure problem
// without knowing which driver is underneath.
func classifyDBError(table string, err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return &errs.UniqueConstraintError{Table: table, Columns: []string{constraintColumn(err.Error())}, Err: err}
		case sqlite3.ErrConstraintNotNull:
			return &errs.NotNullConstraintError{Table: table, Column: constraintColumn(err.Error()), Err: err}
		case sqlite3.ErrConstraintCheck:
			return &errs.CheckConstraintError{Table: table, Constraint: constraintColumn(err.Error()), Err: err}
		}
		return &errs.DBConnectionError{Err: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return &errs.UniqueConstraintError{Table: table, Columns: []string{pgErr.ColumnName}, Err: err}
		case "23502":
			return &errs.NotNullConstraintError{Table: table, Column: pgErr.ColumnName, Err: err}
		case "23514":
			return &errs.CheckConstraintError{Table: table, Constraint: pgErr.ConstraintName, Err: err}
		}
		return &errs.DBConnectionError{Err: err}
	}

	return &errs.DBConnectionError{Err: err}
}

// constraintColumn best-effort extracts the column name sqlite reports in
// a constraint violation message, e.g. "UNIQUE constraint failed: t.col".
func constraintColumn(msg string) string {
	idx := strings.LastIndex(msg, ":")
	if idx < 0 {
		return ""
	}
	field := strings.TrimSpace(msg[idx+1:])
	if dot := strings.LastIndex(field, "."); dot >= 0 {
		return field[dot+1:]
	}
	return field
}
