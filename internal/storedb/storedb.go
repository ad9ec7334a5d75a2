// Package storedb opens the single *sql.DB the indexing cache, reorg
// controller and status store all share, and runs its migrations. It hides
// the sqlite/postgres dialect split behind one connection string builder so
// the rest of the codebase only ever talks to a plain *sql.DB.
package storedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chainforge/evmindex/pkg/config"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const dbFolderPerm = 0755

// Dialect names the SQL dialect a DB handle was opened with, since
// migrations and a handful of maintenance operations (VACUUM, WAL
// checkpoints) are sqlite-only.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "pgx"
)

// Open dials the database named by cfg and applies its pool and pragma
// settings. The returned Dialect tells the caller which migration source
// and maintenance routine to use.
func Open(cfg config.DatabaseConfig) (*sql.DB, Dialect, error) {
	switch cfg.Dialect {
	case "postgres":
		return openPostgres(cfg)
	case "sqlite", "":
		return openSQLite(cfg)
	default:
		return nil, "", fmt.Errorf("storedb: unknown dialect %q", cfg.Dialect)
	}
}

func openSQLite(cfg config.DatabaseConfig) (*sql.DB, Dialect, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dbFolderPerm); err != nil {
		return nil, "", fmt.Errorf("storedb: create db directory: %w", err)
	}

	// Foreign keys are always enabled on every sqlite connection.
	connStr := fmt.Sprintf(
		"file:%s?_txlock=immediate&_foreign_keys=on&_journal_mode=%s&_busy_timeout=%d&_synchronous=%s",
		cfg.Path, cfg.JournalMode, cfg.BusyTimeoutMS, cfg.Synchronous,
	)

	db, err := sql.Open(string(DialectSQLite), connStr)
	if err != nil {
		return nil, "", fmt.Errorf("storedb: open sqlite: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)

	return db, DialectSQLite, nil
}

func openPostgres(cfg config.DatabaseConfig) (*sql.DB, Dialect, error) {
	db, err := sql.Open(string(DialectPostgres), cfg.DSN)
	if err != nil {
		return nil, "", fmt.Errorf("storedb: open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)

	return db, DialectPostgres, nil
}

// TotalSize returns the combined size of a sqlite database's main file, WAL
// and SHM segments. It is meaningless for postgres and always returns 0 there.
func TotalSize(dialect Dialect, path string) (int64, error) {
	if dialect != DialectSQLite {
		return 0, nil
	}

	total := int64(0)
	if info, err := os.Stat(path); err == nil {
		total += info.Size()
	} else if !os.IsNotExist(err) {
		return 0, err
	}

	for _, ext := range []string{"-wal", "-shm"} {
		if info, err := os.Stat(path + ext); err == nil {
			total += info.Size()
		} else if !os.IsNotExist(err) {
			return 0, err
		}
	}

	return total, nil
}

// IsWALMode reports whether a sqlite handle is currently in WAL journal
// mode. Always false for postgres.
func IsWALMode(dialect Dialect, db *sql.DB) (bool, error) {
	if dialect != DialectSQLite {
		return false, nil
	}
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return false, err
	}
	return strings.EqualFold(mode, "wal"), nil
}

// Placeholder returns the parameter marker a prepared statement's position'th
// argument (1-indexed) takes under dialect: "$1", "$2", ... for postgres,
// plain "?" for sqlite. Callers building dynamic SQL against either dialect
// use this instead of hardcoding one driver's syntax.
func Placeholder(dialect Dialect, position int) string {
	if dialect == DialectPostgres {
		return fmt.Sprintf("$%d", position)
	}
	return "?"
}

// Checkpoint runs a WAL checkpoint in the given mode ("PASSIVE", "FULL",
// "RESTART" or "TRUNCATE"). No-op for postgres.
func Checkpoint(dialect Dialect, db *sql.DB, mode string) error {
	if dialect != DialectSQLite {
		return nil
	}
	var busy, logFrames, checkpointed int
	return db.QueryRow(fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode)).Scan(&busy, &logFrames, &checkpointed)
}
