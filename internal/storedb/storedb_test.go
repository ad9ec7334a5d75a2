package storedb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chainforge/evmindex/internal/logger"
	"github.com/chainforge/evmindex/pkg/config"
	"github.com/stretchr/testify/require"
)

func newNopLogger(t *testing.T) *logger.Logger {
	t.Helper()
	return logger.NewNopLogger()
}

func TestOpenSQLiteAppliesForeignKeysAndWAL(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DatabaseConfig{Path: filepath.Join(dir, "test.db")}
	cfg.ApplyDefaults()

	db, dialect, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()
	require.Equal(t, DialectSQLite, dialect)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	require.Equal(t, 1, fk)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	_, _, err := Open(config.DatabaseConfig{Dialect: "oracle", Path: "x"})
	require.Error(t, err)
}

func TestOpenCreatesMissingDirectory(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c.db")

	cfg := config.DatabaseConfig{Path: nested}
	cfg.ApplyDefaults()

	db, _, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(filepath.Dir(nested))
	require.NoError(t, err)
}

func TestRunMigrationsAppliesUpMigrations(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DatabaseConfig{Path: filepath.Join(dir, "test.db")}
	cfg.ApplyDefaults()

	db, dialect, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	migrations := []Migration{
		{
			ID: "0001",
			SQL: `-- +migrate Up
CREATE TABLE /*dbprefix*/widgets (id INTEGER PRIMARY KEY, name TEXT);
-- +migrate Down
DROP TABLE /*dbprefix*/widgets;`,
		},
	}

	testLogger := newNopLogger(t)
	require.NoError(t, Run(testLogger, dialect, db, migrations))

	_, err = db.Exec("INSERT INTO widgets (name) VALUES (?)", "gear")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM widgets").Scan(&count))
	require.Equal(t, 1, count)
}

func TestRunMigrationsRejectsMissingUpSeparator(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DatabaseConfig{Path: filepath.Join(dir, "test.db")}
	cfg.ApplyDefaults()

	db, dialect, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	migrations := []Migration{{ID: "0001", SQL: "CREATE TABLE widgets (id INTEGER);"}}
	require.Error(t, Run(newNopLogger(t), dialect, db, migrations))
}

func TestTotalSizeIgnoresMissingSegments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "only-main.db")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0644))

	size, err := TotalSize(DialectSQLite, path)
	require.NoError(t, err)
	require.EqualValues(t, 10, size)
}

func TestTotalSizeIncludesWALAndSHM(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.db")
	require.NoError(t, os.WriteFile(path, []byte("main"), 0644))
	require.NoError(t, os.WriteFile(path+"-wal", []byte("wal12345"), 0644))
	require.NoError(t, os.WriteFile(path+"-shm", []byte("shm"), 0644))

	size, err := TotalSize(DialectSQLite, path)
	require.NoError(t, err)
	require.EqualValues(t, 15, size)
}

func TestTotalSizeIsZeroForPostgres(t *testing.T) {
	size, err := TotalSize(DialectPostgres, "unused")
	require.NoError(t, err)
	require.Zero(t, size)
}
