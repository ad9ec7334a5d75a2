package storedb

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/chainforge/evmindex/internal/logger"
	migrate "github.com/rubenv/sql-migrate"
)

const (
	upDownSeparator   = "-- +migrate Up"
	downMarker        = "-- +migrate Down"
	dbPrefixToken     = "/*dbprefix*/"
	noMigrationLimit  = 0
	migrationPartsLen = 2
)

// Migration is one schema revision. SQL must contain an
// "-- +migrate Up" / "-- +migrate Down" pair; Prefix substitutes for every
// occurrence of "/*dbprefix*/", letting the same migration source serve a
// multi-tenant deployment that shares one physical database across prefixes.
type Migration struct {
	ID     string
	SQL    string
	Prefix string
}

// gorpDialect maps a database/sql driver name to the dialect string
// sql-migrate expects, which is not always the same thing (the postgres
// driver here is registered as "pgx", not "postgres").
func gorpDialect(dialect Dialect) string {
	switch dialect {
	case DialectPostgres:
		return "postgres"
	default:
		return "sqlite3"
	}
}

// Run applies every pending migration, in order, against db.
func Run(log *logger.Logger, dialect Dialect, db *sql.DB, migrations []Migration) error {
	return RunDirection(log, dialect, db, migrations, migrate.Up, noMigrationLimit)
}

// RunDirection applies up to maxMigrations migrations in the given
// direction. Pass noMigrationLimit (0) to apply all pending migrations.
func RunDirection(
	log *logger.Logger,
	dialect Dialect,
	db *sql.DB,
	migrationsParam []Migration,
	dir migrate.MigrationDirection,
	maxMigrations int,
) error {
	src := &migrate.MemoryMigrationSource{Migrations: []*migrate.Migration{}}

	if maxMigrations != noMigrationLimit {
		migrate.SetIgnoreUnknown(true)
	}

	for _, m := range migrationsParam {
		prefixed := strings.ReplaceAll(m.SQL, dbPrefixToken, m.Prefix)
		parts := strings.SplitN(prefixed, upDownSeparator, migrationPartsLen)
		if len(parts) < migrationPartsLen {
			return fmt.Errorf("storedb: migration %s missing %q separator", m.ID, upDownSeparator)
		}

		downSQL := parts[0]
		if idx := strings.Index(downSQL, downMarker); idx != -1 {
			downSQL = downSQL[idx+len(downMarker):]
		}

		src.Migrations = append(src.Migrations, &migrate.Migration{
			Id:   m.Prefix + m.ID,
			Up:   []string{strings.TrimSpace(parts[1])},
			Down: []string{strings.TrimSpace(downSQL)},
		})
	}

	var ids strings.Builder
	for _, m := range src.Migrations {
		ids.WriteString(m.Id + ", ")
	}

	log.Debugf("running migrations (max %d/%d): %s", maxMigrations, len(src.Migrations), ids.String())

	n, err := migrate.ExecMax(db, gorpDialect(dialect), src, dir, maxMigrations)
	if err != nil {
		return fmt.Errorf("storedb: migration failed (max %d/%d, %s): %w", maxMigrations, len(src.Migrations), ids.String(), err)
	}

	log.Infof("applied %d migrations: %s", n, ids.String())
	return nil
}
