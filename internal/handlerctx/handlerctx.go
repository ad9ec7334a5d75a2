// Package handlerctx carries the handles a custom user-mounted HTTP route
// needs out of the request context: the raw database connection and the
// status store, the same handles user event handlers receive when they run.
package handlerctx

import (
	"context"
	"database/sql"

	"github.com/chainforge/evmindex/internal/status"
)

type dbKey struct{}
type statusKey struct{}

// WithDB returns a context carrying db, retrievable with DB.
func WithDB(ctx context.Context, db *sql.DB) context.Context {
	return context.WithValue(ctx, dbKey{}, db)
}

// DB returns the database handle stashed by WithDB, or nil if none was set.
func DB(ctx context.Context) *sql.DB {
	db, _ := ctx.Value(dbKey{}).(*sql.DB)
	return db
}

// WithStatus returns a context carrying the status store, retrievable with Status.
func WithStatus(ctx context.Context, s *status.Store) context.Context {
	return context.WithValue(ctx, statusKey{}, s)
}

// Status returns the status store stashed by WithStatus, or nil if none was set.
func Status(ctx context.Context) *status.Store {
	s, _ := ctx.Value(statusKey{}).(*status.Store)
	return s
}
