package indexcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainforge/evmindex/internal/errs"
	"github.com/chainforge/evmindex/internal/logger"
	"github.com/chainforge/evmindex/pkg/config"
)

// ConflictAction selects what Insert/InsertMany do when a row's primary key
// already holds a non-null value.
type ConflictAction int

const (
	// ConflictFail is the default: a pk collision is a unique-constraint
	// error.
	ConflictFail ConflictAction = iota
	// ConflictDoNothing silently keeps the existing row.
	ConflictDoNothing
	// ConflictDoUpdate applies Update or UpdateFn to the existing row.
	ConflictDoUpdate
)

// ConflictPolicy configures Insert/InsertMany's behavior on a pk collision.
type ConflictPolicy struct {
	Action ConflictAction
	Update map[string]any
	// UpdateFn, if set, takes precedence over Update and computes the new
	// values from the row currently cached/stored.
	UpdateFn func(current map[string]any) map[string]any
}

// Cache is the write-through indexing cache: reads consult memory first and
// fall back to Store on a miss; writes land in both, normalized the same
// way on either path. Every table it knows about is registered up front via
// RegisterTable. Writes are serialized by mu, matching the single-writer
// rule the rest of the runtime depends on to avoid needing per-row locking.
type Cache struct {
	mu     sync.Mutex
	mem    *memCache
	store  Store
	tables map[string]*TableSchema
	log    *logger.Logger
}

func New(store Store, cfg config.IndexCacheConfig, log *logger.Logger) *Cache {
	return &Cache{
		mem:    newMemCache(cfg),
		store:  store,
		tables: make(map[string]*TableSchema),
		log:    log,
	}
}

// RegisterTable makes schema's table available to find/insert/update/delete.
func (c *Cache) RegisterTable(schema *TableSchema) {
	c.tables[schema.Name] = schema
}

func (c *Cache) table(name string) (*TableSchema, error) {
	t, ok := c.tables[name]
	if !ok {
		return nil, &errs.UndefinedTableError{Table: name, Err: fmt.Errorf("no schema registered")}
	}
	return t, nil
}

func keyOf(pk any) string {
	return fmt.Sprint(pk)
}

// Find returns table's row for pk, or nil if none exists. A memory hit
// skips storage entirely; a miss loads, normalizes and caches the row.
func (c *Cache) Find(ctx context.Context, tableName string, pk any) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	table, err := c.table(tableName)
	if err != nil {
		return nil, err
	}

	key := keyOf(pk)
	if row, ok := c.mem.get(tableName, key); ok {
		return row, nil
	}

	row, err := c.store.Find(ctx, table, pk)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	normalized, err := normalizeRow(table, row, false)
	if err != nil {
		return nil, err
	}
	c.mem.put(tableName, key, normalized)
	return normalized, nil
}

// Insert writes a new row. A pk whose cached or stored value is already
// non-null fails with a unique-constraint error unless conflict overrides
// that with ConflictDoNothing or ConflictDoUpdate.
func (c *Cache) Insert(ctx context.Context, tableName string, values map[string]any, conflict ConflictPolicy) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertLocked(ctx, tableName, values, conflict)
}

// InsertMany applies Insert to each row in order, under a single lock hold
// so the batch observes a consistent view of the cache. It stops at the
// first error, matching the "surrounding event batch is not committed"
// failure contract.
func (c *Cache) InsertMany(ctx context.Context, tableName string, rows []map[string]any, conflict ConflictPolicy) ([]map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(rows))
	for _, values := range rows {
		row, err := c.insertLocked(ctx, tableName, values, conflict)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func (c *Cache) insertLocked(ctx context.Context, tableName string, values map[string]any, conflict ConflictPolicy) (map[string]any, error) {
	table, err := c.table(tableName)
	if err != nil {
		return nil, err
	}

	pk, ok := values[table.PK]
	if !ok {
		return nil, &errs.NotNullConstraintError{Table: tableName, Column: table.PK, Err: fmt.Errorf("primary key not supplied")}
	}
	key := keyOf(pk)

	current, err := c.currentLocked(ctx, table, key, pk)
	if err != nil {
		return nil, err
	}
	if current != nil {
		switch conflict.Action {
		case ConflictDoNothing:
			return current, nil
		case ConflictDoUpdate:
			next := conflict.Update
			if conflict.UpdateFn != nil {
				next = conflict.UpdateFn(current)
			}
			return c.updateLocked(ctx, table, pk, next)
		default:
			return nil, &errs.UniqueConstraintError{Table: tableName, Columns: []string{table.PK}, Err: fmt.Errorf("pk %v already present", pk)}
		}
	}

	normalized, err := normalizeRow(table, values, false)
	if err != nil {
		return nil, err
	}

	if err := c.store.Insert(ctx, table, normalized); err != nil {
		return nil, err
	}

	c.mem.put(tableName, key, normalized)
	return normalized, nil
}

// currentLocked returns the row currently known for pk, consulting memory
// before falling back to storage, or nil if no row exists yet.
func (c *Cache) currentLocked(ctx context.Context, table *TableSchema, key string, pk any) (map[string]any, error) {
	if row, ok := c.mem.get(table.Name, key); ok {
		return row, nil
	}
	return c.store.Find(ctx, table, pk)
}

// Update applies the result of mutate(current) to pk's row, writing through
// to storage. Returns a not-found error if pk has no existing row.
func (c *Cache) Update(ctx context.Context, tableName string, pk any, mutate func(current map[string]any) (map[string]any, error)) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	table, err := c.table(tableName)
	if err != nil {
		return nil, err
	}

	key := keyOf(pk)
	current, err := c.currentLocked(ctx, table, key, pk)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, &errs.RecordNotFoundError{Table: tableName, ID: pk}
	}

	values, err := mutate(current)
	if err != nil {
		return nil, err
	}

	return c.updateLocked(ctx, table, pk, values)
}

func (c *Cache) updateLocked(ctx context.Context, table *TableSchema, pk any, values map[string]any) (map[string]any, error) {
	normalized, err := normalizeRow(table, values, true)
	if err != nil {
		return nil, err
	}

	if err := c.store.Update(ctx, table, pk, normalized); err != nil {
		return nil, err
	}

	key := keyOf(pk)
	c.mem.put(table.Name, key, normalized)
	return normalized, nil
}

// Delete removes pk's row from storage and memory, reporting whether a row
// existed.
func (c *Cache) Delete(ctx context.Context, tableName string, pk any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	table, err := c.table(tableName)
	if err != nil {
		return false, err
	}

	deleted, err := c.store.Delete(ctx, table, pk)
	if err != nil {
		return false, err
	}
	c.mem.delete(tableName, keyOf(pk))
	return deleted, nil
}

// SQL is the read-only passthrough to storage, bypassing the cache
// entirely: callers that need an aggregate or a join over rows the cache
// does not key by pk go straight to the database.
func (c *Cache) SQL(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	return c.store.Query(ctx, query, args...)
}

// InvalidateAll drops every cached entry, for the reorg controller to call
// once it has rolled storage back past a reorg's common-ancestor checkpoint.
// Dropped entries simply reload normalized from storage on their next read.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mem.clear()
}

// Bytes reports the cache's current estimated memory footprint.
func (c *Cache) Bytes() int64 {
	return c.mem.totalBytes()
}

// OverBudget satisfies syncer.CacheBudget: the sync coordinator stops
// pulling new records while the cache is over its configured byte budget.
func (c *Cache) OverBudget() bool {
	return c.mem.overBudget()
}
