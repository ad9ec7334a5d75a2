package indexcache

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chainforge/evmindex/pkg/config"
)

type memEntry struct {
	row     map[string]any
	opIndex uint64
	bytes   int64
}

// memCache is the in-memory half of the write-through cache: a per-table,
// per-pk map of normalized rows, evicted by op_index once the estimated
// byte total crosses cfg.MaxBytes.
type memCache struct {
	mu      sync.Mutex
	cfg     config.IndexCacheConfig
	tables  map[string]map[string]*memEntry
	opIndex uint64
	bytes   int64
	entries int
}

func newMemCache(cfg config.IndexCacheConfig) *memCache {
	cfg.ApplyDefaults()
	return &memCache{cfg: cfg, tables: make(map[string]map[string]*memEntry)}
}

func (m *memCache) get(table, key string) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.tables[table]
	if rows == nil {
		return nil, false
	}
	e, ok := rows[key]
	if !ok {
		return nil, false
	}
	return e.row, true
}

// put records row under table/key and runs eviction if this write pushed
// the cache over its byte budget.
func (m *memCache) put(table, key string, row map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.tables[table]
	if rows == nil {
		rows = make(map[string]*memEntry)
		m.tables[table] = rows
	}

	if old, ok := rows[key]; ok {
		m.bytes -= old.bytes
		m.entries--
	}

	m.opIndex++
	entry := &memEntry{
		row:     row,
		opIndex: m.opIndex,
		bytes:   estimateBytes(row),
	}
	rows[key] = entry
	m.bytes += entry.bytes
	m.entries++

	m.evictLocked()
}

func (m *memCache) delete(table, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.tables[table]
	if rows == nil {
		return
	}
	if old, ok := rows[key]; ok {
		m.bytes -= old.bytes
		m.entries--
		delete(rows, key)
	}
}

// clear drops every cached entry, for the reorg controller: rather than
// track each entry's last-touched checkpoint precisely, the whole cache is
// invalidated and reloads normalized from storage on its next read.
func (m *memCache) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tables = make(map[string]map[string]*memEntry)
	m.bytes = 0
	m.entries = 0
}

func (m *memCache) totalBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes
}

func (m *memCache) overBudget() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes > m.cfg.MaxBytes
}

// evictLocked flushes entries whose op_index falls below the live-entry
// threshold once the cache is over budget. Flushed entries are simply
// dropped: their state is already persisted in storage, so the next read
// reloads and renormalizes them.
func (m *memCache) evictLocked() {
	if m.bytes <= m.cfg.MaxBytes {
		return
	}

	threshold := float64(m.opIndex) - float64(m.entries)*(1-m.cfg.FlushRatio)

	for _, rows := range m.tables {
		for key, e := range rows {
			if float64(e.opIndex) < threshold {
				m.bytes -= e.bytes
				m.entries--
				delete(rows, key)
			}
		}
	}
}

// estimateBytes gives a rough serialized size for a row, good enough to
// drive a byte budget without round-tripping every value through reflection.
func estimateBytes(row map[string]any) int64 {
	b, err := json.Marshal(row)
	if err != nil {
		return int64(len(fmt.Sprint(row)))
	}
	return int64(len(b))
}
