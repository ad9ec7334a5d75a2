package indexcache

import (
	"testing"

	"github.com/chainforge/evmindex/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestMemCacheGetMissThenHit(t *testing.T) {
	m := newMemCache(config.IndexCacheConfig{MaxBytes: 1 << 20, FlushRatio: 0.25})

	_, ok := m.get("tokens", "0x1")
	require.False(t, ok)

	m.put("tokens", "0x1", map[string]any{"address": "0x1", "symbol": "TOK"})
	row, ok := m.get("tokens", "0x1")
	require.True(t, ok)
	require.Equal(t, "TOK", row["symbol"])
}

func TestMemCacheEvictsLowestOpIndexEntriesOverBudget(t *testing.T) {
	// Each row serializes to roughly the same size; MaxBytes is set tight
	// enough that the fourth insert forces eviction of the oldest entries.
	m := newMemCache(config.IndexCacheConfig{MaxBytes: 60, FlushRatio: 0.5})

	m.put("tokens", "1", map[string]any{"symbol": "AAAA"})
	m.put("tokens", "2", map[string]any{"symbol": "BBBB"})
	m.put("tokens", "3", map[string]any{"symbol": "CCCC"})
	m.put("tokens", "4", map[string]any{"symbol": "DDDD"})

	_, stillThere1 := m.get("tokens", "1")
	_, stillThere4 := m.get("tokens", "4")
	require.False(t, stillThere1, "oldest entry should have been evicted once over budget")
	require.True(t, stillThere4, "most recently written entry should survive eviction")
}

func TestMemCacheClearDropsEverything(t *testing.T) {
	m := newMemCache(config.IndexCacheConfig{MaxBytes: 1 << 20, FlushRatio: 0.25})
	m.put("tokens", "1", map[string]any{"symbol": "AAAA"})
	m.put("tokens", "2", map[string]any{"symbol": "BBBB"})

	m.clear()

	_, ok := m.get("tokens", "1")
	require.False(t, ok)
	require.Equal(t, int64(0), m.totalBytes())
}

func TestMemCacheOverBudgetReportsWhenBytesExceedMax(t *testing.T) {
	m := newMemCache(config.IndexCacheConfig{MaxBytes: 10, FlushRatio: 0})
	require.False(t, m.overBudget())

	m.put("tokens", "1", map[string]any{"symbol": "a very long value that exceeds ten bytes easily"})
	require.True(t, m.overBudget())
}
