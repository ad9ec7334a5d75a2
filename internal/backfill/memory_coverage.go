package backfill

import (
	"context"
	"sync"
)

// MemoryCoverageStore is an in-process CoverageStore, used by tests and by
// any chain whose configuration doesn't persist backfill progress across
// restarts.
type MemoryCoverageStore struct {
	mu     sync.Mutex
	ranges map[uint64][]Range
}

// NewMemoryCoverageStore constructs an empty MemoryCoverageStore.
func NewMemoryCoverageStore() *MemoryCoverageStore {
	return &MemoryCoverageStore{ranges: make(map[uint64][]Range)}
}

func (s *MemoryCoverageStore) CoveredRanges(_ context.Context, chainID uint64) ([]Range, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Range, len(s.ranges[chainID]))
	copy(out, s.ranges[chainID])
	return out, nil
}

func (s *MemoryCoverageStore) MarkCovered(_ context.Context, chainID uint64, from, to uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ranges[chainID] = MergeRanges(append(s.ranges[chainID], Range{FromBlock: from, ToBlock: to}))
	return nil
}
