package filter

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ChildAddressRegistry tracks addresses spawned by factory logs (for
// example a DEX factory's PairCreated event) so that a dependent filter can
// be evaluated against "any address this factory has created" instead of a
// fixed list known up front.
//
// IsChild must gate on atBlock: a child address is only a valid match from
// the block it was first observed onward, never retroactively.
type ChildAddressRegistry interface {
	Register(parentFilterID string, addr common.Address, firstSeenBlock uint64)
	IsChild(parentFilterID string, addr common.Address, atBlock uint64) bool
}

type childEntry struct {
	firstSeenBlock uint64
}

// memoryRegistry is the in-process ChildAddressRegistry implementation. It
// holds only what Register has recorded since the process started; it is
// not persisted and is not rebuilt from storage on startup.
type memoryRegistry struct {
	mu       sync.RWMutex
	children map[string]map[common.Address]childEntry
}

// NewChildAddressRegistry constructs an empty registry.
func NewChildAddressRegistry() ChildAddressRegistry {
	return &memoryRegistry{
		children: make(map[string]map[common.Address]childEntry),
	}
}

func (r *memoryRegistry) Register(parentFilterID string, addr common.Address, firstSeenBlock uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.children[parentFilterID]
	if !ok {
		set = make(map[common.Address]childEntry)
		r.children[parentFilterID] = set
	}

	if existing, ok := set[addr]; ok && existing.firstSeenBlock <= firstSeenBlock {
		return
	}
	set[addr] = childEntry{firstSeenBlock: firstSeenBlock}
}

func (r *memoryRegistry) IsChild(parentFilterID string, addr common.Address, atBlock uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.children[parentFilterID]
	if !ok {
		return false
	}
	entry, ok := set[addr]
	if !ok {
		return false
	}
	return entry.firstSeenBlock <= atBlock
}
