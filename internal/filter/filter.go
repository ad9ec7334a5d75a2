// Package filter evaluates which configured filters match a given chain
// record (log, block, transaction, transfer or trace). Filters are compiled
// once from configuration into hash-indexable fragments, so most matches
// are hash lookups; see Evaluator for the filters that are still scanned.
package filter

import (
	"github.com/ethereum/go-ethereum/common"
)

// Kind distinguishes the five record shapes a filter can be declared over.
type Kind uint8

const (
	KindLog Kind = iota
	KindBlock
	KindTransaction
	KindTransfer
	KindTrace
)

func (k Kind) String() string {
	switch k {
	case KindLog:
		return "log"
	case KindBlock:
		return "block"
	case KindTransaction:
		return "transaction"
	case KindTransfer:
		return "transfer"
	case KindTrace:
		return "trace"
	default:
		return "unknown"
	}
}

// AddressMatch describes how a filter constrains an address-valued field.
// The zero value matches any address. A non-nil Factory takes precedence
// over Set: membership is resolved dynamically against addresses spawned by
// a parent log, rather than against a fixed list known at compile time.
type AddressMatch struct {
	Set     map[common.Address]struct{}
	Factory *FactoryRef
}

// Any reports whether the match has no constraint at all.
func (m AddressMatch) Any() bool {
	return len(m.Set) == 0 && m.Factory == nil
}

// FactoryRef points at the child-address registry populated by another
// filter's logs: Location identifies where the child address sits in the
// parent event (an indexed topic slot or an ABI-decoded data offset).
type FactoryRef struct {
	ParentFilterID string
	Location       FactoryLocation
}

// FactoryLocation names where in a parent log a child contract address is
// carried.
type FactoryLocation struct {
	Topic  int // 1-3 for an indexed topic slot, 0 if not topic-carried
	Offset int // byte offset into log.Data, used when Topic == 0
}

// TopicMatch describes how a filter constrains one topic slot. A nil or
// empty Set matches any value in that slot, including its absence.
type TopicMatch struct {
	Set map[common.Hash]struct{}
}

func (m TopicMatch) any() bool { return len(m.Set) == 0 }

func (m TopicMatch) matches(h common.Hash) bool {
	if m.any() {
		return true
	}
	_, ok := m.Set[h]
	return ok
}

// LogFilter selects logs by chain, contract address (possibly factory
// derived) and up to four indexed topic slots (topic0 is the event
// signature).
type LogFilter struct {
	ID        string
	ChainID   uint64
	Address   AddressMatch
	Topics    [4]TopicMatch
	FromBlock uint64
	ToBlock   *uint64
}

func (f *LogFilter) matchesAddress(addr common.Address, isChild func(parentID string, loc FactoryLocation, addr common.Address, block uint64) bool, block uint64) bool {
	switch {
	case f.Address.Factory != nil:
		return isChild(f.Address.Factory.ParentFilterID, f.Address.Factory.Location, addr, block)
	case len(f.Address.Set) == 0:
		return true
	default:
		_, ok := f.Address.Set[addr]
		return ok
	}
}

func (f *LogFilter) inRange(block uint64) bool {
	if block < f.FromBlock {
		return false
	}
	return f.ToBlock == nil || block <= *f.ToBlock
}

// BlockFilter selects every Interval-th block starting at an Offset, within
// an optional [FromBlock, ToBlock] window. Interval 1 with Offset 0 matches
// every block.
type BlockFilter struct {
	ID        string
	ChainID   uint64
	Interval  uint64
	Offset    uint64
	FromBlock uint64
	ToBlock   *uint64
}

func (f *BlockFilter) matches(block uint64) bool {
	if block < f.FromBlock {
		return false
	}
	if f.ToBlock != nil && block > *f.ToBlock {
		return false
	}
	interval := f.Interval
	if interval == 0 {
		interval = 1
	}
	return (block-f.FromBlock)%interval == f.Offset%interval
}

// SelectorMatch constrains a transaction or trace by 4-byte function
// selector. A nil or empty Set matches any input, including empty input
// (a plain value transfer).
type SelectorMatch struct {
	Set map[[4]byte]struct{}
}

func (m SelectorMatch) any() bool { return len(m.Set) == 0 }

func (m SelectorMatch) matches(input []byte) bool {
	if m.any() {
		return true
	}
	if len(input) < 4 {
		return false
	}
	var sel [4]byte
	copy(sel[:], input[:4])
	_, ok := m.Set[sel]
	return ok
}

// TransactionFilter selects top-level transactions by sender, recipient and
// function selector.
type TransactionFilter struct {
	ID        string
	ChainID   uint64
	From      AddressMatch
	To        AddressMatch
	Selectors SelectorMatch
	FromBlock uint64
	ToBlock   *uint64
}

func (f *TransactionFilter) inRange(block uint64) bool {
	if block < f.FromBlock {
		return false
	}
	return f.ToBlock == nil || block <= *f.ToBlock
}

// TransferFilter selects native-asset value transfers by sender and
// recipient. Transfers are synthesized from transaction value fields and
// internal call traces, not read directly off the wire.
type TransferFilter struct {
	ID        string
	ChainID   uint64
	From      AddressMatch
	To        AddressMatch
	FromBlock uint64
	ToBlock   *uint64
}

func (f *TransferFilter) inRange(block uint64) bool {
	if block < f.FromBlock {
		return false
	}
	return f.ToBlock == nil || block <= *f.ToBlock
}

// TraceFilter selects internal call frames by recipient and function
// selector. CallType and Revert are carried for informational purposes and
// are not matched against; a handler receiving a trace record can still
// inspect them.
type TraceFilter struct {
	ID        string
	ChainID   uint64
	To        AddressMatch
	Selector  SelectorMatch
	FromBlock uint64
	ToBlock   *uint64
}

func (f *TraceFilter) inRange(block uint64) bool {
	if block < f.FromBlock {
		return false
	}
	return f.ToBlock == nil || block <= *f.ToBlock
}
