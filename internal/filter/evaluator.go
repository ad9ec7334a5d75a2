package filter

import (
	"github.com/ethereum/go-ethereum/common"
)

// Evaluator holds compiled filters indexed for fast lookup. Construct with
// NewEvaluator and populate it with Add* before calling Match*. Log filters
// with fixed addresses or a topic0 are found through address/topic hash
// indexes (mirrors the address/topic routing tables an indexer coordinator
// builds for its registered indexers). Factory-sourced log filters are not
// indexed: MatchLog scans every registered log filter to find them.
type Evaluator struct {
	registry ChildAddressRegistry

	logsByAddress  map[common.Address][]*LogFilter
	logsByTopic0   map[common.Hash][]*LogFilter
	logsWildcard   map[uint64][]*LogFilter // chain id -> filters with no address/topic0 constraint
	logFiltersByID map[string]*LogFilter

	blockFilters []*BlockFilter

	txByFrom     map[common.Address][]*TransactionFilter
	txByTo       map[common.Address][]*TransactionFilter
	txWildcard   map[uint64][]*TransactionFilter
	transferByTo map[common.Address][]*TransferFilter
	transferWild map[uint64][]*TransferFilter
	traceByTo    map[common.Address][]*TraceFilter
	traceWild    map[uint64][]*TraceFilter
}

// NewEvaluator constructs an empty Evaluator backed by the given child
// address registry, used to resolve factory-sourced address matches.
func NewEvaluator(registry ChildAddressRegistry) *Evaluator {
	return &Evaluator{
		registry:       registry,
		logsByAddress:  make(map[common.Address][]*LogFilter),
		logsByTopic0:   make(map[common.Hash][]*LogFilter),
		logsWildcard:   make(map[uint64][]*LogFilter),
		logFiltersByID: make(map[string]*LogFilter),
		txByFrom:       make(map[common.Address][]*TransactionFilter),
		txByTo:         make(map[common.Address][]*TransactionFilter),
		txWildcard:     make(map[uint64][]*TransactionFilter),
		transferByTo:   make(map[common.Address][]*TransferFilter),
		transferWild:   make(map[uint64][]*TransferFilter),
		traceByTo:      make(map[common.Address][]*TraceFilter),
		traceWild:      make(map[uint64][]*TraceFilter),
	}
}

// AddLogFilter registers a log filter, indexing it by its fixed address set
// (if any) and its topic0 set (if any). A filter with neither falls back to
// a per-chain wildcard bucket that every log on that chain must check.
func (e *Evaluator) AddLogFilter(f *LogFilter) {
	e.logFiltersByID[f.ID] = f

	indexed := false
	if f.Address.Factory == nil {
		for addr := range f.Address.Set {
			e.logsByAddress[addr] = append(e.logsByAddress[addr], f)
			indexed = true
		}
	}
	for topic := range f.Topics[0].Set {
		e.logsByTopic0[topic] = append(e.logsByTopic0[topic], f)
		indexed = true
	}
	if !indexed {
		e.logsWildcard[f.ChainID] = append(e.logsWildcard[f.ChainID], f)
	}
}

// AddBlockFilter registers a block filter. Block filters have no address or
// topic to index on, so they are simply evaluated in order.
func (e *Evaluator) AddBlockFilter(f *BlockFilter) {
	e.blockFilters = append(e.blockFilters, f)
}

// AddTransactionFilter registers a transaction filter.
func (e *Evaluator) AddTransactionFilter(f *TransactionFilter) {
	indexed := false
	for addr := range f.From.Set {
		e.txByFrom[addr] = append(e.txByFrom[addr], f)
		indexed = true
	}
	for addr := range f.To.Set {
		e.txByTo[addr] = append(e.txByTo[addr], f)
		indexed = true
	}
	if !indexed {
		e.txWildcard[f.ChainID] = append(e.txWildcard[f.ChainID], f)
	}
}

// AddTransferFilter registers a transfer filter.
func (e *Evaluator) AddTransferFilter(f *TransferFilter) {
	indexed := false
	for addr := range f.To.Set {
		e.transferByTo[addr] = append(e.transferByTo[addr], f)
		indexed = true
	}
	if !indexed {
		e.transferWild[f.ChainID] = append(e.transferWild[f.ChainID], f)
	}
}

// AddTraceFilter registers a trace filter.
func (e *Evaluator) AddTraceFilter(f *TraceFilter) {
	indexed := false
	for addr := range f.To.Set {
		e.traceByTo[addr] = append(e.traceByTo[addr], f)
		indexed = true
	}
	if !indexed {
		e.traceWild[f.ChainID] = append(e.traceWild[f.ChainID], f)
	}
}

func (e *Evaluator) isChild(parentID string, loc FactoryLocation, addr common.Address, block uint64) bool {
	_ = loc // location informs how the caller populated the registry, not lookup
	return e.registry.IsChild(parentID, addr, block)
}

// MatchLog returns the IDs of every log filter that matches rec.
func (e *Evaluator) MatchLog(rec LogRecord) []string {
	candidates := make(map[*LogFilter]struct{})
	for _, f := range e.logsByAddress[rec.Log.Address] {
		candidates[f] = struct{}{}
	}
	if len(rec.Log.Topics) > 0 {
		for _, f := range e.logsByTopic0[rec.Log.Topics[0]] {
			candidates[f] = struct{}{}
		}
	}
	for _, f := range e.logsWildcard[rec.ChainID] {
		candidates[f] = struct{}{}
	}
	// Factory-sourced filters are never reachable from the fixed-address
	// index, so every registered factory filter on this chain must be
	// checked explicitly.
	for _, f := range e.logFiltersByID {
		if f.ChainID == rec.ChainID && f.Address.Factory != nil {
			candidates[f] = struct{}{}
		}
	}

	var matched []string
	for f := range candidates {
		if e.matchLogFilter(f, rec) {
			matched = append(matched, f.ID)
		}
	}
	return matched
}

func (e *Evaluator) matchLogFilter(f *LogFilter, rec LogRecord) bool {
	if f.ChainID != rec.ChainID {
		return false
	}
	if !f.inRange(rec.Log.BlockNumber) {
		return false
	}
	if !f.matchesAddress(rec.Log.Address, e.isChild, rec.Log.BlockNumber) {
		return false
	}
	for i, topicMatch := range f.Topics {
		if i >= len(rec.Log.Topics) {
			if !topicMatch.any() {
				return false
			}
			continue
		}
		if !topicMatch.matches(rec.Log.Topics[i]) {
			return false
		}
	}
	return true
}

// MatchBlock returns the IDs of every block filter that matches rec.
func (e *Evaluator) MatchBlock(rec BlockRecord) []string {
	var matched []string
	for _, f := range e.blockFilters {
		if f.ChainID == rec.ChainID && f.matches(rec.Number) {
			matched = append(matched, f.ID)
		}
	}
	return matched
}

// MatchTransaction returns the IDs of every transaction filter that matches rec.
func (e *Evaluator) MatchTransaction(rec TransactionRecord) []string {
	candidates := make(map[*TransactionFilter]struct{})
	for _, f := range e.txByFrom[rec.From] {
		candidates[f] = struct{}{}
	}
	if rec.To != nil {
		for _, f := range e.txByTo[*rec.To] {
			candidates[f] = struct{}{}
		}
	}
	for _, f := range e.txWildcard[rec.ChainID] {
		candidates[f] = struct{}{}
	}

	var matched []string
	for f := range candidates {
		if e.matchTransactionFilter(f, rec) {
			matched = append(matched, f.ID)
		}
	}
	return matched
}

func (e *Evaluator) matchTransactionFilter(f *TransactionFilter, rec TransactionRecord) bool {
	if f.ChainID != rec.ChainID || !f.inRange(rec.BlockNumber) {
		return false
	}
	if !addressMatches(f.From, rec.From, e.isChild, f.ID, rec.BlockNumber) {
		return false
	}
	if !toMatches(f.To, rec.To, e.isChild, f.ID, rec.BlockNumber) {
		return false
	}
	return f.Selectors.matches(rec.Input)
}

// MatchTransfer returns the IDs of every transfer filter that matches rec.
func (e *Evaluator) MatchTransfer(rec TransferRecord) []string {
	candidates := make(map[*TransferFilter]struct{})
	for _, f := range e.transferByTo[rec.To] {
		candidates[f] = struct{}{}
	}
	for _, f := range e.transferWild[rec.ChainID] {
		candidates[f] = struct{}{}
	}

	var matched []string
	for f := range candidates {
		if f.ChainID != rec.ChainID || !f.inRange(rec.BlockNumber) {
			continue
		}
		if !addressMatches(f.From, rec.From, e.isChild, f.ID, rec.BlockNumber) {
			continue
		}
		if !addressMatches(f.To, rec.To, e.isChild, f.ID, rec.BlockNumber) {
			continue
		}
		matched = append(matched, f.ID)
	}
	return matched
}

// MatchTrace returns the IDs of every trace filter that matches rec.
func (e *Evaluator) MatchTrace(rec TraceRecord) []string {
	candidates := make(map[*TraceFilter]struct{})
	for _, f := range e.traceByTo[rec.To] {
		candidates[f] = struct{}{}
	}
	for _, f := range e.traceWild[rec.ChainID] {
		candidates[f] = struct{}{}
	}

	var matched []string
	for f := range candidates {
		if f.ChainID != rec.ChainID || !f.inRange(rec.BlockNumber) {
			continue
		}
		if !addressMatches(f.To, rec.To, e.isChild, f.ID, rec.BlockNumber) {
			continue
		}
		if !f.Selector.matches(rec.Input) {
			continue
		}
		matched = append(matched, f.ID)
	}
	return matched
}

func addressMatches(m AddressMatch, addr common.Address, isChild func(string, FactoryLocation, common.Address, uint64) bool, filterID string, block uint64) bool {
	switch {
	case m.Factory != nil:
		return isChild(m.Factory.ParentFilterID, m.Factory.Location, addr, block)
	case len(m.Set) == 0:
		return true
	default:
		_, ok := m.Set[addr]
		return ok
	}
}

func toMatches(m AddressMatch, addr *common.Address, isChild func(string, FactoryLocation, common.Address, uint64) bool, filterID string, block uint64) bool {
	if m.Any() {
		return true
	}
	if addr == nil {
		return false
	}
	return addressMatches(m, *addr, isChild, filterID, block)
}
