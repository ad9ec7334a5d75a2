// Package chainrunner bridges one chain's head-following tail and historical
// backfillers into the single ordered record stream internal/syncer expects
// from a syncer.ChainSource: it runs the live tail and each configured
// source's backfill forward, turns every matched log into a
// checkpoint-ordered syncer.Record, and persists it through
// internal/pipeline on the way.
package chainrunner

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/chainforge/evmindex/internal/backfill"
	"github.com/chainforge/evmindex/internal/chaintail"
	"github.com/chainforge/evmindex/internal/checkpoint"
	"github.com/chainforge/evmindex/internal/filter"
	"github.com/chainforge/evmindex/internal/logger"
	"github.com/chainforge/evmindex/internal/metrics"
	"github.com/chainforge/evmindex/internal/pipeline"
	"github.com/chainforge/evmindex/internal/syncer"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// maxUint64Field and maxRank give a checkpoint the largest sub-block
// position a real record could ever occupy, so a block-level head value
// sorts after every record that block could still produce.
const maxUint64Field = ^uint64(0)

var maxRank = checkpoint.EventTypeRank(^uint8(0))

// SourceSpec is one log-kind source's contribution to a chain: the table
// internal/pipeline writes matched logs to, the backfiller that walks its
// historical range, and the coverage store both the backfiller and the live
// tail path share so a block is never fetched twice.
//
// Name must equal the ID the source's filter.LogFilter was registered
// under, since that is the only handle MatchLog hands back to identify
// which source a matched log belongs to.
type SourceSpec struct {
	Name       string
	Table      string
	StartBlock uint64
	Backfiller *backfill.Backfiller
	Coverage   backfill.CoverageStore
}

// ReorgHandler reconciles storage, the indexing cache and a chain's
// persisted progress back to a checkpoint. Implemented by
// internal/reorgctl.Controller.
type ReorgHandler interface {
	Reorg(ctx context.Context, chainID uint64, at checkpoint.Checkpoint, currentHead uint64) error
}

// FactorySpec declares that matches against ParentSourceID spawn the child
// addresses a dependent filter.AddressMatch.Factory resolves against, and
// where in the parent log that address is carried.
type FactorySpec struct {
	ParentSourceID string
	Location       filter.FactoryLocation
}

// Fetcher is the raw log query the live-tail path issues per newly accepted
// block: every log in the block, left to the filter evaluator to sort out
// which source (if any) wants it. Satisfied by rpcclient.Client.
type Fetcher interface {
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// Runner drives one chain's historical backfill and live tail, and
// implements syncer.ChainSource over the records they produce.
type Runner struct {
	chainID   uint64
	tail      *chaintail.Tail
	headerSrc chaintail.HeaderSource
	fetcher   Fetcher
	evaluator *filter.Evaluator
	writer    *pipeline.Writer
	reorg     ReorgHandler
	log       *logger.Logger

	registry      filter.ChildAddressRegistry
	factoriesByID map[string]filter.FactoryLocation
	sources       []*SourceSpec
	byName        map[string]*SourceSpec

	mu             sync.Mutex
	pending        []syncer.Record
	historicalHead checkpoint.Checkpoint
	realtimeHead   checkpoint.Checkpoint
	finality       checkpoint.Checkpoint
	backfillDone   bool
	lastHeadNumber uint64
	haveHead       bool
}

// New constructs a Runner for one chain. tail must already be configured
// with that chain's finality settings; sources must already have their
// filters registered with evaluator under the same Name. registry and
// factories may both be nil/empty when no source on this chain derives its
// address set from another source's matches.
func New(chainID uint64, tail *chaintail.Tail, headerSrc chaintail.HeaderSource, fetcher Fetcher, evaluator *filter.Evaluator, writer *pipeline.Writer, reorg ReorgHandler, sources []*SourceSpec, registry filter.ChildAddressRegistry, factories []FactorySpec, log *logger.Logger) *Runner {
	byName := make(map[string]*SourceSpec, len(sources))
	for _, s := range sources {
		byName[s.Name] = s
	}
	factoriesByID := make(map[string]filter.FactoryLocation, len(factories))
	for _, f := range factories {
		factoriesByID[f.ParentSourceID] = f.Location
	}
	return &Runner{
		chainID:       chainID,
		tail:          tail,
		headerSrc:     headerSrc,
		fetcher:       fetcher,
		evaluator:     evaluator,
		writer:        writer,
		reorg:         reorg,
		sources:       sources,
		byName:        byName,
		registry:      registry,
		factoriesByID: factoriesByID,
		log:           log,
	}
}

// registerFactoryChildren checks whether matchedID is a factory source's
// parent and, if so, extracts the spawned child address from lg and adds it
// to the registry so dependent filters can match it from this block onward.
func (r *Runner) registerFactoryChildren(matchedID string, lg types.Log) {
	if r.registry == nil {
		return
	}
	loc, ok := r.factoriesByID[matchedID]
	if !ok {
		return
	}
	addr, ok := extractChildAddress(lg, loc)
	if !ok {
		return
	}
	r.registry.Register(matchedID, addr, lg.BlockNumber)
}

// extractChildAddress reads a spawned contract address out of a parent log,
// either from an indexed topic slot (Topic 1-3) or an ABI-decoded offset
// into Data (Topic 0, the Offset byte range within Data).
func extractChildAddress(lg types.Log, loc filter.FactoryLocation) (common.Address, bool) {
	if loc.Topic >= 1 && loc.Topic <= 3 {
		if loc.Topic >= len(lg.Topics) {
			return common.Address{}, false
		}
		return common.BytesToAddress(lg.Topics[loc.Topic].Bytes()), true
	}
	end := loc.Offset + common.AddressLength
	if loc.Offset < 0 || end > len(lg.Data) {
		return common.Address{}, false
	}
	return common.BytesToAddress(lg.Data[loc.Offset:end]), true
}

// Run drives Advance on pollInterval until ctx is cancelled, logging and
// continuing past non-fatal errors so one bad poll does not wedge the
// chain's entire stream.
func (r *Runner) Run(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Advance(ctx); err != nil {
				if r.log != nil {
					r.log.Errorf("chainrunner: chain %d advance: %v", r.chainID, err)
				}
			}
		}
	}
}

// Advance runs one step: poll the live tail, reconcile any reorg, emit
// records for newly accepted blocks, then take one historical backfill hop
// for each source still behind the chain head.
func (r *Runner) Advance(ctx context.Context) error {
	result, err := r.tail.Poll(ctx)
	if err != nil {
		return fmt.Errorf("chainrunner: chain %d poll: %w", r.chainID, err)
	}

	previousHead := r.lastHeadNumber
	if blocks := r.tail.Blocks(); len(blocks) > 0 {
		r.lastHeadNumber = blocks[len(blocks)-1].Number
		r.haveHead = true
	}

	if finalizedNumber, ok := r.tail.Finalized(); ok {
		ts, terr := r.blockTimestamp(ctx, finalizedNumber)
		if terr == nil {
			r.finality = blockUpperBound(r.chainID, ts, finalizedNumber)
		}
	}

	switch result.Outcome {
	case chaintail.Reorged:
		cutoff := ancestorCheckpoint(r.chainID, result.Ancestor)
		r.dropPendingFrom(cutoff)
		if r.historicalHead.Compare(cutoff) >= 0 {
			r.historicalHead = cutoff
		}
		r.realtimeHead = cutoff

		if r.reorg != nil {
			if err := r.reorg.Reorg(ctx, r.chainID, cutoff, previousHead); err != nil {
				return fmt.Errorf("chainrunner: chain %d reorg to block %d: %w", r.chainID, result.Ancestor.Number, err)
			}
		}
		var depth uint64
		if previousHead > result.Ancestor.Number {
			depth = previousHead - result.Ancestor.Number
		}
		metrics.ReorgHandledInc(chainLabel(r.chainID), depth)

		if err := r.emitBlocks(ctx, result.Accepted); err != nil {
			return err
		}
	case chaintail.Extended:
		if err := r.emitBlocks(ctx, result.Accepted); err != nil {
			return err
		}
	}

	if err := r.advanceBackfill(ctx); err != nil {
		return err
	}

	metrics.LastIndexedBlockSet(chainLabel(r.chainID), r.lastHeadNumber)
	return nil
}

// emitBlocks fetches every log in each newly accepted block, matches it
// against the evaluator and persists the hits, marking each block covered
// so a subsequent historical backfill hop never refetches it.
func (r *Runner) emitBlocks(ctx context.Context, blocks []chaintail.LightBlock) error {
	for _, b := range blocks {
		logs, err := r.fetcher.GetLogs(ctx, ethereum.FilterQuery{
			FromBlock: blockNumberBig(b.Number),
			ToBlock:   blockNumberBig(b.Number),
		})
		if err != nil {
			return fmt.Errorf("chainrunner: chain %d fetch logs for block %d: %w", r.chainID, b.Number, err)
		}

		for _, lg := range logs {
			rec := filter.LogRecord{ChainID: r.chainID, Log: lg}
			for _, id := range r.evaluator.MatchLog(rec) {
				src, ok := r.byName[id]
				if !ok {
					continue
				}
				cp := checkpoint.Checkpoint{
					BlockTimestamp:   b.Timestamp,
					ChainID:          r.chainID,
					BlockNumber:      lg.BlockNumber,
					TransactionIndex: uint64(lg.TxIndex),
					EventTypeRank:    checkpoint.RankLog,
					EventIndex:       uint64(lg.Index),
				}
				if err := r.writer.WriteLog(ctx, src.Table, cp, rec); err != nil {
					return err
				}
				r.appendPending(syncer.Record{Checkpoint: cp, Payload: rec})
				r.registerFactoryChildren(id, lg)
				metrics.RecordsEmittedInc(chainLabel(r.chainID), "log", 1)
			}
		}

		for _, src := range r.sources {
			if src.Coverage == nil {
				continue
			}
			if err := src.Coverage.MarkCovered(ctx, r.chainID, b.Number, b.Number); err != nil {
				return fmt.Errorf("chainrunner: chain %d mark block %d covered: %w", r.chainID, b.Number, err)
			}
		}

		r.realtimeHead = blockUpperBound(r.chainID, b.Timestamp, b.Number)
	}
	return nil
}

// advanceBackfill takes one chunk per source from its historical range,
// up to the chain's current head, and records in backfillDone whether every
// source has caught all the way up.
func (r *Runner) advanceBackfill(ctx context.Context) error {
	if !r.haveHead {
		return nil
	}

	allDone := true
	for _, src := range r.sources {
		res, err := src.Backfiller.FetchNext(ctx, src.StartBlock, r.lastHeadNumber)
		if err != nil {
			return fmt.Errorf("chainrunner: chain %d backfill source %s: %w", r.chainID, src.Name, err)
		}
		if res == nil {
			continue
		}
		allDone = false

		ts, err := r.blockTimestamp(ctx, res.ToBlock)
		if err != nil {
			return fmt.Errorf("chainrunner: chain %d resolve block %d timestamp: %w", r.chainID, res.ToBlock, err)
		}

		for _, lg := range res.Logs {
			rec := filter.LogRecord{ChainID: r.chainID, Log: lg}
			logTS := ts
			if lg.BlockNumber != res.ToBlock {
				if t, terr := r.blockTimestamp(ctx, lg.BlockNumber); terr == nil {
					logTS = t
				}
			}
			cp := checkpoint.Checkpoint{
				BlockTimestamp:   logTS,
				ChainID:          r.chainID,
				BlockNumber:      lg.BlockNumber,
				TransactionIndex: uint64(lg.TxIndex),
				EventTypeRank:    checkpoint.RankLog,
				EventIndex:       uint64(lg.Index),
			}
			// Re-run every fetched log through the evaluator rather than
			// trusting it belongs to src: a Backfiller's own address/topic
			// filter is only a query-narrowing optimization, and a factory
			// source's Backfiller has none, so the evaluator (with whatever
			// the registry has learned so far) is the only authority on
			// which source(s), if any, a log actually belongs to.
			for _, id := range r.evaluator.MatchLog(rec) {
				dst, ok := r.byName[id]
				if !ok {
					continue
				}
				if err := r.writer.WriteLog(ctx, dst.Table, cp, rec); err != nil {
					return err
				}
				r.appendPending(syncer.Record{Checkpoint: cp, Payload: rec})
				r.registerFactoryChildren(id, lg)
				metrics.RecordsEmittedInc(chainLabel(r.chainID), "log", 1)
			}
		}

		head := blockUpperBound(r.chainID, ts, res.ToBlock)
		if head.Compare(r.historicalHead) > 0 {
			r.historicalHead = head
		}
	}

	r.backfillDone = allDone
	return nil
}

// blockTimestamp resolves a block's timestamp from the tail's local cache
// when the block is still held there, falling back to a direct header
// fetch for blocks backfill reaches that the tail has already trimmed.
func (r *Runner) blockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error) {
	for _, b := range r.tail.Blocks() {
		if b.Number == blockNumber {
			return b.Timestamp, nil
		}
	}
	header, err := r.headerSrc.GetBlockHeader(ctx, blockNumber)
	if err != nil {
		return 0, err
	}
	return header.Time, nil
}

func (r *Runner) appendPending(rec syncer.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	encoded := rec.Checkpoint.Encode()
	idx := sort.Search(len(r.pending), func(i int) bool {
		return r.pending[i].Checkpoint.Encode() >= encoded
	})
	r.pending = append(r.pending, syncer.Record{})
	copy(r.pending[idx+1:], r.pending[idx:])
	r.pending[idx] = rec
}

// dropPendingFrom discards any not-yet-popped record at or after cutoff,
// since a reorg has rewound storage underneath them.
func (r *Runner) dropPendingFrom(cutoff checkpoint.Checkpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	encoded := cutoff.Encode()
	idx := sort.Search(len(r.pending), func(i int) bool {
		return r.pending[i].Checkpoint.Encode() >= encoded
	})
	r.pending = r.pending[:idx]
}

// ChainID implements syncer.ChainSource.
func (r *Runner) ChainID() uint64 { return r.chainID }

// Peek implements syncer.ChainSource.
func (r *Runner) Peek(ctx context.Context) (syncer.Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return syncer.Record{}, false, nil
	}
	return r.pending[0], true, nil
}

// Pop implements syncer.ChainSource.
func (r *Runner) Pop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return fmt.Errorf("chainrunner: chain %d pop with nothing pending", r.chainID)
	}
	r.pending = r.pending[1:]
	return nil
}

// BackfillDone implements syncer.ChainSource.
func (r *Runner) BackfillDone() bool { return r.backfillDone }

// HistoricalHead implements syncer.ChainSource.
func (r *Runner) HistoricalHead() checkpoint.Checkpoint { return r.historicalHead }

// RealtimeHead implements syncer.ChainSource.
func (r *Runner) RealtimeHead() checkpoint.Checkpoint { return r.realtimeHead }

// FinalityCheckpoint implements syncer.ChainSource.
func (r *Runner) FinalityCheckpoint() checkpoint.Checkpoint { return r.finality }

// ancestorCheckpoint is the cutoff a reorg back to ancestor rewinds to:
// the first position strictly after the ancestor block, so the ancestor's
// own records survive and everything built on top of the abandoned chain
// does not.
func ancestorCheckpoint(chainID uint64, ancestor chaintail.LightBlock) checkpoint.Checkpoint {
	return checkpoint.Checkpoint{
		BlockTimestamp: ancestor.Timestamp,
		ChainID:        chainID,
		BlockNumber:    ancestor.Number + 1,
	}
}

// blockUpperBound is the largest checkpoint a record from blockNumber could
// ever occupy, used to report a head that already covers every record the
// block might still produce.
func blockUpperBound(chainID, timestamp, blockNumber uint64) checkpoint.Checkpoint {
	return checkpoint.Checkpoint{
		BlockTimestamp:   timestamp,
		ChainID:          chainID,
		BlockNumber:      blockNumber,
		TransactionIndex: maxUint64Field,
		EventTypeRank:    maxRank,
		EventIndex:       maxUint64Field,
	}
}

func chainLabel(chainID uint64) string {
	return fmt.Sprintf("%d", chainID)
}

func blockNumberBig(n uint64) *big.Int {
	return new(big.Int).SetUint64(n)
}
