// Package syncer merges each chain's pending records into the single,
// globally ordered event stream the decoder consumes: a k-way merge by
// checkpoint, bounded by how far each chain's backfill or live tail has
// actually progressed, with backpressure from the indexing cache.
package syncer

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/chainforge/evmindex/internal/checkpoint"
	"github.com/chainforge/evmindex/internal/logger"
)

// Record is one pending unit of work from a chain source: a decoded-or-not
// payload tagged with its position in the global order. The coordinator
// never inspects Payload; it only compares Checkpoint values.
type Record struct {
	Checkpoint checkpoint.Checkpoint
	Payload    any
}

// ChainSource is one chain's contribution to the merged stream: a peekable
// queue of pending records plus the progress markers the merge rule needs
// to decide how far it is safe to read from it.
type ChainSource interface {
	ChainID() uint64

	// Peek returns the next not-yet-emitted record without consuming it.
	// ok is false when the chain currently has nothing pending.
	Peek(ctx context.Context) (rec Record, ok bool, err error)

	// Pop consumes the record last returned by Peek. It must only be
	// called immediately after a successful Peek on the same source.
	Pop(ctx context.Context) error

	// BackfillDone reports whether this chain's historical backfill has
	// caught up to its live tail.
	BackfillDone() bool

	// HistoricalHead is the highest checkpoint this chain's backfill has
	// produced a record for.
	HistoricalHead() checkpoint.Checkpoint

	// RealtimeHead is the highest checkpoint this chain's live tail has
	// produced a record for.
	RealtimeHead() checkpoint.Checkpoint

	// FinalityCheckpoint is the highest checkpoint this chain currently
	// considers irreversible.
	FinalityCheckpoint() checkpoint.Checkpoint
}

// CacheBudget reports whether the indexing cache is over its configured
// byte budget, which pauses the coordinator until it drains.
type CacheBudget interface {
	OverBudget() bool
}

// BlockedReason explains why Pull returned no record this call.
type BlockedReason int

const (
	// NotBlocked means a record was returned.
	NotBlocked BlockedReason = iota
	// BlockedByBackpressure means the indexing cache is over budget.
	BlockedByBackpressure
	// BlockedBySafeFrontier means every pending record sits beyond the
	// current safe-to-process checkpoint (a chain's backfill is behind).
	BlockedBySafeFrontier
	// NoRecordsPending means no source currently has anything queued.
	NoRecordsPending
)

// PullResult reports the outcome of one Pull call.
type PullResult struct {
	Record *Record

	Blocked BlockedReason

	SafeAdvanced bool
	Safe         checkpoint.Checkpoint

	FinalityAdvanced bool
	Finality         checkpoint.Checkpoint
}

// Coordinator merges many ChainSources into one ordered stream.
type Coordinator struct {
	sources []ChainSource
	budget  CacheBudget
	log     *logger.Logger

	pq pendingQueue

	haveSafe bool
	safe     checkpoint.Checkpoint

	haveFinality bool
	finality     checkpoint.Checkpoint
}

// New constructs a Coordinator over the given chain sources. budget may be
// nil, in which case backpressure is never applied.
func New(sources []ChainSource, budget CacheBudget, log *logger.Logger) *Coordinator {
	return &Coordinator{
		sources: sources,
		budget:  budget,
		log:     log,
	}
}

// pendingEntry is one source's currently-peeked record, kept in a min-heap
// ordered by checkpoint so Pull can always find the globally earliest
// pending record in O(log n).
type pendingEntry struct {
	source ChainSource
	record Record
}

type pendingQueue []pendingEntry

func (q pendingQueue) Len() int { return len(q) }
func (q pendingQueue) Less(i, j int) bool {
	return q[i].record.Checkpoint.Less(q[j].record.Checkpoint)
}
func (q pendingQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *pendingQueue) Push(x any)   { *q = append(*q, x.(pendingEntry)) }
func (q *pendingQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// refill peeks every source not currently represented in the queue and
// pushes it in if it has a record ready.
func (c *Coordinator) refill(ctx context.Context) error {
	present := make(map[uint64]struct{}, len(c.pq))
	for _, e := range c.pq {
		present[e.source.ChainID()] = struct{}{}
	}

	for _, src := range c.sources {
		if _, ok := present[src.ChainID()]; ok {
			continue
		}
		rec, ok, err := src.Peek(ctx)
		if err != nil {
			return fmt.Errorf("syncer: peek chain %d: %w", src.ChainID(), err)
		}
		if ok {
			heap.Push(&c.pq, pendingEntry{source: src, record: rec})
		}
	}
	return nil
}

// safeFrontier computes the global "safe to process up to" checkpoint: the
// minimum, across chains, of each chain's historical head while its
// backfill is still running, else its realtime head.
func (c *Coordinator) safeFrontier() checkpoint.Checkpoint {
	if len(c.sources) == 0 {
		return checkpoint.Zero
	}

	safe := checkpoint.Max
	for _, src := range c.sources {
		head := src.RealtimeHead()
		if !src.BackfillDone() {
			head = src.HistoricalHead()
		}
		if head.Less(safe) {
			safe = head
		}
	}
	return safe
}

// finalityFrontier computes the minimum finality checkpoint across chains.
func (c *Coordinator) finalityFrontier() checkpoint.Checkpoint {
	if len(c.sources) == 0 {
		return checkpoint.Zero
	}

	finality := checkpoint.Max
	for _, src := range c.sources {
		f := src.FinalityCheckpoint()
		if f.Less(finality) {
			finality = f
		}
	}
	return finality
}

// Pull attempts to emit the single globally-next record. It never blocks:
// a call that cannot emit a record returns a PullResult with Record == nil
// and Blocked set to why.
func (c *Coordinator) Pull(ctx context.Context) (*PullResult, error) {
	result := &PullResult{}

	newSafe := c.safeFrontier()
	if !c.haveSafe || c.safe.Less(newSafe) {
		c.safe = newSafe
		c.haveSafe = true
		result.SafeAdvanced = true
		result.Safe = newSafe
	}

	newFinality := c.finalityFrontier()
	if !c.haveFinality || c.finality.Less(newFinality) {
		c.finality = newFinality
		c.haveFinality = true
		result.FinalityAdvanced = true
		result.Finality = newFinality
	}

	if c.budget != nil && c.budget.OverBudget() {
		result.Blocked = BlockedByBackpressure
		return result, nil
	}

	if err := c.refill(ctx); err != nil {
		return nil, err
	}

	if c.pq.Len() == 0 {
		result.Blocked = NoRecordsPending
		return result, nil
	}

	top := c.pq[0]
	if c.safe.Less(top.record.Checkpoint) {
		result.Blocked = BlockedBySafeFrontier
		return result, nil
	}

	heap.Pop(&c.pq)
	if err := top.source.Pop(ctx); err != nil {
		return nil, fmt.Errorf("syncer: pop chain %d: %w", top.source.ChainID(), err)
	}

	rec := top.record
	result.Record = &rec
	return result, nil
}
