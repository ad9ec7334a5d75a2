// Package backfill drives the historical catch-up pass for one chain: it
// walks a [from, to] block span in adaptively-sized chunks, skipping any
// sub-range a CoverageStore already reports as indexed, and narrows a chunk
// whenever the provider rejects it as too wide.
package backfill

import (
	"context"
	"fmt"
	"math/big"

	"github.com/chainforge/evmindex/internal/logger"
	"github.com/chainforge/evmindex/internal/rpcclient"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Fetcher is the subset of rpcclient.Client the backfiller needs. An
// interface so the adaptive-splitting logic can be exercised without a live
// chain.
type Fetcher interface {
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// CoverageStore records which block ranges have already been fetched for a
// chain, so a restarted backfill does not redo completed work. Its
// persistent implementation is StoreDBCoverageStore, backed by the same
// database as the indexing cache; tests use MemoryCoverageStore.
type CoverageStore interface {
	CoveredRanges(ctx context.Context, chainID uint64) ([]Range, error)
	MarkCovered(ctx context.Context, chainID uint64, from, to uint64) error
}

// Config tunes the adaptive chunk-size behavior.
type Config struct {
	// InitialChunkSize is the block span requested per fetch before any
	// narrowing or growth has happened.
	InitialChunkSize uint64
	// MinChunkSize bounds how far a too-wide rejection can shrink the chunk.
	MinChunkSize uint64
	// MaxChunkSize caps geometric growth after a run of successes.
	MaxChunkSize uint64
	// GrowthFactor multiplies the chunk size on growth; 2 doubles it.
	GrowthFactor uint64
	// GrowAfterSuccesses is how many consecutive successful fetches at the
	// current chunk size are required before it grows again.
	GrowAfterSuccesses uint
}

// ApplyDefaults fills zero fields with the values used when a chain's
// config does not override them.
func (c *Config) ApplyDefaults() {
	if c.InitialChunkSize == 0 {
		c.InitialChunkSize = 2000
	}
	if c.MinChunkSize == 0 {
		c.MinChunkSize = 1
	}
	if c.MaxChunkSize == 0 {
		c.MaxChunkSize = 50_000
	}
	if c.GrowthFactor == 0 {
		c.GrowthFactor = 2
	}
	if c.GrowAfterSuccesses == 0 {
		c.GrowAfterSuccesses = 5
	}
}

// Result is one fetched-and-covered sub-range.
type Result struct {
	FromBlock uint64
	ToBlock   uint64
	Logs      []types.Log
}

// Backfiller walks one chain's historical range for one query shape
// (addresses and topic filters come from the caller, already resolved from
// the filter evaluator's configured log filters).
type Backfiller struct {
	chainID   uint64
	addresses []common.Address
	topics    [][]common.Hash

	fetcher  Fetcher
	coverage CoverageStore
	log      *logger.Logger
	cfg      Config

	currentChunkSize     uint64
	consecutiveSuccesses uint
}

// NewBackfiller constructs a Backfiller for one chain and query shape.
func NewBackfiller(chainID uint64, addresses []common.Address, topics [][]common.Hash, fetcher Fetcher, coverage CoverageStore, cfg Config, log *logger.Logger) *Backfiller {
	cfg.ApplyDefaults()
	return &Backfiller{
		chainID:          chainID,
		addresses:        addresses,
		topics:           topics,
		fetcher:          fetcher,
		coverage:         coverage,
		log:              log,
		cfg:              cfg,
		currentChunkSize: cfg.InitialChunkSize,
	}
}

// FetchNext fetches and marks covered the next uncompleted sub-range within
// [from, to], at the current adaptive chunk size. It returns a nil Result
// once [from, to] is entirely covered.
func (b *Backfiller) FetchNext(ctx context.Context, from, to uint64) (*Result, error) {
	if from > to {
		return nil, nil
	}

	covered, err := b.coverage.CoveredRanges(ctx, b.chainID)
	if err != nil {
		return nil, fmt.Errorf("backfill: load coverage for chain %d: %w", b.chainID, err)
	}

	missing := MissingRanges(from, to, MergeRanges(covered))
	if len(missing) == 0 {
		return nil, nil
	}
	target := missing[0]

	rangeFrom := target.FromBlock
	rangeTo := chunkEnd(rangeFrom, b.currentChunkSize, target.ToBlock)

	for {
		logs, fetchErr := b.fetcher.GetLogs(ctx, ethereum.FilterQuery{
			FromBlock: blockNumberOf(rangeFrom),
			ToBlock:   blockNumberOf(rangeTo),
			Addresses: b.addresses,
			Topics:    b.topics,
		})
		if fetchErr == nil {
			if err := b.coverage.MarkCovered(ctx, b.chainID, rangeFrom, rangeTo); err != nil {
				return nil, fmt.Errorf("backfill: mark covered [%d, %d]: %w", rangeFrom, rangeTo, err)
			}
			b.recordSuccess(rangeTo - rangeFrom + 1)
			return &Result{FromBlock: rangeFrom, ToBlock: rangeTo, Logs: logs}, nil
		}

		tooMany, errText := rpcclient.IsTooManyResultsError(fetchErr)
		if !tooMany {
			return nil, fmt.Errorf("backfill: fetch logs [%d, %d]: %w", rangeFrom, rangeTo, fetchErr)
		}
		if rangeFrom == rangeTo {
			return nil, fmt.Errorf("backfill: provider rejects even a single block %d as too wide: %w", rangeFrom, fetchErr)
		}

		narrowed := b.narrow(rangeFrom, rangeTo, errText)
		if b.log != nil {
			b.log.Debugw("backfill: narrowing chunk after provider rejection",
				"chain_id", b.chainID, "from", rangeFrom, "old_to", rangeTo, "new_to", narrowed)
		}
		rangeTo = narrowed
		b.consecutiveSuccesses = 0
		b.currentChunkSize = max(b.cfg.MinChunkSize, rangeTo-rangeFrom+1)
	}
}

// narrow picks the next, smaller range end to retry with: the provider's
// own suggested range when it parses out of the error text, otherwise a
// plain halving of the requested span.
func (b *Backfiller) narrow(from, to uint64, errText string) uint64 {
	if _, suggestedTo, ok := rpcclient.ParseSuggestedBlockRange(errText); ok && suggestedTo >= from && suggestedTo < to {
		return suggestedTo
	}
	half := from + (to-from)/2
	if half < from {
		return from
	}
	return half
}

// recordSuccess grows the chunk size geometrically, capped at MaxChunkSize,
// once GrowAfterSuccesses consecutive fetches have landed at the current
// size without a too-wide rejection.
func (b *Backfiller) recordSuccess(fetchedSize uint64) {
	if fetchedSize < b.currentChunkSize {
		// A shrunken final chunk (bumping into the overall range's end)
		// isn't evidence the provider can handle more; don't count it.
		return
	}

	b.consecutiveSuccesses++
	if b.consecutiveSuccesses < b.cfg.GrowAfterSuccesses {
		return
	}

	b.consecutiveSuccesses = 0
	grown := b.currentChunkSize * b.cfg.GrowthFactor
	if grown > b.cfg.MaxChunkSize {
		grown = b.cfg.MaxChunkSize
	}
	b.currentChunkSize = grown
}

func chunkEnd(from, chunkSize, upperBound uint64) uint64 {
	end := from + chunkSize - 1
	if end > upperBound {
		return upperBound
	}
	return end
}

func blockNumberOf(n uint64) *big.Int {
	return new(big.Int).SetUint64(n)
}
