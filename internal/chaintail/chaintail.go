// Package chaintail follows one chain's head: it polls for a new head block,
// walks the remote parent-hash chain back to find where it rejoins the
// locally held tail, and reports whether that poll extended the chain,
// changed nothing, or rewrote history (a reorg).
package chaintail

import (
	"context"
	"fmt"

	"github.com/chainforge/evmindex/internal/errs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LightBlock is the minimal per-block record the tail keeps locally: enough
// to detect extension vs. reorg without holding a full block body.
type LightBlock struct {
	Hash       common.Hash
	ParentHash common.Hash
	Number     uint64
	Timestamp  uint64
}

func fromHeader(h *types.Header) LightBlock {
	return LightBlock{
		Hash:       h.Hash(),
		ParentHash: h.ParentHash,
		Number:     h.Number.Uint64(),
		Timestamp:  h.Time,
	}
}

// Outcome classifies what a Poll call observed.
type Outcome int

const (
	Unchanged Outcome = iota
	Extended
	Reorged
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Extended:
		return "extended"
	case Reorged:
		return "reorged"
	default:
		return "unknown"
	}
}

// PollResult reports the outcome of one Poll call.
type PollResult struct {
	Outcome Outcome

	// Accepted holds newly adopted blocks in ascending block-number order.
	// Populated for both Extended and Reorged (the replacement chain from
	// the common ancestor forward).
	Accepted []LightBlock

	// Ancestor is the common ancestor block when Outcome == Reorged.
	Ancestor LightBlock

	// Dropped holds the locally held blocks strictly after Ancestor that
	// were rolled back, oldest first, when Outcome == Reorged.
	Dropped []LightBlock

	// FinalityAdvanced reports whether the finalized boundary moved during
	// this poll.
	FinalityAdvanced bool

	// Finalized is the new finalized block when FinalityAdvanced is true.
	Finalized LightBlock
}

// HeaderSource is the subset of rpcclient.Client the tail needs. It is an
// interface so the walk-back algorithm can be tested without a live chain.
type HeaderSource interface {
	GetHeaderByTag(ctx context.Context, tag string) (*types.Header, error)
	GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error)
}

// Tail follows one chain's head.
type Tail struct {
	chainID       uint64
	source        HeaderSource
	maxReorgDepth uint64
	finality      string // "finalized", "safe", or "latest"
	finalityLag   uint64

	blocks          []LightBlock // ascending by Number, at most maxReorgDepth blocks ending at head
	finalizedNumber uint64
	haveFinalized   bool
}

// New constructs a Tail for one chain. maxReorgDepth bounds both the local
// deque length and how far back the walk-back algorithm will search before
// giving up with a fatal error.
func New(chainID uint64, source HeaderSource, maxReorgDepth uint64, finality string, finalityLag uint64) *Tail {
	return &Tail{
		chainID:       chainID,
		source:        source,
		maxReorgDepth: maxReorgDepth,
		finality:      finality,
		finalityLag:   finalityLag,
	}
}

// Blocks returns a copy of the currently held deque, ascending by number.
func (t *Tail) Blocks() []LightBlock {
	out := make([]LightBlock, len(t.blocks))
	copy(out, t.blocks)
	return out
}

// indexOf returns the deque index of the block with the given hash, or -1.
func (t *Tail) indexOf(hash common.Hash) int {
	for i, b := range t.blocks {
		if b.Hash == hash {
			return i
		}
	}
	return -1
}

// Poll fetches the remote head and reconciles it against the local deque.
func (t *Tail) Poll(ctx context.Context) (*PollResult, error) {
	head, err := t.source.GetHeaderByTag(ctx, "latest")
	if err != nil {
		return nil, fmt.Errorf("chaintail: fetch head: %w", err)
	}
	headBlock := fromHeader(head)

	result, err := t.reconcile(ctx, headBlock)
	if err != nil {
		return nil, err
	}

	if err := t.advanceFinality(ctx, head, result); err != nil {
		return nil, err
	}

	return result, nil
}

// reconcile is the core walk-back algorithm described by the chain tail
// design: extend on a direct parent match, otherwise walk the remote parent
// chain back until it rejoins the local deque.
func (t *Tail) reconcile(ctx context.Context, head LightBlock) (*PollResult, error) {
	if len(t.blocks) == 0 {
		t.blocks = append(t.blocks, head)
		return &PollResult{Outcome: Extended, Accepted: []LightBlock{head}}, nil
	}

	back := t.blocks[len(t.blocks)-1]
	if head.Hash == back.Hash {
		return &PollResult{Outcome: Unchanged}, nil
	}

	// walked accumulates the remote chain from head backward; reversed to
	// ascending order once the rejoin point is found.
	var walked []LightBlock
	cur := head
	curParent := head.ParentHash
	ancestorIdx := -1

	for depth := uint64(0); depth <= t.maxReorgDepth; depth++ {
		walked = append(walked, cur)
		if idx := t.indexOf(curParent); idx >= 0 {
			ancestorIdx = idx
			break
		}
		if depth == t.maxReorgDepth {
			break
		}
		if cur.Number == 0 {
			break
		}

		parentHeader, err := t.source.GetBlockHeader(ctx, cur.Number-1)
		if err != nil {
			return nil, fmt.Errorf("chaintail: walk back to block %d: %w", cur.Number-1, err)
		}
		cur = fromHeader(parentHeader)
		curParent = cur.ParentHash
	}

	if ancestorIdx < 0 {
		return nil, &errs.DeepReorgError{ChainID: t.chainID, SearchedBack: uint64(len(walked))}
	}

	for i, j := 0, len(walked)-1; i < j; i, j = i+1, j-1 {
		walked[i], walked[j] = walked[j], walked[i]
	}

	ancestor := t.blocks[ancestorIdx]

	if ancestorIdx == len(t.blocks)-1 {
		t.blocks = append(t.blocks, walked...)
		t.trim()
		return &PollResult{Outcome: Extended, Accepted: walked}, nil
	}

	dropped := make([]LightBlock, len(t.blocks[ancestorIdx+1:]))
	copy(dropped, t.blocks[ancestorIdx+1:])

	t.blocks = append(t.blocks[:ancestorIdx+1], walked...)
	t.trim()

	return &PollResult{
		Outcome:  Reorged,
		Accepted: walked,
		Ancestor: ancestor,
		Dropped:  dropped,
	}, nil
}

// trim drops the oldest entries once the deque grows past maxReorgDepth;
// blocks below the finalized boundary are never needed for a future
// walk-back, since a reorg cannot reach behind finality.
func (t *Tail) trim() {
	if t.maxReorgDepth == 0 {
		return
	}
	if overflow := len(t.blocks) - int(t.maxReorgDepth); overflow > 0 {
		t.blocks = t.blocks[overflow:]
	}
}

// advanceFinality updates the finalized boundary, consulting either the
// remote "finalized"/"safe" tag or head.number - finality_lag, per the
// chain's configured finality mode.
func (t *Tail) advanceFinality(ctx context.Context, head *types.Header, result *PollResult) error {
	var finalizedNumber uint64

	switch t.finality {
	case "finalized", "safe":
		finalizedHeader, err := t.source.GetHeaderByTag(ctx, t.finality)
		if err != nil {
			return fmt.Errorf("chaintail: fetch %s header: %w", t.finality, err)
		}
		finalizedNumber = finalizedHeader.Number.Uint64()
	default: // "latest": finality is head.number - finality_lag
		headNumber := head.Number.Uint64()
		if headNumber < t.finalityLag {
			finalizedNumber = 0
		} else {
			finalizedNumber = headNumber - t.finalityLag
		}
	}

	if t.haveFinalized && finalizedNumber <= t.finalizedNumber {
		return nil
	}

	idx := t.indexOf(blockHashAt(t.blocks, finalizedNumber))
	if idx < 0 {
		// The finalized block isn't held locally (e.g. right after startup
		// or a large finality lag); record the number without reporting
		// FinalityAdvanced. Only a later, higher finalized number is checked
		// against the deque again.
		t.finalizedNumber = finalizedNumber
		t.haveFinalized = true
		return nil
	}

	t.finalizedNumber = finalizedNumber
	t.haveFinalized = true
	result.FinalityAdvanced = true
	result.Finalized = t.blocks[idx]
	return nil
}

func blockHashAt(blocks []LightBlock, number uint64) common.Hash {
	for _, b := range blocks {
		if b.Number == number {
			return b.Hash
		}
	}
	return common.Hash{}
}

// Finalized returns the highest block number currently considered
// irreversible, and whether any finality has been observed yet.
func (t *Tail) Finalized() (uint64, bool) {
	return t.finalizedNumber, t.haveFinalized
}
