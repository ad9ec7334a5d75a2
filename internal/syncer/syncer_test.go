package syncer

import (
	"context"
	"testing"

	"github.com/chainforge/evmindex/internal/checkpoint"
	"github.com/stretchr/testify/require"
)

func cp(ts, chainID, block uint64) checkpoint.Checkpoint {
	return checkpoint.Checkpoint{BlockTimestamp: ts, ChainID: chainID, BlockNumber: block}
}

type fakeChainSource struct {
	chainID      uint64
	queue        []Record
	idx          int
	backfillDone bool
	historical   checkpoint.Checkpoint
	realtime     checkpoint.Checkpoint
	finality     checkpoint.Checkpoint
}

func (f *fakeChainSource) ChainID() uint64 { return f.chainID }

func (f *fakeChainSource) Peek(context.Context) (Record, bool, error) {
	if f.idx >= len(f.queue) {
		return Record{}, false, nil
	}
	return f.queue[f.idx], true, nil
}

func (f *fakeChainSource) Pop(context.Context) error {
	f.idx++
	return nil
}

func (f *fakeChainSource) BackfillDone() bool                        { return f.backfillDone }
func (f *fakeChainSource) HistoricalHead() checkpoint.Checkpoint     { return f.historical }
func (f *fakeChainSource) RealtimeHead() checkpoint.Checkpoint       { return f.realtime }
func (f *fakeChainSource) FinalityCheckpoint() checkpoint.Checkpoint { return f.finality }

type fakeBudget struct{ over bool }

func (b *fakeBudget) OverBudget() bool { return b.over }

func TestPullMergesChainsByCheckpointOrder(t *testing.T) {
	// realtime heads sit well past every queued record: a live tail tracks
	// raw block confirmation, which always runs ahead of however far the
	// decoder has drained each chain's queue.
	chain1 := &fakeChainSource{
		chainID:      1,
		queue:        []Record{{Checkpoint: cp(100, 1, 1)}, {Checkpoint: cp(200, 1, 2)}},
		backfillDone: true,
		realtime:     cp(1_000_000, 1, 0),
	}
	chain2 := &fakeChainSource{
		chainID:      2,
		queue:        []Record{{Checkpoint: cp(150, 2, 1)}, {Checkpoint: cp(250, 2, 2)}},
		backfillDone: true,
		realtime:     cp(1_000_000, 2, 0),
	}

	c := New([]ChainSource{chain1, chain2}, nil, nil)

	var order []uint64
	for i := 0; i < 4; i++ {
		result, err := c.Pull(context.Background())
		require.NoError(t, err)
		require.NotNil(t, result.Record)
		order = append(order, result.Record.Checkpoint.BlockTimestamp)
	}
	require.Equal(t, []uint64{100, 150, 200, 250}, order)

	result, err := c.Pull(context.Background())
	require.NoError(t, err)
	require.Nil(t, result.Record)
	require.Equal(t, NoRecordsPending, result.Blocked)
}

func TestPullBlocksOnSafeFrontierWhileBackfillBehind(t *testing.T) {
	chain1 := &fakeChainSource{
		chainID:      1,
		queue:        []Record{{Checkpoint: cp(100, 1, 1)}, {Checkpoint: cp(300, 1, 2)}},
		backfillDone: false,
		historical:   cp(150, 1, 1),
	}

	c := New([]ChainSource{chain1}, nil, nil)

	result, err := c.Pull(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Record)
	require.Equal(t, uint64(100), result.Record.Checkpoint.BlockTimestamp)

	result, err = c.Pull(context.Background())
	require.NoError(t, err)
	require.Nil(t, result.Record)
	require.Equal(t, BlockedBySafeFrontier, result.Blocked)
}

func TestPullBlocksOnBackpressure(t *testing.T) {
	chain1 := &fakeChainSource{
		chainID:      1,
		queue:        []Record{{Checkpoint: cp(100, 1, 1)}},
		backfillDone: true,
		realtime:     cp(100, 1, 1),
	}

	c := New([]ChainSource{chain1}, &fakeBudget{over: true}, nil)

	result, err := c.Pull(context.Background())
	require.NoError(t, err)
	require.Nil(t, result.Record)
	require.Equal(t, BlockedByBackpressure, result.Blocked)
}

func TestSafeAndFinalityAdvanceMonotonically(t *testing.T) {
	chain1 := &fakeChainSource{
		chainID:      1,
		backfillDone: true,
		realtime:     cp(100, 1, 1),
		finality:     cp(50, 1, 1),
	}

	c := New([]ChainSource{chain1}, nil, nil)

	first, err := c.Pull(context.Background())
	require.NoError(t, err)
	require.True(t, first.SafeAdvanced)
	require.True(t, first.FinalityAdvanced)

	second, err := c.Pull(context.Background())
	require.NoError(t, err)
	require.False(t, second.SafeAdvanced)
	require.False(t, second.FinalityAdvanced)

	chain1.finality = cp(75, 1, 1)
	third, err := c.Pull(context.Background())
	require.NoError(t, err)
	require.False(t, third.SafeAdvanced)
	require.True(t, third.FinalityAdvanced)
	require.Equal(t, uint64(75), third.Finality.BlockTimestamp)
}
