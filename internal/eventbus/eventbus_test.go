package eventbus

import (
	"context"
	"testing"

	"github.com/chainforge/evmindex/internal/checkpoint"
	"github.com/stretchr/testify/require"
)

func TestSubjectNamespacesByPrefixKindAndChain(t *testing.T) {
	p := &Publisher{prefix: "evmindex"}
	require.Equal(t, "evmindex.checkpoint.1", p.subject(KindCheckpoint, 1))
	require.Equal(t, "evmindex.finality.42", p.subject(KindFinality, 42))
	require.Equal(t, "evmindex.reorg.7", p.subject(KindReorg, 7))
}

func TestMsgIDIsStableForTheSameKindAndCheckpoint(t *testing.T) {
	cp := checkpoint.Checkpoint{ChainID: 1, BlockNumber: 100}
	require.Equal(t, msgID(KindCheckpoint, cp), msgID(KindCheckpoint, cp))
}

func TestMsgIDDiffersAcrossKinds(t *testing.T) {
	cp := checkpoint.Checkpoint{ChainID: 1, BlockNumber: 100}
	require.NotEqual(t, msgID(KindCheckpoint, cp), msgID(KindFinality, cp))
}

func TestMsgIDDiffersAcrossCheckpoints(t *testing.T) {
	a := checkpoint.Checkpoint{ChainID: 1, BlockNumber: 100}
	b := checkpoint.Checkpoint{ChainID: 1, BlockNumber: 101}
	require.NotEqual(t, msgID(KindCheckpoint, a), msgID(KindCheckpoint, b))
}

func TestStreamNameForNamespacesByPrefix(t *testing.T) {
	require.Equal(t, "evmindex_events", streamNameFor("evmindex"))
}

func TestNilPublisherPublishIsANoOp(t *testing.T) {
	var p *Publisher
	cp := checkpoint.Checkpoint{ChainID: 1}
	require.NoError(t, p.Publish(context.Background(), KindCheckpoint, cp))
	require.NoError(t, p.PublishCheckpoint(context.Background(), cp))
	require.NoError(t, p.PublishFinality(context.Background(), cp))
	require.NoError(t, p.PublishReorg(context.Background(), cp))
}

func TestNilPublisherIsHealthyAndCloseIsSafe(t *testing.T) {
	var p *Publisher
	require.True(t, p.Healthy())
	require.NotPanics(t, func() { p.Close() })
}
