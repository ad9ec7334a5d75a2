package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cp   Checkpoint
	}{
		{
			name: "zero",
			cp:   Zero,
		},
		{
			name: "max",
			cp:   Max,
		},
		{
			name: "typical",
			cp: Checkpoint{
				BlockTimestamp:   1_700_000_000,
				ChainID:          1,
				BlockNumber:      18_900_000,
				TransactionIndex: 3,
				EventTypeRank:    RankLog,
				EventIndex:       7,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.cp.Encode()
			require.Len(t, encoded, numFields*fieldWidth)

			got, err := Decode(encoded)
			require.NoError(t, err)
			require.Equal(t, tt.cp, got)
		})
	}
}

func TestDecodeInvalidLength(t *testing.T) {
	_, err := Decode("too-short")
	require.Error(t, err)
}

func TestOrderingIsLexicographic(t *testing.T) {
	earlier := Checkpoint{BlockTimestamp: 100, ChainID: 5, BlockNumber: 10}
	later := Checkpoint{BlockTimestamp: 100, ChainID: 5, BlockNumber: 11}

	require.True(t, earlier.Less(later))
	require.Equal(t, -1, earlier.Compare(later))
	require.Less(t, earlier.Encode(), later.Encode())
}

func TestOrderingAcrossChainsByTimestampThenChainID(t *testing.T) {
	// Two different chains; the one with the earlier timestamp sorts first
	// regardless of chain id (spec.md §3: "block_timestamp then chain_id").
	chainA := Checkpoint{BlockTimestamp: 50, ChainID: 999, BlockNumber: 1}
	chainB := Checkpoint{BlockTimestamp: 51, ChainID: 1, BlockNumber: 1}

	require.True(t, chainA.Less(chainB))

	// Same timestamp: lower chain id sorts first.
	tiedA := Checkpoint{BlockTimestamp: 50, ChainID: 1, BlockNumber: 1}
	tiedB := Checkpoint{BlockTimestamp: 50, ChainID: 2, BlockNumber: 1}
	require.True(t, tiedA.Less(tiedB))
}

func TestStrictlyIncreasingAlongOneChain(t *testing.T) {
	cps := []Checkpoint{
		{ChainID: 1, BlockNumber: 1, EventTypeRank: RankBlock, EventIndex: 0},
		{ChainID: 1, BlockNumber: 1, EventTypeRank: RankTransaction, EventIndex: 0},
		{ChainID: 1, BlockNumber: 1, EventTypeRank: RankLog, EventIndex: 0},
		{ChainID: 1, BlockNumber: 1, EventTypeRank: RankLog, EventIndex: 1},
		{ChainID: 1, BlockNumber: 2, EventTypeRank: RankBlock, EventIndex: 0},
	}

	for i := 1; i < len(cps); i++ {
		require.True(t, cps[i-1].Less(cps[i]), "checkpoint %d should sort before %d", i-1, i)
	}
}
