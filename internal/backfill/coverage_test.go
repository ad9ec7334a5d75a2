package backfill

import "testing"

import "github.com/stretchr/testify/require"

func TestMissingRangesWithNoCoverage(t *testing.T) {
	missing := MissingRanges(10, 20, nil)
	require.Equal(t, []Range{{FromBlock: 10, ToBlock: 20}}, missing)
}

func TestMissingRangesFullyCovered(t *testing.T) {
	covered := []Range{{FromBlock: 5, ToBlock: 25}}
	require.Empty(t, MissingRanges(10, 20, covered))
	require.True(t, IsCovered(10, 20, covered))
}

func TestMissingRangesWithGapsOnBothSides(t *testing.T) {
	covered := []Range{{FromBlock: 12, ToBlock: 15}}
	missing := MissingRanges(10, 20, covered)
	require.Equal(t, []Range{
		{FromBlock: 10, ToBlock: 11},
		{FromBlock: 16, ToBlock: 20},
	}, missing)
}

func TestMissingRangesWithMultipleCoveredSegments(t *testing.T) {
	covered := []Range{
		{FromBlock: 10, ToBlock: 12},
		{FromBlock: 15, ToBlock: 17},
	}
	missing := MissingRanges(10, 20, covered)
	require.Equal(t, []Range{
		{FromBlock: 13, ToBlock: 14},
		{FromBlock: 18, ToBlock: 20},
	}, missing)
}

func TestMergeRangesCoalescesAdjacentAndOverlapping(t *testing.T) {
	merged := MergeRanges([]Range{
		{FromBlock: 100, ToBlock: 200},
		{FromBlock: 1, ToBlock: 50},
		{FromBlock: 51, ToBlock: 99}, // adjacent to both neighbors
		{FromBlock: 180, ToBlock: 250}, // overlaps the first
	})
	require.Equal(t, []Range{{FromBlock: 1, ToBlock: 250}}, merged)
}

func TestMergeRangesLeavesDisjointRangesSeparate(t *testing.T) {
	merged := MergeRanges([]Range{
		{FromBlock: 1, ToBlock: 10},
		{FromBlock: 20, ToBlock: 30},
	})
	require.Equal(t, []Range{
		{FromBlock: 1, ToBlock: 10},
		{FromBlock: 20, ToBlock: 30},
	}, merged)
}
