package backfill

// Range is a closed block interval [FromBlock, ToBlock] already known to be
// fully indexed, used to skip work a prior run already completed.
type Range struct {
	FromBlock uint64
	ToBlock   uint64
}

// IsCovered reports whether [from, to] lies entirely within one recorded
// range. Ranges are assumed sorted and non-overlapping, as MergeRanges
// guarantees for whatever slice a CoverageStore returns.
func IsCovered(from, to uint64, covered []Range) bool {
	for _, r := range covered {
		if r.FromBlock <= from && to <= r.ToBlock {
			return true
		}
	}
	return false
}

// MissingRanges returns the sub-ranges of [from, to] not contained in any
// entry of covered, in ascending order. covered must be sorted by
// FromBlock and non-overlapping.
func MissingRanges(from, to uint64, covered []Range) []Range {
	if from > to {
		return nil
	}
	if len(covered) == 0 {
		return []Range{{FromBlock: from, ToBlock: to}}
	}

	var missing []Range
	cursor := from

	for _, r := range covered {
		if r.ToBlock < cursor {
			continue
		}
		if r.FromBlock > to {
			break
		}
		if r.FromBlock > cursor {
			missing = append(missing, Range{FromBlock: cursor, ToBlock: min(r.FromBlock-1, to)})
		}
		if r.ToBlock >= cursor {
			cursor = r.ToBlock + 1
		}
		if cursor > to {
			break
		}
	}

	if cursor <= to {
		missing = append(missing, Range{FromBlock: cursor, ToBlock: to})
	}

	return missing
}

// MergeRanges sorts and coalesces adjacent or overlapping ranges, so a
// CoverageStore can append a newly completed range without its callers
// having to reason about fragmentation.
func MergeRanges(ranges []Range) []Range {
	if len(ranges) < 2 {
		return ranges
	}

	sorted := make([]Range, len(ranges))
	copy(sorted, ranges)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].FromBlock > sorted[j].FromBlock; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}

	merged := sorted[:1]
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.FromBlock > last.ToBlock+1 {
			merged = append(merged, r)
			continue
		}
		if r.ToBlock > last.ToBlock {
			last.ToBlock = r.ToBlock
		}
	}

	return merged
}
