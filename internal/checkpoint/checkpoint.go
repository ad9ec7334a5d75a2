// Package checkpoint implements the lexicographically-ordered global event
// order used to interleave records from many chains into one stream.
package checkpoint

import (
	"fmt"
	"strconv"
	"strings"
)

// fieldWidth is the zero-padded decimal width of every checkpoint field.
// 20 digits comfortably holds a uint64 (max 20 digits) with room to spare,
// so every field - including chain_id - can share one width and still sort
// lexicographically as an integer would sort numerically.
const fieldWidth = 20

const numFields = 6

// EventTypeRank orders event kinds that can share a (block, tx) position so
// that ties break deterministically: blocks before transactions before logs
// before traces before transfers.
type EventTypeRank uint8

const (
	RankBlock EventTypeRank = iota
	RankTransaction
	RankLog
	RankTrace
	RankTransfer
)

// Checkpoint is the totally ordered tuple described in spec.md §3. Two
// checkpoints compare equal iff every field is equal; Less compares fields
// in declaration order, which is also the order the encoded string sorts.
//
// Cross-chain ordering uses BlockTimestamp then ChainID (spec.md §3), so
// those two fields are compared first here and in the encoded form.
type Checkpoint struct {
	BlockTimestamp   uint64
	ChainID          uint64
	BlockNumber      uint64
	TransactionIndex uint64
	EventTypeRank    EventTypeRank
	EventIndex       uint64
}

// Less reports whether c sorts strictly before other.
func (c Checkpoint) Less(other Checkpoint) bool {
	return c.Encode() < other.Encode()
}

// Compare returns -1, 0, or 1 following the standard comparator contract.
func (c Checkpoint) Compare(other Checkpoint) int {
	a, b := c.Encode(), other.Encode()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Zero is the smallest possible checkpoint, useful as a sentinel "before
// anything has happened" value.
var Zero = Checkpoint{}

// Max is the largest representable checkpoint, used as a sentinel "safe to
// process up to" value before any chain has reported progress. It uses the
// largest value a uint64 can hold in every field, which is still within the
// 20-digit field width and sorts after any realistic checkpoint.
var Max = Checkpoint{
	BlockTimestamp:   ^uint64(0),
	ChainID:          ^uint64(0),
	BlockNumber:      ^uint64(0),
	TransactionIndex: ^uint64(0),
	EventTypeRank:    EventTypeRank(^uint8(0)),
	EventIndex:       ^uint64(0),
}

// Encode serializes the checkpoint to its fixed-width, lexicographically
// comparable string form: six zero-padded decimal fields concatenated with
// no separators, total length numFields*fieldWidth.
func (c Checkpoint) Encode() string {
	var b strings.Builder
	b.Grow(numFields * fieldWidth)
	writeField(&b, c.BlockTimestamp)
	writeField(&b, c.ChainID)
	writeField(&b, c.BlockNumber)
	writeField(&b, c.TransactionIndex)
	writeField(&b, uint64(c.EventTypeRank))
	writeField(&b, c.EventIndex)
	return b.String()
}

func writeField(b *strings.Builder, v uint64) {
	s := strconv.FormatUint(v, 10)
	for i := len(s); i < fieldWidth; i++ {
		b.WriteByte('0')
	}
	b.WriteString(s)
}

// Decode parses a string produced by Encode back into a Checkpoint.
// decode(encode(c)) == c for every c (spec.md §8 round-trip law).
func Decode(s string) (Checkpoint, error) {
	if len(s) != numFields*fieldWidth {
		return Checkpoint{}, fmt.Errorf("checkpoint: invalid encoded length %d, want %d", len(s), numFields*fieldWidth)
	}

	fields := make([]uint64, numFields)
	for i := 0; i < numFields; i++ {
		chunk := s[i*fieldWidth : (i+1)*fieldWidth]
		v, err := strconv.ParseUint(chunk, 10, 64)
		if err != nil {
			return Checkpoint{}, fmt.Errorf("checkpoint: invalid field %d (%q): %w", i, chunk, err)
		}
		fields[i] = v
	}

	return Checkpoint{
		BlockTimestamp:   fields[0],
		ChainID:          fields[1],
		BlockNumber:      fields[2],
		TransactionIndex: fields[3],
		EventTypeRank:    EventTypeRank(fields[4]),
		EventIndex:       fields[5],
	}, nil
}

// String implements fmt.Stringer for log messages.
func (c Checkpoint) String() string {
	return fmt.Sprintf("chain=%d block=%d ts=%d tx=%d rank=%d idx=%d",
		c.ChainID, c.BlockNumber, c.BlockTimestamp, c.TransactionIndex, c.EventTypeRank, c.EventIndex)
}
