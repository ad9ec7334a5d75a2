package filter

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogRecord wraps a decoded chain log with the chain it came from; the
// evaluator only ever reasons about records tagged with their chain id,
// never a bare go-ethereum type.
type LogRecord struct {
	ChainID uint64
	Log     types.Log
}

// BlockRecord is the subset of a block header the evaluator needs.
type BlockRecord struct {
	ChainID uint64
	Number  uint64
}

// TransactionRecord is the subset of a transaction the evaluator needs.
type TransactionRecord struct {
	ChainID     uint64
	BlockNumber uint64
	Hash        common.Hash
	From        common.Address
	To          *common.Address // nil for contract creation
	Input       []byte
}

// TransferRecord describes a native-asset value movement, synthesized from
// either a transaction's own value field or an internal call trace.
type TransferRecord struct {
	ChainID     uint64
	BlockNumber uint64
	From        common.Address
	To          common.Address
}

// TraceRecord is the subset of an internal call frame the evaluator needs.
type TraceRecord struct {
	ChainID     uint64
	BlockNumber uint64
	To          common.Address
	Input       []byte
	CallType    string
	Reverted    bool
}
