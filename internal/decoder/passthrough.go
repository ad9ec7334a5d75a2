package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Block is a block header's fields copied verbatim; blocks carry no
// contract-defined data, so there is nothing to decode against an ABI.
type Block struct {
	ChainID    uint64
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  uint64
}

// DecodeBlock copies header into a Block tagged with its chain.
func DecodeBlock(chainID uint64, header *types.Header) Block {
	return Block{
		ChainID:    chainID,
		Number:     header.Number.Uint64(),
		Hash:       header.Hash(),
		ParentHash: header.ParentHash,
		Timestamp:  header.Time,
	}
}

// Transaction is a top-level transaction's fields copied verbatim.
type Transaction struct {
	ChainID     uint64
	BlockNumber uint64
	Hash        common.Hash
	From        common.Address
	To          *common.Address
	Value       *big.Int
	Input       []byte
}

// DecodeTransaction copies tx into a Transaction tagged with its chain,
// block and sender (recovered separately, since types.Transaction does not
// carry From).
func DecodeTransaction(chainID, blockNumber uint64, tx *types.Transaction, from common.Address) Transaction {
	return Transaction{
		ChainID:     chainID,
		BlockNumber: blockNumber,
		Hash:        tx.Hash(),
		From:        from,
		To:          tx.To(),
		Value:       tx.Value(),
		Input:       tx.Data(),
	}
}

// Transfer is a native-asset value movement, synthesized by the caller
// from either a transaction's value field or an internal call trace - never
// read directly off the wire, so there is nothing here to parse either.
type Transfer struct {
	ChainID     uint64
	BlockNumber uint64
	From        common.Address
	To          common.Address
	Value       *big.Int
}

// DecodeTransfer builds a Transfer record from its already-resolved fields.
func DecodeTransfer(chainID, blockNumber uint64, from, to common.Address, value *big.Int) Transfer {
	return Transfer{ChainID: chainID, BlockNumber: blockNumber, From: from, To: to, Value: value}
}
