package storedb

import (
	"database/sql"
	"fmt"

	"github.com/chainforge/evmindex/internal/checkpoint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	meddler.Register("address", addressMeddler{})
	meddler.Register("hash", hashMeddler{})
	meddler.Register("checkpoint", checkpointMeddler{})
}

// addressMeddler stores a common.Address as its EIP-55 checksummed hex
// string (common.Address.Hex); reading accepts any letter case.
type addressMeddler struct{}

func (addressMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (addressMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("storedb: address meddler expected *sql.NullString, got %T", scanTarget)
	}

	switch ptr := fieldAddr.(type) {
	case **common.Address:
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		addr := common.HexToAddress(ns.String)
		*ptr = &addr
		return nil
	case *common.Address:
		if ns.Valid {
			*ptr = common.HexToAddress(ns.String)
		}
		return nil
	default:
		return fmt.Errorf("storedb: address meddler expected *common.Address or **common.Address, got %T", fieldAddr)
	}
}

func (addressMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	switch v := field.(type) {
	case *common.Address:
		if v == nil {
			return nil, nil
		}
		return v.Hex(), nil
	case common.Address:
		return v.Hex(), nil
	default:
		return nil, fmt.Errorf("storedb: address meddler expected common.Address or *common.Address, got %T", field)
	}
}

// hashMeddler stores a common.Hash as its lowercase hex string.
type hashMeddler struct{}

func (hashMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (hashMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("storedb: hash meddler expected *sql.NullString, got %T", scanTarget)
	}

	switch ptr := fieldAddr.(type) {
	case **common.Hash:
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		h := common.HexToHash(ns.String)
		*ptr = &h
		return nil
	case *common.Hash:
		if ns.Valid {
			*ptr = common.HexToHash(ns.String)
		}
		return nil
	default:
		return fmt.Errorf("storedb: hash meddler expected *common.Hash or **common.Hash, got %T", fieldAddr)
	}
}

func (hashMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	switch v := field.(type) {
	case *common.Hash:
		if v == nil {
			return nil, nil
		}
		return v.Hex(), nil
	case common.Hash:
		return v.Hex(), nil
	default:
		return nil, fmt.Errorf("storedb: hash meddler expected common.Hash or *common.Hash, got %T", field)
	}
}

// checkpointMeddler stores a checkpoint.Checkpoint as its fixed-width
// encoded string, so every row in a table that carries one sorts correctly
// under a plain SQL ORDER BY on that column.
type checkpointMeddler struct{}

func (checkpointMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(string), nil
}

func (checkpointMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	s, ok := scanTarget.(*string)
	if !ok {
		return fmt.Errorf("storedb: checkpoint meddler expected *string, got %T", scanTarget)
	}

	ptr, ok := fieldAddr.(*checkpoint.Checkpoint)
	if !ok {
		return fmt.Errorf("storedb: checkpoint meddler expected *checkpoint.Checkpoint, got %T", fieldAddr)
	}

	cp, err := checkpoint.Decode(*s)
	if err != nil {
		return fmt.Errorf("storedb: decode checkpoint column: %w", err)
	}
	*ptr = cp
	return nil
}

func (checkpointMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	cp, ok := field.(checkpoint.Checkpoint)
	if !ok {
		return nil, fmt.Errorf("storedb: checkpoint meddler expected checkpoint.Checkpoint, got %T", field)
	}
	return cp.Encode(), nil
}
