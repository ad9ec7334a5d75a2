// Package rpcclient wraps a go-ethereum JSON-RPC connection with retry and
// batching behavior shared by the historical backfiller and the chain tail
// follower. One Client serves exactly one chain.
package rpcclient

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/chainforge/evmindex/pkg/config"
)

// Client is a retrying, metrics-instrumented JSON-RPC client scoped to a
// single chain.
type Client struct {
	chainName string
	eth       *ethclient.Client
	rpc       *gethrpc.Client
	retry     config.RetryConfig
}

// Dial connects to endpoint and returns a Client for chainName.
func Dial(ctx context.Context, chainName, endpoint string, retry config.RetryConfig) (*Client, error) {
	rc, err := gethrpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dial %s: %w", chainName, err)
	}

	return &Client{
		chainName: chainName,
		eth:       ethclient.NewClient(rc),
		rpc:       rc,
		retry:     retry,
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) call(ctx context.Context, method string, fn func() error) error {
	start := time.Now()
	methodInc(c.chainName, method)
	defer func() { methodDuration(c.chainName, method, time.Since(start)) }()

	if err := retryWithBackoff(ctx, c.retry, c.chainName, method, fn); err != nil {
		methodError(c.chainName, method, "error")
		return err
	}
	return nil
}

// GetLogs retrieves logs matching query, retrying on transient errors.
// A "too many results" rejection is not retried here: it comes back wrapped
// (IsTooManyResultsError still recognizes it) so the caller (the backfiller)
// can narrow its range and retry at the filter level instead.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.call(ctx, "eth_getLogs", func() error {
		var fetchErr error
		logs, fetchErr = c.eth.FilterLogs(ctx, query)
		return fetchErr
	})
	return logs, err
}

// GetBlockHeader retrieves the header for a specific block number.
func (c *Client) GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error) {
	var header *types.Header
	err := c.call(ctx, "eth_getBlockByNumber", func() error {
		var fetchErr error
		header, fetchErr = c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNum))
		return fetchErr
	})
	return header, err
}

// GetHeaderByTag retrieves the header for one of the well-known tags:
// "latest", "safe" or "finalized".
func (c *Client) GetHeaderByTag(ctx context.Context, tag string) (*types.Header, error) {
	var number *big.Int
	switch tag {
	case "latest":
		number = nil
	case "safe":
		number = big.NewInt(int64(gethrpc.SafeBlockNumber))
	case "finalized":
		number = big.NewInt(int64(gethrpc.FinalizedBlockNumber))
	default:
		return nil, fmt.Errorf("rpcclient: unknown block tag %q", tag)
	}

	var header *types.Header
	err := c.call(ctx, "eth_getBlockByNumber", func() error {
		var fetchErr error
		header, fetchErr = c.eth.HeaderByNumber(ctx, number)
		return fetchErr
	})
	return header, err
}

// GetTransactionReceipt retrieves a transaction's receipt.
func (c *Client) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.call(ctx, "eth_getTransactionReceipt", func() error {
		var fetchErr error
		receipt, fetchErr = c.eth.TransactionReceipt(ctx, hash)
		return fetchErr
	})
	return receipt, err
}

// GetBlockByNumber retrieves a full block, including transactions.
func (c *Client) GetBlockByNumber(ctx context.Context, blockNum uint64) (*types.Block, error) {
	var block *types.Block
	err := c.call(ctx, "eth_getBlockByNumber_full", func() error {
		var fetchErr error
		block, fetchErr = c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(blockNum))
		return fetchErr
	})
	return block, err
}

// BatchGetBlockHeaders retrieves headers for many block numbers using JSON-RPC batching.
func (c *Client) BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	const maxBatch = 100

	var all []*types.Header
	for i := 0; i < len(blockNums); i += maxBatch {
		end := i + maxBatch
		if end > len(blockNums) {
			end = len(blockNums)
		}
		chunk := blockNums[i:end]

		var chunkResults []*types.Header
		err := c.call(ctx, "eth_getBlockByNumber_batch", func() error {
			batch := make([]gethrpc.BatchElem, len(chunk))
			chunkResults = make([]*types.Header, len(chunk))
			for j, n := range chunk {
				batch[j] = gethrpc.BatchElem{
					Method: "eth_getBlockByNumber",
					Args:   []any{toBlockNumArg(n), false},
					Result: &chunkResults[j],
				}
			}
			if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
				return err
			}
			for _, elem := range batch {
				if elem.Error != nil {
					return elem.Error
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		all = append(all, chunkResults...)
	}

	return all, nil
}

func toBlockNumArg(blockNum uint64) string {
	return "0x" + strconv.FormatUint(blockNum, 16)
}
