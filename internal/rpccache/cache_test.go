package rpccache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestGetCachesResult(t *testing.T) {
	c := New()
	var calls int64

	key := Key{Method: "eth_getLogs", ChainID: 1, BlockNumber: 100, Params: "addr=0x1"}
	fetch := func(ctx context.Context) (any, error) {
		atomic.AddInt64(&calls, 1)
		return "result", nil
	}

	v1, err := c.Get(context.Background(), key, fetch)
	require.NoError(t, err)
	require.Equal(t, "result", v1)

	v2, err := c.Get(context.Background(), key, fetch)
	require.NoError(t, err)
	require.Equal(t, "result", v2)

	require.EqualValues(t, 1, atomic.LoadInt64(&calls))
	require.Equal(t, 1, c.Len())
}

func TestGetCoalescesConcurrentCallsForSameKey(t *testing.T) {
	c := New()
	var calls int64
	started := make(chan struct{})
	release := make(chan struct{})

	fetch := func(ctx context.Context) (any, error) {
		n := atomic.AddInt64(&calls, 1)
		if n == 1 {
			close(started)
			<-release
		}
		return "value", nil
	}

	key := Key{Method: "eth_getBlockByNumber", ChainID: 1, BlockNumber: 5}

	var wg sync.WaitGroup
	results := make([]any, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(context.Background(), key, fetch)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	<-started
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt64(&calls))
	for _, v := range results {
		require.Equal(t, "value", v)
	}
}

func TestGetDoesNotCacheErrors(t *testing.T) {
	c := New()
	var calls int64

	key := Key{Method: "eth_getLogs", ChainID: 1, BlockNumber: 1}
	fetch := func(ctx context.Context) (any, error) {
		atomic.AddInt64(&calls, 1)
		return nil, errors.New("upstream failure")
	}

	_, err := c.Get(context.Background(), key, fetch)
	require.Error(t, err)

	_, err = c.Get(context.Background(), key, fetch)
	require.Error(t, err)

	require.EqualValues(t, 2, atomic.LoadInt64(&calls))
	require.Equal(t, 0, c.Len())
}

func TestInvalidateDropsMatchingChainAndBlockRange(t *testing.T) {
	c := New()
	fetch := func(ctx context.Context) (any, error) { return "v", nil }

	_, _ = c.Get(context.Background(), Key{Method: "m", ChainID: 1, BlockNumber: 10}, fetch)
	_, _ = c.Get(context.Background(), Key{Method: "m", ChainID: 1, BlockNumber: 20}, fetch)
	_, _ = c.Get(context.Background(), Key{Method: "m", ChainID: 2, BlockNumber: 20}, fetch)
	require.Equal(t, 3, c.Len())

	c.Invalidate(1, 15)
	require.Equal(t, 2, c.Len())
}

func TestPassthroughNeverCaches(t *testing.T) {
	c := New()
	var calls int64
	fetch := func(ctx context.Context) (any, error) {
		atomic.AddInt64(&calls, 1)
		return "v", nil
	}

	key := Key{Method: "eth_getBlockByNumber", ChainID: 1, BlockNumber: 0, Params: "latest"}
	_, _ = c.Passthrough(context.Background(), key, fetch)
	_, _ = c.Passthrough(context.Background(), key, fetch)

	require.EqualValues(t, 2, atomic.LoadInt64(&calls))
	require.Equal(t, 0, c.Len())
}

func TestNormalizeAddressesIsOrderIndependent(t *testing.T) {
	a := common.HexToAddress("0xAAAA")
	b := common.HexToAddress("0xBBBB")

	require.Equal(t, NormalizeAddresses([]common.Address{a, b}), NormalizeAddresses([]common.Address{b, a}))
}

func TestNormalizeTopicsPreservesSlotOrder(t *testing.T) {
	h1 := common.HexToHash("0x01")
	h2 := common.HexToHash("0x02")

	got := NormalizeTopics([][]common.Hash{{h1}, {h2}})
	want := strings.ToLower(h1.Hex()) + ";" + strings.ToLower(h2.Hex())
	require.Equal(t, want, got)
}
