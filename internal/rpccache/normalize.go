package rpccache

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddresses renders a set of addresses as a canonical, order
// independent parameter string: lowercased and sorted, so that the same
// logical filter always produces the same cache Key regardless of the
// order its caller happened to build the slice in.
func NormalizeAddresses(addrs []common.Address) string {
	if len(addrs) == 0 {
		return ""
	}

	hexes := make([]string, len(addrs))
	for i, a := range addrs {
		hexes[i] = strings.ToLower(a.Hex())
	}
	sort.Strings(hexes)
	return strings.Join(hexes, ",")
}

// NormalizeTopics renders a topic filter (OR-of-ORs, per eth_getLogs
// semantics) as a canonical parameter string.
func NormalizeTopics(topics [][]common.Hash) string {
	parts := make([]string, len(topics))
	for i, slot := range topics {
		hexes := make([]string, len(slot))
		for j, h := range slot {
			hexes[j] = strings.ToLower(h.Hex())
		}
		sort.Strings(hexes)
		parts[i] = strings.Join(hexes, "|")
	}
	return strings.Join(parts, ";")
}

// LogsParams builds the normalized Params string for an eth_getLogs call
// over [fromBlock, toBlock].
func LogsParams(addrs []common.Address, topics [][]common.Hash, fromBlock, toBlock uint64) string {
	return fmt.Sprintf("%d-%d|%s|%s", fromBlock, toBlock, NormalizeAddresses(addrs), NormalizeTopics(topics))
}
