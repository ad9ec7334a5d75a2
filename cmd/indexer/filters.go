package main

import (
	"fmt"

	"github.com/chainforge/evmindex/internal/filter"
	"github.com/ethereum/go-ethereum/common"
	"github.com/chainforge/evmindex/pkg/config"
)

// parseAddresses converts a source's configured address strings into
// go-ethereum addresses, returning an empty set (matches nothing by a fixed
// list) when addr is empty - the caller decides whether that means
// "wildcard" or "resolved dynamically via a factory" based on FactoryOf.
func parseAddresses(addrs []string) (map[common.Address]struct{}, error) {
	if len(addrs) == 0 {
		return nil, nil
	}
	set := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("invalid address %q", a)
		}
		set[common.HexToAddress(a)] = struct{}{}
	}
	return set, nil
}

// addressSlice flattens an address set into a slice for the backfiller's
// eth_getLogs query, which takes a plain list rather than a set.
func addressSlice(set map[common.Address]struct{}) []common.Address {
	if len(set) == 0 {
		return nil
	}
	out := make([]common.Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	return out
}

// parseTopicSlots converts a source's configured topic rows into the
// evaluator's four fixed topic-slot matchers. Each row is the set of
// acceptable values at that slot; an empty or missing row matches anything.
func parseTopicSlots(rows [][]string) ([4]filter.TopicMatch, error) {
	var slots [4]filter.TopicMatch
	for i, row := range rows {
		if i >= 4 {
			return slots, fmt.Errorf("topics: only 4 slots are supported, got row %d", i)
		}
		if len(row) == 0 {
			continue
		}
		set := make(map[common.Hash]struct{}, len(row))
		for _, h := range row {
			set[common.HexToHash(h)] = struct{}{}
		}
		slots[i] = filter.TopicMatch{Set: set}
	}
	return slots, nil
}

// topicHashRows converts the same configured topic rows into the plain
// [][]common.Hash shape eth_getLogs (and so the backfiller) expects.
func topicHashRows(rows [][]string) [][]common.Hash {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]common.Hash, len(rows))
	for i, row := range rows {
		hashes := make([]common.Hash, len(row))
		for j, h := range row {
			hashes[j] = common.HexToHash(h)
		}
		out[i] = hashes
	}
	return out
}

// filterID scopes a source's configured name to one chain, since the same
// source name can target several chains (SourceConfig.Chains) and the
// evaluator's filter-ID map is global across every chain's Runner.
func filterID(sourceName string, chainID uint64) string {
	return fmt.Sprintf("%s@%d", sourceName, chainID)
}

// buildLogFilter compiles one log-kind source into a filter.LogFilter
// scoped to chainID.
func buildLogFilter(src config.SourceConfig, chainID uint64) (*filter.LogFilter, error) {
	lf := &filter.LogFilter{
		ID:        filterID(src.Name, chainID),
		ChainID:   chainID,
		FromBlock: src.StartBlock,
	}

	if src.FactoryOf != "" {
		lf.Address = filter.AddressMatch{Factory: &filter.FactoryRef{
			ParentFilterID: filterID(src.FactoryOf, chainID),
			Location:       filter.FactoryLocation{Topic: src.FactoryTopic, Offset: src.FactoryOffset},
		}}
	} else {
		set, err := parseAddresses(src.Address)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Name, err)
		}
		lf.Address = filter.AddressMatch{Set: set}
	}

	topics, err := parseTopicSlots(src.Topics)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.Name, err)
	}
	lf.Topics = topics

	return lf, nil
}
