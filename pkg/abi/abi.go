// Package abi turns the human-readable signatures and contract ABIs a
// source declares in configuration into the hashes and selectors the
// filter evaluator and event decoder actually match against, so neither
// has to know how a Solidity signature becomes a topic0 or a 4-byte
// selector.
package abi

import (
	"fmt"
	"strings"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Parse decodes a contract ABI JSON document.
func Parse(jsonABI string) (ethabi.ABI, error) {
	parsed, err := ethabi.JSON(strings.NewReader(jsonABI))
	if err != nil {
		return ethabi.ABI{}, fmt.Errorf("abi: parse: %w", err)
	}
	return parsed, nil
}

// EventTopic computes the topic0 a log carries for an event declared by its
// canonical signature, e.g. "Transfer(address,address,uint256)". This is
// the same value abi.Event.ID carries for an event parsed from a full ABI,
// computed directly for a source that declares bare signatures instead of
// an ABI document.
func EventTopic(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

// FunctionSelector computes the 4-byte selector a transaction's input data
// carries for a function declared by its canonical signature, e.g.
// "transfer(address,uint256)".
func FunctionSelector(signature string) [4]byte {
	var selector [4]byte
	copy(selector[:], crypto.Keccak256([]byte(signature))[:4])
	return selector
}

// EventTopics maps every event name in contractABI to its topic0, for a
// source that declares a full ABI and selects events from it by name.
func EventTopics(contractABI ethabi.ABI) map[string]common.Hash {
	out := make(map[string]common.Hash, len(contractABI.Events))
	for name, event := range contractABI.Events {
		out[name] = event.ID
	}
	return out
}

// FunctionSelectors maps every method name in contractABI to its 4-byte
// selector, for a source that declares a full ABI and selects functions
// from it by name.
func FunctionSelectors(contractABI ethabi.ABI) map[string][4]byte {
	out := make(map[string][4]byte, len(contractABI.Methods))
	for name, method := range contractABI.Methods {
		var selector [4]byte
		copy(selector[:], method.ID)
		out[name] = selector
	}
	return out
}

// ResolveEventTopics looks up topic0 for each of the given event names
// against a parsed ABI. Used to validate a source's declared
// event_signatures (by name) against the ABI it was declared with, rather
// than trusting every name to exist.
func ResolveEventTopics(contractABI ethabi.ABI, eventNames []string) (map[string]common.Hash, error) {
	out := make(map[string]common.Hash, len(eventNames))
	for _, name := range eventNames {
		event, ok := contractABI.Events[name]
		if !ok {
			return nil, fmt.Errorf("abi: event %q not found in ABI", name)
		}
		out[name] = event.ID
	}
	return out, nil
}
