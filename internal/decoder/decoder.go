// Package decoder turns raw chain records into named fields using each
// source's configured ABI. Logs and trace call data are decoded by
// signature lookup (topic0 for events, the 4-byte selector for functions);
// blocks, transactions and transfers are carried through as plain field
// copies, since spec requires no parsing for those record kinds.
package decoder

import (
	"github.com/chainforge/evmindex/internal/logger"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type eventEntry struct {
	name  string
	event abi.Event
}

type methodEntry struct {
	name   string
	method abi.Method
}

// Registry holds, per source, the precomputed topic0 -> event and
// selector -> method lookup tables a decode pass needs. A source's ABI is
// registered once at startup; decoding never re-parses JSON.
type Registry struct {
	logsBySource    map[string]map[common.Hash]eventEntry
	methodsBySource map[string]map[[4]byte]methodEntry
	log             *logger.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		logsBySource:    make(map[string]map[common.Hash]eventEntry),
		methodsBySource: make(map[string]map[[4]byte]methodEntry),
		log:             log,
	}
}

// RegisterABI indexes every event and function of contractABI under
// sourceID, replacing any ABI previously registered for that source.
func (r *Registry) RegisterABI(sourceID string, contractABI abi.ABI) {
	events := make(map[common.Hash]eventEntry, len(contractABI.Events))
	for name, event := range contractABI.Events {
		events[event.ID] = eventEntry{name: name, event: event}
	}
	r.logsBySource[sourceID] = events

	methods := make(map[[4]byte]methodEntry, len(contractABI.Methods))
	for name, method := range contractABI.Methods {
		var selector [4]byte
		copy(selector[:], method.ID)
		methods[selector] = methodEntry{name: name, method: method}
	}
	r.methodsBySource[sourceID] = methods
}

// DecodedLog is a log decoded against its source's ABI: Args holds both
// indexed (topic-carried) and non-indexed (data-carried) fields by name.
type DecodedLog struct {
	SourceID  string
	EventName string
	Args      map[string]any
	Log       types.Log
}

// DecodeLog looks up the event matching log's topic0 in sourceID's ABI and
// decodes it. Any failure is reported via ok=false, never an error: an ABI
// can legitimately omit an overloaded event variant a contract still
// emits. No matching event and malformed topics/data also write a debug
// log entry; a log with no topics or a source with no ABI does not.
func (r *Registry) DecodeLog(sourceID string, log types.Log) (*DecodedLog, bool) {
	if len(log.Topics) == 0 {
		return nil, false
	}

	entries := r.logsBySource[sourceID]
	if entries == nil {
		return nil, false
	}

	entry, ok := entries[log.Topics[0]]
	if !ok {
		r.debugw("no ABI event for topic0", "source", sourceID, "topic0", log.Topics[0].Hex())
		return nil, false
	}

	args := make(map[string]any)

	if indexed := indexedArguments(entry.event.Inputs); len(indexed) > 0 {
		if len(log.Topics)-1 < len(indexed) {
			r.debugw("log has fewer topics than indexed event arguments",
				"source", sourceID, "event", entry.name, "have", len(log.Topics)-1, "want", len(indexed))
			return nil, false
		}
		if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:len(indexed)+1]); err != nil {
			r.debugw("parse indexed topics failed", "source", sourceID, "event", entry.name, "err", err)
			return nil, false
		}
	}

	if nonIndexed := entry.event.Inputs.NonIndexed(); len(nonIndexed) > 0 {
		if err := nonIndexed.UnpackIntoMap(args, log.Data); err != nil {
			r.debugw("unpack log data failed", "source", sourceID, "event", entry.name, "err", err)
			return nil, false
		}
	}

	return &DecodedLog{SourceID: sourceID, EventName: entry.name, Args: args, Log: log}, true
}

// DecodedCall is a function call decoded against its source's ABI by
// 4-byte selector.
type DecodedCall struct {
	SourceID   string
	MethodName string
	Selector   [4]byte
	Args       map[string]any
}

// DecodeCallInput looks up the method matching input's leading 4-byte
// selector and decodes its arguments. Non-fatal on any failure, matching
// DecodeLog.
func (r *Registry) DecodeCallInput(sourceID string, input []byte) (*DecodedCall, bool) {
	if len(input) < 4 {
		return nil, false
	}

	var selector [4]byte
	copy(selector[:], input[:4])

	entries := r.methodsBySource[sourceID]
	if entries == nil {
		return nil, false
	}

	entry, ok := entries[selector]
	if !ok {
		r.debugw("no ABI method for selector", "source", sourceID, "selector", selector)
		return nil, false
	}

	args := make(map[string]any)
	if len(entry.method.Inputs) > 0 {
		if err := entry.method.Inputs.UnpackIntoMap(args, input[4:]); err != nil {
			r.debugw("unpack call input failed", "source", sourceID, "method", entry.name, "err", err)
			return nil, false
		}
	}

	return &DecodedCall{SourceID: sourceID, MethodName: entry.name, Selector: selector, Args: args}, true
}

// DecodeCallOutput decodes a function's return data by the same selector
// DecodeCallInput used to identify its inputs.
func (r *Registry) DecodeCallOutput(sourceID string, selector [4]byte, output []byte) (map[string]any, bool) {
	entries := r.methodsBySource[sourceID]
	if entries == nil {
		return nil, false
	}

	entry, ok := entries[selector]
	if !ok {
		return nil, false
	}

	if len(entry.method.Outputs) == 0 {
		return map[string]any{}, true
	}

	args := make(map[string]any)
	if err := entry.method.Outputs.UnpackIntoMap(args, output); err != nil {
		r.debugw("unpack call output failed", "source", sourceID, "method", entry.name, "err", err)
		return nil, false
	}

	return args, true
}

func (r *Registry) debugw(msg string, kv ...any) {
	if r.log != nil {
		r.log.Debugw(msg, kv...)
	}
}

func indexedArguments(inputs abi.Arguments) abi.Arguments {
	var out abi.Arguments
	for _, arg := range inputs {
		if arg.Indexed {
			out = append(out, arg)
		}
	}
	return out
}
