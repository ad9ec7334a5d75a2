package abi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const erc20ABI = `[
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}
	]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[
		{"name":"to","type":"address"},
		{"name":"value","type":"uint256"}
	],"outputs":[{"name":"","type":"bool"}]}
]`

func TestEventTopicMatchesKnownTransferSignature(t *testing.T) {
	topic := EventTopic("Transfer(address,address,uint256)")
	require.Equal(t, "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef", topic.Hex())
}

func TestFunctionSelectorMatchesKnownTransferSignature(t *testing.T) {
	selector := FunctionSelector("transfer(address,uint256)")
	require.Equal(t, [4]byte{0xa9, 0x05, 0x9c, 0xbb}, selector)
}

func TestParseThenEventTopicsMatchesDirectComputation(t *testing.T) {
	contractABI, err := Parse(erc20ABI)
	require.NoError(t, err)

	topics := EventTopics(contractABI)
	require.Equal(t, EventTopic("Transfer(address,address,uint256)"), topics["Transfer"])
}

func TestParseThenFunctionSelectorsMatchesDirectComputation(t *testing.T) {
	contractABI, err := Parse(erc20ABI)
	require.NoError(t, err)

	selectors := FunctionSelectors(contractABI)
	require.Equal(t, FunctionSelector("transfer(address,uint256)"), selectors["transfer"])
}

func TestResolveEventTopicsFailsOnUnknownEventName(t *testing.T) {
	contractABI, err := Parse(erc20ABI)
	require.NoError(t, err)

	_, err = ResolveEventTopics(contractABI, []string{"Approval"})
	require.Error(t, err)
}

func TestResolveEventTopicsReturnsRequestedSubset(t *testing.T) {
	contractABI, err := Parse(erc20ABI)
	require.NoError(t, err)

	topics, err := ResolveEventTopics(contractABI, []string{"Transfer"})
	require.NoError(t, err)
	require.Len(t, topics, 1)
	require.Equal(t, EventTopic("Transfer(address,address,uint256)"), topics["Transfer"])
}

func TestParseFailsOnMalformedJSON(t *testing.T) {
	_, err := Parse("not json")
	require.Error(t, err)
}
