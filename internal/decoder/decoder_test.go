package decoder

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

const erc20ABIJSON = `[
	{
		"type": "event",
		"name": "Transfer",
		"anonymous": false,
		"inputs": [
			{"name": "from", "type": "address", "indexed": true},
			{"name": "to", "type": "address", "indexed": true},
			{"name": "value", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "function",
		"name": "transfer",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [
			{"name": "success", "type": "bool"}
		]
	}
]`

func mustParseABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	require.NoError(t, err)
	return parsed
}

func TestDecodeLogUnpacksIndexedAndDataFields(t *testing.T) {
	contractABI := mustParseABI(t)
	r := NewRegistry(nil)
	r.RegisterABI("erc20", contractABI)

	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	value := big.NewInt(1_500_000)

	event := contractABI.Events["Transfer"]
	log := types.Log{
		Address: common.HexToAddress("0xCAFE"),
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        common.LeftPadBytes(value.Bytes(), 32),
		BlockNumber: 42,
	}

	decoded, ok := r.DecodeLog("erc20", log)
	require.True(t, ok)
	require.Equal(t, "Transfer", decoded.EventName)
	require.Equal(t, from, decoded.Args["from"])
	require.Equal(t, to, decoded.Args["to"])
	require.Equal(t, value, decoded.Args["value"])
}

func TestDecodeLogReturnsFalseForUnknownTopic(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterABI("erc20", mustParseABI(t))

	log := types.Log{Topics: []common.Hash{common.HexToHash("0xdeadbeef")}}
	_, ok := r.DecodeLog("erc20", log)
	require.False(t, ok)
}

func TestDecodeLogReturnsFalseForUnregisteredSource(t *testing.T) {
	r := NewRegistry(nil)
	log := types.Log{Topics: []common.Hash{common.HexToHash("0x1")}}
	_, ok := r.DecodeLog("unknown-source", log)
	require.False(t, ok)
}

func TestDecodeLogReturnsFalseOnMalformedData(t *testing.T) {
	contractABI := mustParseABI(t)
	r := NewRegistry(nil)
	r.RegisterABI("erc20", contractABI)

	event := contractABI.Events["Transfer"]
	log := types.Log{
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(common.HexToAddress("0x1").Bytes()),
			common.BytesToHash(common.HexToAddress("0x2").Bytes()),
		},
		Data: []byte{0x01, 0x02}, // too short for a uint256
	}

	_, ok := r.DecodeLog("erc20", log)
	require.False(t, ok)
}

func TestDecodeCallInputUnpacksArguments(t *testing.T) {
	contractABI := mustParseABI(t)
	r := NewRegistry(nil)
	r.RegisterABI("erc20", contractABI)

	to := common.HexToAddress("0x3333333333333333333333333333333333333333")
	amount := big.NewInt(42)

	input, err := contractABI.Pack("transfer", to, amount)
	require.NoError(t, err)

	decoded, ok := r.DecodeCallInput("erc20", input)
	require.True(t, ok)
	require.Equal(t, "transfer", decoded.MethodName)
	require.Equal(t, to, decoded.Args["to"])
	require.Equal(t, amount, decoded.Args["amount"])
}

func TestDecodeCallInputReturnsFalseForShortInput(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterABI("erc20", mustParseABI(t))

	_, ok := r.DecodeCallInput("erc20", []byte{0x01, 0x02})
	require.False(t, ok)
}

func TestDecodeCallInputReturnsFalseForUnknownSelector(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterABI("erc20", mustParseABI(t))

	_, ok := r.DecodeCallInput("erc20", []byte{0xde, 0xad, 0xbe, 0xef, 0x00})
	require.False(t, ok)
}

func TestDecodeCallOutputUnpacksReturnValues(t *testing.T) {
	contractABI := mustParseABI(t)
	r := NewRegistry(nil)
	r.RegisterABI("erc20", contractABI)

	method := contractABI.Methods["transfer"]
	var selector [4]byte
	copy(selector[:], method.ID)

	output, err := method.Outputs.Pack(true)
	require.NoError(t, err)

	args, ok := r.DecodeCallOutput("erc20", selector, output)
	require.True(t, ok)
	require.Equal(t, true, args["success"])
}
