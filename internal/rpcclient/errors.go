package rpcclient

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/chainforge/evmindex/internal/common"
	"github.com/ethereum/go-ethereum/rpc"
)

var tooManyResultsPattern = regexp.MustCompile(`(?i)query returned more than \d+ results|block range too large|response size exceeded`)

// IsTooManyResultsError reports whether err is a provider's rejection of an
// eth_getLogs call for covering too wide a block range, and returns the
// provider's raw error data so ParseSuggestedBlockRange can try to recover
// a narrower range from it.
func IsTooManyResultsError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		errData := fmt.Sprintf("%v", dataErr.ErrorData())
		if tooManyResultsPattern.MatchString(errData) {
			return true, errData
		}
	}

	if tooManyResultsPattern.MatchString(err.Error()) {
		return true, err.Error()
	}

	return false, ""
}

var suggestedRangePattern = regexp.MustCompile(`\[(0x[0-9a-fA-F]+),\s*(0x[0-9a-fA-F]+)\]`)

// ParseSuggestedBlockRange extracts a provider-suggested [fromBlock,
// toBlock] hex range from an error message, when present. Expected shape:
// "Query returned more than 20000 results. Try with this block range
// [0x7dfd25, 0x7e0fcc]."
func ParseSuggestedBlockRange(errText string) (fromBlock, toBlock uint64, ok bool) {
	if errText == "" {
		return 0, 0, false
	}

	matches := suggestedRangePattern.FindStringSubmatch(errText)
	if len(matches) != 3 {
		return 0, 0, false
	}

	from, err1 := common.ParseUint64orHex(&matches[1])
	to, err2 := common.ParseUint64orHex(&matches[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}

	return from, to, true
}
