package indexcache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/chainforge/evmindex/internal/errs"
)

// undefinedType is the type of Undefined, the sentinel a caller stores in a
// values map to mean "this column was not supplied", as distinct from an
// explicit nil meaning "this column is null". Both normalize to null when
// no $default applies, but on insert an undefined column gets $default
// just as an absent one does, and an explicit nil never does.
type undefinedType struct{}

// Undefined marks a values map entry as intentionally absent, so normalize
// can tell "caller didn't set this" (eligible for $default) apart from
// "caller explicitly cleared this" (stays null).
var Undefined undefinedType

// normalizeRow applies hex/JSON normalization, not-null checks and
// $default/$onUpdate substitution to values, returning a new map ready to
// write to storage. forUpdate selects $onUpdate instead of $default for
// columns the caller omitted.
func normalizeRow(table *TableSchema, values map[string]any, forUpdate bool) (map[string]any, error) {
	out := make(map[string]any, len(table.Cols))

	for _, col := range table.Cols {
		v, present := values[col.Name]

		if !present {
			switch {
			case forUpdate && col.OnUpdate != nil:
				v = col.OnUpdate(nil)
			case !forUpdate && col.Default != nil:
				v = col.Default()
			default:
				continue
			}
		} else if _, isUndefined := v.(undefinedType); isUndefined {
			v = nil
			if !forUpdate && col.Default != nil {
				v = col.Default()
			}
		} else if forUpdate && col.OnUpdate != nil {
			v = col.OnUpdate(v)
		}

		if v == nil {
			if col.NotNull && col.Name != table.PK {
				return nil, &errs.NotNullConstraintError{
					Table:  table.Name,
					Column: col.Name,
					Err:    fmt.Errorf("value is null or undefined"),
				}
			}
			out[col.Name] = nil
			continue
		}

		normalized, err := normalizeValue(table.Name, col, v)
		if err != nil {
			return nil, err
		}
		out[col.Name] = normalized
	}

	return out, nil
}

func normalizeValue(tableName string, col Column, v any) (any, error) {
	switch col.Kind {
	case ColumnKindHex:
		return normalizeHex(v, col.ByteLength)
	case ColumnKindJSON:
		return encodeJSON(col.Name, v)
	default:
		return v, nil
	}
}

// normalizeHex lowercases v's hex text and left-pads it to byteLength bytes.
// v may be a "0x"-prefixed or bare hex string, or a raw []byte.
func normalizeHex(v any, byteLength int) (string, error) {
	var body string
	switch t := v.(type) {
	case string:
		body = strings.ToLower(strings.TrimPrefix(t, "0x"))
	case []byte:
		body = hex.EncodeToString(t)
	default:
		return "", fmt.Errorf("indexcache: hex column expects string or []byte, got %T", v)
	}

	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("indexcache: invalid hex value %q: %w", body, err)
	}

	want := byteLength * 2
	if len(body) < want {
		body = strings.Repeat("0", want-len(body)) + body
	}
	return "0x" + body, nil
}

// encodeJSON marshals v for a JSON column. A *big.Int anywhere inside v
// fails the write: big.Int's own MarshalJSON emits an unquoted arbitrary
// precision number, which silently loses precision for any JSON consumer
// that decodes numbers as float64 - a bigint column must be told explicitly
// to encode as a decimal string instead of writing through this column.
func encodeJSON(column string, v any) (string, error) {
	if containsBigInt(v) {
		return "", &errs.BigIntSerializationError{
			Column: column,
			Value:  fmt.Sprintf("%v", v),
			Err:    fmt.Errorf("*big.Int values are not representable as a JSON column without explicit string conversion"),
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", &errs.BigIntSerializationError{Column: column, Value: fmt.Sprintf("%v", v), Err: err}
	}
	return string(b), nil
}

func containsBigInt(v any) bool {
	switch t := v.(type) {
	case *big.Int, big.Int:
		return true
	case map[string]any:
		for _, vv := range t {
			if containsBigInt(vv) {
				return true
			}
		}
	case []any:
		for _, vv := range t {
			if containsBigInt(vv) {
				return true
			}
		}
	}
	return false
}
