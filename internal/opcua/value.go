package opcua

import (
	"fmt"
	"strconv"
	"strings"
)

// Float64 converts a decoded node value into a gauge sample.
//
// Conversion rules:
//   - float32, float64: as is
//   - signed and unsigned integers of every width: converted exactly where representable
//   - bool: true → 1, false → 0
//   - string: parsed with [strconv.ParseFloat] after trimming whitespace
//
// Any other type, including nil, arrays and structured values, returns an
// error wrapping [ErrTypeMismatch].
func Float64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: string %q", ErrTypeMismatch, n)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("%w: nil value", ErrTypeMismatch)
	default:
		return 0, fmt.Errorf("%w: %T", ErrTypeMismatch, v)
	}
}
