package util

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ToInt accepts the shapes a loosely typed JSON field can take.
func ToInt(v any) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		return int(n), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported number type %T", v)
	}
}

// ToFloat is ToInt for real values.
func ToFloat(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, fmt.Errorf("missing value")
	case int:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported number type %T", v)
	}
}

// BoolsToBinaryString renders states as a run of 0 and 1, index 0 first.
func BoolsToBinaryString(bits []bool) string {
	var s strings.Builder
	for _, b := range bits {
		if b {
			s.WriteString("1")
		} else {
			s.WriteString("0")
		}
	}
	return s.String()
}
