package invoice

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ParseNumber coerces an untrusted value into a finite number.
//
// Null and the empty string are absent. Numeric values are taken as they
// are. Anything else is rendered as text, every rune other than a digit,
// '.' or '-' is dropped (currency symbols, thousands separators, spaces),
// and the rest is parsed. Unparsable or non-finite results are absent as well.
func ParseNumber(v any) *float64 {
	if v == nil {
		return nil
	}
	if f, ok := numeric(v); ok {
		return finite(f)
	}

	s := text(v)
	if s == "" {
		return nil
	}

	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, s)
	if cleaned == "" {
		return nil
	}

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return finite(f)
}

// numeric returns the value of JSON and Go numbers, exponent notation included
func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return math.NaN(), true
		}
		return f, true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	default:
		return 0, false
	}
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
