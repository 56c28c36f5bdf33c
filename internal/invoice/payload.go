package invoice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotObject is returned when an extraction response is not a JSON object
var ErrNotObject = errors.New("extraction response is not a JSON object")

// Payload is the untrusted response of the extraction service.
// Values keep their decoded JSON types; numbers are json.Number.
type Payload map[string]any

// DecodePayload decodes a raw extraction response. Responses wrapped in a
// {"status": ..., "data": {...}} envelope are unwrapped.
func DecodePayload(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}

	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}

	if _, hasStatus := m["status"]; hasStatus {
		if inner, ok := m["data"].(map[string]any); ok {
			return Payload(inner), nil
		}
	}

	return Payload(m), nil
}

// first returns the first value among keys that is neither null nor an empty string
func (p Payload) first(keys ...string) any {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return v
	}
	return nil
}

// object returns the nested object stored under key, or nil
func (p Payload) object(key string) Payload {
	if m, ok := p[key].(map[string]any); ok {
		return Payload(m)
	}
	return nil
}

// list returns the first array found among keys
func (p Payload) list(keys ...string) []any {
	for _, k := range keys {
		if l, ok := p[k].([]any); ok {
			return l
		}
	}
	return nil
}

// has reports whether any of keys is present, even with a null value
func (p Payload) has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := p[k]; ok {
			return true
		}
	}
	return false
}

// text renders a scalar as a trimmed string. Objects and arrays render empty.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
