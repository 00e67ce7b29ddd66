package telemetry

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// toFloat coerces JSON numbers and numeric strings. NaN and infinities are
// rejected.
func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// toBool accepts booleans, "true"/"false" style strings and 0/1.
func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, false
		}
		return parsed, true
	case float64:
		switch b {
		case 0:
			return false, true
		case 1:
			return true, true
		}
	}
	return false, false
}

// optionalString returns the value at key as a string. Numbers are
// formatted; empty strings and other types yield nil.
func optionalString(payload map[string]any, key string) *string {
	var s string
	switch v := payload[key].(type) {
	case string:
		s = strings.TrimSpace(v)
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return nil
	}
	if s == "" {
		return nil
	}
	return &s
}

// firstString returns the first non-empty string among keys.
func firstString(payload map[string]any, keys ...string) *string {
	for _, k := range keys {
		if s := optionalString(payload, k); s != nil {
			return s
		}
	}
	return nil
}
