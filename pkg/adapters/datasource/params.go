package datasource

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Parameters arrive from JSON request bodies (float64 numbers) and from the
// document store (int32/int64 numbers, nested maps of their own types), so
// the accessors below accept every representation.

// ParamString returns params[key] rendered as a string, or "".
func ParamString(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// ParamInt returns params[key] as an int, or def when absent or unparseable.
func ParamInt(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// ParamBool interprets yes/no, true/false, 1/0 and booleans.
func ParamBool(params map[string]any, key string, def bool) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "yes", "true", "1", "on":
			return true
		case "no", "false", "0", "off":
			return false
		}
	}
	return def
}

// DecodeParam decodes params[key] into out through a JSON round trip.
func DecodeParam(params map[string]any, key string, out any) error {
	raw, ok := params[key]
	if !ok {
		return fmt.Errorf("%s is missing", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
