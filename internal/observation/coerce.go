// File: internal/observation/coerce.go
package observation

import (
	stdjson "encoding/json"

	"github.com/xkilldash9x/fusion-pilot/api/schemas"
)

// Coercion helpers for the loosely typed JSON the vision model emits.
// Anything unrecognizable falls back to the caller's default rather than
// failing: normalization never rejects.

func asMap(value any) (map[string]any, bool) {
	m, ok := value.(map[string]any)
	return m, ok
}

func raw2list(value any) ([]any, bool) {
	list, ok := value.([]any)
	return list, ok
}

func asString(value any, fallback string) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fallback
}

func asBool(value any) bool {
	b, ok := value.(bool)
	return ok && b
}

func asFloat(value any, fallback float64) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case stdjson.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return fallback
}

func asInt(value any, fallback int) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	case stdjson.Number:
		if f, err := v.Float64(); err == nil {
			return int(f)
		}
	}
	return fallback
}

func asStringList(items []any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// coerceBBox turns either a 4-element [x, y, w, h] array or a (possibly
// partial) object into the canonical integer box. Returns nil when the value
// is neither shape.
func coerceBBox(value any) *schemas.BBox {
	switch v := value.(type) {
	case []any:
		if len(v) != 4 {
			return nil
		}
		return &schemas.BBox{
			X:      asInt(v[0], 0),
			Y:      asInt(v[1], 0),
			Width:  asInt(v[2], 0),
			Height: asInt(v[3], 0),
		}
	case map[string]any:
		return &schemas.BBox{
			X:      asInt(v["x"], 0),
			Y:      asInt(v["y"], 0),
			Width:  asInt(v["width"], 0),
			Height: asInt(v["height"], 0),
		}
	}
	return nil
}
