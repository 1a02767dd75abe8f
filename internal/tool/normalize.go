package tool

import (
	"encoding/json"
	"fmt"
	"time"
)

// Normalize converts a tool's return value into the exchange format: scalars,
// sequences, or flat records of scalars. Nested records are flattened into
// dotted field names, lists nested inside records are JSON encoded, and an
// absent or empty result set becomes an empty sequence.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return []any{}
	case string, bool, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	case time.Duration:
		return t.String()
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(t, &decoded); err != nil {
			return string(t)
		}
		return normalizeGeneric(decoded)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return string(data)
	}

	return normalizeGeneric(decoded)
}

func normalizeGeneric(v any) any {
	switch t := v.(type) {
	case nil:
		return []any{}
	case map[string]any:
		out := make(map[string]any, len(t))
		flatten("", t, out)
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			switch et := e.(type) {
			case map[string]any:
				rec := make(map[string]any, len(et))
				flatten("", et, rec)
				out[i] = rec
			case []any:
				out[i] = normalizeGeneric(et)
			default:
				out[i] = e
			}
		}
		return out
	}
	return v
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		switch t := v.(type) {
		case map[string]any:
			flatten(key, t, out)
		case []any:
			data, err := json.Marshal(t)
			if err != nil {
				out[key] = fmt.Sprintf("%v", t)
				continue
			}
			out[key] = string(data)
		default:
			out[key] = v
		}
	}
}
