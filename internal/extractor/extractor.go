// Package extractor resolves dotted/indexed paths against a decoded HTTP
// response body and writes the matched values into a step's Delta.
package extractor

import (
	"encoding/json"
	"strings"

	domerrors "github.com/r3e-network/turbulence/internal/errors"
	"github.com/tidwall/gjson"
)

// Extract evaluates each path in paths (extract-key -> path) against body
// and returns the resulting Delta. body may be raw JSON bytes, a decoded
// map[string]any/[]any, or a string; all are normalized to JSON bytes
// before evaluation. Paths may be written either in gjson's own dotted
// form ("items.0.sku") or the bracket/JSONPath-ish form scenario authors
// are used to ("$.items[0].id") — translatePath normalizes the latter to
// the former before a single gjson pass resolves it.
//
// A path with zero matches produces a KindExtractionMissingPath error
// carrying that path; extraction stops at the first such miss and returns
// the partial delta gathered so far alongside the error, so callers can
// still record what succeeded.
func Extract(body any, paths map[string]string) (map[string]any, error) {
	raw, err := toJSON(body)
	if err != nil {
		return nil, domerrors.Wrap(domerrors.KindExtractionMissingPath, err)
	}

	out := make(map[string]any, len(paths))
	for _, key := range sortedKeys(paths) {
		path := paths[key]
		result := gjson.GetBytes(raw, translatePath(path))
		if !result.Exists() {
			return out, domerrors.New(domerrors.KindExtractionMissingPath, path).WithPath(path)
		}
		out[key] = resultValue(result)
	}
	return out, nil
}

// translatePath accepts either gjson's native dotted form ("items.0.sku")
// or the JSONPath-style bracket form scenario authors write ("$.items[0].id"):
// it strips an optional leading "$." root and rewrites every "[n]" index
// into gjson's own ".n" segment before the path reaches gjson.GetBytes.
func translatePath(path string) string {
	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")

	var b strings.Builder
	b.Grow(len(path))
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '[':
			b.WriteByte('.')
		case ']':
			// dropped: the preceding '.' plus the digits already written
			// reproduce gjson's own "items.0.id" indexing.
		default:
			b.WriteByte(path[i])
		}
	}
	return b.String()
}

// sortedKeys walks paths in a deterministic order so the first-miss error
// is reproducible across runs given the same scenario definition.
func sortedKeys(paths map[string]string) []string {
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func resultValue(r gjson.Result) any {
	switch r.Type {
	case gjson.Number:
		return r.Num
	case gjson.String:
		return r.Str
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.Null:
		return nil
	default:
		if r.IsArray() || r.IsObject() {
			var v any
			if err := json.Unmarshal([]byte(r.Raw), &v); err == nil {
				return v
			}
		}
		return r.Value()
	}
}

func toJSON(body any) ([]byte, error) {
	switch t := body.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	case nil:
		return []byte("null"), nil
	default:
		return json.Marshal(t)
	}
}
