// Package templating implements the engine's pure rendering contract:
// render(template, ctx) -> string and renderValue(template, ctx) -> any.
// Templates are side-effect-free; recursion into nested maps/lists is
// depth-first, left-to-right.
package templating

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	domerrors "github.com/r3e-network/turbulence/internal/errors"
)

// marker matches {{ expr }}, allowing arbitrary internal whitespace around
// the dotted path or reserved identifier.
var marker = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.\[\]]+)\s*\}\}`)

// Lookup resolves a marker's path against a context map. MapLookup splits
// the path on dots only; a bracketed segment such as items[0] is looked up
// as a literal key.
type Lookup func(path string) (any, bool)

// Render renders a string template, stringifying any substituted value. Use
// RenderValue when the caller wants to preserve non-string types for
// single-marker templates.
func Render(tmpl string, lookup Lookup) (string, error) {
	var firstErr error
	out := marker.ReplaceAllStringFunc(tmpl, func(m string) string {
		if firstErr != nil {
			return m
		}
		key := marker.FindStringSubmatch(m)[1]
		val, ok := lookup(key)
		if !ok {
			firstErr = domerrors.New(domerrors.KindTemplateMissingKey, key)
			return m
		}
		return stringify(val)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// RenderValue renders an arbitrary value. When v is a string and consists
// of exactly one marker with nothing else around it, the extracted typed
// value is returned as-is (number stays number, list stays list, etc).
// Otherwise strings are rendered via Render, and maps/lists are walked
// depth-first, left-to-right.
func RenderValue(v any, lookup Lookup) (any, error) {
	switch t := v.(type) {
	case string:
		if loc := marker.FindStringSubmatchIndex(t); loc != nil && loc[0] == 0 && loc[1] == len(t) {
			key := t[loc[2]:loc[3]]
			val, ok := lookup(key)
			if !ok {
				return nil, domerrors.New(domerrors.KindTemplateMissingKey, key)
			}
			return val, nil
		}
		return Render(t, lookup)
	case map[string]any:
		out := make(map[string]any, len(t))
		for _, k := range sortedKeys(t) {
			rv, err := RenderValue(t[k], lookup)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			rv, err := RenderValue(item, lookup)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// sortedKeys preserves Go's map iteration indeterminism from leaking into
// rendering order for maps where order matters to a caller's test
// expectations; callers rendering JSON bodies don't depend on key order, but
// deterministic traversal keeps error reporting (first missing key wins)
// reproducible across runs.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// MapLookup adapts a nested map[string]any into a Lookup using dotted-path
// traversal, matching the context traversal used elsewhere in the engine.
func MapLookup(root map[string]any) Lookup {
	return func(path string) (any, bool) {
		segs := strings.Split(path, ".")
		var cur any = root
		for _, seg := range segs {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			v, ok := m[seg]
			if !ok {
				return nil, false
			}
			cur = v
		}
		return cur, true
	}
}
