package runners

import (
	"fmt"
	"context"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/r3e-network/turbulence/internal/domain"
	domerrors "github.com/r3e-network/turbulence/internal/errors"
	"github.com/r3e-network/turbulence/internal/sandbox"
	"github.com/r3e-network/turbulence/internal/templating"
)

// Assert evaluates a post-flow predicate against the final context and
// records pass/fail without ever mutating context state.
type Assert struct{}

func NewAssert() *Assert { return &Assert{} }

func (a *Assert) Run(ctx context.Context, step domain.Step, snapshot domain.Context) (domain.Observation, domain.Delta) {
	obs := domain.Observation{StepName: step.Name, StepType: domain.StepAssert}
	stepStart := time.Now()
	lookup := templating.MapLookup(snapshot)

	result := domain.AssertionResult{Name: step.Name}

	passed, expected, actual, err := evaluateAssertion(step.Expect, snapshot, lookup)
	if err != nil {
		result.Passed = false
		result.Error = err.Error()
		obs.Errors = []*domerrors.Detail{domerrors.Wrap(domerrors.KindAssertionFailed, err).WithPath(step.Expect.JSONPath)}
	} else {
		result.Passed = passed
		result.Expected = expected
		result.Actual = actual
		if !passed {
			obs.Errors = []*domerrors.Detail{
				domerrors.New(domerrors.KindAssertionFailed, step.Name).WithExpectedActual(expected, actual),
			}
		}
	}

	obs.OK = result.Passed
	obs.Body = result
	obs.LatencyMS = ms(time.Since(stepStart))
	return obs, nil
}

func evaluateAssertion(expect *domain.Expect, snapshot domain.Context, lookup templating.Lookup) (passed bool, expected, actual string, err error) {
	if expect == nil {
		return true, "", "", nil
	}
	if expect.HasStatusCode() {
		status, _ := lastHTTPStatusCode(snapshot)
		expected = fmt.Sprint(expect.StatusCode)
		actual = fmt.Sprint(status)
		return status == expect.StatusCode, expected, actual, nil
	}
	if expect.Schema != nil {
		body, _ := lastHTTPBody(snapshot)
		violations := validateSchema(expect.Schema, body)
		if len(violations) == 0 {
			return true, "<schema>", "<schema>", nil
		}
		return false, "<schema>", strings.Join(violations, "; "), nil
	}
	if expect.Expression != "" {
		vars := map[string]any(snapshot)
		ok, serr := sandbox.EvalBool(expect.Expression, vars)
		return ok, "true", fmt.Sprint(ok), serr
	}
	if expect.JSONPath != "" {
		v, jerr := jsonpath.Get(expect.JSONPath, map[string]any(snapshot))
		if jerr != nil {
			return false, fmt.Sprint(expect.Equals), "<missing>", nil
		}
		actual = fmt.Sprint(v)
		if expect.Equals != nil {
			expected = fmt.Sprint(expect.Equals)
			return actual == expected, expected, actual, nil
		}
		if expect.Contains != nil {
			expected = fmt.Sprint(expect.Contains)
			return containsValue(v, expect.Contains), expected, actual, nil
		}
		return v != nil, "non-nil", actual, nil
	}
	return true, "", "", nil
}

// lastHTTPStatusCode reads the status_code an Http step stashed under the
// well-known "_http" context key, so an Assert step can reference "the most
// recent Http Observation" without the assertion runner talking HTTP itself.
func lastHTTPStatusCode(snapshot domain.Context) (int, bool) {
	v, ok := snapshot.Get(lastHTTPKey + ".status_code")
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// lastHTTPBody reads the decoded body an Http step stashed under "_http".
func lastHTTPBody(snapshot domain.Context) (any, bool) {
	return snapshot.Get(lastHTTPKey + ".body")
}

// validateSchema performs structural validation of a decoded JSON value
// against a minimal JSON-Schema-shaped descriptor: "type", "properties",
// "required", and "items". It returns one human-readable violation per
// mismatch rather than stopping at the first, so a failing Assert reports
// everything wrong with the body at once.
func validateSchema(schema, value any) []string {
	return validateSchemaAt("$", schema, value)
}

func validateSchemaAt(path string, schema, value any) []string {
	spec, ok := schema.(map[string]any)
	if !ok {
		return nil
	}

	var violations []string

	if want, ok := spec["type"]; ok {
		wantType := fmt.Sprint(want)
		if got := jsonTypeOf(value); got != wantType {
			violations = append(violations, fmt.Sprintf("%s: expected type %q, got %q", path, wantType, got))
			return violations
		}
	}

	if required, ok := spec["required"].([]any); ok {
		obj, _ := value.(map[string]any)
		for _, r := range required {
			key := fmt.Sprint(r)
			if _, present := obj[key]; !present {
				violations = append(violations, fmt.Sprintf("%s: missing required property %q", path, key))
			}
		}
	}

	if props, ok := spec["properties"].(map[string]any); ok {
		obj, _ := value.(map[string]any)
		for key, propSchema := range props {
			child, present := obj[key]
			if !present {
				continue
			}
			violations = append(violations, validateSchemaAt(path+"."+key, propSchema, child)...)
		}
	}

	if items, ok := spec["items"]; ok {
		arr, _ := value.([]any)
		for i, item := range arr {
			violations = append(violations, validateSchemaAt(fmt.Sprintf("%s[%d]", path, i), items, item)...)
		}
	}

	return violations
}

// jsonTypeOf names a decoded JSON value's type the way JSON Schema does:
// "object", "array", "string", "number", "boolean", or "null".
func jsonTypeOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64, int:
		return "number"
	case bool:
		return "boolean"
	default:
		return "unknown"
	}
}
