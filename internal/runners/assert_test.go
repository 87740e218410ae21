package runners

import (
	"context"
	"testing"

	"github.com/r3e-network/turbulence/internal/domain"
)

func TestAssertRunJSONPathEqualsPasses(t *testing.T) {
	a := NewAssert()
	step := domain.Step{
		Name: "status-is-ready",
		Type: domain.StepAssert,
		Expect: &domain.Expect{
			JSONPath: "$.status",
			Equals:   "ready",
		},
	}
	snapshot := domain.Context{"status": "ready"}

	obs, delta := a.Run(context.Background(), step, snapshot)
	if !obs.OK {
		t.Fatalf("expected assertion to pass, got %#v", obs)
	}
	if delta != nil {
		t.Fatalf("assert must never produce a delta, got %#v", delta)
	}
	result, ok := obs.Body.(domain.AssertionResult)
	if !ok || !result.Passed {
		t.Fatalf("expected passing AssertionResult, got %#v", obs.Body)
	}
}

func TestAssertRunJSONPathMismatchFails(t *testing.T) {
	a := NewAssert()
	step := domain.Step{
		Name: "status-is-ready",
		Type: domain.StepAssert,
		Expect: &domain.Expect{
			JSONPath: "$.status",
			Equals:   "ready",
		},
	}
	snapshot := domain.Context{"status": "pending"}

	obs, _ := a.Run(context.Background(), step, snapshot)
	if obs.OK {
		t.Fatal("expected assertion to fail")
	}
	if len(obs.Errors) != 1 || obs.Errors[0].Kind != "assertion_failed" {
		t.Fatalf("expected assertion_failed error, got %#v", obs.Errors)
	}
}

func TestAssertRunExpressionPredicate(t *testing.T) {
	a := NewAssert()
	step := domain.Step{
		Name: "amount-within-budget",
		Type: domain.StepAssert,
		Expect: &domain.Expect{
			Expression: "amount <= 100",
		},
	}
	snapshot := domain.Context{"amount": 42}

	obs, _ := a.Run(context.Background(), step, snapshot)
	if !obs.OK {
		t.Fatalf("expected assertion to pass, got %#v", obs)
	}
}

func TestAssertRunNilExpectPasses(t *testing.T) {
	a := NewAssert()
	step := domain.Step{Name: "no-op-assert", Type: domain.StepAssert}

	obs, _ := a.Run(context.Background(), step, domain.Context{})
	if !obs.OK {
		t.Fatal("expected a nil expect to pass trivially")
	}
}

func TestAssertRunStatusCodeAgainstLastHTTPObservationFails(t *testing.T) {
	a := NewAssert()
	step := domain.Step{
		Name: "order-created",
		Type: domain.StepAssert,
		Expect: &domain.Expect{
			StatusCode: 200,
		},
	}
	snapshot := domain.Context{lastHTTPKey: map[string]any{"status_code": 500, "body": map[string]any{"error": "boom"}}}

	obs, _ := a.Run(context.Background(), step, snapshot)
	if obs.OK {
		t.Fatal("expected assertion to fail against a 500 response")
	}
	result, ok := obs.Body.(domain.AssertionResult)
	if !ok {
		t.Fatalf("expected an AssertionResult body, got %#v", obs.Body)
	}
	if result.Expected != "200" || result.Actual != "500" {
		t.Fatalf("expected expected=200 actual=500, got expected=%q actual=%q", result.Expected, result.Actual)
	}
}

func TestAssertRunStatusCodeAgainstLastHTTPObservationPasses(t *testing.T) {
	a := NewAssert()
	step := domain.Step{
		Name: "order-created",
		Type: domain.StepAssert,
		Expect: &domain.Expect{
			StatusCode: 200,
		},
	}
	snapshot := domain.Context{lastHTTPKey: map[string]any{"status_code": 200, "body": map[string]any{}}}

	obs, _ := a.Run(context.Background(), step, snapshot)
	if !obs.OK {
		t.Fatalf("expected assertion to pass against a 200 response, got %#v", obs)
	}
}

func TestAssertRunSchemaRejectsMissingRequiredProperty(t *testing.T) {
	a := NewAssert()
	step := domain.Step{
		Name: "order-shape",
		Type: domain.StepAssert,
		Expect: &domain.Expect{
			Schema: map[string]any{
				"type":     "object",
				"required": []any{"id", "total"},
				"properties": map[string]any{
					"total": map[string]any{"type": "number"},
				},
			},
		},
	}
	snapshot := domain.Context{lastHTTPKey: map[string]any{"status_code": 200, "body": map[string]any{"total": 42.0}}}

	obs, _ := a.Run(context.Background(), step, snapshot)
	if obs.OK {
		t.Fatal("expected schema assertion to fail when a required property is missing")
	}
}

func TestAssertRunSchemaPasses(t *testing.T) {
	a := NewAssert()
	step := domain.Step{
		Name: "order-shape",
		Type: domain.StepAssert,
		Expect: &domain.Expect{
			Schema: map[string]any{
				"type":     "object",
				"required": []any{"id"},
				"properties": map[string]any{
					"id": map[string]any{"type": "string"},
				},
			},
		},
	}
	snapshot := domain.Context{lastHTTPKey: map[string]any{"status_code": 200, "body": map[string]any{"id": "order-1"}}}

	obs, _ := a.Run(context.Background(), step, snapshot)
	if !obs.OK {
		t.Fatalf("expected schema assertion to pass, got %#v", obs)
	}
}
