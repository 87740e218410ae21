package sandbox

import (
	"testing"

	domerrors "github.com/r3e-network/turbulence/internal/errors"
)

func TestEvalBoolSimpleComparison(t *testing.T) {
	ok, err := EvalBool("status_code == 200", map[string]any{"status_code": 200})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected true")
	}
}

func TestEvalBoolFalseComparison(t *testing.T) {
	ok, err := EvalBool("amount > 100", map[string]any{"amount": 42})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected false")
	}
}

func TestEvalBoolConditionalAndDotAccess(t *testing.T) {
	vars := map[string]any{
		"entry": map[string]any{"tier": "gold"},
	}
	ok, err := EvalBool(`entry.tier == "gold" ? true : false`, vars)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected true")
	}
}

func TestEvalBoolRejectsFunctionCall(t *testing.T) {
	_, err := EvalBool(`(function(){return true})()`, nil)
	if !domerrors.Is(err, domerrors.KindSandboxForbiddenNode) {
		t.Fatalf("expected KindSandboxForbiddenNode, got %v", err)
	}
}

func TestEvalBoolRejectsNonAllowListedCall(t *testing.T) {
	_, err := EvalBool(`eval("1")`, nil)
	if !domerrors.Is(err, domerrors.KindSandboxForbiddenNode) {
		t.Fatalf("expected KindSandboxForbiddenNode, got %v", err)
	}
}

func TestEvalBoolAllowsLen(t *testing.T) {
	ok, err := EvalBool(`len(items) == 3`, map[string]any{"items": []any{1, 2, 3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected true")
	}
}

func TestEvalBoolAllowsSum(t *testing.T) {
	ok, err := EvalBool(`sum(items) == 6`, map[string]any{"items": []any{1, 2, 3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected true")
	}
}

func TestEvalBoolAllowsMinMax(t *testing.T) {
	ok, err := EvalBool(`min(amounts) == 1 && max(amounts) == 9`, map[string]any{"amounts": []any{5, 1, 9}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected true")
	}
}

func TestEvalBoolAllowsAllAny(t *testing.T) {
	ok, err := EvalBool(`all(flags) == false && any(flags) == true`, map[string]any{"flags": []any{true, false}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected true")
	}
}

func TestEvalBoolAllowsAbs(t *testing.T) {
	ok, err := EvalBool(`abs(delta) == 5`, map[string]any{"delta": -5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected true")
	}
}

func TestEvalBoolRejectsMultipleStatements(t *testing.T) {
	_, err := EvalBool(`var x = 1; x == 1`, nil)
	if !domerrors.Is(err, domerrors.KindSandboxForbiddenNode) {
		t.Fatalf("expected KindSandboxForbiddenNode, got %v", err)
	}
}

func TestEvalBoolRejectsAssignment(t *testing.T) {
	_, err := EvalBool(`x = 1`, map[string]any{"x": 0})
	if !domerrors.Is(err, domerrors.KindSandboxForbiddenNode) {
		t.Fatalf("expected KindSandboxForbiddenNode, got %v", err)
	}
}
