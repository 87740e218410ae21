package templating

import (
	"testing"

	domerrors "github.com/r3e-network/turbulence/internal/errors"
)

func TestRenderSubstitutesAndStringifies(t *testing.T) {
	lookup := MapLookup(map[string]any{
		"entry": map[string]any{
			"customer_id": "cust-1",
			"amount":      float64(42),
		},
	})

	out, err := Render("customer {{ entry.customer_id }} owes {{ entry.amount }}", lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "customer cust-1 owes 42"; out != want {
		t.Fatalf("got %q want %q", out, want)
	}
}

func TestRenderMissingKeyReturnsTemplateError(t *testing.T) {
	lookup := MapLookup(map[string]any{})
	_, err := Render("{{ missing.key }}", lookup)
	if !domerrors.Is(err, domerrors.KindTemplateMissingKey) {
		t.Fatalf("expected KindTemplateMissingKey, got %v", err)
	}
}

func TestRenderValuePreservesTypeForSoleMarker(t *testing.T) {
	lookup := MapLookup(map[string]any{"entry": map[string]any{"amount": float64(42)}})

	v, err := RenderValue("{{ entry.amount }}", lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, ok := v.(float64)
	if !ok || f != 42 {
		t.Fatalf("expected float64(42), got %#v", v)
	}
}

func TestRenderValueWalksNestedMapsAndSlices(t *testing.T) {
	lookup := MapLookup(map[string]any{"entry": map[string]any{"id": "cust-1"}})

	in := map[string]any{
		"customer": "{{ entry.id }}",
		"tags":     []any{"a-{{ entry.id }}", "static"},
	}
	out, err := RenderValue(in, lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map output, got %#v", out)
	}
	if m["customer"] != "cust-1" {
		t.Fatalf("expected rendered customer id, got %#v", m["customer"])
	}
	tags, ok := m["tags"].([]any)
	if !ok || tags[0] != "a-cust-1" || tags[1] != "static" {
		t.Fatalf("unexpected tags: %#v", m["tags"])
	}
}

func TestRenderValueNonMarkerPassesThrough(t *testing.T) {
	lookup := MapLookup(map[string]any{})
	out, err := RenderValue(float64(7), lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != float64(7) {
		t.Fatalf("expected passthrough, got %#v", out)
	}
}
