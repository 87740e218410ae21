package runners

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/r3e-network/turbulence/internal/domain"
)

func testSUT(baseURL string) domain.SUTConfig {
	return domain.SUTConfig{
		Name: "checkout",
		Services: map[string]domain.Service{
			"orders": {BaseURL: baseURL, TimeoutSeconds: 5},
		},
	}
}

func TestHTTPRunSuccessExtractsIntoDelta(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "order-1", "status": "created"})
	}))
	defer srv.Close()

	h := NewHTTP(testSUT(srv.URL), srv.Client())
	step := domain.Step{
		Name:    "create-order",
		Type:    domain.StepHTTP,
		Service: "orders",
		Method:  "POST",
		Path:    "/orders",
		Extract: map[string]string{"order_id": "id"},
	}

	obs, delta := h.Run(context.Background(), step, domain.Context{})
	if !obs.OK {
		t.Fatalf("expected ok observation, got %#v", obs)
	}
	if obs.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", obs.StatusCode)
	}
	if delta["order_id"] != "order-1" {
		t.Fatalf("expected extracted order_id, got %#v", delta)
	}
}

func TestHTTPRunUnknownServiceReportsMissingService(t *testing.T) {
	h := NewHTTP(testSUT("http://example.invalid"), http.DefaultClient)
	step := domain.Step{Name: "bad", Type: domain.StepHTTP, Service: "does-not-exist"}

	obs, delta := h.Run(context.Background(), step, domain.Context{})
	if obs.OK {
		t.Fatal("expected not-ok observation")
	}
	if delta != nil {
		t.Fatalf("expected nil delta, got %#v", delta)
	}
	if len(obs.Errors) != 1 || obs.Errors[0].Kind != "missing_service" {
		t.Fatalf("expected missing_service error, got %#v", obs.Errors)
	}
}

func TestHTTPRunServerErrorMarksObservationFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := NewHTTP(testSUT(srv.URL), srv.Client())
	step := domain.Step{
		Name:    "flaky",
		Type:    domain.StepHTTP,
		Service: "orders",
		Method:  "GET",
		Path:    "/flaky",
		Retry:   &domain.Retry{Strategy: domain.RetryFixed, Attempts: 1, DelayMS: 1},
	}

	obs, _ := h.Run(context.Background(), step, domain.Context{})
	if obs.OK {
		t.Fatal("expected observation to be marked failed")
	}
	if len(obs.Attempts) == 0 {
		t.Fatal("expected at least one recorded attempt")
	}
}

func TestHTTPRunTemplatesPathFromContext(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewHTTP(testSUT(srv.URL), srv.Client())
	step := domain.Step{
		Name:    "get-order",
		Type:    domain.StepHTTP,
		Service: "orders",
		Method:  "GET",
		Path:    "/orders/{{ entry.order_id }}",
	}

	snapshot := domain.Context{"entry": map[string]any{"order_id": "order-42"}}
	obs, _ := h.Run(context.Background(), step, snapshot)
	if !obs.OK {
		t.Fatalf("expected ok observation, got %#v", obs)
	}
	if gotPath != "/orders/order-42" {
		t.Fatalf("expected templated path, got %q", gotPath)
	}
}
