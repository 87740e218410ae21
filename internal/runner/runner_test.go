package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/r3e-network/turbulence/internal/domain"
	"github.com/r3e-network/turbulence/internal/runners"
	"github.com/r3e-network/turbulence/internal/turbulence"
)

func newTestServer(t *testing.T) (*httptest.Server, domain.SUTConfig) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"order_id": "ord-1", "tier": "gold"})
	}))
	sut := domain.SUTConfig{
		Name:     "checkout",
		Services: map[string]domain.Service{"orders": {BaseURL: srv.URL}},
	}
	return srv, sut
}

func newTestRunner(sut domain.SUTConfig) *Runner {
	reg := runners.Registry{
		domain.StepHTTP:   runners.NewHTTP(sut, http.DefaultClient),
		domain.StepWait:   runners.NewWait(sut, http.DefaultClient),
		domain.StepAssert: runners.NewAssert(),
		domain.StepBranch: runners.NewBranch(),
	}
	return New(reg, turbulence.Policy{})
}

func TestRunPassesWhenAllAssertionsPass(t *testing.T) {
	srv, sut := newTestServer(t)
	defer srv.Close()

	scenario := domain.Scenario{
		ID: "checkout-flow",
		Flow: []domain.Step{
			{
				Name:    "create-order",
				Type:    domain.StepHTTP,
				Service: "orders",
				Method:  "GET",
				Path:    "/orders",
				Extract: map[string]string{"order_id": "order_id"},
			},
		},
		Assertions: []domain.Step{
			{
				Name: "order-id-present",
				Type: domain.StepAssert,
				Expect: &domain.Expect{
					JSONPath: "$.order_id",
					Equals:   "ord-1",
				},
			},
		},
	}

	r := newTestRunner(sut)
	var observed []int
	result := r.Run(context.Background(), 1, "instance-1", scenario, nil, func(seq int, obs domain.Observation) {
		observed = append(observed, seq)
	})

	if result.FinalStatus != domain.StatusPassed {
		t.Fatalf("expected passed, got %s (err=%s)", result.FinalStatus, result.Error)
	}
	if len(result.Assertions) != 1 || !result.Assertions[0].Passed {
		t.Fatalf("expected one passing assertion, got %#v", result.Assertions)
	}
	if len(observed) != 2 {
		t.Fatalf("expected 2 observed steps (flow + assertion), got %d", len(observed))
	}
}

func TestRunFailsWhenAssertionFails(t *testing.T) {
	srv, sut := newTestServer(t)
	defer srv.Close()

	scenario := domain.Scenario{
		ID: "checkout-flow",
		Flow: []domain.Step{
			{Name: "create-order", Type: domain.StepHTTP, Service: "orders", Method: "GET", Path: "/orders"},
		},
		Assertions: []domain.Step{
			{
				Name: "wrong-expectation",
				Type: domain.StepAssert,
				Expect: &domain.Expect{
					JSONPath: "$.order_id",
					Equals:   "nope",
				},
			},
		},
	}

	r := newTestRunner(sut)
	result := r.Run(context.Background(), 1, "instance-1", scenario, nil, nil)

	if result.FinalStatus != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", result.FinalStatus)
	}
}

func TestRunStopsOnActionFailureWhenStopWhenConfigured(t *testing.T) {
	sut := domain.SUTConfig{
		Name:     "checkout",
		Services: map[string]domain.Service{"orders": {BaseURL: "http://127.0.0.1:1"}},
	}
	scenario := domain.Scenario{
		ID: "checkout-flow",
		Flow: []domain.Step{
			{Name: "create-order", Type: domain.StepHTTP, Service: "orders", Method: "GET", Path: "/orders"},
			{Name: "never-reached", Type: domain.StepHTTP, Service: "orders", Method: "GET", Path: "/orders"},
		},
		StopWhen: domain.StopWhen{AnyActionFails: true},
	}

	r := newTestRunner(sut)
	var observed int
	result := r.Run(context.Background(), 1, "instance-1", scenario, nil, func(seq int, obs domain.Observation) {
		observed++
	})

	if result.FinalStatus != domain.StatusErrored {
		t.Fatalf("expected errored, got %s", result.FinalStatus)
	}
	if observed != 1 {
		t.Fatalf("expected execution to stop after first failing step, got %d observations", observed)
	}
}

func TestRunMergesEntrySeedDataWithOverrides(t *testing.T) {
	srv, sut := newTestServer(t)
	defer srv.Close()

	scenario := domain.Scenario{
		ID:    "checkout-flow",
		Entry: &domain.Entry{SeedData: map[string]any{"tier": "silver", "region": "eu"}},
		Flow: []domain.Step{
			{
				Name:      "is-gold",
				Type:      domain.StepBranch,
				Condition: `entry.tier == "gold"`,
				IfTrue:    []domain.Step{{Name: "create-order", Type: domain.StepHTTP, Service: "orders", Method: "GET", Path: "/orders"}},
			},
		},
	}

	r := newTestRunner(sut)
	var branchObserved bool
	result := r.Run(context.Background(), 1, "instance-1", scenario, map[string]any{"tier": "gold"}, func(seq int, obs domain.Observation) {
		if obs.StepName == "is-gold" && obs.BranchTaken == "if_true" {
			branchObserved = true
		}
	})

	if !branchObserved {
		t.Fatal("expected override tier=gold to select the if_true branch")
	}
	if result.FinalStatus != domain.StatusPassed {
		t.Fatalf("expected passed, got %s (err=%s)", result.FinalStatus, result.Error)
	}
}

func TestRunRespectsMaxStepsBound(t *testing.T) {
	sut := domain.SUTConfig{
		Name:     "checkout",
		Services: map[string]domain.Service{"orders": {BaseURL: "http://127.0.0.1:1"}},
	}
	scenario := domain.Scenario{
		ID:       "checkout-flow",
		MaxSteps: 1,
		Flow: []domain.Step{
			{Name: "step-one", Type: domain.StepAssert, Expect: &domain.Expect{Expression: "true"}},
			{Name: "step-two", Type: domain.StepAssert, Expect: &domain.Expect{Expression: "true"}},
		},
	}

	r := newTestRunner(sut)
	result := r.Run(context.Background(), 1, "instance-1", scenario, nil, nil)

	if result.FinalStatus != domain.StatusErrored {
		t.Fatalf("expected errored on max_steps bound, got %s", result.FinalStatus)
	}
	if result.ErrorKind != "max_steps_exceeded" {
		t.Fatalf("expected max_steps_exceeded, got %s", result.ErrorKind)
	}
}
