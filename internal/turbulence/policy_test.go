package turbulence

import (
	"context"
	"testing"

	"github.com/r3e-network/turbulence/internal/domain"
)

func countingRunner(calls *int) Runner {
	return FromStepRunner(func(ctx context.Context, step domain.Step, snapshot domain.Context) (domain.Observation, domain.Delta) {
		*calls++
		return domain.Observation{StepName: step.Name, OK: true}, nil
	})
}

func TestPolicyZeroValueNeverInjects(t *testing.T) {
	var calls int
	decorated := Policy{}.Decorate(countingRunner(&calls))

	obs, _ := decorated.Run(context.Background(), 1, "instance-1", 1, domain.Step{Name: "step"}, domain.Context{})
	if !obs.OK {
		t.Fatalf("expected passthrough success, got %#v", obs)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one delegate call, got %d", calls)
	}
	if obs.Turbulence != nil {
		t.Fatalf("expected no turbulence annotation, got %#v", obs.Turbulence)
	}
}

func TestDeterministicRNGRepeatsForSameInputs(t *testing.T) {
	a := deterministicRNG(42, "instance-1", "step-a", 1)
	b := deterministicRNG(42, "instance-1", "step-a", 1)

	for i := 0; i < 5; i++ {
		if a.Float64() != b.Float64() {
			t.Fatal("expected identical PRNG streams for identical inputs")
		}
	}
}

func TestDeterministicRNGDiffersAcrossStepNames(t *testing.T) {
	a := deterministicRNG(42, "instance-1", "step-a", 1)
	b := deterministicRNG(42, "instance-1", "step-b", 1)
	if a.Float64() == b.Float64() {
		t.Fatal("expected different PRNG streams for different step names (or an astronomically unlucky collision)")
	}
}

func TestPolicyRetryStormInvokesDelegateMultipleTimes(t *testing.T) {
	var calls int
	policy := Policy{RetryStormProbability: 1, RetryStormMin: 3, RetryStormMax: 3}
	decorated := policy.Decorate(countingRunner(&calls))

	obs, _ := decorated.Run(context.Background(), 1, "instance-1", 1, domain.Step{Name: "step"}, domain.Context{})
	if calls != 4 {
		t.Fatalf("expected 4 delegate invocations (the original plus 3 storm repeats), got %d", calls)
	}
	if obs.Turbulence == nil || !obs.Turbulence.Injected || obs.Turbulence.RetryStormCount != 3 {
		t.Fatalf("expected turbulence annotation recording the storm count, got %#v", obs.Turbulence)
	}
}

// deadlineAwareRunner blocks until its context is cancelled (as a slow
// downstream call would), then reports failure, so a forced timeout can be
// observed cutting a real attempt short rather than skipping it.
func deadlineAwareRunner(calls *int) Runner {
	return FromStepRunner(func(ctx context.Context, step domain.Step, snapshot domain.Context) (domain.Observation, domain.Delta) {
		*calls++
		<-ctx.Done()
		return domain.Observation{StepName: step.Name, OK: false, Attempts: []domain.Attempt{{Index: 1, OK: false, Error: ctx.Err().Error()}}}, nil
	})
}

func TestPolicyForcedTimeoutStillInvokesDelegateWithBoundDeadline(t *testing.T) {
	var calls int
	policy := Policy{TimeoutProbability: 1, ForcedTimeoutMS: 5}
	decorated := policy.Decorate(deadlineAwareRunner(&calls))

	obs, _ := decorated.Run(context.Background(), 1, "instance-1", 1, domain.Step{Name: "step"}, domain.Context{})
	if calls != 1 {
		t.Fatalf("expected the wrapped runner to still be invoked under a forced timeout, got %d calls", calls)
	}
	if obs.OK {
		t.Fatal("expected a forced timeout to report not-ok")
	}
	if len(obs.Attempts) == 0 {
		t.Fatal("expected the real attempt made before the deadline cut it short to be recorded")
	}
	if obs.Turbulence == nil || !obs.Turbulence.Injected || obs.Turbulence.ForcedTimeoutMS != 5 {
		t.Fatalf("expected turbulence annotation recording the forced timeout, got %#v", obs.Turbulence)
	}
}

func TestPolicyForcedTimeoutPassesUnderDeadline(t *testing.T) {
	var calls int
	policy := Policy{TimeoutProbability: 1, ForcedTimeoutMS: 1000}
	decorated := policy.Decorate(countingRunner(&calls))

	obs, _ := decorated.Run(context.Background(), 1, "instance-1", 1, domain.Step{Name: "step"}, domain.Context{})
	if calls != 1 {
		t.Fatalf("expected exactly one delegate call, got %d", calls)
	}
	if !obs.OK {
		t.Fatal("expected a fast delegate to still succeed within a generous forced timeout")
	}
	if obs.Turbulence == nil || !obs.Turbulence.Injected {
		t.Fatalf("expected turbulence annotation, got %#v", obs.Turbulence)
	}
}
