// Package runner executes one scenario instance end to end: it walks the
// flow step by step, applies each step's Delta to a fresh Context snapshot,
// recurses into branch arms up to the scenario's max_steps bound, enforces
// stop_when policy, and finally evaluates the scenario's assertions against
// the last context.
package runner

import (
	"context"

	"github.com/r3e-network/turbulence/internal/domain"
	domerrors "github.com/r3e-network/turbulence/internal/errors"
	"github.com/r3e-network/turbulence/internal/runners"
	"github.com/r3e-network/turbulence/internal/turbulence"
)

// StepObserver receives every Observation as it's produced, in execution
// order, so the caller can persist/stream it without the runner itself
// knowing about storage or the live channel.
type StepObserver func(seq int, obs domain.Observation)

// Result is what one scenario instance produced.
type Result struct {
	FinalStatus domain.Status
	ErrorKind   string
	Error       string
	StepsExecuted int
	Assertions  []domain.AssertionResult
}

// Runner executes one instance of one scenario.
type Runner struct {
	Steps      runners.Registry
	Turbulence turbulence.Policy
}

// New builds a Runner with the given step registry and turbulence policy.
func New(steps runners.Registry, policy turbulence.Policy) *Runner {
	return &Runner{Steps: steps, Turbulence: policy}
}

// Run executes scenario's flow then assertions against a fresh context
// seeded from scenario.Entry and any caller-supplied overrides (e.g.
// replay-time injected entry values). seed/instanceID key turbulence's
// deterministic PRNG.
func (r *Runner) Run(ctx context.Context, seed int64, instanceID string, scenario domain.Scenario, entry map[string]any, observe StepObserver) Result {
	snapshot := domain.Context{"entry": map[string]any(mergeEntry(scenario, entry))}

	seq := 0
	maxSteps := scenario.EffectiveMaxSteps()

	decorated := r.Turbulence.Decorate(turbulence.FromStepRunner(r.Steps.Run))

	exec := func(step domain.Step) (domain.Observation, domain.Delta, bool) {
		if seq >= maxSteps {
			return domain.Observation{}, nil, false
		}
		seq++
		obs, delta := decorated.Run(ctx, seed, instanceID, seq, step, snapshot)
		if observe != nil {
			observe(seq, obs)
		}
		snapshot = snapshot.Apply(delta)
		return obs, delta, true
	}

	var walk func(steps []domain.Step) (stop bool, failed bool, errKind, errMsg string)
	walk = func(steps []domain.Step) (bool, bool, string, string) {
		for _, step := range steps {
			select {
			case <-ctx.Done():
				return true, true, string(domerrors.KindCancelled), ctx.Err().Error()
			default:
			}

			obs, _, ok := exec(step)
			if !ok {
				return true, true, string(domerrors.KindMaxStepsExceeded), "max_steps exceeded"
			}

			if step.Type == domain.StepBranch {
				branch := &runners.Branch{}
				nested := branch.Steps(step, obs)
				if stop, failed, k, m := walk(nested); stop {
					return stop, failed, k, m
				}
				continue
			}

			if !obs.OK {
				if scenario.StopWhen.AnyActionFails {
					kind := "action_failed"
					if len(obs.Errors) > 0 {
						kind = string(obs.Errors[0].Kind)
					}
					return true, true, kind, obs.StepName + " failed"
				}
			}
		}
		return false, false, "", ""
	}

	stopped, failed, errKind, errMsg := walk(scenario.Flow)

	result := Result{StepsExecuted: seq}

	if stopped && failed {
		result.FinalStatus = domain.StatusErrored
		result.ErrorKind = errKind
		result.Error = errMsg
		return result
	}

	var assertionFailed bool
	for _, step := range scenario.Assertions {
		if seq >= maxSteps {
			break
		}
		assertRunner := runners.NewAssert()
		obs, _, ok := execAssertion(ctx, assertRunner, step, snapshot, &seq, observe)
		if !ok {
			break
		}
		var ar domain.AssertionResult
		if body, ok := obs.Body.(domain.AssertionResult); ok {
			ar = body
		} else {
			ar = domain.AssertionResult{Name: step.Name, Passed: obs.OK}
		}
		result.Assertions = append(result.Assertions, ar)
		if !ar.Passed {
			assertionFailed = true
			if scenario.StopWhen.AnyAssertionFails {
				break
			}
		}
	}

	result.StepsExecuted = seq
	if assertionFailed {
		result.FinalStatus = domain.StatusFailed
	} else {
		result.FinalStatus = domain.StatusPassed
	}
	return result
}

func execAssertion(ctx context.Context, a *runners.Assert, step domain.Step, snapshot domain.Context, seq *int, observe StepObserver) (domain.Observation, domain.Delta, bool) {
	*seq++
	obs, delta := a.Run(ctx, step, snapshot)
	if observe != nil {
		observe(*seq, obs)
	}
	return obs, delta, true
}

func mergeEntry(scenario domain.Scenario, overrides map[string]any) map[string]any {
	out := map[string]any{}
	if scenario.Entry != nil {
		for k, v := range scenario.Entry.SeedData {
			out[k] = v
		}
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
