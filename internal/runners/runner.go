// Package runners implements the four step actions a scenario's flow can
// name: http, wait, assert, branch. Each is a Runner; internal/turbulence
// wraps any Runner with fault injection without either side knowing about
// the other.
package runners

import (
	"context"

	"github.com/r3e-network/turbulence/internal/domain"
)

// Runner executes one Step against a read-only Context snapshot and
// returns the Observation plus the Delta to merge into the instance's
// Context before the next step runs.
type Runner interface {
	Run(ctx context.Context, step domain.Step, snapshot domain.Context) (domain.Observation, domain.Delta)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, step domain.Step, snapshot domain.Context) (domain.Observation, domain.Delta)

func (f RunnerFunc) Run(ctx context.Context, step domain.Step, snapshot domain.Context) (domain.Observation, domain.Delta) {
	return f(ctx, step, snapshot)
}

// Registry dispatches a Step to the Runner registered for its Type.
type Registry map[domain.StepType]Runner

// Run dispatches step to the registered runner for its Type. An
// unregistered type is a configuration error the validator should have
// already caught; Run reports it rather than panicking so a malformed
// scenario loaded outside the validator still fails safely per-instance.
func (reg Registry) Run(ctx context.Context, step domain.Step, snapshot domain.Context) (domain.Observation, domain.Delta) {
	r, ok := reg[step.Type]
	if !ok {
		return domain.Observation{
			StepName: step.Name,
			StepType: step.Type,
			OK:       false,
		}, nil
	}
	return r.Run(ctx, step, snapshot)
}
