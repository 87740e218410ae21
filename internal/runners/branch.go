package runners

import (
	"context"
	"time"

	"github.com/r3e-network/turbulence/internal/domain"
	domerrors "github.com/r3e-network/turbulence/internal/errors"
	"github.com/r3e-network/turbulence/internal/sandbox"
)

// Branch evaluates step.Condition against the current context and reports
// which arm the caller should execute. Branch itself never runs the
// nested if_true/if_false steps — that recursion belongs to the scenario
// runner, which owns max_steps accounting across nested flows.
type Branch struct{}

func NewBranch() *Branch { return &Branch{} }

func (b *Branch) Run(ctx context.Context, step domain.Step, snapshot domain.Context) (domain.Observation, domain.Delta) {
	obs := domain.Observation{StepName: step.Name, StepType: domain.StepBranch}
	stepStart := time.Now()

	taken, err := sandbox.EvalBool(step.Condition, map[string]any(snapshot))
	if err != nil {
		obs.Errors = []*domerrors.Detail{domerrors.Wrap(domerrors.KindSandboxForbiddenNode, err)}
		obs.LatencyMS = ms(time.Since(stepStart))
		return obs, nil
	}

	obs.OK = true
	if taken {
		obs.BranchTaken = "if_true"
	} else {
		obs.BranchTaken = "if_false"
	}
	obs.LatencyMS = ms(time.Since(stepStart))
	return obs, nil
}

// Steps returns the nested step list the scenario runner should recurse
// into, given this Branch's Observation.
func (b *Branch) Steps(step domain.Step, obs domain.Observation) []domain.Step {
	if obs.BranchTaken == "if_true" {
		return step.IfTrue
	}
	return step.IfFalse
}
