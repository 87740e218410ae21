// Package turbulence injects synthetic faults around a runners.Runner
// without the runner being aware of it. A Policy decorates any Runner; the
// decorated Runner satisfies the exact same interface, so turbulence can be
// composed transparently into the step-dispatch chain.
package turbulence

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/r3e-network/turbulence/internal/domain"
)

// Policy configures the fault shapes one step may be subjected to. Zero
// values mean "no injection of that kind".
type Policy struct {
	// LatencyProbability is the chance [0,1] that extra latency is added
	// before delegating to the wrapped Runner.
	LatencyProbability float64
	LatencyMinMS       float64
	LatencyMaxMS       float64

	// TimeoutProbability is the chance [0,1] that the step runs under a
	// forced deadline of ForcedTimeoutMS (1000 ms when unset).
	TimeoutProbability float64
	ForcedTimeoutMS    float64

	// RetryStormProbability is the chance [0,1] that the wrapped Runner is
	// invoked additional times beyond its own retry policy, simulating a
	// thundering-herd retry storm downstream.
	RetryStormProbability float64
	RetryStormMin         int
	RetryStormMax         int
}

// Decorate wraps next with fault injection keyed deterministically by
// (seed, instanceID, stepName, attempt). Given the same four inputs the same
// sequence of injection decisions is produced, making replay reproducible
// without recording the PRNG stream itself.
func (p Policy) Decorate(next Runner) Runner {
	return RunnerFunc(func(ctx context.Context, seed int64, instanceID string, attempt int, step domain.Step, snapshot domain.Context) (domain.Observation, domain.Delta) {
		rng := deterministicRNG(seed, instanceID, step.Name, attempt)

		turb := &domain.Turbulence{}

		if p.TimeoutProbability > 0 && rng.Float64() < p.TimeoutProbability {
			forced := p.ForcedTimeoutMS
			if forced <= 0 {
				forced = 1000
			}
			turb.ForcedTimeoutMS = forced
			turb.Injected = true
			tctx, cancel := context.WithTimeout(ctx, time.Duration(forced)*time.Millisecond)
			defer cancel()
			ctx = tctx
		}

		if p.LatencyProbability > 0 && rng.Float64() < p.LatencyProbability {
			lo, hi := p.LatencyMinMS, p.LatencyMaxMS
			if hi <= lo {
				hi = lo + 1
			}
			delay := lo + rng.Float64()*(hi-lo)
			turb.LatencyMS = delay
			turb.Injected = true
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(delay) * time.Millisecond):
			}
		}

		runs := 1
		if p.RetryStormProbability > 0 && rng.Float64() < p.RetryStormProbability {
			lo, hi := p.RetryStormMin, p.RetryStormMax
			if hi < lo {
				hi = lo
			}
			if hi <= 0 {
				hi = 2
			}
			if lo <= 0 {
				lo = 1
			}
			storm := lo + rng.IntN(hi-lo+1)
			runs = 1 + storm
			turb.RetryStormCount = storm
			turb.Injected = true
		}

		var obs domain.Observation
		var delta domain.Delta
		for i := 0; i < runs; i++ {
			obs, delta = next.Run(ctx, seed, instanceID, attempt, step, snapshot)
		}
		if turb.Injected {
			obs.Turbulence = turb
		}
		return obs, delta
	})
}

// Runner is the turbulence-aware runner contract: it accepts the
// replay-determinism inputs (seed, instance, attempt) in addition to the
// step and context snapshot a plain runners.Runner sees.
type Runner interface {
	Run(ctx context.Context, seed int64, instanceID string, attempt int, step domain.Step, snapshot domain.Context) (domain.Observation, domain.Delta)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, seed int64, instanceID string, attempt int, step domain.Step, snapshot domain.Context) (domain.Observation, domain.Delta)

func (f RunnerFunc) Run(ctx context.Context, seed int64, instanceID string, attempt int, step domain.Step, snapshot domain.Context) (domain.Observation, domain.Delta) {
	return f(ctx, seed, instanceID, attempt, step, snapshot)
}

// FromStepRunner adapts a plain step runner (runners.Runner's Run method
// shape) into the base Runner this package decorates.
func FromStepRunner(run func(ctx context.Context, step domain.Step, snapshot domain.Context) (domain.Observation, domain.Delta)) Runner {
	return RunnerFunc(func(ctx context.Context, _ int64, _ string, _ int, step domain.Step, snapshot domain.Context) (domain.Observation, domain.Delta) {
		return run(ctx, step, snapshot)
	})
}

// deterministicRNG derives a PRNG seeded by the run seed plus a stable hash
// of (instanceID, stepName, attempt), so the same quadruple always yields
// the same fault decisions across a replay.
func deterministicRNG(seed int64, instanceID, stepName string, attempt int) *rand.Rand {
	h := fnv1a(seed, instanceID, stepName, attempt)
	return rand.New(rand.NewPCG(h, h^0x9e3779b97f4a7c15))
}

func fnv1a(seed int64, instanceID, stepName string, attempt int) uint64 {
	const offset = 14695981039346656037
	const prime = 1099511628211
	hash := uint64(offset)
	mix := func(b byte) {
		hash ^= uint64(b)
		hash *= prime
	}
	for i := 0; i < 8; i++ {
		mix(byte(seed >> (8 * i)))
	}
	for i := 0; i < len(instanceID); i++ {
		mix(instanceID[i])
	}
	for i := 0; i < len(stepName); i++ {
		mix(stepName[i])
	}
	for i := 0; i < 4; i++ {
		mix(byte(attempt >> (8 * i)))
	}
	return hash
}
