// Package scheduler dispatches scenario instances across a bounded pool of
// concurrent workers, one instance per scenario-target until instance_target
// is reached, and aggregates per-run results into a summary.
package scheduler

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/turbulence/internal/domain"
	"github.com/r3e-network/turbulence/internal/logging"
	"github.com/r3e-network/turbulence/internal/metrics"
	"github.com/r3e-network/turbulence/internal/runner"
	"github.com/r3e-network/turbulence/internal/store"
	"github.com/r3e-network/turbulence/internal/system"
)

// ObservationFunc is invoked for every step Observation produced by any
// instance, used to feed the live-update channel.
type ObservationFunc func(runID, instanceID string, seq int, obs domain.Observation)

// InstanceFunc is invoked whenever an instance reaches a terminal status.
type InstanceFunc func(runID string, inst domain.Instance)

// Config controls one Run's execution.
type Config struct {
	SUT            domain.SUTConfig
	Scenarios      []domain.Scenario
	Seed           int64
	Parallelism    int
	InstanceTarget int
	GracePeriod    time.Duration
}

// Scheduler runs all instances of a Run, bounded to Parallelism concurrent
// instances at a time via a semaphore channel, the same shape as the
// teacher's ticker-driven dispatcher generalized to a fixed work queue
// instead of a polling loop.
type Scheduler struct {
	runner  *runner.Runner
	store   store.Store
	metrics *metrics.Recorder
	log     *logging.Logger

	onObservation ObservationFunc
	onInstance    InstanceFunc

	shutdown *system.GracefulShutdown
}

// New builds a Scheduler.
func New(r *runner.Runner, st store.Store, m *metrics.Recorder, log *logging.Logger) *Scheduler {
	return &Scheduler{
		runner:   r,
		store:    st,
		metrics:  m,
		log:      log,
		shutdown: system.NewGracefulShutdown(),
	}
}

// OnObservation registers the callback invoked per step Observation.
func (s *Scheduler) OnObservation(fn ObservationFunc) { s.onObservation = fn }

// OnInstance registers the callback invoked per terminal instance.
func (s *Scheduler) OnInstance(fn InstanceFunc) { s.onInstance = fn }

// Run executes cfg.InstanceTarget instances, spread round-robin across
// cfg.Scenarios, bounded to cfg.Parallelism concurrently, and returns the
// computed Summary. Run blocks until every dispatched instance reaches a
// terminal status or ctx is cancelled; on cancellation, no new instance is
// dispatched and in-flight instances are given cfg.GracePeriod to finish
// before the run context they share is force-cancelled.
func (s *Scheduler) Run(ctx context.Context, runID string, cfg Config) (store.Summary, error) {
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}

	// runCtx does not inherit ctx's cancellation: in-flight instances keep
	// running until the grace period below expires and calls cancelRun.
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()

	run := domain.Run{
		RunID:          runID,
		Seed:           cfg.Seed,
		StartedAt:      time.Now().UTC(),
		Parallelism:    parallelism,
		InstanceTarget: cfg.InstanceTarget,
		SUTName:        cfg.SUT.Name,
	}
	for _, sc := range cfg.Scenarios {
		run.ScenarioIDs = append(run.ScenarioIDs, sc.ID)
	}
	if err := s.store.WriteManifest(ctx, run); err != nil {
		return store.Summary{}, err
	}

	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup

	runStart := time.Now()

	var mu sync.Mutex
	summary := store.Summary{RunID: runID, PerScenario: map[string]store.Counts{}}
	var latencies []float64
	actionLatencies := map[string][]float64{}
	serviceLatencies := map[string][]float64{}

	go func() {
		<-ctx.Done()
		s.shutdown.Shutdown()
		select {
		case <-time.After(grace):
			cancelRun()
		case <-waitZero(s.shutdown):
		}
	}()

	for i := 0; i < cfg.InstanceTarget; i++ {
		if !s.shutdown.Add() {
			break
		}
		scenario := cfg.Scenarios[i%len(cfg.Scenarios)]
		instanceID := uuid.NewString()
		seedPrefix := cfg.Seed + int64(i)

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			s.shutdown.Done()
			goto drain
		case <-runCtx.Done():
			s.shutdown.Done()
			goto drain
		}

		wg.Add(1)
		go func(instanceID string, scenario domain.Scenario, seedPrefix int64) {
			defer wg.Done()
			defer func() { <-sem }()
			defer s.shutdown.Done()

			s.metrics.ActiveRuns.Inc()
			defer s.metrics.ActiveRuns.Dec()

			inst := domain.Instance{
				InstanceID:    instanceID,
				CorrelationID: uuid.NewString(),
				ScenarioID:    scenario.ID,
				SeedPrefix:    seedPrefix,
				Status:        domain.StatusRunning,
				StartedAt:     time.Now().UTC(),
			}
			entry := materializeEntry(scenario, seedPrefix)
			inst.Entry = entry

			result := s.runner.Run(runCtx, seedPrefix, instanceID, scenario, entry, func(seq int, obs domain.Observation) {
				if err := s.store.AppendStep(runCtx, runID, instanceID, seq, obs); err != nil {
					s.log.WithError(err).Warn("append step failed")
				}
				s.metrics.ObserveStep(obs.Service, string(obs.StepType), obs.OK, obs.LatencyMS)
				mu.Lock()
				latencies = append(latencies, obs.LatencyMS)
				actionLatencies[obs.StepName] = append(actionLatencies[obs.StepName], obs.LatencyMS)
				if obs.Service != "" {
					serviceLatencies[obs.Service] = append(serviceLatencies[obs.Service], obs.LatencyMS)
				}
				mu.Unlock()
				if s.onObservation != nil {
					s.onObservation(runID, instanceID, seq, obs)
				}
			})

			inst.Status = result.FinalStatus
			inst.ErrorKind = result.ErrorKind
			inst.Error = result.Error
			inst.StepsExecuted = result.StepsExecuted
			inst.Transition(result.FinalStatus, time.Now().UTC())

			if err := s.store.AppendInstance(runCtx, runID, inst); err != nil {
				s.log.WithError(err).Warn("append instance failed")
			}
			for _, ar := range result.Assertions {
				if err := s.store.AppendAssertion(runCtx, runID, instanceID, ar); err != nil {
					s.log.WithError(err).Warn("append assertion failed")
				}
			}
			s.metrics.ObserveInstance(scenario.ID, string(inst.Status))

			mu.Lock()
			summary.TotalInstances++
			counts := summary.PerScenario[scenario.ID]
			switch inst.Status {
			case domain.StatusPassed:
				summary.Passed++
				counts.Passed++
			case domain.StatusFailed:
				summary.Failed++
				counts.Failed++
			default:
				summary.Errored++
				counts.Errored++
			}
			summary.PerScenario[scenario.ID] = counts
			mu.Unlock()

			if s.onInstance != nil {
				s.onInstance(runID, inst)
			}
		}(instanceID, scenario, seedPrefix)
	}

drain:
	wg.Wait()

	sort.Float64s(latencies)
	summary.LatencyP50MS = store.Percentile(latencies, 0.50)
	summary.LatencyP95MS = store.Percentile(latencies, 0.95)
	summary.LatencyP99MS = store.Percentile(latencies, 0.99)

	if summary.TotalInstances > 0 {
		summary.PassRate = float64(summary.Passed) / float64(summary.TotalInstances)
	}
	summary.DurationMS = float64(time.Since(runStart)) / float64(time.Millisecond)

	if len(actionLatencies) > 0 {
		summary.PerAction = make(map[string]store.LatencyPercentiles, len(actionLatencies))
		for name, samples := range actionLatencies {
			summary.PerAction[name] = store.PercentilesOf(samples)
		}
	}
	if len(serviceLatencies) > 0 {
		summary.PerService = make(map[string]store.LatencyPercentiles, len(serviceLatencies))
		for name, samples := range serviceLatencies {
			summary.PerService[name] = store.PercentilesOf(samples)
		}
	}

	if err := s.store.WriteSummary(ctx, runID, summary); err != nil {
		return summary, err
	}
	return summary, nil
}

func waitZero(g *system.GracefulShutdown) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = g.Wait(context.Background())
	}()
	return done
}

// materializeEntry seeds an instance's entry.* context with a verbatim copy
// of the scenario's literal seed_data plus an _instance_nonce drawn from a
// PRNG seeded by the instance's seed prefix, so instances of the same
// scenario can be told apart. Seed-data string leaves are not rendered as
// templates.
func materializeEntry(scenario domain.Scenario, seedPrefix int64) map[string]any {
	out := map[string]any{}
	if scenario.Entry == nil {
		return out
	}
	rng := rand.New(rand.NewPCG(uint64(seedPrefix), uint64(seedPrefix)^0xff51afd7ed558ccd))
	for k, v := range scenario.Entry.SeedData {
		out[k] = v
	}
	out["_instance_nonce"] = rng.Uint64()
	return out
}
