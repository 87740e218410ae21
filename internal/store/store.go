// Package store persists a run's artifacts: the manifest, every instance
// and step record, assertion results, and the final summary. FileStore is
// the production backend (append-only JSONL, one writer per file);
// Memory backs tests, the same interface/memory-default split the rest of
// the engine's storage layer uses.
package store

import (
	"context"
	"sort"

	"github.com/r3e-network/turbulence/internal/domain"
)

// Store is the artifact persistence contract a Run's scheduler writes to
// and a report/replay command reads from.
type Store interface {
	WriteManifest(ctx context.Context, run domain.Run) error
	AppendInstance(ctx context.Context, runID string, inst domain.Instance) error
	AppendStep(ctx context.Context, runID, instanceID string, seq int, obs domain.Observation) error
	AppendAssertion(ctx context.Context, runID, instanceID string, result domain.AssertionResult) error
	WriteSummary(ctx context.Context, runID string, summary Summary) error

	ReadManifest(ctx context.Context, runID string) (domain.Run, error)
	ReadInstances(ctx context.Context, runID string) ([]domain.Instance, error)
	ReadSteps(ctx context.Context, runID, instanceID string) ([]StepRecord, error)
	ReadSummary(ctx context.Context, runID string) (Summary, error)

	Close() error
}

// StepRecord pairs a step's sequence number with its Observation, the unit
// a replay viewer walks in order.
type StepRecord struct {
	Seq         int                `json:"seq"`
	Observation domain.Observation `json:"observation"`
}

// Summary is the run-level rollup written once, after every instance has
// reached a terminal status.
type Summary struct {
	RunID          string  `json:"run_id"`
	TotalInstances int     `json:"total_instances"`
	Passed         int     `json:"passed"`
	Failed         int     `json:"failed"`
	Errored        int     `json:"errored"`
	PassRate       float64 `json:"pass_rate"`
	DurationMS     float64 `json:"duration_ms"`

	LatencyP50MS float64 `json:"latency_p50_ms"`
	LatencyP95MS float64 `json:"latency_p95_ms"`
	LatencyP99MS float64 `json:"latency_p99_ms"`

	PerScenario map[string]Counts              `json:"per_scenario,omitempty"`
	PerAction   map[string]LatencyPercentiles  `json:"per_action,omitempty"`
	PerService  map[string]LatencyPercentiles  `json:"per_service,omitempty"`
}

// Counts is a per-scenario pass/fail/error rollup.
type Counts struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
}

// LatencyPercentiles is a p50/p95/p99 latency rollup for one grouping key
// (an action/step name, or a service name).
type LatencyPercentiles struct {
	P50MS float64 `json:"p50_ms"`
	P95MS float64 `json:"p95_ms"`
	P99MS float64 `json:"p99_ms"`
}

// PercentilesOf computes p50/p95/p99 over an unsorted latency sample,
// sorting a copy so the caller's slice is left untouched.
func PercentilesOf(samples []float64) LatencyPercentiles {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	return LatencyPercentiles{
		P50MS: Percentile(sorted, 0.50),
		P95MS: Percentile(sorted, 0.95),
		P99MS: Percentile(sorted, 0.99),
	}
}

// Percentile returns the v at rank p (0..1) over a sorted-ascending slice,
// using nearest-rank interpolation. Returns 0 for an empty slice.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
