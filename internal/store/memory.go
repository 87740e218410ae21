package store

import (
	"context"
	"sync"

	"github.com/r3e-network/turbulence/internal/domain"
	domerrors "github.com/r3e-network/turbulence/internal/errors"
)

// Memory is a thread-safe in-memory Store, used by tests that never want
// artifacts on disk.
type Memory struct {
	mu        sync.RWMutex
	manifests map[string]domain.Run
	instances map[string][]domain.Instance
	steps     map[string]map[string][]StepRecord
	summaries map[string]Summary
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		manifests: make(map[string]domain.Run),
		instances: make(map[string][]domain.Instance),
		steps:     make(map[string]map[string][]StepRecord),
		summaries: make(map[string]Summary),
	}
}

func (m *Memory) WriteManifest(_ context.Context, run domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifests[run.RunID] = run
	return nil
}

func (m *Memory) AppendInstance(_ context.Context, runID string, inst domain.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.instances[runID]
	for i, existing := range list {
		if existing.InstanceID == inst.InstanceID {
			list[i] = inst
			return nil
		}
	}
	m.instances[runID] = append(list, inst)
	return nil
}

func (m *Memory) AppendStep(_ context.Context, runID, instanceID string, seq int, obs domain.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.steps[runID] == nil {
		m.steps[runID] = make(map[string][]StepRecord)
	}
	m.steps[runID][instanceID] = append(m.steps[runID][instanceID], StepRecord{Seq: seq, Observation: obs})
	return nil
}

func (m *Memory) AppendAssertion(_ context.Context, runID, instanceID string, result domain.AssertionResult) error {
	return nil
}

func (m *Memory) WriteSummary(_ context.Context, runID string, summary Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[runID] = summary
	return nil
}

func (m *Memory) ReadManifest(_ context.Context, runID string) (domain.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.manifests[runID]
	if !ok {
		return domain.Run{}, domerrors.New(domerrors.KindStoreCorrupt, "no manifest for run "+runID)
	}
	return run, nil
}

func (m *Memory) ReadInstances(_ context.Context, runID string) ([]domain.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Instance, len(m.instances[runID]))
	copy(out, m.instances[runID])
	return out, nil
}

func (m *Memory) ReadSteps(_ context.Context, runID, instanceID string) ([]StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.steps[runID][instanceID]
	out := make([]StepRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (m *Memory) ReadSummary(_ context.Context, runID string) (Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[runID]
	if !ok {
		return Summary{}, domerrors.New(domerrors.KindStoreCorrupt, "no summary for run "+runID)
	}
	return s, nil
}

func (m *Memory) Close() error { return nil }
