package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/r3e-network/turbulence/internal/domain"
	domerrors "github.com/r3e-network/turbulence/internal/errors"
)

// FileStore persists one run's artifacts under <root>/<run_id>/ as
// append-only JSONL files plus a manifest.json and summary.json. Each of
// instances.jsonl/steps.jsonl/assertions.jsonl has exactly one writer (this
// FileStore instance, serialized by its own mutex); there is no
// multi-process write sharing.
type FileStore struct {
	root string

	mu          sync.Mutex
	instanceW   *bufio.Writer
	instanceF   *os.File
	stepW       *bufio.Writer
	stepF       *os.File
	assertionW  *bufio.Writer
	assertionF  *os.File

	// Each stream's line carries its own 0-based, dense, strictly
	// increasing seq, independent of the other streams and of any
	// per-instance counter the caller tracks.
	instanceSeq  int
	stepSeq      int
	assertionSeq int
}

// NewFileStore creates (or reuses) the directory <root>/<runID> and opens
// its JSONL files for append.
func NewFileStore(root, runID string) (*FileStore, error) {
	dir := filepath.Join(root, runID)
	if err := os.MkdirAll(filepath.Join(dir, "artifacts"), 0o755); err != nil {
		return nil, domerrors.Wrap(domerrors.KindStoreWrite, err)
	}

	fs := &FileStore{root: dir}

	var err error
	fs.instanceF, fs.instanceW, err = openAppend(filepath.Join(dir, "instances.jsonl"))
	if err != nil {
		return nil, err
	}
	fs.stepF, fs.stepW, err = openAppend(filepath.Join(dir, "steps.jsonl"))
	if err != nil {
		return nil, err
	}
	fs.assertionF, fs.assertionW, err = openAppend(filepath.Join(dir, "assertions.jsonl"))
	if err != nil {
		return nil, err
	}
	return fs, nil
}

func openAppend(path string) (*os.File, *bufio.Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, domerrors.Wrap(domerrors.KindStoreWrite, err)
	}
	return f, bufio.NewWriter(f), nil
}

func (fs *FileStore) WriteManifest(_ context.Context, run domain.Run) error {
	return writeJSONFile(filepath.Join(fs.root, "manifest.json"), run)
}

type instanceLine struct {
	RunID     string          `json:"run_id"`
	Seq       int             `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Instance  domain.Instance `json:"instance"`
}

func (fs *FileStore) AppendInstance(_ context.Context, runID string, inst domain.Instance) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	seq := fs.instanceSeq
	fs.instanceSeq++
	return appendLine(fs.instanceW, fs.instanceF, instanceLine{RunID: runID, Seq: seq, Timestamp: time.Now().UTC(), Instance: inst})
}

type stepLine struct {
	RunID       string             `json:"run_id"`
	InstanceID  string             `json:"instance_id"`
	Seq         int                `json:"seq"`
	StepIndex   int                `json:"step_index"`
	Timestamp   time.Time          `json:"timestamp"`
	Observation domain.Observation `json:"observation"`
}

// AppendStep writes one step event. stepIndex is the caller's per-instance
// step counter (used to order a single instance's replay); Seq is this
// stream's own 0-based, dense, strictly increasing sequence across every
// instance, assigned here so concurrent instances never collide.
func (fs *FileStore) AppendStep(_ context.Context, runID, instanceID string, stepIndex int, obs domain.Observation) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	seq := fs.stepSeq
	fs.stepSeq++
	return appendLine(fs.stepW, fs.stepF, stepLine{
		RunID:       runID,
		InstanceID:  instanceID,
		Seq:         seq,
		StepIndex:   stepIndex,
		Timestamp:   time.Now().UTC(),
		Observation: obs,
	})
}

type assertionLine struct {
	RunID      string                 `json:"run_id"`
	InstanceID string                 `json:"instance_id"`
	Seq        int                    `json:"seq"`
	Timestamp  time.Time              `json:"timestamp"`
	Result     domain.AssertionResult `json:"result"`
}

func (fs *FileStore) AppendAssertion(_ context.Context, runID, instanceID string, result domain.AssertionResult) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	seq := fs.assertionSeq
	fs.assertionSeq++
	return appendLine(fs.assertionW, fs.assertionF, assertionLine{RunID: runID, InstanceID: instanceID, Seq: seq, Timestamp: time.Now().UTC(), Result: result})
}

func (fs *FileStore) WriteSummary(_ context.Context, runID string, summary Summary) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.instanceW.Flush(); err != nil {
		return domerrors.Wrap(domerrors.KindStoreWrite, err)
	}
	if err := fs.stepW.Flush(); err != nil {
		return domerrors.Wrap(domerrors.KindStoreWrite, err)
	}
	if err := fs.assertionW.Flush(); err != nil {
		return domerrors.Wrap(domerrors.KindStoreWrite, err)
	}
	return writeJSONFile(filepath.Join(fs.root, "summary.json"), summary)
}

func (fs *FileStore) ReadManifest(_ context.Context, runID string) (domain.Run, error) {
	var run domain.Run
	err := readJSONFile(filepath.Join(fs.root, "manifest.json"), &run)
	return run, err
}

func (fs *FileStore) ReadInstances(_ context.Context, runID string) ([]domain.Instance, error) {
	var out []domain.Instance
	err := readJSONLFile(filepath.Join(fs.root, "instances.jsonl"), func(line []byte) error {
		var il instanceLine
		if err := json.Unmarshal(line, &il); err != nil {
			return err
		}
		out = append(out, il.Instance)
		return nil
	})
	return out, err
}

func (fs *FileStore) ReadSteps(_ context.Context, runID, instanceID string) ([]StepRecord, error) {
	var out []StepRecord
	err := readJSONLFile(filepath.Join(fs.root, "steps.jsonl"), func(line []byte) error {
		var sl stepLine
		if err := json.Unmarshal(line, &sl); err != nil {
			return err
		}
		if sl.InstanceID == instanceID {
			out = append(out, StepRecord{Seq: sl.StepIndex, Observation: sl.Observation})
		}
		return nil
	})
	return out, err
}

func (fs *FileStore) ReadSummary(_ context.Context, runID string) (Summary, error) {
	var s Summary
	err := readJSONFile(filepath.Join(fs.root, "summary.json"), &s)
	return s, err
}

func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var firstErr error
	for _, w := range []*bufio.Writer{fs.instanceW, fs.stepW, fs.assertionW} {
		if err := w.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, f := range []*os.File{fs.instanceF, fs.stepF, fs.assertionF} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return domerrors.Wrap(domerrors.KindStoreWrite, firstErr)
	}
	return nil
}

func appendLine(w *bufio.Writer, f *os.File, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return domerrors.Wrap(domerrors.KindStoreWrite, err)
	}
	buf = append(buf, '\n')
	if _, err := w.Write(buf); err != nil {
		return domerrors.Wrap(domerrors.KindStoreWrite, err)
	}
	// Flush eagerly: each artifact line must survive a crash between steps,
	// and the engine does not batch writes across instances.
	if err := w.Flush(); err != nil {
		return domerrors.Wrap(domerrors.KindStoreWrite, err)
	}
	return nil
}

func writeJSONFile(path string, v any) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return domerrors.Wrap(domerrors.KindStoreWrite, err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return domerrors.Wrap(domerrors.KindStoreWrite, err)
	}
	return nil
}

func readJSONFile(path string, v any) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return domerrors.Wrap(domerrors.KindStoreCorrupt, err)
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return domerrors.Wrap(domerrors.KindStoreCorrupt, err)
	}
	return nil
}

func readJSONLFile(path string, each func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return domerrors.Wrap(domerrors.KindStoreCorrupt, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := each(line); err != nil {
			return domerrors.Wrap(domerrors.KindStoreCorrupt, fmt.Errorf("line %d: %w", lineNo, err))
		}
	}
	if err := scanner.Err(); err != nil {
		return domerrors.Wrap(domerrors.KindStoreCorrupt, err)
	}
	return nil
}
