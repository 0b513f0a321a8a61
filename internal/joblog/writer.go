// Package joblog persists the per-job on-disk trail: an append-only event
// log, a terminal snapshot manifest, and the graph actually submitted to
// the renderer. A job's directory is created at admission and never
// cleaned up by this package — retention is an operator concern.
package joblog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
)

const schemaVersion = 1

// Writer implements jobengine.EventSink, writing under
// <logsDir>/<jobId>/{events.jsonl, manifest-<ts>.json, applied-workflow.json}.
type Writer struct {
	logsDir  string
	clientID string
	log      *zap.Logger

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	handles map[string]*os.File
}

// New creates a Writer rooted at logsDir (config.PathConfig.Logs).
// clientID is the renderer client id stamped into applied-workflow.json.
func New(logsDir, clientID string, log *zap.Logger) *Writer {
	return &Writer{
		logsDir:  logsDir,
		clientID: clientID,
		log:      log.Named("joblog"),
		entropy:  ulid.Monotonic(newSource(), 0),
		handles:  make(map[string]*os.File),
	}
}

func newSource() *lockedSource {
	return &lockedSource{}
}

// lockedSource is a trivial deterministic entropy source (a fixed-seed
// linear congruential generator); ulid itself
// only needs monotonic increase within the same millisecond, which
// ulid.Monotonic already guarantees independent of the underlying reader's
// randomness quality.
type lockedSource struct {
	mu sync.Mutex
	n  uint64
}

func (s *lockedSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range p {
		s.n = s.n*6364136223846793005 + 1442695040888963407
		p[i] = byte(s.n >> 56)
	}
	return len(p), nil
}

func (w *Writer) jobDir(jobID string) string {
	return filepath.Join(w.logsDir, jobID)
}

func (w *Writer) eventFile(jobID string) (*os.File, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if f, ok := w.handles[jobID]; ok {
		return f, nil
	}
	dir := w.jobDir(jobID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("joblog: failed to create job directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("joblog: failed to open events.jsonl: %w", err)
	}
	w.handles[jobID] = f
	return f, nil
}

type eventRecord struct {
	ID        string                 `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Event     string                 `json:"event"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// RecordEvent appends one JSON line to the job's events.jsonl. Failures are
// logged, never propagated — the event log is diagnostic, not load-bearing.
func (w *Writer) RecordEvent(jobID, eventType string, detail map[string]interface{}) {
	f, err := w.eventFile(jobID)
	if err != nil {
		w.log.Warn("failed to open event log", zap.String("jobId", jobID), zap.Error(err))
		return
	}

	w.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), w.entropy).String()
	w.mu.Unlock()

	record := eventRecord{
		ID:        id,
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Event:     eventType,
		Details:   detail,
	}
	data, err := json.Marshal(record)
	if err != nil {
		w.log.Warn("failed to marshal event record", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		w.log.Warn("failed to append event record", zap.String("jobId", jobID), zap.Error(err))
	}
}

type manifest struct {
	SchemaVersion int                    `json:"schemaVersion"`
	JobID         string                 `json:"jobId"`
	FinalState    model.GeneratorState   `json:"finalState"`
	WrittenAt     string                 `json:"writtenAt"`
	Envelope      *model.DispatchEnvelope `json:"envelope"`
}

// WriteManifest writes the terminal snapshot manifest-<ts>.json for jobID.
func (w *Writer) WriteManifest(jobID string, envelope *model.DispatchEnvelope, finalState model.GeneratorState) error {
	dir := w.jobDir(jobID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("joblog: failed to create job directory: %w", err)
	}
	now := time.Now().UTC()
	m := manifest{
		SchemaVersion: schemaVersion,
		JobID:         jobID,
		FinalState:    finalState,
		WrittenAt:     now.Format("2006-01-02T15:04:05.000Z"),
		Envelope:      envelope,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("joblog: failed to marshal manifest: %w", err)
	}
	name := fmt.Sprintf("manifest-%s.json", now.Format("20060102T150405.000Z"))
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o640); err != nil {
		return fmt.Errorf("joblog: failed to write manifest: %w", err)
	}
	w.closeEventFile(jobID)
	return nil
}

type appliedWorkflow struct {
	Prompt   model.Graph `json:"prompt"`
	ClientID string      `json:"client_id"`
}

// WriteAppliedWorkflow writes applied-workflow.json, the graph exactly as
// submitted to the renderer.
func (w *Writer) WriteAppliedWorkflow(jobID string, g model.Graph) error {
	dir := w.jobDir(jobID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("joblog: failed to create job directory: %w", err)
	}
	data, err := json.MarshalIndent(appliedWorkflow{Prompt: g, ClientID: w.clientID}, "", "  ")
	if err != nil {
		return fmt.Errorf("joblog: failed to marshal applied workflow: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "applied-workflow.json"), data, 0o640); err != nil {
		return fmt.Errorf("joblog: failed to write applied workflow: %w", err)
	}
	return nil
}

// closeEventFile releases the open events.jsonl handle once a job
// terminates, since the job's events are final by the time the manifest is
// written.
func (w *Writer) closeEventFile(jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if f, ok := w.handles[jobID]; ok {
		_ = f.Close()
		delete(w.handles, jobID)
	}
}
