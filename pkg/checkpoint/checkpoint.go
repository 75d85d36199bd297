// Package checkpoint records job progress so finished jobs are not rerun.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Phase is the lifecycle state of a job.
type Phase string

const (
	PhaseRunning  Phase = "running"
	PhaseComplete Phase = "complete"
	PhaseFailed   Phase = "failed"
)

// Checkpoint tracks the progress of one job.
type Checkpoint struct {
	// Identification
	ID         string   `json:"id"`
	JobKey     string   `json:"job_key"`
	InputPaths []string `json:"input_paths"`
	OutputPath string   `json:"output_path"`

	// Progress
	EventsProcessed int64 `json:"events_processed"`
	RowsWritten     int64 `json:"rows_written"`

	// State
	Phase       Phase      `json:"phase"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobKey returns a stable key for a set of inputs and an output path.
// Input order matters since it defines event order.
func JobKey(inputs []string, output string) string {
	h := sha256.New()
	for _, in := range inputs {
		if abs, err := filepath.Abs(in); err == nil {
			in = abs
		}
		h.Write([]byte(in))
		h.Write([]byte{0})
	}
	if abs, err := filepath.Abs(output); err == nil && output != "" {
		output = abs
	}
	h.Write([]byte("->" + output))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// New creates a running checkpoint for a job.
func New(inputs []string, output string) *Checkpoint {
	now := time.Now()
	return &Checkpoint{
		ID:         uuid.New().String(),
		JobKey:     JobKey(inputs, output),
		InputPaths: append([]string(nil), inputs...),
		OutputPath: output,
		Phase:      PhaseRunning,
		StartedAt:  now,
		UpdatedAt:  now,
	}
}

// IsComplete reports whether the job finished successfully.
func (cp *Checkpoint) IsComplete() bool {
	return cp != nil && cp.Phase == PhaseComplete
}

// Tracker saves a job's checkpoint as it progresses.
// Save failures are logged and never fail the job.
type Tracker struct {
	mu      sync.Mutex
	backend Backend
	cp      *Checkpoint
	logger  *zap.Logger
}

// Start records a new running checkpoint.
func Start(ctx context.Context, backend Backend, inputs []string, output string, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{backend: backend, cp: New(inputs, output), logger: logger}
	t.save(ctx)
	return t
}

// Checkpoint returns a copy of the current state.
func (t *Tracker) Checkpoint() Checkpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := *t.cp
	cp.InputPaths = append([]string(nil), t.cp.InputPaths...)
	return cp
}

// Progress records the events processed so far.
func (t *Tracker) Progress(ctx context.Context, events int64) {
	t.mu.Lock()
	t.cp.EventsProcessed = events
	t.mu.Unlock()
	t.save(ctx)
}

// Complete marks the job finished.
func (t *Tracker) Complete(ctx context.Context, events, rows int64) {
	now := time.Now()
	t.mu.Lock()
	t.cp.EventsProcessed = events
	t.cp.RowsWritten = rows
	t.cp.Phase = PhaseComplete
	t.cp.CompletedAt = &now
	t.mu.Unlock()
	t.save(ctx)
}

// Fail marks the job failed.
func (t *Tracker) Fail(ctx context.Context, err error) {
	t.mu.Lock()
	t.cp.Phase = PhaseFailed
	if err != nil {
		t.cp.Error = err.Error()
	}
	t.mu.Unlock()
	t.save(ctx)
}

func (t *Tracker) save(ctx context.Context) {
	t.mu.Lock()
	t.cp.UpdatedAt = time.Now()
	cp := *t.cp
	t.mu.Unlock()

	if err := t.backend.Save(ctx, &cp); err != nil {
		t.logger.Warn("checkpoint save failed",
			zap.String("backend", t.backend.Name()),
			zap.String("id", cp.ID),
			zap.Error(err))
	}
}

// sanitizeKey removes characters that may cause issues in keys and file names.
func sanitizeKey(s string) string {
	r := strings.NewReplacer("/", "_", ":", "_", " ", "_", "\\", "_")
	return r.Replace(s)
}
