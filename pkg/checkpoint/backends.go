package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Backend defines the interface for checkpoint storage backends.
type Backend interface {
	// Save persists a checkpoint to the backend.
	Save(ctx context.Context, cp *Checkpoint) error

	// Load retrieves a checkpoint by ID. A missing checkpoint is os.ErrNotExist.
	Load(ctx context.Context, id string) (*Checkpoint, error)

	// FindByJob returns the most recently updated checkpoint for a job key.
	FindByJob(ctx context.Context, jobKey string) (*Checkpoint, error)

	// Delete removes a checkpoint.
	Delete(ctx context.Context, id string) error

	// Name returns the backend name for logging/debugging.
	Name() string

	Close() error
}

// LocalBackend stores checkpoints as JSON files in a directory.
type LocalBackend struct {
	dir string
	mu  sync.Mutex
}

// NewLocalBackend creates a backend using the local filesystem.
func NewLocalBackend(dir string) (*LocalBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &LocalBackend{dir: dir}, nil
}

func (b *LocalBackend) path(id string) string {
	return filepath.Join(b.dir, sanitizeKey(id)+".checkpoint")
}

// Save writes the checkpoint atomically.
func (b *LocalBackend) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.path(cp.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a checkpoint from disk.
func (b *LocalBackend) Load(ctx context.Context, id string) (*Checkpoint, error) {
	return readCheckpoint(b.path(id))
}

func readCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint %s: %w", path, err)
	}
	return &cp, nil
}

// FindByJob scans the directory for checkpoints of jobKey.
func (b *LocalBackend) FindByJob(ctx context.Context, jobKey string) (*Checkpoint, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}

	var found []*Checkpoint
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".checkpoint" {
			continue
		}
		cp, err := readCheckpoint(filepath.Join(b.dir, entry.Name()))
		if err != nil {
			continue
		}
		if cp.JobKey == jobKey {
			found = append(found, cp)
		}
	}
	if len(found) == 0 {
		return nil, os.ErrNotExist
	}

	sort.Slice(found, func(i, j int) bool { return found[i].UpdatedAt.After(found[j].UpdatedAt) })
	return found[0], nil
}

// Delete removes a checkpoint file.
func (b *LocalBackend) Delete(ctx context.Context, id string) error {
	err := os.Remove(b.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (b *LocalBackend) Name() string { return "local" }
func (b *LocalBackend) Close() error { return nil }

// NopBackend records nothing.
type NopBackend struct{}

func (NopBackend) Save(context.Context, *Checkpoint) error { return nil }
func (NopBackend) Load(context.Context, string) (*Checkpoint, error) {
	return nil, os.ErrNotExist
}
func (NopBackend) FindByJob(context.Context, string) (*Checkpoint, error) {
	return nil, os.ErrNotExist
}
func (NopBackend) Delete(context.Context, string) error { return nil }
func (NopBackend) Name() string                         { return "none" }
func (NopBackend) Close() error                         { return nil }
