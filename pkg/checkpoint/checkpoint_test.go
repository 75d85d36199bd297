package checkpoint

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestJobKey(t *testing.T) {
	a := JobKey([]string{"a.jsonl", "b.jsonl"}, "out.parquet")
	if a != JobKey([]string{"a.jsonl", "b.jsonl"}, "out.parquet") {
		t.Error("JobKey should be stable")
	}
	if len(a) != 16 {
		t.Errorf("Expected 16 hex chars, got %q", a)
	}

	others := [][2]interface{}{
		{[]string{"b.jsonl", "a.jsonl"}, "out.parquet"},
		{[]string{"a.jsonl"}, "out.parquet"},
		{[]string{"a.jsonl", "b.jsonl"}, "other.parquet"},
		{[]string{"a.jsonlb.jsonl"}, "out.parquet"},
	}
	for _, o := range others {
		if JobKey(o[0].([]string), o[1].(string)) == a {
			t.Errorf("JobKey(%v, %v) collides", o[0], o[1])
		}
	}
}

func TestLocalBackend(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}

	cp := New([]string{"in.jsonl"}, "out.parquet")
	if err := b.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := b.Load(ctx, cp.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.JobKey != cp.JobKey || loaded.Phase != PhaseRunning {
		t.Errorf("unexpected checkpoint %+v", loaded)
	}

	newer := New([]string{"in.jsonl"}, "out.parquet")
	newer.UpdatedAt = cp.UpdatedAt.Add(time.Minute)
	newer.Phase = PhaseComplete
	if err := b.Save(ctx, newer); err != nil {
		t.Fatalf("Save: %v", err)
	}
	unrelated := New([]string{"x.jsonl"}, "y.parquet")
	if err := b.Save(ctx, unrelated); err != nil {
		t.Fatalf("Save: %v", err)
	}

	found, err := b.FindByJob(ctx, cp.JobKey)
	if err != nil {
		t.Fatalf("FindByJob: %v", err)
	}
	if found.ID != newer.ID || !found.IsComplete() {
		t.Errorf("Expected the newest checkpoint, got %+v", found)
	}

	if err := b.Delete(ctx, cp.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.Load(ctx, cp.ID); !os.IsNotExist(err) {
		t.Errorf("Expected not exist after delete, got %v", err)
	}
	if err := b.Delete(ctx, cp.ID); err != nil {
		t.Errorf("Deleting twice should succeed, got %v", err)
	}
	if _, err := b.FindByJob(ctx, "missing"); !os.IsNotExist(err) {
		t.Errorf("Expected not exist, got %v", err)
	}
}

// flakyBackend fails every save.
type flakyBackend struct {
	NopBackend
	saves int
}

func (f *flakyBackend) Save(context.Context, *Checkpoint) error {
	f.saves++
	return fmt.Errorf("disk full")
}

func TestTracker(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	tr := Start(ctx, b, []string{"in.jsonl"}, "out.parquet", nil)
	id := tr.Checkpoint().ID

	tr.Progress(ctx, 500)
	cp, err := b.Load(ctx, id)
	if err != nil || cp.EventsProcessed != 500 || cp.Phase != PhaseRunning {
		t.Fatalf("unexpected progress checkpoint %+v, %v", cp, err)
	}

	tr.Complete(ctx, 1000, 1000)
	cp, err = b.Load(ctx, id)
	if err != nil || !cp.IsComplete() || cp.CompletedAt == nil || cp.RowsWritten != 1000 {
		t.Fatalf("unexpected final checkpoint %+v, %v", cp, err)
	}

	failed := Start(ctx, b, []string{"in.jsonl"}, "other.parquet", nil)
	failed.Fail(ctx, fmt.Errorf("boom"))
	cp, _ = b.Load(ctx, failed.Checkpoint().ID)
	if cp.Phase != PhaseFailed || cp.Error != "boom" {
		t.Errorf("unexpected failed checkpoint %+v", cp)
	}

	flaky := &flakyBackend{}
	ft := Start(ctx, flaky, nil, "x", nil)
	ft.Progress(ctx, 1)
	if flaky.saves != 2 {
		t.Errorf("Expected 2 save attempts, got %d", flaky.saves)
	}
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("PHYSOBJ_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PHYSOBJ_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	cfg := DefaultRedisConfig(addr)
	cfg.Prefix = fmt.Sprintf("physobj:test:%d:", time.Now().UnixNano())
	b, err := NewRedisBackend(ctx, cfg)
	if err != nil {
		t.Fatalf("NewRedisBackend: %v", err)
	}
	defer b.Close()

	cp := New([]string{"in.jsonl"}, "out.parquet")
	if err := b.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	found, err := b.FindByJob(ctx, cp.JobKey)
	if err != nil || found.ID != cp.ID {
		t.Fatalf("FindByJob = %+v, %v", found, err)
	}

	lock, err := b.AcquireLock(ctx, cp.JobKey, "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if _, err := b.AcquireLock(ctx, cp.JobKey, "worker-2", time.Minute); err == nil {
		t.Error("Second lock should fail")
	}
	if err := lock.Release(ctx); err != nil {
		t.Errorf("Release: %v", err)
	}

	if err := b.Delete(ctx, cp.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.FindByJob(ctx, cp.JobKey); !os.IsNotExist(err) {
		t.Errorf("Expected not exist after delete, got %v", err)
	}
}
