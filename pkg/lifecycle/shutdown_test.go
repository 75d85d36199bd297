//go:build !windows

package lifecycle

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/physobj/physobj/pkg/errors"
)

// raise delivers sig to the test process; Run's signal.Notify keeps it from
// terminating the process.
func raise(sig syscall.Signal) {
	syscall.Kill(syscall.Getpid(), sig)
}

func TestManager_RunCompletes(t *testing.T) {
	var order []string
	m := NewManager(Config{Signals: []os.Signal{syscall.SIGUSR1}})
	m.OnShutdown("backend", func(context.Context) error { order = append(order, "backend"); return nil })
	m.OnShutdown("telemetry", func(context.Context) error { order = append(order, "telemetry"); return nil })

	err := m.Run(context.Background(), func(context.Context) error {
		order = append(order, "job")
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"job", "telemetry", "backend"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	if err := m.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if len(order) != 3 {
		t.Error("Shutdown should release resources once")
	}
}

func TestManager_SignalCancels(t *testing.T) {
	m := NewManager(Config{Signals: []os.Signal{syscall.SIGUSR1}, DrainTimeout: 5 * time.Second})

	err := m.Run(context.Background(), func(ctx context.Context) error {
		raise(syscall.SIGUSR1)
		<-ctx.Done()
		return errors.ContextCanceled("process events", ctx.Err())
	})
	if !errors.IsCode(err, errors.CodeContextCanceled) {
		t.Errorf("Expected E401, got %v", err)
	}
}

func TestManager_DrainTimeout(t *testing.T) {
	m := NewManager(Config{Signals: []os.Signal{syscall.SIGUSR1}, DrainTimeout: 50 * time.Millisecond})

	release := make(chan struct{})
	defer close(release)

	err := m.Run(context.Background(), func(ctx context.Context) error {
		raise(syscall.SIGUSR1)
		<-release
		return nil
	})
	if !errors.IsCode(err, errors.CodeTimeout) {
		t.Errorf("Expected E402, got %v", err)
	}
}

func TestManager_ShutdownErrors(t *testing.T) {
	m := NewManager(Config{})
	m.OnShutdown("a", func(context.Context) error { return fmt.Errorf("a failed") })
	m.OnShutdown("b", func(context.Context) error { return fmt.Errorf("b failed") })

	err := m.Run(context.Background(), func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("Expected shutdown errors")
	}
	if _, ok := err.(*errors.MultiError); !ok {
		t.Errorf("Expected MultiError, got %T", err)
	}
}
