// Package lifecycle cancels running jobs on termination signals and releases
// job-scoped resources in order.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/physobj/physobj/pkg/errors"
)

// Config configures the shutdown manager.
type Config struct {
	// DrainTimeout is how long a canceled job may take to close its output.
	DrainTimeout time.Duration

	// Signals that cancel the job. Defaults to SIGINT and SIGTERM.
	Signals []os.Signal

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DrainTimeout: 30 * time.Second,
		Signals:      []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Manager runs one job under signal handling and closes registered resources.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	logger  *zap.Logger
	closers []closer
	closed  bool
}

// NewManager creates a shutdown manager.
func NewManager(cfg Config) *Manager {
	d := DefaultConfig()
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = d.DrainTimeout
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = d.Signals
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, logger: cfg.Logger}
}

// OnShutdown registers a resource release. Releases run in reverse order.
func (m *Manager) OnShutdown(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closers = append(m.closers, closer{name: name, fn: fn})
}

// Run calls fn with a context that is canceled on the first signal. After a
// signal, fn has DrainTimeout to return. A second signal stops waiting.
// Registered resources are released before Run returns.
func (m *Manager) Run(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, m.cfg.Signals...)
	defer signal.Stop(sigc)

	errc := make(chan error, 1)
	go func() { errc <- fn(ctx) }()

	var err error
	select {
	case err = <-errc:
	case sig := <-sigc:
		m.logger.Warn("received signal, canceling job",
			zap.String("signal", sig.String()),
			zap.Duration("drain_timeout", m.cfg.DrainTimeout))
		cancel()
		err = m.drain(errc, sigc)
	}

	if serr := m.Shutdown(context.Background()); serr != nil && err == nil {
		err = serr
	}
	return err
}

func (m *Manager) drain(errc <-chan error, sigc <-chan os.Signal) error {
	timer := time.NewTimer(m.cfg.DrainTimeout)
	defer timer.Stop()

	select {
	case err := <-errc:
		return err
	case sig := <-sigc:
		m.logger.Error("second signal, abandoning job", zap.String("signal", sig.String()))
		return errors.New(errors.CodeContextCanceled, "job abandoned").WithContext("signal", sig.String())
	case <-timer.C:
		return errors.New(errors.CodeTimeout, "job did not stop within drain timeout").
			WithContext("drain_timeout", m.cfg.DrainTimeout.String())
	}
}

// Shutdown releases registered resources once, newest first.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	closers := m.closers
	m.mu.Unlock()

	var errs errors.MultiError
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(ctx); err != nil {
			m.logger.Warn("shutdown step failed", zap.String("resource", c.name), zap.Error(err))
			errs.Add(err)
		}
	}
	return errs.Combined()
}
