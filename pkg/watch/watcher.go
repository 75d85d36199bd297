// Package watch runs a callback for every input file that settles in a directory.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/physobj/physobj/pkg/sources"
)

// DefaultDebounce is how long a file must stay quiet before it is handed off.
const DefaultDebounce = 500 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration

	// Filter selects files to hand off. Defaults to sources.Supported.
	Filter func(path string) bool

	// Existing hands off files already present when Run starts.
	Existing bool

	// OnFile is called once per settled file, sequentially.
	OnFile func(ctx context.Context, path string) error

	// OnError receives watcher and callback errors. Optional.
	OnError func(path string, err error)

	Logger *zap.Logger
}

// Watcher monitors one directory.
type Watcher struct {
	watcher *fsnotify.Watcher
	dir     string
	opts    Options
	logger  *zap.Logger

	mu     sync.Mutex
	files  map[string]*fileState
	timers map[string]*time.Timer

	ready chan string
	done  chan struct{}
	once  sync.Once
}

type fileState struct {
	lastModified time.Time
	size         int64
}

// New creates a watcher for dir.
func New(dir string, opts Options) (*Watcher, error) {
	if opts.OnFile == nil {
		return nil, fmt.Errorf("watch: OnFile is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Filter == nil {
		opts.Filter = sources.Supported
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if info, err := os.Stat(absDir); err != nil {
		return nil, err
	} else if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s is not a directory", absDir)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsWatcher.Add(absDir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	return &Watcher{
		watcher: fsWatcher,
		dir:     absDir,
		opts:    opts,
		logger:  opts.Logger,
		files:   make(map[string]*fileState),
		timers:  make(map[string]*time.Timer),
		ready:   make(chan string, 16),
		done:    make(chan struct{}),
	}, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Run starts the watch loop. Blocks until context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	if w.opts.Existing {
		if err := w.scanExisting(); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !w.accept(event.Name) {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.reportError("", err)

		case path := <-w.ready:
			w.handle(ctx, path)
		}
	}
}

func (w *Watcher) accept(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return w.opts.Filter(path)
}

func (w *Watcher) scanExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(w.dir, name)
		if w.accept(path) {
			w.schedule(path)
		}
	}
	return nil
}

// schedule restarts the debounce timer of path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.timers[path]; exists {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.opts.Debounce, func() {
		select {
		case w.ready <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) handle(ctx context.Context, path string) {
	w.mu.Lock()
	delete(w.timers, path)
	w.mu.Unlock()

	stat, err := os.Stat(path)
	if err != nil {
		// Removed before it settled.
		if !os.IsNotExist(err) {
			w.reportError(path, err)
		}
		return
	}

	w.mu.Lock()
	state, seen := w.files[path]
	if seen && stat.ModTime().Equal(state.lastModified) && stat.Size() == state.size {
		w.mu.Unlock()
		return
	}
	w.files[path] = &fileState{lastModified: stat.ModTime(), size: stat.Size()}
	w.mu.Unlock()

	w.logger.Info("input settled", zap.String("path", path), zap.Int64("bytes", stat.Size()))
	if err := w.opts.OnFile(ctx, path); err != nil {
		w.reportError(path, err)
	}
}

func (w *Watcher) reportError(path string, err error) {
	w.logger.Warn("watch error", zap.String("path", path), zap.Error(err))
	if w.opts.OnError != nil {
		w.opts.OnError(path, err)
	}
}

// Close stops the watcher. Run closes it on return.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		w.mu.Lock()
		for _, t := range w.timers {
			t.Stop()
		}
		w.timers = map[string]*time.Timer{}
		w.mu.Unlock()

		close(w.done)
		err = w.watcher.Close()
	})
	return err
}
