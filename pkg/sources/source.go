// Package sources produces events for the processor from files or memory.
package sources

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/physobj/physobj/pkg/errors"
	"github.com/physobj/physobj/pkg/event"
)

// Source streams events in file order.
type Source interface {
	Name() string

	// Events sends every event to out and returns when the input is exhausted,
	// on the first error, or when ctx is done. It does not close out.
	Events(ctx context.Context, out chan<- *event.Event) error

	Close() error
}

// Options configures file sources.
type Options struct {
	// Aliases maps event labels to collection names in the input file.
	Aliases map[string]string

	// MaxLineSize bounds a single JSONL line.
	MaxLineSize int

	Logger *zap.Logger
}

// DefaultMaxLineSize is the largest accepted JSONL line.
const DefaultMaxLineSize = 32 << 20

// DefaultOptions returns options with the standard LCIO aliases.
func DefaultOptions() Options {
	return Options{
		Aliases:     map[string]string{event.GenParticlesLabel: "MCParticle"},
		MaxLineSize: DefaultMaxLineSize,
		Logger:      zap.NewNop(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Aliases == nil {
		o.Aliases = d.Aliases
	}
	if o.MaxLineSize <= 0 {
		o.MaxLineSize = d.MaxLineSize
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	return o
}

// Supported reports whether path has an extension Open understands.
func Supported(path string) bool {
	_, ok := kindOf(path)
	return ok
}

type kind int

const (
	kindJSONL kind = iota
	kindLCIO
)

func kindOf(path string) (kind, bool) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".jsonl"), strings.HasSuffix(lower, ".ndjson"),
		strings.HasSuffix(lower, ".jsonl.gz"), strings.HasSuffix(lower, ".ndjson.gz"):
		return kindJSONL, true
	case strings.HasSuffix(lower, ".slcio"):
		return kindLCIO, true
	}
	return 0, false
}

// Open picks a source for path by its extension.
func Open(path string, opts Options) (Source, error) {
	opts = opts.withDefaults()

	k, ok := kindOf(path)
	if !ok {
		return nil, errors.New(errors.CodeInvalidFormat, "unsupported input format").
			WithContext("path", path).
			WithContext("extension", filepath.Ext(path))
	}
	switch k {
	case kindLCIO:
		return NewLCIOSource(path, opts)
	default:
		return NewJSONLSource(path, opts)
	}
}

// OpenAll expands glob patterns and chains the matching files in order.
// Matches of one pattern are sorted; patterns keep their given order.
func OpenAll(patterns []string, opts Options) (Source, error) {
	var paths []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeValidationFailed, "invalid glob pattern").
				WithContext("pattern", p)
		}
		if len(matches) == 0 {
			return nil, errors.InputNotFound(p)
		}
		sort.Strings(matches)
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, errors.New(errors.CodeValidationFailed, "no input files")
	}

	srcs := make([]Source, 0, len(paths))
	for _, p := range paths {
		src, err := Open(p, opts)
		if err != nil {
			for _, s := range srcs {
				s.Close()
			}
			return nil, err
		}
		srcs = append(srcs, src)
	}
	if len(srcs) == 1 {
		return srcs[0], nil
	}
	return NewMulti(srcs...), nil
}

// Multi chains sources, reading each one to exhaustion before the next.
type Multi struct {
	sources []Source
}

// NewMulti creates a chained source.
func NewMulti(sources ...Source) *Multi {
	return &Multi{sources: sources}
}

func (m *Multi) Name() string {
	names := make([]string, len(m.sources))
	for i, s := range m.sources {
		names[i] = s.Name()
	}
	return strings.Join(names, ",")
}

func (m *Multi) Events(ctx context.Context, out chan<- *event.Event) error {
	for _, s := range m.sources {
		if err := s.Events(ctx, out); err != nil {
			return err
		}
	}
	return nil
}

func (m *Multi) Close() error {
	var errs errors.MultiError
	for _, s := range m.sources {
		errs.Add(s.Close())
	}
	return errs.Combined()
}

// send delivers evt unless ctx is done first.
func send(ctx context.Context, out chan<- *event.Event, evt *event.Event, source string) error {
	select {
	case out <- evt:
		return nil
	case <-ctx.Done():
		return errors.ContextCanceled("read "+source, ctx.Err())
	}
}
