// Package output provides the job-scoped file service that owns output trees.
//
// A Service is opened once per job, hands out trees, and is closed exactly once
// at job end. Close finalizes every tree and optionally publishes the files.
package output

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/physobj/physobj/pkg/errors"
	"github.com/physobj/physobj/pkg/sinks"
	"github.com/physobj/physobj/pkg/tree"
)

// Uploader publishes a finished output file.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// Config configures the file service.
type Config struct {
	// Path of the first tree's output file.
	Path string

	// Format is the sink format (parquet, arrow, memory, null).
	Format string

	Compression sinks.Compression
	BatchSize   int

	// Metadata is attached to every output file.
	Metadata map[string]string

	// Uploader publishes files after a successful close. Optional.
	Uploader Uploader

	Logger *zap.Logger

	// NewSink overrides sink construction (tests).
	NewSink func(format string) (sinks.Sink, error)
}

// File describes one finished output.
type File struct {
	Tree   string
	Result sinks.Result
	// Remote is the published location, empty if not uploaded.
	Remote string
}

// Service owns the trees of one job.
type Service struct {
	mu sync.Mutex

	cfg    Config
	logger *zap.Logger
	trees  []*tree.Tree
	byName map[string]*tree.Tree
	files  []File
	closed bool
}

// Open prepares a service for one job.
func Open(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.Format == "" {
		cfg.Format = sinks.FormatParquet
	}
	if cfg.NewSink == nil {
		cfg.NewSink = sinks.New
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Path == "" && needsPath(cfg.Format) {
		return nil, errors.New(errors.CodeValidationFailed, "output path is required").
			WithContext("format", cfg.Format)
	}
	if _, err := cfg.NewSink(cfg.Format); err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationFailed, "invalid output format")
	}

	return &Service{
		cfg:    cfg,
		logger: cfg.Logger,
		byName: make(map[string]*tree.Tree),
	}, nil
}

func needsPath(format string) bool {
	return format == sinks.FormatParquet || format == sinks.FormatArrow
}

// MakeTree creates a tree owned by the service.
func (s *Service) MakeTree(name, title string) (*tree.Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New(errors.CodeWriteFailed, "file service is closed")
	}
	if _, dup := s.byName[name]; dup {
		return nil, errors.New(errors.CodeValidationFailed, "duplicate tree").WithContext("tree", name)
	}

	sink, err := s.cfg.NewSink(s.cfg.Format)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationFailed, "invalid output format")
	}

	opts := tree.DefaultOptions()
	if s.cfg.BatchSize > 0 {
		opts.BatchSize = s.cfg.BatchSize
	}
	opts.Sink.Compression = s.cfg.Compression
	opts.Sink.Metadata = s.cfg.Metadata
	opts.Sink.Path = s.pathFor(name, len(s.trees))

	t := tree.New(name, title, sink, opts)
	s.trees = append(s.trees, t)
	s.byName[name] = t

	s.logger.Debug("tree created",
		zap.String("tree", name),
		zap.String("path", opts.Sink.Path))
	return t, nil
}

// pathFor returns the output path of the n-th tree. The first tree takes the
// configured path, later ones get a _<tree> suffix.
func (s *Service) pathFor(name string, n int) string {
	if s.cfg.Path == "" || n == 0 {
		return s.cfg.Path
	}
	ext := filepath.Ext(s.cfg.Path)
	return strings.TrimSuffix(s.cfg.Path, ext) + "_" + name + ext
}

// Tree returns a tree by name, or nil.
func (s *Service) Tree(name string) *tree.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byName[name]
}

// Close finalizes every tree and uploads the results when configured.
// Calling Close again returns the same files.
func (s *Service) Close(ctx context.Context) ([]File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.files, nil
	}
	s.closed = true

	var errs errors.MultiError
	for _, t := range s.trees {
		res, err := t.Close(ctx)
		if err != nil {
			errs.Add(err)
			continue
		}
		s.files = append(s.files, File{Tree: t.Name(), Result: *res})
		s.logger.Info("tree written",
			zap.String("tree", t.Name()),
			zap.String("path", res.Path),
			zap.Int64("rows", res.RowsWritten),
			zap.Int64("bytes", res.BytesWritten))
	}
	if errs.HasErrors() {
		return s.files, errs.Combined()
	}

	if s.cfg.Uploader != nil {
		for i := range s.files {
			if s.files[i].Result.Path == "" {
				continue
			}
			remote, err := s.cfg.Uploader.Upload(ctx, s.files[i].Result.Path)
			if err != nil {
				errs.Add(errors.Wrap(err, errors.CodeUploadFailed, "upload failed").
					WithContext("path", s.files[i].Result.Path))
				continue
			}
			s.files[i].Remote = remote
			s.logger.Info("output uploaded", zap.String("path", s.files[i].Result.Path), zap.String("remote", remote))
		}
	}

	return s.files, errs.Combined()
}

// Abort discards every tree without publishing anything.
func (s *Service) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs errors.MultiError
	for _, t := range s.trees {
		if err := t.Abort(); err != nil {
			errs.Add(fmt.Errorf("abort %s: %w", t.Name(), err))
		}
	}
	s.logger.Warn("output aborted", zap.Int("trees", len(s.trees)))
	return errs.Combined()
}
