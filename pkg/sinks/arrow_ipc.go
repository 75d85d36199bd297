package sinks

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/ipc"
)

// ArrowIPCSink writes Arrow records in the IPC stream format.
type ArrowIPCSink struct {
	mu sync.Mutex

	writer      *ipc.Writer
	output      io.WriteCloser
	opts        Options
	rowsWritten int64
	startTime   time.Time
}

// NewArrowIPCSink creates an Arrow IPC sink.
func NewArrowIPCSink() *ArrowIPCSink {
	return &ArrowIPCSink{}
}

// Open creates the output and the IPC writer.
func (s *ArrowIPCSink) Open(ctx context.Context, schema *arrow.Schema, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		return fmt.Errorf("sink already open")
	}

	s.opts = opts
	s.startTime = time.Now()
	s.rowsWritten = 0

	switch {
	case opts.Path != "":
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		f, err := os.Create(opts.Path)
		if err != nil {
			return fmt.Errorf("failed to create file: %w", err)
		}
		s.output = f
	case opts.Writer != nil:
		s.output = opts.Writer
	default:
		return fmt.Errorf("no output path or writer specified")
	}

	s.writer = ipc.NewWriter(s.output, ipc.WithSchema(withLineage(schema, opts.Metadata, s.startTime)))
	return nil
}

// Write writes a record to the IPC stream.
func (s *ArrowIPCSink) Write(ctx context.Context, rec arrow.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return fmt.Errorf("sink not open")
	}

	if err := s.writer.Write(rec); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	s.rowsWritten += rec.NumRows()
	return nil
}

// Flush is a no-op for IPC streams.
func (s *ArrowIPCSink) Flush(ctx context.Context) error {
	return nil
}

// Close ends the IPC stream and closes the output.
func (s *ArrowIPCSink) Close(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return nil, fmt.Errorf("sink not open")
	}

	err := s.writer.Close()
	s.writer = nil
	if err != nil {
		s.output.Close()
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	var size int64
	if f, ok := s.output.(*os.File); ok {
		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}
	}

	if err := s.output.Close(); err != nil {
		return nil, fmt.Errorf("failed to close output: %w", err)
	}

	return &Result{
		Path:         s.opts.Path,
		RowsWritten:  s.rowsWritten,
		BytesWritten: size,
		Duration:     time.Since(s.startTime),
	}, nil
}

// Abort closes the stream and removes the output file if there is one.
func (s *ArrowIPCSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		s.writer.Close()
		s.writer = nil
	}
	if s.output != nil {
		s.output.Close()
		s.output = nil
	}
	if s.opts.Path != "" {
		os.Remove(s.opts.Path)
	}
	return nil
}

// Verify interface compliance
var (
	_ Sink = (*ParquetSink)(nil)
	_ Sink = (*ArrowIPCSink)(nil)
	_ Sink = (*MemorySink)(nil)
	_ Sink = (*NullSink)(nil)
)
