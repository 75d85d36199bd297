package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
)

// MemorySink retains every written record. Callers must Release it when done.
type MemorySink struct {
	mu sync.Mutex

	schema    *arrow.Schema
	records   []arrow.Record
	rows      int64
	open      bool
	startTime time.Time
}

// NewMemorySink creates an in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Open(ctx context.Context, schema *arrow.Schema, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return fmt.Errorf("sink already open")
	}
	s.schema = schema
	s.open = true
	s.startTime = time.Now()
	return nil
}

func (s *MemorySink) Write(ctx context.Context, rec arrow.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return fmt.Errorf("sink not open")
	}
	rec.Retain()
	s.records = append(s.records, rec)
	s.rows += rec.NumRows()
	return nil
}

func (s *MemorySink) Flush(ctx context.Context) error {
	return nil
}

func (s *MemorySink) Close(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil, fmt.Errorf("sink not open")
	}
	s.open = false
	return &Result{
		RowsWritten: s.rows,
		Duration:    time.Since(s.startTime),
	}, nil
}

// Abort drops the retained records.
func (s *MemorySink) Abort() error {
	s.Release()
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	return nil
}

// Schema returns the schema the sink was opened with.
func (s *MemorySink) Schema() *arrow.Schema {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schema
}

// Records returns the retained records in write order.
func (s *MemorySink) Records() []arrow.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]arrow.Record(nil), s.records...)
}

// Rows returns the number of rows written.
func (s *MemorySink) Rows() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Release releases all retained records.
func (s *MemorySink) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		r.Release()
	}
	s.records = nil
	s.rows = 0
}

// NullSink discards all data.
type NullSink struct {
	rowsWritten int64
	startTime   time.Time
}

// NewNullSink creates a null sink.
func NewNullSink() *NullSink {
	return &NullSink{}
}

func (s *NullSink) Open(ctx context.Context, schema *arrow.Schema, opts Options) error {
	s.startTime = time.Now()
	return nil
}

func (s *NullSink) Write(ctx context.Context, rec arrow.Record) error {
	s.rowsWritten += rec.NumRows()
	return nil
}

func (s *NullSink) Flush(ctx context.Context) error {
	return nil
}

func (s *NullSink) Close(ctx context.Context) (*Result, error) {
	return &Result{
		RowsWritten: s.rowsWritten,
		Duration:    time.Since(s.startTime),
	}, nil
}

func (s *NullSink) Abort() error {
	return nil
}
