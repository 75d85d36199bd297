package sinks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
)

// Version is recorded in output metadata.
const Version = "0.3.0"

// ParquetSink writes Arrow records to a Parquet file.
// Writes go to a temp file that is renamed into place on a successful Close.
type ParquetSink struct {
	mu sync.Mutex

	path        string
	tempPath    string
	schema      *arrow.Schema
	opts        Options
	writer      *pqarrow.FileWriter
	file        *os.File
	rowsWritten int64
	startTime   time.Time
}

// NewParquetSink creates a Parquet sink.
func NewParquetSink() *ParquetSink {
	return &ParquetSink{}
}

// Open creates the temp file and the Parquet writer.
func (s *ParquetSink) Open(ctx context.Context, schema *arrow.Schema, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		return fmt.Errorf("sink already open")
	}
	if opts.Path == "" {
		return fmt.Errorf("parquet sink requires a path")
	}

	s.path = opts.Path
	s.opts = opts
	s.startTime = time.Now()
	s.rowsWritten = 0
	s.schema = withLineage(schema, opts.Metadata, s.startTime)

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	s.tempPath = fmt.Sprintf("%s.tmp.%d", s.path, time.Now().UnixNano())
	file, err := os.Create(s.tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	s.file = file

	props := []parquet.WriterProperty{
		parquet.WithCompression(codec(opts.Compression)),
		parquet.WithDictionaryDefault(opts.DictionaryEncoding),
		parquet.WithStats(opts.Statistics),
		parquet.WithCreatedBy("physobj " + Version),
	}
	if opts.RowGroupSize > 0 {
		props = append(props, parquet.WithMaxRowGroupLength(opts.RowGroupSize))
	}
	if opts.PageSize > 0 {
		props = append(props, parquet.WithDataPageSize(opts.PageSize))
	}

	writer, err := pqarrow.NewFileWriter(s.schema, file,
		parquet.NewWriterProperties(props...),
		pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()),
	)
	if err != nil {
		file.Close()
		os.Remove(s.tempPath)
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	s.writer = writer

	return nil
}

// Write appends a record to the current row group.
func (s *ParquetSink) Write(ctx context.Context, rec arrow.Record) error {
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

// Flush is a no-op; row groups are flushed by the writer.
func (s *ParquetSink) Flush(ctx context.Context) error {
	return nil
}

// Close finalizes the file and renames it to its final path.
func (s *ParquetSink) Close(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return nil, fmt.Errorf("sink not open")
	}

	// Closing the writer also closes the file.
	err := s.writer.Close()
	s.writer = nil
	s.file = nil
	if err != nil {
		os.Remove(s.tempPath)
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	if err := os.Rename(s.tempPath, s.path); err != nil {
		os.Remove(s.tempPath)
		return nil, fmt.Errorf("failed to rename temp file to final path: %w", err)
	}

	var size int64
	if info, err := os.Stat(s.path); err == nil {
		size = info.Size()
	}

	return &Result{
		Path:         s.path,
		RowsWritten:  s.rowsWritten,
		BytesWritten: size,
		Duration:     time.Since(s.startTime),
	}, nil
}

// Abort closes the writer and removes the temp file.
func (s *ParquetSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		s.writer.Close()
		s.writer = nil
	}
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	if s.tempPath != "" {
		os.Remove(s.tempPath)
		s.tempPath = ""
	}
	return nil
}

// withLineage copies schema and adds physobj metadata to it.
func withLineage(schema *arrow.Schema, user map[string]string, created time.Time) *arrow.Schema {
	keys := []string{"physobj.version", "physobj.created_at"}
	values := []string{Version, created.Format(time.RFC3339)}

	if md := schema.Metadata(); md.Len() > 0 {
		keys = append(keys, md.Keys()...)
		values = append(values, md.Values()...)
	}
	for k, v := range user {
		keys = append(keys, "physobj.user."+k)
		values = append(values, v)
	}

	meta := arrow.NewMetadata(keys, values)
	return arrow.NewSchema(schema.Fields(), &meta)
}

func codec(c Compression) compress.Compression {
	switch c {
	case CompressionSnappy:
		return compress.Codecs.Snappy
	case CompressionGzip:
		return compress.Codecs.Gzip
	case CompressionLZ4:
		return compress.Codecs.Lz4
	case CompressionZstd:
		return compress.Codecs.Zstd
	case CompressionBrotli:
		return compress.Codecs.Brotli
	default:
		return compress.Codecs.Uncompressed
	}
}
