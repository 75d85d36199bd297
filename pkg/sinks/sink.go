// Package sinks provides destinations for Arrow record batches.
package sinks

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
)

// Sink writes Arrow records to a destination.
type Sink interface {
	// Open prepares the sink for writing records of the given schema.
	Open(ctx context.Context, schema *arrow.Schema, opts Options) error

	// Write writes a record to the sink.
	Write(ctx context.Context, rec arrow.Record) error

	// Flush forces any buffered data to be written.
	Flush(ctx context.Context) error

	// Close finalizes and closes the sink.
	Close(ctx context.Context) (*Result, error)

	// Abort discards everything written so far.
	Abort() error
}

// Options configures sink behavior.
type Options struct {
	// Path is the output location.
	Path string

	// Writer is used instead of Path when set (stream sinks only).
	Writer io.WriteCloser

	Compression Compression

	// RowGroupSize is the maximum number of rows per Parquet row group.
	RowGroupSize int64

	// PageSize for Parquet data pages.
	PageSize int64

	DictionaryEncoding bool
	Statistics         bool

	// Metadata is added to the output schema.
	Metadata map[string]string
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Compression:        CompressionSnappy,
		RowGroupSize:       64 * 1024,
		PageSize:           1024 * 1024,
		DictionaryEncoding: true,
		Statistics:         true,
	}
}

// Result contains the outcome of a sink.
type Result struct {
	Path         string
	RowsWritten  int64
	BytesWritten int64
	Duration     time.Duration
}

// Compression represents compression algorithms.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionSnappy
	CompressionGzip
	CompressionLZ4
	CompressionZstd
	CompressionBrotli
)

func (c Compression) String() string {
	names := []string{"none", "snappy", "gzip", "lz4", "zstd", "brotli"}
	if int(c) < len(names) {
		return names[c]
	}
	return "unknown"
}

// ParseCompression parses a compression name.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "snappy":
		return CompressionSnappy, nil
	case "gzip":
		return CompressionGzip, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	case "brotli":
		return CompressionBrotli, nil
	case "none", "":
		return CompressionNone, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", s)
	}
}

// Format names understood by New.
const (
	FormatParquet = "parquet"
	FormatArrow   = "arrow"
	FormatMemory  = "memory"
	FormatNull    = "null"
)

// New returns a fresh sink for the named format.
func New(format string) (Sink, error) {
	switch format {
	case FormatParquet, "":
		return NewParquetSink(), nil
	case FormatArrow:
		return NewArrowIPCSink(), nil
	case FormatMemory:
		return NewMemorySink(), nil
	case FormatNull:
		return NewNullSink(), nil
	default:
		return nil, fmt.Errorf("unknown sink format %q", format)
	}
}

// Extension returns the conventional file extension for a format.
func Extension(format string) string {
	switch format {
	case FormatArrow:
		return ".arrow"
	default:
		return ".parquet"
	}
}
