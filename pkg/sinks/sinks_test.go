package sinks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
)

var testSchema = arrow.NewSchema([]arrow.Field{
	{Name: "nGenPart", Type: arrow.PrimitiveTypes.Int32},
}, nil)

func testRecord(t *testing.T, values ...int32) arrow.Record {
	t.Helper()
	b := array.NewRecordBuilder(memory.NewGoAllocator(), testSchema)
	defer b.Release()
	b.Field(0).(*array.Int32Builder).AppendValues(values, nil)
	return b.NewRecord()
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in      string
		want    Compression
		wantErr bool
	}{
		{"snappy", CompressionSnappy, false},
		{"zstd", CompressionZstd, false},
		{"gzip", CompressionGzip, false},
		{"lz4", CompressionLZ4, false},
		{"brotli", CompressionBrotli, false},
		{"", CompressionNone, false},
		{"none", CompressionNone, false},
		{"xz", CompressionNone, true},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseCompression(%q) = %v, %v", tt.in, got, err)
		}
		if !tt.wantErr && tt.in != "" && got.String() != tt.in {
			t.Errorf("String() = %q, want %q", got.String(), tt.in)
		}
	}
}

func TestNew(t *testing.T) {
	for format, want := range map[string]string{
		FormatParquet: "*sinks.ParquetSink",
		"":            "*sinks.ParquetSink",
		FormatArrow:   "*sinks.ArrowIPCSink",
		FormatMemory:  "*sinks.MemorySink",
		FormatNull:    "*sinks.NullSink",
	} {
		s, err := New(format)
		if err != nil {
			t.Fatalf("New(%q): %v", format, err)
		}
		if got := fmt.Sprintf("%T", s); got != want {
			t.Errorf("New(%q) = %s, want %s", format, got, want)
		}
	}
	if _, err := New("csv"); err == nil {
		t.Error("Expected error for unknown format")
	}
	if Extension(FormatArrow) != ".arrow" || Extension(FormatParquet) != ".parquet" {
		t.Error("unexpected extensions")
	}
}

func TestParquetSink_CloseRenames(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "out.parquet")

	s := NewParquetSink()
	opts := DefaultOptions()
	opts.Path = path
	opts.Metadata = map[string]string{"campaign": "test"}
	if err := s.Open(ctx, testSchema, opts); err != nil {
		t.Fatalf("Open: %v", err)
	}

	rec := testRecord(t, 3, 0, 1)
	defer rec.Release()
	if err := s.Write(ctx, rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Final path must not exist before Close")
	}

	res, err := s.Close(ctx)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res.RowsWritten != 3 || res.BytesWritten == 0 || res.Path != path {
		t.Errorf("unexpected result %+v", res)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("Expected only the final file, got %d entries", len(entries))
	}

	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		t.Fatalf("OpenParquetFile: %v", err)
	}
	defer rdr.Close()
	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		t.Fatal(err)
	}
	schema, err := fr.Schema()
	if err != nil {
		t.Fatal(err)
	}
	md := schema.Metadata()
	if i := md.FindKey("physobj.user.campaign"); i < 0 || md.Values()[i] != "test" {
		t.Errorf("user metadata missing: %v", md)
	}
	if md.FindKey("physobj.version") < 0 {
		t.Errorf("lineage metadata missing: %v", md)
	}
}

func TestParquetSink_Abort(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := NewParquetSink()
	opts := DefaultOptions()
	opts.Path = filepath.Join(dir, "out.parquet")
	if err := s.Open(ctx, testSchema, opts); err != nil {
		t.Fatal(err)
	}
	rec := testRecord(t, 1)
	defer rec.Release()
	s.Write(ctx, rec)

	if err := s.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("Abort left %d files behind", len(entries))
	}
}

func TestArrowIPCSink_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.arrow")

	s := NewArrowIPCSink()
	if err := s.Open(ctx, testSchema, Options{Path: path}); err != nil {
		t.Fatal(err)
	}
	for _, vals := range [][]int32{{1, 2}, {3}} {
		rec := testRecord(t, vals...)
		if err := s.Write(ctx, rec); err != nil {
			t.Fatal(err)
		}
		rec.Release()
	}
	res, err := s.Close(ctx)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res.RowsWritten != 3 {
		t.Errorf("RowsWritten = %d", res.RowsWritten)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	r, err := ipc.NewReader(f)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Release()

	var got []int32
	for r.Next() {
		got = append(got, r.Record().Column(0).(*array.Int32).Int32Values()...)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("read back %v", got)
	}
}

func TestMemoryAndNullSinks(t *testing.T) {
	ctx := context.Background()
	rec := testRecord(t, 1, 2)
	defer rec.Release()

	mem := NewMemorySink()
	if err := mem.Write(ctx, rec); err == nil {
		t.Error("Write before Open should fail")
	}
	mem.Open(ctx, testSchema, Options{})
	mem.Write(ctx, rec)
	mem.Write(ctx, rec)
	if _, err := mem.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if mem.Rows() != 4 || len(mem.Records()) != 2 {
		t.Errorf("memory sink rows = %d, records = %d", mem.Rows(), len(mem.Records()))
	}
	mem.Release()

	null := NewNullSink()
	null.Open(ctx, testSchema, Options{})
	null.Write(ctx, rec)
	res, err := null.Close(ctx)
	if err != nil || res.RowsWritten != 2 {
		t.Errorf("null sink = %+v, %v", res, err)
	}
}
