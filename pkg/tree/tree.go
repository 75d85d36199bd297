// Package tree implements a columnar output table filled one row at a time.
//
// Branches bind the address of a caller-owned variable. Fill reads every bound
// address and appends the values as one row. Rows are buffered in Arrow builders
// and handed to a sink in record batches.
package tree

import (
	"context"
	"sync"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"github.com/physobj/physobj/pkg/errors"
	"github.com/physobj/physobj/pkg/sinks"
)

// Schema metadata keys.
const (
	MetaTreeName  = "physobj.tree.name"
	MetaTreeTitle = "physobj.tree.title"
	MetaTitle     = "title"
)

// Kind is the storage type of a branch.
type Kind uint8

const (
	KindInt32 Kind = iota
	KindFloat32List
	KindInt32List
)

func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindFloat32List:
		return "list<float32>"
	case KindInt32List:
		return "list<int32>"
	default:
		return "unknown"
	}
}

func (k Kind) arrowType() arrow.DataType {
	switch k {
	case KindFloat32List:
		return arrow.ListOf(arrow.PrimitiveTypes.Float32)
	case KindInt32List:
		return arrow.ListOf(arrow.PrimitiveTypes.Int32)
	default:
		return arrow.PrimitiveTypes.Int32
	}
}

// Branch is one declared column bound to a variable.
type Branch struct {
	name  string
	title string
	kind  Kind

	i32  *int32
	f32s *[]float32
	i32s *[]int32
}

func (b *Branch) Name() string  { return b.name }
func (b *Branch) Title() string { return b.title }
func (b *Branch) Kind() Kind    { return b.kind }

// SetTitle sets the column description. Titles set after the first Fill are not stored.
func (b *Branch) SetTitle(title string) {
	b.title = title
}

// Options configures a tree.
type Options struct {
	// BatchSize is the number of rows buffered before a record is written.
	BatchSize int

	// Sink options used when the sink is opened.
	Sink sinks.Options

	Allocator memory.Allocator
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize: 1024,
		Sink:      sinks.DefaultOptions(),
		Allocator: memory.NewGoAllocator(),
	}
}

// Tree is a named output table.
type Tree struct {
	mu sync.Mutex

	name  string
	title string
	sink  sinks.Sink
	opts  Options

	branches []*Branch
	index    map[string]*Branch

	schema   *arrow.Schema
	builder  *array.RecordBuilder
	pending  int
	entries  int64
	sinkOpen bool
	closed   bool
}

// New creates an empty tree writing to sink.
func New(name, title string, sink sinks.Sink, opts Options) *Tree {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.Allocator == nil {
		opts.Allocator = memory.NewGoAllocator()
	}
	return &Tree{
		name:  name,
		title: title,
		sink:  sink,
		opts:  opts,
		index: make(map[string]*Branch),
	}
}

func (t *Tree) Name() string  { return t.name }
func (t *Tree) Title() string { return t.title }

// BranchInt32 declares a scalar int32 column bound to v.
func (t *Tree) BranchInt32(name string, v *int32) (*Branch, error) {
	return t.addBranch(&Branch{name: name, kind: KindInt32, i32: v})
}

// BranchFloat32s declares a list<float32> column bound to v.
func (t *Tree) BranchFloat32s(name string, v *[]float32) (*Branch, error) {
	return t.addBranch(&Branch{name: name, kind: KindFloat32List, f32s: v})
}

// BranchInt32s declares a list<int32> column bound to v.
func (t *Tree) BranchInt32s(name string, v *[]int32) (*Branch, error) {
	return t.addBranch(&Branch{name: name, kind: KindInt32List, i32s: v})
}

func (t *Tree) addBranch(b *Branch) (*Branch, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.schema != nil {
		return nil, errors.New(errors.CodeSchemaFrozen, "cannot add branch after first fill").
			WithContext("tree", t.name).
			WithContext("branch", b.name)
	}
	if b.i32 == nil && b.f32s == nil && b.i32s == nil {
		return nil, errors.New(errors.CodeValidationFailed, "branch address is nil").
			WithContext("tree", t.name).
			WithContext("branch", b.name)
	}
	if _, dup := t.index[b.name]; dup {
		return nil, errors.New(errors.CodeValidationFailed, "duplicate branch").
			WithContext("tree", t.name).
			WithContext("branch", b.name)
	}

	t.branches = append(t.branches, b)
	t.index[b.name] = b
	return b, nil
}

// GetBranch returns a declared branch by name, or nil.
func (t *Tree) GetBranch(name string) *Branch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.index[name]
}

// Branches returns the declared branches in declaration order.
func (t *Tree) Branches() []*Branch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Branch(nil), t.branches...)
}

// Schema returns the frozen schema, or the schema the current branches would produce.
func (t *Tree) Schema() *arrow.Schema {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.schema != nil {
		return t.schema
	}
	return t.buildSchema()
}

func (t *Tree) buildSchema() *arrow.Schema {
	fields := make([]arrow.Field, len(t.branches))
	for i, b := range t.branches {
		fields[i] = arrow.Field{
			Name:     b.name,
			Type:     b.kind.arrowType(),
			Nullable: false,
			Metadata: arrow.NewMetadata([]string{MetaTitle}, []string{b.title}),
		}
	}
	meta := arrow.NewMetadata(
		[]string{MetaTreeName, MetaTreeTitle},
		[]string{t.name, t.title},
	)
	return arrow.NewSchema(fields, &meta)
}

func (t *Tree) freezeLocked() {
	if t.schema != nil {
		return
	}
	t.schema = t.buildSchema()
	t.builder = array.NewRecordBuilder(t.opts.Allocator, t.schema)
	t.builder.Reserve(t.opts.BatchSize)
}

// Fill appends the current values of every bound variable as one row.
func (t *Tree) Fill(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errors.New(errors.CodeWriteFailed, "tree is closed").WithContext("tree", t.name)
	}
	if err := ctx.Err(); err != nil {
		return errors.ContextCanceled("fill "+t.name, err)
	}

	t.freezeLocked()

	for i, b := range t.branches {
		switch b.kind {
		case KindInt32:
			t.builder.Field(i).(*array.Int32Builder).Append(*b.i32)
		case KindFloat32List:
			lb := t.builder.Field(i).(*array.ListBuilder)
			lb.Append(true)
			if vals := *b.f32s; len(vals) > 0 {
				lb.ValueBuilder().(*array.Float32Builder).AppendValues(vals, nil)
			}
		case KindInt32List:
			lb := t.builder.Field(i).(*array.ListBuilder)
			lb.Append(true)
			if vals := *b.i32s; len(vals) > 0 {
				lb.ValueBuilder().(*array.Int32Builder).AppendValues(vals, nil)
			}
		}
	}

	t.pending++
	t.entries++

	if t.pending >= t.opts.BatchSize {
		return t.flushLocked(ctx)
	}
	return nil
}

// Entries returns the number of rows filled so far.
func (t *Tree) Entries() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries
}

// Flush writes any buffered rows to the sink.
func (t *Tree) Flush(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	if err := t.flushLocked(ctx); err != nil {
		return err
	}
	if t.sinkOpen {
		if err := t.sink.Flush(ctx); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "sink flush failed").WithContext("tree", t.name)
		}
	}
	return nil
}

func (t *Tree) openSinkLocked(ctx context.Context) error {
	if t.sinkOpen {
		return nil
	}
	if err := t.sink.Open(ctx, t.schema, t.opts.Sink); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to open sink").
			WithContext("tree", t.name).
			WithContext("path", t.opts.Sink.Path)
	}
	t.sinkOpen = true
	return nil
}

func (t *Tree) flushLocked(ctx context.Context) error {
	if t.pending == 0 {
		return nil
	}
	if err := t.openSinkLocked(ctx); err != nil {
		return err
	}

	rec := t.builder.NewRecord()
	defer rec.Release()
	t.pending = 0

	if err := t.sink.Write(ctx, rec); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to write batch").
			WithContext("tree", t.name).
			WithContext("rows", rec.NumRows())
	}
	return nil
}

// Close flushes buffered rows and finalizes the sink. A tree that was never
// filled still produces an empty table with the full schema.
func (t *Tree) Close(ctx context.Context) (*sinks.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, errors.New(errors.CodeWriteFailed, "tree already closed").WithContext("tree", t.name)
	}

	t.freezeLocked()
	defer t.releaseLocked()

	if err := t.flushLocked(ctx); err != nil {
		return nil, t.abortSinkLocked(err)
	}
	if err := t.openSinkLocked(ctx); err != nil {
		return nil, err
	}

	res, err := t.sink.Close(ctx)
	if err != nil {
		return nil, t.abortSinkLocked(
			errors.Wrap(err, errors.CodeWriteFailed, "failed to close sink").WithContext("tree", t.name))
	}
	return res, nil
}

// abortSinkLocked aborts the sink after cause and returns cause joined with any abort failure.
func (t *Tree) abortSinkLocked(cause error) error {
	var errs errors.MultiError
	errs.Add(cause)
	if err := t.sink.Abort(); err != nil {
		errs.Add(errors.Wrap(err, errors.CodeWriteFailed, "failed to abort sink").WithContext("tree", t.name))
	}
	return errs.Combined()
}

// Abort discards buffered rows and everything already written to the sink.
func (t *Tree) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	defer t.releaseLocked()

	if t.sinkOpen {
		return t.sink.Abort()
	}
	return nil
}

func (t *Tree) releaseLocked() {
	if t.builder != nil {
		t.builder.Release()
		t.builder = nil
	}
	t.closed = true
}
