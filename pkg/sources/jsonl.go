package sources

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/physobj/physobj/pkg/errors"
	"github.com/physobj/physobj/pkg/event"
)

// jsonlRecord is one line of a JSONL event file.
type jsonlRecord struct {
	Run      *uint32                    `json:"run"`
	Lumi     uint32                     `json:"lumi"`
	Event    *uint64                    `json:"event"`
	Products map[string]json.RawMessage `json:"products"`
}

// JSONLSource reads newline-delimited JSON events.
type JSONLSource struct {
	path   string
	opts   Options
	r      io.Reader
	closer []io.Closer
	logger *zap.Logger
}

// NewJSONLSource opens a JSONL file. Files ending in .gz are decompressed.
func NewJSONLSource(path string, opts Options) (*JSONLSource, error) {
	opts = opts.withDefaults()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.InputNotFound(path)
		}
		return nil, errors.Wrap(err, errors.CodeInputNotFound, "failed to open input").WithContext("path", path)
	}

	s := &JSONLSource{path: path, opts: opts, r: f, closer: []io.Closer{f}, logger: opts.Logger}
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, errors.CodeInvalidFormat, "invalid gzip stream").WithContext("path", path)
		}
		s.r = zr
		s.closer = append([]io.Closer{zr}, s.closer...)
	}
	return s, nil
}

// NewJSONLReader reads JSONL events from r. name is used in errors.
func NewJSONLReader(name string, r io.Reader, opts Options) *JSONLSource {
	opts = opts.withDefaults()
	return &JSONLSource{path: name, opts: opts, r: r, logger: opts.Logger}
}

func (s *JSONLSource) Name() string { return s.path }

func (s *JSONLSource) Events(ctx context.Context, out chan<- *event.Event) error {
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 64*1024), s.opts.MaxLineSize)

	var line int64
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		evt, err := decodeJSONLEvent(raw)
		if err != nil {
			return errors.ParseError("jsonl", line, err).WithContext("path", s.path)
		}
		if err := send(ctx, out, evt, s.path); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.ParseError("jsonl", line+1, err).WithContext("path", s.path)
	}

	s.logger.Debug("input exhausted", zap.String("path", s.path), zap.Int64("lines", line))
	return nil
}

func decodeJSONLEvent(raw []byte) (*event.Event, error) {
	var rec jsonlRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	if rec.Run == nil || rec.Event == nil {
		return nil, fmt.Errorf("missing run or event number")
	}

	evt := event.New(event.ID{Run: *rec.Run, LuminosityBlock: rec.Lumi, Event: *rec.Event})
	for label, product := range rec.Products {
		if bytes.Equal(bytes.TrimSpace(product), []byte("null")) {
			evt.Put(label, nil)
			continue
		}
		var coll event.GenParticleCollection
		if err := json.Unmarshal(product, &coll); err != nil {
			return nil, fmt.Errorf("product %q: %w", label, err)
		}
		if coll == nil {
			coll = event.GenParticleCollection{}
		}
		evt.Put(label, coll)
	}
	return evt, nil
}

func (s *JSONLSource) Close() error {
	var errs errors.MultiError
	for _, c := range s.closer {
		errs.Add(c.Close())
	}
	s.closer = nil
	return errs.Combined()
}
