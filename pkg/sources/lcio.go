package sources

import (
	"context"
	"io"
	"math"
	"os"
	"sort"

	"go-hep.org/x/hep/fmom"
	"go-hep.org/x/hep/lcio"
	"go.uber.org/zap"

	"github.com/physobj/physobj/pkg/errors"
	"github.com/physobj/physobj/pkg/event"
)

// LCIOSource reads Monte Carlo particles from an LCIO file.
// LCIO has no luminosity blocks, so every event has lumi 0.
type LCIOSource struct {
	path   string
	opts   Options
	r      *lcio.Reader
	logger *zap.Logger
}

// NewLCIOSource opens an LCIO file.
func NewLCIOSource(path string, opts Options) (*LCIOSource, error) {
	opts = opts.withDefaults()

	if _, err := os.Stat(path); err != nil {
		return nil, errors.InputNotFound(path)
	}
	r, err := lcio.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidFormat, "could not open LCIO file").WithContext("path", path)
	}
	return &LCIOSource{path: path, opts: opts, r: r, logger: opts.Logger}, nil
}

func (s *LCIOSource) Name() string { return s.path }

func (s *LCIOSource) Events(ctx context.Context, out chan<- *event.Event) error {
	labels := make([]string, 0, len(s.opts.Aliases))
	for label := range s.opts.Aliases {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var n int64
	for s.r.Next() {
		n++
		lev := s.r.Event()
		if lev.RunNumber < 0 {
			return errors.New(errors.CodeInvalidFormat, "negative run number").
				WithContext("path", s.path).
				WithContext("record", n).
				WithContext("run", lev.RunNumber)
		}
		evt := event.New(event.ID{
			Run:   uint32(lev.RunNumber),
			Event: uint64(lev.EventNumber),
		})

		for _, label := range labels {
			raw := lev.Get(s.opts.Aliases[label])
			if raw == nil {
				continue
			}
			mc, ok := raw.(*lcio.McParticleContainer)
			if !ok {
				s.logger.Debug("collection is not MCParticle",
					zap.String("label", label),
					zap.String("collection", s.opts.Aliases[label]))
				evt.Put(label, nil)
				continue
			}
			evt.Put(label, convertMCParticles(mc.Particles))
		}

		if err := send(ctx, out, evt, s.path); err != nil {
			return err
		}
	}

	if err := s.r.Err(); err != nil && err != io.EOF {
		return errors.ParseError("lcio", n+1, err).WithContext("path", s.path)
	}
	s.logger.Debug("input exhausted", zap.String("path", s.path), zap.Int64("events", n))
	return nil
}

func convertMCParticles(parts []lcio.McParticle) event.GenParticleCollection {
	coll := make(event.GenParticleCollection, 0, len(parts))
	for i := range parts {
		p := &parts[i]
		px, py, pz := p.P[0], p.P[1], p.P[2]
		e := math.Sqrt(px*px + py*py + pz*pz + p.Mass*p.Mass)
		p4 := fmom.NewPxPyPzE(px, py, pz, e)

		coll = append(coll, event.GenParticle{
			Pt:     float32(p4.Pt()),
			Eta:    float32(p4.Eta()),
			Mass:   float32(p.Mass),
			Phi:    float32(p4.Phi()),
			PdgID:  p.PDG,
			Status: p.GenStatus,
		})
	}
	return coll
}

func (s *LCIOSource) Close() error {
	if s.r == nil {
		return nil
	}
	err := s.r.Close()
	s.r = nil
	return err
}
