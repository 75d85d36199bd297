package framework

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/physobj/physobj/pkg/errors"
	"github.com/physobj/physobj/pkg/event"
	"github.com/physobj/physobj/pkg/output"
	"github.com/physobj/physobj/pkg/sources"
)

// Options controls an EventProcessor.
type Options struct {
	// MaxEvents stops after this many processed events; -1 processes all.
	MaxEvents int64

	// SkipEvents drops this many events from the start of the input.
	SkipEvents int64

	// ReportEvery logs progress and calls OnProgress every N processed events.
	ReportEvery int64

	// QueueSize bounds the channel between the source and the processor.
	QueueSize int

	// OnProgress receives a snapshot of the report while running and once at the end.
	OnProgress func(Report)

	Logger *zap.Logger
	Tracer trace.Tracer
}

// DefaultOptions returns options that process every event.
func DefaultOptions() Options {
	return Options{
		MaxEvents:   -1,
		ReportEvery: 1000,
		QueueSize:   256,
	}
}

// Report summarizes a job.
type Report struct {
	EventsRead       int64
	EventsProcessed  int64
	EventsSkipped    int64
	Runs             int
	LuminosityBlocks int
	Files            []output.File
	Duration         time.Duration
}

// Rows returns the rows written per tree.
func (r Report) Rows() map[string]int64 {
	rows := make(map[string]int64, len(r.Files))
	for _, f := range r.Files {
		rows[f.Tree] = f.Result.RowsWritten
	}
	return rows
}

// EventsPerSecond returns the processing rate.
func (r Report) EventsPerSecond() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.EventsProcessed) / r.Duration.Seconds()
}

// EventProcessor drives analyzers over a source.
type EventProcessor struct {
	source  sources.Source
	modules []Module
	fs      *output.Service
	opts    Options
	logger  *zap.Logger
	tracer  trace.Tracer

	// current scope
	open bool
	run  uint32
	lumi uint32
}

// NewEventProcessor creates a processor. fs is closed by Run.
func NewEventProcessor(src sources.Source, fs *output.Service, modules []Module, opts Options) *EventProcessor {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/physobj/physobj/pkg/framework")
	}
	return &EventProcessor{
		source:  src,
		modules: modules,
		fs:      fs,
		opts:    opts,
		logger:  opts.Logger,
		tracer:  opts.Tracer,
	}
}

// Run processes the whole job. The file service is closed on success and
// aborted on failure, so a failed job publishes no output.
func (p *EventProcessor) Run(ctx context.Context) (rep *Report, err error) {
	start := time.Now()
	rep = &Report{}

	ctx, span := p.tracer.Start(ctx, "physobj.job",
		trace.WithAttributes(
			attribute.String("physobj.source", p.source.Name()),
			attribute.Int("physobj.modules", len(p.modules))))
	defer span.End()

	p.logger.Info("job started",
		zap.String("source", p.source.Name()),
		zap.Int("modules", len(p.modules)),
		zap.Int64("max_events", p.opts.MaxEvents),
		zap.Int64("skip_events", p.opts.SkipEvents))

	defer func() {
		if err != nil {
			if aerr := p.fs.Abort(); aerr != nil {
				p.logger.Warn("abort failed", zap.Error(aerr))
			}
		} else {
			files, cerr := p.fs.Close(ctx)
			rep.Files = files
			err = cerr
		}
		rep.Duration = time.Since(start)

		span.SetAttributes(
			attribute.Int64("physobj.events.processed", rep.EventsProcessed),
			attribute.Int("physobj.runs", rep.Runs))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.Error("job failed", zap.Error(err), zap.Int64("events", rep.EventsProcessed))
			return
		}
		p.logger.Info("job finished",
			zap.Int64("events", rep.EventsProcessed),
			zap.Int("runs", rep.Runs),
			zap.Int("lumis", rep.LuminosityBlocks),
			zap.Duration("duration", rep.Duration))
		if p.opts.OnProgress != nil {
			p.opts.OnProgress(*rep)
		}
	}()

	for _, m := range p.modules {
		if err := p.call(m, "beginJob", func() error { return m.Analyzer.BeginJob(ctx) }); err != nil {
			return rep, err
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan *event.Event, p.opts.QueueSize)
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		defer close(events)
		return p.source.Events(gctx, events)
	})

	// Hooks get loopCtx so a failing producer cannot cancel an event mid-analysis.
	stopped, loopErr := p.loop(loopCtx, gctx.Done(), events, rep)
	cancel()
	srcErr := g.Wait()

	// the producer is canceled on purpose when MaxEvents is reached
	srcFailed := srcErr != nil && !(stopped && stderrors.Is(srcErr, context.Canceled))
	switch {
	case ctx.Err() != nil:
		return rep, errors.ContextCanceled("process events", ctx.Err())
	case srcFailed && (loopErr == nil || errors.IsCode(loopErr, errors.CodeContextCanceled)):
		return rep, srcErr
	case loopErr != nil:
		return rep, loopErr
	}

	if err := p.closeScopes(ctx); err != nil {
		return rep, err
	}
	for _, m := range p.modules {
		if err := p.call(m, "endJob", func() error { return m.Analyzer.EndJob(ctx) }); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// loop consumes events in order until the input ends, MaxEvents is reached,
// or done is closed. Hooks run with ctx. stopped reports an early stop on MaxEvents.
func (p *EventProcessor) loop(ctx context.Context, done <-chan struct{}, events <-chan *event.Event, rep *Report) (stopped bool, err error) {
	for {
		if p.opts.MaxEvents >= 0 && rep.EventsProcessed >= p.opts.MaxEvents {
			return true, nil
		}

		var (
			evt *event.Event
			ok  bool
		)
		select {
		case <-done:
			return false, nil
		case evt, ok = <-events:
		}
		if !ok {
			return false, nil
		}

		rep.EventsRead++
		if rep.EventsRead <= p.opts.SkipEvents {
			rep.EventsSkipped++
			continue
		}

		if err := p.transition(ctx, evt.ID, rep); err != nil {
			return false, err
		}
		for _, m := range p.modules {
			if err := p.call(m, "analyze", func() error { return m.Analyzer.Analyze(ctx, evt) }); err != nil {
				var coded *errors.Error
				if stderrors.As(err, &coded) {
					coded.WithContext("event", evt.ID.String())
				}
				return false, err
			}
		}
		rep.EventsProcessed++

		if p.opts.ReportEvery > 0 && rep.EventsProcessed%p.opts.ReportEvery == 0 {
			p.logger.Info("progress",
				zap.Int64("events", rep.EventsProcessed),
				zap.String("last", evt.ID.String()))
			if p.opts.OnProgress != nil {
				p.opts.OnProgress(*rep)
			}
		}
	}
}

// transition emits the end and begin hooks needed to move into id's scope.
func (p *EventProcessor) transition(ctx context.Context, id event.ID, rep *Report) error {
	if p.open && p.run == id.Run && p.lumi == id.LuminosityBlock {
		return nil
	}

	newRun := !p.open || p.run != id.Run
	if p.open {
		if err := p.endLumi(ctx); err != nil {
			return err
		}
		if newRun {
			if err := p.endRun(ctx); err != nil {
				return err
			}
		}
	}

	if newRun {
		run := Run{Number: id.Run}
		p.logger.Debug("begin run", zap.Uint32("run", id.Run))
		trace.SpanFromContext(ctx).AddEvent("beginRun", trace.WithAttributes(attribute.Int64("run", int64(id.Run))))
		for _, m := range p.modules {
			if err := p.call(m, "beginRun", func() error { return m.Analyzer.BeginRun(ctx, run) }); err != nil {
				return err
			}
		}
		rep.Runs++
	}

	lumi := LuminosityBlock{Run: id.Run, Number: id.LuminosityBlock}
	p.logger.Debug("begin luminosity block", zap.Stringer("lumi", lumi))
	for _, m := range p.modules {
		if err := p.call(m, "beginLuminosityBlock", func() error { return m.Analyzer.BeginLuminosityBlock(ctx, lumi) }); err != nil {
			return err
		}
	}
	rep.LuminosityBlocks++

	p.open, p.run, p.lumi = true, id.Run, id.LuminosityBlock
	return nil
}

func (p *EventProcessor) endLumi(ctx context.Context) error {
	lumi := LuminosityBlock{Run: p.run, Number: p.lumi}
	p.logger.Debug("end luminosity block", zap.Stringer("lumi", lumi))
	for _, m := range p.modules {
		if err := p.call(m, "endLuminosityBlock", func() error { return m.Analyzer.EndLuminosityBlock(ctx, lumi) }); err != nil {
			return err
		}
	}
	return nil
}

func (p *EventProcessor) endRun(ctx context.Context) error {
	run := Run{Number: p.run}
	p.logger.Debug("end run", zap.Uint32("run", p.run))
	for _, m := range p.modules {
		if err := p.call(m, "endRun", func() error { return m.Analyzer.EndRun(ctx, run) }); err != nil {
			return err
		}
	}
	return nil
}

// closeScopes ends the open luminosity block and run, if any.
func (p *EventProcessor) closeScopes(ctx context.Context) error {
	if !p.open {
		return nil
	}
	if err := p.endLumi(ctx); err != nil {
		return err
	}
	if err := p.endRun(ctx); err != nil {
		return err
	}
	p.open = false
	return nil
}

// call runs one hook of m and converts failures and panics into coded errors.
func (p *EventProcessor) call(m Module, hook string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.CodePanic, fmt.Sprintf("panic in %s: %v", hook, r)).
				WithContext("module", m.Label).
				WithContext("plugin", m.Plugin)
		}
	}()

	if ferr := fn(); ferr != nil {
		var coded *errors.Error
		if stderrors.As(ferr, &coded) {
			return fmt.Errorf("%s %s: %w", m.Label, hook, ferr)
		}
		return errors.Wrapf(ferr, errors.CodeAnalyzeFailed, "%s failed", hook).
			WithContext("module", m.Label)
	}
	return nil
}
