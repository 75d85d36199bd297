package main

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/physobj/physobj/pkg/checkpoint"
	"github.com/physobj/physobj/pkg/errors"
	"github.com/physobj/physobj/pkg/framework"
	"github.com/physobj/physobj/pkg/logging"
	"github.com/physobj/physobj/pkg/output"
	"github.com/physobj/physobj/pkg/sinks"
	"github.com/physobj/physobj/pkg/sources"
	"github.com/physobj/physobj/pkg/tui"
)

// lockTTL bounds how long a crashed worker can block a job in Redis.
const lockTTL = 6 * time.Hour

// runJob processes inputs into outPath. It returns a nil report when the job
// was skipped because its checkpoint is already complete.
func (a *app) runJob(ctx context.Context, inputs []string, outPath string) (*framework.Report, error) {
	cfg := a.cfg
	logger := a.logger.With(zap.String("output", outPath))
	jobKey := checkpoint.JobKey(inputs, outPath)

	if !a.force {
		if cp, err := a.backend.FindByJob(ctx, jobKey); err == nil && cp.IsComplete() {
			completed := cp.UpdatedAt
			if cp.CompletedAt != nil {
				completed = *cp.CompletedAt
			}
			logger.Info("job already complete", zap.String("job", jobKey), zap.String("checkpoint", cp.ID))
			tui.PrintSkipped(a.stdout, outPath, completed)
			return nil, nil
		}
	}

	if rb, ok := a.backend.(*checkpoint.RedisBackend); ok {
		lock, err := rb.AcquireLock(ctx, jobKey, a.owner, lockTTL)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("lock release failed", zap.Error(err))
			}
		}()
	}

	src, err := sources.OpenAll(inputs, sources.Options{
		Aliases: cfg.Source.Aliases,
		Logger:  logging.Named(a.logger, "source"),
	})
	if err != nil {
		return nil, err
	}
	defer src.Close()

	compression, err := sinks.ParseCompression(cfg.Output.Compression)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationFailed, "invalid compression")
	}

	fs, err := output.Open(ctx, output.Config{
		Path:        outPath,
		Format:      cfg.Output.Format,
		Compression: compression,
		BatchSize:   cfg.Output.BatchSize,
		Metadata:    a.metadata(inputs),
		Uploader:    a.uploader,
		Logger:      logging.Named(a.logger, "output"),
	})
	if err != nil {
		return nil, err
	}

	modules := make([]framework.Module, 0, len(cfg.Analyzers))
	for _, ac := range cfg.Analyzers {
		m, err := framework.Default().Create(ac.Label, ac.Plugin, framework.ParameterSet(ac.Params), fs)
		if err != nil {
			fs.Abort()
			return nil, err
		}
		modules = append(modules, m)
	}

	tracker := checkpoint.Start(ctx, a.backend, inputs, outPath, logging.Named(a.logger, "checkpoint"))

	total := int64(-1)
	if cfg.Process.MaxEvents > 0 {
		total = cfg.Process.MaxEvents + cfg.Process.SkipEvents
	}
	bar := tui.NewProgress(a.stderr, total)

	opts := framework.DefaultOptions()
	opts.MaxEvents = cfg.Process.MaxEvents
	opts.SkipEvents = cfg.Process.SkipEvents
	if cfg.Process.ReportEvery > 0 {
		opts.ReportEvery = cfg.Process.ReportEvery
	}
	opts.Logger = logging.Named(a.logger, "framework")
	opts.OnProgress = func(r framework.Report) {
		bar.Update(r)
		tracker.Progress(ctx, r.EventsProcessed)
	}

	logger.Info("job started",
		zap.String("process", cfg.Process.Name),
		zap.Strings("inputs", inputs),
		zap.String("checkpoint", tracker.Checkpoint().ID))

	rep, err := framework.NewEventProcessor(src, fs, modules, opts).Run(ctx)
	bar.Finish()
	if err != nil {
		tracker.Fail(context.WithoutCancel(ctx), err)
		return rep, err
	}

	var rows int64
	for _, n := range rep.Rows() {
		rows += n
	}
	tracker.Complete(ctx, rep.EventsProcessed, rows)
	return rep, nil
}

// metadata is attached to every output file footer.
func (a *app) metadata(inputs []string) map[string]string {
	md := map[string]string{
		"physobj.version": version,
		"physobj.process": a.cfg.Process.Name,
		"physobj.inputs":  strings.Join(inputs, ","),
	}
	for k, v := range a.cfg.Output.Metadata {
		md[k] = v
	}
	return md
}

// outputFor maps an input file to its output path in dir.
func outputFor(dir, input, format string) string {
	base := filepath.Base(input)
	base = strings.TrimSuffix(base, ".gz")
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, base+sinks.Extension(format))
}
