package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/physobj/physobj/pkg/errors"
	"github.com/physobj/physobj/pkg/framework"
	"github.com/physobj/physobj/pkg/inspect"
	"github.com/physobj/physobj/pkg/lifecycle"
	"github.com/physobj/physobj/pkg/tui"
	"github.com/physobj/physobj/pkg/watch"
)

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	inputs := args
	if len(inputs) == 0 {
		inputs = cfg.Source.Files
	}
	if len(inputs) == 0 {
		return errors.New(errors.CodeValidationFailed, "no input files (pass them as arguments or set source.files)")
	}

	mgr := lifecycle.NewManager(lifecycle.Config{})
	return mgr.Run(cmd.Context(), func(ctx context.Context) error {
		a, err := newApp(ctx, cfg, mgr)
		if err != nil {
			return err
		}
		tui.PrintHeader(a.stdout, version, inputs, cfg.Output.Path)

		rep, err := a.runJob(ctx, inputs, cfg.Output.Path)
		if err != nil {
			a.logger.Error("job failed", zap.Error(err))
			return err
		}
		if rep != nil {
			tui.PrintReport(a.stdout, rep)
		}
		return nil
	})
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	outDir := outputFile
	if outDir == "" {
		outDir = "."
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}

	mgr := lifecycle.NewManager(lifecycle.Config{})
	err = mgr.Run(cmd.Context(), func(ctx context.Context) error {
		a, err := newApp(ctx, cfg, mgr)
		if err != nil {
			return err
		}

		w, err := watch.New(args[0], watch.Options{
			Existing: watchExisting,
			Logger:   a.logger.Named("watch"),
			OnFile: func(ctx context.Context, path string) error {
				rep, err := a.runJob(ctx, []string{path}, outputFor(outDir, path, cfg.Output.Format))
				if err == nil && rep != nil {
					tui.PrintReport(a.stdout, rep)
				}
				return err
			},
			OnError: func(path string, err error) {
				tui.PrintError(a.stderr, fmt.Errorf("%s: %w", path, err))
			},
		})
		if err != nil {
			return err
		}

		a.logger.Info("watching", zap.String("dir", w.Dir()), zap.String("output_dir", outDir))
		return w.Run(ctx)
	})
	if err == context.Canceled {
		return nil
	}
	return err
}

func runInspect(cmd *cobra.Command, args []string) error {
	in, err := inspect.NewInspector()
	if err != nil {
		return err
	}
	defer in.Close()
	in.SetTopN(topN)

	s, err := in.Summarize(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	tui.PrintSummary(cmd.OutOrStdout(), s)
	if s.Mismatched > 0 {
		return errors.New(errors.CodeValidationFailed, "inconsistent particle lists").
			WithContext("rows", s.Mismatched)
	}
	return nil
}

func runPlugins(cmd *cobra.Command, args []string) error {
	reg := framework.Default()
	var plugins []framework.Plugin
	for _, name := range reg.Names() {
		if p, ok := reg.Lookup(name); ok {
			plugins = append(plugins, p)
		}
	}
	tui.PrintPlugins(cmd.OutOrStdout(), plugins)
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), cfg.String())
	return nil
}
