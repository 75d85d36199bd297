package main

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/physobj/physobj/pkg/checkpoint"
	"github.com/physobj/physobj/pkg/config"
	"github.com/physobj/physobj/pkg/lifecycle"
	"github.com/physobj/physobj/pkg/logging"
	"github.com/physobj/physobj/pkg/output"
	"github.com/physobj/physobj/pkg/storage/s3"
	"github.com/physobj/physobj/pkg/telemetry"
)

// app holds what every job of one invocation shares.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	backend  checkpoint.Backend
	uploader output.Uploader
	owner    string
	force    bool
	stdout   io.Writer
	stderr   io.Writer
}

// loadConfig layers defaults, config files, the job file, env and flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	mgr := config.NewManager()
	if err := mgr.Load(configFile); err != nil {
		return nil, err
	}
	cfg := mgr.Get()
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	changed := func(name string) bool {
		fl := f.Lookup(name)
		return fl != nil && fl.Changed
	}

	if changed("output") {
		cfg.Output.Path = outputFile
	}
	if changed("format") {
		cfg.Output.Format = formatFlag
	}
	if changed("compression") {
		cfg.Output.Compression = compressionFlag
	}
	if changed("batch-size") {
		cfg.Output.BatchSize = batchSize
	}
	if changed("max-events") {
		cfg.Process.MaxEvents = maxEvents
	}
	if changed("skip-events") {
		cfg.Process.SkipEvents = skipEvents
	}
	if changed("upload") {
		cfg.Output.Upload = uploadURL
	}
	if changed("checkpoint-dir") {
		cfg.Checkpoint.Backend = "local"
		cfg.Checkpoint.Dir = checkpointDir
	}
	if changed("redis") {
		cfg.Checkpoint.Backend = "redis"
		cfg.Checkpoint.RedisAddr = redisAddr
	}
	if verbose {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}
}

// newApp builds the shared services and registers their release with mgr.
func newApp(ctx context.Context, cfg *config.Config, mgr *lifecycle.Manager) (*app, error) {
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, err
	}
	mgr.OnShutdown("logger", func(context.Context) error {
		logger.Sync()
		return nil
	})

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, err
	}
	mgr.OnShutdown("telemetry", func(ctx context.Context) error { return shutdownTracing(ctx) })

	backend, err := openBackend(ctx, cfg.Checkpoint)
	if err != nil {
		return nil, err
	}
	mgr.OnShutdown("checkpoint", func(context.Context) error { return backend.Close() })

	a := &app{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		owner:   uuid.NewString(),
		force:   force,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}

	if cfg.Output.Upload != "" {
		s3cfg := s3.DefaultConfig()
		s3cfg.Logger = logging.Named(logger, "s3")
		client, err := s3.NewClient(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		uploader, err := s3.NewUploader(client, cfg.Output.Upload)
		if err != nil {
			return nil, err
		}
		a.uploader = uploader
	}

	logger.Debug("configured",
		zap.String("checkpoint_backend", backend.Name()),
		zap.Bool("telemetry", cfg.Telemetry.Enabled),
		zap.String("upload", cfg.Output.Upload))
	return a, nil
}

func openBackend(ctx context.Context, cfg config.CheckpointConfig) (checkpoint.Backend, error) {
	switch cfg.Backend {
	case "redis":
		rc := checkpoint.DefaultRedisConfig(cfg.RedisAddr)
		if cfg.Prefix != "" {
			rc.Prefix = cfg.Prefix
		}
		if cfg.TTL > 0 {
			rc.TTL = cfg.TTL
		}
		return checkpoint.NewRedisBackend(ctx, rc)
	case "none":
		return checkpoint.NopBackend{}, nil
	default:
		return checkpoint.NewLocalBackend(cfg.Dir)
	}
}
