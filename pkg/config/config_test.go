package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/physobj/physobj/pkg/errors"
)

func writeYAML(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestManager_Layering(t *testing.T) {
	dir := t.TempDir()
	user := writeYAML(t, dir, "user.yaml", `
output:
  compression: zstd
  batch_size: 512
logging:
  level: debug
`)
	project := writeYAML(t, dir, "project.yaml", `
output:
  batch_size: 2048
checkpoint:
  ttl: 1h
`)
	job := writeYAML(t, dir, "job.yaml", `
process:
  max_events: 100
source:
  files: [a.jsonl, b.slcio]
  aliases:
    genParticles: MCParticlesSkimmed
output:
  path: out.parquet
  metadata:
    campaign: test
analyzers:
  - label: gen
    plugin: GenParticleAnalyzer
    params:
      src: genParticles
`)

	m := NewManagerWithPaths(user, filepath.Join(dir, "missing.yaml"), project)
	if err := m.Load(job); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := m.Get()

	if cfg.Output.Compression != "zstd" {
		t.Errorf("compression = %s, want zstd from user file", cfg.Output.Compression)
	}
	if cfg.Output.BatchSize != 2048 {
		t.Errorf("batch_size = %d, want project override 2048", cfg.Output.BatchSize)
	}
	if cfg.Process.MaxEvents != 100 || cfg.Process.ReportEvery != 1000 {
		t.Errorf("unexpected process config %+v", cfg.Process)
	}
	if cfg.Checkpoint.TTL != time.Hour {
		t.Errorf("ttl = %s, want 1h", cfg.Checkpoint.TTL)
	}
	if cfg.Source.Aliases["genParticles"] != "MCParticlesSkimmed" {
		t.Errorf("aliases = %v", cfg.Source.Aliases)
	}
	if len(cfg.Analyzers) != 1 || cfg.Analyzers[0].Label != "gen" || cfg.Analyzers[0].Params["src"] != "genParticles" {
		t.Errorf("analyzers = %+v", cfg.Analyzers)
	}
	if cfg.Output.Metadata["campaign"] != "test" {
		t.Errorf("metadata = %v", cfg.Output.Metadata)
	}
	if got := m.GetPaths(); len(got) != 3 {
		t.Errorf("Expected 3 loaded paths, got %v", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestManager_EnvOverrides(t *testing.T) {
	t.Setenv("PHYSOBJ_OUTPUT", "env.parquet")
	t.Setenv("PHYSOBJ_COMPRESSION", "lz4")
	t.Setenv("PHYSOBJ_LOG_LEVEL", "warn")
	t.Setenv("PHYSOBJ_REDIS_ADDR", "localhost:6379")
	t.Setenv("PHYSOBJ_OTLP_ENDPOINT", "collector:4317")

	dir := t.TempDir()
	job := writeYAML(t, dir, "job.yaml", "output:\n  path: file.parquet\n")

	m := NewManagerWithPaths()
	if err := m.Load(job); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := m.Get()

	if cfg.Output.Path != "env.parquet" {
		t.Errorf("path = %s, env should win over the job file", cfg.Output.Path)
	}
	if cfg.Output.Compression != "lz4" || cfg.Logging.Level != "warn" {
		t.Errorf("unexpected %+v / %+v", cfg.Output, cfg.Logging)
	}
	if cfg.Checkpoint.Backend != "redis" || cfg.Checkpoint.RedisAddr != "localhost:6379" {
		t.Errorf("unexpected checkpoint %+v", cfg.Checkpoint)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint != "collector:4317" {
		t.Errorf("unexpected telemetry %+v", cfg.Telemetry)
	}
}

func TestManager_Errors(t *testing.T) {
	dir := t.TempDir()

	m := NewManagerWithPaths()
	if err := m.Load(filepath.Join(dir, "nope.yaml")); !errors.IsCode(err, errors.CodeInputNotFound) {
		t.Errorf("Expected input not found, got %v", err)
	}

	bad := writeYAML(t, dir, "bad.yaml", "output: [unclosed\n")
	if err := m.Load(bad); !errors.IsCode(err, errors.CodeInvalidFormat) {
		t.Errorf("Expected invalid format, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"compression", func(c *Config) { c.Output.Compression = "xz" }, "compression"},
		{"format", func(c *Config) { c.Output.Format = "root" }, "format"},
		{"upload", func(c *Config) { c.Output.Upload = "gs://bucket" }, "upload"},
		{"no analyzers", func(c *Config) { c.Analyzers = nil }, "no analyzers"},
		{"duplicate label", func(c *Config) { c.Analyzers = append(c.Analyzers, c.Analyzers[0]) }, "duplicate"},
		{"redis without addr", func(c *Config) { c.Checkpoint.Backend = "redis" }, "redis_addr"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "job.yaml")
	cfg := Default()
	cfg.Output.Path = "saved.parquet"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	m := NewManagerWithPaths()
	if err := m.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get().Output.Path != "saved.parquet" {
		t.Errorf("path = %s after round trip", m.Get().Output.Path)
	}
}
