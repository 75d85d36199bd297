// Package config provides hierarchical configuration management.
// Priority: defaults < user < project < job file < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/physobj/physobj/pkg/errors"
	"github.com/physobj/physobj/pkg/sinks"
)

// Config holds a physobj job configuration.
type Config struct {
	Version int `yaml:"version"`

	Process    ProcessConfig    `yaml:"process"`
	Source     SourceConfig     `yaml:"source"`
	Output     OutputConfig     `yaml:"output"`
	Analyzers  []AnalyzerConfig `yaml:"analyzers"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ProcessConfig controls the event loop.
type ProcessConfig struct {
	Name        string `yaml:"name"`
	MaxEvents   int64  `yaml:"max_events"` // -1 = all
	SkipEvents  int64  `yaml:"skip_events"`
	ReportEvery int64  `yaml:"report_every"`
}

// SourceConfig lists inputs.
type SourceConfig struct {
	Files   []string          `yaml:"files"`
	Aliases map[string]string `yaml:"aliases"` // event label -> input collection
}

// OutputConfig controls the written file.
type OutputConfig struct {
	Path        string            `yaml:"path"`
	Format      string            `yaml:"format"`      // parquet | arrow
	Compression string            `yaml:"compression"` // snappy | zstd | gzip | lz4 | brotli | none
	BatchSize   int               `yaml:"batch_size"`
	Upload      string            `yaml:"upload"` // s3://bucket/prefix
	Metadata    map[string]string `yaml:"metadata"`
}

// AnalyzerConfig declares one module.
type AnalyzerConfig struct {
	Label  string         `yaml:"label"`
	Plugin string         `yaml:"plugin"`
	Params map[string]any `yaml:"params"`
}

// CheckpointConfig selects the checkpoint backend.
type CheckpointConfig struct {
	Backend   string        `yaml:"backend"` // local | redis | none
	Dir       string        `yaml:"dir"`
	RedisAddr string        `yaml:"redis_addr"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// LoggingConfig for zap.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	physobjDir := filepath.Join(homeDir, ".physobj")

	return &Config{
		Version: 1,
		Process: ProcessConfig{
			Name:        "ANA",
			MaxEvents:   -1,
			ReportEvery: 1000,
		},
		Source: SourceConfig{
			Aliases: map[string]string{"genParticles": "MCParticle"},
		},
		Output: OutputConfig{
			Path:        "genparticles.parquet",
			Format:      sinks.FormatParquet,
			Compression: "snappy",
			BatchSize:   1024,
		},
		Analyzers: []AnalyzerConfig{
			{Label: "genParticles", Plugin: "GenParticleAnalyzer"},
		},
		Checkpoint: CheckpointConfig{
			Backend: "local",
			Dir:     filepath.Join(physobjDir, "checkpoints"),
			Prefix:  "physobj:jobs:",
			TTL:     7 * 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "physobj",
			Insecure:    true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu          sync.RWMutex
	config      *Config
	searchPaths []string
	paths       []string // Paths that were loaded
}

// NewManager creates a manager that searches the user and project config files.
func NewManager() *Manager {
	return &Manager{
		config:      Default(),
		searchPaths: defaultSearchPaths(),
	}
}

// NewManagerWithPaths creates a manager that searches only the given files.
func NewManagerWithPaths(paths ...string) *Manager {
	return &Manager{
		config:      Default(),
		searchPaths: paths,
	}
}

// defaultSearchPaths returns config file paths in priority order.
func defaultSearchPaths() []string {
	var paths []string

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".physobj", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".physobj.yaml"))
	}
	return paths
}

// Load resets to defaults and applies every search path, then jobFile if set,
// then the environment. Missing search paths are skipped; a missing job file is an error.
func (m *Manager) Load(jobFile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range m.searchPaths {
		if err := m.loadFile(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrap(err, errors.CodeInvalidFormat, "invalid config file").WithContext("path", path)
		}
		m.paths = append(m.paths, path)
	}

	if jobFile != "" {
		if err := m.loadFile(jobFile); err != nil {
			if os.IsNotExist(err) {
				return errors.InputNotFound(jobFile)
			}
			return errors.Wrap(err, errors.CodeInvalidFormat, "invalid job file").WithContext("path", jobFile)
		}
		m.paths = append(m.paths, jobFile)
	}

	m.loadEnv()
	m.config.Checkpoint.Dir = expandHome(m.config.Checkpoint.Dir)
	return nil
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	if src.Version != 0 {
		m.config.Version = src.Version
	}

	// Process
	if src.Process.Name != "" {
		m.config.Process.Name = src.Process.Name
	}
	if src.Process.MaxEvents != 0 {
		m.config.Process.MaxEvents = src.Process.MaxEvents
	}
	if src.Process.SkipEvents != 0 {
		m.config.Process.SkipEvents = src.Process.SkipEvents
	}
	if src.Process.ReportEvery != 0 {
		m.config.Process.ReportEvery = src.Process.ReportEvery
	}

	// Source
	if len(src.Source.Files) > 0 {
		m.config.Source.Files = src.Source.Files
	}
	for label, coll := range src.Source.Aliases {
		m.config.Source.Aliases[label] = coll
	}

	// Output
	if src.Output.Path != "" {
		m.config.Output.Path = src.Output.Path
	}
	if src.Output.Format != "" {
		m.config.Output.Format = src.Output.Format
	}
	if src.Output.Compression != "" {
		m.config.Output.Compression = src.Output.Compression
	}
	if src.Output.BatchSize != 0 {
		m.config.Output.BatchSize = src.Output.BatchSize
	}
	if src.Output.Upload != "" {
		m.config.Output.Upload = src.Output.Upload
	}
	if len(src.Output.Metadata) > 0 {
		if m.config.Output.Metadata == nil {
			m.config.Output.Metadata = make(map[string]string)
		}
		for k, v := range src.Output.Metadata {
			m.config.Output.Metadata[k] = v
		}
	}

	// Analyzers replace the whole list
	if len(src.Analyzers) > 0 {
		m.config.Analyzers = src.Analyzers
	}

	// Checkpoint
	if src.Checkpoint.Backend != "" {
		m.config.Checkpoint.Backend = src.Checkpoint.Backend
	}
	if src.Checkpoint.Dir != "" {
		m.config.Checkpoint.Dir = src.Checkpoint.Dir
	}
	if src.Checkpoint.RedisAddr != "" {
		m.config.Checkpoint.RedisAddr = src.Checkpoint.RedisAddr
	}
	if src.Checkpoint.Prefix != "" {
		m.config.Checkpoint.Prefix = src.Checkpoint.Prefix
	}
	if src.Checkpoint.TTL != 0 {
		m.config.Checkpoint.TTL = src.Checkpoint.TTL
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
	if src.Telemetry.ServiceName != "" {
		m.config.Telemetry.ServiceName = src.Telemetry.ServiceName
	}

	// Logging
	if src.Logging.Level != "" {
		m.config.Logging.Level = src.Logging.Level
	}
	if src.Logging.Development {
		m.config.Logging.Development = true
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("PHYSOBJ_OUTPUT"); v != "" {
		m.config.Output.Path = v
	}
	if v := os.Getenv("PHYSOBJ_COMPRESSION"); v != "" {
		m.config.Output.Compression = v
	}
	if v := os.Getenv("PHYSOBJ_LOG_LEVEL"); v != "" {
		m.config.Logging.Level = v
	}
	if v := os.Getenv("PHYSOBJ_REDIS_ADDR"); v != "" {
		m.config.Checkpoint.RedisAddr = v
		m.config.Checkpoint.Backend = "redis"
	}
	if v := os.Getenv("PHYSOBJ_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Endpoint = v
		m.config.Telemetry.Enabled = true
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Validate checks values that would otherwise fail deep inside a job.
func (c *Config) Validate() error {
	var errs errors.MultiError

	if _, err := sinks.ParseCompression(c.Output.Compression); err != nil {
		errs.Add(errors.Wrap(err, errors.CodeValidationFailed, "invalid output.compression"))
	}
	switch c.Output.Format {
	case sinks.FormatParquet, sinks.FormatArrow, sinks.FormatMemory, sinks.FormatNull:
	default:
		errs.Add(errors.New(errors.CodeValidationFailed, "invalid output.format").
			WithContext("format", c.Output.Format))
	}
	if c.Output.BatchSize < 0 {
		errs.Add(errors.New(errors.CodeValidationFailed, "output.batch_size must not be negative"))
	}
	if c.Output.Upload != "" && !strings.HasPrefix(c.Output.Upload, "s3://") {
		errs.Add(errors.New(errors.CodeValidationFailed, "output.upload must be an s3:// URL").
			WithContext("upload", c.Output.Upload))
	}

	if len(c.Analyzers) == 0 {
		errs.Add(errors.New(errors.CodeValidationFailed, "no analyzers configured"))
	}
	seen := make(map[string]bool)
	for i, a := range c.Analyzers {
		if a.Label == "" || a.Plugin == "" {
			errs.Add(errors.New(errors.CodeValidationFailed, "analyzer needs a label and a plugin").
				WithContext("index", i))
			continue
		}
		if seen[a.Label] {
			errs.Add(errors.New(errors.CodeValidationFailed, "duplicate analyzer label").
				WithContext("label", a.Label))
		}
		seen[a.Label] = true
	}

	switch c.Checkpoint.Backend {
	case "local", "none", "":
	case "redis":
		if c.Checkpoint.RedisAddr == "" {
			errs.Add(errors.New(errors.CodeValidationFailed, "checkpoint.redis_addr is required for the redis backend"))
		}
	default:
		errs.Add(errors.New(errors.CodeValidationFailed, "invalid checkpoint.backend").
			WithContext("backend", c.Checkpoint.Backend))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs.Add(errors.New(errors.CodeValidationFailed, "invalid logging.level").
			WithContext("level", c.Logging.Level))
	}

	return errs.Combined()
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// String is used by the config command.
func (c *Config) String() string {
	data, err := c.Marshal()
	if err != nil {
		return fmt.Sprintf("<invalid config: %v>", err)
	}
	return string(data)
}
