// Package config loads layered YAML configuration: built-in defaults, then
// the user file at ~/.config/goldenpath/config.yaml, then the project file
// goldenpath.yaml in the working directory. Later layers override earlier
// ones field by field.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the merged configuration for every goldenpath component.
type Config struct {
	// Environment gates behavior that differs between development, test,
	// and production. Defaults to development.
	Environment Environment `yaml:"environment"`

	// Database is the SQLite database path.
	Database DatabaseConfig `yaml:"database"`

	Capture   CaptureConfig   `yaml:"capture"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Launcher  LauncherConfig  `yaml:"launcher"`
	Harness   HarnessConfig   `yaml:"harness"`
}

// DatabaseConfig locates the event store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CaptureConfig drives the WebSocket capture client.
type CaptureConfig struct {
	// URL is the backend WebSocket endpoint to capture from.
	URL string `yaml:"url"`

	// Token, when set, is sent as a bearer Authorization header.
	Token string `yaml:"token"`

	// MaxRetries bounds reconnect attempts after a dropped connection.
	MaxRetries int `yaml:"max_retries"`

	// RecordPath, when set, tees captured envelopes to a JSONL transcript.
	RecordPath string `yaml:"record_path"`
}

// SimulatorConfig drives the transcript-serving WebSocket server.
type SimulatorConfig struct {
	// Addr is the listen address, e.g. "localhost:8089".
	Addr string `yaml:"addr"`

	// Delay is the pause between streamed events. Zero streams as fast as
	// the client reads.
	Delay Duration `yaml:"delay"`
}

// LauncherConfig drives service supervision and diagnostics.
type LauncherConfig struct {
	Services []ServiceConfig `yaml:"services"`

	// MaxRestarts caps crash-restart cycles per service.
	MaxRestarts int `yaml:"max_restarts"`

	// BackoffBase is the first restart delay; it doubles per consecutive
	// crash up to BackoffMax.
	BackoffBase Duration `yaml:"backoff_base"`
	BackoffMax  Duration `yaml:"backoff_max"`

	// MemoryThresholdPercent is the used-memory percentage above which
	// diagnostics report memory pressure.
	MemoryThresholdPercent float64 `yaml:"memory_threshold_percent"`

	// AllowDestructive permits process-killing recovery actions outside
	// the development environment.
	AllowDestructive bool `yaml:"allow_destructive"`
}

// ServiceConfig describes one supervised service.
type ServiceConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Dir     string            `yaml:"dir"`
	Env     map[string]string `yaml:"env"`

	// Port is the TCP port the service listens on. Used for readiness
	// probing and port-conflict diagnostics.
	Port int `yaml:"port"`

	// ReadyTimeout bounds the wait for the port to accept connections.
	ReadyTimeout Duration `yaml:"ready_timeout"`
}

// HarnessConfig locates scenario and golden files for the test command.
type HarnessConfig struct {
	ScenarioDir string `yaml:"scenario_dir"`
	GoldenDir   string `yaml:"golden_dir"`
}

// Default returns the built-in base layer.
func Default() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Database:    DatabaseConfig{Path: "goldenpath.db"},
		Capture: CaptureConfig{
			MaxRetries: 5,
		},
		Simulator: SimulatorConfig{
			Addr: "localhost:8089",
		},
		Launcher: LauncherConfig{
			MaxRestarts:            3,
			BackoffBase:            Duration(time.Second),
			BackoffMax:             Duration(30 * time.Second),
			MemoryThresholdPercent: 90,
		},
		Harness: HarnessConfig{
			ScenarioDir: "scenarios",
			GoldenDir:   filepath.Join("testdata", "golden"),
		},
	}
}

// Load merges defaults with the user and project layers. Missing layer files
// are skipped silently; unreadable or invalid ones are errors. Each applied
// layer is logged so a surprising effective config can be traced to its
// source.
func Load(logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := Default()

	var layers []string
	if home, err := os.UserHomeDir(); err == nil {
		layers = append(layers, filepath.Join(home, ".config", "goldenpath", "config.yaml"))
	}
	layers = append(layers, "goldenpath.yaml")

	for _, path := range layers {
		applied, err := applyLayer(cfg, path)
		if err != nil {
			return nil, fmt.Errorf("config layer %s: %w", path, err)
		}
		if applied {
			logger.Info("applied config layer", "path", path)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a single config file over the defaults, bypassing the
// layer search. Used by tests and the --config flag.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	applied, err := applyLayer(cfg, path)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if !applied {
		return nil, fmt.Errorf("config file %s: not found", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyLayer decodes one YAML file over cfg. Returns false when the file
// does not exist.
func applyLayer(cfg *Config, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return false, fmt.Errorf("parse: %w", err)
	}
	return true, nil
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if _, err := ParseEnvironment(string(c.Environment)); err != nil {
		return err
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Capture.MaxRetries < 0 {
		return fmt.Errorf("capture.max_retries must be non-negative")
	}
	if c.Simulator.Delay < 0 {
		return fmt.Errorf("simulator.delay must be non-negative")
	}
	if c.Launcher.MaxRestarts < 0 {
		return fmt.Errorf("launcher.max_restarts must be non-negative")
	}
	if c.Launcher.BackoffBase <= 0 {
		return fmt.Errorf("launcher.backoff_base must be positive")
	}
	if c.Launcher.BackoffMax < c.Launcher.BackoffBase {
		return fmt.Errorf("launcher.backoff_max must be >= backoff_base")
	}
	if c.Launcher.MemoryThresholdPercent <= 0 || c.Launcher.MemoryThresholdPercent > 100 {
		return fmt.Errorf("launcher.memory_threshold_percent must be in (0, 100]")
	}

	seen := make(map[string]bool, len(c.Launcher.Services))
	for i, svc := range c.Launcher.Services {
		if svc.Name == "" {
			return fmt.Errorf("launcher.services[%d]: name is required", i)
		}
		if seen[svc.Name] {
			return fmt.Errorf("launcher.services[%d]: duplicate service name %q", i, svc.Name)
		}
		seen[svc.Name] = true
		if svc.Command == "" {
			return fmt.Errorf("launcher.services[%d] (%s): command is required", i, svc.Name)
		}
		if svc.Port < 0 || svc.Port > 65535 {
			return fmt.Errorf("launcher.services[%d] (%s): port %d out of range", i, svc.Name, svc.Port)
		}
	}
	return nil
}

// DestructiveRecoveryAllowed reports whether recovery may kill processes:
// development always may, other environments need the explicit opt-in, and
// test never executes for real regardless (the launcher dry-runs there).
func (c *Config) DestructiveRecoveryAllowed() bool {
	return c.Environment.AllowsDestructiveRecovery() || c.Launcher.AllowDestructive
}
