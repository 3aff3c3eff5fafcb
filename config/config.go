// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "mcplaunch.yaml"

// ErrNoModulePath is returned when no source configures the module path.
var ErrNoModulePath = errors.New("module.path is required: set it in the config file, MCPLAUNCH_MODULE_PATH, or --module")

// Config is the root configuration structure.
type Config struct {
	Module  ModuleConfig  `yaml:"module"`
	Launch  LaunchConfig  `yaml:"launch"`
	History HistoryConfig `yaml:"history"`
	Status  StatusConfig  `yaml:"status"`
	Logging LoggingConfig `yaml:"logging"`
}

// ModuleConfig describes the external server module.
type ModuleConfig struct {
	Path         string            `yaml:"path"`    // package directory, script, or executable
	Name         string            `yaml:"name"`    // display name (default: package.json name or base of path)
	Runtime      string            `yaml:"runtime"` // interpreter override (default: by extension)
	Args         []string          `yaml:"args"`
	Env          map[string]string `yaml:"env"`
	Dir          string            `yaml:"dir"`
	StartupGrace time.Duration     `yaml:"startup_grace"` // load window for modules that cannot report their own load
}

// LaunchConfig configures what happens after the module loads.
type LaunchConfig struct {
	Wait            bool          `yaml:"wait"` // stay attached to the module until it exits
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	DetachLog       string        `yaml:"detach_log"` // module output file when not waiting
}

// HistoryConfig configures the launch history database.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// StatusConfig configures the health and metrics HTTP server.
type StatusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	MetricsPath string `yaml:"metrics_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json", "console", or "auto"
}

// Override mutates a loaded config before defaults and validation run.
// Overrides always win over the file and the environment.
type Override func(*Config)

// WithModulePath overrides module.path when p is non-empty.
func WithModulePath(p string) Override {
	return func(cfg *Config) {
		if p != "" {
			cfg.Module.Path = p
		}
	}
}

// Default returns a config with every default applied and no module path.
func Default() *Config {
	return &Config{
		Module: ModuleConfig{
			StartupGrace: 2 * time.Second,
		},
		Launch: LaunchConfig{
			Wait:            true,
			ShutdownTimeout: 10 * time.Second,
			DetachLog:       "mcplaunch-module.log",
		},
		History: HistoryConfig{
			DSN: "mcplaunch.db",
		},
		Status: StatusConfig{
			Addr:        "127.0.0.1:9464",
			MetricsPath: "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "auto",
		},
	}
}

// Load reads configuration from a YAML file.
func Load(path string, overrides ...Override) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return finish(cfg, overrides)
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	MCPLAUNCH_MODULE_PATH       - Module path (required)
//	MCPLAUNCH_MODULE_NAME       - Display name used in messages
//	MCPLAUNCH_MODULE_RUNTIME    - Interpreter override (node, python3, ...)
//	MCPLAUNCH_MODULE_ARGS       - Extra module arguments, space separated
//	MCPLAUNCH_MODULE_DIR        - Module working directory
//	MCPLAUNCH_STARTUP_GRACE     - Load observation window (default: 2s)
//	MCPLAUNCH_WAIT              - Stay attached to the module (default: true)
//	MCPLAUNCH_SHUTDOWN_TIMEOUT  - Time to wait after forwarding a signal (default: 10s)
//	MCPLAUNCH_DETACH_LOG        - Module output file when not waiting (default: mcplaunch-module.log)
//	MCPLAUNCH_HISTORY_ENABLED   - Record attempts in SQLite (default: false)
//	MCPLAUNCH_HISTORY_DSN       - History database path (default: mcplaunch.db)
//	MCPLAUNCH_STATUS_ENABLED    - Serve health and metrics (default: false)
//	MCPLAUNCH_STATUS_ADDR       - Status server address (default: 127.0.0.1:9464)
//	MCPLAUNCH_LOG_LEVEL         - Log level: debug, info, warn, error (default: warn)
//	MCPLAUNCH_LOG_FORMAT        - Log format: json, console, auto (default: auto)
func LoadFromEnv(overrides ...Override) (*Config, error) {
	return finish(Default(), overrides)
}

// LoadWithFallback loads from file when it exists and from the environment
// otherwise.
func LoadWithFallback(path string, overrides ...Override) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path, overrides...)
		}
	}
	return LoadFromEnv(overrides...)
}

// HasEnvConfig returns true if the module path is set in the environment.
func HasEnvConfig() bool {
	return os.Getenv("MCPLAUNCH_MODULE_PATH") != ""
}

func finish(cfg *Config, overrides []Override) (*Config, error) {
	applyEnvOverrides(cfg)
	for _, o := range overrides {
		o(cfg)
	}
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies MCPLAUNCH_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Module configuration
	if v := os.Getenv("MCPLAUNCH_MODULE_PATH"); v != "" {
		cfg.Module.Path = v
	}
	if v := os.Getenv("MCPLAUNCH_MODULE_NAME"); v != "" {
		cfg.Module.Name = v
	}
	if v := os.Getenv("MCPLAUNCH_MODULE_RUNTIME"); v != "" {
		cfg.Module.Runtime = v
	}
	if v := os.Getenv("MCPLAUNCH_MODULE_ARGS"); v != "" {
		cfg.Module.Args = strings.Fields(v)
	}
	if v := os.Getenv("MCPLAUNCH_MODULE_DIR"); v != "" {
		cfg.Module.Dir = v
	}
	if v := os.Getenv("MCPLAUNCH_STARTUP_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Module.StartupGrace = d
		}
	}

	// Launch configuration
	if v := os.Getenv("MCPLAUNCH_WAIT"); v != "" {
		cfg.Launch.Wait = parseBool(v)
	}
	if v := os.Getenv("MCPLAUNCH_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Launch.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("MCPLAUNCH_DETACH_LOG"); v != "" {
		cfg.Launch.DetachLog = v
	}

	// History configuration
	if v := os.Getenv("MCPLAUNCH_HISTORY_ENABLED"); v != "" {
		cfg.History.Enabled = parseBool(v)
	}
	if v := os.Getenv("MCPLAUNCH_HISTORY_DSN"); v != "" {
		cfg.History.DSN = v
	}

	// Status configuration
	if v := os.Getenv("MCPLAUNCH_STATUS_ENABLED"); v != "" {
		cfg.Status.Enabled = parseBool(v)
	}
	if v := os.Getenv("MCPLAUNCH_STATUS_ADDR"); v != "" {
		cfg.Status.Addr = v
	}

	// Logging configuration
	if v := os.Getenv("MCPLAUNCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MCPLAUNCH_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	d := Default()

	if cfg.Launch.ShutdownTimeout == 0 {
		cfg.Launch.ShutdownTimeout = d.Launch.ShutdownTimeout
	}
	if cfg.Launch.DetachLog == "" {
		cfg.Launch.DetachLog = d.Launch.DetachLog
	}
	if cfg.History.DSN == "" {
		cfg.History.DSN = d.History.DSN
	}
	if cfg.Status.Addr == "" {
		cfg.Status.Addr = d.Status.Addr
	}
	if cfg.Status.MetricsPath == "" {
		cfg.Status.MetricsPath = d.Status.MetricsPath
	}
	if !strings.HasPrefix(cfg.Status.MetricsPath, "/") {
		cfg.Status.MetricsPath = "/" + cfg.Status.MetricsPath
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
}

// Validate checks the config for values the launcher cannot run with.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.Module.Path) == "" {
		return ErrNoModulePath
	}
	if cfg.Module.StartupGrace < 0 {
		return fmt.Errorf("module.startup_grace must not be negative, got %s", cfg.Module.StartupGrace)
	}
	if cfg.Launch.ShutdownTimeout < 0 {
		return fmt.Errorf("launch.shutdown_timeout must not be negative, got %s", cfg.Launch.ShutdownTimeout)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, got %q", cfg.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true, "auto": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, console, auto, got %q", cfg.Logging.Format)
	}

	if cfg.History.Enabled && cfg.History.DSN == "" {
		return fmt.Errorf("history.dsn is required when history is enabled")
	}
	if cfg.Status.Enabled && cfg.Status.Addr == "" {
		return fmt.Errorf("status.addr is required when status is enabled")
	}

	return nil
}
