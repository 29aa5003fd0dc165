// Package daemon manages the convoy runtime wiring and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	Hooks     HooksConfig     `toml:"hooks"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Gate      GateConfig      `toml:"gate"`
	Checkers  CheckersConfig  `toml:"checkers"`
	Worker    WorkerConfig    `toml:"worker"`
	API       APIConfig       `toml:"api"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// HooksConfig locates the shared hook tree.
type HooksConfig struct {
	Root       string `toml:"root"`
	StagingTTL string `toml:"staging_ttl"`
	Retention  string `toml:"retention"` // age after which complete hooks are cleaned
}

// LedgerConfig locates the ledger database.
type LedgerConfig struct {
	Dir string `toml:"dir"`
}

// GateConfig controls admission control before dispatch.
type GateConfig struct {
	PolicyFile string `toml:"policy_file"`
	Skip       bool   `toml:"skip"`
}

// CheckersConfig locates CheckerSpec files.
type CheckersConfig struct {
	Dir string `toml:"dir"`
}

// WorkerConfig sets defaults for `convoy work`.
type WorkerConfig struct {
	Role    string `toml:"role"`
	Timeout string `toml:"timeout"`
}

// APIConfig controls the HTTP status server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
}

// TelemetryConfig controls metrics export.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := convoyHome()
	return Config{
		Hooks: HooksConfig{
			Root:       filepath.Join(homeDir, "hooks"),
			StagingTTL: "10m",
			Retention:  "168h",
		},
		Ledger: LedgerConfig{
			Dir: homeDir,
		},
		Gate: GateConfig{
			PolicyFile: filepath.Join(homeDir, "gate.yaml"),
		},
		Checkers: CheckersConfig{
			Dir: filepath.Join(homeDir, "checkers"),
		},
		Worker: WorkerConfig{
			Role:    "translator",
			Timeout: "30m",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 7420,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// LoadConfig reads config from $CONVOY_HOME/config.toml, falling back to
// defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile reads config from path over the defaults. A missing file
// yields the defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes the config to $CONVOY_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	for name, s := range map[string]string{
		"hooks.staging_ttl": c.Hooks.StagingTTL,
		"hooks.retention":   c.Hooks.Retention,
		"worker.timeout":    c.Worker.Timeout,
	} {
		if s == "" {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	if c.Hooks.Root == "" {
		return fmt.Errorf("hooks.root is required")
	}
	return nil
}

// StagingTTL returns hooks.staging_ttl as a duration.
func (c Config) StagingTTL() time.Duration { return parseDuration(c.Hooks.StagingTTL, 10*time.Minute) }

// Retention returns hooks.retention as a duration.
func (c Config) Retention() time.Duration { return parseDuration(c.Hooks.Retention, 7*24*time.Hour) }

// WorkerTimeout returns worker.timeout as a duration; zero means none.
func (c Config) WorkerTimeout() time.Duration { return parseDuration(c.Worker.Timeout, 0) }

// ConfigPath returns the location of config.toml.
func ConfigPath() string {
	return filepath.Join(convoyHome(), "config.toml")
}

// convoyHome returns the convoy data directory.
func convoyHome() string {
	if env := os.Getenv("CONVOY_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".convoy")
}

// Home is exported for use by other packages.
func Home() string {
	return convoyHome()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
