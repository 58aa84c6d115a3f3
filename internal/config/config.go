// Package config loads shipyard configuration from a YAML file layered over
// defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/studentutu/shipyard/pkg/model"
)

// Config holds the full shipyard configuration: server, persistence, run
// policy, targets, and per-strategy settings.
type Config struct {
	Addr      string `yaml:"addr"`       // listen address (default ":8080")
	DBPath    string `yaml:"db_path"`    // SQLite database path, ":memory:" for testing
	LockPath  string `yaml:"lock_path"`  // exclusive run lock file
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json; empty picks by terminal

	// Strategy selects the distribution strategy for runs.
	Strategy string `yaml:"strategy"`

	// TickIntervalMS is the scheduler pump cadence in milliseconds.
	TickIntervalMS int `yaml:"tick_interval_ms"`

	// CancelExitCodes are process exit codes treated as cancellation
	// rather than failure.
	CancelExitCodes []int `yaml:"cancel_exit_codes"`

	Targets []model.Target `yaml:"targets"`

	Archive ArchiveConfig `yaml:"archive"`
	S3      S3Config      `yaml:"s3"`
	Command CommandConfig `yaml:"command"`
}

// ArchiveConfig configures the archive strategy.
type ArchiveConfig struct {
	Dir          string `yaml:"dir"`
	NameTemplate string `yaml:"name_template"`
}

// S3Config configures the s3 strategy. Credentials come from the default
// AWS config chain, not from this file.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// CommandConfig configures the command strategy.
type CommandConfig struct {
	Command           []string `yaml:"command"`
	AllowEmptyTargets bool     `yaml:"allow_empty_targets"`
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		Addr:            ":8080",
		DBPath:          "shipyard.db",
		LockPath:        "shipyard.lock",
		LogLevel:        "info",
		Strategy:        string(model.StrategyTypeArchive),
		TickIntervalMS:  50,
		CancelExitCodes: []int{137, 143},
	}
}

// Load reads the config file at path over the defaults. A missing file is
// not an error; the defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch model.StrategyType(c.Strategy) {
	case model.StrategyTypeArchive, model.StrategyTypeCommand:
	case model.StrategyTypeS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("strategy s3 requires s3.bucket")
		}
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}

	if c.TickIntervalMS <= 0 {
		return fmt.Errorf("tick_interval_ms must be positive")
	}

	seen := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		if t.ID == "" {
			return fmt.Errorf("target %d: id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("target %s: duplicate id", t.ID)
		}
		seen[t.ID] = true
		if len(t.BuildCommand) == 0 {
			return fmt.Errorf("target %s: build_command is required", t.ID)
		}
		if t.Artifact == "" {
			return fmt.Errorf("target %s: artifact is required", t.ID)
		}
	}
	return nil
}

// TickInterval returns the scheduler pump cadence as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}
