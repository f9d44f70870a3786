// Package config loads and validates the chronicler configuration.
//
// DESIGN: All configuration comes from YAML files with ${VAR:-default}
// environment expansion. Validation happens at load time so a broken config
// fails at startup, never mid-run.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmforge/chronicler/external"
	"github.com/dmforge/chronicler/internal/combat"
	"github.com/dmforge/chronicler/internal/monitoring"
	"github.com/dmforge/chronicler/internal/pipeline"
	"github.com/dmforge/chronicler/internal/structural"
)

// Config is the root configuration for the compression pipeline.
type Config struct {
	Cache      CacheConfig             `yaml:"cache"`       // Compression cache backend
	Compressor external.ClientConfig   `yaml:"compressor"`  // External LLM compressor
	Scheduler  SchedulerConfig         `yaml:"scheduler"`   // Worker pool settings
	Combat     combat.Config           `yaml:"combat"`      // Per-message combat compression
	Structural structural.Budget       `yaml:"structural"`  // Location-state pre-flattening
	SystemSwap pipeline.SystemSwap     `yaml:"system_swap"` // Flat system-prompt substitution
	Events     EventsConfig            `yaml:"events"`      // Progress event delivery
	Logging    monitoring.LoggerConfig `yaml:"logging"`     // Structured logging
}

// CacheConfig selects and locates the cache backend.
type CacheConfig struct {
	Backend string `yaml:"backend"` // "file", "sqlite", or "memory"
	Path    string `yaml:"path"`    // backing file for file/sqlite
}

// SchedulerConfig contains worker pool settings.
type SchedulerConfig struct {
	Workers     int           `yaml:"workers"`      // pool size, >= 1
	CallTimeout time.Duration `yaml:"call_timeout"` // per external call
}

// EventsConfig configures progress event delivery.
type EventsConfig struct {
	StatusURL string `yaml:"status_url"` // websocket endpoint, empty disables
}

// expandEnvWithDefaults expands ${VAR} and ${VAR:-default} in raw YAML.
func expandEnvWithDefaults(s string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes with env expansion
// and validation.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills optional settings. The required ones stay required.
func (c *Config) applyDefaults() {
	if c.Cache.Backend == "" {
		c.Cache.Backend = "file"
	}
	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = 4
	}
	if c.Scheduler.CallTimeout == 0 {
		c.Scheduler.CallTimeout = external.DefaultTimeout
	}
	if c.Combat.KeepRecent == 0 {
		c.Combat.KeepRecent = combat.DefaultKeepRecent
	}
	if c.Structural.MaxStringLength == 0 && c.Structural.MaxDepth == 0 && c.Structural.ByteBudget == 0 {
		c.Structural = structural.DefaultBudget()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "memory":
	case "file", "sqlite":
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path is required for backend %q", c.Cache.Backend)
		}
	default:
		return fmt.Errorf("unknown cache.backend %q (must be file, sqlite, or memory)", c.Cache.Backend)
	}

	if c.Compressor.Endpoint == "" {
		return fmt.Errorf("compressor.endpoint is required")
	}
	if c.Compressor.Model == "" {
		return fmt.Errorf("compressor.model is required")
	}
	if c.Compressor.APIKey == "" && c.Compressor.Provider != "bedrock" {
		return fmt.Errorf("compressor.api_key is required for provider %q", c.Compressor.Provider)
	}

	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be positive, got %d", c.Scheduler.Workers)
	}
	if c.Scheduler.CallTimeout < 0 {
		return fmt.Errorf("scheduler.call_timeout must not be negative")
	}

	if c.Combat.KeepRecent < 0 {
		return fmt.Errorf("combat.keep_recent must not be negative")
	}

	if c.Structural.MaxStringLength < 0 || c.Structural.MaxDepth < 0 || c.Structural.ByteBudget < 0 {
		return fmt.Errorf("structural budget values must not be negative")
	}

	// One swap field without the other is always a misconfiguration.
	if (c.SystemSwap.OpeningPhrase == "") != (c.SystemSwap.Replacement == "") {
		return fmt.Errorf("system_swap requires both opening_phrase and replacement")
	}

	return nil
}
