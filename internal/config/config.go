// Package config provides configuration loading for librarian. Values come
// from hardcoded defaults, overridden by a YAML file, overridden by
// LIBRARIAN_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/CanopyHQ/librarian/internal/errtag"
)

const envPrefix = "LIBRARIAN_"

// StorageConfig locates the on-disk knowledge store.
type StorageConfig struct {
	// DataDir holds the database and audit artifacts. Must resolve inside
	// the workspace's reserved directory; empty means the reserved
	// directory itself.
	DataDir      string  `koanf:"data_dir"`
	DatabaseFile string  `koanf:"database_file"`
	DecayFloor   float64 `koanf:"decay_floor"`
}

// CacheConfig bounds the persistent query cache.
type CacheConfig struct {
	MaxEntries int           `koanf:"max_entries"`
	MaxAge     time.Duration `koanf:"max_age"`
}

// CalibrationConfig tunes the calibration engine.
type CalibrationConfig struct {
	BucketCount             int           `koanf:"bucket_count"`
	ReportTTL               time.Duration `koanf:"report_ttl"`
	MinSamplesForFullWeight int           `koanf:"min_samples_for_full_weight"`
}

// FeedbackConfig tunes the feedback loop.
type FeedbackConfig struct {
	AutoInfer                  bool `koanf:"auto_infer"`
	MaxUpdatesPerEntityPerHour int  `koanf:"max_updates_per_entity_per_hour"`
	EventBuffer                int  `koanf:"event_buffer"`
}

// LoggingConfig selects the zap logger profile.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// Config is the full application configuration.
type Config struct {
	Storage     StorageConfig     `koanf:"storage"`
	Cache       CacheConfig       `koanf:"cache"`
	Calibration CalibrationConfig `koanf:"calibration"`
	Feedback    FeedbackConfig    `koanf:"feedback"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// Default returns the configuration used when nothing is provided.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DatabaseFile: "librarian.db",
			DecayFloor:   0.1,
		},
		Cache: CacheConfig{
			MaxEntries: 1000,
			MaxAge:     7 * 24 * time.Hour,
		},
		Calibration: CalibrationConfig{
			BucketCount:             10,
			ReportTTL:               5 * time.Minute,
			MinSamplesForFullWeight: 20,
		},
		Feedback: FeedbackConfig{
			AutoInfer:                  true,
			MaxUpdatesPerEntityPerHour: 4,
			EventBuffer:                64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from the YAML file at path (skipped when path is
// empty or the file does not exist) and then applies LIBRARIAN_* environment
// overrides. LIBRARIAN_STORAGE_DATA_DIR maps to storage.data_dir.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, errtag.Wrap(errtag.InvalidConfig, err, "parse config file %s", path)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// LIBRARIAN_STORAGE_DATA_DIR -> storage.data_dir
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errtag.Wrap(errtag.InvalidConfig, err, "unmarshal config")
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values the unmarshal may have blanked.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Storage.DatabaseFile == "" {
		cfg.Storage.DatabaseFile = def.Storage.DatabaseFile
	}
	if cfg.Storage.DecayFloor == 0 {
		cfg.Storage.DecayFloor = def.Storage.DecayFloor
	}
	if cfg.Calibration.BucketCount == 0 {
		cfg.Calibration.BucketCount = def.Calibration.BucketCount
	}
	if cfg.Calibration.MinSamplesForFullWeight == 0 {
		cfg.Calibration.MinSamplesForFullWeight = def.Calibration.MinSamplesForFullWeight
	}
	if cfg.Feedback.MaxUpdatesPerEntityPerHour == 0 {
		cfg.Feedback.MaxUpdatesPerEntityPerHour = def.Feedback.MaxUpdatesPerEntityPerHour
	}
	if cfg.Feedback.EventBuffer == 0 {
		cfg.Feedback.EventBuffer = def.Feedback.EventBuffer
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
}

// Validate fails fast on values that would misconfigure a subsystem.
func (c *Config) Validate() error {
	if c.Storage.DecayFloor < 0 || c.Storage.DecayFloor > 1 {
		return errtag.New(errtag.InvalidConfig, "storage.decay_floor must be in [0,1], got %v", c.Storage.DecayFloor)
	}
	if c.Cache.MaxEntries < 0 {
		return errtag.New(errtag.InvalidConfig, "cache.max_entries must be non-negative, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.MaxAge < 0 {
		return errtag.New(errtag.InvalidConfig, "cache.max_age must be non-negative, got %v", c.Cache.MaxAge)
	}
	if c.Calibration.BucketCount <= 0 {
		return errtag.New(errtag.InvalidBucket, "calibration.bucket_count must be positive, got %d", c.Calibration.BucketCount)
	}
	if c.Calibration.ReportTTL < 0 {
		return errtag.New(errtag.InvalidConfig, "calibration.report_ttl must be non-negative, got %v", c.Calibration.ReportTTL)
	}
	if c.Calibration.MinSamplesForFullWeight <= 0 {
		return errtag.New(errtag.InvalidConfig, "calibration.min_samples_for_full_weight must be positive, got %d", c.Calibration.MinSamplesForFullWeight)
	}
	if c.Feedback.MaxUpdatesPerEntityPerHour <= 0 {
		return errtag.New(errtag.InvalidConfig, "feedback.max_updates_per_entity_per_hour must be positive, got %d", c.Feedback.MaxUpdatesPerEntityPerHour)
	}
	if c.Feedback.EventBuffer <= 0 {
		return errtag.New(errtag.InvalidConfig, "feedback.event_buffer must be positive, got %d", c.Feedback.EventBuffer)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errtag.New(errtag.InvalidConfig, "logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return errtag.New(errtag.InvalidConfig, "logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
