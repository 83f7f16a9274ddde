package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CanopyHQ/librarian/internal/errtag"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_Validates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: packs
  decay_floor: 0.2
cache:
  max_entries: 50
  max_age: 1h
calibration:
  bucket_count: 5
feedback:
  auto_infer: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "packs", cfg.Storage.DataDir)
	assert.InDelta(t, 0.2, cfg.Storage.DecayFloor, 1e-9)
	assert.Equal(t, 50, cfg.Cache.MaxEntries)
	assert.Equal(t, time.Hour, cfg.Cache.MaxAge)
	assert.Equal(t, 5, cfg.Calibration.BucketCount)
	assert.False(t, cfg.Feedback.AutoInfer)
	// untouched sections keep their defaults
	assert.Equal(t, "librarian.db", cfg.Storage.DatabaseFile)
	assert.Equal(t, 64, cfg.Feedback.EventBuffer)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "cache:\n  max_entries: 50\n")
	t.Setenv("LIBRARIAN_CACHE_MAX_ENTRIES", "75")
	t.Setenv("LIBRARIAN_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 75, cfg.Cache.MaxEntries)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "storage: [broken")
	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, errtag.InvalidConfig, errtag.Tag(err))
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		tag    string
	}{
		{"negative decay floor", func(c *Config) { c.Storage.DecayFloor = -0.1 }, errtag.InvalidConfig},
		{"decay floor above one", func(c *Config) { c.Storage.DecayFloor = 1.5 }, errtag.InvalidConfig},
		{"negative max entries", func(c *Config) { c.Cache.MaxEntries = -1 }, errtag.InvalidConfig},
		{"negative max age", func(c *Config) { c.Cache.MaxAge = -time.Minute }, errtag.InvalidConfig},
		{"zero bucket count", func(c *Config) { c.Calibration.BucketCount = 0 }, errtag.InvalidBucket},
		{"negative report ttl", func(c *Config) { c.Calibration.ReportTTL = -time.Second }, errtag.InvalidConfig},
		{"zero rate limit", func(c *Config) { c.Feedback.MaxUpdatesPerEntityPerHour = 0 }, errtag.InvalidConfig},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, errtag.InvalidConfig},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, errtag.InvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.tag, errtag.Tag(err))
		})
	}
}

func TestBuildLogger(t *testing.T) {
	log, err := Default().Logging.BuildLogger()
	require.NoError(t, err)
	log.Sync() //nolint:errcheck

	_, err = LoggingConfig{Level: "nope", Format: "json"}.BuildLogger()
	require.Error(t, err)
	assert.Equal(t, errtag.InvalidConfig, errtag.Tag(err))
}
