package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Pool.TriesAllowed)
	assert.Equal(t, 1, cfg.Pool.CPUHandicap)
	assert.Equal(t, 2, cfg.Pool.MaxPasses)
	assert.Zero(t, cfg.Pool.UnitTimeout)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contour.yaml")
	data := []byte(`
contour:
  interval: 5
  smooth_algorithm: MOVING_AVERAGE
pool:
  tries_allowed: 3
  unit_timeout: 90s
status:
  backend: file
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	t.Setenv("CONTOUR_CONFIG", path)
	t.Setenv("TRIES_ALLOWED", "4")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5.0, cfg.Contour.Interval)
	assert.Equal(t, "MOVING_AVERAGE", cfg.Contour.SmoothAlgorithm)
	assert.Equal(t, 4, cfg.Pool.TriesAllowed, "env overrides file")
	assert.Equal(t, 90*time.Second, cfg.Pool.UnitTimeout)
	assert.Equal(t, "file", cfg.Status.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched sections keep defaults
	assert.Equal(t, "Contours_WM", cfg.Contour.WMName)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Contour.Interval = 0 }},
		{"negative tries", func(c *Config) { c.Pool.TriesAllowed = -1 }},
		{"no passes", func(c *Config) { c.Pool.MaxPasses = 0 }},
		{"bad smoothing", func(c *Config) { c.Contour.SmoothAlgorithm = "PAEK" }},
		{"bad status backend", func(c *Config) { c.Status.Backend = "redis" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
