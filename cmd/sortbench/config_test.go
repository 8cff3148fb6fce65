package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_TOML(t *testing.T) {
	path := writeConfig(t, "bench.toml", `
elements = 4096
buckets = 1024
frames = 10
backend = "wgpu"
local_block = 64
cell_size = 0.5
read_timeout = "2s"
verify = false
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, uint32(4096), cfg.Elements)
	assert.Equal(t, uint32(1024), cfg.BucketCount())
	assert.Equal(t, uint64(10), cfg.Frames)
	assert.Equal(t, "wgpu", cfg.Backend)
	assert.Equal(t, uint32(64), cfg.LocalBlock)
	assert.Equal(t, float32(0.5), cfg.CellSize)
	assert.False(t, cfg.Verify)
	assert.Equal(t, float32(64), cfg.Extent, "unset keys keep their defaults")

	d, err := cfg.ReadTimeout()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfig(t, "bench.yml", `
elements: 100
backend: cpu
workers: 3
stop_on_error: true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, uint32(100), cfg.Elements)
	assert.Equal(t, uint32(100), cfg.BucketCount())
	assert.Equal(t, 3, cfg.Workers)
	assert.True(t, cfg.StopOnErr)
	assert.True(t, cfg.Verify)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "bench.json", `{}`))
	assert.ErrorIs(t, err, errInvalidConfig)

	_, err = LoadConfig(writeConfig(t, "bench.toml", `elements = "many"`))
	assert.ErrorIs(t, err, errInvalidConfig)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero elements", func(c *Config) { c.Elements = 0 }},
		{"zero frames", func(c *Config) { c.Frames = 0 }},
		{"zero cell size", func(c *Config) { c.CellSize = 0 }},
		{"odd local block", func(c *Config) { c.LocalBlock = 48 }},
		{"unknown backend", func(c *Config) { c.Backend = "metal" }},
		{"bad timeout", func(c *Config) { c.Timeout = "soon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), errInvalidConfig)
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestResolveConfig_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "bench.toml", "elements = 4096\nframes = 10\nseed = 7\n")

	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--frames", "3", "--backend", "cpu"}))

	configPath, err := cmd.Flags().GetString("config")
	require.NoError(t, err)
	flags := DefaultConfig()
	flags.Frames = 3
	cfg, err := resolveConfig(cmd, configPath, flags)
	require.NoError(t, err)

	assert.Equal(t, uint32(4096), cfg.Elements)
	assert.Equal(t, uint64(3), cfg.Frames)
	assert.Equal(t, uint64(7), cfg.Seed)
	assert.Equal(t, "cpu", cfg.Backend)
}
