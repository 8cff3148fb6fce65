package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Carmen-Shannon/oxy-sort/common"
	"github.com/Carmen-Shannon/oxy-sort/engine/device"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var errInvalidConfig = errors.New("invalid config")

// Config is the benchmark configuration, read from a TOML or YAML file and overridden by flags.
type Config struct {
	Elements   uint32  `toml:"elements" yaml:"elements"`
	Buckets    uint32  `toml:"buckets" yaml:"buckets"`
	Frames     uint64  `toml:"frames" yaml:"frames"`
	Backend    string  `toml:"backend" yaml:"backend"`
	Fallback   bool    `toml:"fallback_adapter" yaml:"fallback_adapter"`
	Workers    int     `toml:"workers" yaml:"workers"`
	LocalBlock uint32  `toml:"local_block" yaml:"local_block"`
	CellSize   float32 `toml:"cell_size" yaml:"cell_size"`
	Extent     float32 `toml:"extent" yaml:"extent"`
	Seed       uint64  `toml:"seed" yaml:"seed"`
	Verify     bool    `toml:"verify" yaml:"verify"`
	Profile    bool    `toml:"profile" yaml:"profile"`
	StopOnErr  bool    `toml:"stop_on_error" yaml:"stop_on_error"`
	Timeout    string  `toml:"read_timeout" yaml:"read_timeout"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Elements: 1 << 14,
		Frames:   60,
		Backend:  device.BackendTypeCPU.String(),
		CellSize: 1,
		Extent:   64,
		Seed:     1,
		Verify:   true,
		Timeout:  "5s",
	}
}

// LoadConfig reads a config file on top of DefaultConfig. The format follows the extension:
// .toml, .yaml or .yml.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("%w: unsupported config format %q", errInvalidConfig, filepath.Ext(path))
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: %s: %w", errInvalidConfig, path, err)
	}
	return cfg, nil
}

// Validate checks the values the device and sorter cannot check themselves.
func (c Config) Validate() error {
	if c.Elements == 0 {
		return fmt.Errorf("%w: elements must be positive", errInvalidConfig)
	}
	if c.Frames == 0 {
		return fmt.Errorf("%w: frames must be positive", errInvalidConfig)
	}
	if c.CellSize <= 0 || c.Extent <= 0 {
		return fmt.Errorf("%w: cell_size and extent must be positive", errInvalidConfig)
	}
	if c.LocalBlock != 0 && !common.IsPowerOfTwo(c.LocalBlock) {
		return fmt.Errorf("%w: local_block %d is not a power of two", errInvalidConfig, c.LocalBlock)
	}
	if _, err := device.ParseBackendType(c.Backend); err != nil {
		return fmt.Errorf("%w: %w", errInvalidConfig, err)
	}
	if _, err := c.ReadTimeout(); err != nil {
		return err
	}
	return nil
}

// ReadTimeout parses the read-back timeout.
func (c Config) ReadTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 5 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: read_timeout %q", errInvalidConfig, c.Timeout)
	}
	return d, nil
}

// BucketCount returns the offsets table size, defaulting to the element count.
func (c Config) BucketCount() uint32 {
	return common.Coalesce(c.Buckets, c.Elements)
}
