// Package config loads the driver configuration from a YAML file with
// environment overrides.
//
// Environment variables use the OVERSET_ prefix. A double underscore
// separates sections and a single underscore stays part of the key:
// OVERSET_LOG__LEVEL=debug sets log.level, OVERSET_WRITE_EVERY=5 sets
// write_every.
package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/notargets/OversetGrid/partitions"
)

// EnvPrefix is the environment variable prefix
const EnvPrefix = "OVERSET_"

// Device names accepted in the device key. An empty device keeps buffers on
// the host only.
var Devices = []string{"", "auto", "Serial", "OpenMP", "CUDA"}

// Config is the driver configuration
type Config struct {
	Log        LogConfig     `koanf:"log"`
	Device     string        `koanf:"device"`
	Partition  string        `koanf:"partition"`
	Steps      int           `koanf:"steps"`
	WriteEvery int           `koanf:"write_every"`
	NVar       int           `koanf:"nvar"`
	OutputDir  string        `koanf:"output_dir"`
	Blocks     []BlockConfig `koanf:"blocks"`
}

// LogConfig selects the log level and format
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // text or json
}

// BlockConfig describes one grid block
type BlockConfig struct {
	Mesh    string `koanf:"mesh"`
	BodyTag int32  `koanf:"body_tag"`
	// WallBox is xmin, xmax, ymin, ymax, zmin, zmax; exterior nodes inside it
	// are wall nodes. Empty for blocks with no wall.
	WallBox []float64 `koanf:"wall_box"`
	// OuterOverset marks every non-wall exterior node as an overset boundary
	OuterOverset bool `koanf:"outer_overset"`
}

// Default returns the configuration used for keys nobody sets
func Default() *Config {
	return &Config{
		Log:       LogConfig{Level: "info", Format: "text"},
		Partition: "block",
		Steps:     1,
		NVar:      5,
		OutputDir: ".",
	}
}

// Load reads path (when not empty), then the environment, over Default
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// envKey maps OVERSET_LOG__LEVEL to log.level
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}

// Validate reports every problem in the configuration at once
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...interface{}) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		add("log.level %q is not a log level", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log.format %q must be text or json", c.Log.Format)
	}
	if !validDevice(c.Device) {
		add("device %q must be one of %q", c.Device, Devices)
	}
	if _, err := partitions.ParseStrategy(c.Partition); err != nil {
		add("partition: %v", err)
	}
	if c.Steps < 0 {
		add("steps %d is negative", c.Steps)
	}
	if c.WriteEvery < 0 {
		add("write_every %d is negative", c.WriteEvery)
	}
	if c.NVar < 0 {
		add("nvar %d is negative", c.NVar)
	}
	if len(c.Blocks) == 0 {
		add("no blocks configured")
	}
	for i, b := range c.Blocks {
		if b.Mesh == "" {
			add("blocks[%d]: mesh is required", i)
		}
		switch len(b.WallBox) {
		case 0:
		case 6:
			for d := 0; d < 3; d++ {
				if b.WallBox[2*d] > b.WallBox[2*d+1] {
					add("blocks[%d]: wall_box axis %d has min > max", i, d)
				}
			}
		default:
			add("blocks[%d]: wall_box needs 6 values, got %d", i, len(b.WallBox))
		}
	}
	return result.ErrorOrNil()
}

func validDevice(name string) bool {
	for _, d := range Devices {
		if d == name {
			return true
		}
	}
	return false
}

// Logger builds the root logger described by lc
func (lc LogConfig) Logger(name string, out io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(lc.Level),
		JSONFormat: lc.Format == "json",
		Output:     out,
	})
}
