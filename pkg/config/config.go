// Package config provides configuration loading and management for fociscan.
// Load layers a YAML file, environment variables and command line flags over
// the default values; SaveConfig writes a configuration back as YAML.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig marks configuration problems found before analysis starts.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input files
	Input struct {
		// Image is the volume to analyze: a .npy file, a 2D image or a
		// directory of slice images
		Image string `yaml:"image" mapstructure:"image"`

		// Segments is an optional segmentation volume used to split points
		Segments string `yaml:"segments" mapstructure:"segments"`
	} `yaml:"input" mapstructure:"input"`

	// Scan parameters
	Scan struct {
		// MinValue is the first brightness threshold
		MinValue float64 `yaml:"minValue" mapstructure:"minValue"`

		// MaxValue overrides the brightest voxel of the image; 0 uses the image
		MaxValue float64 `yaml:"maxValue" mapstructure:"maxValue"`

		// MinSize is the minimal connected component size in voxels
		MinSize int `yaml:"minSize" mapstructure:"minSize"`

		// StepSize is the brightness increment between thresholds
		StepSize float64 `yaml:"stepSize" mapstructure:"stepSize"`

		// SingleStep runs one threshold instead of a scan when non-zero
		SingleStep float64 `yaml:"singleStep" mapstructure:"singleStep"`

		// Threads is the number of thresholds processed in parallel
		Threads int `yaml:"threads" mapstructure:"threads"`

		// SaveAll writes the points of every threshold to its own file
		SaveAll bool `yaml:"saveAll" mapstructure:"saveAll"`

		// Connectivity is 6 (face) or 26 (face, edge and corner)
		Connectivity int `yaml:"connectivity" mapstructure:"connectivity"`
	} `yaml:"scan" mapstructure:"scan"`

	// Output parameters
	Output struct {
		// Dir is where result files are written
		Dir string `yaml:"dir" mapstructure:"dir"`

		// Format is one of pdb, xyz, idxyz, chimera, gro
		Format string `yaml:"format" mapstructure:"format"`

		// MoleculeName is written in the chimera XYZ header
		MoleculeName string `yaml:"moleculeName" mapstructure:"moleculeName"`

		// Compress gzips coordinate files
		Compress bool `yaml:"compress" mapstructure:"compress"`

		// Connect adds CONECT records chaining consecutive points in PDB files
		Connect bool `yaml:"connect" mapstructure:"connect"`

		// SaveStats writes the statistics file
		SaveStats bool `yaml:"saveStats" mapstructure:"saveStats"`

		// StatsFormat is text or yaml
		StatsFormat string `yaml:"statsFormat" mapstructure:"statsFormat"`

		// Spacing overrides the voxel spacing of the image (x, y, z)
		Spacing []float64 `yaml:"spacing,flow" mapstructure:"spacing"`
	} `yaml:"output" mapstructure:"output"`

	// Logging parameters
	Logging struct {
		// Level is debug, info, warn or error
		Level string `yaml:"level" mapstructure:"level"`

		// File additionally writes logs to a rotating file when set
		File string `yaml:"file" mapstructure:"file"`

		// MaxSize is the log file size in megabytes before rotation
		MaxSize int `yaml:"maxSize" mapstructure:"maxSize"`

		// MaxAge is how many days rotated log files are kept
		MaxAge int `yaml:"maxAge" mapstructure:"maxAge"`
	} `yaml:"logging" mapstructure:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Scan.MinValue = 10
	cfg.Scan.MinSize = 2
	cfg.Scan.StepSize = 10
	cfg.Scan.Threads = 1
	cfg.Scan.Connectivity = 6

	cfg.Output.Dir = "."
	cfg.Output.Format = "pdb"
	cfg.Output.SaveStats = true
	cfg.Output.StatsFormat = "text"

	cfg.Logging.Level = "info"
	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxAge = 28

	return cfg
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

func finite(x float64) bool {
	return !math.IsInf(x, 0) && !math.IsNaN(x)
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	switch {
	case c.Input.Image == "":
		return invalid("no input image given")
	case !finite(c.Scan.MinValue):
		return invalid("minimal brightness must be finite, got %g", c.Scan.MinValue)
	case !finite(c.Scan.MaxValue):
		return invalid("maximal brightness must be finite, got %g", c.Scan.MaxValue)
	case !finite(c.Scan.StepSize):
		return invalid("step size must be finite, got %g", c.Scan.StepSize)
	case !finite(c.Scan.SingleStep):
		return invalid("single step brightness must be finite, got %g", c.Scan.SingleStep)
	case c.Scan.StepSize <= 0:
		return invalid("step size must be positive, got %g", c.Scan.StepSize)
	case c.Scan.MinSize < 0:
		return invalid("minimal component size must not be negative, got %d", c.Scan.MinSize)
	case c.Scan.Threads < 1:
		return invalid("threads must be at least 1, got %d", c.Scan.Threads)
	case c.Scan.SaveAll && c.Scan.Threads > 1:
		return invalid("saving all threshold steps is not available with more than one thread")
	case c.Scan.Connectivity != 6 && c.Scan.Connectivity != 26:
		return invalid("connectivity must be 6 or 26, got %d", c.Scan.Connectivity)
	case len(c.Output.Spacing) != 0 && len(c.Output.Spacing) != 3:
		return invalid("spacing needs 3 values, got %d", len(c.Output.Spacing))
	}

	for _, s := range c.Output.Spacing {
		if s <= 0 || !finite(s) {
			return invalid("spacing values must be positive, got %s", strconv.FormatFloat(s, 'g', -1, 64))
		}
	}

	switch strings.ToLower(c.Output.StatsFormat) {
	case "text", "yaml":
	default:
		return invalid("statistics format must be text or yaml, got %q", c.Output.StatsFormat)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("unknown log level %q", c.Logging.Level)
	}

	return nil
}
