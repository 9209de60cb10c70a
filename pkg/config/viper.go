package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. FOCISCAN_SCAN_THREADS.
const EnvPrefix = "FOCISCAN"

// FlagKeys maps command line flag names to configuration keys.
var FlagKeys = map[string]string{
	"image":         "input.image",
	"segments":      "input.segments",
	"min-value":     "scan.minValue",
	"max-value":     "scan.maxValue",
	"min-size":      "scan.minSize",
	"step-size":     "scan.stepSize",
	"singlestep":    "scan.singleStep",
	"threads":       "scan.threads",
	"save-all":      "scan.saveAll",
	"connectivity":  "scan.connectivity",
	"outpath":       "output.dir",
	"format":        "output.format",
	"molecule-name": "output.moleculeName",
	"compress":      "output.compress",
	"connect":       "output.connect",
	"save-stats":    "output.saveStats",
	"stats-format":  "output.statsFormat",
	"spacing":       "output.spacing",
	"log-level":     "logging.level",
	"log-file":      "logging.file",
}

// Load builds the configuration from, in increasing precedence, defaults,
// the YAML file at configPath (optional), FOCISCAN_* environment variables
// and flags explicitly set on the command line.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("error binding flag %s: %w", name, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error decoding configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("input.image", d.Input.Image)
	v.SetDefault("input.segments", d.Input.Segments)
	v.SetDefault("scan.minValue", d.Scan.MinValue)
	v.SetDefault("scan.maxValue", d.Scan.MaxValue)
	v.SetDefault("scan.minSize", d.Scan.MinSize)
	v.SetDefault("scan.stepSize", d.Scan.StepSize)
	v.SetDefault("scan.singleStep", d.Scan.SingleStep)
	v.SetDefault("scan.threads", d.Scan.Threads)
	v.SetDefault("scan.saveAll", d.Scan.SaveAll)
	v.SetDefault("scan.connectivity", d.Scan.Connectivity)
	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.moleculeName", d.Output.MoleculeName)
	v.SetDefault("output.compress", d.Output.Compress)
	v.SetDefault("output.connect", d.Output.Connect)
	v.SetDefault("output.saveStats", d.Output.SaveStats)
	v.SetDefault("output.statsFormat", d.Output.StatsFormat)
	v.SetDefault("output.spacing", d.Output.Spacing)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.maxSize", d.Logging.MaxSize)
	v.SetDefault("logging.maxAge", d.Logging.MaxAge)
}
