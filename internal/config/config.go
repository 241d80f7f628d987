// Package config holds the run configuration of tpcpid.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/strrl/tpcpid/internal/demand"
	"github.com/strrl/tpcpid/internal/errors"
	"github.com/strrl/tpcpid/internal/pipeline"
	"github.com/strrl/tpcpid/internal/quant"
	"github.com/strrl/tpcpid/internal/species"
)

type Config struct {
	Param     ParamConfig `mapstructure:"param"`
	CCDB      CCDBConfig  `mapstructure:"ccdb"`
	Codec     CodecConfig `mapstructure:"codec"`
	OnInvalid string      `mapstructure:"on_invalid"`
	BatchSize int         `mapstructure:"batch_size"`
	Workers   int         `mapstructure:"workers"`
	Tracks    string      `mapstructure:"tracks"`
	Out       string      `mapstructure:"out"`
	CacheDir  string      `mapstructure:"cache_dir"`
	Require   []string    `mapstructure:"require"`
	Workflow  string      `mapstructure:"workflow"`

	// Resolved from the pid.* keys by Load.
	Flags demand.Flags `mapstructure:"-"`
}

// ParamConfig names the parametrizations and where they come from. A
// non-empty File takes precedence over the calibration database.
type ParamConfig struct {
	File   string `mapstructure:"file"`
	Signal string `mapstructure:"signal"`
	Sigma  string `mapstructure:"sigma"`
}

type CCDBConfig struct {
	URL            string `mapstructure:"url"`
	Path           string `mapstructure:"path"`
	Timestamp      int64  `mapstructure:"timestamp"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type CodecConfig struct {
	Min      float64 `mapstructure:"min"`
	Max      float64 `mapstructure:"max"`
	BinWidth float64 `mapstructure:"bin_width"`
	Bits     int     `mapstructure:"bits"`
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to unmarshal config"), errors.ErrConfiguration)
	}

	cfg.Flags = demand.Flags{}
	for _, s := range species.All() {
		flag, err := demand.ParseFlag(v.GetString(PIDKey(s)))
		if err != nil {
			return nil, errors.Wrapf(err, "%s", PIDKey(s))
		}
		cfg.Flags[s] = flag
	}

	cfg.Require = splitList(cfg.Require)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ReadFile merges the config file at path into v. YAML and TOML are
// recognised by extension.
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to read config file %s", path), errors.ErrConfiguration)
	}
	return nil
}

func (c *Config) Validate() error {
	if _, err := c.NewCodec(); err != nil {
		return err
	}
	if _, err := pipeline.ParsePolicy(c.OnInvalid); err != nil {
		return err
	}
	if c.BatchSize <= 0 {
		return errors.Configf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Workers < 0 {
		return errors.Configf("workers must not be negative, got %d", c.Workers)
	}
	if c.CCDB.Timestamp < -1 {
		return errors.Configf("ccdb timestamp must be -1 (now) or a time in ms, got %d", c.CCDB.Timestamp)
	}
	if c.CCDB.TimeoutSeconds <= 0 {
		return errors.Configf("ccdb timeout must be positive, got %d", c.CCDB.TimeoutSeconds)
	}
	return nil
}

func (c *Config) NewCodec() (*quant.Codec, error) {
	return quant.New(c.Codec.Min, c.Codec.Max, c.Codec.BinWidth, c.Codec.Bits)
}

func (c *Config) Policy() pipeline.Policy {
	p, _ := pipeline.ParsePolicy(c.OnInvalid)
	return p
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.CCDB.TimeoutSeconds) * time.Second
}

// Requested collects the demanded output names from --require and the
// workflow file.
func (c *Config) Requested() (demand.Set, error) {
	requested := demand.NewSet(c.Require...)
	if c.Workflow == "" {
		return requested, nil
	}

	wf, err := demand.LoadWorkflow(c.Workflow)
	if err != nil {
		return nil, err
	}
	requested.Add(demand.FromConsumers(wf.Consumers).Sorted()...)
	return requested, nil
}

// ManifestDir is the directory the table manifest is written to, beside the
// output database.
func (c *Config) ManifestDir() string {
	if c.Out == "" {
		return "."
	}
	return filepath.Dir(c.Out)
}

// splitList flattens comma separated entries, as they arrive from env vars.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
