package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/strrl/tpcpid/internal/blob"
	"github.com/strrl/tpcpid/internal/species"
)

const EnvPrefix = "TPCPID"

// PIDKey is the configuration key of the enable flag of s, e.g. "pid.pi".
func PIDKey(s species.Species) string {
	return "pid." + strings.ToLower(s.Tag())
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	for _, s := range species.All() {
		v.SetDefault(PIDKey(s), "auto")
	}

	// Parametrizations
	v.SetDefault("param.file", "")
	v.SetDefault("param.signal", "BetheBloch")
	v.SetDefault("param.sigma", "TPCReso")

	// Calibration database
	v.SetDefault("ccdb.url", blob.DefaultURL)
	v.SetDefault("ccdb.path", "Analysis/PID/TPC")
	v.SetDefault("ccdb.timestamp", -1) // now
	v.SetDefault("ccdb.timeout_seconds", 30)

	// 8-bit storage, 0.05 resolution over +-6.35 sigma
	v.SetDefault("codec.min", -6.35)
	v.SetDefault("codec.max", 6.35)
	v.SetDefault("codec.bin_width", 0.05)
	v.SetDefault("codec.bits", 8)

	v.SetDefault("on_invalid", "flag")
	v.SetDefault("batch_size", 10000)
	v.SetDefault("workers", 0)

	v.SetDefault("tracks", "")
	v.SetDefault("out", "tpcpid.duckdb")
	v.SetDefault("cache_dir", "")
	v.SetDefault("require", []string{})
	v.SetDefault("workflow", "")
}

// New returns a Viper instance with defaults and TPCPID_* environment
// binding. Nested keys map to env vars with "." replaced by "_", so
// codec.bin_width is TPCPID_CODEC_BIN_WIDTH.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}
