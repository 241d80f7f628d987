package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strrl/tpcpid/internal/demand"
	"github.com/strrl/tpcpid/internal/errors"
	"github.com/strrl/tpcpid/internal/pipeline"
	"github.com/strrl/tpcpid/internal/quant"
	"github.com/strrl/tpcpid/internal/species"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, "BetheBloch", cfg.Param.Signal)
	assert.Equal(t, "TPCReso", cfg.Param.Sigma)
	assert.Equal(t, "http://alice-ccdb.cern.ch", cfg.CCDB.URL)
	assert.Equal(t, "Analysis/PID/TPC", cfg.CCDB.Path)
	assert.Equal(t, int64(-1), cfg.CCDB.Timestamp)
	assert.Equal(t, pipeline.PolicyFlag, cfg.Policy())
	assert.Equal(t, 10000, cfg.BatchSize)

	for _, s := range species.All() {
		assert.Equal(t, demand.Auto, cfg.Flags[s], s.String())
	}

	codec, err := cfg.NewCodec()
	require.NoError(t, err)
	assert.Equal(t, quant.Default().Meta(), codec.Meta())
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("TPCPID_PID_PI", "on")
	t.Setenv("TPCPID_PID_KA", "0")
	t.Setenv("TPCPID_CODEC_BITS", "12")
	t.Setenv("TPCPID_ON_INVALID", "fail")
	t.Setenv("TPCPID_CCDB_TIMESTAMP", "1700000000000")

	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, demand.On, cfg.Flags[species.Pion])
	assert.Equal(t, demand.Off, cfg.Flags[species.Kaon])
	assert.Equal(t, demand.Auto, cfg.Flags[species.Proton])
	assert.Equal(t, 12, cfg.Codec.Bits)
	assert.Equal(t, pipeline.PolicyFail, cfg.Policy())
	assert.Equal(t, int64(1700000000000), cfg.CCDB.Timestamp)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tpcpid.yaml")
	content := `pid:
  de: 1
  al: off
param:
  file: params.yaml
codec:
  bits: 10
batch_size: 500
require:
  - pidTPCPi
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v := New()
	require.NoError(t, ReadFile(v, path))
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, demand.On, cfg.Flags[species.Deuteron])
	assert.Equal(t, demand.Off, cfg.Flags[species.Alpha])
	assert.Equal(t, "params.yaml", cfg.Param.File)
	assert.Equal(t, 10, cfg.Codec.Bits)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, []string{"pidTPCPi"}, cfg.Require)
}

func TestReadFile_Missing(t *testing.T) {
	err := ReadFile(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"bad pid flag", "pid.pi", "maybe"},
		{"bits too small", "codec.bits", 1},
		{"range not a multiple of width", "codec.bin_width", 0.07},
		{"unknown policy", "on_invalid", "ignore"},
		{"zero batch size", "batch_size", 0},
		{"negative workers", "workers", -2},
		{"timestamp below -1", "ccdb.timestamp", -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.Set(tt.key, tt.value)

			_, err := Load(v)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrConfiguration), "got %v", err)
		})
	}
}

func TestRequested(t *testing.T) {
	wf := filepath.Join(t.TempDir(), "workflow.yaml")
	content := `consumers:
  - name: lambda-finder
    inputs: [pidTPCPr, pidTPCPi]
  - name: nuclei
    inputs: [pidTPCHe]
`
	require.NoError(t, os.WriteFile(wf, []byte(content), 0o644))

	cfg := &Config{Require: []string{"pidTPCKa"}, Workflow: wf}
	got, err := cfg.Requested()
	require.NoError(t, err)
	assert.Equal(t, []string{"pidTPCHe", "pidTPCKa", "pidTPCPi", "pidTPCPr"}, got.Sorted())
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList([]string{"a, b", "", " c "}))
	assert.Nil(t, splitList(nil))
}

func TestManifestDir(t *testing.T) {
	assert.Equal(t, "out", (&Config{Out: "out/pid.duckdb"}).ManifestDir())
	assert.Equal(t, ".", (&Config{Out: "pid.duckdb"}).ManifestDir())
}
