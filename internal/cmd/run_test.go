package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strrl/tpcpid/internal/config"
	"github.com/strrl/tpcpid/internal/db"
	"github.com/strrl/tpcpid/internal/errors"
	"github.com/strrl/tpcpid/internal/output"
	"github.com/strrl/tpcpid/internal/quant"
	"github.com/strrl/tpcpid/internal/species"
)

// Signal 50 with sigma 5 everywhere: nsigma = (dE/dx - 50) / 5.
const flatParams = `parametrizations:
  Flat50:
    kind: signal
    formula: constant
    params: [50]
  Flat5:
    kind: sigma
    formula: constant
    params: [5]
`

const trackCSV = `p,tpc_inner_param,tpc_signal
0.5,0.5,50
1.0,1.0,55
2.0,2.0,100
0.7,0.7,
1.5,1.5,40
`

type testEnv struct {
	dir    string
	params string
	tracks string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:    dir,
		params: filepath.Join(dir, "params.yaml"),
		tracks: filepath.Join(dir, "tracks.csv"),
	}
	require.NoError(t, os.WriteFile(env.params, []byte(flatParams), 0o644))
	require.NoError(t, os.WriteFile(env.tracks, []byte(trackCSV), 0o644))
	return env
}

func loadConfig(t *testing.T, settings map[string]any) *config.Config {
	t.Helper()
	v := config.New()
	for k, val := range settings {
		v.Set(k, val)
	}
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func TestRunPID_FromFile(t *testing.T) {
	env := newTestEnv(t)
	outPath := filepath.Join(env.dir, "out", "pid.duckdb")
	cfg := loadConfig(t, map[string]any{
		"param.file":   env.params,
		"param.signal": "Flat50",
		"param.sigma":  "Flat5",
		"pid.ka":       "on",
		"require":      []string{"pidTPCPi"},
		"tracks":       env.tracks,
		"out":          outPath,
		"batch_size":   2,
	})

	var stdout bytes.Buffer
	summary, err := runPID(context.Background(), cfg, &stdout)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Tracks)
	assert.Equal(t, 3, summary.Batches)
	require.Len(t, summary.Species, 2)
	assert.Equal(t, "pidTPCPi", summary.Species[0].Table)
	assert.Equal(t, "pidTPCKa", summary.Species[1].Table)
	assert.Equal(t, 1, summary.Species[0].Invalid)
	assert.Contains(t, stdout.String(), "Processed 5 tracks in 3 batches")

	_, err = os.Stat(filepath.Join(env.dir, "out", output.ManifestName))
	require.NoError(t, err)

	outDB, err := db.Open(outPath)
	require.NoError(t, err)
	defer outDB.Close()
	sink := output.NewSink(outDB)
	codec := quant.Default()

	first, err := sink.ReadCodes(context.Background(), species.Pion, 0)
	require.NoError(t, err)
	assert.Equal(t, []quant.Code{codec.Encode(0), codec.Encode(1)}, first)

	second, err := sink.ReadCodes(context.Background(), species.Kaon, 1)
	require.NoError(t, err)
	assert.Equal(t, []quant.Code{codec.Highest(), codec.Invalid()}, second)

	last, err := sink.ReadCodes(context.Background(), species.Kaon, 2)
	require.NoError(t, err)
	assert.Equal(t, []quant.Code{codec.Encode(-2)}, last)

	var tables int
	require.NoError(t, outDB.QueryRow(
		`SELECT count(*) FROM information_schema.tables WHERE table_name LIKE 'pidTPC%'`).Scan(&tables))
	assert.Equal(t, 2, tables)
}

func TestRunPID_FailPolicy(t *testing.T) {
	env := newTestEnv(t)
	cfg := loadConfig(t, map[string]any{
		"param.file":   env.params,
		"param.signal": "Flat50",
		"param.sigma":  "Flat5",
		"pid.pr":       1,
		"on_invalid":   "fail",
		"tracks":       env.tracks,
		"out":          filepath.Join(env.dir, "pid.duckdb"),
	})

	_, err := runPID(context.Background(), cfg, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEvaluation), "got %v", err)
}

func TestRunPID_NothingEnabled(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, map[string]any{
		// neither parametrizations nor tracks are touched
		"param.file": filepath.Join(dir, "absent.yaml"),
		"out":        filepath.Join(dir, "pid.duckdb"),
	})

	summary, err := runPID(context.Background(), cfg, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Empty(t, summary.Species)

	b, err := os.ReadFile(filepath.Join(dir, output.ManifestName))
	require.NoError(t, err)
	assert.Contains(t, string(b), "No table was requested or enabled.")

	_, err = os.Stat(filepath.Join(dir, "pid.duckdb"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunPID_MissingTracks(t *testing.T) {
	env := newTestEnv(t)
	cfg := loadConfig(t, map[string]any{
		"param.file": env.params,
		"pid.el":     "on",
	})

	_, err := runPID(context.Background(), cfg, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}

func TestRunPID_UnknownParametrization(t *testing.T) {
	env := newTestEnv(t)
	cfg := loadConfig(t, map[string]any{
		"param.file":   env.params,
		"param.signal": "Missing",
		"pid.el":       "on",
		"tracks":       env.tracks,
		"out":          filepath.Join(env.dir, "pid.duckdb"),
	})

	_, err := runPID(context.Background(), cfg, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}

func TestRunPID_FromCCDB(t *testing.T) {
	env := newTestEnv(t)
	var requests int
	var notAfter []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		notAfter = append(notAfter, r.Header.Get("If-Not-After"))
		w.Header().Set("Valid-From", "0")
		w.Header().Set("Valid-Until", "9999999999999")
		switch {
		case strings.HasPrefix(r.URL.Path, "/Analysis/PID/TPC/Flat50/"):
			w.Write([]byte("kind: signal\nformula: constant\nparams: [50]\n"))
		case strings.HasPrefix(r.URL.Path, "/Analysis/PID/TPC/Flat5/"):
			w.Write([]byte("kind: sigma\nformula: constant\nparams: [5]\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	settings := map[string]any{
		"ccdb.url":       srv.URL,
		"ccdb.timestamp": 1700000000000,
		"param.signal":   "Flat50",
		"param.sigma":    "Flat5",
		"cache_dir":      filepath.Join(env.dir, "cache"),
		"pid.pi":         "on",
		"tracks":         env.tracks,
		"out":            filepath.Join(env.dir, "pid.duckdb"),
	}

	summary, err := runPID(context.Background(), loadConfig(t, settings), &bytes.Buffer{})
	require.NoError(t, err)
	require.Len(t, summary.Species, 1)
	assert.Equal(t, 2, requests)
	for _, v := range notAfter {
		assert.NotEmpty(t, v)
	}

	// second run is served from the cache
	_, err = runPID(context.Background(), loadConfig(t, settings), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 2, requests)
}

func TestRunPID_CCDBMissingObject(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := loadConfig(t, map[string]any{
		"ccdb.url": srv.URL,
		"pid.pi":   "on",
		"tracks":   env.tracks,
		"out":      filepath.Join(env.dir, "pid.duckdb"),
	})

	_, err := runPID(context.Background(), cfg, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLookup))
}
