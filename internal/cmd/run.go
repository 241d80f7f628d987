package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/strrl/tpcpid/internal/aggregator"
	"github.com/strrl/tpcpid/internal/blob"
	"github.com/strrl/tpcpid/internal/config"
	"github.com/strrl/tpcpid/internal/db"
	"github.com/strrl/tpcpid/internal/demand"
	"github.com/strrl/tpcpid/internal/errors"
	"github.com/strrl/tpcpid/internal/logger"
	"github.com/strrl/tpcpid/internal/output"
	"github.com/strrl/tpcpid/internal/param"
	"github.com/strrl/tpcpid/internal/pipeline"
	"github.com/strrl/tpcpid/internal/response"
	"github.com/strrl/tpcpid/internal/tracks"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	var bindings []flagBinding

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Produce the quantized nsigma tables for a track file",
		Long: `Resolve which species tables are needed, load the signal and resolution
parametrizations once, then stream the tracks in batches and write one
quantized nsigma table per enabled species into a DuckDB database. A
tables.md manifest describing the codec is written beside the database.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(v, cmd.Flags(), bindings)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			_, err = runPID(cmd.Context(), cfg, cmd.OutOrStdout())
			return err
		},
	}

	fs := runCmd.Flags()
	bindings = addDemandFlags(v, fs)

	fs.String("param-file", "", "Local or remote (go-getter) parametrization file; overrides the CCDB")
	fs.String("param-signal", v.GetString("param.signal"), "Name of the expected signal parametrization")
	fs.String("param-sigma", v.GetString("param.sigma"), "Name of the expected resolution parametrization")
	fs.String("ccdb-url", v.GetString("ccdb.url"), "Calibration database URL")
	fs.String("ccdb-path", v.GetString("ccdb.path"), "Calibration path holding the parametrizations")
	fs.Int64("ccdb-timestamp", v.GetInt64("ccdb.timestamp"), "Calibration timestamp in ms, -1 for now")
	fs.Int("ccdb-timeout", v.GetInt("ccdb.timeout_seconds"), "Calibration request timeout in seconds")
	fs.String("cache-dir", "", "Directory of the local calibration cache (disabled when empty)")
	fs.Float64("codec-min", v.GetFloat64("codec.min"), "Lowest storable nsigma")
	fs.Float64("codec-max", v.GetFloat64("codec.max"), "Highest storable nsigma")
	fs.Float64("codec-bin-width", v.GetFloat64("codec.bin_width"), "Quantization step")
	fs.Int("codec-bits", v.GetInt("codec.bits"), "Bits per stored value")
	fs.String("on-invalid", v.GetString("on_invalid"), "What to do with tracks that cannot be evaluated: flag or fail")
	fs.Int("batch-size", v.GetInt("batch_size"), "Tracks per batch")
	fs.Int("workers", 0, "Species processed concurrently (0 = all enabled)")
	fs.String("tracks", "", "Track file (csv, parquet or json)")
	fs.String("out", v.GetString("out"), "Output DuckDB database")

	bindings = append(bindings,
		flagBinding{"param-file", "param.file"},
		flagBinding{"param-signal", "param.signal"},
		flagBinding{"param-sigma", "param.sigma"},
		flagBinding{"ccdb-url", "ccdb.url"},
		flagBinding{"ccdb-path", "ccdb.path"},
		flagBinding{"ccdb-timestamp", "ccdb.timestamp"},
		flagBinding{"ccdb-timeout", "ccdb.timeout_seconds"},
		flagBinding{"cache-dir", "cache_dir"},
		flagBinding{"codec-min", "codec.min"},
		flagBinding{"codec-max", "codec.max"},
		flagBinding{"codec-bin-width", "codec.bin_width"},
		flagBinding{"codec-bits", "codec.bits"},
		flagBinding{"on-invalid", "on_invalid"},
		flagBinding{"batch-size", "batch_size"},
		flagBinding{"workers", "workers"},
		flagBinding{"tracks", "tracks"},
		flagBinding{"out", "out"},
	)

	return runCmd
}

// runPID executes one run and returns its summary. Nothing is loaded or read
// when no table is enabled.
func runPID(ctx context.Context, cfg *config.Config, out io.Writer) (*aggregator.Summary, error) {
	log := logger.Named("run")

	codec, err := cfg.NewCodec()
	if err != nil {
		return nil, err
	}

	requested, err := cfg.Requested()
	if err != nil {
		return nil, err
	}
	enabled := demand.NewResolver(logger.Named("demand")).Resolve(requested, cfg.Flags)

	if !enabled.Any() {
		log.Infow("No table enabled, nothing to compute", "requested", requested.Sorted())
		summary := aggregator.NewAggregator(codec).Summary()
		return summary, writeManifest(cfg, summary, out)
	}

	if cfg.Tracks == "" {
		return nil, errors.WithHint(errors.Configf("no track file given"), "set --tracks")
	}

	models, err := loadModels(ctx, cfg, enabled, log)
	if err != nil {
		return nil, err
	}

	proc, err := pipeline.New(enabled, models, pipeline.Config{
		Codec:     codec,
		OnInvalid: cfg.Policy(),
		Workers:   cfg.Workers,
		Log:       logger.Named("pipeline"),
	})
	if err != nil {
		return nil, err
	}

	inDB, err := db.Open("")
	if err != nil {
		return nil, err
	}
	defer inDB.Close()

	reader, err := tracks.NewReader(inDB, cfg.Tracks)
	if err != nil {
		return nil, err
	}
	total, err := reader.Count(ctx)
	if err != nil {
		return nil, errors.Mark(err, errors.ErrConfiguration)
	}
	log.Infow("Reading tracks", "file", cfg.Tracks, "tracks", total, "batch_size", cfg.BatchSize)
	fmt.Fprintf(out, "Found %d tracks in %s\n", total, cfg.Tracks)

	if dir := filepath.Dir(cfg.Out); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating output directory %s", dir)
		}
	}
	outDB, err := db.Open(cfg.Out)
	if err != nil {
		return nil, err
	}
	defer outDB.Close()

	sink := output.NewSink(outDB)
	if err := sink.Prepare(ctx, proc.Enabled(), codec.Meta()); err != nil {
		return nil, err
	}

	agg := aggregator.NewAggregator(codec)
	start := time.Now()
	done := 0

	err = reader.Batches(ctx, cfg.BatchSize, func(index int, batch []tracks.Track) error {
		tables, stats, err := proc.Process(ctx, batch)
		if err != nil {
			return errors.Wrapf(err, "batch %d", index)
		}
		if err := sink.Write(ctx, index, tables); err != nil {
			return err
		}
		agg.Add(tables, stats)
		done += stats.Tracks
		log.Debugw("Batch done",
			"batch", index,
			"tracks", stats.Tracks,
			"invalid", stats.Invalid,
			"progress", fmt.Sprintf("%d/%d", done, total),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	summary := agg.Summary()
	log.Infow("Run finished",
		"batches", summary.Batches,
		"tracks", summary.Tracks,
		"tables", len(summary.Species),
		"elapsed", time.Since(start),
	)

	return summary, writeManifest(cfg, summary, out)
}

// loadModels loads both parametrizations once and shares them across the
// enabled species. Any failure aborts the run.
func loadModels(ctx context.Context, cfg *config.Config, enabled demand.Enabled, log *zap.SugaredLogger) (response.Models, error) {
	source, closeSource, err := newParamSource(cfg)
	if err != nil {
		return nil, err
	}
	defer closeSource()

	store := param.NewStore(source, logger.Named("param"))
	ts := param.ResolveTimestamp(cfg.CCDB.Timestamp, time.Now())

	signal, err := store.Load(ctx, cfg.Param.Signal, param.KindSignal, ts)
	if err != nil {
		return nil, err
	}
	sigma, err := store.Load(ctx, cfg.Param.Sigma, param.KindSigma, ts)
	if err != nil {
		return nil, err
	}

	log.Infow("Parametrizations loaded",
		"signal", signal.Name(),
		"sigma", sigma.Name(),
		"loaded", store.Len(),
		"species", enabled.Species(),
	)
	return response.NewModels(enabled.Species(), signal, sigma)
}

func newParamSource(cfg *config.Config) (param.Source, func(), error) {
	if cfg.Param.File != "" {
		return param.NewFileSource(cfg.Param.File), func() {}, nil
	}

	var cache *blob.Cache
	closeCache := func() {}
	if cfg.CacheDir != "" {
		c, err := blob.OpenCache(cfg.CacheDir)
		if err != nil {
			return nil, nil, err
		}
		cache = c
		closeCache = func() { c.Close() }
	}

	client, err := blob.NewClient(blob.Config{
		URL:     cfg.CCDB.URL,
		Timeout: cfg.Timeout(),
		Cache:   cache,
		Log:     logger.Named("ccdb"),
		// objects uploaded while the run is going are ignored
		CreatedNotAfter: time.Now().UnixMilli(),
	})
	if err != nil {
		closeCache()
		return nil, nil, err
	}

	source, err := param.NewRemoteSource(client, cfg.CCDB.Path)
	if err != nil {
		closeCache()
		return nil, nil, err
	}
	return source, closeCache, nil
}

func writeManifest(cfg *config.Config, summary *aggregator.Summary, out io.Writer) error {
	path, err := output.NewGenerator(cfg.ManifestDir()).Generate(summary)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Processed %d tracks in %d batches\n", summary.Tracks, summary.Batches)
	for _, s := range summary.Species {
		fmt.Fprintf(out, "  - %s: %d entries, %d invalid\n", s.Table, s.Entries, s.Invalid)
	}
	fmt.Fprintf(out, "Manifest: %s\n", path)
	return nil
}
