// Package pipeline turns batches of tracks into quantized nsigma tables.
package pipeline

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/strrl/tpcpid/internal/demand"
	"github.com/strrl/tpcpid/internal/errors"
	"github.com/strrl/tpcpid/internal/quant"
	"github.com/strrl/tpcpid/internal/response"
	"github.com/strrl/tpcpid/internal/species"
	"github.com/strrl/tpcpid/internal/tracks"
)

// Policy decides what happens to a track whose evaluation fails.
type Policy string

const (
	// PolicyFlag stores quant.Codec.Invalid for the track and carries on.
	PolicyFlag Policy = "flag"
	// PolicyFail aborts the whole batch on the first failing track.
	PolicyFail Policy = "fail"
)

func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case PolicyFlag, "":
		return PolicyFlag, nil
	case PolicyFail:
		return PolicyFail, nil
	}
	return PolicyFlag, errors.Configf("unknown invalid-track policy %q: want flag or fail", value)
}

// Evaluator computes the separation of one track for one hypothesis.
type Evaluator interface {
	Separation(t tracks.Track) (float64, error)
}

// Table is the output of one species for one batch. Codes[i] belongs to
// the i-th input track.
type Table struct {
	Species species.Species
	Codes   []quant.Code
	Meta    quant.Meta
	Invalid int
}

// Name is the output table name, e.g. "pidTPCPi".
func (t *Table) Name() string { return t.Species.OutputName() }

type Config struct {
	Codec     *quant.Codec
	OnInvalid Policy
	// Workers bounds how many species are processed at once; <= 0 means one
	// goroutine per enabled species.
	Workers int
	Log     *zap.SugaredLogger
}

type Processor struct {
	enabled []species.Species
	models  response.Models
	codec   *quant.Codec
	policy  Policy
	workers int
	log     *zap.SugaredLogger
}

// New fixes the set of species for the run. Every enabled species needs a model.
func New(enabled demand.Enabled, models response.Models, cfg Config) (*Processor, error) {
	if cfg.Codec == nil {
		return nil, errors.Configf("codec is required")
	}
	policy := cfg.OnInvalid
	if policy == "" {
		policy = PolicyFlag
	}
	if policy != PolicyFlag && policy != PolicyFail {
		return nil, errors.Configf("unknown invalid-track policy %q", policy)
	}

	list := enabled.Species()
	for _, s := range list {
		if models[s] == nil {
			return nil, errors.Configf("no response model for enabled species %s", s)
		}
	}

	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Processor{
		enabled: list,
		models:  models,
		codec:   cfg.Codec,
		policy:  policy,
		workers: cfg.Workers,
		log:     log,
	}, nil
}

// Enabled lists the species this processor produces tables for.
func (p *Processor) Enabled() []species.Species {
	out := make([]species.Species, len(p.enabled))
	copy(out, p.enabled)
	return out
}

type Stats struct {
	Tracks  int
	Invalid map[species.Species]int
}

// Process evaluates and encodes batch for every enabled species. Species
// that are not enabled have no entry in the result.
func (p *Processor) Process(ctx context.Context, batch []tracks.Track) (map[species.Species]*Table, Stats, error) {
	stats := Stats{
		Tracks:  len(batch),
		Invalid: make(map[species.Species]int, len(p.enabled)),
	}
	out := make(map[species.Species]*Table, len(p.enabled))

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	if p.workers > 0 {
		g.SetLimit(p.workers)
	}

	for _, s := range p.enabled {
		s := s
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			table, err := Encode(s, p.models[s], p.codec, batch, p.policy)
			if err != nil {
				return err
			}

			mu.Lock()
			out[s] = table
			stats.Invalid[s] = table.Invalid
			mu.Unlock()

			if table.Invalid > 0 {
				p.log.Debugw("Invalid entries flagged",
					"table", table.Name(),
					"invalid", table.Invalid,
					"tracks", len(batch),
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}

// Encode runs the evaluate-then-encode loop of one species over batch,
// preserving track order.
func Encode(s species.Species, eval Evaluator, codec *quant.Codec, batch []tracks.Track, policy Policy) (*Table, error) {
	table := &Table{
		Species: s,
		Codes:   make([]quant.Code, len(batch)),
		Meta:    codec.Meta(),
	}

	for i, trk := range batch {
		nsigma, err := eval.Separation(trk)
		if err != nil {
			if policy == PolicyFail {
				return nil, errors.Wrapf(err, "%s track %d", s.OutputName(), i)
			}
			table.Codes[i] = codec.Invalid()
			table.Invalid++
			continue
		}
		table.Codes[i] = codec.Encode(nsigma)
	}

	return table, nil
}
