// Package aggregator folds per-batch results into a run summary.
package aggregator

import (
	"math"
	"sort"
	"time"

	"github.com/strrl/tpcpid/internal/pipeline"
	"github.com/strrl/tpcpid/internal/quant"
	"github.com/strrl/tpcpid/internal/species"
)

// SpeciesSummary describes one produced table over the whole run.
type SpeciesSummary struct {
	Species    species.Species
	Table      string
	Entries    int
	Invalid    int
	MeanNSigma float64
	Meta       quant.Meta
}

type Summary struct {
	StartedAt time.Time
	Batches   int
	Tracks    int
	Species   []SpeciesSummary
}

type accumulator struct {
	entries int
	invalid int
	sum     float64
	meta    quant.Meta
}

type Aggregator struct {
	codec      *quant.Codec
	startedAt  time.Time
	batches    int
	tracks     int
	perSpecies map[species.Species]*accumulator
}

func NewAggregator(codec *quant.Codec) *Aggregator {
	return &Aggregator{
		codec:      codec,
		startedAt:  time.Now(),
		perSpecies: make(map[species.Species]*accumulator),
	}
}

// Add records one processed batch.
func (a *Aggregator) Add(tables map[species.Species]*pipeline.Table, stats pipeline.Stats) {
	a.batches++
	a.tracks += stats.Tracks

	for s, table := range tables {
		acc, ok := a.perSpecies[s]
		if !ok {
			acc = &accumulator{meta: table.Meta}
			a.perSpecies[s] = acc
		}
		acc.entries += len(table.Codes)
		for _, code := range table.Codes {
			if a.codec.IsInvalid(code) {
				acc.invalid++
				continue
			}
			acc.sum += a.codec.Decode(code)
		}
	}
}

// Summary returns the totals so far, species in enumeration order.
func (a *Aggregator) Summary() *Summary {
	summary := &Summary{
		StartedAt: a.startedAt,
		Batches:   a.batches,
		Tracks:    a.tracks,
	}

	for s, acc := range a.perSpecies {
		mean := math.NaN()
		if valid := acc.entries - acc.invalid; valid > 0 {
			mean = acc.sum / float64(valid)
		}
		summary.Species = append(summary.Species, SpeciesSummary{
			Species:    s,
			Table:      s.OutputName(),
			Entries:    acc.entries,
			Invalid:    acc.invalid,
			MeanNSigma: mean,
			Meta:       acc.meta,
		})
	}

	sort.Slice(summary.Species, func(i, j int) bool {
		return summary.Species[i].Species < summary.Species[j].Species
	})

	return summary
}
