// Package response evaluates the TPC detector response for a mass hypothesis.
package response

import (
	"math"

	"github.com/strrl/tpcpid/internal/errors"
	"github.com/strrl/tpcpid/internal/param"
	"github.com/strrl/tpcpid/internal/species"
	"github.com/strrl/tpcpid/internal/tracks"
)

// Model is the energy-loss response for one species. It only references the
// shared parametrizations and is safe for concurrent use.
type Model struct {
	species species.Species
	signal  *param.Parametrization
	sigma   *param.Parametrization
}

// New builds the model of s. Both functions must be of the right kind.
func New(s species.Species, signal, sigma *param.Parametrization) (*Model, error) {
	if !s.Valid() {
		return nil, errors.Configf("invalid species %d", s)
	}
	if signal == nil || sigma == nil {
		return nil, errors.Configf("%s: signal and sigma parametrizations are required", s)
	}
	if signal.Kind() != param.KindSignal {
		return nil, errors.Configf("%s: %s is not a signal parametrization", s, signal.Name())
	}
	if sigma.Kind() != param.KindSigma {
		return nil, errors.Configf("%s: %s is not a sigma parametrization", s, sigma.Name())
	}
	return &Model{species: s, signal: signal, sigma: sigma}, nil
}

// Models holds one model per enabled species, built once per run.
type Models map[species.Species]*Model

// NewModels builds the models of every species in list.
func NewModels(list []species.Species, signal, sigma *param.Parametrization) (Models, error) {
	models := make(Models, len(list))
	for _, s := range list {
		m, err := New(s, signal, sigma)
		if err != nil {
			return nil, err
		}
		models[s] = m
	}
	return models, nil
}

func (m *Model) Species() species.Species { return m.species }

func (m *Model) ExpectedSignal(t tracks.Track) float64 {
	return m.signal.Eval(m.species, t.TPCInnerParam)
}

func (m *Model) ExpectedSigma(t tracks.Track) float64 {
	return m.sigma.Eval(m.species, t.TPCInnerParam)
}

// Separation returns (measured - expected) / sigma. A zero or non-finite
// sigma, a non-finite expectation or a non-finite result is an error marked
// errors.ErrEvaluation.
func (m *Model) Separation(t tracks.Track) (float64, error) {
	expected := m.ExpectedSignal(t)
	if !finite(expected) {
		return math.NaN(), errors.Evaluationf("%s: expected signal is %v at p=%v", m.species, expected, t.TPCInnerParam)
	}
	sigma := m.ExpectedSigma(t)
	if sigma == 0 || !finite(sigma) {
		return math.NaN(), errors.Evaluationf("%s: expected sigma is %v at p=%v", m.species, sigma, t.TPCInnerParam)
	}
	nsigma := (t.TPCSignal - expected) / sigma
	if !finite(nsigma) {
		return math.NaN(), errors.Evaluationf("%s: separation is %v (signal %v)", m.species, nsigma, t.TPCSignal)
	}
	return nsigma, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
