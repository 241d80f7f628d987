// Package param loads the parametrized functions that give the expected
// TPC signal and its resolution for a mass hypothesis.
package param

import (
	"math"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/strrl/tpcpid/internal/errors"
	"github.com/strrl/tpcpid/internal/species"
)

// Kind selects which of the two response functions a parametrization is.
type Kind string

const (
	KindSignal Kind = "signal"
	KindSigma  Kind = "sigma"
)

func (k Kind) Valid() bool { return k == KindSignal || k == KindSigma }

// Document is the serialized form of one parametrization.
type Document struct {
	Name    string    `yaml:"name"`
	Kind    Kind      `yaml:"kind"`
	Formula string    `yaml:"formula"`
	Params  []float64 `yaml:"params"`
}

// File is the local container holding several parametrizations by name.
type File struct {
	Parametrizations map[string]Document `yaml:"parametrizations"`
}

// Parametrization is an immutable function of (species, inner momentum).
type Parametrization struct {
	name    string
	kind    Kind
	formula string
	params  []float64
	eval    formulaFunc
}

// Build validates doc against the formula table. The returned value owns a
// copy of the parameters.
func Build(doc Document, kind Kind) (*Parametrization, error) {
	if strings.TrimSpace(doc.Name) == "" {
		return nil, errors.Configf("parametrization name is empty")
	}
	if !kind.Valid() {
		return nil, errors.Configf("parametrization %s: unknown kind %q", doc.Name, kind)
	}
	if doc.Kind != "" && doc.Kind != kind {
		return nil, errors.Configf("parametrization %s is a %s function, wanted %s", doc.Name, doc.Kind, kind)
	}

	f, ok := formulas[doc.Formula]
	if !ok {
		return nil, errors.Configf("parametrization %s: unknown formula %q", doc.Name, doc.Formula)
	}
	if len(doc.Params) != f.nParams {
		return nil, errors.Configf("parametrization %s: formula %s takes %d params, got %d",
			doc.Name, doc.Formula, f.nParams, len(doc.Params))
	}
	for i, v := range doc.Params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Configf("parametrization %s: param %d is not finite", doc.Name, i)
		}
	}

	params := make([]float64, len(doc.Params))
	copy(params, doc.Params)
	return &Parametrization{
		name:    doc.Name,
		kind:    kind,
		formula: doc.Formula,
		params:  params,
		eval:    f.eval,
	}, nil
}

// Decode parses a single serialized parametrization as stored in the blob store.
func Decode(data []byte, name string, kind Kind) (*Parametrization, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "decoding parametrization %s", name), errors.ErrConfiguration)
	}
	if doc.Name == "" {
		doc.Name = name
	}
	if doc.Name != name {
		return nil, errors.Configf("object holds parametrization %s, wanted %s", doc.Name, name)
	}
	return Build(doc, kind)
}

// Lookup finds name in a parsed file container.
func (f *File) Lookup(name string, kind Kind) (*Parametrization, error) {
	doc, ok := f.Parametrizations[name]
	if !ok {
		return nil, errors.Configf("parametrization %s not found in file", name)
	}
	if doc.Name == "" {
		doc.Name = name
	}
	return Build(doc, kind)
}

func (p *Parametrization) Name() string    { return p.name }
func (p *Parametrization) Kind() Kind      { return p.kind }
func (p *Parametrization) Formula() string { return p.formula }

// Params returns a copy of the parameter vector.
func (p *Parametrization) Params() []float64 {
	out := make([]float64, len(p.params))
	copy(out, p.params)
	return out
}

// Eval returns the function value for s at the given inner momentum (p/z, GeV/c).
func (p *Parametrization) Eval(s species.Species, innerMomentum float64) float64 {
	return p.eval(p.params, s, innerMomentum)
}
