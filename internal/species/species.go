// Package species defines the closed set of particle mass hypotheses that
// tracks are tested against.
package species

import (
	"strings"

	"github.com/strrl/tpcpid/internal/errors"
)

// Species identifies one mass hypothesis. The zero value is Electron.
type Species uint8

const (
	Electron Species = iota
	Muon
	Pion
	Kaon
	Proton
	Deuteron
	Triton
	Helium3
	Alpha
)

// Count is the number of hypotheses.
const Count = 9

// OutputPrefix is prepended to the tag to form a table name.
const OutputPrefix = "pidTPC"

type info struct {
	name   string
	tag    string
	mass   float64 // GeV/c^2
	charge float64 // units of e
}

var table = [Count]info{
	Electron: {"electron", "El", 0.000510998950, 1},
	Muon:     {"muon", "Mu", 0.1056583755, 1},
	Pion:     {"pion", "Pi", 0.13957039, 1},
	Kaon:     {"kaon", "Ka", 0.493677, 1},
	Proton:   {"proton", "Pr", 0.93827208816, 1},
	Deuteron: {"deuteron", "De", 1.87561294257, 1},
	Triton:   {"triton", "Tr", 2.80892113298, 1},
	Helium3:  {"helium3", "He", 2.80839160743, 2},
	Alpha:    {"alpha", "Al", 3.7273794066, 2},
}

// All returns every species in enumeration order.
func All() []Species {
	all := make([]Species, Count)
	for i := range all {
		all[i] = Species(i)
	}
	return all
}

func (s Species) Valid() bool { return s < Count }

func (s Species) String() string {
	if !s.Valid() {
		return "unknown"
	}
	return table[s].name
}

// Tag is the two-letter short name, e.g. "Ka".
func (s Species) Tag() string { return table[s].tag }

// Mass in GeV/c^2.
func (s Species) Mass() float64 { return table[s].mass }

// Charge in units of the elementary charge.
func (s Species) Charge() float64 { return table[s].charge }

// OutputName is the name of the table produced for s, e.g. "pidTPCKa".
func (s Species) OutputName() string { return OutputPrefix + table[s].tag }

// Parse accepts a species name, its tag or its output name, case-insensitively.
func Parse(value string) (Species, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for i, in := range table {
		if v == in.name || v == strings.ToLower(in.tag) || v == strings.ToLower(OutputPrefix+in.tag) {
			return Species(i), nil
		}
	}
	return 0, errors.Configf("unknown species %q", value)
}

// FromOutputName maps a table name back to its species.
func FromOutputName(name string) (Species, bool) {
	for i, in := range table {
		if name == OutputPrefix+in.tag {
			return Species(i), true
		}
	}
	return 0, false
}
