// Package demand decides which species tables a run has to produce.
package demand

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/strrl/tpcpid/internal/errors"
	"github.com/strrl/tpcpid/internal/species"
)

// Flag is the configured enablement of one species.
type Flag int

const (
	Auto Flag = -1
	Off  Flag = 0
	On   Flag = 1
)

func (f Flag) String() string {
	switch f {
	case Auto:
		return "auto"
	case Off:
		return "off"
	case On:
		return "on"
	default:
		return "invalid(" + strconv.Itoa(int(f)) + ")"
	}
}

// ParseFlag accepts -1/0/1 or auto/off/on.
func ParseFlag(value string) (Flag, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "-1", "auto", "":
		return Auto, nil
	case "0", "off", "false":
		return Off, nil
	case "1", "on", "true":
		return On, nil
	}
	return Auto, errors.Configf("invalid enable flag %q: want -1/auto, 0/off or 1/on", value)
}

func (f Flag) Valid() bool { return f == Auto || f == Off || f == On }

// Flags maps each species to its configured flag. Missing species are Auto.
type Flags map[species.Species]Flag

// Enabled is the resolved, immutable decision per species.
type Enabled [species.Count]bool

func (e Enabled) Species() []species.Species {
	var out []species.Species
	for _, s := range species.All() {
		if e[s] {
			out = append(out, s)
		}
	}
	return out
}

func (e Enabled) Any() bool {
	for _, on := range e {
		if on {
			return true
		}
	}
	return false
}

// Resolver applies the enablement policy. It is a pure function of its
// inputs; the only side effect is one log line per species.
type Resolver struct {
	log *zap.SugaredLogger
}

func NewResolver(log *zap.SugaredLogger) *Resolver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Resolver{log: log}
}

// Resolve turns flags into a decision per species. Off and On win over
// demand; Auto enables a species only if its output name was requested.
// A flag outside auto/off/on disables its species and is logged as a warning.
func (r *Resolver) Resolve(requested Set, flags Flags) Enabled {
	var enabled Enabled
	for _, s := range species.All() {
		table := s.OutputName()
		wanted := requested.Has(table)

		flag, ok := flags[s]
		if !ok {
			flag = Auto
		}

		switch flag {
		case Auto:
			enabled[s] = wanted
			if wanted {
				r.log.Infow("Auto-enabling table", "table", table)
			} else {
				r.log.Debugw("Table not requested", "table", table)
			}
		case Off:
			enabled[s] = false
			r.log.Infow("Table disabled", "table", table, "requested", wanted)
		case On:
			enabled[s] = true
			r.log.Infow("Table enabled", "table", table, "requested", wanted)
		default:
			enabled[s] = false
			r.log.Warnw("Invalid enable flag, table disabled", "table", table, "flag", flag)
		}
	}

	for _, name := range requested.Sorted() {
		if _, ok := species.FromOutputName(name); !ok {
			r.log.Debugw("Requested output is not a TPC PID table", "name", name)
		}
	}
	return enabled
}

// Set is a flat set of requested output names.
type Set map[string]struct{}

func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

func (s Set) Add(names ...string) {
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			s[n] = struct{}{}
		}
	}
}

// Sorted returns the names in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Consumer is one downstream processing stage and the outputs it reads.
type Consumer struct {
	Name   string   `yaml:"name"`
	Inputs []string `yaml:"inputs"`
}

// Workflow is the consumer graph of a run as written in a workflow file.
type Workflow struct {
	Consumers []Consumer `yaml:"consumers"`
}

// FromConsumers flattens the inputs of all consumers into one set.
func FromConsumers(consumers []Consumer) Set {
	s := NewSet()
	for _, c := range consumers {
		s.Add(c.Inputs...)
	}
	return s
}

// LoadWorkflow reads a YAML workflow file.
func LoadWorkflow(path string) (*Workflow, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "reading workflow %s", path), errors.ErrConfiguration)
	}

	var wf Workflow
	if err := yaml.Unmarshal(b, &wf); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "parsing workflow %s", path), errors.ErrConfiguration)
	}
	return &wf, nil
}
