// Package refenergy resolves per-species isolated-atom reference energies.
package refenergy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/matsen/acefit/internal/atoms"
	"github.com/matsen/acefit/internal/diag"
)

// Stage is the diagnostics stage name.
const Stage = "reference-energy"

// Resolution errors.
var (
	ErrConflict     = errors.New("conflicting reference energy sources")
	ErrMissing      = errors.New("missing reference energy")
	ErrIsolatedAtom = errors.New("invalid isolated-atom configuration")
)

// Table maps species to reference energies.
type Table map[string]float64

// Species returns the table keys in sorted order.
func (t Table) Species() []string {
	out := make([]string, 0, len(t))
	for s := range t {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Result holds the two aggregates derived from one pass over the dataset.
type Result struct {
	Species     []string
	E0          Table
	Diagnostics diag.List
}

// Resolve scans configurations once, collecting the species set and the
// isolated-atom reference energies, and merges them with overrides. A species
// may be given by an override or by the dataset, never both.
func Resolve(configs []atoms.Configuration, overrides Table) (*Result, error) {
	res := &Result{E0: make(Table, len(overrides))}
	for s, e := range overrides {
		res.E0[s] = e
	}
	if len(overrides) > 0 {
		res.Diagnostics.Warnf(Stage,
			"using command-line E0 for %v; isolated-atom energies are only reproduced if matching configurations are also in the fitting set",
			overrides.Species())
	}

	seen := make(map[string]bool)
	fromData := make(map[string]bool)
	for i := range configs {
		c := &configs[i]
		for _, s := range c.Species {
			if !seen[s] {
				seen[s] = true
				res.Species = append(res.Species, s)
			}
		}

		if c.ConfigType != atoms.IsolatedAtomType {
			continue
		}
		if c.NumAtoms() != 1 {
			return nil, fmt.Errorf("%w: configuration %d has %d atoms", ErrIsolatedAtom, i, c.NumAtoms())
		}
		if c.Energy == nil {
			return nil, fmt.Errorf("%w: configuration %d has no energy", ErrIsolatedAtom, i)
		}

		s := c.Species[0]
		if _, ok := overrides[s]; ok {
			return nil, fmt.Errorf("%w: %s has both a command-line E0 and an isolated-atom configuration", ErrConflict, s)
		}
		if prev, ok := res.E0[s]; ok && fromData[s] && prev != *c.Energy {
			res.Diagnostics.Warnf(Stage, "multiple isolated-atom energies for %s (%g, %g); using the last", s, prev, *c.Energy)
		}
		res.E0[s] = *c.Energy
		fromData[s] = true
	}
	sort.Strings(res.Species)

	for _, s := range res.Species {
		if _, ok := res.E0[s]; !ok {
			return nil, fmt.Errorf("%w: no E0 for species %s (add an isolated_atom configuration or --e0 %s=<energy>)", ErrMissing, s, s)
		}
	}

	for _, s := range res.E0.Species() {
		if !seen[s] {
			res.Diagnostics.Infof(Stage, "E0 given for %s which does not occur in the dataset", s)
		}
	}

	return res, nil
}

// OneBody is the fixed reference-energy model subtracted before fitting.
type OneBody struct {
	E0 Table `json:"E0"`
}

// NewOneBody builds the reference model from a resolved table.
func NewOneBody(t Table) OneBody {
	return OneBody{E0: t}
}

// Energy returns the summed reference energy of the given atoms. Species
// without an entry contribute zero.
func (m OneBody) Energy(species []string) float64 {
	e := 0.0
	for _, s := range species {
		e += m.E0[s]
	}
	return e
}
