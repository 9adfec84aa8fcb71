// Package atoms defines configuration records and the dataset loader that
// produces them.
package atoms

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// Kind identifies an observed quantity.
type Kind string

const (
	Energy Kind = "E"
	Forces Kind = "F"
	Virial Kind = "V"
	Stress Kind = "S"
)

// IsolatedAtomType is the reserved config type marking isolated-atom references.
const IsolatedAtomType = "isolated_atom"

// DefaultConfigType is used when a record carries no config_type.
const DefaultConfigType = "default"

// FittedKinds lists the observation kinds that produce design-matrix rows, in row order.
var FittedKinds = []Kind{Energy, Forces, Virial}

// Keys maps observation kinds to the field names they are read from.
type Keys map[Kind]string

// DefaultKeys returns the standard field names.
func DefaultKeys() Keys {
	return Keys{
		Energy: "energy",
		Forces: "forces",
		Virial: "virial",
	}
}

// Configuration is one structural snapshot. It is not modified after loading.
type Configuration struct {
	Species    []string
	Positions  []r3.Vec
	Cell       [3]r3.Vec
	PBC        [3]bool
	ConfigType string

	Energy *float64
	Forces []r3.Vec
	Virial *[6]float64 // Voigt order: xx, yy, zz, yz, xz, xy
}

// NumAtoms returns the number of atoms.
func (c *Configuration) NumAtoms() int {
	return len(c.Species)
}

// Has reports whether the observation of the given kind is present.
func (c *Configuration) Has(kind Kind) bool {
	switch kind {
	case Energy:
		return c.Energy != nil
	case Forces:
		return c.Forces != nil
	case Virial:
		return c.Virial != nil
	}
	return false
}

// RowCount returns the number of design-matrix rows the observation of the
// given kind contributes, or 0 when it is absent.
func (c *Configuration) RowCount(kind Kind) int {
	if !c.Has(kind) {
		return 0
	}
	return KindRows(kind, c.NumAtoms())
}

// KindRows returns the row count of an observation of the given kind for a
// configuration of natoms atoms.
func KindRows(kind Kind, natoms int) int {
	switch kind {
	case Energy:
		return 1
	case Forces:
		return 3 * natoms
	case Virial:
		return 6
	}
	return 0
}

// Observed returns the observed values of the given kind flattened in row order.
func (c *Configuration) Observed(kind Kind) []float64 {
	switch kind {
	case Energy:
		if c.Energy != nil {
			return []float64{*c.Energy}
		}
	case Forces:
		if c.Forces != nil {
			return FlattenVecs(c.Forces)
		}
	case Virial:
		if c.Virial != nil {
			v := *c.Virial
			return v[:]
		}
	}
	return nil
}

// Volume returns the absolute cell volume.
func (c *Configuration) Volume() float64 {
	v := r3.Dot(c.Cell[0], r3.Cross(c.Cell[1], c.Cell[2]))
	if v < 0 {
		return -v
	}
	return v
}

// Validate checks internal consistency of array lengths.
func (c *Configuration) Validate() error {
	if len(c.Species) == 0 {
		return fmt.Errorf("%w: configuration has no atoms", ErrMalformed)
	}
	if len(c.Positions) != len(c.Species) {
		return fmt.Errorf("%w: %d positions for %d atoms", ErrMalformed, len(c.Positions), len(c.Species))
	}
	if c.Forces != nil && len(c.Forces) != len(c.Species) {
		return fmt.Errorf("%w: %d forces for %d atoms", ErrMalformed, len(c.Forces), len(c.Species))
	}
	return nil
}

// FlattenVecs flattens vectors into x0, y0, z0, x1, ... order.
func FlattenVecs(vs []r3.Vec) []float64 {
	out := make([]float64, 0, 3*len(vs))
	for _, v := range vs {
		out = append(out, v.X, v.Y, v.Z)
	}
	return out
}

// SpeciesSet returns the sorted distinct species across all configurations.
func SpeciesSet(configs []Configuration) []string {
	seen := make(map[string]bool)
	var out []string
	for i := range configs {
		for _, s := range configs[i].Species {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

// TotalRows sums RowCount over every (kind, configuration) pair.
func TotalRows(configs []Configuration) int {
	total := 0
	for i := range configs {
		for _, kind := range FittedKinds {
			total += configs[i].RowCount(kind)
		}
	}
	return total
}
