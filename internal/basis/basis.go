// Package basis assembles the combined many-body + pair basis used for fitting.
//
// The mathematical definition of basis functions lives behind the Library
// interface; this package only marshals parameters into it and composes the
// resulting parts.
package basis

import (
	"errors"
	"fmt"

	"github.com/matsen/acefit/internal/atoms"
	"github.com/matsen/acefit/internal/cutoff"
)

// ErrInvalidSpec is returned for basis parameters that cannot produce a basis.
var ErrInvalidSpec = errors.New("invalid basis specification")

// Spec fully describes a combined basis. Assembling the same Spec with the same
// Library yields an identical basis.
type Spec struct {
	Species    []string      `json:"species" yaml:"species"`
	BodyOrder  int           `json:"body_order" yaml:"body_order"`
	Degree     int           `json:"degree" yaml:"degree"`
	PairDegree int           `json:"pair_degree" yaml:"pair_degree"`
	Cutoffs    cutoff.Params `json:"cutoffs" yaml:"cutoffs"`
}

// CorrelationOrder returns N, the number of neighbors correlated by the
// many-body part (body order minus the center atom).
func (s Spec) CorrelationOrder() int {
	return s.BodyOrder - 1
}

// Validate checks that the spec can be assembled.
func (s Spec) Validate() error {
	if len(s.Species) == 0 {
		return fmt.Errorf("%w: no species", ErrInvalidSpec)
	}
	if s.BodyOrder < 2 {
		return fmt.Errorf("%w: body order %d must be at least 2", ErrInvalidSpec, s.BodyOrder)
	}
	if s.Degree < 1 {
		return fmt.Errorf("%w: degree %d must be at least 1", ErrInvalidSpec, s.Degree)
	}
	if s.PairDegree < 0 {
		return fmt.Errorf("%w: pair degree %d must not be negative", ErrInvalidSpec, s.PairDegree)
	}
	return nil
}

// Values holds every basis function's contribution to one configuration's
// observations.
type Values struct {
	Energy []float64    // [function]
	Forces [][]float64  // [function][3*natoms], -dE/dx
	Virial [][6]float64 // [function], Voigt order
}

// Block returns the design-matrix rows of one observation kind, each row
// holding one value per basis function.
func (v Values) Block(kind atoms.Kind) [][]float64 {
	n := len(v.Energy)
	switch kind {
	case atoms.Energy:
		row := make([]float64, n)
		copy(row, v.Energy)
		return [][]float64{row}
	case atoms.Forces:
		if n == 0 {
			return nil
		}
		rows := make([][]float64, len(v.Forces[0]))
		for r := range rows {
			rows[r] = make([]float64, n)
			for b := 0; b < n; b++ {
				rows[r][b] = v.Forces[b][r]
			}
		}
		return rows
	case atoms.Virial:
		rows := make([][]float64, 6)
		for r := range rows {
			rows[r] = make([]float64, n)
			for b := 0; b < n; b++ {
				rows[r][b] = v.Virial[b][r]
			}
		}
		return rows
	}
	return nil
}

// Basis is a set of functions evaluable on a configuration.
type Basis interface {
	// Len returns the number of basis functions.
	Len() int

	// Labels returns a stable name for each function.
	Labels() []string

	// Evaluate returns every function's energy, force and virial values.
	Evaluate(c *atoms.Configuration) Values
}

// Library constructs basis parts.
type Library interface {
	ManyBody(species []string, order, degree int, rIn, rCut float64) (Basis, error)
	Pair(species []string, degree int, rCut float64) (Basis, error)
}

// Combined concatenates basis parts; many-body functions come first.
type Combined struct {
	Spec  Spec
	parts []Basis
}

// Assemble builds the combined basis described by spec.
func Assemble(lib Library, spec Spec) (*Combined, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	c := spec.Cutoffs

	mb, err := lib.ManyBody(spec.Species, spec.CorrelationOrder(), spec.Degree, c.RIn, c.RCut)
	if err != nil {
		return nil, fmt.Errorf("many-body basis: %w", err)
	}
	parts := []Basis{mb}

	if spec.PairDegree > 0 {
		pair, err := lib.Pair(spec.Species, spec.PairDegree, c.PairRCut)
		if err != nil {
			return nil, fmt.Errorf("pair basis: %w", err)
		}
		parts = append(parts, pair)
	}

	return &Combined{Spec: spec, parts: parts}, nil
}

// Len returns the total function count.
func (b *Combined) Len() int {
	n := 0
	for _, p := range b.parts {
		n += p.Len()
	}
	return n
}

// Labels returns all part labels in order.
func (b *Combined) Labels() []string {
	var out []string
	for _, p := range b.parts {
		out = append(out, p.Labels()...)
	}
	return out
}

// Evaluate concatenates the values of every part.
func (b *Combined) Evaluate(c *atoms.Configuration) Values {
	var out Values
	for _, p := range b.parts {
		v := p.Evaluate(c)
		out.Energy = append(out.Energy, v.Energy...)
		out.Forces = append(out.Forces, v.Forces...)
		out.Virial = append(out.Virial, v.Virial...)
	}
	return out
}
