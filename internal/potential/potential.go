// Package potential holds a fitted linear potential and evaluates it.
package potential

import (
	"errors"
	"fmt"

	"github.com/matsen/acefit/internal/atoms"
	"github.com/matsen/acefit/internal/basis"
	"github.com/matsen/acefit/internal/refenergy"
)

// ErrCoefficients is returned when coefficients do not match the basis.
var ErrCoefficients = errors.New("coefficient count does not match basis")

// Potential is E = sum over atoms of E0(species) + sum_b c_b B_b.
type Potential struct {
	Basis        basis.Spec      `json:"basis"`
	Labels       []string        `json:"labels"`
	Coefficients []float64       `json:"coefficients"`
	E0           refenergy.Table `json:"e0"`

	b       basis.Basis
	oneBody refenergy.OneBody
}

// New binds coefficients to an assembled basis.
func New(b basis.Basis, spec basis.Spec, coeffs []float64, e0 refenergy.Table) (*Potential, error) {
	if len(coeffs) != b.Len() {
		return nil, fmt.Errorf("%w: %d coefficients for %d functions", ErrCoefficients, len(coeffs), b.Len())
	}
	return &Potential{
		Basis:        spec,
		Labels:       b.Labels(),
		Coefficients: coeffs,
		E0:           e0,
		b:            b,
		oneBody:      refenergy.NewOneBody(e0),
	}, nil
}

// Prediction is the potential's output for one configuration, each kind
// flattened in design-matrix row order.
type Prediction map[atoms.Kind][]float64

// Predict evaluates energy, forces and virial.
func (p *Potential) Predict(c *atoms.Configuration) Prediction {
	v := p.b.Evaluate(c)

	energy := p.oneBody.Energy(c.Species)
	forces := make([]float64, 3*c.NumAtoms())
	var virial [6]float64
	for k, coef := range p.Coefficients {
		energy += coef * v.Energy[k]
		for i, f := range v.Forces[k] {
			forces[i] += coef * f
		}
		for i, w := range v.Virial[k] {
			virial[i] += coef * w
		}
	}

	return Prediction{
		atoms.Energy: {energy},
		atoms.Forces: forces,
		atoms.Virial: virial[:],
	}
}
