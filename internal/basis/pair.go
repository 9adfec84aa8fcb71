package basis

import (
	"fmt"

	"github.com/matsen/acefit/internal/atoms"
	"gonum.org/v1/gonum/spatial/r3"
)

// pairFunc is P_k summed over all pairs of the given unordered species pair.
type pairFunc struct {
	a, b int // a <= b
	k    int
}

type pairBasis struct {
	species []string
	index   map[string]int
	rCut    float64
	funcs   []pairFunc
	lookup  map[[3]int]int // (a, b, k) -> function index
}

func newPair(species []string, degree int, rCut float64) (*pairBasis, error) {
	if rCut <= 0 {
		return nil, fmt.Errorf("%w: pair cutoff %g", ErrInvalidSpec, rCut)
	}
	p := &pairBasis{
		species: species,
		index:   speciesIndex(species),
		rCut:    rCut,
		lookup:  make(map[[3]int]int),
	}
	for a := range species {
		for b := a; b < len(species); b++ {
			for k := 1; k <= degree; k++ {
				p.lookup[[3]int{a, b, k}] = len(p.funcs)
				p.funcs = append(p.funcs, pairFunc{a: a, b: b, k: k})
			}
		}
	}
	return p, nil
}

func (p *pairBasis) Len() int {
	return len(p.funcs)
}

func (p *pairBasis) Labels() []string {
	labels := make([]string, len(p.funcs))
	for i, fn := range p.funcs {
		labels[i] = fmt.Sprintf("pair[%s-%s|%d]", p.species[fn.a], p.species[fn.b], fn.k)
	}
	return labels
}

func (p *pairBasis) Evaluate(c *atoms.Configuration) Values {
	n := c.NumAtoms()
	nf := len(p.funcs)
	v := Values{
		Energy: make([]float64, nf),
		Forces: make([][]float64, nf),
		Virial: make([][6]float64, nf),
	}
	grads := make([][]r3.Vec, nf)
	for b := range grads {
		grads[b] = make([]r3.Vec, n)
	}

	degree := 0
	for _, fn := range p.funcs {
		degree = max(degree, fn.k)
	}

	nbrs := atoms.Neighbors(c, p.rCut)
	for i := 0; i < n; i++ {
		si, ok := p.index[c.Species[i]]
		if !ok {
			continue
		}
		for _, nb := range nbrs[i] {
			sj, ok := p.index[c.Species[nb.J]]
			if !ok {
				continue
			}
			a, b := min(si, sj), max(si, sj)
			for k := 1; k <= degree; k++ {
				fi := p.lookup[[3]int{a, b, k}]
				r, dr := pairRadial(k, nb.Dist, p.rCut)
				// Every pair is visited from both sides.
				v.Energy[fi] += 0.5 * r
				d := r3.Scale(0.5*dr/nb.Dist, nb.R)
				accumulate(&v.Virial[fi], grads[fi], i, nb, d)
			}
		}
	}

	for b := range grads {
		v.Forces[b] = negFlatten(grads[b])
	}
	return v
}

// Polynomial is the built-in Library: Chebyshev radial functions with smooth
// polynomial envelopes.
type Polynomial struct{}

// ManyBody builds the many-body part.
func (Polynomial) ManyBody(species []string, order, degree int, rIn, rCut float64) (Basis, error) {
	mb, err := newManyBody(species, order, degree, rIn, rCut)
	if err != nil {
		return nil, err
	}
	return mb, nil
}

// Pair builds the pair part.
func (Polynomial) Pair(species []string, degree int, rCut float64) (Basis, error) {
	p, err := newPair(species, degree, rCut)
	if err != nil {
		return nil, err
	}
	return p, nil
}
