package basis

import (
	"fmt"
	"strings"

	"github.com/matsen/acefit/internal/atoms"
	"gonum.org/v1/gonum/spatial/r3"
)

// feature is one atomic density A_{b,k}(i) = sum over neighbors j of species b
// of R_k(r_ij).
type feature struct {
	species int
	k       int
}

// product is one many-body function: the sum over center atoms of the given
// species of a product of features.
type product struct {
	center int
	feats  []int // non-decreasing indices into manyBody.features
}

type manyBody struct {
	species  []string
	index    map[string]int
	rIn      float64
	rCut     float64
	degree   int
	features []feature
	funcs    []product
}

func newManyBody(species []string, order, degree int, rIn, rCut float64) (*manyBody, error) {
	if order < 1 {
		return nil, fmt.Errorf("%w: correlation order %d", ErrInvalidSpec, order)
	}
	if rCut <= rIn {
		return nil, fmt.Errorf("%w: r_cut %g must exceed r_in %g", ErrInvalidSpec, rCut, rIn)
	}

	mb := &manyBody{
		species: species,
		index:   speciesIndex(species),
		rIn:     rIn,
		rCut:    rCut,
		degree:  degree,
	}
	for s := range species {
		for k := 1; k <= degree; k++ {
			mb.features = append(mb.features, feature{species: s, k: k})
		}
	}

	for center := range species {
		for nu := 1; nu <= order; nu++ {
			mb.enumerate(center, nu, degree, 0, nil)
		}
	}
	return mb, nil
}

// enumerate appends every non-decreasing feature tuple of length nu whose
// total degree does not exceed budget.
func (mb *manyBody) enumerate(center, nu, budget, start int, prefix []int) {
	if len(prefix) == nu {
		feats := make([]int, nu)
		copy(feats, prefix)
		mb.funcs = append(mb.funcs, product{center: center, feats: feats})
		return
	}
	for f := start; f < len(mb.features); f++ {
		k := mb.features[f].k
		// Remaining slots need at least degree 1 each.
		if k+(nu-len(prefix)-1) > budget {
			continue
		}
		mb.enumerate(center, nu, budget-k, f, append(prefix, f))
	}
}

func (mb *manyBody) Len() int {
	return len(mb.funcs)
}

func (mb *manyBody) Labels() []string {
	labels := make([]string, len(mb.funcs))
	for i, fn := range mb.funcs {
		parts := make([]string, len(fn.feats))
		for t, f := range fn.feats {
			ft := mb.features[f]
			parts[t] = fmt.Sprintf("%s%d", mb.species[ft.species], ft.k)
		}
		labels[i] = fmt.Sprintf("mb[%s|%s]", mb.species[fn.center], strings.Join(parts, ","))
	}
	return labels
}

func (mb *manyBody) Evaluate(c *atoms.Configuration) Values {
	n := c.NumAtoms()
	nf := len(mb.funcs)
	v := Values{
		Energy: make([]float64, nf),
		Forces: make([][]float64, nf),
		Virial: make([][6]float64, nf),
	}
	grads := make([][]r3.Vec, nf)
	for b := range grads {
		grads[b] = make([]r3.Vec, n)
	}

	nbrs := atoms.Neighbors(c, mb.rCut)
	degree := mb.degree

	A := make([]float64, len(mb.features))
	// dR[n][k-1] holds R'_k for neighbor n
	var dR [][]float64
	for i := 0; i < n; i++ {
		center, ok := mb.index[c.Species[i]]
		if !ok {
			continue
		}

		clear(A)
		dR = dR[:0]
		for _, nb := range nbrs[i] {
			row := make([]float64, degree)
			s, known := mb.index[c.Species[nb.J]]
			if known {
				for k := 1; k <= degree; k++ {
					r, dr := innerRadial(k, nb.Dist, mb.rIn, mb.rCut)
					A[s*degree+k-1] += r
					row[k-1] = dr
				}
			}
			dR = append(dR, row)
		}

		for b, fn := range mb.funcs {
			if fn.center != center {
				continue
			}
			prod := 1.0
			for _, f := range fn.feats {
				prod *= A[f]
			}
			v.Energy[b] += prod

			for t, f := range fn.feats {
				rest := 1.0
				for u, g := range fn.feats {
					if u != t {
						rest *= A[g]
					}
				}
				if rest == 0 {
					continue
				}
				ft := mb.features[f]
				for m, nb := range nbrs[i] {
					if s, known := mb.index[c.Species[nb.J]]; !known || s != ft.species {
						continue
					}
					d := r3.Scale(rest*dR[m][ft.k-1]/nb.Dist, nb.R)
					accumulate(&v.Virial[b], grads[b], i, nb, d)
				}
			}
		}
	}

	for b := range grads {
		v.Forces[b] = negFlatten(grads[b])
	}
	return v
}

// accumulate adds the derivative d = dE/dR for the pair (i, nb) to the
// gradient and virial.
func accumulate(vir *[6]float64, grad []r3.Vec, i int, nb atoms.Neighbor, d r3.Vec) {
	grad[nb.J] = r3.Add(grad[nb.J], d)
	grad[i] = r3.Sub(grad[i], d)

	R := nb.R
	vir[0] -= R.X * d.X
	vir[1] -= R.Y * d.Y
	vir[2] -= R.Z * d.Z
	vir[3] -= 0.5 * (R.Y*d.Z + R.Z*d.Y)
	vir[4] -= 0.5 * (R.X*d.Z + R.Z*d.X)
	vir[5] -= 0.5 * (R.X*d.Y + R.Y*d.X)
}

func negFlatten(grad []r3.Vec) []float64 {
	out := make([]float64, 0, 3*len(grad))
	for _, g := range grad {
		out = append(out, -g.X, -g.Y, -g.Z)
	}
	return out
}

func speciesIndex(species []string) map[string]int {
	idx := make(map[string]int, len(species))
	for i, s := range species {
		idx[s] = i
	}
	return idx
}
