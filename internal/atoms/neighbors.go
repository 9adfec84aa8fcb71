package atoms

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Neighbor is one entry of an atom's neighbor list.
type Neighbor struct {
	J    int     // index of the neighbor atom
	R    r3.Vec  // x_j + shift - x_i
	Dist float64 // |R|
}

// Neighbors returns a full neighbor list (every pair appears from both sides)
// of all atoms within cutoff, including periodic images along periodic axes.
func Neighbors(c *Configuration, cutoff float64) [][]Neighbor {
	n := c.NumAtoms()
	lists := make([][]Neighbor, n)
	if cutoff <= 0 {
		return lists
	}

	shifts := imageShifts(c, cutoff)
	for i := 0; i < n; i++ {
		for _, shift := range shifts {
			for j := 0; j < n; j++ {
				if i == j && shift == (r3.Vec{}) {
					continue
				}
				d := r3.Sub(r3.Add(c.Positions[j], shift), c.Positions[i])
				dist := r3.Norm(d)
				if dist < cutoff && dist > 0 {
					lists[i] = append(lists[i], Neighbor{J: j, R: d, Dist: dist})
				}
			}
		}
	}
	return lists
}

// imageShifts enumerates the lattice translations needed to find every
// neighbor within cutoff. The zero shift is always first.
func imageShifts(c *Configuration, cutoff float64) []r3.Vec {
	shifts := []r3.Vec{{}}
	vol := c.Volume()
	if vol < 1e-12 {
		return shifts
	}

	var reps [3]int
	for k := 0; k < 3; k++ {
		if !c.PBC[k] {
			continue
		}
		face := r3.Norm(r3.Cross(c.Cell[(k+1)%3], c.Cell[(k+2)%3]))
		width := vol / face
		reps[k] = int(math.Ceil(cutoff / width))
	}

	for a := -reps[0]; a <= reps[0]; a++ {
		for b := -reps[1]; b <= reps[1]; b++ {
			for d := -reps[2]; d <= reps[2]; d++ {
				if a == 0 && b == 0 && d == 0 {
					continue
				}
				s := r3.Add(r3.Add(r3.Scale(float64(a), c.Cell[0]), r3.Scale(float64(b), c.Cell[1])), r3.Scale(float64(d), c.Cell[2]))
				shifts = append(shifts, s)
			}
		}
	}
	return shifts
}
