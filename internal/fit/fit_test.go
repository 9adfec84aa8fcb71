package fit

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/matsen/acefit/internal/atoms"
	"github.com/matsen/acefit/internal/basis"
	"github.com/matsen/acefit/internal/cutoff"
	"github.com/matsen/acefit/internal/lsq"
	"github.com/matsen/acefit/internal/potential"
	"github.com/matsen/acefit/internal/refenergy"
	"github.com/matsen/acefit/internal/solver"
	"github.com/matsen/acefit/internal/weights"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

var e0 = refenergy.Table{"Cu": -3.5}

func spec() basis.Spec {
	return basis.Spec{
		Species:    []string{"Cu"},
		BodyOrder:  3,
		Degree:     3,
		PairDegree: 2,
		Cutoffs:    cutoff.Params{R0: 2.5, RIn: 1.5, RCut: 5, PairRCut: 6},
	}
}

// synthetic labels configurations with a known potential so that an exact fit exists.
func synthetic(t *testing.T) (*basis.Combined, []atoms.Configuration, []float64) {
	t.Helper()
	b, err := basis.Assemble(basis.Polynomial{}, spec())
	require.NoError(t, err)

	truth := make([]float64, b.Len())
	for i := range truth {
		truth[i] = 0.05 * float64(i%3+1)
	}
	pot, err := potential.New(b, spec(), truth, e0)
	require.NoError(t, err)

	geoms := [][]r3.Vec{
		{{}},
		{{}, {X: 2.2}},
		{{}, {X: 2.6}},
		{{}, {X: 3.1, Y: 0.2}},
		{{}, {X: 2.3}, {Y: 2.4}},
		{{}, {X: 2.5, Z: 0.3}, {X: 1.1, Y: 2.1}},
		{{}, {X: 2.4}, {Y: 2.7}, {Z: 2.2}},
	}
	configs := make([]atoms.Configuration, len(geoms))
	for i, g := range geoms {
		c := atoms.Configuration{
			Species:    make([]string, len(g)),
			Positions:  g,
			ConfigType: "cluster",
		}
		for j := range c.Species {
			c.Species[j] = "Cu"
		}
		if i == 0 {
			c.ConfigType = atoms.IsolatedAtomType
		}
		pred := pot.Predict(&c)
		e := pred[atoms.Energy][0]
		c.Energy = &e
		for j := range g {
			f := pred[atoms.Forces][3*j : 3*j+3]
			c.Forces = append(c.Forces, r3.Vec{X: f[0], Y: f[1], Z: f[2]})
		}
		configs[i] = c
	}
	return b, configs, truth
}

func buildDB(t *testing.T, b basis.Basis, configs []atoms.Configuration) *lsq.Database {
	t.Helper()
	db, err := lsq.Build(context.Background(), b, spec(), configs, lsq.BuildOptions{Threads: 2})
	require.NoError(t, err)
	return db
}

func TestFit_RecoversExactPotential(t *testing.T) {
	b, configs, _ := synthetic(t)
	db := buildDB(t, b, configs)

	for _, tok := range []string{"rrqr=[1e-12]", "qr", "lsqr=[0, 1e-14, 2000]"} {
		t.Run(tok, func(t *testing.T) {
			cfg, err := solver.ParseToken(tok)
			require.NoError(t, err)

			res, err := NewFitter(db, b, refenergy.NewOneBody(e0), nil).Fit(context.Background(), weights.Default(), cfg)
			require.NoError(t, err)
			assert.Equal(t, db.ID, res.Info.DatabaseID)
			assert.Equal(t, b.Len(), res.Info.BasisLen)
			assert.NotEmpty(t, res.Info.RunID)
			assert.InDelta(t, 0, res.Info.Residual, 1e-5)

			table := Errors(res.Potential, configs)
			require.Contains(t, table, SetKey)
			assert.InDelta(t, 0, table[SetKey][atoms.Energy].RMSE, 1e-5)
			assert.InDelta(t, 0, table[SetKey][atoms.Forces].RMSE, 1e-5)
			assert.Equal(t, len(configs), table[SetKey][atoms.Energy].Count)
		})
	}
}

func TestAssemble_WeightsAndReference(t *testing.T) {
	b, configs, _ := synthetic(t)
	db := buildDB(t, b, configs)

	energyOnly, err := weights.Parse(`{"default": {"E": 2}}`)
	require.NoError(t, err)
	A, y := Assemble(db, energyOnly, refenergy.NewOneBody(e0))
	require.NotNil(t, A)
	rows, cols := A.Dims()
	assert.Equal(t, len(configs), rows)
	assert.Equal(t, b.Len(), cols)

	// Isolated atom: the reference energy is removed and basis values vanish.
	assert.InDelta(t, 0, y.AtVec(0), 1e-12)
	for j := 0; j < cols; j++ {
		assert.Zero(t, A.At(0, j))
	}

	// Dimer row is scaled by 2 / 2 atoms.
	c := configs[1]
	assert.InDelta(t, *c.Energy-2*(-3.5), y.AtVec(1), 1e-12)
}

func TestFit_NoRows(t *testing.T) {
	b, configs, _ := synthetic(t)
	db := buildDB(t, b, configs)

	none, err := weights.Parse(`{"default": {"V": 1}}`)
	require.NoError(t, err)
	_, err = NewFitter(db, b, refenergy.NewOneBody(e0), nil).Fit(context.Background(), none, solver.Config{Kind: solver.KindRRQR})
	assert.True(t, errors.Is(err, ErrNoRows), "got %v", err)
}

func TestErrors_PerConfigType(t *testing.T) {
	b, configs, truth := synthetic(t)
	off := make([]float64, len(truth))
	copy(off, truth)
	off[0] += 0.5
	pot, err := potential.New(b, spec(), off, e0)
	require.NoError(t, err)

	table := Errors(pot, configs)
	assert.Equal(t, []string{"cluster", atoms.IsolatedAtomType, SetKey}, table.Groups())
	assert.Zero(t, table[atoms.IsolatedAtomType][atoms.Energy].RMSE)
	assert.Greater(t, table["cluster"][atoms.Energy].RMSE, 0.0)
	assert.Greater(t, table["cluster"][atoms.Energy].RelRMSE, 0.0)
	_, hasVirial := table[SetKey][atoms.Virial]
	assert.False(t, hasVirial)

	out := FormatTable(table)
	assert.True(t, strings.HasPrefix(out, "Type"))
	assert.Contains(t, out, "cluster")
}
