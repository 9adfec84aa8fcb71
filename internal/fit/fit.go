// Package fit assembles the weighted least-squares problem from a database
// and solves it for one weight scheme and solver configuration.
package fit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/matsen/acefit/internal/atoms"
	"github.com/matsen/acefit/internal/basis"
	"github.com/matsen/acefit/internal/lsq"
	"github.com/matsen/acefit/internal/potential"
	"github.com/matsen/acefit/internal/refenergy"
	"github.com/matsen/acefit/internal/solver"
	"github.com/matsen/acefit/internal/weights"
	"gonum.org/v1/gonum/mat"
)

// ErrNoRows is returned when every observation has zero weight.
var ErrNoRows = errors.New("no weighted observations to fit")

// Info is the metadata recorded with each fitted potential.
type Info struct {
	RunID      string         `json:"run_id"`
	DatabaseID string         `json:"database_id"`
	Solver     solver.Config  `json:"solver"`
	Weights    weights.Scheme `json:"weights"`
	BasisLen   int            `json:"basis_len"`
	Rows       int            `json:"rows"`
	Rank       int            `json:"rank"`
	Residual   float64        `json:"residual_norm"`
	Iterations int            `json:"iterations,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Errors     ErrorTable     `json:"errors,omitempty"`
}

// Result is a fitted potential and its metadata.
type Result struct {
	Potential *potential.Potential
	Info      Info
}

// Fitter solves the least-squares problem of a shared database.
type Fitter struct {
	db     *lsq.Database
	basis  basis.Basis
	ref    refenergy.OneBody
	logger *slog.Logger
}

// NewFitter creates a fitter over db. The database and reference model are
// only read.
func NewFitter(db *lsq.Database, b basis.Basis, ref refenergy.OneBody, logger *slog.Logger) *Fitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fitter{db: db, basis: b, ref: ref, logger: logger}
}

// Fit solves for one (weights, solver) pair.
func (f *Fitter) Fit(ctx context.Context, w weights.Scheme, s solver.Config) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	A, y := Assemble(f.db, w, f.ref)
	if A == nil {
		return nil, ErrNoRows
	}
	rows, cols := A.Dims()
	f.logger.Debug("solving", "solver", s.String(), "rows", rows, "cols", cols)

	sol, err := solver.Solve(s, A, y)
	if err != nil {
		return nil, fmt.Errorf("solver %s: %w", s, err)
	}

	pot, err := potential.New(f.basis, f.db.Spec, sol.Coefficients, f.ref.E0)
	if err != nil {
		return nil, err
	}

	info := Info{
		RunID:      uuid.NewString(),
		DatabaseID: f.db.ID,
		Solver:     s,
		Weights:    w,
		BasisLen:   cols,
		Rows:       rows,
		Rank:       sol.Rank,
		Residual:   sol.ResidualNorm,
		Iterations: sol.Iterations,
		Warnings:   sol.Warnings,
		DurationMs: time.Since(start).Milliseconds(),
	}
	return &Result{Potential: pot, Info: info}, nil
}

// Assemble builds the weighted design matrix and target vector. Observations
// with zero weight are left out. Energy targets have the reference energy
// removed. Returns nil when no row has a positive weight.
func Assemble(db *lsq.Database, w weights.Scheme, ref refenergy.OneBody) (*mat.Dense, *mat.VecDense) {
	var (
		data    []float64
		targets []float64
	)
	for i := 0; i < db.NumConfigs(); i++ {
		c := db.Config(i)
		for _, b := range db.Blocks(i) {
			rw := w.RowWeight(c, b.Kind)
			if rw == 0 {
				continue
			}
			obs := c.Observed(b.Kind)
			if len(obs) != len(b.Rows) {
				continue
			}
			shift := 0.0
			if b.Kind == atoms.Energy {
				shift = ref.Energy(c.Species)
			}
			for r, row := range b.Rows {
				for _, x := range row {
					data = append(data, rw*x)
				}
				targets = append(targets, rw*(obs[r]-shift))
			}
		}
	}

	if len(targets) == 0 || db.BasisLen == 0 {
		return nil, nil
	}
	return mat.NewDense(len(targets), db.BasisLen, data), mat.NewVecDense(len(targets), targets)
}
