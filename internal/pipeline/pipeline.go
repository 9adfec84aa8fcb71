// Package pipeline runs every stage of a fit in order: load, reference
// energies, cutoffs, basis, database, sweep.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/matsen/acefit/internal/atoms"
	"github.com/matsen/acefit/internal/basis"
	"github.com/matsen/acefit/internal/config"
	"github.com/matsen/acefit/internal/cutoff"
	"github.com/matsen/acefit/internal/diag"
	"github.com/matsen/acefit/internal/elements"
	"github.com/matsen/acefit/internal/export"
	"github.com/matsen/acefit/internal/fit"
	"github.com/matsen/acefit/internal/logging"
	"github.com/matsen/acefit/internal/lsq"
	"github.com/matsen/acefit/internal/potential"
	"github.com/matsen/acefit/internal/refenergy"
	"github.com/matsen/acefit/internal/sweep"
)

// DatabaseSummary describes the active database.
type DatabaseSummary struct {
	Mode lsq.Mode `json:"mode"`
	Path string   `json:"path"`
	ID   string   `json:"id"`
	Rows int      `json:"rows"`
}

// Report is everything a run determined. On failure it holds what was
// determined before the failing stage.
type Report struct {
	Configs     int              `json:"configs"`
	Species     []string         `json:"species,omitempty"`
	E0          refenergy.Table  `json:"e0,omitempty"`
	Cutoffs     *cutoff.Params   `json:"cutoffs,omitempty"`
	BasisLen    int              `json:"basis_len,omitempty"`
	Database    *DatabaseSummary `json:"database,omitempty"`
	Size        *lsq.SizeReport  `json:"size,omitempty"`
	Artifacts   []sweep.Artifact `json:"artifacts,omitempty"`
	Diagnostics diag.List        `json:"diagnostics"`
	DurationMs  int64            `json:"duration_ms"`
}

// Runner executes runs.
type Runner struct {
	lib    basis.Library
	dist   cutoff.DistanceFunc
	logger *slog.Logger
}

// NewRunner creates a runner with the built-in basis library and element table.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{lib: basis.Polynomial{}, dist: elements.NearestNeighbor, logger: logger}
}

// Run executes run. Stages are strictly sequential and the first error aborts.
func (r *Runner) Run(ctx context.Context, run *config.Run) (*Report, error) {
	start := time.Now()
	rep := &Report{Diagnostics: diag.List{}}
	defer func() { rep.DurationMs = time.Since(start).Milliseconds() }()

	note := func(records diag.List) {
		logging.Emit(r.logger, records)
		rep.Diagnostics.Extend(records)
	}

	configs, err := atoms.Load(run.Datasets, run.Keys)
	if err != nil {
		return rep, fmt.Errorf("loading datasets: %w", err)
	}
	rep.Configs = len(configs)
	r.logger.Info("loaded configurations", "count", len(configs), "files", len(run.Datasets))

	ref, err := refenergy.Resolve(configs, run.E0)
	if ref != nil {
		note(ref.Diagnostics)
	}
	if err != nil {
		return rep, err
	}
	rep.Species = ref.Species
	rep.E0 = ref.E0

	params, cutDiags, err := cutoff.Derive(run.Cutoffs, ref.Species, r.dist)
	note(cutDiags)
	if err != nil {
		return rep, err
	}
	rep.Cutoffs = &params

	spec := basis.Spec{
		Species:    ref.Species,
		BodyOrder:  run.BodyOrder,
		Degree:     run.Degree,
		PairDegree: run.PairDegree,
		Cutoffs:    params,
	}
	b, err := basis.Assemble(r.lib, spec)
	if err != nil {
		return rep, err
	}
	rep.BasisLen = b.Len()
	r.logger.Info("assembled basis", "functions", b.Len(), "species", spec.Species,
		"body_order", spec.BodyOrder, "degree", spec.Degree, "pair_degree", spec.PairDegree)

	out, err := lsq.NewManager(logging.WithComponent(r.logger, "lsq")).Prepare(ctx, run.DB, b, spec, configs)
	if err != nil {
		return rep, err
	}
	note(out.Diagnostics)
	if out.Mode == lsq.ModeDryRun {
		rep.Size = out.Size
		return rep, nil
	}
	rep.Database = &DatabaseSummary{Mode: out.Mode, Path: out.Path, ID: out.DB.ID, Rows: out.DB.NumRows()}

	db := out.DB
	fitter := fit.NewFitter(db, b, refenergy.NewOneBody(ref.E0), logging.WithComponent(r.logger, "fit"))
	eval := sweep.EvaluatorFunc(func(p *potential.Potential) fit.ErrorTable {
		return fit.Errors(p, db.Configs())
	})
	orch := sweep.New(fitter, eval, sweep.ExportFunc(export.Write), logging.WithComponent(r.logger, "sweep"))

	arts, sweepDiags, err := orch.Run(ctx, sweep.Plan{
		OutBase: run.OutBase,
		Formats: run.Formats,
		Weights: run.Weights,
		Solvers: run.Solvers,
		Resume:  run.Resume,
	})
	note(sweepDiags)
	rep.Artifacts = arts
	if err != nil {
		return rep, err
	}
	return rep, nil
}
