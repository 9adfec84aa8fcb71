package lsq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/matsen/acefit/internal/atoms"
	"github.com/matsen/acefit/internal/basis"
	"github.com/matsen/acefit/internal/diag"
)

// SizeSuffix is appended to the output base for the dry-run size report.
const SizeSuffix = ".size"

// Mode records how the active database was obtained.
type Mode string

const (
	ModeDryRun Mode = "dry-run"
	ModeLoaded Mode = "loaded"
	ModeBuilt  Mode = "built"
)

// Request selects how the database is obtained.
type Request struct {
	Path    string // database path; DefaultPath(OutBase) when empty
	OutBase string
	Load    bool
	Save    bool
	DryRun  bool
	Threads int
}

// SizeReport is the design-matrix shape reported by a dry run.
type SizeReport struct {
	Rows     int    `json:"rows"`
	BasisLen int    `json:"basis_len"`
	Path     string `json:"path"`
}

// Outcome is the result of Prepare. DB is nil after a dry run.
type Outcome struct {
	Mode        Mode
	DB          *Database
	Size        *SizeReport
	Path        string
	Diagnostics diag.List
}

// Manager obtains the one database used by a run.
type Manager struct {
	logger *slog.Logger
}

// NewManager creates a manager. A nil logger uses slog.Default.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Prepare runs exactly one of: dry-run sizing, load, or build (with optional
// save). A load request with no metadata on disk falls back to a build.
func (m *Manager) Prepare(ctx context.Context, req Request, b basis.Basis, spec basis.Spec, configs []atoms.Configuration) (*Outcome, error) {
	path := req.Path
	if path == "" {
		path = DefaultPath(req.OutBase)
	}
	out := &Outcome{Path: path}

	if req.DryRun {
		size, err := WriteSizeReport(req.OutBase, atoms.TotalRows(configs), b.Len())
		if err != nil {
			return nil, err
		}
		out.Mode = ModeDryRun
		out.Size = size
		out.Diagnostics.Infof(Stage, "dry run: %d rows x %d basis functions written to %s", size.Rows, size.BasisLen, size.Path)
		return out, nil
	}

	if req.Load {
		db, err := Load(path)
		switch {
		case err == nil:
			if err := db.Verify(spec, configs); err != nil {
				return nil, fmt.Errorf("database %s: %w", path, err)
			}
			if db.BasisLen != b.Len() {
				return nil, fmt.Errorf("%w: database has %d basis functions, current basis %d",
					ErrDatabaseMismatch, db.BasisLen, b.Len())
			}
			m.logger.Info("loaded database", "path", path, "id", db.ID, "rows", db.NumRows())
			out.Mode = ModeLoaded
			out.DB = db
			out.Diagnostics.Infof(Stage, "loaded database %s from %s", db.ID, path)
			return out, nil
		case errors.Is(err, ErrNotFound):
			out.Diagnostics.Warnf(Stage, "no database metadata at %s; building a new database", InfoPath(path))
		default:
			return nil, fmt.Errorf("loading database %s: %w", path, err)
		}
	}

	db, err := Build(ctx, b, spec, configs, BuildOptions{Threads: req.Threads, Logger: m.logger})
	if err != nil {
		return nil, fmt.Errorf("building database: %w", err)
	}
	out.Mode = ModeBuilt
	out.DB = db

	if req.Save {
		if err := db.Save(path); err != nil {
			return nil, fmt.Errorf("saving database %s: %w", path, err)
		}
		out.Diagnostics.Infof(Stage, "saved database %s to %s", db.ID, path)
	}
	return out, nil
}

// WriteSizeReport writes "<rows> <basis_len>\n" to outBase + SizeSuffix.
func WriteSizeReport(outBase string, rows, basisLen int) (*SizeReport, error) {
	path := outBase + SizeSuffix
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d %d\n", rows, basisLen)), 0644); err != nil {
		return nil, fmt.Errorf("writing size report: %w", err)
	}
	return &SizeReport{Rows: rows, BasisLen: basisLen, Path: path}, nil
}
