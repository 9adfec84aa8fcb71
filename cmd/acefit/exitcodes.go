package main

import (
	"errors"

	"github.com/matsen/acefit/internal/atoms"
	"github.com/matsen/acefit/internal/basis"
	"github.com/matsen/acefit/internal/config"
	"github.com/matsen/acefit/internal/cutoff"
	"github.com/matsen/acefit/internal/export"
	"github.com/matsen/acefit/internal/lsq"
	"github.com/matsen/acefit/internal/refenergy"
	"github.com/matsen/acefit/internal/solver"
	"github.com/matsen/acefit/internal/weights"
)

// Exit codes
const (
	ExitSuccess       = 0 // Success
	ExitError         = 1 // General error (I/O failure, solver failure, cancelled)
	ExitConfigError   = 2 // Configuration error (invalid option, missing or conflicting E0, stale database)
	ExitDataError     = 3 // Data error (malformed dataset record)
	ExitInternalError = 4 // Internal-consistency error (no writer for a validated format)
)

var configErrors = []error{
	config.ErrUnknownFormat,
	config.ErrUnsupportedKey,
	config.ErrInvalidOption,
	refenergy.ErrConflict,
	refenergy.ErrMissing,
	refenergy.ErrIsolatedAtom,
	cutoff.ErrUnresolvableR0,
	cutoff.ErrInvalid,
	solver.ErrUnknownSolver,
	solver.ErrInvalidArgs,
	weights.ErrInvalidScheme,
	basis.ErrInvalidSpec,
	lsq.ErrDatabaseMismatch,
	lsq.ErrUnsupportedVersion,
}

// exitCodeFor classifies err into an exit code.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, export.ErrNoWriter):
		return ExitInternalError
	case errors.Is(err, atoms.ErrMalformed):
		return ExitDataError
	}
	for _, target := range configErrors {
		if errors.Is(err, target) {
			return ExitConfigError
		}
	}
	return ExitError
}
