// Package config handles the run configuration: a YAML run file, environment
// defaults and command-line values, validated before any data is loaded.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Configuration errors.
var (
	ErrUnknownFormat  = errors.New("unknown output format")
	ErrUnsupportedKey = errors.New("unsupported observation key")
	ErrInvalidOption  = errors.New("invalid option")
)

// EnvNumThreads provides the default thread count.
const EnvNumThreads = "ACEFIT_NUM_THREADS"

// Defaults for options that are not supplied.
const (
	DefaultFormat     = ".json"
	DefaultBodyOrder  = 4
	DefaultDegree     = 6
	DefaultPairDegree = 4
)

// Options is the full option set as given on the command line or in a run
// file. Pair-valued entries use KIND=VALUE tokens.
type Options struct {
	Datasets   []string `yaml:"datasets,omitempty"`
	OutBase    string   `yaml:"outfile_base,omitempty"`
	Formats    []string `yaml:"formats,omitempty"`
	DBPath     string   `yaml:"db_path,omitempty"`
	LoadDB     bool     `yaml:"load_db,omitempty"`
	SaveDB     bool     `yaml:"save_db,omitempty"`
	DryRun     bool     `yaml:"dry_run,omitempty"`
	Resume     bool     `yaml:"resume,omitempty"`
	R0         *float64 `yaml:"r0,omitempty"`
	RIn        *float64 `yaml:"r_in,omitempty"`
	RCut       *float64 `yaml:"r_cut,omitempty"`
	PairRCut   *float64 `yaml:"pair_r_cut,omitempty"`
	BodyOrder  int      `yaml:"body_order,omitempty"`
	Degree     int      `yaml:"degree,omitempty"`
	PairDegree *int     `yaml:"pair_degree,omitempty"`
	Solvers    []string `yaml:"solvers,omitempty"` // kind=[json args]
	Keys       []string `yaml:"keys,omitempty"`    // KIND=field
	Weights    []string `yaml:"weights,omitempty"` // JSON weight schemes
	E0         []string `yaml:"e0,omitempty"`      // Species=energy
	NumThreads int      `yaml:"num_threads,omitempty"`
}

// LoadFile reads a YAML run file. Unknown fields are rejected.
func LoadFile(path string) (*Options, error) {
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("%w: reading run file: %v", ErrInvalidOption, err)
	}

	var opts Options
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil {
		return nil, fmt.Errorf("%w: parsing run file %s: %v", ErrInvalidOption, path, err)
	}
	return &opts, nil
}

// Save writes the options as a YAML run file.
func (o *Options) Save(path string) error {
	data, err := yaml.Marshal(o)
	if err != nil {
		return fmt.Errorf("encoding run file: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing run file: %w", err)
	}
	return nil
}

// DefaultNumThreads returns EnvNumThreads when set to a positive integer,
// otherwise the CPU count.
func DefaultNumThreads() int {
	if v := os.Getenv(EnvNumThreads); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path // Return original if we can't get home directory
	}

	return filepath.Join(home, path[1:])
}
