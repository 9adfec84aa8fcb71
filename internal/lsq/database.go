// Package lsq builds, persists and reloads the least-squares design-matrix
// database shared by every sweep point of a run.
package lsq

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/matsen/acefit/internal/atoms"
	"github.com/matsen/acefit/internal/basis"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Stage is the diagnostics stage name.
const Stage = "lsq-database"

// Database errors.
var (
	ErrNotFound           = errors.New("database not found")
	ErrDatabaseMismatch   = errors.New("database does not match current basis and configurations")
	ErrUnsupportedVersion = errors.New("unsupported database version")
)

// Block is the design-matrix rows of one observation of one configuration.
// Each row holds one value per basis function.
type Block struct {
	Kind atoms.Kind
	Rows [][]float64
}

// Database is the design matrix of a basis evaluated on a configuration set.
// It is not modified after Build or Load returns.
type Database struct {
	ID          string
	Spec        basis.Spec
	BasisLen    int
	Fingerprint string
	CreatedAt   time.Time

	configs []atoms.Configuration
	blocks  [][]Block // [config] in atoms.FittedKinds order, observed kinds only
}

// NumConfigs returns the number of configurations.
func (d *Database) NumConfigs() int {
	return len(d.configs)
}

// Config returns the i-th configuration.
func (d *Database) Config(i int) *atoms.Configuration {
	return &d.configs[i]
}

// Configs returns the configuration set. Callers must not modify it.
func (d *Database) Configs() []atoms.Configuration {
	return d.configs
}

// Blocks returns the design rows of the i-th configuration.
func (d *Database) Blocks(i int) []Block {
	return d.blocks[i]
}

// NumRows returns the total design-matrix row count.
func (d *Database) NumRows() int {
	n := 0
	for _, bs := range d.blocks {
		for _, b := range bs {
			n += len(b.Rows)
		}
	}
	return n
}

// Verify checks that the database was built from spec and configs.
func (d *Database) Verify(spec basis.Spec, configs []atoms.Configuration) error {
	fp, err := Fingerprint(spec, configs)
	if err != nil {
		return err
	}
	if fp != d.Fingerprint {
		return fmt.Errorf("%w: fingerprint %.12s, current run %.12s", ErrDatabaseMismatch, d.Fingerprint, fp)
	}
	return nil
}

// Fingerprint hashes the basis spec and every configuration record.
func Fingerprint(spec basis.Spec, configs []atoms.Configuration) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("encoding basis spec: %w", err)
	}
	h.Write(specJSON)
	h.Write([]byte{'\n'})
	for i := range configs {
		rec, err := atoms.Encode(&configs[i])
		if err != nil {
			return "", fmt.Errorf("encoding configuration %d: %w", i, err)
		}
		h.Write(rec)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// BuildOptions controls database construction.
type BuildOptions struct {
	// Threads bounds concurrent configuration evaluations; values below 1 mean 1.
	Threads int
	Logger  *slog.Logger
}

// Build evaluates b on every configuration. Rows are stored in configuration
// order regardless of evaluation order.
func Build(ctx context.Context, b basis.Basis, spec basis.Spec, configs []atoms.Configuration, opts BuildOptions) (*Database, error) {
	fp, err := Fingerprint(spec, configs)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db := &Database{
		ID:          uuid.NewString(),
		Spec:        spec,
		BasisLen:    b.Len(),
		Fingerprint: fp,
		CreatedAt:   time.Now().UTC(),
		configs:     configs,
		blocks:      make([][]Block, len(configs)),
	}

	start := time.Now()
	total := len(configs)
	var done atomic.Int64
	progress := rate.Sometimes{First: 1, Interval: 2 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Threads, 1))
	for i := range configs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			db.blocks[i] = evaluate(b, &configs[i])
			n := done.Add(1)
			progress.Do(func() {
				logger.Info("building design matrix", "done", n, "total", total)
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Info("design matrix built",
		"configs", total, "rows", db.NumRows(), "basis", db.BasisLen,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return db, nil
}

func evaluate(b basis.Basis, c *atoms.Configuration) []Block {
	v := b.Evaluate(c)
	var out []Block
	for _, kind := range atoms.FittedKinds {
		if !c.Has(kind) {
			continue
		}
		out = append(out, Block{Kind: kind, Rows: v.Block(kind)})
	}
	return out
}
