// Package solver parses solver configurations and solves weighted linear
// least-squares problems.
package solver

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Solver kinds.
const (
	KindQR   = "qr"
	KindRRQR = "rrqr"
	KindLSQR = "lsqr"
)

// DefaultToken is used when no solver is supplied.
const DefaultToken = "rrqr=[1e-12]"

// Solver errors.
var (
	ErrUnknownSolver = errors.New("unknown solver")
	ErrInvalidArgs   = errors.New("invalid solver arguments")
	ErrSingular      = errors.New("least-squares problem is singular")
)

// Config is a solver kind and its ordered arguments.
type Config struct {
	Kind string    `json:"kind" yaml:"kind"`
	Args []float64 `json:"args" yaml:"args"`
}

// String formats the config the way it is given on the command line.
func (c Config) String() string {
	args, _ := json.Marshal(c.Args)
	return c.Kind + "=" + string(args)
}

// Parse builds a config from a kind and a JSON-encoded argument list.
func Parse(kind, args string) (Config, error) {
	kind = strings.TrimSpace(kind)
	cfg := Config{Kind: kind, Args: []float64{}}
	if strings.TrimSpace(args) != "" {
		if err := json.Unmarshal([]byte(args), &cfg.Args); err != nil {
			return Config{}, fmt.Errorf("%w: %s: %q is not a JSON list of numbers", ErrInvalidArgs, kind, args)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseToken parses "kind=[args]" or a bare "kind".
func ParseToken(tok string) (Config, error) {
	kind, args, _ := strings.Cut(tok, "=")
	return Parse(kind, args)
}

// Validate checks the argument list against the kind.
func (c Config) Validate() error {
	bad := func(format string, a ...interface{}) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidArgs, c.Kind, fmt.Sprintf(format, a...))
	}

	switch c.Kind {
	case KindQR:
		if len(c.Args) > 1 {
			return bad("expected [] or [lambda], got %d values", len(c.Args))
		}
		if len(c.Args) == 1 && c.Args[0] < 0 {
			return bad("lambda %g must not be negative", c.Args[0])
		}
	case KindRRQR:
		if len(c.Args) > 1 {
			return bad("expected [] or [rtol], got %d values", len(c.Args))
		}
		if len(c.Args) == 1 && (c.Args[0] <= 0 || c.Args[0] >= 1) {
			return bad("rtol %g must be in (0, 1)", c.Args[0])
		}
	case KindLSQR:
		if len(c.Args) > 3 {
			return bad("expected at most [damp, atol, maxiter], got %d values", len(c.Args))
		}
		if len(c.Args) > 0 && c.Args[0] < 0 {
			return bad("damp %g must not be negative", c.Args[0])
		}
		if len(c.Args) > 1 && c.Args[1] <= 0 {
			return bad("atol %g must be positive", c.Args[1])
		}
		if len(c.Args) > 2 && (c.Args[2] < 1 || c.Args[2] != math.Trunc(c.Args[2])) {
			return bad("maxiter %g must be a positive integer", c.Args[2])
		}
	default:
		return fmt.Errorf("%w: %q (valid: %s, %s, %s)", ErrUnknownSolver, c.Kind, KindQR, KindRRQR, KindLSQR)
	}
	return nil
}

func (c Config) arg(i int, def float64) float64 {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return def
}

// Result is the outcome of one solve.
type Result struct {
	Coefficients []float64 `json:"-"`
	Rank         int       `json:"rank"`
	ResidualNorm float64   `json:"residual_norm"`
	Iterations   int       `json:"iterations,omitempty"`
	Warnings     []string  `json:"warnings,omitempty"`
}

// Solve minimizes |A x - y|_2 under the given configuration. A is not modified.
func Solve(cfg Config, A *mat.Dense, y *mat.VecDense) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rows, cols := A.Dims()
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("%w: empty design matrix (%d x %d)", ErrSingular, rows, cols)
	}

	var res *Result
	var err error
	switch cfg.Kind {
	case KindQR:
		res, err = solveQR(A, y, cfg.arg(0, 0))
	case KindRRQR:
		res, err = solveSVD(A, y, cfg.arg(0, 1e-12))
	case KindLSQR:
		maxIter := int(cfg.arg(2, float64(10*cols)))
		res, err = solveCGLS(A, y, cfg.arg(0, 0), cfg.arg(1, 1e-8), maxIter)
	}
	if err != nil {
		return nil, err
	}

	res.ResidualNorm = residualNorm(A, y, res.Coefficients)
	return res, nil
}

// solveQR solves the Tikhonov-regularized problem via QR of [A; sqrt(lambda) I].
func solveQR(A *mat.Dense, y *mat.VecDense, lambda float64) (*Result, error) {
	rows, cols := A.Dims()
	M, b := A, y
	if lambda > 0 {
		aug := mat.NewDense(rows+cols, cols, nil)
		aug.Slice(0, rows, 0, cols).(*mat.Dense).Copy(A)
		s := math.Sqrt(lambda)
		for j := 0; j < cols; j++ {
			aug.Set(rows+j, j, s)
		}
		yb := mat.NewVecDense(rows+cols, nil)
		yb.SliceVec(0, rows).(*mat.VecDense).CopyVec(y)
		M, b = aug, yb
	}

	if r, _ := M.Dims(); r < cols {
		return nil, fmt.Errorf("%w: %d rows for %d unknowns; use rrqr, lsqr, or qr with lambda > 0", ErrSingular, r, cols)
	}

	var qr mat.QR
	qr.Factorize(M)
	var x mat.VecDense
	res := &Result{Rank: cols}
	if err := qr.SolveVecTo(&x, false, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, fmt.Errorf("%w: %v", ErrSingular, err)
		}
		res.Warnings = append(res.Warnings, fmt.Sprintf("ill-conditioned system (condition number %.3g)", float64(cond)))
	}
	res.Coefficients = vecToSlice(&x)
	return res, nil
}

// solveSVD computes the minimum-norm solution keeping singular values above
// rtol times the largest.
func solveSVD(A *mat.Dense, y *mat.VecDense, rtol float64) (*Result, error) {
	var svd mat.SVD
	if ok := svd.Factorize(A, mat.SVDThin); !ok {
		return nil, fmt.Errorf("%w: SVD did not converge", ErrSingular)
	}
	rank := svd.Rank(rtol)
	if rank == 0 {
		return nil, fmt.Errorf("%w: numerical rank is zero", ErrSingular)
	}

	var x mat.VecDense
	svd.SolveVecTo(&x, y, rank)

	res := &Result{Rank: rank}
	if _, cols := A.Dims(); rank < cols {
		res.Warnings = append(res.Warnings, fmt.Sprintf("rank-deficient: kept %d of %d singular values", rank, cols))
	}
	res.Coefficients = vecToSlice(&x)
	return res, nil
}

// solveCGLS runs damped conjugate gradients on the normal equations.
func solveCGLS(A *mat.Dense, y *mat.VecDense, damp, atol float64, maxIter int) (*Result, error) {
	_, cols := A.Dims()
	d2 := damp * damp

	x := mat.NewVecDense(cols, nil)
	r := mat.VecDenseCopyOf(y)

	s := mat.NewVecDense(cols, nil)
	s.MulVec(A.T(), r)
	target := atol * mat.Norm(s, 2)
	if target == 0 {
		return &Result{Coefficients: make([]float64, cols), Rank: 0}, nil
	}

	p := mat.VecDenseCopyOf(s)
	gamma := mat.Dot(s, s)
	q := mat.NewVecDense(r.Len(), nil)

	res := &Result{Rank: cols}
	converged := false
	for it := 1; it <= maxIter; it++ {
		q.MulVec(A, p)
		delta := mat.Dot(q, q) + d2*mat.Dot(p, p)
		if delta == 0 {
			break
		}
		alpha := gamma / delta
		x.AddScaledVec(x, alpha, p)
		r.AddScaledVec(r, -alpha, q)

		s.MulVec(A.T(), r)
		s.AddScaledVec(s, -d2, x)
		gammaNew := mat.Dot(s, s)
		res.Iterations = it
		if math.Sqrt(gammaNew) <= target {
			converged = true
			break
		}
		p.AddScaledVec(s, gammaNew/gamma, p)
		gamma = gammaNew
	}

	if !converged {
		res.Warnings = append(res.Warnings, fmt.Sprintf("lsqr did not converge in %d iterations", res.Iterations))
	}
	res.Coefficients = vecToSlice(x)
	return res, nil
}

func residualNorm(A *mat.Dense, y *mat.VecDense, x []float64) float64 {
	rows, _ := A.Dims()
	pred := mat.NewVecDense(rows, nil)
	pred.MulVec(A, mat.NewVecDense(len(x), x))
	diff := make([]float64, rows)
	floats.SubTo(diff, pred.RawVector().Data, y.RawVector().Data)
	return floats.Norm(diff, 2)
}

func vecToSlice(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}
