// Package roots finds roots of scalar functions on a bracketing interval.
package roots

import (
	"errors"
	"fmt"
	"math"
)

// ErrNotBracketed is returned when f(a) and f(b) have the same sign.
var ErrNotBracketed = errors.New("root is not bracketed")

// Default tolerances.
const (
	DefaultXTol    = 2e-12
	DefaultRTol    = 4 * 2.220446049250313e-16
	DefaultMaxIter = 100
)

// Options tune Brent.
type Options struct {
	XTol    float64
	RTol    float64
	MaxIter int
}

func (o Options) withDefaults() Options {
	if o.XTol <= 0 {
		o.XTol = DefaultXTol
	}
	if o.RTol <= 0 {
		o.RTol = DefaultRTol
	}
	if o.MaxIter <= 0 {
		o.MaxIter = DefaultMaxIter
	}
	return o
}

// Result is the outcome of a root search. Converged is false when the
// iteration budget ran out; Root then holds the best estimate.
type Result struct {
	Root       float64
	Iterations int
	Converged  bool
}

// Brent finds a root of f in [a, b] using inverse quadratic
// interpolation with bisection fallback.
func Brent(f func(float64) float64, a, b float64, opts Options) (Result, error) {
	opts = opts.withDefaults()
	xpre, xcur := a, b
	fpre, fcur := f(xpre), f(xcur)
	if math.IsNaN(fpre) || math.IsNaN(fcur) {
		return Result{Root: math.NaN()}, fmt.Errorf("function is NaN at bracket [%g, %g]", a, b)
	}
	if fpre*fcur > 0 {
		return Result{Root: math.NaN()}, fmt.Errorf("%w: f(%g)=%g, f(%g)=%g", ErrNotBracketed, a, fpre, b, fcur)
	}
	if fpre == 0 {
		return Result{Root: xpre, Converged: true}, nil
	}
	if fcur == 0 {
		return Result{Root: xcur, Converged: true}, nil
	}

	var xblk, fblk, spre, scur float64
	for i := 1; i <= opts.MaxIter; i++ {
		if fpre != 0 && fcur != 0 && math.Signbit(fpre) != math.Signbit(fcur) {
			xblk, fblk = xpre, fpre
			spre = xcur - xpre
			scur = spre
		}
		if math.Abs(fblk) < math.Abs(fcur) {
			xpre, xcur, xblk = xcur, xblk, xcur
			fpre, fcur, fblk = fcur, fblk, fcur
		}

		delta := (opts.XTol + opts.RTol*math.Abs(xcur)) / 2
		sbis := (xblk - xcur) / 2
		if fcur == 0 || math.Abs(sbis) < delta {
			return Result{Root: xcur, Iterations: i, Converged: true}, nil
		}

		if math.Abs(spre) > delta && math.Abs(fcur) < math.Abs(fpre) {
			var stry float64
			if xpre == xblk {
				// secant
				stry = -fcur * (xcur - xpre) / (fcur - fpre)
			} else {
				// inverse quadratic
				dpre := (fpre - fcur) / (xpre - xcur)
				dblk := (fblk - fcur) / (xblk - xcur)
				stry = -fcur * (fblk*dblk - fpre*dpre) / (dblk * dpre * (fblk - fpre))
			}
			if 2*math.Abs(stry) < math.Min(math.Abs(spre), 3*math.Abs(sbis)-delta) {
				spre, scur = scur, stry
			} else {
				spre, scur = sbis, sbis
			}
		} else {
			spre, scur = sbis, sbis
		}

		xpre, fpre = xcur, fcur
		if math.Abs(scur) > delta {
			xcur += scur
		} else if sbis > 0 {
			xcur += delta
		} else {
			xcur -= delta
		}
		fcur = f(xcur)
	}
	return Result{Root: xcur, Iterations: opts.MaxIter}, nil
}
