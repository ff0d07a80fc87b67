package tsmap

import (
	"math"

	"github.com/banshee-data/tsmap/internal/roots"
)

// Fit constants.
const (
	// muFloor truncates the Poisson mean inside the logarithm.
	muFloor = 1e-25
	// amplitudeFloor is the positive floor a Newton step is clamped to.
	amplitudeFloor = 1e-10
	// bracketScale sets the profile-likelihood search range in units of
	// the symmetric error.
	bracketScale = 100
)

// FitOptions configure the per-pixel fit.
type FitOptions struct {
	NSigma   float64
	NSigmaUL float64
	RTol     float64
	MaxIter  int
	// Threshold skips the Newton fit when the TS at the initial guess is
	// below it. Nil disables the check.
	Threshold *float64
	// ErrNP enables profile-likelihood negative and positive errors.
	ErrNP bool
	// UL enables the profile-likelihood upper limit.
	UL bool
}

// DefaultFitOptions returns the standard fit settings with every optional
// quantity enabled.
func DefaultFitOptions() FitOptions {
	return FitOptions{NSigma: 1, NSigmaUL: 2, RTol: 0.01, MaxIter: 20, ErrNP: true, UL: true}
}

// PixelFitResult is the outcome of fitting one pixel. Amplitudes are in
// units of the kernel normalisation.
type PixelFitResult struct {
	TS            float64
	Amplitude     float64
	AmplitudeErr  float64
	AmplitudeErrN float64
	AmplitudeErrP float64
	AmplitudeUL   float64
	NIter         int
	Success       bool
	// Skipped is set when the initial guess fell below the threshold and
	// no fit was made.
	Skipped bool
}

// nanResult marks a pixel that was not fitted.
func nanResult() PixelFitResult {
	nan := math.NaN()
	return PixelFitResult{TS: nan, Amplitude: nan, AmplitudeErr: nan, AmplitudeErrN: nan,
		AmplitudeErrP: nan, AmplitudeUL: nan, NIter: -1}
}

// Fitter maximises the Poisson likelihood of a single source amplitude.
// It holds no mutable state and is safe for concurrent use.
type Fitter struct {
	opts FitOptions
}

// NewFitter returns a fitter with opts.
func NewFitter(opts FitOptions) *Fitter {
	return &Fitter{opts: opts}
}

// pixelData bundles the flattened cutouts of one pixel fit.
type pixelData struct {
	n, b, m []float64
}

// cash returns C(a) = 2 sum(mu - n ln mu) with mu = b + a*m.
func (d pixelData) cash(a float64) float64 {
	c := 0.0
	for i, n := range d.n {
		mu := d.b[i] + a*d.m[i]
		if mu < muFloor {
			mu = muFloor
		}
		c += mu
		if n > 0 {
			c -= n * math.Log(mu)
		}
	}
	return 2 * c
}

// scoreInfo returns S(a) = sum m(n/mu - 1) and I(a) = sum m^2 n / mu^2.
func (d pixelData) scoreInfo(a float64) (s, info float64) {
	for i, n := range d.n {
		m := d.m[i]
		if m == 0 {
			continue
		}
		mu := d.b[i] + a*m
		if mu < muFloor {
			mu = muFloor
		}
		s += m * (n/mu - 1)
		info += m * m * n / (mu * mu)
	}
	return s, info
}

// expectedInfo returns sum m^2 / mu, used when the observed information
// vanishes.
func (d pixelData) expectedInfo(a float64) float64 {
	info := 0.0
	for i, m := range d.m {
		mu := d.b[i] + a*m
		if m == 0 || mu < muFloor {
			continue
		}
		info += m * m / mu
	}
	return info
}

// minAmplitude returns the most negative amplitude keeping every mean
// non-negative.
func (d pixelData) minAmplitude() float64 {
	lo := math.Inf(-1)
	for i, m := range d.m {
		if m > 0 {
			lo = math.Max(lo, -d.b[i]/m)
		}
	}
	return lo
}

// Fit fits the amplitude for counts n, background b and model m (expected
// counts per unit amplitude), starting at guess.
func (f *Fitter) Fit(n, b, m []float64, guess float64) PixelFitResult {
	d := pixelData{n: n, b: b, m: m}
	c0 := d.cash(0)
	res := PixelFitResult{AmplitudeErrN: math.NaN(), AmplitudeErrP: math.NaN(), AmplitudeUL: math.NaN()}

	if !(guess > 0) {
		guess = 0
	}
	if f.opts.Threshold != nil {
		ts := c0 - d.cash(guess)
		if ts < *f.opts.Threshold {
			res.Amplitude = guess
			res.TS = math.Max(ts, 0)
			res.AmplitudeErr = f.symmetricError(d, guess)
			res.Success = true
			res.Skipped = true
			return res
		}
	}

	res.Amplitude, res.NIter, res.Success = f.newton(d, guess)
	res.TS = math.Max(c0-d.cash(res.Amplitude), 0)
	res.AmplitudeErr = f.symmetricError(d, res.Amplitude)

	if f.opts.ErrNP {
		res.AmplitudeErrP = f.profileError(d, res.Amplitude, res.AmplitudeErr, f.opts.NSigma, true)
		res.AmplitudeErrN = f.profileError(d, res.Amplitude, res.AmplitudeErr, f.opts.NSigma, false)
	}
	if f.opts.UL {
		res.AmplitudeUL = res.Amplitude + f.profileError(d, res.Amplitude, res.AmplitudeErr, f.opts.NSigmaUL, true)
	}
	return res
}

func (f *Fitter) newton(d pixelData, guess float64) (a float64, niter int, ok bool) {
	total := 0.0
	for _, n := range d.n {
		total += n
	}
	if total == 0 {
		return 0, 0, true
	}
	if s, _ := d.scoreInfo(amplitudeFloor); s <= 0 {
		return 0, 0, true
	}

	a = math.Max(guess, amplitudeFloor)
	for niter = 1; niter <= f.opts.MaxIter; niter++ {
		s, info := d.scoreInfo(a)
		if !(info > 0) {
			return a, niter, false
		}
		next := a + s/info
		if next < amplitudeFloor {
			next = amplitudeFloor
		}
		delta := next - a
		a = next
		if math.Abs(delta) <= f.opts.RTol*math.Abs(a) {
			return a, niter, true
		}
	}
	return a, f.opts.MaxIter, false
}

func (f *Fitter) symmetricError(d pixelData, a float64) float64 {
	_, info := d.scoreInfo(a)
	if !(info > 0) {
		info = d.expectedInfo(a)
	}
	if !(info > 0) {
		return math.Inf(1)
	}
	return f.opts.NSigma / math.Sqrt(info)
}

// profileError returns the distance from a to where C rises by nSigma^2,
// on the positive or negative side. NaN when no root is bracketed.
func (f *Fitter) profileError(d pixelData, a, err, nSigma float64, positive bool) float64 {
	if math.IsNaN(err) || math.IsInf(err, 0) || err <= 0 {
		return math.NaN()
	}
	target := d.cash(a) + nSigma*nSigma
	fn := func(x float64) float64 { return d.cash(x) - target }

	lo, hi := a, a+bracketScale*err
	if !positive {
		lo, hi = math.Max(a-bracketScale*err, d.minAmplitude()), a
	}
	r, rerr := roots.Brent(fn, lo, hi, roots.Options{XTol: 1e-6 * err})
	if rerr != nil {
		return math.NaN()
	}
	if positive {
		return r.Root - a
	}
	return a - r.Root
}
