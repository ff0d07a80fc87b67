package tsmap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFit_SingleBin(t *testing.T) {
	t.Parallel()
	f := NewFitter(DefaultFitOptions())
	res := f.Fit([]float64{15}, []float64{5}, []float64{1}, 0)

	require.True(t, res.Success)
	assert.InEpsilon(t, 10.0, res.Amplitude, 0.01)
	// TS = 2 (n ln(n/b) - (n-b)) at the maximum
	assert.InEpsilon(t, 2*(15*math.Log(3)-10), res.TS, 1e-3)
	assert.InEpsilon(t, 1/math.Sqrt(15.0/225), res.AmplitudeErr, 0.01)
	assert.Greater(t, res.NIter, 0)

	assert.Less(t, res.AmplitudeErrN, res.AmplitudeErr)
	assert.Greater(t, res.AmplitudeErrP, res.AmplitudeErr)
	assert.Greater(t, res.AmplitudeUL, res.Amplitude+res.AmplitudeErrP)

	// the profile-likelihood errors sit where C rises by one
	d := pixelData{n: []float64{15}, b: []float64{5}, m: []float64{1}}
	cmin := d.cash(res.Amplitude)
	assert.InDelta(t, 1.0, d.cash(res.Amplitude+res.AmplitudeErrP)-cmin, 1e-4)
	assert.InDelta(t, 1.0, d.cash(res.Amplitude-res.AmplitudeErrN)-cmin, 1e-4)
	assert.InDelta(t, 4.0, d.cash(res.AmplitudeUL)-cmin, 1e-4)
}

func TestFit_EdgeCases(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		n, b, m []float64
		guess   float64
		check   func(t *testing.T, r PixelFitResult)
	}{
		{
			name: "no counts",
			n:    []float64{0, 0, 0}, b: []float64{1, 1, 1}, m: []float64{0.5, 1, 0.5},
			check: func(t *testing.T, r PixelFitResult) {
				assert.True(t, r.Success)
				assert.Equal(t, 0, r.NIter)
				assert.Equal(t, 0.0, r.Amplitude)
				assert.Equal(t, 0.0, r.TS)
				assert.False(t, math.IsNaN(r.AmplitudeErr) || math.IsInf(r.AmplitudeErr, 0))
			},
		},
		{
			name: "deficit stays at zero",
			n:    []float64{1, 0, 1}, b: []float64{3, 3, 3}, m: []float64{0.5, 1, 0.5},
			check: func(t *testing.T, r PixelFitResult) {
				assert.True(t, r.Success)
				assert.Equal(t, 0.0, r.Amplitude)
				assert.Equal(t, 0.0, r.TS)
			},
		},
		{
			name: "overshooting guess is pulled back",
			n:    []float64{4, 12, 4}, b: []float64{2, 2, 2}, m: []float64{0.25, 1, 0.25},
			guess: 1000,
			check: func(t *testing.T, r PixelFitResult) {
				assert.True(t, r.Success)
				assert.Greater(t, r.Amplitude, 0.0)
				assert.Less(t, r.Amplitude, 20.0)
				assert.Greater(t, r.TS, 0.0)
			},
		},
		{
			name: "source counts outside model support",
			n:    []float64{50, 0}, b: []float64{1, 1}, m: []float64{0, 1},
			check: func(t *testing.T, r PixelFitResult) {
				assert.Equal(t, 0.0, r.Amplitude)
				assert.Equal(t, 0.0, r.TS)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFitter(DefaultFitOptions())
			r := f.Fit(tt.n, tt.b, tt.m, tt.guess)
			assert.GreaterOrEqual(t, r.TS, 0.0)
			assert.GreaterOrEqual(t, r.Amplitude, 0.0)
			tt.check(t, r)
		})
	}
}

func TestFit_NonConvergenceKeepsLastIterate(t *testing.T) {
	t.Parallel()
	opts := DefaultFitOptions()
	opts.MaxIter = 1
	opts.RTol = 1e-12
	r := NewFitter(opts).Fit([]float64{40}, []float64{1}, []float64{1}, 0)
	assert.False(t, r.Success)
	assert.Equal(t, 1, r.NIter)
	assert.Greater(t, r.Amplitude, 0.0)
	assert.False(t, math.IsNaN(r.TS))
}

func TestFit_Threshold(t *testing.T) {
	t.Parallel()
	threshold := 1000.0
	opts := DefaultFitOptions()
	opts.Threshold = &threshold
	r := NewFitter(opts).Fit([]float64{15}, []float64{5}, []float64{1}, 8)

	assert.True(t, r.Success)
	assert.True(t, r.Skipped)
	assert.Equal(t, 0, r.NIter)
	assert.Equal(t, 8.0, r.Amplitude)
	assert.Greater(t, r.TS, 0.0)
	assert.True(t, math.IsNaN(r.AmplitudeErrP))
	assert.True(t, math.IsNaN(r.AmplitudeErrN))
	assert.True(t, math.IsNaN(r.AmplitudeUL))

	low := 1.0
	opts.Threshold = &low
	r = NewFitter(opts).Fit([]float64{15}, []float64{5}, []float64{1}, 8)
	assert.False(t, r.Skipped)
	assert.Greater(t, r.NIter, 0)
	assert.InEpsilon(t, 10.0, r.Amplitude, 0.01)
}

func TestFit_OptionalQuantitiesDisabled(t *testing.T) {
	t.Parallel()
	opts := DefaultFitOptions()
	opts.ErrNP, opts.UL = false, false
	r := NewFitter(opts).Fit([]float64{15}, []float64{5}, []float64{1}, 0)
	assert.True(t, math.IsNaN(r.AmplitudeErrP))
	assert.True(t, math.IsNaN(r.AmplitudeUL))
	assert.False(t, math.IsNaN(r.AmplitudeErr))
}

func TestFit_ErrorScalesWithNSigma(t *testing.T) {
	t.Parallel()
	one := NewFitter(DefaultFitOptions()).Fit([]float64{15}, []float64{5}, []float64{1}, 0)
	opts := DefaultFitOptions()
	opts.NSigma = 2
	two := NewFitter(opts).Fit([]float64{15}, []float64{5}, []float64{1}, 0)
	assert.InEpsilon(t, 2*one.AmplitudeErr, two.AmplitudeErr, 1e-9)
	assert.Greater(t, two.AmplitudeErrP, one.AmplitudeErrP)
}
