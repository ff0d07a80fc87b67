package roots

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		f    func(float64) float64
		a, b float64
		want float64
	}{
		{"linear", func(x float64) float64 { return 2*x - 1 }, 0, 3, 0.5},
		{"sqrt two", func(x float64) float64 { return x*x - 2 }, 0, 2, math.Sqrt2},
		{"cosine", math.Cos, 0, 3, math.Pi / 2},
		{"decreasing", func(x float64) float64 { return math.Exp(-x) - 0.5 }, 0, 5, math.Ln2},
		{"root at endpoint", func(x float64) float64 { return x - 1 }, 1, 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Brent(tt.f, tt.a, tt.b, Options{})
			require.NoError(t, err)
			assert.True(t, res.Converged)
			assert.InDelta(t, tt.want, res.Root, 1e-10)
		})
	}
}

func TestBrent_NotBracketed(t *testing.T) {
	t.Parallel()
	res, err := Brent(func(x float64) float64 { return x*x + 1 }, -1, 1, Options{})
	assert.ErrorIs(t, err, ErrNotBracketed)
	assert.True(t, math.IsNaN(res.Root))
}

func TestBrent_IterationBudget(t *testing.T) {
	t.Parallel()
	res, err := Brent(func(x float64) float64 { return x - 0.3 }, 0, 1e6, Options{MaxIter: 1, XTol: 1e-15})
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)
}
