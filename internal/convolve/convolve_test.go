package convolve

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tsmap/internal/maps"
)

func direct(img []float64, nx, ny int, k []float64, kx, ky int, flip bool) []float64 {
	out := make([]float64, nx*ny)
	hx, hy := kx/2, ky/2
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			s := 0.0
			for j := 0; j < ky; j++ {
				for i := 0; i < kx; i++ {
					var sx, sy int
					if flip {
						sx, sy = x+i-hx, y+j-hy
					} else {
						sx, sy = x-i+hx, y-j+hy
					}
					if sx < 0 || sy < 0 || sx >= nx || sy >= ny {
						continue
					}
					s += img[sy*nx+sx] * k[j*kx+i]
				}
			}
			out[y*nx+x] = s
		}
	}
	return out
}

func TestSameMatchesDirect(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(1, 2))
	nx, ny, kx, ky := 13, 9, 5, 3
	img := make([]float64, nx*ny)
	for i := range img {
		img[i] = rng.Float64()
	}
	k := make([]float64, kx*ky)
	for i := range k {
		k[i] = rng.Float64()
	}

	tests := []struct {
		name string
		fn   func([]float64, int, int, []float64, int, int) ([]float64, error)
		flip bool
	}{
		{"convolution", Same, false},
		{"correlation", CorrelateSame, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn(img, nx, ny, k, kx, ky)
			require.NoError(t, err)
			want := direct(img, nx, ny, k, kx, ky, tt.flip)
			require.Len(t, got, len(want))
			for i := range want {
				assert.InDelta(t, want[i], got[i], 1e-10, "pixel %d", i)
			}
		})
	}
}

func TestSame_DeltaKernelIsIdentity(t *testing.T) {
	t.Parallel()
	g := maps.NewGeom(6, 4, 0.1)
	img := maps.NewImage(g, "")
	for i := range img.Data {
		img.Data[i] = float64(i)
	}
	k := maps.NewImage(maps.NewGeom(3, 3, 0.1), "")
	k.Set(1, 1, 1)

	out, err := Image(img, k)
	require.NoError(t, err)
	for i := range img.Data {
		assert.InDelta(t, img.Data[i], out.Data[i], 1e-10)
	}
}

func TestSame_ShapeErrors(t *testing.T) {
	t.Parallel()
	_, err := Same(make([]float64, 5), 2, 2, []float64{1}, 1, 1)
	assert.ErrorIs(t, err, ErrShape)
	_, err = Same(nil, 0, 0, []float64{1}, 1, 1)
	assert.ErrorIs(t, err, ErrShape)
}
