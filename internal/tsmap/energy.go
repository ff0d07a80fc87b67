package tsmap

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/tsmap/internal/convolve"
	"github.com/banshee-data/tsmap/internal/dataset"
	"github.com/banshee-data/tsmap/internal/maps"
)

// slice is one reconstructed-energy layer entering the likelihood: counts,
// background and source exposure X on the map, and a kernel K such that
// the expected source counts at offset j from pixel p are a*X(p+j)*K(j).
type slice struct {
	counts     []float64
	background []float64
	exposure   []float64
	kernel     []float64
}

// groupData is the prepared input of one spatial pass.
type groupData struct {
	geom       maps.Geom
	kernelSize int
	slices     []slice
	valid      []bool
}

// prepareGroup folds the true-energy kernels and exposure through the
// energy response into the reco bins of group g. With sum set the bins are
// collapsed into a single slice.
func prepareGroup(ds *dataset.Dataset, ks *KernelStack, g maps.EnergyGroup, sum bool) *groupData {
	geom := ds.Geom()
	npix := geom.NPix()
	kk := ks.Size * ks.Size
	mask := ds.MaskOrDefault()

	gd := &groupData{geom: geom, kernelSize: ks.Size, valid: make([]bool, npix)}
	anyMask := mask.AnySlices(g.Lo, g.Hi)

	var total slice
	totalWeight := 0.0
	if sum {
		total = slice{
			counts:     make([]float64, npix),
			background: make([]float64, npix),
			exposure:   make([]float64, npix),
			kernel:     make([]float64, kk),
		}
	}

	for r := g.Lo; r < g.Hi; r++ {
		s := slice{
			counts:     make([]float64, npix),
			background: make([]float64, npix),
			exposure:   make([]float64, npix),
			kernel:     make([]float64, kk),
		}
		weight := 0.0
		for t := 0; t < ks.Axis.NBin(); t++ {
			p := ds.Response(t, r)
			if p == 0 {
				continue
			}
			w := p * ks.Flux[t]
			weight += w
			for j, v := range ks.Kernels[t] {
				s.kernel[j] += p * v
			}
			if w == 0 {
				continue
			}
			for i, e := range ds.Exposure.Data[t] {
				s.exposure[i] += e * w
			}
		}
		m := mask.Data[r]
		for i := 0; i < npix; i++ {
			if !m[i] {
				s.exposure[i] = 0
				continue
			}
			s.counts[i] = ds.Counts.Data[r][i]
			s.background[i] = ds.Background.Data[r][i]
		}
		if weight <= 0 {
			continue
		}

		if sum {
			for i := 0; i < npix; i++ {
				total.counts[i] += s.counts[i]
				total.background[i] += s.background[i]
				total.exposure[i] += s.exposure[i]
			}
			for j, v := range s.kernel {
				total.kernel[j] += v
			}
			totalWeight += weight
			continue
		}
		for j := range s.kernel {
			s.kernel[j] /= weight
		}
		gd.slices = append(gd.slices, s)
	}

	if sum && totalWeight > 0 {
		for j := range total.kernel {
			total.kernel[j] /= totalWeight
		}
		gd.slices = append(gd.slices, total)
	}

	for i := 0; i < npix; i++ {
		if !anyMask.Data[i] {
			continue
		}
		b, x := 0.0, 0.0
		for _, s := range gd.slices {
			b += s.background[i]
			x += s.exposure[i]
		}
		gd.valid[i] = b > 0 && x > 0
	}
	return gd
}

// initialGuess returns the linear least-squares amplitude at every pixel,
// sum corr((n-b)X, K) / sum corr(X^2, K^2), clamped at zero.
func (gd *groupData) initialGuess() ([]float64, error) {
	nx, ny, k := gd.geom.NX, gd.geom.NY, gd.kernelSize
	num := make([]float64, nx*ny)
	den := make([]float64, nx*ny)
	for _, s := range gd.slices {
		excess := make([]float64, nx*ny)
		x2 := make([]float64, nx*ny)
		for i := range excess {
			excess[i] = (s.counts[i] - s.background[i]) * s.exposure[i]
			x2[i] = s.exposure[i] * s.exposure[i]
		}
		k2 := make([]float64, len(s.kernel))
		for j, v := range s.kernel {
			k2[j] = v * v
		}
		cn, err := convolve.CorrelateSame(excess, nx, ny, s.kernel, k, k)
		if err != nil {
			return nil, err
		}
		cd, err := convolve.CorrelateSame(x2, nx, ny, k2, k, k)
		if err != nil {
			return nil, err
		}
		for i := range num {
			num[i] += cn[i]
			den[i] += cd[i]
		}
	}
	out := make([]float64, nx*ny)
	// FFT round-off leaves tiny denominators where X is zero
	floor := 1e-12 * floats.Norm(den, math.Inf(1))
	for i := range out {
		if den[i] > floor && num[i] > 0 {
			out[i] = num[i] / den[i]
		}
	}
	return out, nil
}
