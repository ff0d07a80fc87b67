package dataset

import (
	"fmt"
	"math"

	"github.com/banshee-data/tsmap/internal/maps"
)

// PSFMap holds one point-spread-function kernel per true-energy bin. Each
// kernel is an odd-sized image on the dataset pixel scale, centred on its
// middle pixel and summing to one.
type PSFMap struct {
	Axis    maps.EnergyAxis
	Kernels []*maps.Image
}

// NewGaussianPSFMap returns Gaussian kernels of width sigma[i] degrees for
// each true-energy bin, truncated at width degrees.
func NewGaussianPSFMap(axis maps.EnergyAxis, binsz float64, sigma []float64, width float64) (*PSFMap, error) {
	if len(sigma) != axis.NBin() {
		return nil, fmt.Errorf("have %d PSF widths for %d energy bins", len(sigma), axis.NBin())
	}
	npix := int(math.Ceil(width/binsz))/2*2 + 1
	g := maps.NewGeom(npix, npix, binsz)
	p := &PSFMap{Axis: axis, Kernels: make([]*maps.Image, len(sigma))}
	for i, s := range sigma {
		if !(s > 0) {
			return nil, fmt.Errorf("PSF sigma must be positive, got %g for bin %d", s, i)
		}
		k := maps.NewImage(g, "")
		c := npix / 2
		for y := 0; y < npix; y++ {
			for x := 0; x < npix; x++ {
				dx, dy := float64(x-c)*binsz, float64(y-c)*binsz
				k.Set(x, y, math.Exp(-(dx*dx+dy*dy)/(2*s*s)))
			}
		}
		k.Scale(1 / k.Sum())
		p.Kernels[i] = k
	}
	return p, nil
}

// Validate checks kernel count, shape and pixel scale against binsz.
func (p *PSFMap) Validate(binsz float64) error {
	if len(p.Kernels) != p.Axis.NBin() {
		return fmt.Errorf("PSF has %d kernels for %d energy bins", len(p.Kernels), p.Axis.NBin())
	}
	for i, k := range p.Kernels {
		if k == nil {
			return fmt.Errorf("PSF kernel %d is missing", i)
		}
		if k.Geom.NX%2 == 0 || k.Geom.NY%2 == 0 {
			return fmt.Errorf("PSF kernel %d has even size %dx%d", i, k.Geom.NX, k.Geom.NY)
		}
		if math.Abs(k.Geom.BinSz-binsz) > 1e-6*binsz {
			return fmt.Errorf("PSF kernel %d has pixel size %g, dataset uses %g", i, k.Geom.BinSz, binsz)
		}
		if !(k.Sum() > 0) {
			return fmt.Errorf("PSF kernel %d has no positive values", i)
		}
	}
	return nil
}

// Kernel returns the kernel for true-energy bin i.
func (p *PSFMap) Kernel(i int) *maps.Image { return p.Kernels[i] }

// Downsample sums each kernel into coarse pixels of factor fine pixels,
// keeping the kernel centred and odd-sized, then renormalises it.
func (p *PSFMap) Downsample(factor int) (*PSFMap, error) {
	if factor < 1 {
		return nil, fmt.Errorf("downsampling factor must be >= 1, got %d", factor)
	}
	if factor == 1 {
		return p, nil
	}
	out := &PSFMap{Axis: p.Axis, Kernels: make([]*maps.Image, len(p.Kernels))}
	coarse := func(d int) int { return int(math.Floor(float64(d)/float64(factor) + 0.5)) }
	for i, k := range p.Kernels {
		hx, hy := k.Geom.NX/2, k.Geom.NY/2
		cx, cy := coarse(hx), coarse(hy)
		g := maps.NewGeom(2*cx+1, 2*cy+1, k.Geom.BinSz*float64(factor))
		r := maps.NewImage(g, k.Unit)
		for y := 0; y < k.Geom.NY; y++ {
			for x := 0; x < k.Geom.NX; x++ {
				ox, oy := coarse(x-hx), coarse(y-hy)
				r.Data[g.Index(ox+cx, oy+cy)] += k.At(x, y)
			}
		}
		if s := r.Sum(); s > 0 {
			r.Scale(1 / s)
		}
		out.Kernels[i] = r
	}
	return out, nil
}
