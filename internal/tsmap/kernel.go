package tsmap

import (
	"fmt"
	"math"

	"github.com/banshee-data/tsmap/internal/convolve"
	"github.com/banshee-data/tsmap/internal/dataset"
	"github.com/banshee-data/tsmap/internal/maps"
	"github.com/banshee-data/tsmap/internal/models"
)

// KernelStack holds one source template per true-energy bin. Template t is
// a Size by Size row-major array summing to Flux[t], the spectral integral
// over bin t.
type KernelStack struct {
	Axis    maps.EnergyAxis
	BinSz   float64
	Size    int
	Kernels [][]float64
	Flux    []float64
}

// FootprintSize returns the odd kernel size in pixels covering width
// degrees at binsz degrees per pixel.
func FootprintSize(width, binsz float64) int {
	return int(math.Ceil(width/binsz))/2*2 + 1
}

// BuildKernel evaluates model on a square footprint of width degrees,
// folds it with the PSF of each true-energy bin and weights it by the
// spectral integral over that bin. psf may be nil.
func BuildKernel(model models.SkyModel, geom maps.Geom, axisTrue maps.EnergyAxis, psf *dataset.PSFMap, width float64) (*KernelStack, error) {
	if !(width > 0) || math.IsInf(width, 0) {
		return nil, configError("kernel width must be positive, got %g deg", width)
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	npix := FootprintSize(width, geom.BinSz)
	if npix >= geom.NX || npix >= geom.NY {
		return nil, fmt.Errorf("%w: %d pixels for %g deg at %g deg/pixel, map is %dx%d",
			ErrKernelTooLarge, npix, width, geom.BinSz, geom.NX, geom.NY)
	}
	if psf != nil && psf.Axis.NBin() != axisTrue.NBin() {
		return nil, configError("PSF has %d energy bins, true axis has %d", psf.Axis.NBin(), axisTrue.NBin())
	}

	c := npix / 2
	spatial := make([]float64, npix*npix)
	total := 0.0
	for y := 0; y < npix; y++ {
		for x := 0; x < npix; x++ {
			v := model.Spatial.PixelFraction(float64(x-c)*geom.BinSz, float64(y-c)*geom.BinSz, geom.BinSz)
			spatial[y*npix+x] = v
			total += v
		}
	}
	if !(total > 0) {
		return nil, configError("model %q has no flux inside the %g deg kernel", model.Name, width)
	}

	ks := &KernelStack{
		Axis:    axisTrue,
		BinSz:   geom.BinSz,
		Size:    npix,
		Kernels: make([][]float64, axisTrue.NBin()),
		Flux:    make([]float64, axisTrue.NBin()),
	}
	for t := 0; t < axisTrue.NBin(); t++ {
		k := spatial
		if psf != nil {
			p := psf.Kernel(t)
			var err error
			k, err = convolve.Same(spatial, npix, npix, p.Data, p.Geom.NX, p.Geom.NY)
			if err != nil {
				return nil, fmt.Errorf("fold PSF for true bin %d: %w", t, err)
			}
		}
		sum := 0.0
		for _, v := range k {
			sum += v
		}
		if !(sum > 0) {
			return nil, configError("kernel for true bin %d is empty", t)
		}
		lo, hi := axisTrue.Bin(t)
		flux, err := model.Spectral.IntegralIn(lo, hi, axisTrue.Unit)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		if math.IsNaN(flux) || math.IsInf(flux, 0) || flux < 0 {
			return nil, configError("spectral integral over true bin %d is %g", t, flux)
		}
		out := make([]float64, len(k))
		for i, v := range k {
			out[i] = v / sum * flux
		}
		ks.Kernels[t] = out
		ks.Flux[t] = flux
	}
	return ks, nil
}

// Image returns kernel t as an image on the kernel footprint.
func (k *KernelStack) Image(t int) *maps.Image {
	return &maps.Image{Geom: maps.NewGeom(k.Size, k.Size, k.BinSz), Data: k.Kernels[t]}
}
