// Package simulate builds synthetic datasets with known sources, either
// as exact expectations (Asimov) or Poisson realisations.
package simulate

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/tsmap/internal/convolve"
	"github.com/banshee-data/tsmap/internal/dataset"
	"github.com/banshee-data/tsmap/internal/maps"
	"github.com/banshee-data/tsmap/internal/models"
	"github.com/banshee-data/tsmap/internal/units"
)

// Config describes a synthetic observation. Source positions are in the
// flat coordinates of Geom.
type Config struct {
	Name     string
	Geom     maps.Geom
	RecoAxis maps.EnergyAxis
	// TrueAxis defaults to RecoAxis; when it differs EDisp is required.
	TrueAxis *maps.EnergyAxis
	EDisp    *dataset.EDispKernel

	Sources []models.SkyModel
	// Background is the expected background counts per pixel and reco bin.
	Background float64
	// Exposure is the uniform exposure in cm2 s.
	Exposure float64
	// PSFSigma is the Gaussian PSF width in degrees; zero disables the PSF.
	PSFSigma float64
	PSFWidth float64
	Mask     *maps.MaskCube
}

// DefaultConfig returns a 100x100 pixel, single-bin observation of a
// Gaussian source at the map centre.
func DefaultConfig() Config {
	return Config{
		Name:     "simulated",
		Geom:     maps.NewGeom(100, 100, 0.02),
		RecoAxis: maps.MustEnergyAxisFromBounds(maps.AxisEnergy, 1, 10, 1, units.TeV),
		Sources: []models.SkyModel{{
			Name:     "source",
			Spatial:  models.Gaussian(0, 0, 0.1),
			Spectral: models.PowerLaw(2, 1e-10, 1),
		}},
		Background: 2,
		Exposure:   1e12,
	}
}

func (c Config) trueAxis() maps.EnergyAxis {
	a := c.RecoAxis
	if c.TrueAxis != nil {
		a = *c.TrueAxis
	}
	a.Name = maps.AxisEnergyTrue
	return a
}

// Asimov returns a dataset whose counts equal their expectation,
// background plus sources.
func Asimov(c Config) (*dataset.Dataset, error) {
	if err := c.Geom.Validate(); err != nil {
		return nil, err
	}
	trueAxis := c.trueAxis()
	reco := c.RecoAxis
	reco.Name = maps.AxisEnergy

	ds := &dataset.Dataset{
		Name:       c.Name,
		Counts:     maps.NewCube(c.Geom, reco, units.CountsUnit),
		Background: maps.NewCubeFilled(c.Geom, reco, c.Background, units.CountsUnit),
		Exposure:   maps.NewCubeFilled(c.Geom, trueAxis, c.Exposure, units.ExposureUnit),
		Mask:       c.Mask,
		EDisp:      c.EDisp,
	}
	if c.PSFSigma > 0 {
		width := c.PSFWidth
		if width <= 0 {
			width = 10 * c.PSFSigma
		}
		sigma := make([]float64, trueAxis.NBin())
		for i := range sigma {
			sigma[i] = c.PSFSigma
		}
		psf, err := dataset.NewGaussianPSFMap(trueAxis, c.Geom.BinSz, sigma, width)
		if err != nil {
			return nil, err
		}
		ds.PSF = psf
	}

	npred, err := sourceCounts(c, ds)
	if err != nil {
		return nil, err
	}
	for r := range ds.Counts.Data {
		for i := range ds.Counts.Data[r] {
			ds.Counts.Data[r][i] = ds.Background.Data[r][i] + npred.Data[r][i]
		}
	}
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("simulated dataset: %w", err)
	}
	return ds, nil
}

// sourceCounts folds every source through exposure, PSF and energy
// dispersion into expected reco counts.
func sourceCounts(c Config, ds *dataset.Dataset) (*maps.Cube, error) {
	g := c.Geom
	trueAxis := ds.TrueAxis()
	out := maps.NewCube(g, ds.RecoAxis(), units.CountsUnit)
	for _, src := range c.Sources {
		if err := src.Validate(); err != nil {
			return nil, err
		}
		shape := maps.NewImage(g, "")
		for y := 0; y < g.NY; y++ {
			for x := 0; x < g.NX; x++ {
				lon, lat := g.PixToCoord(float64(x), float64(y))
				shape.Set(x, y, src.Spatial.PixelFraction(lon-src.Spatial.Lon, lat-src.Spatial.Lat, g.BinSz))
			}
		}
		for t := 0; t < trueAxis.NBin(); t++ {
			lo, hi := trueAxis.Bin(t)
			flux, err := src.Spectral.IntegralIn(lo, hi, trueAxis.Unit)
			if err != nil {
				return nil, err
			}
			img := shape
			if ds.PSF != nil {
				if img, err = convolve.Image(shape, ds.PSF.Kernel(t)); err != nil {
					return nil, err
				}
			}
			for r := 0; r < ds.RecoAxis().NBin(); r++ {
				p := ds.Response(t, r)
				if p == 0 {
					continue
				}
				for i, v := range img.Data {
					out.Data[r][i] += v * flux * ds.Exposure.Data[t][i] * p
				}
			}
		}
	}
	return out, nil
}

// Poisson returns a dataset whose counts are drawn from the expectation
// with a generator seeded by seed.
func Poisson(c Config, seed uint64) (*dataset.Dataset, error) {
	ds, err := Asimov(c)
	if err != nil {
		return nil, err
	}
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	for r := range ds.Counts.Data {
		for i, lambda := range ds.Counts.Data[r] {
			if lambda <= 0 {
				ds.Counts.Data[r][i] = 0
				continue
			}
			ds.Counts.Data[r][i] = distuv.Poisson{Lambda: lambda, Src: src}.Rand()
		}
	}
	return ds, nil
}
