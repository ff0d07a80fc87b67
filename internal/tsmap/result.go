package tsmap

import (
	"math"
	"sort"

	"github.com/banshee-data/tsmap/internal/maps"
	"github.com/banshee-data/tsmap/internal/models"
	"github.com/banshee-data/tsmap/internal/units"
)

// Quantity names in FluxMaps.
const (
	QuantityTS       = "ts"
	QuantitySqrtTS   = "sqrt_ts"
	QuantityFlux     = "flux"
	QuantityFluxErr  = "flux_err"
	QuantityFluxErrP = "flux_errp"
	QuantityFluxErrN = "flux_errn"
	QuantityFluxUL   = "flux_ul"
	QuantityNIter    = "niter"
)

// FluxMaps is the estimator output: one cube per quantity on the input
// spatial geometry and the grouped energy axis.
type FluxMaps struct {
	Geom      maps.Geom
	Axis      maps.EnergyAxis
	Maps      map[string]*maps.Cube
	NSigma    float64
	NSigmaUL  float64
	Reference models.SkyModel
	// Converged counts, per group, the fitted pixels whose Newton
	// iteration converged. Skipped counts the pixels left at their initial
	// guess by the threshold. Both count pixels of the fitting grid, which
	// is the coarse grid when downsampling.
	Converged []int
	Skipped   []int
}

// Get returns the cube for quantity name.
func (f *FluxMaps) Get(name string) (*maps.Cube, bool) {
	c, ok := f.Maps[name]
	return c, ok
}

// Names returns the quantity names in sorted order.
func (f *FluxMaps) Names() []string {
	out := make([]string, 0, len(f.Maps))
	for k := range f.Maps {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Image returns energy slice i of quantity name.
func (f *FluxMaps) Image(name string, i int) (*maps.Image, bool) {
	c, ok := f.Maps[name]
	if !ok || i < 0 || i >= c.NBin() {
		return nil, false
	}
	return c.Slice(i), true
}

// groupResult holds the per-quantity images of one energy group.
type groupResult map[string][]float64

func quantityUnit(name string, model models.SkyModel) string {
	switch name {
	case QuantityFlux, QuantityFluxErr, QuantityFluxErrP, QuantityFluxErrN, QuantityFluxUL:
		return model.Spectral.IntegralUnit()
	}
	return units.Dimensionless
}

// assembleGroup converts pixel results into quantity images; amplitudes
// are scaled by the reference flux of the group.
func assembleGroup(res []PixelFitResult, names []string, fluxRef float64) groupResult {
	out := make(groupResult, len(names))
	for _, name := range names {
		out[name] = make([]float64, len(res))
	}
	for i, r := range res {
		for _, name := range names {
			var v float64
			switch name {
			case QuantityTS:
				v = r.TS
			case QuantitySqrtTS:
				v = math.Sqrt(r.TS)
			case QuantityFlux:
				v = r.Amplitude * fluxRef
			case QuantityFluxErr:
				v = r.AmplitudeErr * fluxRef
			case QuantityFluxErrP:
				v = r.AmplitudeErrP * fluxRef
			case QuantityFluxErrN:
				v = r.AmplitudeErrN * fluxRef
			case QuantityFluxUL:
				v = r.AmplitudeUL * fluxRef
			case QuantityNIter:
				v = float64(r.NIter)
				if r.NIter < 0 {
					v = math.NaN()
				}
			}
			out[name][i] = v
		}
	}
	return out
}

// stack builds FluxMaps from per-group images once every group is done.
func stack(geom maps.Geom, axis maps.EnergyAxis, names []string, groups []groupResult, model models.SkyModel, nSigma, nSigmaUL float64) *FluxMaps {
	fm := &FluxMaps{
		Geom:      geom,
		Axis:      axis,
		Maps:      make(map[string]*maps.Cube, len(names)),
		NSigma:    nSigma,
		NSigmaUL:  nSigmaUL,
		Reference: model,
	}
	for _, name := range names {
		c := &maps.Cube{Geom: geom, Axis: axis, Data: make([][]float64, len(groups)), Unit: quantityUnit(name, model)}
		for i, g := range groups {
			c.Data[i] = g[name]
		}
		fm.Maps[name] = c
	}
	return fm
}
