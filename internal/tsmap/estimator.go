package tsmap

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/tsmap/internal/dataset"
	"github.com/banshee-data/tsmap/internal/maps"
	"github.com/banshee-data/tsmap/internal/models"
	"github.com/banshee-data/tsmap/internal/monitoring"
)

// Optional quantity selections.
const (
	SelectionErrNP = "errn-errp"
	SelectionUL    = "ul"
)

// AllSelections lists every optional quantity selection.
var AllSelections = []string{SelectionErrNP, SelectionUL}

// Default estimator settings.
const (
	DefaultKernelWidth = 0.2 // deg
	DefaultNSigma      = 1.0
	DefaultNSigmaUL    = 2.0
	DefaultRTol        = 0.01
	DefaultMaxIter     = 20
)

// Estimator computes TS maps. A zero Estimator is not usable; start from
// NewEstimator and adjust fields.
type Estimator struct {
	Model               models.SkyModel
	KernelWidth         float64 // deg
	DownsamplingFactor  int
	EnergyEdges         []float64
	EnergyUnit          string
	SumOverEnergyGroups bool
	Threshold           *float64
	// SelectionOptional names the optional quantities to compute; nil
	// selects all of them and an empty slice none.
	SelectionOptional []string
	NSigma            float64
	NSigmaUL          float64
	RTol              float64
	MaxIter           int
	// NJobs is the number of pixel workers; values below one use every CPU.
	NJobs int
}

// NewEstimator returns an estimator for the default point-source model.
func NewEstimator() *Estimator {
	return &Estimator{
		Model:               models.DefaultSkyModel(),
		KernelWidth:         DefaultKernelWidth,
		DownsamplingFactor:  1,
		SumOverEnergyGroups: true,
		NSigma:              DefaultNSigma,
		NSigmaUL:            DefaultNSigmaUL,
		RTol:                DefaultRTol,
		MaxIter:             DefaultMaxIter,
	}
}

func (e *Estimator) selected(name string) bool {
	if e.SelectionOptional == nil {
		return true
	}
	for _, s := range e.SelectionOptional {
		if s == name {
			return true
		}
	}
	return false
}

// Validate checks the settings that do not depend on the dataset.
func (e *Estimator) Validate() error {
	if e.DownsamplingFactor < 1 {
		return configError("downsampling factor must be >= 1, got %d", e.DownsamplingFactor)
	}
	if !(e.KernelWidth > 0) {
		return configError("kernel width must be positive, got %g", e.KernelWidth)
	}
	if !(e.NSigma > 0) || !(e.NSigmaUL > 0) {
		return configError("n_sigma and n_sigma_ul must be positive, got %g and %g", e.NSigma, e.NSigmaUL)
	}
	if !(e.RTol > 0) {
		return configError("rtol must be positive, got %g", e.RTol)
	}
	if e.MaxIter < 1 {
		return configError("max iterations must be >= 1, got %d", e.MaxIter)
	}
	if e.Threshold != nil && math.IsNaN(*e.Threshold) {
		return configError("threshold is NaN")
	}
	for _, s := range e.SelectionOptional {
		if s != SelectionErrNP && s != SelectionUL {
			return configError("unknown optional selection %q (valid: %v)", s, AllSelections)
		}
	}
	if err := e.Model.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}

// Quantities returns the names of the maps Run produces.
func (e *Estimator) Quantities() []string {
	names := []string{QuantityTS, QuantitySqrtTS, QuantityFlux, QuantityFluxErr, QuantityNIter}
	if e.selected(SelectionErrNP) {
		names = append(names, QuantityFluxErrP, QuantityFluxErrN)
	}
	if e.selected(SelectionUL) {
		names = append(names, QuantityFluxUL)
	}
	return names
}

func (e *Estimator) fitOptions() FitOptions {
	return FitOptions{
		NSigma:    e.NSigma,
		NSigmaUL:  e.NSigmaUL,
		RTol:      e.RTol,
		MaxIter:   e.MaxIter,
		Threshold: e.Threshold,
		ErrNP:     e.selected(SelectionErrNP),
		UL:        e.selected(SelectionUL),
	}
}

// energyGroups resolves the analysis energy groups on the reco axis.
func (e *Estimator) energyGroups(reco maps.EnergyAxis) ([]maps.EnergyGroup, maps.EnergyAxis, error) {
	if len(e.EnergyEdges) == 0 {
		return reco.Groups(), reco, nil
	}
	unit := e.EnergyUnit
	if unit == "" {
		unit = reco.Unit
	}
	groups, axis, err := reco.GroupByEdges(e.EnergyEdges, unit)
	if err != nil {
		return nil, maps.EnergyAxis{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return groups, axis, nil
}

// Run computes the TS maps of ds. Configuration problems are reported
// before any pixel is fitted. Cancelling ctx aborts the run without a
// result.
func (e *Estimator) Run(ctx context.Context, ds *dataset.Dataset) (*FluxMaps, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	reco := ds.RecoAxis()
	groups, axis, err := e.energyGroups(reco)
	if err != nil {
		return nil, err
	}
	axis.Name = maps.AxisEnergy

	f := e.DownsamplingFactor
	work, err := ds.Downsample(f)
	if err != nil {
		return nil, err
	}
	ks, err := BuildKernel(e.Model, work.Geom(), work.TrueAxis(), work.PSF, e.KernelWidth)
	if err != nil {
		return nil, err
	}
	monitoring.Debugf("tsmap: kernel %dx%d pixels over %d true energy bins", ks.Size, ks.Size, ks.Axis.NBin())

	fitter := NewFitter(e.fitOptions())
	names := e.Quantities()
	results := make([]groupResult, len(groups))
	converged := make([]int, len(groups))
	skipped := make([]int, len(groups))
	for gi, g := range groups {
		start := time.Now()
		fluxRef, err := e.Model.Spectral.IntegralIn(g.EnergyMin, g.EnergyMax, reco.Unit)
		if err != nil {
			return nil, err
		}

		gd := prepareGroup(work, ks, g, e.SumOverEnergyGroups)
		res, err := runSpatialPass(ctx, gd, fitter, e.NJobs)
		if err != nil {
			return nil, fmt.Errorf("energy group %d: %w", gi, err)
		}
		valid := 0
		for i, r := range res {
			if !gd.valid[i] {
				continue
			}
			valid++
			switch {
			case r.Skipped:
				skipped[gi]++
			case r.Success:
				converged[gi]++
			}
		}
		if fitted := valid - skipped[gi]; fitted > converged[gi] {
			monitoring.Logf("tsmap: energy group %d: %d of %d fits did not converge", gi, fitted-converged[gi], fitted)
		}

		gr := assembleGroup(res, names, fluxRef)
		if f > 1 {
			gr, err = e.upsample(gr, work.Geom(), ds, ks, g)
			if err != nil {
				return nil, err
			}
		}
		results[gi] = gr
		monitoring.Debugf("tsmap: energy group %d [%g, %g] %s: %d valid pixels in %s",
			gi, g.EnergyMin, g.EnergyMax, reco.Unit, valid, time.Since(start).Round(time.Millisecond))
	}

	fm := stack(ds.Geom(), axis, names, results, e.Model, e.NSigma, e.NSigmaUL)
	fm.Converged = converged
	fm.Skipped = skipped
	return fm, nil
}

// upsample re-expands coarse group results to the dataset grid and masks
// them with the full-resolution validity.
func (e *Estimator) upsample(gr groupResult, coarse maps.Geom, ds *dataset.Dataset, ks *KernelStack, g maps.EnergyGroup) (groupResult, error) {
	full := ds.Geom()
	valid := prepareGroup(ds, ks, g, e.SumOverEnergyGroups).valid
	out := make(groupResult, len(gr))
	for name, data := range gr {
		img, err := (&maps.Image{Geom: coarse, Data: data}).Upsample(e.DownsamplingFactor, full)
		if err != nil {
			return nil, err
		}
		for i, ok := range valid {
			if !ok {
				img.Data[i] = math.NaN()
			}
		}
		out[name] = img.Data
	}
	return out, nil
}
