package dataset

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/tsmap/internal/maps"
	"github.com/banshee-data/tsmap/internal/models"
	"github.com/banshee-data/tsmap/internal/units"
)

// ErrInvalidDataset is wrapped by every Validate failure.
var ErrInvalidDataset = errors.New("invalid dataset")

// Dataset is a binned observation. Counts, Background and Mask share the
// reconstructed energy axis; Exposure is on the true energy axis.
type Dataset struct {
	Name       string
	Counts     *maps.Cube
	Background *maps.Cube
	Exposure   *maps.Cube
	Mask       *maps.MaskCube
	PSF        *PSFMap
	EDisp      *EDispKernel
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDataset, fmt.Sprintf(format, args...))
}

// Validate checks the shape and axis invariants between the dataset maps.
func (d *Dataset) Validate() error {
	if d.Counts == nil || d.Background == nil || d.Exposure == nil {
		return invalid("counts, background and exposure are required")
	}
	for name, c := range map[string]*maps.Cube{"counts": d.Counts, "background": d.Background, "exposure": d.Exposure} {
		if err := c.Validate(); err != nil {
			return invalid("%s: %v", name, err)
		}
	}
	g := d.Counts.Geom
	if !d.Background.Geom.Equal(g) || !d.Exposure.Geom.Equal(g) {
		return invalid("counts %s, background %s and exposure %s geometries differ",
			g, d.Background.Geom, d.Exposure.Geom)
	}
	if !d.Background.Axis.Equal(d.Counts.Axis) {
		return invalid("background energy axis differs from counts")
	}
	if d.Mask != nil {
		if !d.Mask.Geom.Equal(g) {
			return invalid("mask geometry %s differs from counts %s", d.Mask.Geom, g)
		}
		if !d.Mask.Axis.Equal(d.Counts.Axis) {
			return invalid("mask energy axis differs from counts")
		}
		if err := d.Mask.Validate(); err != nil {
			return invalid("mask: %v", err)
		}
	}
	if d.EDisp == nil {
		if !d.Exposure.Axis.Equal(d.Counts.Axis) {
			return invalid("without energy dispersion the true and reco axes must match")
		}
	} else {
		if err := d.EDisp.Validate(); err != nil {
			return invalid("edisp: %v", err)
		}
		if !d.EDisp.TrueAxis.Equal(d.Exposure.Axis) || !d.EDisp.RecoAxis.Equal(d.Counts.Axis) {
			return invalid("edisp axes do not match exposure and counts")
		}
	}
	if d.PSF != nil {
		if !d.PSF.Axis.Equal(d.Exposure.Axis) {
			return invalid("PSF energy axis differs from exposure")
		}
		if err := d.PSF.Validate(g.BinSz); err != nil {
			return invalid("psf: %v", err)
		}
	}
	for r, s := range d.Counts.Data {
		for p, v := range s {
			if v < 0 || math.IsNaN(v) {
				return invalid("counts bin %d pixel %d is %g", r, p, v)
			}
		}
	}
	return nil
}

// Geom returns the spatial geometry.
func (d *Dataset) Geom() maps.Geom { return d.Counts.Geom }

// RecoAxis returns the reconstructed energy axis.
func (d *Dataset) RecoAxis() maps.EnergyAxis { return d.Counts.Axis }

// TrueAxis returns the true energy axis.
func (d *Dataset) TrueAxis() maps.EnergyAxis { return d.Exposure.Axis }

// MaskOrDefault returns the mask, or an all-true mask when none is set.
func (d *Dataset) MaskOrDefault() *maps.MaskCube {
	if d.Mask != nil {
		return d.Mask
	}
	return maps.NewMaskCube(d.Geom(), d.RecoAxis(), true)
}

// Response returns the probability that true bin t is reconstructed in
// reco bin r; the identity when there is no energy dispersion.
func (d *Dataset) Response(t, r int) float64 {
	if d.EDisp != nil {
		return d.EDisp.Response(t, r)
	}
	if t == r {
		return 1
	}
	return 0
}

// Downsample block-reduces the dataset by factor: counts and background
// are summed, exposure averaged, the mask reduced with any and the PSF
// kernels summed into coarse pixels.
func (d *Dataset) Downsample(factor int) (*Dataset, error) {
	if factor == 1 {
		return d, nil
	}
	out := &Dataset{Name: d.Name, EDisp: d.EDisp}
	var err error
	if out.Counts, err = d.Counts.BlockReduce(factor, maps.ReduceSum); err != nil {
		return nil, fmt.Errorf("downsample counts: %w", err)
	}
	if out.Background, err = d.Background.BlockReduce(factor, maps.ReduceSum); err != nil {
		return nil, fmt.Errorf("downsample background: %w", err)
	}
	if out.Exposure, err = d.Exposure.BlockReduce(factor, maps.ReduceMean); err != nil {
		return nil, fmt.Errorf("downsample exposure: %w", err)
	}
	if d.Mask != nil {
		if out.Mask, err = d.Mask.BlockReduce(factor); err != nil {
			return nil, fmt.Errorf("downsample mask: %w", err)
		}
	}
	if d.PSF != nil {
		if out.PSF, err = d.PSF.Downsample(factor); err != nil {
			return nil, fmt.Errorf("downsample psf: %w", err)
		}
	}
	return out, nil
}

// ScaleBackground returns a copy of the dataset whose background is
// multiplied by the background model evaluated at each reco bin centre.
func (d *Dataset) ScaleBackground(b models.BackgroundModel) (*Dataset, error) {
	axis, err := d.RecoAxis().To(units.TeV)
	if err != nil {
		return nil, err
	}
	out := *d
	out.Background = d.Background.Copy()
	for r := range out.Background.Data {
		out.Background.Slice(r).Scale(b.Factor(axis.Center(r)))
	}
	return &out, nil
}
