package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tsmap/internal/maps"
	"github.com/banshee-data/tsmap/internal/models"
	"github.com/banshee-data/tsmap/internal/units"
)

func newTestDataset(t *testing.T) *Dataset {
	t.Helper()
	g := maps.NewGeom(9, 7, 0.05)
	reco := maps.MustEnergyAxisFromBounds(maps.AxisEnergy, 0.1, 10, 2, units.TeV)
	trueAxis := reco
	trueAxis.Name = maps.AxisEnergyTrue
	return &Dataset{
		Name:       "test",
		Counts:     maps.NewCubeFilled(g, reco, 1, units.CountsUnit),
		Background: maps.NewCubeFilled(g, reco, 0.5, units.CountsUnit),
		Exposure:   maps.NewCubeFilled(g, trueAxis, 1e12, units.ExposureUnit),
	}
}

func TestDataset_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(d *Dataset)
		ok     bool
	}{
		{"valid", func(d *Dataset) {}, true},
		{"missing exposure", func(d *Dataset) { d.Exposure = nil }, false},
		{"background geometry", func(d *Dataset) {
			d.Background = maps.NewCube(maps.NewGeom(3, 3, 0.05), d.Counts.Axis, "")
		}, false},
		{"negative counts", func(d *Dataset) { d.Counts.Data[0][3] = -1 }, false},
		{"true axis differs without edisp", func(d *Dataset) {
			d.Exposure = maps.NewCube(d.Geom(), maps.MustEnergyAxisFromBounds(maps.AxisEnergyTrue, 0.1, 10, 4, units.TeV), "")
		}, false},
		{"edisp bridges axes", func(d *Dataset) {
			trueAxis := maps.MustEnergyAxisFromBounds(maps.AxisEnergyTrue, 0.1, 10, 4, units.TeV)
			d.Exposure = maps.NewCube(d.Geom(), trueAxis, "")
			d.EDisp = &EDispKernel{TrueAxis: trueAxis, RecoAxis: d.Counts.Axis, Matrix: [][]float64{
				{1, 0}, {1, 0}, {0, 1}, {0, 1},
			}}
		}, true},
		{"mask shape", func(d *Dataset) {
			d.Mask = maps.NewMaskCube(d.Geom(), maps.MustEnergyAxisFromBounds(maps.AxisEnergy, 0.1, 10, 3, units.TeV), true)
		}, false},
		{"psf pixel size", func(d *Dataset) {
			psf, err := NewGaussianPSFMap(d.Exposure.Axis, 0.1, []float64{0.1, 0.1}, 0.5)
			require.NoError(t, err)
			d.PSF = psf
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDataset(t)
			tt.mutate(d)
			err := d.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidDataset)
			}
		})
	}
}

func TestDataset_Response(t *testing.T) {
	t.Parallel()
	d := newTestDataset(t)
	assert.Equal(t, 1.0, d.Response(1, 1))
	assert.Equal(t, 0.0, d.Response(0, 1))

	d.EDisp = NewDiagonalEDisp(d.Counts.Axis)
	require.NoError(t, d.Validate())
	assert.Equal(t, 1.0, d.Response(0, 0))
}

func TestDataset_Downsample(t *testing.T) {
	t.Parallel()
	d := newTestDataset(t)
	d.Mask = maps.NewMaskCube(d.Geom(), d.RecoAxis(), false)
	d.Mask.Data[0][0] = true
	psf, err := NewGaussianPSFMap(d.TrueAxis(), 0.05, []float64{0.05, 0.1}, 0.5)
	require.NoError(t, err)
	d.PSF = psf
	require.NoError(t, d.Validate())

	ds, err := d.Downsample(2)
	require.NoError(t, err)
	require.NoError(t, ds.Validate())

	assert.Equal(t, 5, ds.Geom().NX)
	assert.Equal(t, 4, ds.Geom().NY)
	assert.InDelta(t, d.Counts.Sum(), ds.Counts.Sum(), 1e-9)
	assert.InDelta(t, 4.0, ds.Counts.Data[0][0], 1e-12)
	assert.InDelta(t, 1e12, ds.Exposure.Data[1][ds.Geom().NPix()-1], 1)
	assert.True(t, ds.Mask.Data[0][0])
	assert.False(t, ds.Mask.Data[0][1])

	for _, k := range ds.PSF.Kernels {
		assert.Equal(t, 1, k.Geom.NX%2)
		assert.InDelta(t, 1.0, k.Sum(), 1e-12)
		assert.InDelta(t, 0.1, k.Geom.BinSz, 1e-12)
	}

	same, err := d.Downsample(1)
	require.NoError(t, err)
	assert.Same(t, d, same)
}

func TestDataset_ScaleBackground(t *testing.T) {
	t.Parallel()
	d := newTestDataset(t)
	scaled, err := d.ScaleBackground(models.BackgroundModel{Norm: 2, Tilt: 1, Reference: 1})
	require.NoError(t, err)

	// reco bin centres are sqrt(0.1) and sqrt(10) TeV
	assert.InDelta(t, 0.5*2*3.1622776601683795, scaled.Background.Data[0][0], 1e-9)
	assert.InDelta(t, 0.5*2/3.1622776601683795, scaled.Background.Data[1][0], 1e-9)
	assert.Equal(t, 0.5, d.Background.Data[0][0], "original background must be unchanged")
}

func TestPSFMap_Gaussian(t *testing.T) {
	t.Parallel()
	axis := maps.MustEnergyAxisFromBounds(maps.AxisEnergyTrue, 1, 10, 2, units.TeV)
	psf, err := NewGaussianPSFMap(axis, 0.02, []float64{0.05, 0.1}, 0.5)
	require.NoError(t, err)
	require.NoError(t, psf.Validate(0.02))

	k := psf.Kernel(0)
	assert.Equal(t, 25, k.Geom.NX)
	assert.InDelta(t, 1.0, k.Sum(), 1e-12)
	c := k.Geom.NX / 2
	assert.Greater(t, k.At(c, c), k.At(c+1, c))
	assert.Greater(t, k.At(c, c), psf.Kernel(1).At(c, c))

	_, err = NewGaussianPSFMap(axis, 0.02, []float64{0.05}, 0.5)
	assert.Error(t, err)
	_, err = NewGaussianPSFMap(axis, 0.02, []float64{0.05, 0}, 0.5)
	assert.Error(t, err)
}

func TestEDispKernel_Validate(t *testing.T) {
	t.Parallel()
	axis := maps.MustEnergyAxisFromBounds(maps.AxisEnergy, 1, 10, 2, units.TeV)
	e := NewDiagonalEDisp(axis)
	require.NoError(t, e.Validate())

	e.Matrix[0][1] = 0.5
	assert.Error(t, e.Validate())
	e.Matrix[0] = []float64{1}
	assert.Error(t, e.Validate())
}
