package mapio

import (
	"fmt"
	"io"

	"github.com/astrogo/fitsio"

	"github.com/banshee-data/tsmap/internal/dataset"
	"github.com/banshee-data/tsmap/internal/fsutil"
	"github.com/banshee-data/tsmap/internal/maps"
)

// Extension names of a dataset file.
const (
	HDUCounts       = "COUNTS"
	HDUBackground   = "BACKGROUND"
	HDUExposure     = "EXPOSURE"
	HDUMask         = "MASK"
	HDUPSF          = "PSF"
	HDUEDisp        = "EDISP"
	HDUEnergies     = "ENERGIES"
	HDUEnergiesTrue = "ENERGIES_TRUE"
)

// WriteDataset encodes ds as a FITS file. Counts, background and mask are
// NX x NY x reco planes; exposure and PSF kernels are per true bin.
func WriteDataset(w io.Writer, ds *dataset.Dataset) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer f.Close()

	primary, err := primaryHDU(fitsio.Card{Name: keyObject, Value: ds.Name})
	if err != nil {
		return err
	}
	hdus := []fitsio.HDU{primary}
	add := func(h fitsio.Image, err error) error {
		if err != nil {
			return err
		}
		hdus = append(hdus, h)
		return nil
	}

	if err := add(cubeHDU(HDUCounts, ds.Counts)); err != nil {
		return err
	}
	if err := add(cubeHDU(HDUBackground, ds.Background)); err != nil {
		return err
	}
	if err := add(cubeHDU(HDUExposure, ds.Exposure)); err != nil {
		return err
	}
	if ds.Mask != nil {
		if err := add(cubeHDU(HDUMask, maskToCube(ds.Mask))); err != nil {
			return err
		}
	}
	if ds.PSF != nil {
		if err := add(psfHDU(ds.PSF)); err != nil {
			return err
		}
	}
	if ds.EDisp != nil {
		if err := add(edispHDU(ds.EDisp)); err != nil {
			return err
		}
	}
	if err := add(axisHDU(HDUEnergies, ds.RecoAxis())); err != nil {
		return err
	}
	if err := add(axisHDU(HDUEnergiesTrue, ds.TrueAxis())); err != nil {
		return err
	}
	return writeAll(f, hdus...)
}

// ReadDataset decodes a file written by WriteDataset and validates it.
func ReadDataset(r io.Reader) (*dataset.Dataset, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reco, err := readAxis(f, HDUEnergies, maps.AxisEnergy)
	if err != nil {
		return nil, err
	}
	trueAxis := reco
	trueAxis.Name = maps.AxisEnergyTrue
	if f.Has(HDUEnergiesTrue) {
		if trueAxis, err = readAxis(f, HDUEnergiesTrue, maps.AxisEnergyTrue); err != nil {
			return nil, err
		}
	}

	ds := &dataset.Dataset{Name: cardString(f.HDU(0).Header(), keyObject, "")}
	if ds.Counts, err = readCube(f, HDUCounts, reco); err != nil {
		return nil, err
	}
	if ds.Background, err = readCube(f, HDUBackground, reco); err != nil {
		return nil, err
	}
	if ds.Exposure, err = readCube(f, HDUExposure, trueAxis); err != nil {
		return nil, err
	}
	if f.Has(HDUMask) {
		c, err := readCube(f, HDUMask, reco)
		if err != nil {
			return nil, err
		}
		ds.Mask = cubeToMask(c)
	}
	if f.Has(HDUPSF) {
		if ds.PSF, err = readPSF(f, trueAxis); err != nil {
			return nil, err
		}
	}
	if f.Has(HDUEDisp) {
		if ds.EDisp, err = readEDisp(f, trueAxis, reco); err != nil {
			return nil, err
		}
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// SaveDataset writes ds to path on fsys.
func SaveDataset(fsys fsutil.FileSystem, path string, ds *dataset.Dataset) error {
	w, err := fsys.Create(path)
	if err != nil {
		return err
	}
	if err := WriteDataset(w, ds); err != nil {
		w.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return w.Close()
}

// LoadDataset reads a dataset file from fsys.
func LoadDataset(fsys fsutil.FileSystem, path string) (*dataset.Dataset, error) {
	r, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	ds, err := ReadDataset(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

func maskToCube(m *maps.MaskCube) *maps.Cube {
	c := maps.NewCube(m.Geom, m.Axis, "")
	for i, s := range m.Data {
		for p, ok := range s {
			if ok {
				c.Data[i][p] = 1
			}
		}
	}
	return c
}

func cubeToMask(c *maps.Cube) *maps.MaskCube {
	m := maps.NewMaskCube(c.Geom, c.Axis, false)
	for i, s := range c.Data {
		for p, v := range s {
			m.Data[i][p] = v != 0
		}
	}
	return m
}

func psfHDU(p *dataset.PSFMap) (fitsio.Image, error) {
	k := p.Kernels[0].Geom
	data := make([]float64, 0, k.NPix()*len(p.Kernels))
	for _, img := range p.Kernels {
		if img.Geom.NX != k.NX || img.Geom.NY != k.NY {
			return nil, fmt.Errorf("PSF kernels of different sizes cannot be stored in one HDU")
		}
		data = append(data, img.Data...)
	}
	return imageHDU(HDUPSF, []int{k.NX, k.NY, len(p.Kernels)}, data, "", geomCards(k)...)
}

func readPSF(f *fitsio.File, axis maps.EnergyAxis) (*dataset.PSFMap, error) {
	img, data, axes, err := readImage(f, HDUPSF)
	if err != nil {
		return nil, err
	}
	if len(axes) != 3 || axes[2] != axis.NBin() {
		return nil, fmt.Errorf("PSF has axes %v, want 3 axes with %d energy planes", axes, axis.NBin())
	}
	g, err := readGeom(img.Header(), axes[0], axes[1])
	if err != nil {
		return nil, fmt.Errorf("PSF: %w", err)
	}
	p := &dataset.PSFMap{Axis: axis, Kernels: make([]*maps.Image, axes[2])}
	n := g.NPix()
	for i := range p.Kernels {
		p.Kernels[i] = &maps.Image{Geom: g, Data: data[i*n : (i+1)*n]}
	}
	return p, nil
}

func edispHDU(e *dataset.EDispKernel) (fitsio.Image, error) {
	nt, nr := e.TrueAxis.NBin(), e.RecoAxis.NBin()
	data := make([]float64, 0, nt*nr)
	for _, row := range e.Matrix {
		data = append(data, row...)
	}
	return imageHDU(HDUEDisp, []int{nr, nt}, data, "")
}

func readEDisp(f *fitsio.File, trueAxis, reco maps.EnergyAxis) (*dataset.EDispKernel, error) {
	_, data, axes, err := readImage(f, HDUEDisp)
	if err != nil {
		return nil, err
	}
	nt, nr := trueAxis.NBin(), reco.NBin()
	if len(axes) != 2 || axes[0] != nr || axes[1] != nt {
		return nil, fmt.Errorf("EDISP has axes %v, want [%d %d]", axes, nr, nt)
	}
	e := &dataset.EDispKernel{TrueAxis: trueAxis, RecoAxis: reco, Matrix: make([][]float64, nt)}
	for t := range e.Matrix {
		e.Matrix[t] = data[t*nr : (t+1)*nr]
	}
	return e, nil
}
