package mapio

import (
	"fmt"
	"io"
	"strings"

	"github.com/astrogo/fitsio"

	"github.com/banshee-data/tsmap/internal/fsutil"
	"github.com/banshee-data/tsmap/internal/maps"
	"github.com/banshee-data/tsmap/internal/models"
	"github.com/banshee-data/tsmap/internal/tsmap"
)

const (
	keyNSigma   = "NSIGMA"
	keyNSigmaUL = "NSIGMAUL"
	keyModel    = "MODEL"
)

var quantities = []string{
	tsmap.QuantityTS,
	tsmap.QuantitySqrtTS,
	tsmap.QuantityFlux,
	tsmap.QuantityFluxErr,
	tsmap.QuantityFluxErrP,
	tsmap.QuantityFluxErrN,
	tsmap.QuantityFluxUL,
	tsmap.QuantityNIter,
}

func extName(quantity string) string { return strings.ToUpper(quantity) }

// WriteFluxMaps encodes estimator output, one extension per quantity
// named after it in upper case, plus the ENERGIES axis.
func WriteFluxMaps(w io.Writer, fm *tsmap.FluxMaps) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer f.Close()

	primary, err := primaryHDU(
		fitsio.Card{Name: keyModel, Value: fm.Reference.Name},
		fitsio.Card{Name: keyNSigma, Value: fm.NSigma},
		fitsio.Card{Name: keyNSigmaUL, Value: fm.NSigmaUL},
	)
	if err != nil {
		return err
	}
	hdus := []fitsio.HDU{primary}
	for _, name := range fm.Names() {
		c, _ := fm.Get(name)
		h, err := cubeHDU(extName(name), c)
		if err != nil {
			return err
		}
		hdus = append(hdus, h)
	}
	axis, err := axisHDU(HDUEnergies, fm.Axis)
	if err != nil {
		return err
	}
	return writeAll(f, append(hdus, axis)...)
}

// ReadFluxMaps decodes a file written by WriteFluxMaps. Only the name of
// the reference model survives the round trip.
func ReadFluxMaps(r io.Reader) (*tsmap.FluxMaps, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	axis, err := readAxis(f, HDUEnergies, maps.AxisEnergy)
	if err != nil {
		return nil, err
	}
	h := f.HDU(0).Header()
	fm := &tsmap.FluxMaps{
		Axis:      axis,
		Maps:      make(map[string]*maps.Cube),
		Reference: models.SkyModel{Name: cardString(h, keyModel, "")},
	}
	if v, err := cardFloat(h, keyNSigma); err == nil {
		fm.NSigma = v
	}
	if v, err := cardFloat(h, keyNSigmaUL); err == nil {
		fm.NSigmaUL = v
	}
	for _, q := range quantities {
		if !f.Has(extName(q)) {
			continue
		}
		c, err := readCube(f, extName(q), axis)
		if err != nil {
			return nil, err
		}
		fm.Maps[q] = c
		fm.Geom = c.Geom
	}
	if len(fm.Maps) == 0 {
		return nil, fmt.Errorf("%w: no flux map quantities found", ErrMissingHDU)
	}
	return fm, nil
}

// SaveFluxMaps writes fm to path on fsys.
func SaveFluxMaps(fsys fsutil.FileSystem, path string, fm *tsmap.FluxMaps) error {
	w, err := fsys.Create(path)
	if err != nil {
		return err
	}
	if err := WriteFluxMaps(w, fm); err != nil {
		w.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return w.Close()
}

// LoadFluxMaps reads a flux map file from fsys.
func LoadFluxMaps(fsys fsutil.FileSystem, path string) (*tsmap.FluxMaps, error) {
	r, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	fm, err := ReadFluxMaps(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fm, nil
}

// WriteImage encodes a single 2-D map, as used for spatial templates.
func WriteImage(w io.Writer, img *maps.Image) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer f.Close()

	h := fitsio.NewImage(-64, []int{img.Geom.NX, img.Geom.NY})
	cards := append(geomCards(img.Geom), fitsio.Card{Name: keyUnit, Value: img.Unit})
	if err := h.Header().Append(cards...); err != nil {
		return err
	}
	if err := h.Write(img.Data); err != nil {
		return err
	}
	return f.Write(h)
}

// ReadImage decodes the first 2-D image HDU of r.
func ReadImage(r io.Reader) (*maps.Image, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	for _, hdu := range f.HDUs() {
		img, ok := hdu.(fitsio.Image)
		if !ok {
			continue
		}
		axes := img.Header().Axes()
		if len(axes) != 2 {
			continue
		}
		data := make([]float64, axes[0]*axes[1])
		if err := img.Read(&data); err != nil {
			return nil, err
		}
		g, err := readGeom(img.Header(), axes[0], axes[1])
		if err != nil {
			return nil, err
		}
		return maps.ImageFromData(g, data, cardString(img.Header(), keyUnit, ""))
	}
	return nil, fmt.Errorf("%w: no 2-D image", ErrMissingHDU)
}

// TemplateLoader returns a loader reading spatial templates from fsys.
func TemplateLoader(fsys fsutil.FileSystem) models.TemplateLoader {
	return func(filename string) (*maps.Image, error) {
		r, err := fsys.Open(filename)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		img, err := ReadImage(r)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", filename, err)
		}
		return img, nil
	}
}
