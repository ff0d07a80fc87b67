package mapio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/astrogo/fitsio"

	"github.com/banshee-data/tsmap/internal/maps"
)

// Header keywords written on every map extension.
const (
	keyExtName = "EXTNAME"
	keyBinSz   = "BINSZ"
	keyCRVAL1  = "CRVAL1"
	keyCRVAL2  = "CRVAL2"
	keyFrame   = "COORDSYS"
	keyUnit    = "BUNIT"
	keyObject  = "OBJECT"
)

// ErrMissingHDU is returned when a required extension is absent.
var ErrMissingHDU = errors.New("missing HDU")

func geomCards(g maps.Geom) []fitsio.Card {
	return []fitsio.Card{
		{Name: keyBinSz, Value: g.BinSz, Comment: "[deg] pixel size"},
		{Name: keyCRVAL1, Value: g.CenterLon, Comment: "[deg] centre longitude"},
		{Name: keyCRVAL2, Value: g.CenterLat, Comment: "[deg] centre latitude"},
		{Name: keyFrame, Value: g.Frame},
	}
}

// imageHDU returns a float64 image extension named name.
func imageHDU(name string, axes []int, data []float64, unit string, extra ...fitsio.Card) (fitsio.Image, error) {
	img := fitsio.NewImage(-64, axes)
	cards := append([]fitsio.Card{{Name: keyExtName, Value: name}, {Name: keyUnit, Value: unit}}, extra...)
	if err := img.Header().Append(cards...); err != nil {
		return nil, fmt.Errorf("%s header: %w", name, err)
	}
	if err := img.Write(data); err != nil {
		return nil, fmt.Errorf("%s data: %w", name, err)
	}
	return img, nil
}

// readImage returns the data and axes of extension name.
func readImage(f *fitsio.File, name string) (fitsio.Image, []float64, []int, error) {
	if !f.Has(name) {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrMissingHDU, name)
	}
	img, ok := f.Get(name).(fitsio.Image)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%s is not an image HDU", name)
	}
	axes := img.Header().Axes()
	n := 1
	for _, a := range axes {
		n *= a
	}
	data := make([]float64, n)
	if err := img.Read(&data); err != nil {
		return nil, nil, nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return img, data, axes, nil
}

func cardFloat(h *fitsio.Header, key string) (float64, error) {
	c := h.Get(key)
	if c == nil {
		return 0, fmt.Errorf("header keyword %s not found", key)
	}
	switch v := c.Value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("header keyword %s has type %T, want a number", key, c.Value)
}

func cardString(h *fitsio.Header, key, def string) string {
	c := h.Get(key)
	if c == nil {
		return def
	}
	s, ok := c.Value.(string)
	if !ok {
		return def
	}
	return strings.TrimSpace(s)
}

func readGeom(h *fitsio.Header, nx, ny int) (maps.Geom, error) {
	binsz, err := cardFloat(h, keyBinSz)
	if err != nil {
		return maps.Geom{}, err
	}
	g := maps.NewGeom(nx, ny, binsz)
	// centre defaults to the origin when absent
	if v, err := cardFloat(h, keyCRVAL1); err == nil {
		g.CenterLon = v
	}
	if v, err := cardFloat(h, keyCRVAL2); err == nil {
		g.CenterLat = v
	}
	g.Frame = cardString(h, keyFrame, g.Frame)
	return g, g.Validate()
}

// cubeHDU flattens c into an NX x NY x NBin extension.
func cubeHDU(name string, c *maps.Cube) (fitsio.Image, error) {
	n := c.Geom.NPix()
	data := make([]float64, 0, n*c.NBin())
	for _, s := range c.Data {
		data = append(data, s...)
	}
	return imageHDU(name, []int{c.Geom.NX, c.Geom.NY, c.NBin()}, data, c.Unit, geomCards(c.Geom)...)
}

func readCube(f *fitsio.File, name string, axis maps.EnergyAxis) (*maps.Cube, error) {
	img, data, axes, err := readImage(f, name)
	if err != nil {
		return nil, err
	}
	if len(axes) != 3 {
		return nil, fmt.Errorf("%s has %d axes, want 3", name, len(axes))
	}
	if axes[2] != axis.NBin() {
		return nil, fmt.Errorf("%s has %d energy planes, axis has %d bins", name, axes[2], axis.NBin())
	}
	g, err := readGeom(img.Header(), axes[0], axes[1])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	c := &maps.Cube{Geom: g, Axis: axis, Data: make([][]float64, axes[2]), Unit: cardString(img.Header(), keyUnit, "")}
	n := g.NPix()
	for i := range c.Data {
		c.Data[i] = data[i*n : (i+1)*n]
	}
	return c, nil
}

func axisHDU(name string, a maps.EnergyAxis) (fitsio.Image, error) {
	return imageHDU(name, []int{len(a.Edges)}, a.Edges, a.Unit)
}

func readAxis(f *fitsio.File, name, axisName string) (maps.EnergyAxis, error) {
	img, data, axes, err := readImage(f, name)
	if err != nil {
		return maps.EnergyAxis{}, err
	}
	if len(axes) != 1 {
		return maps.EnergyAxis{}, fmt.Errorf("%s has %d axes, want 1", name, len(axes))
	}
	return maps.NewEnergyAxis(axisName, data, cardString(img.Header(), keyUnit, ""))
}

// primaryHDU returns an empty primary header carrying cards.
func primaryHDU(cards ...fitsio.Card) (fitsio.Image, error) {
	img := fitsio.NewImage(8, nil)
	if len(cards) > 0 {
		if err := img.Header().Append(cards...); err != nil {
			return nil, err
		}
	}
	return img, nil
}

func writeAll(f *fitsio.File, hdus ...fitsio.HDU) error {
	for _, h := range hdus {
		if err := f.Write(h); err != nil {
			return fmt.Errorf("writing %s: %w", h.Name(), err)
		}
	}
	return nil
}
