package models

import (
	"fmt"
	"math"

	"github.com/banshee-data/tsmap/internal/maps"
)

// SpatialKind enumerates the supported spatial shapes.
type SpatialKind int

const (
	SpatialPoint SpatialKind = iota
	SpatialGaussian
	SpatialDisk
	SpatialTemplate
)

// Serialised type names.
const (
	TypePoint    = "SkyPointSource"
	TypeGaussian = "SkyGaussian"
	TypeDisk     = "SkyDisk"
	TypeTemplate = "SkyDiffuseMap"
)

func (k SpatialKind) String() string {
	switch k {
	case SpatialPoint:
		return TypePoint
	case SpatialGaussian:
		return TypeGaussian
	case SpatialDisk:
		return TypeDisk
	case SpatialTemplate:
		return TypeTemplate
	default:
		return fmt.Sprintf("SpatialKind(%d)", int(k))
	}
}

// ParseSpatialKind maps a serialised type name to its kind.
func ParseSpatialKind(s string) (SpatialKind, error) {
	switch s {
	case TypePoint:
		return SpatialPoint, nil
	case TypeGaussian:
		return SpatialGaussian, nil
	case TypeDisk:
		return SpatialDisk, nil
	case TypeTemplate:
		return SpatialTemplate, nil
	}
	return 0, fmt.Errorf("%w: spatial type %q", ErrUnknownModel, s)
}

// diskOversampling is the minimum number of sub-samples per pixel axis
// used when integrating a disk over a pixel.
const diskOversampling = 10

// SpatialModel is a normalised sky brightness distribution. Angles are in
// degrees; Evaluate returns deg^-2 and integrates to one over the sky.
type SpatialModel struct {
	Kind SpatialKind

	Lon, Lat float64
	Sigma    float64 // Gaussian width
	Radius   float64 // disk radius

	Filename string      // template source
	Template *maps.Image // resolved template, see TemplateCache

	templateSum float64
}

// PointSource returns a point source at (lon, lat).
func PointSource(lon, lat float64) SpatialModel {
	return SpatialModel{Kind: SpatialPoint, Lon: lon, Lat: lat}
}

// Gaussian returns a symmetric Gaussian of width sigma.
func Gaussian(lon, lat, sigma float64) SpatialModel {
	return SpatialModel{Kind: SpatialGaussian, Lon: lon, Lat: lat, Sigma: sigma}
}

// Disk returns a uniform disk of the given radius.
func Disk(lon, lat, radius float64) SpatialModel {
	return SpatialModel{Kind: SpatialDisk, Lon: lon, Lat: lat, Radius: radius}
}

// Template returns a map-based model. The template image is centred on
// the model position.
func Template(filename string, img *maps.Image) SpatialModel {
	return SpatialModel{Kind: SpatialTemplate, Filename: filename, Template: img,
		Lon: img.Geom.CenterLon, Lat: img.Geom.CenterLat, templateSum: img.Sum()}
}

// Validate checks the shape parameters.
func (m SpatialModel) Validate() error {
	switch m.Kind {
	case SpatialPoint:
		return nil
	case SpatialGaussian:
		if !(m.Sigma > 0) {
			return fmt.Errorf("gaussian sigma must be positive, got %g", m.Sigma)
		}
	case SpatialDisk:
		if !(m.Radius > 0) {
			return fmt.Errorf("disk radius must be positive, got %g", m.Radius)
		}
	case SpatialTemplate:
		if m.Template == nil {
			return fmt.Errorf("template %q is not loaded", m.Filename)
		}
		if m.Template.Sum() <= 0 {
			return fmt.Errorf("template %q has no positive flux", m.Filename)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownModel, m.Kind)
	}
	return nil
}

// Evaluate returns the surface brightness at offset (dx, dy) degrees from
// the model centre. A point source is a delta function and evaluates to 0
// everywhere except the origin, where it is +Inf.
func (m SpatialModel) Evaluate(dx, dy float64) float64 {
	switch m.Kind {
	case SpatialPoint:
		if dx == 0 && dy == 0 {
			return math.Inf(1)
		}
		return 0
	case SpatialGaussian:
		s2 := m.Sigma * m.Sigma
		return math.Exp(-(dx*dx+dy*dy)/(2*s2)) / (2 * math.Pi * s2)
	case SpatialDisk:
		if dx*dx+dy*dy <= m.Radius*m.Radius {
			return 1 / (math.Pi * m.Radius * m.Radius)
		}
		return 0
	case SpatialTemplate:
		return m.evaluateTemplate(dx, dy)
	}
	return 0
}

func (m SpatialModel) evaluateTemplate(dx, dy float64) float64 {
	t := m.Template
	if t == nil {
		return 0
	}
	g := t.Geom
	x := int(math.Round(float64(g.NX-1)/2 + dx/g.BinSz))
	y := int(math.Round(float64(g.NY-1)/2 + dy/g.BinSz))
	if !g.Contains(x, y) {
		return 0
	}
	v := t.At(x, y)
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	sum := m.templateSum
	if sum <= 0 {
		sum = t.Sum()
	}
	return v / (sum * g.BinSz * g.BinSz)
}

// PixelFraction returns the fraction of the model flux falling in a square
// pixel of side binsz centred at offset (dx, dy).
func (m SpatialModel) PixelFraction(dx, dy, binsz float64) float64 {
	h := binsz / 2
	switch m.Kind {
	case SpatialPoint:
		if math.Abs(dx) < h && math.Abs(dy) < h {
			return 1
		}
		return 0
	case SpatialGaussian:
		s := m.Sigma * math.Sqrt2
		fx := 0.5 * (math.Erf((dx+h)/s) - math.Erf((dx-h)/s))
		fy := 0.5 * (math.Erf((dy+h)/s) - math.Erf((dy-h)/s))
		return fx * fy
	case SpatialDisk:
		n := diskOversampling
		if k := int(math.Ceil(diskOversampling * binsz / m.Radius)); k > n {
			n = min(k, 100)
		}
		step := binsz / float64(n)
		inside := 0
		for j := 0; j < n; j++ {
			y := dy - h + (float64(j)+0.5)*step
			for i := 0; i < n; i++ {
				x := dx - h + (float64(i)+0.5)*step
				if x*x+y*y <= m.Radius*m.Radius {
					inside++
				}
			}
		}
		return float64(inside) * step * step / (math.Pi * m.Radius * m.Radius)
	case SpatialTemplate:
		return m.evaluateTemplate(dx, dy) * binsz * binsz
	}
	return 0
}
