package maps

import (
	"fmt"
	"math"
)

// Geom is a flat spatial pixel grid. BinSz is in degrees per pixel.
type Geom struct {
	NX, NY    int
	BinSz     float64
	CenterLon float64
	CenterLat float64
	Frame     string
}

// NewGeom returns a geometry of nx by ny pixels centred on (0, 0).
func NewGeom(nx, ny int, binsz float64) Geom {
	return Geom{NX: nx, NY: ny, BinSz: binsz, Frame: "icrs"}
}

// Validate checks the geometry has a positive size and pixel scale.
func (g Geom) Validate() error {
	if g.NX <= 0 || g.NY <= 0 {
		return fmt.Errorf("geometry must have positive size, got %dx%d", g.NX, g.NY)
	}
	if !(g.BinSz > 0) || math.IsInf(g.BinSz, 0) {
		return fmt.Errorf("geometry bin size must be positive, got %g", g.BinSz)
	}
	return nil
}

// NPix returns the number of spatial pixels.
func (g Geom) NPix() int { return g.NX * g.NY }

// Index returns the row-major data index of pixel (x, y).
func (g Geom) Index(x, y int) int { return y*g.NX + x }

// Contains reports whether (x, y) lies on the grid.
func (g Geom) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.NX && y < g.NY
}

// Width returns the angular extent of the grid in degrees.
func (g Geom) Width() (float64, float64) {
	return float64(g.NX) * g.BinSz, float64(g.NY) * g.BinSz
}

// PixToCoord maps pixel coordinates to flat-sky coordinates in degrees.
func (g Geom) PixToCoord(x, y float64) (lon, lat float64) {
	lon = g.CenterLon + (x-float64(g.NX-1)/2)*g.BinSz
	lat = g.CenterLat + (y-float64(g.NY-1)/2)*g.BinSz
	return lon, lat
}

// Downsample returns the geometry coarsened by factor. Partial edge blocks
// are kept, so the coarse grid covers the original one.
func (g Geom) Downsample(factor int) (Geom, error) {
	if factor < 1 {
		return Geom{}, fmt.Errorf("downsampling factor must be >= 1, got %d", factor)
	}
	out := g
	out.NX = (g.NX + factor - 1) / factor
	out.NY = (g.NY + factor - 1) / factor
	out.BinSz = g.BinSz * float64(factor)
	// keep the centre of the covered area aligned with the original grid
	out.CenterLon, out.CenterLat = g.PixToCoord(
		float64(out.NX*factor-1)/2, float64(out.NY*factor-1)/2)
	return out, nil
}

// Equal reports whether two geometries describe the same pixel grid.
func (g Geom) Equal(o Geom) bool {
	return g.NX == o.NX && g.NY == o.NY &&
		math.Abs(g.BinSz-o.BinSz) <= 1e-9*math.Abs(g.BinSz) &&
		math.Abs(g.CenterLon-o.CenterLon) <= 1e-9 &&
		math.Abs(g.CenterLat-o.CenterLat) <= 1e-9
}

// SameShape reports whether two geometries have the same pixel counts and scale.
func (g Geom) SameShape(o Geom) bool {
	return g.NX == o.NX && g.NY == o.NY && math.Abs(g.BinSz-o.BinSz) <= 1e-9*math.Abs(g.BinSz)
}

func (g Geom) String() string {
	return fmt.Sprintf("%dx%d@%gdeg", g.NX, g.NY, g.BinSz)
}
