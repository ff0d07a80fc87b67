package maps

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ReduceFunc selects how BlockReduce combines pixels within a block.
type ReduceFunc int

const (
	// ReduceSum sums the block; use for counts-like quantities.
	ReduceSum ReduceFunc = iota
	// ReduceMean averages the pixels present in the block; use for exposure.
	ReduceMean
)

func (r ReduceFunc) String() string {
	switch r {
	case ReduceSum:
		return "sum"
	case ReduceMean:
		return "mean"
	default:
		return "unknown"
	}
}

// Image is a 2D map stored row-major (index y*NX+x).
type Image struct {
	Geom Geom
	Data []float64
	Unit string
}

// NewImage returns a zero-valued image.
func NewImage(g Geom, unit string) *Image {
	return &Image{Geom: g, Data: make([]float64, g.NPix()), Unit: unit}
}

// NewImageFilled returns an image with every pixel set to v.
func NewImageFilled(g Geom, v float64, unit string) *Image {
	m := NewImage(g, unit)
	for i := range m.Data {
		m.Data[i] = v
	}
	return m
}

// ImageFromData wraps data without copying.
func ImageFromData(g Geom, data []float64, unit string) (*Image, error) {
	if len(data) != g.NPix() {
		return nil, fmt.Errorf("image data has %d values, geometry %s needs %d", len(data), g, g.NPix())
	}
	return &Image{Geom: g, Data: data, Unit: unit}, nil
}

// At returns the value at pixel (x, y).
func (m *Image) At(x, y int) float64 { return m.Data[m.Geom.Index(x, y)] }

// Set stores v at pixel (x, y).
func (m *Image) Set(x, y int, v float64) { m.Data[m.Geom.Index(x, y)] = v }

// Sum returns the sum over all pixels, ignoring NaN.
func (m *Image) Sum() float64 {
	s := 0.0
	for _, v := range m.Data {
		if !math.IsNaN(v) {
			s += v
		}
	}
	return s
}

// Copy returns a deep copy.
func (m *Image) Copy() *Image {
	return &Image{Geom: m.Geom, Data: append([]float64(nil), m.Data...), Unit: m.Unit}
}

// Scale multiplies every pixel by f in place.
func (m *Image) Scale(f float64) {
	floats.Scale(f, m.Data)
}

// MaxFinite returns the maximum finite value and its pixel, ok=false when
// the image holds no finite value.
func (m *Image) MaxFinite() (v float64, x, y int, ok bool) {
	v = math.Inf(-1)
	for i, d := range m.Data {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			continue
		}
		if d > v {
			v, x, y, ok = d, i%m.Geom.NX, i/m.Geom.NX, true
		}
	}
	return v, x, y, ok
}

// Cutout copies a kx by ky window centred on (cx, cy) into dst, filling
// pixels outside the image with zero. kx and ky must be odd.
func (m *Image) Cutout(dst []float64, cx, cy, kx, ky int) {
	CutoutInto(dst, m.Data, m.Geom.NX, m.Geom.NY, cx, cy, kx, ky)
}

// CutoutInto is the slice form of Image.Cutout.
func CutoutInto(dst, data []float64, nx, ny, cx, cy, kx, ky int) {
	hx, hy := kx/2, ky/2
	for j := 0; j < ky; j++ {
		y := cy - hy + j
		row := dst[j*kx : (j+1)*kx]
		if y < 0 || y >= ny {
			for i := range row {
				row[i] = 0
			}
			continue
		}
		for i := 0; i < kx; i++ {
			x := cx - hx + i
			if x < 0 || x >= nx {
				row[i] = 0
				continue
			}
			row[i] = data[y*nx+x]
		}
	}
}

// BlockReduce coarsens the image by factor.
func (m *Image) BlockReduce(factor int, fn ReduceFunc) (*Image, error) {
	g, err := m.Geom.Downsample(factor)
	if err != nil {
		return nil, err
	}
	out := NewImage(g, m.Unit)
	n := make([]int, g.NPix())
	for y := 0; y < m.Geom.NY; y++ {
		for x := 0; x < m.Geom.NX; x++ {
			k := g.Index(x/factor, y/factor)
			out.Data[k] += m.Data[m.Geom.Index(x, y)]
			n[k]++
		}
	}
	if fn == ReduceMean {
		for i := range out.Data {
			if n[i] > 0 {
				out.Data[i] /= float64(n[i])
			}
		}
	}
	return out, nil
}

// Upsample re-expands a coarse image by factor using nearest-neighbour
// replication and crops the result to target.
func (m *Image) Upsample(factor int, target Geom) (*Image, error) {
	if factor < 1 {
		return nil, fmt.Errorf("upsampling factor must be >= 1, got %d", factor)
	}
	if (target.NX+factor-1)/factor != m.Geom.NX || (target.NY+factor-1)/factor != m.Geom.NY {
		return nil, fmt.Errorf("cannot upsample %s by %d to %s", m.Geom, factor, target)
	}
	out := NewImage(target, m.Unit)
	for y := 0; y < target.NY; y++ {
		for x := 0; x < target.NX; x++ {
			out.Data[target.Index(x, y)] = m.Data[m.Geom.Index(x/factor, y/factor)]
		}
	}
	return out, nil
}

// Mask is a 2D boolean map; true marks a usable pixel.
type Mask struct {
	Geom Geom
	Data []bool
}

// NewMask returns a mask with every pixel set to v.
func NewMask(g Geom, v bool) *Mask {
	m := &Mask{Geom: g, Data: make([]bool, g.NPix())}
	if v {
		for i := range m.Data {
			m.Data[i] = true
		}
	}
	return m
}

// Count returns the number of true pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// BlockReduce coarsens the mask by factor; a coarse pixel is true if any
// of its fine pixels is true.
func (m *Mask) BlockReduce(factor int) (*Mask, error) {
	g, err := m.Geom.Downsample(factor)
	if err != nil {
		return nil, err
	}
	out := NewMask(g, false)
	for y := 0; y < m.Geom.NY; y++ {
		for x := 0; x < m.Geom.NX; x++ {
			if m.Data[m.Geom.Index(x, y)] {
				out.Data[g.Index(x/factor, y/factor)] = true
			}
		}
	}
	return out, nil
}

// ApplyNaN sets img to NaN wherever the mask is false.
func (m *Mask) ApplyNaN(img *Image) {
	for i, ok := range m.Data {
		if !ok {
			img.Data[i] = math.NaN()
		}
	}
}
