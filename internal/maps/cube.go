package maps

import (
	"fmt"
)

// Cube is a stack of images along an energy axis. Data[i] is the
// row-major slice for energy bin i.
type Cube struct {
	Geom Geom
	Axis EnergyAxis
	Data [][]float64
	Unit string
}

// NewCube returns a zero-valued cube.
func NewCube(g Geom, axis EnergyAxis, unit string) *Cube {
	data := make([][]float64, axis.NBin())
	for i := range data {
		data[i] = make([]float64, g.NPix())
	}
	return &Cube{Geom: g, Axis: axis, Data: data, Unit: unit}
}

// NewCubeFilled returns a cube with every voxel set to v.
func NewCubeFilled(g Geom, axis EnergyAxis, v float64, unit string) *Cube {
	c := NewCube(g, axis, unit)
	for _, s := range c.Data {
		for i := range s {
			s[i] = v
		}
	}
	return c
}

// CubeFromImages stacks images along axis. All images must share a
// geometry and there must be one per bin.
func CubeFromImages(images []*Image, axis EnergyAxis) (*Cube, error) {
	if len(images) != axis.NBin() {
		return nil, fmt.Errorf("have %d images for %d energy bins", len(images), axis.NBin())
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no images to stack")
	}
	g := images[0].Geom
	c := &Cube{Geom: g, Axis: axis, Data: make([][]float64, len(images)), Unit: images[0].Unit}
	for i, img := range images {
		if !img.Geom.Equal(g) {
			return nil, fmt.Errorf("image %d has geometry %s, expected %s", i, img.Geom, g)
		}
		c.Data[i] = img.Data
	}
	return c, nil
}

// Validate checks the data shape against the geometry and axis.
func (c *Cube) Validate() error {
	if err := c.Geom.Validate(); err != nil {
		return err
	}
	if len(c.Data) != c.Axis.NBin() {
		return fmt.Errorf("cube has %d slices for %d energy bins", len(c.Data), c.Axis.NBin())
	}
	for i, s := range c.Data {
		if len(s) != c.Geom.NPix() {
			return fmt.Errorf("slice %d has %d pixels, expected %d", i, len(s), c.Geom.NPix())
		}
	}
	return nil
}

// NBin returns the number of energy slices.
func (c *Cube) NBin() int { return len(c.Data) }

// Slice returns energy slice i as an image sharing the cube's storage.
func (c *Cube) Slice(i int) *Image {
	return &Image{Geom: c.Geom, Data: c.Data[i], Unit: c.Unit}
}

// SumSlices returns the sum of slices [lo, hi) as a new image.
func (c *Cube) SumSlices(lo, hi int) *Image {
	out := NewImage(c.Geom, c.Unit)
	for i := lo; i < hi; i++ {
		for p, v := range c.Data[i] {
			out.Data[p] += v
		}
	}
	return out
}

// Sum returns the sum over every voxel.
func (c *Cube) Sum() float64 {
	s := 0.0
	for i := range c.Data {
		s += c.Slice(i).Sum()
	}
	return s
}

// Copy returns a deep copy.
func (c *Cube) Copy() *Cube {
	out := &Cube{Geom: c.Geom, Axis: c.Axis, Data: make([][]float64, len(c.Data)), Unit: c.Unit}
	for i, s := range c.Data {
		out.Data[i] = append([]float64(nil), s...)
	}
	return out
}

// BlockReduce coarsens every slice by factor.
func (c *Cube) BlockReduce(factor int, fn ReduceFunc) (*Cube, error) {
	g, err := c.Geom.Downsample(factor)
	if err != nil {
		return nil, err
	}
	out := &Cube{Geom: g, Axis: c.Axis, Data: make([][]float64, len(c.Data)), Unit: c.Unit}
	for i := range c.Data {
		r, err := c.Slice(i).BlockReduce(factor, fn)
		if err != nil {
			return nil, err
		}
		out.Data[i] = r.Data
	}
	return out, nil
}

// Upsample re-expands every slice by factor and crops to target.
func (c *Cube) Upsample(factor int, target Geom) (*Cube, error) {
	out := &Cube{Geom: target, Axis: c.Axis, Data: make([][]float64, len(c.Data)), Unit: c.Unit}
	for i := range c.Data {
		r, err := c.Slice(i).Upsample(factor, target)
		if err != nil {
			return nil, err
		}
		out.Data[i] = r.Data
	}
	return out, nil
}

// MaskCube is a boolean cube; true marks a usable voxel.
type MaskCube struct {
	Geom Geom
	Axis EnergyAxis
	Data [][]bool
}

// NewMaskCube returns a mask cube with every voxel set to v.
func NewMaskCube(g Geom, axis EnergyAxis, v bool) *MaskCube {
	m := &MaskCube{Geom: g, Axis: axis, Data: make([][]bool, axis.NBin())}
	for i := range m.Data {
		m.Data[i] = NewMask(g, v).Data
	}
	return m
}

// Validate checks the data shape against the geometry and axis.
func (m *MaskCube) Validate() error {
	if len(m.Data) != m.Axis.NBin() {
		return fmt.Errorf("mask has %d slices for %d energy bins", len(m.Data), m.Axis.NBin())
	}
	for i, s := range m.Data {
		if len(s) != m.Geom.NPix() {
			return fmt.Errorf("mask slice %d has %d pixels, expected %d", i, len(s), m.Geom.NPix())
		}
	}
	return nil
}

// Slice returns energy slice i as a 2D mask sharing storage.
func (m *MaskCube) Slice(i int) *Mask {
	return &Mask{Geom: m.Geom, Data: m.Data[i]}
}

// AnySlices returns a 2D mask true where any slice in [lo, hi) is true.
func (m *MaskCube) AnySlices(lo, hi int) *Mask {
	out := NewMask(m.Geom, false)
	for i := lo; i < hi; i++ {
		for p, v := range m.Data[i] {
			if v {
				out.Data[p] = true
			}
		}
	}
	return out
}

// BlockReduce coarsens every slice by factor using any.
func (m *MaskCube) BlockReduce(factor int) (*MaskCube, error) {
	g, err := m.Geom.Downsample(factor)
	if err != nil {
		return nil, err
	}
	out := &MaskCube{Geom: g, Axis: m.Axis, Data: make([][]bool, len(m.Data))}
	for i := range m.Data {
		r, err := m.Slice(i).BlockReduce(factor)
		if err != nil {
			return nil, err
		}
		out.Data[i] = r.Data
	}
	return out, nil
}
