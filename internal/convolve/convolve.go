// Package convolve implements zero-padded 2D convolution and correlation
// of row-major images with FFTs.
package convolve

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/banshee-data/tsmap/internal/maps"
)

// ErrShape is returned when data lengths do not match the given sizes.
var ErrShape = errors.New("convolve: data does not match shape")

// Same returns the linear convolution of an nx by ny image with a kx by ky
// kernel, cropped to the image size. The kernel centre is at (kx/2, ky/2)
// and the image is zero padded.
func Same(img []float64, nx, ny int, kernel []float64, kx, ky int) ([]float64, error) {
	return same(img, nx, ny, kernel, kx, ky, false)
}

// CorrelateSame returns the cross-correlation of the image with the
// kernel, cropped to the image size: out(p) = sum_j img(p+j-c) k(j).
func CorrelateSame(img []float64, nx, ny int, kernel []float64, kx, ky int) ([]float64, error) {
	return same(img, nx, ny, kernel, kx, ky, true)
}

// Image convolves img with k, which must share img's pixel scale.
func Image(img, k *maps.Image) (*maps.Image, error) {
	data, err := Same(img.Data, img.Geom.NX, img.Geom.NY, k.Data, k.Geom.NX, k.Geom.NY)
	if err != nil {
		return nil, err
	}
	return &maps.Image{Geom: img.Geom, Data: data, Unit: img.Unit}, nil
}

func same(img []float64, nx, ny int, kernel []float64, kx, ky int, flip bool) ([]float64, error) {
	if nx <= 0 || ny <= 0 || kx <= 0 || ky <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d or kernel %dx%d", ErrShape, nx, ny, kx, ky)
	}
	if len(img) != nx*ny || len(kernel) != kx*ky {
		return nil, fmt.Errorf("%w: image %d for %dx%d, kernel %d for %dx%d",
			ErrShape, len(img), nx, ny, len(kernel), kx, ky)
	}

	fw := nextPow2(nx + kx - 1)
	fh := nextPow2(ny + ky - 1)
	a := makeComplex2D(fh, fw)
	b := makeComplex2D(fh, fw)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			a[y][x] = complex(img[y*nx+x], 0)
		}
	}
	for y := 0; y < ky; y++ {
		for x := 0; x < kx; x++ {
			v := kernel[y*kx+x]
			if flip {
				v = kernel[(ky-1-y)*kx+(kx-1-x)]
			}
			b[y][x] = complex(v, 0)
		}
	}

	p := newPlan(fw, fh)
	p.fft2(a, true)
	p.fft2(b, true)
	for y := range a {
		for x := range a[y] {
			a[y][x] *= b[y][x]
		}
	}
	p.fft2(a, false)

	// gonum transforms are unnormalised
	scale := float64(fw * fh)
	offX, offY := kx/2, ky/2
	out := make([]float64, nx*ny)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			out[y*nx+x] = real(a[y+offY][x+offX]) / scale
		}
	}
	return out, nil
}

type plan struct {
	row, col *fourier.CmplxFFT
	rowBuf   []complex128
	colBuf   []complex128
}

func newPlan(w, h int) *plan {
	return &plan{
		row:    fourier.NewCmplxFFT(w),
		col:    fourier.NewCmplxFFT(h),
		rowBuf: make([]complex128, w),
		colBuf: make([]complex128, h),
	}
}

func (p *plan) fft2(a [][]complex128, forward bool) {
	for y := range a {
		copy(p.rowBuf, a[y])
		if forward {
			p.row.Coefficients(p.rowBuf, p.rowBuf)
		} else {
			p.row.Sequence(p.rowBuf, p.rowBuf)
		}
		copy(a[y], p.rowBuf)
	}
	for x := range p.rowBuf {
		for y := range a {
			p.colBuf[y] = a[y][x]
		}
		if forward {
			p.col.Coefficients(p.colBuf, p.colBuf)
		} else {
			p.col.Sequence(p.colBuf, p.colBuf)
		}
		for y := range a {
			a[y][x] = p.colBuf[y]
		}
	}
}

func makeComplex2D(h, w int) [][]complex128 {
	out := make([][]complex128, h)
	for i := range out {
		out[i] = make([]complex128, w)
	}
	return out
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
