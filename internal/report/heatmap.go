package report

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/tsmap/internal/maps"
	"github.com/banshee-data/tsmap/internal/tsmap"
)

// imageGrid adapts a map image to plotter.GridXYZ in sky coordinates.
type imageGrid struct{ img *maps.Image }

func (g imageGrid) Dims() (c, r int) { return g.img.Geom.NX, g.img.Geom.NY }
func (g imageGrid) Z(c, r int) float64 {
	v := g.img.At(c, r)
	if math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

func (g imageGrid) X(c int) float64 {
	lon, _ := g.img.Geom.PixToCoord(float64(c), 0)
	return lon
}

func (g imageGrid) Y(r int) float64 {
	_, lat := g.img.Geom.PixToCoord(0, float64(r))
	return lat
}

// heatmapPlot draws img with peaks marked.
func heatmapPlot(title string, img *maps.Image, peaks []tsmap.Peak) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "lon (deg)"
	p.Y.Label.Text = "lat (deg)"

	if _, _, _, ok := img.MaxFinite(); !ok {
		return nil, fmt.Errorf("%s has no finite pixels", title)
	}
	hm := plotter.NewHeatMap(imageGrid{img}, palette.Heat(32, 1))
	hm.NaN = color.Gray{Y: 200}
	if hm.Max <= hm.Min {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	if len(peaks) > 0 {
		pts := make(plotter.XYs, len(peaks))
		for i, pk := range peaks {
			pts[i] = plotter.XY{X: pk.Lon, Y: pk.Lat}
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = color.RGBA{B: 255, A: 255}
		sc.GlyphStyle.Radius = vg.Points(4)
		p.Add(sc)
	}
	return p, nil
}

// WritePNG renders img as a PNG heatmap to w.
func WritePNG(w io.Writer, title string, img *maps.Image, peaks []tsmap.Peak) error {
	p, err := heatmapPlot(title, img, peaks)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 7*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
