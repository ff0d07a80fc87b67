package report

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/tsmap/internal/maps"
	"github.com/banshee-data/tsmap/internal/tsmap"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

func axisLabels(n int, coord func(i int) float64) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.FormatFloat(coord(i), 'f', 2, 64)
	}
	return out
}

// heatmapChart renders one map slice as an interactive heatmap. NaN
// pixels are left empty.
func heatmapChart(title, subtitle string, img *maps.Image) *charts.HeatMap {
	g := img.Geom
	data := make([]opts.HeatMapData, 0, g.NPix())
	for y := 0; y < g.NY; y++ {
		for x := 0; x < g.NX; x++ {
			v := img.At(x, y)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			data = append(data, opts.HeatMapData{Value: [3]interface{}{x, y, v}})
		}
	}
	lo, hi := 0.0, 1.0
	if v, _, _, ok := img.MaxFinite(); ok && v > 0 {
		hi = v
	}
	for _, v := range img.Data {
		if !math.IsInf(v, 0) && v < lo {
			lo = v
		}
	}

	xs := axisLabels(g.NX, func(i int) float64 { lon, _ := g.PixToCoord(float64(i), 0); return lon })
	ys := axisLabels(g.NY, func(i int) float64 { _, lat := g.PixToCoord(0, float64(i)); return lat })

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "800px", Height: "760px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: xs, Name: "lon (deg)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: ys, Name: "lat (deg)", NameLocation: "middle", NameGap: 40}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	hm.SetXAxis(xs).AddSeries(title, data)
	return hm
}

// WriteHTML renders the given quantities of every energy slice of fm as
// a page of interactive heatmaps.
func WriteHTML(w io.Writer, name string, fm *tsmap.FluxMaps, quantities []string) error {
	page := components.NewPage()
	page.PageTitle = "TS map " + name
	page.SetAssetsHost(echartsAssetsHost)
	for _, q := range quantities {
		c, ok := fm.Get(q)
		if !ok {
			continue
		}
		for i := 0; i < c.NBin(); i++ {
			lo, hi := fm.Axis.Bin(i)
			sub := fmt.Sprintf("%s %g-%g %s", name, lo, hi, fm.Axis.Unit)
			page.AddCharts(heatmapChart(q, sub, c.Slice(i)))
		}
	}
	return page.Render(w)
}
