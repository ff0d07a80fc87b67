package tsmap

import (
	"math"
	"sort"

	"github.com/banshee-data/tsmap/internal/maps"
)

// Peak is a local maximum of a map.
type Peak struct {
	X, Y     int
	Lon, Lat float64
	Value    float64
}

// FindPeaks returns the pixels above threshold that are the maximum within
// minDistance pixels in every direction, sorted by value descending. NaN
// pixels are ignored.
func FindPeaks(img *maps.Image, threshold float64, minDistance int) []Peak {
	if minDistance < 0 {
		minDistance = 0
	}
	g := img.Geom
	var peaks []Peak
	for y := 0; y < g.NY; y++ {
		for x := 0; x < g.NX; x++ {
			v := img.At(x, y)
			if math.IsNaN(v) || v <= threshold {
				continue
			}
			if !isLocalMax(img, x, y, v, minDistance) {
				continue
			}
			lon, lat := g.PixToCoord(float64(x), float64(y))
			peaks = append(peaks, Peak{X: x, Y: y, Lon: lon, Lat: lat, Value: v})
		}
	}
	sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].Value > peaks[j].Value })
	return peaks
}

func isLocalMax(img *maps.Image, x, y int, v float64, r int) bool {
	g := img.Geom
	for j := max(y-r, 0); j <= min(y+r, g.NY-1); j++ {
		for i := max(x-r, 0); i <= min(x+r, g.NX-1); i++ {
			if w := img.At(i, j); !math.IsNaN(w) && w > v {
				return false
			}
		}
	}
	return true
}
