package report

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/banshee-data/tsmap/internal/maps"
)

// Summary describes the finite pixels of one map slice.
type Summary struct {
	Quantity string  `json:"quantity"`
	Slice    int     `json:"slice"`
	Pixels   int     `json:"pixels"`
	NaN      int     `json:"nan"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Mean     float64 `json:"mean"`
	Median   float64 `json:"median"`
	StdDev   float64 `json:"stddev"`
	P95      float64 `json:"p95"`
}

// Summarize computes statistics over the finite pixels of img. A slice
// without finite pixels yields a summary with only the counts set.
func Summarize(quantity string, slice int, img *maps.Image) (Summary, error) {
	s := Summary{Quantity: quantity, Slice: slice, Pixels: len(img.Data)}
	finite := make(stats.Float64Data, 0, len(img.Data))
	for _, v := range img.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			s.NaN++
			continue
		}
		finite = append(finite, v)
	}
	if len(finite) == 0 {
		return s, nil
	}

	var err error
	if s.Min, err = finite.Min(); err != nil {
		return s, err
	}
	if s.Max, err = finite.Max(); err != nil {
		return s, err
	}
	if s.Mean, err = finite.Mean(); err != nil {
		return s, err
	}
	if s.Median, err = finite.Median(); err != nil {
		return s, err
	}
	if s.StdDev, err = finite.StandardDeviation(); err != nil {
		return s, err
	}
	if s.P95, err = finite.Percentile(95); err != nil {
		return s, err
	}
	return s, nil
}

func sqrtOrZero(v float64) float64 {
	if v > 0 {
		return math.Sqrt(v)
	}
	return 0
}
