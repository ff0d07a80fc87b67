package tsmap

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/tsmap/internal/maps"
)

// scratch holds the cutout buffers of one worker.
type scratch struct {
	n, b, x, m []float64
}

func newScratch(nslices, kk int) *scratch {
	return &scratch{
		n: make([]float64, nslices*kk),
		b: make([]float64, nslices*kk),
		x: make([]float64, kk),
		m: make([]float64, nslices*kk),
	}
}

// fill copies the cutouts around (cx, cy) of every slice and forms the
// model m = X*K.
func (s *scratch) fill(gd *groupData, cx, cy int) {
	k := gd.kernelSize
	kk := k * k
	nx, ny := gd.geom.NX, gd.geom.NY
	for i, sl := range gd.slices {
		off := i * kk
		maps.CutoutInto(s.n[off:off+kk], sl.counts, nx, ny, cx, cy, k, k)
		maps.CutoutInto(s.b[off:off+kk], sl.background, nx, ny, cx, cy, k, k)
		maps.CutoutInto(s.x, sl.exposure, nx, ny, cx, cy, k, k)
		m := s.m[off : off+kk]
		for j, kv := range sl.kernel {
			m[j] = s.x[j] * kv
		}
	}
}

// runSpatialPass fits every valid pixel of gd. Rows are strided across
// nJobs workers (runtime.NumCPU when nJobs < 1); each result index is
// written by exactly one worker. Invalid pixels get NaN results. The
// returned slice is only produced when every worker finished.
func runSpatialPass(ctx context.Context, gd *groupData, fitter *Fitter, nJobs int) ([]PixelFitResult, error) {
	if nJobs < 1 {
		nJobs = runtime.NumCPU()
	}
	geom := gd.geom
	if nJobs > geom.NY {
		nJobs = geom.NY
	}

	guess, err := gd.initialGuess()
	if err != nil {
		return nil, err
	}

	results := make([]PixelFitResult, geom.NPix())
	kk := gd.kernelSize * gd.kernelSize
	eg, ctx := errgroup.WithContext(ctx)
	for w := 0; w < nJobs; w++ {
		eg.Go(func() error {
			buf := newScratch(len(gd.slices), kk)
			for y := w; y < geom.NY; y += nJobs {
				if err := ctx.Err(); err != nil {
					return err
				}
				for x := 0; x < geom.NX; x++ {
					i := geom.Index(x, y)
					if !gd.valid[i] {
						results[i] = nanResult()
						continue
					}
					buf.fill(gd, x, y)
					results[i] = fitter.Fit(buf.n, buf.b, buf.m, guess[i])
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
