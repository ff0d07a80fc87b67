package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/tsmap/internal/config"
	"github.com/banshee-data/tsmap/internal/dataset"
	"github.com/banshee-data/tsmap/internal/db"
	"github.com/banshee-data/tsmap/internal/fsutil"
	"github.com/banshee-data/tsmap/internal/mapio"
	"github.com/banshee-data/tsmap/internal/models"
	"github.com/banshee-data/tsmap/internal/monitoring"
	"github.com/banshee-data/tsmap/internal/report"
	"github.com/banshee-data/tsmap/internal/security"
	"github.com/banshee-data/tsmap/internal/tsmap"
)

type runOptions struct {
	Dataset       string
	Config        string
	ModelsFile    string
	Model         string
	Out           string
	Plots         string
	DB            string
	Name          string
	PeakThreshold float64
	PeakDistance  int
	Jobs          int
}

func handleRun(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var o runOptions
	fs.StringVar(&o.Dataset, "dataset", "", "input dataset FITS file (required)")
	fs.StringVar(&o.Config, "config", "", "estimator config JSON (default: built-in defaults)")
	fs.StringVar(&o.ModelsFile, "models", "", "models document JSON holding the kernel model")
	fs.StringVar(&o.Model, "model", "", "name of the kernel model in -models (default: first)")
	fs.StringVar(&o.Out, "out", "", "output flux maps FITS file (required)")
	fs.StringVar(&o.Plots, "plots", "", "directory for PNG/HTML reports")
	fs.StringVar(&o.DB, "db", "", "sqlite run catalogue")
	fs.StringVar(&o.Name, "name", "", "run name (default: dataset name)")
	fs.Float64Var(&o.PeakThreshold, "peak-threshold", 25, "minimum TS of a catalogued peak")
	fs.IntVar(&o.PeakDistance, "peak-distance", 3, "minimum separation of peaks in pixels")
	fs.IntVar(&o.Jobs, "jobs", -1, "pixel workers; overrides n_jobs from the config when >= 0")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	monitoring.SetDebug(*debug)

	if o.Dataset == "" || o.Out == "" {
		fs.Usage()
		return errors.New("-dataset and -out are required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	_, err := runEstimator(ctx, fsutil.OSFileSystem{}, o, out)
	return err
}

func loadConfig(o runOptions) (*config.EstimatorConfig, error) {
	cfg := config.EmptyEstimatorConfig()
	if o.Config != "" {
		var err error
		if cfg, err = config.LoadEstimatorConfig(o.Config); err != nil {
			return nil, err
		}
	}
	if o.ModelsFile != "" {
		cfg.ModelsFile = &o.ModelsFile
	}
	if o.Model != "" {
		cfg.Model = &o.Model
	}
	if o.Jobs >= 0 {
		cfg.NJobs = &o.Jobs
	}
	return cfg, nil
}

// runEstimator runs one estimation end to end: it scales the dataset
// background by the linked background models, writes the flux maps, finds
// the TS peaks of every slice, renders reports and records the run in the
// catalogue when one is configured.
func runEstimator(ctx context.Context, fsys fsutil.FileSystem, o runOptions, out io.Writer) (*tsmap.FluxMaps, error) {
	for _, p := range []string{o.Out, o.Plots, o.DB} {
		if p == "" {
			continue
		}
		if err := security.ValidateOutputPath(p); err != nil {
			return nil, fmt.Errorf("output %s: %w", p, err)
		}
	}

	cfg, err := loadConfig(o)
	if err != nil {
		return nil, err
	}
	cache := models.NewTemplateCache(mapio.TemplateLoader(fsys))
	e, err := cfg.Estimator(cache)
	if err != nil {
		return nil, err
	}

	ds, err := mapio.LoadDataset(fsys, o.Dataset)
	if err != nil {
		return nil, err
	}
	bkgs, err := cfg.LoadBackgrounds(ds.Name)
	if err != nil {
		return nil, err
	}
	for _, b := range bkgs {
		if ds, err = ds.ScaleBackground(b); err != nil {
			return nil, err
		}
		monitoring.Debugf("background %q (%s): norm %g, tilt %g", b.Name, b.ID, b.Norm, b.Tilt)
	}
	name := o.Name
	if name == "" {
		name = ds.Name
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(o.Dataset), filepath.Ext(o.Dataset))
	}

	var catalogue *db.DB
	var run *db.Run
	if o.DB != "" {
		if catalogue, err = db.NewDB(o.DB); err != nil {
			return nil, err
		}
		defer catalogue.Close()

		var doc bytes.Buffer
		if err := models.ModelsToDocument([]models.SkyModel{e.Model}, bkgs, models.SelectionSimple).Write(&doc); err != nil {
			return nil, err
		}
		run = &db.Run{
			Name:               name,
			Dataset:            o.Dataset,
			Model:              strings.TrimSpace(doc.String()),
			KernelWidth:        e.KernelWidth,
			DownsamplingFactor: e.DownsamplingFactor,
			EnergyGroups:       outputSlices(e, ds),
			NX:                 ds.Counts.Geom.NX,
			NY:                 ds.Counts.Geom.NY,
		}
		if err := catalogue.StartRun(ctx, run); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	fm, runErr := estimate(ctx, fsys, e, ds, name, o)
	if catalogue != nil {
		maxTS := math.NaN()
		if fm != nil {
			maxTS = maxTSOf(fm)
		}
		// record the outcome even when the context was cancelled
		finishCtx := context.WithoutCancel(ctx)
		if runErr == nil {
			runErr = catalogue.InsertPeaks(finishCtx, run.ID, cataloguePeaks(fm, o))
		}
		outputPath := o.Out
		if runErr != nil {
			outputPath = ""
		}
		if err := catalogue.FinishRun(finishCtx, run.ID, maxTS, outputPath, runErr); err != nil {
			monitoring.Logf("failed to record run %s: %v", run.ID, err)
		}
	}
	if runErr != nil {
		return nil, runErr
	}

	fmt.Fprintf(out, "%s: %d energy group(s), max TS %.2f, wrote %s in %s\n",
		name, fm.Axis.NBin(), maxTSOf(fm), o.Out, time.Since(start).Round(time.Millisecond))
	if run != nil {
		fmt.Fprintf(out, "run %s recorded in %s\n", run.ID, o.DB)
	}
	return fm, nil
}

func estimate(ctx context.Context, fsys fsutil.FileSystem, e *tsmap.Estimator, ds *dataset.Dataset, name string, o runOptions) (*tsmap.FluxMaps, error) {
	fm, err := e.Run(ctx, ds)
	if err != nil {
		return nil, err
	}
	if err := mapio.SaveFluxMaps(fsys, o.Out, fm); err != nil {
		return nil, err
	}
	if o.Plots != "" {
		ts, _ := fm.Image(tsmap.QuantityTS, 0)
		w := report.NewWriter(fsys, o.Plots)
		if _, err := w.Write(name, fm, tsmap.FindPeaks(ts, o.PeakThreshold, o.PeakDistance)); err != nil {
			return nil, err
		}
	}
	return fm, nil
}

// outputSlices is the number of energy slices Run will produce.
func outputSlices(e *tsmap.Estimator, ds *dataset.Dataset) int {
	if len(e.EnergyEdges) > 1 {
		return len(e.EnergyEdges) - 1
	}
	return ds.RecoAxis().NBin()
}

func maxTSOf(fm *tsmap.FluxMaps) float64 {
	c, ok := fm.Get(tsmap.QuantityTS)
	if !ok {
		return math.NaN()
	}
	best := math.NaN()
	for i := 0; i < c.NBin(); i++ {
		if v, _, _, ok := c.Slice(i).MaxFinite(); ok && !(v <= best) {
			best = v
		}
	}
	return best
}

func cataloguePeaks(fm *tsmap.FluxMaps, o runOptions) []db.Peak {
	var out []db.Peak
	for i := 0; i < fm.Axis.NBin(); i++ {
		ts, ok := fm.Image(tsmap.QuantityTS, i)
		if !ok {
			continue
		}
		flux, _ := fm.Image(tsmap.QuantityFlux, i)
		fluxErr, _ := fm.Image(tsmap.QuantityFluxErr, i)
		for rank, p := range tsmap.FindPeaks(ts, o.PeakThreshold, o.PeakDistance) {
			dp := db.Peak{Slice: i, Rank: rank, X: p.X, Y: p.Y, Lon: p.Lon, Lat: p.Lat, TS: p.Value,
				Flux: math.NaN(), FluxErr: math.NaN()}
			if flux != nil {
				dp.Flux = flux.At(p.X, p.Y)
			}
			if fluxErr != nil {
				dp.FluxErr = fluxErr.At(p.X, p.Y)
			}
			out = append(out, dp)
		}
	}
	return out
}
