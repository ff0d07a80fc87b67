package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/banshee-data/tsmap/internal/dataset"
	"github.com/banshee-data/tsmap/internal/fsutil"
	"github.com/banshee-data/tsmap/internal/mapio"
	"github.com/banshee-data/tsmap/internal/maps"
	"github.com/banshee-data/tsmap/internal/models"
	"github.com/banshee-data/tsmap/internal/security"
	"github.com/banshee-data/tsmap/internal/simulate"
	"github.com/banshee-data/tsmap/internal/units"
)

type simulateOptions struct {
	Out      string
	Name     string
	NX, NY   int
	BinSz    float64
	EMin     float64
	EMax     float64
	NBin     int
	Flux     float64 // amplitude at 1 TeV
	Index    float64
	Sigma    float64 // source width, 0 for a point source
	Bkg      float64
	Exposure float64
	PSF      float64
	Seed     uint64
	Asimov   bool
}

func handleSimulate(args []string, out io.Writer) error {
	d := simulate.DefaultConfig()
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	var o simulateOptions
	fs.StringVar(&o.Out, "out", "", "output dataset FITS file (required)")
	fs.StringVar(&o.Name, "name", d.Name, "dataset name")
	fs.IntVar(&o.NX, "nx", d.Geom.NX, "pixels along longitude")
	fs.IntVar(&o.NY, "ny", d.Geom.NY, "pixels along latitude")
	fs.Float64Var(&o.BinSz, "binsz", d.Geom.BinSz, "pixel size in deg")
	fs.Float64Var(&o.EMin, "emin", 1, "lowest energy edge in TeV")
	fs.Float64Var(&o.EMax, "emax", 10, "highest energy edge in TeV")
	fs.IntVar(&o.NBin, "nbin", 1, "log-spaced energy bins")
	fs.Float64Var(&o.Flux, "flux", 1e-11, "source amplitude at 1 TeV in cm-2 s-1 TeV-1")
	fs.Float64Var(&o.Index, "index", 2, "source power-law index")
	fs.Float64Var(&o.Sigma, "sigma", 0.1, "source Gaussian width in deg; 0 for a point source")
	fs.Float64Var(&o.Bkg, "bkg", d.Background, "background counts per pixel and bin")
	fs.Float64Var(&o.Exposure, "exposure", d.Exposure, "exposure in cm2 s")
	fs.Float64Var(&o.PSF, "psf", 0, "Gaussian PSF width in deg; 0 disables the PSF")
	fs.Uint64Var(&o.Seed, "seed", 1, "Poisson random seed")
	fs.BoolVar(&o.Asimov, "asimov", false, "write expected counts instead of a Poisson draw")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if o.Out == "" {
		fs.Usage()
		return errors.New("-out is required")
	}
	if err := security.ValidateOutputPath(o.Out); err != nil {
		return err
	}
	ds, err := simulateDataset(o)
	if err != nil {
		return err
	}
	if err := mapio.SaveDataset(fsutil.OSFileSystem{}, o.Out, ds); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s: %s, %d energy bin(s), %.0f counts\n", o.Out, ds.Counts.Geom, ds.Counts.NBin(), ds.Counts.Sum())
	return nil
}

func simulateDataset(o simulateOptions) (*dataset.Dataset, error) {
	axis, err := maps.EnergyAxisFromBounds(maps.AxisEnergy, o.EMin, o.EMax, o.NBin, units.TeV)
	if err != nil {
		return nil, err
	}
	spatial := models.PointSource(0, 0)
	if o.Sigma > 0 {
		spatial = models.Gaussian(0, 0, o.Sigma)
	}
	c := simulate.DefaultConfig()
	c.Name = o.Name
	c.Geom = maps.NewGeom(o.NX, o.NY, o.BinSz)
	c.RecoAxis = axis
	c.Sources = []models.SkyModel{{Name: "source", Spatial: spatial, Spectral: models.PowerLaw(o.Index, o.Flux, 1)}}
	c.Background = o.Bkg
	c.Exposure = o.Exposure
	c.PSFSigma = o.PSF
	if o.Asimov {
		return simulate.Asimov(c)
	}
	return simulate.Poisson(c, o.Seed)
}
