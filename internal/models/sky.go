package models

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnknownModel is returned for unrecognised spatial or spectral types.
	ErrUnknownModel = errors.New("unknown model type")
	// ErrUnsupportedComponent is returned for model components that are
	// neither sky models nor background models.
	ErrUnsupportedComponent = errors.New("unsupported model component")
)

// Default kernel model parameters.
const (
	DefaultIndex     = 2.0
	DefaultAmplitude = 1e-12 // cm-2 s-1 TeV-1
	DefaultReference = 1.0   // TeV
)

// SkyModel combines a spatial and a spectral shape.
type SkyModel struct {
	Name     string
	Spatial  SpatialModel
	Spectral SpectralModel
}

// DefaultSkyModel returns a point source with a power law of index 2.
func DefaultSkyModel() SkyModel {
	return SkyModel{
		Name:     "point-pwl",
		Spatial:  PointSource(0, 0),
		Spectral: PowerLaw(DefaultIndex, DefaultAmplitude, DefaultReference),
	}
}

// Validate checks both shapes.
func (m SkyModel) Validate() error {
	if err := m.Spatial.Validate(); err != nil {
		return fmt.Errorf("model %q: %w", m.Name, err)
	}
	if err := m.Spectral.Validate(); err != nil {
		return fmt.Errorf("model %q: %w", m.Name, err)
	}
	return nil
}

// Background component identifiers linking a background to datasets.
const (
	BackgroundGlobal = "global"
	BackgroundLocal  = "local"
)

// BackgroundModel rescales a dataset's background cube by
// norm * (E/reference)^-tilt.
type BackgroundModel struct {
	Name      string
	ID        string
	Norm      float64
	Tilt      float64
	Reference float64 // TeV
}

// DefaultBackgroundModel returns the identity background correction.
func DefaultBackgroundModel(name string) BackgroundModel {
	return BackgroundModel{Name: name, ID: BackgroundLocal, Norm: 1, Tilt: 0, Reference: 1}
}

// Factor returns the scaling applied at energy e (TeV).
func (b BackgroundModel) Factor(e float64) float64 {
	if b.Tilt == 0 || !(b.Reference > 0) {
		return b.Norm
	}
	return b.Norm * math.Pow(e/b.Reference, -b.Tilt)
}
