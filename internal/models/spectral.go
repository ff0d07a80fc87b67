package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate/quad"

	"github.com/banshee-data/tsmap/internal/units"
)

// SpectralKind enumerates the supported spectral shapes.
type SpectralKind int

const (
	SpectralPowerLaw SpectralKind = iota
	SpectralLogParabola
	SpectralExpCutoffPowerLaw
)

// Serialised type names.
const (
	TypePowerLaw          = "PowerLaw"
	TypeLogParabola       = "LogParabola"
	TypeExpCutoffPowerLaw = "ExponentialCutoffPowerLaw"
)

func (k SpectralKind) String() string {
	switch k {
	case SpectralPowerLaw:
		return TypePowerLaw
	case SpectralLogParabola:
		return TypeLogParabola
	case SpectralExpCutoffPowerLaw:
		return TypeExpCutoffPowerLaw
	default:
		return fmt.Sprintf("SpectralKind(%d)", int(k))
	}
}

// ParseSpectralKind maps a serialised type name to its kind.
func ParseSpectralKind(s string) (SpectralKind, error) {
	switch s {
	case TypePowerLaw:
		return SpectralPowerLaw, nil
	case TypeLogParabola:
		return SpectralLogParabola, nil
	case TypeExpCutoffPowerLaw:
		return SpectralExpCutoffPowerLaw, nil
	}
	return 0, fmt.Errorf("%w: spectral type %q", ErrUnknownModel, s)
}

// quadraturePoints is the Gauss-Legendre order used for numeric integrals.
const quadraturePoints = 32

// SpectralModel is a differential photon spectrum. Energies are in TeV and
// Amplitude is in cm-2 s-1 TeV-1.
type SpectralModel struct {
	Kind SpectralKind

	Amplitude float64
	Reference float64
	Index     float64 // power law and cutoff power law
	Alpha     float64 // log parabola
	Beta      float64 // log parabola, natural log curvature
	Lambda    float64 // cutoff, TeV-1
}

// PowerLaw returns dN/dE = amplitude * (E/reference)^-index.
func PowerLaw(index, amplitude, reference float64) SpectralModel {
	return SpectralModel{Kind: SpectralPowerLaw, Index: index, Amplitude: amplitude, Reference: reference}
}

// LogParabola returns dN/dE = amplitude * (E/reference)^(-alpha - beta*ln(E/reference)).
func LogParabola(alpha, beta, amplitude, reference float64) SpectralModel {
	return SpectralModel{Kind: SpectralLogParabola, Alpha: alpha, Beta: beta, Amplitude: amplitude, Reference: reference}
}

// ExpCutoffPowerLaw returns a power law times exp(-lambda*E).
func ExpCutoffPowerLaw(index, lambda, amplitude, reference float64) SpectralModel {
	return SpectralModel{Kind: SpectralExpCutoffPowerLaw, Index: index, Lambda: lambda, Amplitude: amplitude, Reference: reference}
}

// Validate checks the spectral parameters.
func (m SpectralModel) Validate() error {
	if !(m.Reference > 0) {
		return fmt.Errorf("reference energy must be positive, got %g", m.Reference)
	}
	if math.IsNaN(m.Amplitude) || math.IsInf(m.Amplitude, 0) {
		return fmt.Errorf("amplitude must be finite, got %g", m.Amplitude)
	}
	switch m.Kind {
	case SpectralPowerLaw, SpectralLogParabola:
	case SpectralExpCutoffPowerLaw:
		if m.Lambda < 0 {
			return fmt.Errorf("cutoff lambda must be non-negative, got %g", m.Lambda)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownModel, m.Kind)
	}
	return nil
}

// Evaluate returns dN/dE at energy e (TeV).
func (m SpectralModel) Evaluate(e float64) float64 {
	x := e / m.Reference
	switch m.Kind {
	case SpectralPowerLaw:
		return m.Amplitude * math.Pow(x, -m.Index)
	case SpectralLogParabola:
		l := math.Log(x)
		return m.Amplitude * math.Pow(x, -m.Alpha-m.Beta*l)
	case SpectralExpCutoffPowerLaw:
		return m.Amplitude * math.Pow(x, -m.Index) * math.Exp(-m.Lambda*e)
	}
	return 0
}

// Integral returns the photon flux between emin and emax (TeV) in
// cm-2 s-1.
func (m SpectralModel) Integral(emin, emax float64) float64 {
	if !(emax > emin) {
		return 0
	}
	if m.Kind == SpectralPowerLaw {
		return m.powerLawIntegral(emin, emax)
	}
	// integrate E*dN/dE over ln E
	f := func(l float64) float64 {
		e := math.Exp(l)
		return e * m.Evaluate(e)
	}
	return quad.Fixed(f, math.Log(emin), math.Log(emax), quadraturePoints, quad.Legendre{}, 0)
}

func (m SpectralModel) powerLawIntegral(emin, emax float64) float64 {
	e0 := m.Reference
	if math.Abs(m.Index-1) < 1e-12 {
		return m.Amplitude * e0 * math.Log(emax/emin)
	}
	p := 1 - m.Index
	return m.Amplitude * e0 / p * (math.Pow(emax/e0, p) - math.Pow(emin/e0, p))
}

// IntegralIn returns Integral for edges given in an arbitrary energy unit.
func (m SpectralModel) IntegralIn(emin, emax float64, unit string) (float64, error) {
	lo, err := units.ConvertEnergy(emin, unit, units.TeV)
	if err != nil {
		return 0, err
	}
	hi, err := units.ConvertEnergy(emax, unit, units.TeV)
	if err != nil {
		return 0, err
	}
	return m.Integral(lo, hi), nil
}

// IntegralUnit is the unit of Integral.
func (m SpectralModel) IntegralUnit() string {
	return units.IntegratedUnit(units.DifferentialFluxUnit)
}
