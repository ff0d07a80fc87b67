// Package units provides shared constants, validation and conversion for
// energy units and the unit labels carried by flux and exposure maps.
package units

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Energy unit constants
const (
	EV  = "eV"
	KeV = "keV"
	MeV = "MeV"
	GeV = "GeV"
	TeV = "TeV"
)

// Map unit labels. Spectral models are evaluated in TeV, so the
// differential flux unit is per TeV.
const (
	Dimensionless        = ""
	FluxUnit             = "cm-2 s-1"
	DifferentialFluxUnit = "cm-2 s-1 TeV-1"
	ExposureUnit         = "cm2 s"
	CountsUnit           = ""
)

// ValidEnergyUnits contains all valid energy unit values
var ValidEnergyUnits = []string{EV, KeV, MeV, GeV, TeV}

// energy scale of each unit in TeV
var toTeV = map[string]float64{
	EV:  1e-12,
	KeV: 1e-9,
	MeV: 1e-6,
	GeV: 1e-3,
	TeV: 1,
}

// IsValidEnergyUnit checks if the given unit is in the list of valid energy units
func IsValidEnergyUnit(unit string) bool {
	_, ok := toTeV[unit]
	return ok
}

// GetValidEnergyUnitsString returns a comma-separated string of valid units for error messages
func GetValidEnergyUnitsString() string {
	return strings.Join(ValidEnergyUnits, ", ")
}

// ConvertEnergy converts an energy value between two energy units.
func ConvertEnergy(value float64, from, to string) (float64, error) {
	f, ok := toTeV[from]
	if !ok {
		return 0, fmt.Errorf("invalid energy unit %q (valid: %s)", from, GetValidEnergyUnitsString())
	}
	t, ok := toTeV[to]
	if !ok {
		return 0, fmt.Errorf("invalid energy unit %q (valid: %s)", to, GetValidEnergyUnitsString())
	}
	if from == to {
		return value, nil
	}
	return value * f / t, nil
}

// ConvertEnergies converts a slice of energies, returning a new slice.
func ConvertEnergies(values []float64, from, to string) ([]float64, error) {
	out := make([]float64, len(values))
	for i, v := range values {
		c, err := ConvertEnergy(v, from, to)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// IntegratedUnit returns the unit of a differential flux integrated over
// energy, e.g. "cm-2 s-1 TeV-1" becomes "cm-2 s-1".
func IntegratedUnit(differential string) string {
	fields := strings.Fields(differential)
	out := fields[:0]
	for _, f := range fields {
		if f == TeV+"-1" {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

// Angle unit constants
const (
	Deg    = "deg"
	Arcmin = "arcmin"
	Arcsec = "arcsec"
	Rad    = "rad"
)

// ValidAngleUnits contains all valid angle unit values
var ValidAngleUnits = []string{Deg, Arcmin, Arcsec, Rad}

// angular scale of each unit in degrees
var toDeg = map[string]float64{
	Deg:    1,
	Arcmin: 1.0 / 60,
	Arcsec: 1.0 / 3600,
	Rad:    180 / math.Pi,
}

// IsValidAngleUnit checks if the given unit is in the list of valid angle units
func IsValidAngleUnit(unit string) bool {
	_, ok := toDeg[unit]
	return ok
}

// ConvertAngle converts an angle between two angle units.
func ConvertAngle(value float64, from, to string) (float64, error) {
	f, ok := toDeg[from]
	if !ok {
		return 0, fmt.Errorf("invalid angle unit %q (valid: %s)", from, strings.Join(ValidAngleUnits, ", "))
	}
	t, ok := toDeg[to]
	if !ok {
		return 0, fmt.Errorf("invalid angle unit %q (valid: %s)", to, strings.Join(ValidAngleUnits, ", "))
	}
	return value * f / t, nil
}

// ParseAngle parses a quantity such as "1 deg" or "30 arcmin" and returns
// it in degrees. A bare number is taken as degrees.
func ParseAngle(s string) (float64, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields) > 2 {
		return 0, fmt.Errorf("invalid angle %q", s)
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid angle %q: %w", s, err)
	}
	unit := Deg
	if len(fields) == 2 {
		unit = fields[1]
	}
	return ConvertAngle(v, unit, Deg)
}

// InverseEnergyScale returns the factor converting a quantity per unit
// energy (e.g. "cm-2 s-1 GeV-1") to per TeV.
func InverseEnergyScale(unit string) (float64, error) {
	f, ok := toTeV[unit]
	if !ok {
		return 0, fmt.Errorf("invalid energy unit %q (valid: %s)", unit, GetValidEnergyUnitsString())
	}
	return 1 / f, nil
}
