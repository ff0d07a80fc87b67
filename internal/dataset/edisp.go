package dataset

import (
	"fmt"

	"github.com/banshee-data/tsmap/internal/maps"
)

// EDispKernel is an energy dispersion matrix. Matrix[t][r] is the
// probability that a photon in true bin t is reconstructed in reco bin r.
type EDispKernel struct {
	TrueAxis maps.EnergyAxis
	RecoAxis maps.EnergyAxis
	Matrix   [][]float64
}

// NewDiagonalEDisp returns the identity response for an axis used as both
// true and reconstructed energy.
func NewDiagonalEDisp(axis maps.EnergyAxis) *EDispKernel {
	m := make([][]float64, axis.NBin())
	for i := range m {
		m[i] = make([]float64, axis.NBin())
		m[i][i] = 1
	}
	trueAxis := axis
	trueAxis.Name = maps.AxisEnergyTrue
	recoAxis := axis
	recoAxis.Name = maps.AxisEnergy
	return &EDispKernel{TrueAxis: trueAxis, RecoAxis: recoAxis, Matrix: m}
}

// Validate checks the matrix shape and that rows hold probabilities.
func (e *EDispKernel) Validate() error {
	if len(e.Matrix) != e.TrueAxis.NBin() {
		return fmt.Errorf("edisp has %d rows for %d true energy bins", len(e.Matrix), e.TrueAxis.NBin())
	}
	for t, row := range e.Matrix {
		if len(row) != e.RecoAxis.NBin() {
			return fmt.Errorf("edisp row %d has %d columns for %d reco energy bins", t, len(row), e.RecoAxis.NBin())
		}
		sum := 0.0
		for _, v := range row {
			if v < 0 {
				return fmt.Errorf("edisp row %d has negative probability %g", t, v)
			}
			sum += v
		}
		if sum > 1+1e-6 {
			return fmt.Errorf("edisp row %d sums to %g > 1", t, sum)
		}
	}
	return nil
}

// Response returns P(t, r).
func (e *EDispKernel) Response(t, r int) float64 { return e.Matrix[t][r] }
