// Package testutil provides shared test fixtures and assertions.
package testutil

import (
	"math"
	"testing"

	"github.com/banshee-data/tsmap/internal/dataset"
	"github.com/banshee-data/tsmap/internal/maps"
	"github.com/banshee-data/tsmap/internal/simulate"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertFinite fails the test if v is NaN or infinite.
func AssertFinite(t *testing.T, v float64, what string) {
	t.Helper()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		t.Errorf("%s = %g, want a finite value", what, v)
	}
}

// SmallConfig is a 41x41 pixel, single-bin Asimov observation of a
// Gaussian source at the map centre.
func SmallConfig() simulate.Config {
	c := simulate.DefaultConfig()
	c.Geom = maps.NewGeom(41, 41, 0.05)
	return c
}

// NewDataset returns the Asimov dataset of SmallConfig after mutate, which
// may be nil.
func NewDataset(t *testing.T, mutate func(*simulate.Config)) *dataset.Dataset {
	t.Helper()
	c := SmallConfig()
	if mutate != nil {
		mutate(&c)
	}
	ds, err := simulate.Asimov(c)
	AssertNoError(t, err)
	return ds
}
