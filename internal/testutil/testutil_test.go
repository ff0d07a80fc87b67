package testutil

import (
	"testing"

	"github.com/banshee-data/tsmap/internal/simulate"
)

func TestNewDataset(t *testing.T) {
	ds := NewDataset(t, nil)
	if got := ds.Geom().NX; got != 41 {
		t.Errorf("NX = %d, want 41", got)
	}
	if ds.Counts.Sum() <= ds.Background.Sum() {
		t.Error("expected source counts above background")
	}

	ds = NewDataset(t, func(c *simulate.Config) { c.Sources = nil })
	if ds.Counts.Sum() != ds.Background.Sum() {
		t.Errorf("without sources counts %g should equal background %g", ds.Counts.Sum(), ds.Background.Sum())
	}
	AssertFinite(t, ds.Exposure.Sum(), "exposure")
}
