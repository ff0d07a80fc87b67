package maps

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/tsmap/internal/units"
)

// Axis names used by datasets.
const (
	AxisEnergy     = "energy"
	AxisEnergyTrue = "energy_true"
)

var (
	// ErrEnergyEdges is returned for edge lists that are not strictly
	// increasing positive values, or that collapse when snapped to an axis.
	ErrEnergyEdges = errors.New("invalid energy edges")
	// ErrEnergyOutOfRange is returned when requested edges fall outside an axis.
	ErrEnergyOutOfRange = errors.New("energy edges outside axis range")
)

// edgeTolerance is the relative slack allowed when comparing edges.
const edgeTolerance = 1e-6

// EnergyAxis is a binned energy axis.
type EnergyAxis struct {
	Name  string
	Edges []float64
	Unit  string
}

// NewEnergyAxis validates and returns an axis with a copy of edges.
func NewEnergyAxis(name string, edges []float64, unit string) (EnergyAxis, error) {
	if err := validateEdges(edges); err != nil {
		return EnergyAxis{}, err
	}
	if !units.IsValidEnergyUnit(unit) {
		return EnergyAxis{}, fmt.Errorf("invalid energy unit %q (valid: %s)", unit, units.GetValidEnergyUnitsString())
	}
	return EnergyAxis{Name: name, Edges: append([]float64(nil), edges...), Unit: unit}, nil
}

// EnergyAxisFromBounds returns an axis of nbin log-spaced bins between emin and emax.
func EnergyAxisFromBounds(name string, emin, emax float64, nbin int, unit string) (EnergyAxis, error) {
	if nbin < 1 {
		return EnergyAxis{}, fmt.Errorf("%w: need at least one bin, got %d", ErrEnergyEdges, nbin)
	}
	if !(emin > 0) || !(emax > emin) {
		return EnergyAxis{}, fmt.Errorf("%w: bounds [%g, %g]", ErrEnergyEdges, emin, emax)
	}
	edges := make([]float64, nbin+1)
	lmin, lmax := math.Log(emin), math.Log(emax)
	for i := range edges {
		edges[i] = math.Exp(lmin + (lmax-lmin)*float64(i)/float64(nbin))
	}
	edges[0], edges[nbin] = emin, emax
	return NewEnergyAxis(name, edges, unit)
}

// MustEnergyAxisFromBounds is EnergyAxisFromBounds that panics on error,
// intended for tests and fixtures.
func MustEnergyAxisFromBounds(name string, emin, emax float64, nbin int, unit string) EnergyAxis {
	a, err := EnergyAxisFromBounds(name, emin, emax, nbin, unit)
	if err != nil {
		panic(err)
	}
	return a
}

func validateEdges(edges []float64) error {
	if len(edges) < 2 {
		return fmt.Errorf("%w: need at least two edges, got %d", ErrEnergyEdges, len(edges))
	}
	for i, e := range edges {
		if !(e > 0) || math.IsInf(e, 0) {
			return fmt.Errorf("%w: edge %d is %g", ErrEnergyEdges, i, e)
		}
		if i > 0 && !(e > edges[i-1]) {
			return fmt.Errorf("%w: edges must be strictly increasing (%g after %g)", ErrEnergyEdges, e, edges[i-1])
		}
	}
	return nil
}

// NBin returns the number of bins.
func (a EnergyAxis) NBin() int { return len(a.Edges) - 1 }

// Bin returns the edges of bin i.
func (a EnergyAxis) Bin(i int) (lo, hi float64) { return a.Edges[i], a.Edges[i+1] }

// Center returns the log centre of bin i.
func (a EnergyAxis) Center(i int) float64 { return math.Sqrt(a.Edges[i] * a.Edges[i+1]) }

// Min returns the lowest edge.
func (a EnergyAxis) Min() float64 { return a.Edges[0] }

// Max returns the highest edge.
func (a EnergyAxis) Max() float64 { return a.Edges[len(a.Edges)-1] }

// Squash returns a single-bin axis spanning the whole range.
func (a EnergyAxis) Squash() EnergyAxis {
	return EnergyAxis{Name: a.Name, Edges: []float64{a.Min(), a.Max()}, Unit: a.Unit}
}

// To returns the axis expressed in another energy unit.
func (a EnergyAxis) To(unit string) (EnergyAxis, error) {
	edges, err := units.ConvertEnergies(a.Edges, a.Unit, unit)
	if err != nil {
		return EnergyAxis{}, err
	}
	return EnergyAxis{Name: a.Name, Edges: edges, Unit: unit}, nil
}

// Coord returns the bin index containing energy e (in the axis unit), or
// -1 when e is outside the axis.
func (a EnergyAxis) Coord(e float64) int {
	if e < a.Min() || e > a.Max() {
		return -1
	}
	for i := 0; i < a.NBin(); i++ {
		if e < a.Edges[i+1] {
			return i
		}
	}
	return a.NBin() - 1
}

// Equal reports whether both axes have the same edges after unit conversion.
func (a EnergyAxis) Equal(b EnergyAxis) bool {
	if a.NBin() != b.NBin() {
		return false
	}
	bb, err := b.To(a.Unit)
	if err != nil {
		return false
	}
	for i := range a.Edges {
		if math.Abs(a.Edges[i]-bb.Edges[i]) > edgeTolerance*a.Edges[i] {
			return false
		}
	}
	return true
}

// EnergyGroup is a contiguous run of axis bins [Lo, Hi).
type EnergyGroup struct {
	Index     int
	Lo, Hi    int
	EnergyMin float64
	EnergyMax float64
}

// NBin returns the number of native bins in the group.
func (g EnergyGroup) NBin() int { return g.Hi - g.Lo }

// Groups returns one group per native bin.
func (a EnergyAxis) Groups() []EnergyGroup {
	out := make([]EnergyGroup, a.NBin())
	for i := range out {
		out[i] = EnergyGroup{Index: i, Lo: i, Hi: i + 1, EnergyMin: a.Edges[i], EnergyMax: a.Edges[i+1]}
	}
	return out
}

// GroupByEdges groups native bins by the requested edges (given in unit).
// Each requested edge must lie within the axis range and is snapped to the
// nearest native edge in log energy. The returned axis carries the snapped
// edges in the axis unit.
func (a EnergyAxis) GroupByEdges(edges []float64, unit string) ([]EnergyGroup, EnergyAxis, error) {
	if err := validateEdges(edges); err != nil {
		return nil, EnergyAxis{}, err
	}
	conv, err := units.ConvertEnergies(edges, unit, a.Unit)
	if err != nil {
		return nil, EnergyAxis{}, err
	}

	idx := make([]int, len(conv))
	for i, e := range conv {
		if e < a.Min()*(1-edgeTolerance) || e > a.Max()*(1+edgeTolerance) {
			return nil, EnergyAxis{}, fmt.Errorf("%w: %g %s not in [%g, %g] %s",
				ErrEnergyOutOfRange, edges[i], unit, a.Min(), a.Max(), a.Unit)
		}
		idx[i] = a.nearestEdge(e)
		if i > 0 && idx[i] <= idx[i-1] {
			return nil, EnergyAxis{}, fmt.Errorf("%w: %g and %g %s snap to the same native edge %g %s",
				ErrEnergyEdges, edges[i-1], edges[i], unit, a.Edges[idx[i]], a.Unit)
		}
	}

	groups := make([]EnergyGroup, len(idx)-1)
	snapped := make([]float64, len(idx))
	for i, k := range idx {
		snapped[i] = a.Edges[k]
	}
	for i := range groups {
		groups[i] = EnergyGroup{
			Index:     i,
			Lo:        idx[i],
			Hi:        idx[i+1],
			EnergyMin: snapped[i],
			EnergyMax: snapped[i+1],
		}
	}
	return groups, EnergyAxis{Name: a.Name, Edges: snapped, Unit: a.Unit}, nil
}

func (a EnergyAxis) nearestEdge(e float64) int {
	le := math.Log(e)
	best, bestDist := 0, math.Inf(1)
	for i, edge := range a.Edges {
		if d := math.Abs(math.Log(edge) - le); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// AxisFromGroups returns the axis whose bins are the given groups.
func (a EnergyAxis) AxisFromGroups(groups []EnergyGroup) EnergyAxis {
	edges := make([]float64, 0, len(groups)+1)
	for i, g := range groups {
		if i == 0 {
			edges = append(edges, g.EnergyMin)
		}
		edges = append(edges, g.EnergyMax)
	}
	return EnergyAxis{Name: a.Name, Edges: edges, Unit: a.Unit}
}
