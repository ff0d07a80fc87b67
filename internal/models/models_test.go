package models

import (
	"bytes"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tsmap/internal/maps"
)

// ----- spatial -----

func sumFractions(m SpatialModel, binsz float64, half int) float64 {
	s := 0.0
	for j := -half; j <= half; j++ {
		for i := -half; i <= half; i++ {
			s += m.PixelFraction(float64(i)*binsz, float64(j)*binsz, binsz)
		}
	}
	return s
}

func TestSpatial_PixelFractionNormalised(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		model SpatialModel
		tol   float64
	}{
		{"point", PointSource(0, 0), 1e-12},
		{"gaussian", Gaussian(0, 0, 0.1), 1e-6},
		{"disk", Disk(0, 0, 0.15), 0.02},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.model.Validate())
			assert.InDelta(t, 1.0, sumFractions(tt.model, 0.02, 40), tt.tol)
		})
	}
}

func TestSpatial_PointOnlyCentrePixel(t *testing.T) {
	t.Parallel()
	m := PointSource(0, 0)
	assert.Equal(t, 1.0, m.PixelFraction(0, 0, 0.1))
	assert.Equal(t, 0.0, m.PixelFraction(0.1, 0, 0.1))
	assert.True(t, math.IsInf(m.Evaluate(0, 0), 1))
}

func TestSpatial_GaussianEvaluate(t *testing.T) {
	t.Parallel()
	m := Gaussian(0, 0, 0.2)
	assert.InDelta(t, 1/(2*math.Pi*0.04), m.Evaluate(0, 0), 1e-12)
	assert.Less(t, m.Evaluate(0.2, 0), m.Evaluate(0.1, 0))
}

func TestSpatial_Template(t *testing.T) {
	t.Parallel()
	img := maps.NewImage(maps.NewGeom(3, 3, 0.1), "")
	img.Set(1, 1, 2)
	img.Set(2, 1, 2)
	m := Template("tpl.fits", img)
	require.NoError(t, m.Validate())
	assert.InDelta(t, 0.5, m.PixelFraction(0, 0, 0.1), 1e-12)
	assert.InDelta(t, 0.5, m.PixelFraction(0.1, 0, 0.1), 1e-12)
	assert.Equal(t, 0.0, m.PixelFraction(1, 0, 0.1))

	empty := SpatialModel{Kind: SpatialTemplate, Filename: "missing.fits"}
	assert.Error(t, empty.Validate())
}

func TestSpatial_Validate(t *testing.T) {
	t.Parallel()
	assert.Error(t, Gaussian(0, 0, 0).Validate())
	assert.Error(t, Disk(0, 0, -1).Validate())
	err := SpatialModel{Kind: SpatialKind(42)}.Validate()
	assert.True(t, errors.Is(err, ErrUnknownModel))
}

// ----- spectral -----

func TestSpectral_PowerLawIntegral(t *testing.T) {
	t.Parallel()
	pl := PowerLaw(2, 1e-12, 1)
	// analytic: A*E0*(1/emin - 1/emax)
	assert.InDelta(t, 1e-12*(1/0.1-1/10.0), pl.Integral(0.1, 10), 1e-20)
	assert.Equal(t, 0.0, pl.Integral(1, 1))

	flat := PowerLaw(1, 2, 1)
	assert.InDelta(t, 2*math.Log(10), flat.Integral(1, 10), 1e-12)
}

func TestSpectral_QuadratureMatchesAnalytic(t *testing.T) {
	t.Parallel()
	// log parabola with beta=0 is a power law of index alpha
	lp := LogParabola(2.3, 0, 1e-12, 1)
	pl := PowerLaw(2.3, 1e-12, 1)
	assert.InEpsilon(t, pl.Integral(0.5, 20), lp.Integral(0.5, 20), 1e-9)

	// a cutoff power law with lambda=0 is a power law as well
	ecpl := ExpCutoffPowerLaw(2.3, 0, 1e-12, 1)
	assert.InEpsilon(t, pl.Integral(0.5, 20), ecpl.Integral(0.5, 20), 1e-9)

	cut := ExpCutoffPowerLaw(2.3, 0.5, 1e-12, 1)
	assert.Less(t, cut.Integral(0.5, 20), pl.Integral(0.5, 20))
}

func TestSpectral_IntegralIn(t *testing.T) {
	t.Parallel()
	pl := PowerLaw(2, 1e-12, 1)
	got, err := pl.IntegralIn(100, 1000, "GeV")
	require.NoError(t, err)
	assert.InEpsilon(t, pl.Integral(0.1, 1), got, 1e-12)
	assert.Equal(t, "cm-2 s-1", pl.IntegralUnit())

	_, err = pl.IntegralIn(1, 2, "erg")
	assert.Error(t, err)
}

func TestDefaultSkyModel(t *testing.T) {
	t.Parallel()
	m := DefaultSkyModel()
	require.NoError(t, m.Validate())
	assert.Equal(t, SpatialPoint, m.Spatial.Kind)
	assert.Equal(t, SpectralPowerLaw, m.Spectral.Kind)
	assert.Equal(t, 2.0, m.Spectral.Index)
}

// ----- serialisation -----

func TestDocument_RoundTrip(t *testing.T) {
	t.Parallel()
	in := []SkyModel{
		{Name: "src-a", Spatial: Gaussian(83.6, 22.0, 0.1), Spectral: PowerLaw(2.2, 3e-12, 1)},
		{Name: "src-b", Spatial: Disk(10, -1, 0.3), Spectral: LogParabola(2, 0.1, 1e-12, 1)},
		{Name: "src-c", Spatial: PointSource(1, 2), Spectral: ExpCutoffPowerLaw(1.8, 0.1, 1e-12, 1)},
	}
	bkg := []BackgroundModel{{Name: "bkg", ID: BackgroundGlobal, Norm: 1.1, Tilt: 0.05, Reference: 1}}

	doc := ModelsToDocument(in, bkg, SelectionAll)
	var buf bytes.Buffer
	require.NoError(t, doc.Write(&buf))
	back, err := ReadDocument(&buf)
	require.NoError(t, err)

	got, err := DocumentToModels(back, nil)
	require.NoError(t, err)
	opt := cmpopts.EquateApprox(0, 1e-12)
	if diff := cmp.Diff(in, got, opt, cmpopts.IgnoreUnexported(SpatialModel{})); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDocument_Deduplicates(t *testing.T) {
	t.Parallel()
	m := DefaultSkyModel()
	doc := ModelsToDocument([]SkyModel{m, m}, nil, SelectionSimple)
	require.Len(t, doc.Components, 1)
	for _, p := range doc.Components[0].Spectral.Parameters {
		assert.Nil(t, p.Frozen, "simple selection should omit frozen for %s", p.Name)
	}
}

func TestDocument_UnitConversion(t *testing.T) {
	t.Parallel()
	doc := Document{Components: []ComponentSpec{{
		Name: "gev",
		Spatial: &ModelSpec{Type: TypeGaussian, Parameters: []Parameter{
			{Name: "lon_0", Value: 0, Unit: "deg"},
			{Name: "lat_0", Value: 0, Unit: "deg"},
			{Name: "sigma", Value: 6, Unit: "arcmin"},
		}},
		Spectral: &ModelSpec{Type: TypePowerLaw, Parameters: []Parameter{
			{Name: "index", Value: 2},
			{Name: "amplitude", Value: 1e-15, Unit: "cm-2 s-1 GeV-1"},
			{Name: "reference", Value: 1000, Unit: "GeV"},
		}},
	}}}
	got, err := DocumentToModels(doc, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.1, got[0].Spatial.Sigma, 1e-12)
	assert.InDelta(t, 1e-12, got[0].Spectral.Amplitude, 1e-24)
	assert.InDelta(t, 1.0, got[0].Spectral.Reference, 1e-12)
}

func TestDocument_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		comp    ComponentSpec
		wantErr error
	}{
		{
			name:    "unsupported component",
			comp:    ComponentSpec{Name: "x", Model: &ModelSpec{Type: "SkyDiffuseCube"}},
			wantErr: ErrUnsupportedComponent,
		},
		{
			name: "unknown spatial type",
			comp: ComponentSpec{Name: "x",
				Spatial:  &ModelSpec{Type: "SkyEllipse"},
				Spectral: &ModelSpec{Type: TypePowerLaw}},
			wantErr: ErrUnknownModel,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DocumentToModels(Document{Components: []ComponentSpec{tt.comp}}, nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	missing := Document{Components: []ComponentSpec{{
		Name:     "x",
		Spatial:  &ModelSpec{Type: TypePoint, Parameters: []Parameter{{Name: "lon_0"}}},
		Spectral: &ModelSpec{Type: TypePowerLaw},
	}}}
	_, err := DocumentToModels(missing, nil)
	assert.ErrorContains(t, err, "lat_0")
}

func TestDocument_BackgroundsSkipped(t *testing.T) {
	t.Parallel()
	doc := ModelsToDocument([]SkyModel{DefaultSkyModel()},
		[]BackgroundModel{DefaultBackgroundModel("bkg")}, SelectionAll)
	got, err := DocumentToModels(doc, nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestLinkBackgrounds(t *testing.T) {
	t.Parallel()
	doc := ModelsToDocument(nil, []BackgroundModel{
		{Name: "shared", ID: BackgroundGlobal, Norm: 1.2, Reference: 1},
		{Name: "mine", ID: "obs-1", Norm: 0.9, Reference: 1},
		{Name: "other", ID: "obs-2", Norm: 0.5, Reference: 1},
		{Name: "loc", ID: BackgroundLocal, Norm: 1.0, Tilt: 0.1, Reference: 1},
	}, SelectionAll)

	got, err := LinkBackgrounds(doc, "obs-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, BackgroundGlobal, got[0].ID)
	assert.Equal(t, 1.2, got[0].Norm)
	assert.Equal(t, "obs-1", got[1].ID)
	assert.Equal(t, "loc", got[2].Name)
	assert.Equal(t, "obs-1", got[2].ID)
}

func TestBackgroundModel_Factor(t *testing.T) {
	t.Parallel()
	b := BackgroundModel{Norm: 2, Tilt: 1, Reference: 1}
	assert.InDelta(t, 1.0, b.Factor(2), 1e-12)
	assert.Equal(t, 3.0, BackgroundModel{Norm: 3}.Factor(10))
}

// ----- template cache -----

func TestTemplateCache(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	loads := 0
	cache := NewTemplateCache(func(filename string) (*maps.Image, error) {
		mu.Lock()
		loads++
		mu.Unlock()
		if filename == "bad.fits" {
			return nil, errors.New("no such file")
		}
		img := maps.NewImageFilled(maps.NewGeom(3, 3, 0.1), 1, "")
		return img, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get("tpl", "tpl.fits")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, loads)
	assert.Equal(t, 1, cache.Len())

	_, err := cache.Get("bad", "bad.fits")
	assert.Error(t, err)
	assert.Equal(t, 1, cache.Len())

	pl := &ModelSpec{Type: TypePowerLaw, Parameters: []Parameter{{Name: "index", Value: 2}, {Name: "amplitude", Value: 1e-12}, {Name: "reference", Value: 1}}}
	doc := Document{Components: []ComponentSpec{
		{Name: "tpl", Spatial: &ModelSpec{Type: TypeTemplate, Filename: "tpl.fits"}, Spectral: pl},
		{Name: "diffuse", Spatial: &ModelSpec{Type: TypeTemplate, Filename: "tpl.fits"}, Spectral: pl},
	}}
	got, err := DocumentToModels(doc, cache)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, SpatialTemplate, got[0].Spatial.Kind)
	assert.Equal(t, 3, loads, "component names key the cache, so only diffuse is loaded")
	assert.Equal(t, 2, cache.Len())

	_, err = DocumentToModels(doc, cache)
	require.NoError(t, err)
	assert.Equal(t, 3, loads)
}
