package models

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/banshee-data/tsmap/internal/units"
)

// Selection controls how much parameter detail is written.
type Selection string

const (
	// SelectionAll writes name, value, unit, bounds and the frozen flag.
	SelectionAll Selection = "all"
	// SelectionSimple writes name, value and unit only.
	SelectionSimple Selection = "simple"
)

// TypeBackground is the serialised type of a background component.
const TypeBackground = "BackgroundModel"

// Parameter is one serialised model parameter.
type Parameter struct {
	Name   string   `json:"name"`
	Value  float64  `json:"value"`
	Unit   string   `json:"unit"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Frozen *bool    `json:"frozen,omitempty"`
}

// ModelSpec is a serialised spatial, spectral or background model.
type ModelSpec struct {
	Type       string      `json:"type"`
	Parameters []Parameter `json:"parameters"`
	Filename   string      `json:"filename,omitempty"`
}

// ComponentSpec is one entry of a models document. Sky models carry
// Spatial and Spectral; background components carry Model.
type ComponentSpec struct {
	Name     string     `json:"name"`
	ID       string     `json:"id,omitempty"`
	Filename string     `json:"filename,omitempty"`
	Spatial  *ModelSpec `json:"spatial,omitempty"`
	Spectral *ModelSpec `json:"spectral,omitempty"`
	Model    *ModelSpec `json:"model,omitempty"`
}

// Document is the on-disk models format.
type Document struct {
	Components []ComponentSpec `json:"components"`
}

// ReadDocument decodes a models document.
func ReadDocument(r io.Reader) (Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("failed to parse models document: %w", err)
	}
	return doc, nil
}

// LoadDocument reads a models document from path.
func LoadDocument(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to open models file: %w", err)
	}
	defer f.Close()
	return ReadDocument(f)
}

// Write encodes the document as indented JSON.
func (d Document) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// ModelsToDocument serialises sky and background models. Components that
// serialise identically are written once.
func ModelsToDocument(skyModels []SkyModel, backgrounds []BackgroundModel, sel Selection) Document {
	doc := Document{Components: []ComponentSpec{}}
	add := func(c ComponentSpec) {
		for _, existing := range doc.Components {
			if reflect.DeepEqual(existing, c) {
				return
			}
		}
		doc.Components = append(doc.Components, c)
	}
	for _, m := range skyModels {
		add(skyModelToSpec(m, sel))
	}
	for _, b := range backgrounds {
		add(ComponentSpec{
			Name: b.Name,
			ID:   b.ID,
			Model: &ModelSpec{Type: TypeBackground, Parameters: []Parameter{
				param(sel, "norm", b.Norm, units.Dimensionless, false),
				param(sel, "tilt", b.Tilt, units.Dimensionless, true),
				param(sel, "reference", b.Reference, units.TeV, true),
			}},
		})
	}
	return doc
}

func param(sel Selection, name string, value float64, unit string, frozen bool) Parameter {
	p := Parameter{Name: name, Value: value, Unit: unit}
	if sel == SelectionAll {
		p.Frozen = &frozen
	}
	return p
}

func skyModelToSpec(m SkyModel, sel Selection) ComponentSpec {
	sp := &ModelSpec{Type: m.Spatial.Kind.String(), Parameters: []Parameter{
		param(sel, "lon_0", m.Spatial.Lon, units.Deg, false),
		param(sel, "lat_0", m.Spatial.Lat, units.Deg, false),
	}}
	switch m.Spatial.Kind {
	case SpatialGaussian:
		sp.Parameters = append(sp.Parameters, param(sel, "sigma", m.Spatial.Sigma, units.Deg, false))
	case SpatialDisk:
		sp.Parameters = append(sp.Parameters, param(sel, "r_0", m.Spatial.Radius, units.Deg, false))
	case SpatialTemplate:
		sp.Parameters = []Parameter{param(sel, "norm", 1, units.Dimensionless, true)}
		sp.Filename = m.Spatial.Filename
	}

	s := m.Spectral
	spec := &ModelSpec{Type: s.Kind.String()}
	switch s.Kind {
	case SpectralPowerLaw:
		spec.Parameters = []Parameter{param(sel, "index", s.Index, units.Dimensionless, false)}
	case SpectralLogParabola:
		spec.Parameters = []Parameter{
			param(sel, "alpha", s.Alpha, units.Dimensionless, false),
			param(sel, "beta", s.Beta, units.Dimensionless, false),
		}
	case SpectralExpCutoffPowerLaw:
		spec.Parameters = []Parameter{
			param(sel, "index", s.Index, units.Dimensionless, false),
			param(sel, "lambda_", s.Lambda, units.TeV+"-1", false),
		}
	}
	spec.Parameters = append(spec.Parameters,
		param(sel, "amplitude", s.Amplitude, units.DifferentialFluxUnit, false),
		param(sel, "reference", s.Reference, units.TeV, true),
	)
	return ComponentSpec{Name: m.Name, Spatial: sp, Spectral: spec}
}

// DocumentToModels decodes the sky models of a document. Background
// components are skipped; any other non-sky component is an error.
// Templates are resolved through cache, which may be nil when the
// document holds no template models.
func DocumentToModels(doc Document, cache *TemplateCache) ([]SkyModel, error) {
	var out []SkyModel
	for _, c := range doc.Components {
		if c.Model != nil {
			if c.Model.Type == TypeBackground {
				continue
			}
			return nil, fmt.Errorf("%w: %q of type %q", ErrUnsupportedComponent, c.Name, c.Model.Type)
		}
		if c.Spatial == nil || c.Spectral == nil {
			return nil, fmt.Errorf("%w: %q has no spatial or spectral model", ErrUnsupportedComponent, c.Name)
		}
		m, err := specToSkyModel(c, cache)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func specToSkyModel(c ComponentSpec, cache *TemplateCache) (SkyModel, error) {
	kind, err := ParseSpatialKind(c.Spatial.Type)
	if err != nil {
		return SkyModel{}, fmt.Errorf("component %q: %w", c.Name, err)
	}
	sp := params(c.Spatial.Parameters)
	var spatial SpatialModel
	if kind == SpatialTemplate {
		if c.Spatial.Filename == "" {
			return SkyModel{}, fmt.Errorf("component %q: template model needs a filename", c.Name)
		}
		if cache == nil {
			return SkyModel{}, fmt.Errorf("component %q: no template cache for %s", c.Name, c.Spatial.Filename)
		}
		// templates are cached per component name
		img, err := cache.Get(c.Name, c.Spatial.Filename)
		if err != nil {
			return SkyModel{}, fmt.Errorf("component %q: %w", c.Name, err)
		}
		spatial = Template(c.Spatial.Filename, img)
	} else {
		spatial = SpatialModel{Kind: kind}
		if spatial.Lon, err = sp.angle("lon_0"); err != nil {
			return SkyModel{}, fmt.Errorf("component %q: %w", c.Name, err)
		}
		if spatial.Lat, err = sp.angle("lat_0"); err != nil {
			return SkyModel{}, fmt.Errorf("component %q: %w", c.Name, err)
		}
		switch kind {
		case SpatialGaussian:
			spatial.Sigma, err = sp.angle("sigma")
		case SpatialDisk:
			spatial.Radius, err = sp.angle("r_0")
		}
		if err != nil {
			return SkyModel{}, fmt.Errorf("component %q: %w", c.Name, err)
		}
	}

	skind, err := ParseSpectralKind(c.Spectral.Type)
	if err != nil {
		return SkyModel{}, fmt.Errorf("component %q: %w", c.Name, err)
	}
	pp := params(c.Spectral.Parameters)
	spectral := SpectralModel{Kind: skind}
	var errs []error
	spectral.Amplitude, err = pp.perEnergy("amplitude")
	errs = append(errs, err)
	spectral.Reference, err = pp.energy("reference")
	errs = append(errs, err)
	switch skind {
	case SpectralPowerLaw:
		spectral.Index, err = pp.plain("index")
		errs = append(errs, err)
	case SpectralLogParabola:
		spectral.Alpha, err = pp.plain("alpha")
		errs = append(errs, err)
		spectral.Beta, err = pp.plain("beta")
		errs = append(errs, err)
	case SpectralExpCutoffPowerLaw:
		spectral.Index, err = pp.plain("index")
		errs = append(errs, err)
		spectral.Lambda, err = pp.perEnergy("lambda_")
		errs = append(errs, err)
	}
	for _, e := range errs {
		if e != nil {
			return SkyModel{}, fmt.Errorf("component %q: %w", c.Name, e)
		}
	}

	m := SkyModel{Name: c.Name, Spatial: spatial, Spectral: spectral}
	if err := m.Validate(); err != nil {
		return SkyModel{}, err
	}
	return m, nil
}

// LinkBackgrounds returns the background components that apply to the
// named dataset: those with id "global", "local" or the dataset name.
// Global components with the same name share one parameter set, taken
// from their first occurrence.
func LinkBackgrounds(doc Document, datasetName string) ([]BackgroundModel, error) {
	global := make(map[string]BackgroundModel)
	var out []BackgroundModel
	for _, c := range doc.Components {
		if c.Model == nil || c.Model.Type != TypeBackground {
			continue
		}
		if c.ID != BackgroundGlobal && c.ID != BackgroundLocal && c.ID != datasetName {
			continue
		}
		if c.Filename != "" {
			return nil, fmt.Errorf("%w: file-based background %q", ErrUnsupportedComponent, c.Name)
		}
		if c.ID == BackgroundGlobal {
			if b, ok := global[c.Name]; ok {
				out = append(out, b)
				continue
			}
		}
		b, err := specToBackground(c)
		if err != nil {
			return nil, err
		}
		if c.ID == BackgroundGlobal {
			b.ID = BackgroundGlobal
			global[c.Name] = b
		} else {
			b.ID = datasetName
		}
		out = append(out, b)
	}
	return out, nil
}

func specToBackground(c ComponentSpec) (BackgroundModel, error) {
	p := params(c.Model.Parameters)
	b := BackgroundModel{Name: strings.TrimSpace(c.Name), Norm: 1, Reference: 1}
	if _, ok := p["norm"]; ok {
		b.Norm, _ = p.plain("norm")
	}
	if _, ok := p["tilt"]; ok {
		b.Tilt, _ = p.plain("tilt")
	}
	if _, ok := p["reference"]; ok {
		ref, err := p.energy("reference")
		if err != nil {
			return BackgroundModel{}, fmt.Errorf("background %q: %w", c.Name, err)
		}
		b.Reference = ref
	}
	return b, nil
}

type paramSet map[string]Parameter

func params(ps []Parameter) paramSet {
	out := make(paramSet, len(ps))
	for _, p := range ps {
		out[p.Name] = p
	}
	return out
}

func (s paramSet) get(name string) (Parameter, error) {
	p, ok := s[name]
	if !ok {
		return Parameter{}, fmt.Errorf("missing parameter %q", name)
	}
	return p, nil
}

func (s paramSet) plain(name string) (float64, error) {
	p, err := s.get(name)
	return p.Value, err
}

func (s paramSet) angle(name string) (float64, error) {
	p, err := s.get(name)
	if err != nil {
		return 0, err
	}
	unit := p.Unit
	if unit == "" {
		unit = units.Deg
	}
	return units.ConvertAngle(p.Value, unit, units.Deg)
}

func (s paramSet) energy(name string) (float64, error) {
	p, err := s.get(name)
	if err != nil {
		return 0, err
	}
	unit := p.Unit
	if unit == "" {
		unit = units.TeV
	}
	return units.ConvertEnergy(p.Value, unit, units.TeV)
}

// perEnergy converts a value whose unit ends in an inverse energy (for
// example "cm-2 s-1 GeV-1" or "TeV-1") to per TeV.
func (s paramSet) perEnergy(name string) (float64, error) {
	p, err := s.get(name)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(p.Unit)
	if len(fields) == 0 {
		return p.Value, nil
	}
	last := strings.TrimSuffix(fields[len(fields)-1], "-1")
	if !units.IsValidEnergyUnit(last) {
		return p.Value, nil
	}
	f, err := units.InverseEnergyScale(last)
	if err != nil {
		return 0, err
	}
	return p.Value * f, nil
}
