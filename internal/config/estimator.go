// Package config loads TS map estimator settings from JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/tsmap/internal/models"
	"github.com/banshee-data/tsmap/internal/tsmap"
	"github.com/banshee-data/tsmap/internal/units"
)

// DefaultConfigPath is the path to the canonical estimator defaults file.
const DefaultConfigPath = "config/tsmap.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// EstimatorConfig is the on-disk estimator configuration. Every field is
// optional; the Get* accessors fall back to the estimator defaults.
type EstimatorConfig struct {
	// Model names the component of ModelsFile used as the kernel model.
	// Empty selects the first sky model in the document.
	Model      *string `json:"model,omitempty"`
	ModelsFile *string `json:"models_file,omitempty"`

	KernelWidth         *string   `json:"kernel_width,omitempty"` // angle like "0.2 deg" or "30 arcmin"
	DownsamplingFactor  *int      `json:"downsampling_factor,omitempty"`
	EnergyEdges         []float64 `json:"energy_edges,omitempty"`
	EnergyUnit          *string   `json:"energy_unit,omitempty"`
	SumOverEnergyGroups *bool     `json:"sum_over_energy_groups,omitempty"`

	// Threshold skips the fit of pixels whose initial TS is below it.
	Threshold         *float64  `json:"threshold,omitempty"`
	SelectionOptional *[]string `json:"selection_optional,omitempty"`
	NSigma            *float64  `json:"n_sigma,omitempty"`
	NSigmaUL          *float64  `json:"n_sigma_ul,omitempty"`
	RTol              *float64  `json:"rtol,omitempty"`
	MaxIter           *int      `json:"max_niter,omitempty"`
	NJobs             *int      `json:"n_jobs,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyEstimatorConfig returns a config with every field unset.
func EmptyEstimatorConfig() *EstimatorConfig {
	return &EstimatorConfig{}
}

// LoadEstimatorConfig loads and validates a config from a JSON file.
// Omitted fields keep their defaults.
func LoadEstimatorConfig(path string) (*EstimatorConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyEstimatorConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// models_file is relative to the config file.
	if cfg.ModelsFile != nil && *cfg.ModelsFile != "" && !filepath.IsAbs(*cfg.ModelsFile) {
		cfg.ModelsFile = ptrString(filepath.Join(filepath.Dir(cleanPath), *cfg.ModelsFile))
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. It panics when the file cannot be loaded and is
// intended for tests.
func MustLoadDefaultConfig() *EstimatorConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadEstimatorConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *EstimatorConfig) Validate() error {
	if c.KernelWidth != nil {
		w, err := units.ParseAngle(*c.KernelWidth)
		if err != nil {
			return fmt.Errorf("invalid kernel_width: %w", err)
		}
		if !(w > 0) {
			return fmt.Errorf("kernel_width must be positive, got %q", *c.KernelWidth)
		}
	}
	if c.DownsamplingFactor != nil && *c.DownsamplingFactor < 1 {
		return fmt.Errorf("downsampling_factor must be >= 1, got %d", *c.DownsamplingFactor)
	}
	if c.EnergyUnit != nil && !units.IsValidEnergyUnit(*c.EnergyUnit) {
		return fmt.Errorf("invalid energy_unit %q (valid: %s)", *c.EnergyUnit, units.GetValidEnergyUnitsString())
	}
	if len(c.EnergyEdges) == 1 {
		return fmt.Errorf("energy_edges needs at least two values")
	}
	for i := 1; i < len(c.EnergyEdges); i++ {
		if !(c.EnergyEdges[i] > c.EnergyEdges[i-1]) {
			return fmt.Errorf("energy_edges must be strictly increasing, got %v", c.EnergyEdges)
		}
	}
	if c.Threshold != nil && math.IsNaN(*c.Threshold) {
		return fmt.Errorf("threshold must be a number")
	}
	if c.SelectionOptional != nil {
		for _, s := range *c.SelectionOptional {
			if s != tsmap.SelectionErrNP && s != tsmap.SelectionUL {
				return fmt.Errorf("unknown selection_optional entry %q (valid: %v)", s, tsmap.AllSelections)
			}
		}
	}
	if c.NSigma != nil && !(*c.NSigma > 0) {
		return fmt.Errorf("n_sigma must be positive, got %f", *c.NSigma)
	}
	if c.NSigmaUL != nil && !(*c.NSigmaUL > 0) {
		return fmt.Errorf("n_sigma_ul must be positive, got %f", *c.NSigmaUL)
	}
	if c.RTol != nil && !(*c.RTol > 0) {
		return fmt.Errorf("rtol must be positive, got %f", *c.RTol)
	}
	if c.MaxIter != nil && *c.MaxIter < 1 {
		return fmt.Errorf("max_niter must be >= 1, got %d", *c.MaxIter)
	}
	if c.NJobs != nil && *c.NJobs < 0 {
		return fmt.Errorf("n_jobs must be non-negative, got %d", *c.NJobs)
	}
	if c.Model != nil && *c.Model != "" && (c.ModelsFile == nil || *c.ModelsFile == "") {
		return fmt.Errorf("model %q given without models_file", *c.Model)
	}
	return nil
}

// GetKernelWidth returns the kernel width in degrees.
func (c *EstimatorConfig) GetKernelWidth() float64 {
	if c.KernelWidth == nil {
		return tsmap.DefaultKernelWidth
	}
	w, err := units.ParseAngle(*c.KernelWidth)
	if err != nil || !(w > 0) {
		return tsmap.DefaultKernelWidth
	}
	return w
}

// GetDownsamplingFactor returns the downsampling factor or 1.
func (c *EstimatorConfig) GetDownsamplingFactor() int {
	if c.DownsamplingFactor == nil {
		return 1
	}
	return *c.DownsamplingFactor
}

// GetEnergyUnit returns the unit of EnergyEdges, TeV by default.
func (c *EstimatorConfig) GetEnergyUnit() string {
	if c.EnergyUnit == nil {
		return units.TeV
	}
	return *c.EnergyUnit
}

func (c *EstimatorConfig) GetSumOverEnergyGroups() bool {
	if c.SumOverEnergyGroups == nil {
		return true
	}
	return *c.SumOverEnergyGroups
}

// GetSelectionOptional returns the optional quantities to compute; nil
// means all of them.
func (c *EstimatorConfig) GetSelectionOptional() []string {
	if c.SelectionOptional == nil {
		return nil
	}
	return append([]string{}, *c.SelectionOptional...)
}

func (c *EstimatorConfig) GetNSigma() float64 {
	if c.NSigma == nil {
		return tsmap.DefaultNSigma
	}
	return *c.NSigma
}

func (c *EstimatorConfig) GetNSigmaUL() float64 {
	if c.NSigmaUL == nil {
		return tsmap.DefaultNSigmaUL
	}
	return *c.NSigmaUL
}

func (c *EstimatorConfig) GetRTol() float64 {
	if c.RTol == nil {
		return tsmap.DefaultRTol
	}
	return *c.RTol
}

func (c *EstimatorConfig) GetMaxIter() int {
	if c.MaxIter == nil {
		return tsmap.DefaultMaxIter
	}
	return *c.MaxIter
}

// GetNJobs returns the worker count; 0 uses every CPU.
func (c *EstimatorConfig) GetNJobs() int {
	if c.NJobs == nil {
		return 0
	}
	return *c.NJobs
}

// LoadModel resolves the kernel model. Without a models file the default
// point source is returned. Templates are read through cache.
func (c *EstimatorConfig) LoadModel(cache *models.TemplateCache) (models.SkyModel, error) {
	if c.ModelsFile == nil || *c.ModelsFile == "" {
		return models.DefaultSkyModel(), nil
	}
	doc, err := models.LoadDocument(*c.ModelsFile)
	if err != nil {
		return models.SkyModel{}, err
	}
	sky, err := models.DocumentToModels(doc, cache)
	if err != nil {
		return models.SkyModel{}, err
	}
	if len(sky) == 0 {
		return models.SkyModel{}, fmt.Errorf("%s holds no sky models", *c.ModelsFile)
	}
	if c.Model == nil || *c.Model == "" {
		return sky[0], nil
	}
	for _, m := range sky {
		if m.Name == *c.Model {
			return m, nil
		}
	}
	return models.SkyModel{}, fmt.Errorf("model %q not found in %s", *c.Model, *c.ModelsFile)
}

// LoadBackgrounds returns the background components of the models file
// that apply to the dataset named datasetName, in document order. It
// returns nil when no models file is configured.
func (c *EstimatorConfig) LoadBackgrounds(datasetName string) ([]models.BackgroundModel, error) {
	if c.ModelsFile == nil || *c.ModelsFile == "" {
		return nil, nil
	}
	doc, err := models.LoadDocument(*c.ModelsFile)
	if err != nil {
		return nil, err
	}
	bkgs, err := models.LinkBackgrounds(doc, datasetName)
	if err != nil {
		return nil, err
	}
	for _, b := range bkgs {
		if !(b.Norm > 0) || math.IsInf(b.Norm, 0) {
			return nil, fmt.Errorf("background %q: norm must be positive and finite, got %g", b.Name, b.Norm)
		}
	}
	return bkgs, nil
}

// Estimator builds an estimator from the config.
func (c *EstimatorConfig) Estimator(cache *models.TemplateCache) (*tsmap.Estimator, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	model, err := c.LoadModel(cache)
	if err != nil {
		return nil, err
	}
	e := tsmap.NewEstimator()
	e.Model = model
	e.KernelWidth = c.GetKernelWidth()
	e.DownsamplingFactor = c.GetDownsamplingFactor()
	if len(c.EnergyEdges) > 0 {
		e.EnergyEdges = append([]float64{}, c.EnergyEdges...)
		e.EnergyUnit = c.GetEnergyUnit()
	}
	e.SumOverEnergyGroups = c.GetSumOverEnergyGroups()
	if c.Threshold != nil {
		e.Threshold = ptrFloat64(*c.Threshold)
	}
	e.SelectionOptional = c.GetSelectionOptional()
	e.NSigma = c.GetNSigma()
	e.NSigmaUL = c.GetNSigmaUL()
	e.RTol = c.GetRTol()
	e.MaxIter = c.GetMaxIter()
	e.NJobs = c.GetNJobs()
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}
