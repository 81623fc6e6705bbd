package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/banshee-data/nanofit/internal/errs"
)

// DefaultConfigPath is the path to the canonical fit defaults file.
const DefaultConfigPath = "config/fit.defaults.json"

// Optimizer names accepted by the optimizer key.
const (
	OptimizerLBFGS      = "lbfgs"
	OptimizerNelderMead = "neldermead"
)

// FitConfig holds the instrument, pruning, refinement and catalogue settings
// for an exploration run. Every field is optional; the Get* accessors supply
// defaults so partial files are safe.
type FitConfig struct {
	// Instrument (fixed during refinement)
	QMin   *float64 `json:"q_min,omitempty"`
	QMax   *float64 `json:"q_max,omitempty"`
	QDamp  *float64 `json:"q_damp,omitempty"`
	QBroad *float64 `json:"q_broad,omitempty"`

	// Fit window in Å
	RMin *float64 `json:"r_min,omitempty"`
	RMax *float64 `json:"r_max,omitempty"`

	// Parent structure layout and pruning
	MetalCount      *int     `json:"metal_count,omitempty"`
	Threshold       *float64 `json:"threshold,omitempty"`
	MetalElement    *string  `json:"metal_element,omitempty"`
	NonMetalElement *string  `json:"nonmetal_element,omitempty"`

	// Refinement starting values and restraints
	BisoMetal    *float64 `json:"biso_metal,omitempty"`
	BisoNonMetal *float64 `json:"biso_nonmetal,omitempty"`
	Delta2       *float64 `json:"delta2,omitempty"`
	ZoomLower    *float64 `json:"zoom_lower,omitempty"`
	ZoomUpper    *float64 `json:"zoom_upper,omitempty"`
	ZoomSigma    *float64 `json:"zoom_sigma,omitempty"`
	FreeTags     []string `json:"free_tags,omitempty"`

	// Minimiser
	Optimizer     *string `json:"optimizer,omitempty"`
	MaxIterations *int    `json:"max_iterations,omitempty"`

	// Catalogue generation
	CatalogueCount  *int    `json:"catalogue_count,omitempty"`
	CatalogueLower  *int    `json:"catalogue_lower,omitempty"`
	CatalogueUpper  *int    `json:"catalogue_upper,omitempty"`
	CatalogueSeed   *uint64 `json:"catalogue_seed,omitempty"`
	CatalogueUnique *bool   `json:"catalogue_unique,omitempty"`

	// Batch evaluation
	Workers *int `json:"workers,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }

// EmptyFitConfig returns a FitConfig with all fields set to nil.
func EmptyFitConfig() *FitConfig {
	return &FitConfig{}
}

// LoadFitConfig loads a FitConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadFitConfig(path string) (*FitConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseFitConfig(data)
}

// ParseFitConfig decodes and validates a JSON document.
func ParseFitConfig(data []byte) (*FitConfig, error) {
	cfg := EmptyFitConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w: %w", errs.ErrConfiguration, err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file cannot
// be loaded, intended for test setup.
func MustLoadDefaultConfig() *FitConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadFitConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *FitConfig) Validate() error {
	if c.GetQMin() < 0 {
		return fmt.Errorf("q_min must be non-negative, got %f", c.GetQMin())
	}
	if c.GetQMax() <= c.GetQMin() {
		return fmt.Errorf("q_max (%f) must exceed q_min (%f)", c.GetQMax(), c.GetQMin())
	}
	if c.GetQDamp() < 0 || c.GetQBroad() < 0 {
		return fmt.Errorf("q_damp and q_broad must be non-negative")
	}
	if c.GetRMin() < 0 || c.GetRMax() <= c.GetRMin() {
		return fmt.Errorf("fit range must satisfy 0 <= r_min < r_max, got [%f, %f]", c.GetRMin(), c.GetRMax())
	}
	if c.GetMetalCount() < 0 {
		return fmt.Errorf("metal_count must be non-negative, got %d", c.GetMetalCount())
	}
	if c.GetThreshold() <= 0 {
		return fmt.Errorf("threshold must be positive, got %f", c.GetThreshold())
	}
	if c.GetMetalElement() == "" || c.GetNonMetalElement() == "" {
		return fmt.Errorf("metal_element and nonmetal_element must be set")
	}
	if c.GetBisoMetal() < 0 || c.GetBisoNonMetal() < 0 {
		return fmt.Errorf("biso values must be non-negative")
	}
	if c.GetZoomLower() > c.GetZoomUpper() {
		return fmt.Errorf("zoom_lower (%f) exceeds zoom_upper (%f)", c.GetZoomLower(), c.GetZoomUpper())
	}
	if c.GetZoomSigma() <= 0 {
		return fmt.Errorf("zoom_sigma must be positive, got %f", c.GetZoomSigma())
	}
	switch c.GetOptimizer() {
	case OptimizerLBFGS, OptimizerNelderMead:
	default:
		return fmt.Errorf("unknown optimizer %q", c.GetOptimizer())
	}
	if c.GetMaxIterations() <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.GetMaxIterations())
	}
	if c.GetCatalogueCount() < 0 {
		return fmt.Errorf("catalogue_count must be non-negative, got %d", c.GetCatalogueCount())
	}
	if c.CatalogueLower != nil && c.CatalogueUpper != nil && *c.CatalogueLower > *c.CatalogueUpper {
		return fmt.Errorf("catalogue_lower (%d) exceeds catalogue_upper (%d)", *c.CatalogueLower, *c.CatalogueUpper)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	return nil
}

// GetQMin returns the q_min value or the default.
func (c *FitConfig) GetQMin() float64 {
	if c.QMin == nil {
		return 0.7
	}
	return *c.QMin
}

// GetQMax returns the q_max value or the default.
func (c *FitConfig) GetQMax() float64 {
	if c.QMax == nil {
		return 20.0
	}
	return *c.QMax
}

// GetQDamp returns the q_damp value or the default.
func (c *FitConfig) GetQDamp() float64 {
	if c.QDamp == nil {
		return 0.05
	}
	return *c.QDamp
}

// GetQBroad returns the q_broad value or the default.
func (c *FitConfig) GetQBroad() float64 {
	if c.QBroad == nil {
		return 0.01
	}
	return *c.QBroad
}

// GetRMin returns the r_min value or the default.
func (c *FitConfig) GetRMin() float64 {
	if c.RMin == nil {
		return 1.0
	}
	return *c.RMin
}

// GetRMax returns the r_max value or the default.
func (c *FitConfig) GetRMax() float64 {
	if c.RMax == nil {
		return 10.0
	}
	return *c.RMax
}

// GetMetalCount returns the metal_count value or the default.
func (c *FitConfig) GetMetalCount() int {
	if c.MetalCount == nil {
		return 64
	}
	return *c.MetalCount
}

// GetThreshold returns the bonding threshold in Å or the default.
func (c *FitConfig) GetThreshold() float64 {
	if c.Threshold == nil {
		return 2.5
	}
	return *c.Threshold
}

// GetMetalElement returns the metal species label or the default.
func (c *FitConfig) GetMetalElement() string {
	if c.MetalElement == nil {
		return "Ga"
	}
	return *c.MetalElement
}

// GetNonMetalElement returns the non-metal species label or the default.
func (c *FitConfig) GetNonMetalElement() string {
	if c.NonMetalElement == nil {
		return "O"
	}
	return *c.NonMetalElement
}

// GetBisoMetal returns the metal Biso starting value or the default.
func (c *FitConfig) GetBisoMetal() float64 {
	if c.BisoMetal == nil {
		return 0.4
	}
	return *c.BisoMetal
}

// GetBisoNonMetal returns the non-metal Biso starting value or the default.
func (c *FitConfig) GetBisoNonMetal() float64 {
	if c.BisoNonMetal == nil {
		return 0.4
	}
	return *c.BisoNonMetal
}

// GetDelta2 returns the delta2 peak-sharpening value or the default.
func (c *FitConfig) GetDelta2() float64 {
	if c.Delta2 == nil {
		return 0
	}
	return *c.Delta2
}

// GetZoomLower returns the lower zoomscale restraint bound or the default.
func (c *FitConfig) GetZoomLower() float64 {
	if c.ZoomLower == nil {
		return 0.99
	}
	return *c.ZoomLower
}

// GetZoomUpper returns the upper zoomscale restraint bound or the default.
func (c *FitConfig) GetZoomUpper() float64 {
	if c.ZoomUpper == nil {
		return 1.01
	}
	return *c.ZoomUpper
}

// GetZoomSigma returns the zoomscale restraint tolerance or the default.
func (c *FitConfig) GetZoomSigma() float64 {
	if c.ZoomSigma == nil {
		return 0.001
	}
	return *c.ZoomSigma
}

// GetFreeTags returns the parameter tags released before minimisation.
// Displacement parameters stay fixed unless a config names their tags.
func (c *FitConfig) GetFreeTags() []string {
	if len(c.FreeTags) == 0 {
		return []string{"scale", "lat"}
	}
	out := make([]string, len(c.FreeTags))
	for i, t := range c.FreeTags {
		out[i] = strings.TrimSpace(t)
	}
	return out
}

// GetOptimizer returns the minimiser name or the default.
func (c *FitConfig) GetOptimizer() string {
	if c.Optimizer == nil || *c.Optimizer == "" {
		return OptimizerLBFGS
	}
	return strings.ToLower(*c.Optimizer)
}

// GetMaxIterations returns the minimiser iteration cap or the default.
func (c *FitConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 200
	}
	return *c.MaxIterations
}

// GetCatalogueCount returns the number of candidates to generate or the default.
func (c *FitConfig) GetCatalogueCount() int {
	if c.CatalogueCount == nil {
		return 1000
	}
	return *c.CatalogueCount
}

// GetCatalogueLower returns the minimum occupied site count. Defaults to
// three quarters of the metal sites.
func (c *FitConfig) GetCatalogueLower() int {
	if c.CatalogueLower == nil {
		return c.GetMetalCount() * 3 / 4
	}
	return *c.CatalogueLower
}

// GetCatalogueUpper returns the maximum occupied site count. Defaults to
// every metal site.
func (c *FitConfig) GetCatalogueUpper() int {
	if c.CatalogueUpper == nil {
		return c.GetMetalCount()
	}
	return *c.CatalogueUpper
}

// GetCatalogueSeed returns the generator seed; nil means "pick one".
func (c *FitConfig) GetCatalogueSeed() (uint64, bool) {
	if c.CatalogueSeed == nil {
		return 0, false
	}
	return *c.CatalogueSeed, true
}

// GetCatalogueUnique reports whether duplicate vectors are rejected.
func (c *FitConfig) GetCatalogueUnique() bool {
	if c.CatalogueUnique == nil {
		return false
	}
	return *c.CatalogueUnique
}

// GetWorkers returns the batch worker count, defaulting to the CPU count.
func (c *FitConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return runtime.NumCPU()
	}
	return *c.Workers
}
