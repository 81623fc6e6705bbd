package fit

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/nanofit/internal/config"
	"github.com/banshee-data/nanofit/internal/errs"
	"github.com/banshee-data/nanofit/internal/profile"
	"github.com/banshee-data/nanofit/internal/structure"
)

// Settings are the per-run refinement inputs that do not depend on the
// candidate.
type Settings struct {
	RMin, RMax      float64
	MetalElement    string
	NonMetalElement string
	BisoMetal       float64
	BisoNonMetal    float64
	Delta2          float64
	Zoom            Restraint
	FreeTags        []string
}

// SettingsFromConfig reads refinement settings from cfg.
func SettingsFromConfig(cfg *config.FitConfig) Settings {
	return Settings{
		RMin:            cfg.GetRMin(),
		RMax:            cfg.GetRMax(),
		MetalElement:    cfg.GetMetalElement(),
		NonMetalElement: cfg.GetNonMetalElement(),
		BisoMetal:       cfg.GetBisoMetal(),
		BisoNonMetal:    cfg.GetBisoNonMetal(),
		Delta2:          cfg.GetDelta2(),
		Zoom: Restraint{
			Lower: cfg.GetZoomLower(),
			Upper: cfg.GetZoomUpper(),
			Sigma: cfg.GetZoomSigma(),
		},
		FreeTags: cfg.GetFreeTags(),
	}
}

// Spec builds the starting parameter set with the fix-all, free-by-tag
// policy applied. Displacement parameters stay fixed unless their tags are
// listed in FreeTags.
func (s Settings) Spec() Spec {
	params := []Parameter{
		{Name: ParamScale, Tag: TagScale, Value: 1.0},
	}
	for _, name := range ZoomParams {
		zoom := s.Zoom
		params = append(params, Parameter{Name: name, Tag: TagLattice, Value: 1.0, Restraint: &zoom})
	}
	params = append(params,
		Parameter{Name: ParamDelta2, Tag: TagDelta2, Value: s.Delta2},
		Parameter{Name: BisoParam(s.MetalElement), Tag: TagADPMetal, Value: s.BisoMetal},
		Parameter{Name: BisoParam(s.NonMetalElement), Tag: TagADPNonMetal, Value: s.BisoNonMetal},
	)
	return Spec{Parameters: params}.FixAll().Free(s.FreeTags...)
}

// Validate checks the fit window and restraint.
func (s Settings) Validate() error {
	if !(s.RMax > s.RMin) {
		return fmt.Errorf("fit range [%v, %v] is empty: %w", s.RMin, s.RMax, errs.ErrConfiguration)
	}
	if s.MetalElement == "" || s.NonMetalElement == "" {
		return fmt.Errorf("metal and non-metal elements must be named: %w", errs.ErrConfiguration)
	}
	return s.Zoom.Validate()
}

// Result is the outcome of one refinement, aligned to the restricted r grid.
type Result struct {
	R          []float64 `json:"r"`
	GObs       []float64 `json:"g_obs"`
	GCalc      []float64 `json:"g_calc"`
	GDiff      []float64 `json:"g_diff"`
	Baseline   float64   `json:"baseline"`
	RFactor    float64   `json:"r_factor"`
	Parameters Spec      `json:"parameters"`
	Iterations int       `json:"iterations"`
	Status     string    `json:"status"`
}

// Orchestrator runs one refinement per call and keeps no state between
// calls, so one value may be shared by concurrent goroutines as long as the
// engine allows it.
type Orchestrator struct {
	Engine   Engine
	Settings Settings
}

// Fit refines cand against prof and scores the result.
func (o *Orchestrator) Fit(ctx context.Context, cand *structure.Candidate, prof *profile.Profile) (*Result, error) {
	if cand == nil || cand.Degenerate() {
		var nm, nn int
		if cand != nil {
			nm, nn = len(cand.Metals), len(cand.NonMetals)
		}
		return nil, fmt.Errorf("candidate has %d metal and %d non-metal atoms: %w", nm, nn, errs.ErrDegenerateStructure)
	}
	if err := o.Settings.Validate(); err != nil {
		return nil, err
	}
	if prof == nil {
		return nil, fmt.Errorf("no experimental profile: %w", errs.ErrData)
	}
	window, err := prof.CalculationRange(o.Settings.RMin, o.Settings.RMax)
	if err != nil {
		return nil, err
	}

	cluster, err := o.Engine.BuildStructure(cand.Metals, cand.NonMetals)
	if err != nil {
		return nil, fmt.Errorf("failed to build cluster: %w", err)
	}

	start := o.Settings.Spec()
	weights := window.Weights()
	var simErr error
	cost := func(s Spec) float64 {
		g, err := o.Engine.Simulate(cluster, s, window.R)
		if err != nil {
			if simErr == nil {
				simErr = err
			}
			return math.Inf(1)
		}
		return residual(window.G, g, weights, s.ValueOr(ParamScale, 1)) + s.Penalty()
	}

	mz, err := o.Engine.Minimize(ctx, start, cost)
	// A failed simulation makes the cost infinite, and the minimizer then
	// reports that instead of the cause.
	if simErr != nil {
		return nil, fmt.Errorf("failed to simulate G(r): %w", simErr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to refine candidate: %w", err)
	}
	fitted := mz.Spec
	if !fitted.Finite() {
		return nil, fmt.Errorf("refined parameters %v: %w", fitted.Values(), errs.ErrFitDivergence)
	}

	g, err := o.Engine.Simulate(cluster, fitted, window.R)
	if err != nil {
		return nil, fmt.Errorf("failed to simulate G(r): %w", err)
	}
	scale := fitted.ValueOr(ParamScale, 1)
	gcalc := make([]float64, len(g))
	gdiff := make([]float64, len(g))
	for i := range g {
		gcalc[i] = scale * g[i]
		if math.IsNaN(gcalc[i]) || math.IsInf(gcalc[i], 0) {
			return nil, fmt.Errorf("simulated G(%v) = %v: %w", window.R[i], gcalc[i], errs.ErrFitDivergence)
		}
		gdiff[i] = window.G[i] - gcalc[i]
	}

	rf, err := RFactor(window.G, gcalc)
	if err != nil {
		return nil, err
	}
	return &Result{
		R:          window.R,
		GObs:       window.G,
		GCalc:      gcalc,
		GDiff:      gdiff,
		Baseline:   window.Baseline(),
		RFactor:    rf,
		Parameters: fitted,
		Iterations: mz.Iterations,
		Status:     mz.Status,
	}, nil
}

// residual is the squared misfit between g and scale*gsim, each point
// weighted by w when w is non-nil. Mismatched lengths score +Inf.
func residual(g, gsim, w []float64, scale float64) float64 {
	if len(g) != len(gsim) || (w != nil && len(w) != len(g)) {
		return math.Inf(1)
	}
	var sum float64
	for i := range g {
		d := g[i] - scale*gsim[i]
		if w != nil {
			sum += w[i] * d * d
			continue
		}
		sum += d * d
	}
	return sum
}
