// Package evaluate scores catalogue candidates: it prunes the parent
// structure for an occupancy vector, refines the result against the
// experimental profile and reports the R-factor.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/nanofit/internal/catalogue"
	"github.com/banshee-data/nanofit/internal/errs"
	"github.com/banshee-data/nanofit/internal/fit"
	"github.com/banshee-data/nanofit/internal/fsutil"
	"github.com/banshee-data/nanofit/internal/monitoring"
	"github.com/banshee-data/nanofit/internal/plotting"
	"github.com/banshee-data/nanofit/internal/profile"
	"github.com/banshee-data/nanofit/internal/structure"
)

// Fitter refines one candidate. *fit.Orchestrator implements it.
type Fitter interface {
	Fit(ctx context.Context, cand *structure.Candidate, prof *profile.Profile) (*fit.Result, error)
}

// Options control per-candidate behaviour.
type Options struct {
	// Threshold is the bonding distance in Å used for pruning.
	Threshold float64
	// Verbose keeps the full fit.Result on each outcome.
	Verbose bool
	// PlotDir, when set, receives one fit PNG per successful candidate.
	PlotDir string
	// FS is used for plot output; nil means the OS filesystem.
	FS fsutil.FileSystem
}

// Evaluator holds the read-only inputs shared by every evaluation.
type Evaluator struct {
	Parent    *structure.Parent
	Profile   *profile.Profile
	Catalogue *catalogue.Catalogue
	Fitter    Fitter
	Options   Options
}

// Outcome is the score of one catalogue index.
type Outcome struct {
	Index         int                       `json:"index"`
	Vector        catalogue.OccupancyVector `json:"vector"`
	MetalCount    int                       `json:"metal_count"`
	NonMetalCount int                       `json:"nonmetal_count"`
	RFactor       float64                   `json:"r_factor"`
	Status        string                    `json:"status"`
	Err           error                     `json:"-"`
	Result        *fit.Result               `json:"result,omitempty"`
	PlotPath      string                    `json:"plot_path,omitempty"`
	Duration      time.Duration             `json:"duration"`
}

// OK reports whether the outcome carries an R-factor.
func (o *Outcome) OK() bool {
	return o != nil && o.Err == nil
}

// Evaluate scores the candidate at index. Any failure, including a
// degenerate candidate, is returned as an error and never as an R-factor.
func (e *Evaluator) Evaluate(ctx context.Context, index int) (*Outcome, error) {
	out, err := e.evaluate(ctx, index)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// evaluate always returns an outcome once the index resolves so batch runs
// can record failures.
func (e *Evaluator) evaluate(ctx context.Context, index int) (*Outcome, error) {
	if e.Catalogue == nil || e.Parent == nil || e.Fitter == nil {
		return nil, fmt.Errorf("evaluator is missing catalogue, parent or fitter: %w", errs.ErrConfiguration)
	}
	vec, err := e.Catalogue.At(index)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out := &Outcome{Index: index, Vector: vec}
	fail := func(err error) (*Outcome, error) {
		out.Err = err
		out.Status = errs.Kind(err)
		out.Duration = time.Since(start)
		return out, err
	}

	cand, err := structure.Prune(e.Parent, vec, e.Options.Threshold)
	if err != nil {
		return fail(err)
	}
	out.MetalCount = len(cand.Metals)
	out.NonMetalCount = len(cand.NonMetals)

	res, err := e.Fitter.Fit(ctx, cand, e.Profile)
	if err != nil {
		return fail(fmt.Errorf("candidate %d: %w", index, err))
	}
	out.RFactor = res.RFactor
	out.Status = errs.Kind(nil)
	if e.Options.Verbose || e.Options.PlotDir != "" {
		out.Result = res
	}
	if e.Options.PlotDir != "" {
		fsys := e.Options.FS
		if fsys == nil {
			fsys = fsutil.OSFileSystem{}
		}
		path, err := plotting.WriteFit(fsys, e.Options.PlotDir, index, res)
		if err != nil {
			return fail(fmt.Errorf("failed to plot candidate %d: %w", index, err))
		}
		out.PlotPath = path
	}
	out.Duration = time.Since(start)
	monitoring.Debugf("candidate %d: %d metal, %d non-metal, R=%.5f (%s, %d iterations, %v)",
		index, out.MetalCount, out.NonMetalCount, out.RFactor, res.Status, res.Iterations, out.Duration)
	return out, nil
}

// recordable reports whether a per-candidate error belongs on the outcome
// rather than aborting a batch.
func recordable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, errs.ErrConfiguration), errors.Is(err, errs.ErrData):
		return false
	}
	return true
}
