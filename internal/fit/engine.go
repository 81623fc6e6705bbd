package fit

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/nanofit/internal/config"
	"github.com/banshee-data/nanofit/internal/errs"
	"github.com/banshee-data/nanofit/internal/monitoring"
	"github.com/banshee-data/nanofit/internal/pdfcalc"
	"github.com/banshee-data/nanofit/internal/structure"
)

// Cluster is the non-periodic phase an engine simulates. The first
// MetalCount atoms are metals and the rest are non-metals, whatever their
// element labels.
type Cluster struct {
	Atoms      []structure.Atom
	MetalCount int
}

// ADPTag returns the displacement parameter tag of atom i's group.
func (c *Cluster) ADPTag(i int) string {
	if i < c.MetalCount {
		return TagADPMetal
	}
	return TagADPNonMetal
}

// Objective scores a parameter spec; lower is better.
type Objective func(Spec) float64

// Minimization describes how a minimize call ended.
type Minimization struct {
	Spec            Spec
	Iterations      int
	FuncEvaluations int
	Status          string
}

// Engine is the PDF simulation and refinement backend.
type Engine interface {
	// BuildStructure assembles a cluster from the retained metal and
	// non-metal atoms.
	BuildStructure(metals, nonMetals []structure.Atom) (*Cluster, error)

	// Simulate returns the unscaled G(r) of c under spec at every r.
	Simulate(c *Cluster, spec Spec, r []float64) ([]float64, error)

	// Minimize varies the free parameters of spec to minimise cost. Fixed
	// parameters are passed through unchanged.
	Minimize(ctx context.Context, spec Spec, cost Objective) (*Minimization, error)
}

// DebyeEngine simulates clusters with a pdfcalc.Calculator and refines with
// gonum optimize.
type DebyeEngine struct {
	Calculator    pdfcalc.Calculator
	Optimizer     string
	MaxIterations int
}

// NewDebyeEngine configures the instrument and minimiser from cfg.
func NewDebyeEngine(cfg *config.FitConfig) *DebyeEngine {
	return &DebyeEngine{
		Calculator: pdfcalc.Calculator{
			QMin:   cfg.GetQMin(),
			QMax:   cfg.GetQMax(),
			QDamp:  cfg.GetQDamp(),
			QBroad: cfg.GetQBroad(),
		},
		Optimizer:     cfg.GetOptimizer(),
		MaxIterations: cfg.GetMaxIterations(),
	}
}

// BuildStructure implements Engine.
func (e *DebyeEngine) BuildStructure(metals, nonMetals []structure.Atom) (*Cluster, error) {
	atoms := make([]structure.Atom, 0, len(metals)+len(nonMetals))
	atoms = append(atoms, metals...)
	atoms = append(atoms, nonMetals...)
	for _, a := range atoms {
		if _, ok := pdfcalc.ScatteringWeight(a.Element); !ok {
			return nil, fmt.Errorf("unknown element %q: %w", a.Element, errs.ErrData)
		}
	}
	return &Cluster{Atoms: atoms, MetalCount: len(metals)}, nil
}

// Simulate implements Engine. Zoom scales stretch the x, y and z
// coordinates. Each atom takes the Biso of its group's displacement
// parameter and the scattering weight of its own element.
func (e *DebyeEngine) Simulate(c *Cluster, spec Spec, r []float64) ([]float64, error) {
	zoom := r3.Vec{
		X: spec.ValueOr(ZoomParams[0], 1),
		Y: spec.ValueOr(ZoomParams[1], 1),
		Z: spec.ValueOr(ZoomParams[2], 1),
	}
	biso := make(map[string]float64, 2)
	sites := make([]pdfcalc.Site, len(c.Atoms))
	for i, a := range c.Atoms {
		tag := c.ADPTag(i)
		b, ok := biso[tag]
		if !ok {
			p, found := spec.ByTag(tag)
			if !found {
				return nil, fmt.Errorf("no %s displacement parameter: %w", tag, errs.ErrConfiguration)
			}
			b = p.Value
			biso[tag] = b
		}
		w, ok := pdfcalc.ScatteringWeight(a.Element)
		if !ok {
			return nil, fmt.Errorf("unknown element %q: %w", a.Element, errs.ErrData)
		}
		sites[i] = pdfcalc.Site{
			Pos:    r3.Vec{X: a.Pos.X * zoom.X, Y: a.Pos.Y * zoom.Y, Z: a.Pos.Z * zoom.Z},
			Biso:   b,
			Weight: w,
		}
	}
	calc := e.Calculator
	calc.Delta2 = spec.ValueOr(ParamDelta2, 0)
	return calc.Calculate(sites, r)
}

// Minimize implements Engine.
func (e *DebyeEngine) Minimize(ctx context.Context, spec Spec, cost Objective) (*Minimization, error) {
	x0 := spec.FreeValues()
	if len(x0) == 0 {
		return &Minimization{Spec: spec.Clone(), Status: "NoFreeParameters"}, nil
	}

	f := func(x []float64) float64 {
		s, err := spec.WithFree(x)
		if err != nil {
			return math.NaN()
		}
		return cost(s)
	}
	problem := optimize.Problem{Func: f}

	var method optimize.Method
	switch e.Optimizer {
	case config.OptimizerNelderMead:
		method = &optimize.NelderMead{}
	case config.OptimizerLBFGS, "":
		method = &optimize.LBFGS{}
		problem.Grad = func(grad, x []float64) {
			fd.Gradient(grad, f, x, &fd.Settings{Formula: fd.Central})
		}
	default:
		return nil, fmt.Errorf("unknown optimizer %q: %w", e.Optimizer, errs.ErrConfiguration)
	}

	settings := &optimize.Settings{
		MajorIterations: e.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-10,
			Iterations: 20,
		},
		Recorder: contextRecorder{ctx: ctx},
	}

	res, err := optimize.Minimize(problem, x0, settings, method)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if res == nil {
		return nil, fmt.Errorf("failed to minimize: %w", err)
	}
	status := res.Status.String()
	if err != nil {
		if !stalled(err) {
			return nil, fmt.Errorf("failed to minimize: %w", err)
		}
		// The line search could not improve further; the last location
		// is the best one found.
		monitoring.Debugf("minimizer stalled after %d iterations: %v", res.MajorIterations, err)
		status = "Stalled"
	}
	fitted, err := spec.WithFree(res.X)
	if err != nil {
		return nil, err
	}
	return &Minimization{
		Spec:            fitted,
		Iterations:      res.MajorIterations,
		FuncEvaluations: res.FuncEvaluations,
		Status:          status,
	}, nil
}

func stalled(err error) bool {
	return errors.Is(err, optimize.ErrLinesearcherFailure) ||
		errors.Is(err, optimize.ErrNoProgress) ||
		errors.Is(err, optimize.ErrNonDescentDirection)
}

// contextRecorder aborts a minimisation once ctx is done.
type contextRecorder struct {
	ctx context.Context
}

func (r contextRecorder) Init() error { return r.ctx.Err() }

func (r contextRecorder) Record(*optimize.Location, optimize.Operation, *optimize.Stats) error {
	return r.ctx.Err()
}
