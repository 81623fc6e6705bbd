package evaluate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/nanofit/internal/catalogue"
	"github.com/banshee-data/nanofit/internal/errs"
	"github.com/banshee-data/nanofit/internal/fit"
	"github.com/banshee-data/nanofit/internal/fsutil"
	"github.com/banshee-data/nanofit/internal/monitoring"
	"github.com/banshee-data/nanofit/internal/profile"
	"github.com/banshee-data/nanofit/internal/structure"
)

func init() {
	monitoring.SetLogger(nil)
}

// testParent places n Ga sites 3 Å apart along x, each with one O 1.8 Å
// above it.
func testParent(t *testing.T, n int) *structure.Parent {
	t.Helper()
	var atoms []structure.Atom
	for i := 0; i < n; i++ {
		atoms = append(atoms, structure.Atom{Element: "Ga", Pos: r3.Vec{X: 3 * float64(i)}})
	}
	for i := 0; i < n; i++ {
		atoms = append(atoms, structure.Atom{Element: "O", Pos: r3.Vec{X: 3 * float64(i), Y: 1.8}})
	}
	p, err := structure.NewParent(atoms, n)
	require.NoError(t, err)
	return p
}

func testProfile() *profile.Profile {
	p := &profile.Profile{}
	for x := 0.5; x <= 12; x += 0.1 {
		p.R = append(p.R, x)
		p.G = append(p.G, math.Sin(2*x))
	}
	return p
}

// countFitter scores a candidate by how far its metal count is from best.
type countFitter struct {
	best  int
	calls atomic.Int32
	err   func(cand *structure.Candidate) error
}

func (f *countFitter) Fit(ctx context.Context, cand *structure.Candidate, prof *profile.Profile) (*fit.Result, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cand.Degenerate() {
		return nil, fmt.Errorf("stub: %w", errs.ErrDegenerateStructure)
	}
	if f.err != nil {
		if err := f.err(cand); err != nil {
			return nil, err
		}
	}
	r := math.Abs(float64(len(cand.Metals)-f.best)) / 10
	return &fit.Result{
		R:       prof.R,
		GObs:    prof.G,
		GCalc:   prof.G,
		GDiff:   make([]float64, len(prof.R)),
		RFactor: r,
		Status:  "stub",
	}, nil
}

func newEvaluator(t *testing.T, vectors []catalogue.OccupancyVector, f Fitter, threshold float64) *Evaluator {
	t.Helper()
	parent := testParent(t, 5)
	return &Evaluator{
		Parent:    parent,
		Profile:   testProfile(),
		Catalogue: &catalogue.Catalogue{NumSites: 5, Vectors: vectors},
		Fitter:    f,
		Options:   Options{Threshold: threshold},
	}
}

func TestEvaluate_WideThresholdKeepsAllNonMetals(t *testing.T) {
	t.Parallel()
	e := newEvaluator(t, []catalogue.OccupancyVector{{3, 1, 1, 1, 0, 0}}, &countFitter{best: 3}, 100)
	out, err := e.Evaluate(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, out.MetalCount)
	assert.Equal(t, 5, out.NonMetalCount)
	assert.Zero(t, out.RFactor)
	assert.Equal(t, "ok", out.Status)
	assert.Nil(t, out.Result)
}

func TestEvaluate_ThresholdPrunesUnbonded(t *testing.T) {
	t.Parallel()
	e := newEvaluator(t, []catalogue.OccupancyVector{{2, 1, 0, 0, 0, 1}}, &countFitter{best: 3}, 2.5)
	out, err := e.Evaluate(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, out.MetalCount)
	assert.Equal(t, 2, out.NonMetalCount)
	assert.InDelta(t, 0.1, out.RFactor, 1e-12)
}

func TestEvaluate_EmptyVectorIsDegenerate(t *testing.T) {
	t.Parallel()
	cfg := fit.Settings{
		RMin: 1, RMax: 10, MetalElement: "Ga", NonMetalElement: "O",
		Zoom:     fit.Restraint{Lower: 0.99, Upper: 1.01, Sigma: 0.001},
		FreeTags: []string{fit.TagScale, fit.TagLattice},
	}
	orch := &fit.Orchestrator{Engine: &fit.DebyeEngine{}, Settings: cfg}
	e := newEvaluator(t, []catalogue.OccupancyVector{{0, 0, 0, 0, 0, 0}}, orch, 100)

	out, err := e.Evaluate(context.Background(), 0)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, errs.ErrDegenerateStructure), "got %v", err)
}

// bisoBlindEngine ignores displacement parameters so only the refined
// parameters can influence the score.
type bisoBlindEngine struct{ fit.DebyeEngine }

func (bisoBlindEngine) Simulate(_ *fit.Cluster, spec fit.Spec, r []float64) ([]float64, error) {
	out := make([]float64, len(r))
	for i, x := range r {
		out[i] = math.Sin(2*x*spec.ValueOr(fit.ZoomParams[0], 1)) * 0.5
	}
	return out, nil
}

func TestEvaluate_DisplacementStartingValuesDoNotChangeScore(t *testing.T) {
	t.Parallel()
	run := func(biso float64) float64 {
		s := fit.Settings{
			RMin: 1, RMax: 10, MetalElement: "Ga", NonMetalElement: "O",
			BisoMetal: biso, BisoNonMetal: biso,
			Zoom:     fit.Restraint{Lower: 0.99, Upper: 1.01, Sigma: 0.001},
			FreeTags: []string{fit.TagScale, fit.TagLattice},
		}
		eng := &bisoBlindEngine{DebyeEngine: fit.DebyeEngine{Optimizer: "lbfgs", MaxIterations: 100}}
		orch := &fit.Orchestrator{Engine: eng, Settings: s}
		e := newEvaluator(t, []catalogue.OccupancyVector{{3, 1, 0, 1, 0, 1}}, orch, 2.5)
		out, err := e.Evaluate(context.Background(), 0)
		require.NoError(t, err)
		return out.RFactor
	}
	a := run(0.4)
	b := run(1.2)
	assert.Equal(t, a, b)
	assert.Less(t, a, 1e-2)
}

func TestEvaluateAll_FixedCountCatalogue(t *testing.T) {
	t.Parallel()
	cat, err := catalogue.Generate(catalogue.NewRand(7), catalogue.Params{Count: 100, NumSites: 10, LowerBound: 4, UpperBound: 4})
	require.NoError(t, err)

	var atoms []structure.Atom
	for i := 0; i < 10; i++ {
		atoms = append(atoms, structure.Atom{Element: "Ga", Pos: r3.Vec{X: 3 * float64(i)}})
	}
	atoms = append(atoms, structure.Atom{Element: "O", Pos: r3.Vec{Y: 1.8}})
	parent, err := structure.NewParent(atoms, 10)
	require.NoError(t, err)

	e := &Evaluator{Parent: parent, Profile: testProfile(), Catalogue: cat, Fitter: &countFitter{best: 4}, Options: Options{Threshold: 100}}
	outs, err := e.EvaluateAll(context.Background(), AllIndices(cat.Len()), 4, nil)
	require.NoError(t, err)
	require.Len(t, outs, 100)
	for i, o := range outs {
		assert.Equal(t, i, o.Index)
		assert.Equal(t, 4, o.Vector.Count())
		assert.Equal(t, 4, o.MetalCount)
		assert.Zero(t, o.RFactor)
	}
}

func TestEvaluate_IndexOutOfRange(t *testing.T) {
	t.Parallel()
	e := newEvaluator(t, []catalogue.OccupancyVector{{1, 1, 0, 0, 0, 0}}, &countFitter{}, 2.5)
	for _, idx := range []int{-1, 1, 99} {
		_, err := e.Evaluate(context.Background(), idx)
		assert.True(t, errors.Is(err, errs.ErrConfiguration), "index %d", idx)
	}

	_, err := (&Evaluator{}).Evaluate(context.Background(), 0)
	assert.True(t, errors.Is(err, errs.ErrConfiguration))
}

func TestEvaluate_VerboseAndPlot(t *testing.T) {
	t.Parallel()
	e := newEvaluator(t, []catalogue.OccupancyVector{{3, 1, 1, 1, 0, 0}}, &countFitter{best: 2}, 2.5)
	e.Options.Verbose = true
	out, err := e.Evaluate(context.Background(), 0)
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Empty(t, out.PlotPath)

	fsys := fsutil.NewMemoryFileSystem()
	e.Options = Options{Threshold: 2.5, PlotDir: "plots", FS: fsys}
	out, err = e.Evaluate(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "plots/fit_00000.png", out.PlotPath)
	data, err := fsys.ReadFile(out.PlotPath)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestEvaluate_Idempotent(t *testing.T) {
	t.Parallel()
	e := newEvaluator(t, []catalogue.OccupancyVector{{2, 0, 1, 0, 1, 0}}, &countFitter{best: 1}, 2.5)
	a, err := e.Evaluate(context.Background(), 0)
	require.NoError(t, err)
	b, err := e.Evaluate(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, a.RFactor, b.RFactor)
	assert.Equal(t, a.NonMetalCount, b.NonMetalCount)
}
