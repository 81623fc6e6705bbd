package pdfcalc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/nanofit/internal/errs"
)

const (
	// DefaultRStep is the internal real-space grid spacing in Å.
	DefaultRStep = 0.01

	// gridPadding extends the internal grid past the last requested point
	// so band-limiting does not wrap edge effects into the fit window.
	gridPadding = 5.0

	// peakCutoff is the number of standard deviations each peak is
	// evaluated over.
	peakCutoff = 5.0

	// minSigma2 floors the peak variance for zero-displacement sites.
	minSigma2 = 1e-6
)

// Site is one scatterer of a simulated structure.
type Site struct {
	Pos    r3.Vec
	Biso   float64 // Å^2
	Weight float64 // scattering weight, see ScatteringWeight
}

// Calculator holds the instrument and peak-shape settings. The zero value
// applies no Q window and no damping.
type Calculator struct {
	QMin   float64
	QMax   float64
	QDamp  float64
	QBroad float64
	Delta2 float64
	RStep  float64
}

// Calculate returns G(r) for sites evaluated at every point of r.
func (c Calculator) Calculate(sites []Site, r []float64) ([]float64, error) {
	if len(r) == 0 {
		return nil, fmt.Errorf("empty r grid: %w", errs.ErrData)
	}
	out := make([]float64, len(r))
	if len(sites) < 2 {
		return out, nil
	}

	step := c.RStep
	if step <= 0 {
		step = DefaultRStep
	}
	rMax := floats.Max(r) + gridPadding
	n := int(math.Ceil(rMax / step))
	grid := make([]float64, n)

	var wsum float64
	for _, s := range sites {
		wsum += s.Weight
	}
	wbar := wsum / float64(len(sites))
	if wbar == 0 {
		return nil, fmt.Errorf("sites carry no scattering weight: %w", errs.ErrData)
	}
	norm := 2 / (wbar * wbar * float64(len(sites)))

	for i := 0; i < len(sites); i++ {
		for j := i + 1; j < len(sites); j++ {
			d := r3.Norm(r3.Sub(sites[i].Pos, sites[j].Pos))
			if d == 0 {
				continue
			}
			s2 := c.peakVariance(sites[i].Biso+sites[j].Biso, d)
			c.addPeak(grid, step, d, s2, norm*sites[i].Weight*sites[j].Weight)
		}
	}

	// grid holds R(r); G(r) = R(r)/r.
	for k := range grid {
		grid[k] /= float64(k+1) * step
	}
	c.bandLimit(grid, step)
	if c.QDamp > 0 {
		for k := range grid {
			x := c.QDamp * float64(k+1) * step
			grid[k] *= math.Exp(-0.5 * x * x)
		}
	}

	for i, ri := range r {
		out[i] = interpolate(grid, step, ri)
	}
	return out, nil
}

// peakVariance converts summed Biso values into the Gaussian variance of a
// pair peak at distance d.
func (c Calculator) peakVariance(bsum, d float64) float64 {
	msd := bsum / (8 * math.Pi * math.Pi)
	s2 := msd * (1 - c.Delta2/(d*d) + c.QBroad*c.QBroad*d*d)
	if s2 < minSigma2 {
		s2 = minSigma2
	}
	return s2
}

// addPeak accumulates a normalised Gaussian of variance s2 centred on d.
// Grid point k sits at r = (k+1)*step.
func (c Calculator) addPeak(grid []float64, step, d, s2, amp float64) {
	sigma := math.Sqrt(s2)
	lo := int(math.Floor((d-peakCutoff*sigma)/step)) - 1
	hi := int(math.Ceil((d+peakCutoff*sigma)/step)) - 1
	lo = max(lo, 0)
	hi = min(hi, len(grid)-1)
	scale := amp / (sigma * math.Sqrt(2*math.Pi))
	for k := lo; k <= hi; k++ {
		x := float64(k+1)*step - d
		grid[k] += scale * math.Exp(-x*x/(2*s2))
	}
}

// bandLimit removes sine components outside [QMin, QMax]. Coefficient m of
// the transform corresponds to Q = π(m+1)/((n+1)·step).
func (c Calculator) bandLimit(grid []float64, step float64) {
	n := len(grid)
	if n == 0 || (c.QMin <= 0 && c.QMax <= 0) {
		return
	}
	dst := fourier.NewDST(n)
	coeff := dst.Transform(make([]float64, n), grid)
	dq := math.Pi / (float64(n+1) * step)
	for m := range coeff {
		q := float64(m+1) * dq
		if q < c.QMin || (c.QMax > 0 && q > c.QMax) {
			coeff[m] = 0
		}
	}
	back := dst.Transform(make([]float64, n), coeff)
	inv := 1 / (2 * float64(n+1))
	for k := range grid {
		grid[k] = back[k] * inv
	}
}

// interpolate linearly samples grid (point k at (k+1)*step) at r. Values
// outside the grid are zero; G vanishes at r = 0.
func interpolate(grid []float64, step, r float64) float64 {
	x := r/step - 1
	if x < -1 || x > float64(len(grid)-1) {
		return 0
	}
	if x < 0 {
		return grid[0] * (x + 1)
	}
	k := int(math.Floor(x))
	if k >= len(grid)-1 {
		return grid[len(grid)-1]
	}
	f := x - float64(k)
	return grid[k]*(1-f) + grid[k+1]*f
}
