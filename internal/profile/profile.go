// Package profile loads experimental pair distribution functions and
// restricts them to a fitting window.
package profile

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/nanofit/internal/errs"
)

// Profile is an observed G(r) trace. It is shared read-only between
// evaluations; methods that restrict it return new values.
type Profile struct {
	R  []float64 // Å
	G  []float64 // Å^-2
	DR []float64 // optional, same length as R when present
	DG []float64 // optional, same length as R when present

	// Meta holds header key/value pairs such as qmax or wavelength.
	Meta map[string]string
}

// Len returns the number of points.
func (p *Profile) Len() int {
	return len(p.R)
}

// Validate checks column lengths and finiteness.
func (p *Profile) Validate() error {
	if len(p.R) == 0 {
		return fmt.Errorf("profile has no points: %w", errs.ErrData)
	}
	if len(p.G) != len(p.R) {
		return fmt.Errorf("r has %d points but G has %d: %w", len(p.R), len(p.G), errs.ErrData)
	}
	if p.DR != nil && len(p.DR) != len(p.R) {
		return fmt.Errorf("dr has %d points, want %d: %w", len(p.DR), len(p.R), errs.ErrData)
	}
	if p.DG != nil && len(p.DG) != len(p.R) {
		return fmt.Errorf("dG has %d points, want %d: %w", len(p.DG), len(p.R), errs.ErrData)
	}
	for i := range p.R {
		if !finite(p.R[i]) || !finite(p.G[i]) {
			return fmt.Errorf("non-finite value at point %d: %w", i, errs.ErrData)
		}
	}
	return nil
}

// CalculationRange returns the points with rMin <= r <= rMax. A window that
// contains no points is a data error.
func (p *Profile) CalculationRange(rMin, rMax float64) (*Profile, error) {
	out := &Profile{Meta: p.Meta}
	for i, r := range p.R {
		if r < rMin || r > rMax {
			continue
		}
		out.R = append(out.R, r)
		out.G = append(out.G, p.G[i])
		if p.DR != nil {
			out.DR = append(out.DR, p.DR[i])
		}
		if p.DG != nil {
			out.DG = append(out.DG, p.DG[i])
		}
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("calculation range [%g, %g] contains no points (data spans [%g, %g]): %w",
			rMin, rMax, p.minR(), p.maxR(), errs.ErrData)
	}
	return out, nil
}

// Weights returns the inverse variance 1/dG^2 of every point, or nil when
// dG is absent or any uncertainty is not finite and positive.
func (p *Profile) Weights() []float64 {
	if len(p.DG) == 0 || len(p.DG) != len(p.G) {
		return nil
	}
	w := make([]float64, len(p.DG))
	for i, d := range p.DG {
		if !finite(d) || d <= 0 {
			return nil
		}
		w[i] = 1 / (d * d)
	}
	return w
}

// Baseline is the vertical offset used to draw difference curves below the
// data: 1.1 times the smallest observed G.
func (p *Profile) Baseline() float64 {
	if len(p.G) == 0 {
		return 0
	}
	return 1.1 * floats.Min(p.G)
}

func (p *Profile) minR() float64 {
	if len(p.R) == 0 {
		return math.NaN()
	}
	return floats.Min(p.R)
}

func (p *Profile) maxR() float64 {
	if len(p.R) == 0 {
		return math.NaN()
	}
	return floats.Max(p.R)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
