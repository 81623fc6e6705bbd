package fit

import (
	"fmt"
	"math"

	"github.com/banshee-data/nanofit/internal/errs"
)

// RFactor returns sqrt(Σ(g-gcalc)² / Σg²). It fails rather than return a
// number when the lengths differ or Σg² is zero.
func RFactor(g, gcalc []float64) (float64, error) {
	if len(g) != len(gcalc) {
		return 0, fmt.Errorf("observed has %d points, calculated has %d: %w", len(g), len(gcalc), errs.ErrLengthMismatch)
	}
	var num, den float64
	for i := range g {
		d := g[i] - gcalc[i]
		num += d * d
		den += g[i] * g[i]
	}
	if den == 0 {
		return 0, fmt.Errorf("observed profile has zero norm over %d points: %w", len(g), errs.ErrUndefinedRFactor)
	}
	r := math.Sqrt(num / den)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, fmt.Errorf("r-factor %v: %w", r, errs.ErrFitDivergence)
	}
	return r, nil
}
