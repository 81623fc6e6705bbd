package structure

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/nanofit/internal/catalogue"
	"github.com/banshee-data/nanofit/internal/errs"
)

// indexCutoff is the retained metal count above which Prune switches from a
// direct scan to a SpatialIndex. Both paths return identical candidates.
const indexCutoff = 32

// Prune derives the candidate structure selected by vec.
//
// Metal site i is kept when flag i (after the leading count) is 1. A
// non-metal site is kept when its distance to the nearest retained metal is
// strictly less than threshold. With no retained metals every non-metal site
// is dropped. The returned candidate may be degenerate; callers decide how to
// report that.
func Prune(parent *Parent, vec catalogue.OccupancyVector, threshold float64) (*Candidate, error) {
	if parent == nil {
		return nil, fmt.Errorf("nil parent structure: %w", errs.ErrConfiguration)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty occupancy vector: %w", errs.ErrConfiguration)
	}
	flags := vec.Flags()
	if len(flags) != parent.MetalCount {
		return nil, fmt.Errorf("occupancy vector has %d flags for %d metal sites: %w",
			len(flags), parent.MetalCount, errs.ErrConfiguration)
	}
	if math.IsNaN(threshold) {
		return nil, fmt.Errorf("threshold is NaN: %w", errs.ErrConfiguration)
	}

	cand := &Candidate{}
	metals := parent.Metals()
	positions := make([]r3.Vec, 0, vec.Count())
	for i, f := range flags {
		if f != 1 {
			continue
		}
		cand.Metals = append(cand.Metals, metals[i])
		cand.MetalIndices = append(cand.MetalIndices, i)
		positions = append(positions, metals[i].Pos)
	}
	if len(positions) == 0 || threshold <= 0 {
		return cand, nil
	}

	bonded := scanBonded(positions, threshold)
	if len(positions) > indexCutoff {
		si := NewSpatialIndex(threshold)
		si.Build(positions)
		bonded = func(p r3.Vec) bool { return si.AnyWithin(p, threshold) }
	}

	for j, a := range parent.NonMetals() {
		if bonded(a.Pos) {
			cand.NonMetals = append(cand.NonMetals, a)
			cand.NonMetalIndices = append(cand.NonMetalIndices, parent.MetalCount+j)
		}
	}
	return cand, nil
}

// scanBonded checks every retained metal, stopping at the first one in range.
func scanBonded(metals []r3.Vec, threshold float64) func(r3.Vec) bool {
	return func(p r3.Vec) bool {
		for _, m := range metals {
			if r3.Norm(r3.Sub(m, p)) < threshold {
				return true
			}
		}
		return false
	}
}
