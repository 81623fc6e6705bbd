package structure

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// cellKey identifies one cube of a uniform grid.
type cellKey struct {
	X, Y, Z int64
}

// SpatialIndex buckets points into cubes of side CellSize so neighbour
// queries only visit the 27 cubes around a query point. Cell size should
// match the query radius.
type SpatialIndex struct {
	CellSize float64
	Grid     map[cellKey][]int // cell -> point indices
	points   []r3.Vec
}

// NewSpatialIndex creates a spatial index with the specified cell size.
func NewSpatialIndex(cellSize float64) *SpatialIndex {
	return &SpatialIndex{
		CellSize: cellSize,
		Grid:     make(map[cellKey][]int),
	}
}

// Build populates the index. The slice is retained, not copied.
func (si *SpatialIndex) Build(points []r3.Vec) {
	si.points = points
	si.Grid = make(map[cellKey][]int, len(points))
	for i, p := range points {
		k := si.cellOf(p)
		si.Grid[k] = append(si.Grid[k], i)
	}
}

func (si *SpatialIndex) cellOf(p r3.Vec) cellKey {
	return cellKey{
		X: int64(math.Floor(p.X / si.CellSize)),
		Y: int64(math.Floor(p.Y / si.CellSize)),
		Z: int64(math.Floor(p.Z / si.CellSize)),
	}
}

// AnyWithin reports whether some indexed point lies strictly closer than eps
// to p. eps must not exceed CellSize.
func (si *SpatialIndex) AnyWithin(p r3.Vec, eps float64) bool {
	base := si.cellOf(p)
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for dz := int64(-1); dz <= 1; dz++ {
				k := cellKey{X: base.X + dx, Y: base.Y + dy, Z: base.Z + dz}
				for _, idx := range si.Grid[k] {
					if r3.Norm(r3.Sub(si.points[idx], p)) < eps {
						return true
					}
				}
			}
		}
	}
	return false
}
