package structure

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/nanofit/internal/errs"
)

// Atom is a labelled Cartesian position in Å.
type Atom struct {
	Element string
	Pos     r3.Vec
}

// Parent is the read-only starting model. The first MetalCount atoms are the
// candidate metal sites; the rest are non-metal sites.
type Parent struct {
	Atoms      []Atom
	MetalCount int
}

// NewParent checks that atoms holds at least metalCount entries.
func NewParent(atoms []Atom, metalCount int) (*Parent, error) {
	if metalCount < 0 {
		return nil, fmt.Errorf("metal count %d is negative: %w", metalCount, errs.ErrConfiguration)
	}
	if metalCount > len(atoms) {
		return nil, fmt.Errorf("metal count %d exceeds %d atoms in structure: %w", metalCount, len(atoms), errs.ErrData)
	}
	return &Parent{Atoms: atoms, MetalCount: metalCount}, nil
}

// Metals returns the metal sites in parent order.
func (p *Parent) Metals() []Atom {
	return p.Atoms[:p.MetalCount]
}

// NonMetals returns the non-metal sites in parent order.
func (p *Parent) NonMetals() []Atom {
	return p.Atoms[p.MetalCount:]
}

// Elements returns the distinct element labels in first-seen order.
func (p *Parent) Elements() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range p.Atoms {
		if !seen[a.Element] {
			seen[a.Element] = true
			out = append(out, a.Element)
		}
	}
	return out
}

// Candidate is the per-evaluation structure derived from a Parent. Indices
// refer back to positions in Parent.Atoms.
type Candidate struct {
	Metals          []Atom
	NonMetals       []Atom
	MetalIndices    []int
	NonMetalIndices []int
}

// Len returns the total number of retained atoms.
func (c *Candidate) Len() int {
	return len(c.Metals) + len(c.NonMetals)
}

// Degenerate reports whether either atom group is empty. Degenerate
// candidates cannot be simulated as a two-species cluster.
func (c *Candidate) Degenerate() bool {
	return len(c.Metals) == 0 || len(c.NonMetals) == 0
}
