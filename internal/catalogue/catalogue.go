// Package catalogue generates and persists occupancy vectors: candidate
// patterns of which metal sites of a parent cluster are occupied.
package catalogue

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat/combin"

	"github.com/banshee-data/nanofit/internal/errs"
	"github.com/banshee-data/nanofit/internal/monitoring"
)

// OccupancyVector is a count-prefixed flag sequence. Element 0 holds the
// number of occupied sites; elements 1..n are 0/1 flags, one per metal site.
type OccupancyVector []int

// Count returns the stored number of occupied sites.
func (v OccupancyVector) Count() int {
	if len(v) == 0 {
		return 0
	}
	return v[0]
}

// Flags returns the site flags without the leading count.
func (v OccupancyVector) Flags() []int {
	if len(v) == 0 {
		return nil
	}
	return v[1:]
}

// Occupied reports whether metal site i is on.
func (v OccupancyVector) Occupied(i int) bool {
	return i >= 0 && i+1 < len(v) && v[i+1] == 1
}

// Validate checks the prefix against the flags and the flag count against
// numSites. Pass numSites < 0 to skip the length check.
func (v OccupancyVector) Validate(numSites int) error {
	if len(v) == 0 {
		return fmt.Errorf("empty occupancy vector")
	}
	flags := v.Flags()
	if numSites >= 0 && len(flags) != numSites {
		return fmt.Errorf("occupancy vector has %d flags, want %d", len(flags), numSites)
	}
	ones := 0
	for i, f := range flags {
		switch f {
		case 0:
		case 1:
			ones++
		default:
			return fmt.Errorf("flag %d has value %d, want 0 or 1", i, f)
		}
	}
	if ones != v.Count() {
		return fmt.Errorf("prefix %d does not match %d occupied flags", v.Count(), ones)
	}
	return nil
}

// key is a compact identity used for duplicate detection.
func (v OccupancyVector) key() string {
	var b strings.Builder
	b.Grow(len(v))
	for _, f := range v.Flags() {
		b.WriteByte('0' + byte(f))
	}
	return b.String()
}

// String renders the vector as "k:flags", e.g. "3:11100".
func (v OccupancyVector) String() string {
	return strconv.Itoa(v.Count()) + ":" + v.key()
}

// Catalogue is an ordered, immutable list of occupancy vectors over a fixed
// number of metal sites. Duplicates are allowed unless generated with Unique.
type Catalogue struct {
	NumSites int
	Vectors  []OccupancyVector
}

// Len returns the number of candidates.
func (c *Catalogue) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Vectors)
}

// At returns the vector at index, failing with a configuration error when the
// index is out of range.
func (c *Catalogue) At(index int) (OccupancyVector, error) {
	if index < 0 || index >= c.Len() {
		return nil, fmt.Errorf("candidate index %d outside [0, %d): %w", index, c.Len(), errs.ErrConfiguration)
	}
	return c.Vectors[index], nil
}

// Params configures Generate.
type Params struct {
	Count      int
	NumSites   int
	LowerBound int
	UpperBound int

	// Unique rejects vectors already present in the catalogue.
	Unique bool
}

// Validate checks the generation bounds.
func (p Params) Validate() error {
	switch {
	case p.Count < 0:
		return fmt.Errorf("count %d is negative: %w", p.Count, errs.ErrConfiguration)
	case p.NumSites < 0:
		return fmt.Errorf("num_sites %d is negative: %w", p.NumSites, errs.ErrConfiguration)
	case p.LowerBound < 0:
		return fmt.Errorf("lower_bound %d is negative: %w", p.LowerBound, errs.ErrConfiguration)
	case p.UpperBound > p.NumSites:
		return fmt.Errorf("upper_bound %d exceeds num_sites %d: %w", p.UpperBound, p.NumSites, errs.ErrConfiguration)
	case p.LowerBound > p.UpperBound:
		return fmt.Errorf("lower_bound %d exceeds upper_bound %d: %w", p.LowerBound, p.UpperBound, errs.ErrConfiguration)
	}
	return nil
}

// Capacity returns the number of distinct vectors with an occupied count in
// [LowerBound, UpperBound]. Large spaces saturate at +Inf.
func (p Params) Capacity() float64 {
	var total float64
	for k := p.LowerBound; k <= p.UpperBound; k++ {
		total += combin.GeneralizedBinomial(float64(p.NumSites), float64(k))
	}
	return total
}

// NewRand returns a PCG-backed generator seeded from seed. Every catalogue
// built from the same seed and Params is identical.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Generate builds a catalogue of p.Count vectors. For each vector an occupied
// count k is drawn uniformly from [LowerBound, UpperBound], k ones and
// NumSites-k zeros are shuffled uniformly, and k is prepended.
func Generate(rng *rand.Rand, p Params) (*Catalogue, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("nil random source: %w", errs.ErrConfiguration)
	}
	if p.Unique && p.Capacity() < float64(p.Count) {
		return nil, fmt.Errorf("only %.0f distinct vectors exist for %d sites with %d-%d occupied, %d requested: %w",
			p.Capacity(), p.NumSites, p.LowerBound, p.UpperBound, p.Count, errs.ErrConfiguration)
	}

	monitoring.Logf("Generating structure catalogue: %d candidates, %d sites, %d-%d occupied",
		p.Count, p.NumSites, p.LowerBound, p.UpperBound)

	cat := &Catalogue{
		NumSites: p.NumSites,
		Vectors:  make([]OccupancyVector, 0, p.Count),
	}
	var seen map[string]struct{}
	if p.Unique {
		seen = make(map[string]struct{}, p.Count)
	}

	for len(cat.Vectors) < p.Count {
		v := draw(rng, p)
		if seen != nil {
			k := v.key()
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		cat.Vectors = append(cat.Vectors, v)
	}

	monitoring.Logf("Structure catalogue complete: %d candidates", len(cat.Vectors))
	return cat, nil
}

func draw(rng *rand.Rand, p Params) OccupancyVector {
	k := p.LowerBound + rng.IntN(p.UpperBound-p.LowerBound+1)
	v := make(OccupancyVector, p.NumSites+1)
	v[0] = k
	flags := v[1:]
	for i := 0; i < k; i++ {
		flags[i] = 1
	}
	rng.Shuffle(len(flags), func(i, j int) {
		flags[i], flags[j] = flags[j], flags[i]
	})
	return v
}
