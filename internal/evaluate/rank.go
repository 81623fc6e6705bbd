package evaluate

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/nanofit/internal/catalogue"
)

// Rank returns the successful outcomes ordered by ascending R-factor, ties
// broken by index.
func Rank(outcomes []*Outcome) []*Outcome {
	ranked := make([]*Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.OK() {
			ranked = append(ranked, o)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].RFactor != ranked[j].RFactor {
			return ranked[i].RFactor < ranked[j].RFactor
		}
		return ranked[i].Index < ranked[j].Index
	})
	return ranked
}

// SiteContributions returns, for each metal site, the mean R-factor of
// successful candidates without the site minus the mean with it. Positive
// values mean occupying the site improves the fit. Sites that are never or
// always occupied get NaN.
func SiteContributions(cat *catalogue.Catalogue, outcomes []*Outcome) []float64 {
	if cat == nil {
		return nil
	}
	contrib := make([]float64, cat.NumSites)
	for site := range contrib {
		var on, off []float64
		for _, o := range outcomes {
			if !o.OK() || len(o.Vector) != cat.NumSites+1 {
				continue
			}
			if o.Vector.Occupied(site) {
				on = append(on, o.RFactor)
			} else {
				off = append(off, o.RFactor)
			}
		}
		if len(on) == 0 || len(off) == 0 {
			contrib[site] = math.NaN()
			continue
		}
		contrib[site] = stat.Mean(off, nil) - stat.Mean(on, nil)
	}
	return contrib
}

// Summary counts outcomes by status.
func Summary(outcomes []*Outcome) map[string]int {
	m := make(map[string]int)
	for _, o := range outcomes {
		m[o.Status]++
	}
	return m
}
