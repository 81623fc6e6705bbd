package evaluate

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nanofit/internal/catalogue"
)

func TestRank(t *testing.T) {
	t.Parallel()
	outs := []*Outcome{
		{Index: 0, RFactor: 0.3},
		{Index: 1, Err: errors.New("x"), Status: "error"},
		{Index: 2, RFactor: 0.1},
		{Index: 3, RFactor: 0.3},
		{Index: 4, RFactor: 0.2},
	}
	ranked := Rank(outs)
	require.Len(t, ranked, 4)
	var idx []int
	for _, o := range ranked {
		idx = append(idx, o.Index)
	}
	assert.Equal(t, []int{2, 4, 0, 3}, idx)
	assert.Empty(t, Rank(nil))
}

func TestSiteContributions(t *testing.T) {
	t.Parallel()
	cat := &catalogue.Catalogue{NumSites: 3}
	outs := []*Outcome{
		{Vector: catalogue.OccupancyVector{2, 1, 1, 0}, RFactor: 0.1},
		{Vector: catalogue.OccupancyVector{1, 1, 0, 0}, RFactor: 0.3},
		{Vector: catalogue.OccupancyVector{2, 0, 1, 1}, RFactor: 0.5},
		{Vector: catalogue.OccupancyVector{3, 1, 1, 1}, Err: errors.New("x")},
	}
	got := SiteContributions(cat, outs)
	require.Len(t, got, 3)
	// Site 0: on {0.1, 0.3}, off {0.5}.
	assert.InDelta(t, 0.5-0.2, got[0], 1e-12)
	// Site 1: on {0.1, 0.5}, off {0.3}.
	assert.InDelta(t, 0.3-0.3, got[1], 1e-12)
	// Site 2: on {0.5}, off {0.1, 0.3}.
	assert.InDelta(t, 0.2-0.5, got[2], 1e-12)

	always := SiteContributions(cat, outs[:1])
	assert.True(t, math.IsNaN(always[0]))
	assert.Nil(t, SiteContributions(nil, outs))
}
