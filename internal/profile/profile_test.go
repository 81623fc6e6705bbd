package profile

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nanofit/internal/errs"
	"github.com/banshee-data/nanofit/internal/fsutil"
)

const pdfgetxSample = `[DEFAULT]
version = pdfgetx3-2.1.1

# PDF calculation setup
dataformat = QA
qmaxinst = 22.0
qmax = 20.0
qmin = 0.7

#### start data
#S 1
#L r($\AA$)  G($\AA^{-2}$)
0.50 0.10
1.00 -0.20
1.50 0.80
2.00 1.40
2.50 0.30
`

func TestParse_PDFgetX(t *testing.T) {
	t.Parallel()

	p, err := Parse(strings.NewReader(pdfgetxSample))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1, 1.5, 2, 2.5}, p.R)
	assert.Equal(t, []float64{0.1, -0.2, 0.8, 1.4, 0.3}, p.G)
	assert.Nil(t, p.DR)
	assert.Nil(t, p.DG)

	qmax, ok := p.MetaFloat("qmax")
	require.True(t, ok)
	assert.Equal(t, 20.0, qmax)
	assert.Equal(t, "QA", p.Meta["dataformat"])
	_, ok = p.MetaFloat("wavelength")
	assert.False(t, ok)
}

func TestParse_FourColumnsWithoutMarker(t *testing.T) {
	t.Parallel()

	input := "qmax = 18\n1.0 0.5 0.01 0.02\n1.1 0.6 0.01 0.03\n"
	p, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.01, 0.01}, p.DR)
	assert.Equal(t, []float64{0.02, 0.03}, p.DG)
	assert.Equal(t, "18", p.Meta["qmax"])
}

func TestParse_ThreeColumnsIsDG(t *testing.T) {
	t.Parallel()

	p, err := Parse(strings.NewReader("1.0 0.5 0.1\n2.0 0.4 0.2\n"))
	require.NoError(t, err)
	assert.Nil(t, p.DR)
	assert.Equal(t, []float64{0.1, 0.2}, p.DG)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"header_only", "qmax = 20\n#### start data\n"},
		{"single_column", "1.0\n2.0\n"},
		{"bad_row_after_marker", "#### start data\n1.0 0.5\nabc def\n"},
		{"ragged", "1.0 0.5 0.1 0.1\n2.0 0.4\n"},
		{"nan", "1.0 NaN\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.input))
			assert.True(t, errors.Is(err, errs.ErrData), "got %v", err)
		})
	}
}

func TestCalculationRange(t *testing.T) {
	t.Parallel()

	p, err := Parse(strings.NewReader(pdfgetxSample))
	require.NoError(t, err)

	sub, err := p.CalculationRange(1.0, 2.0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1.5, 2}, sub.R)
	assert.Equal(t, []float64{-0.2, 0.8, 1.4}, sub.G)
	assert.Equal(t, 5, p.Len(), "original profile must be untouched")

	_, err = p.CalculationRange(10, 20)
	assert.True(t, errors.Is(err, errs.ErrData))

	_, err = p.CalculationRange(2.0, 1.0)
	assert.True(t, errors.Is(err, errs.ErrData))
}

func TestCalculationRange_KeepsUncertainties(t *testing.T) {
	t.Parallel()

	p := &Profile{
		R:  []float64{1, 2, 3},
		G:  []float64{0.1, 0.2, 0.3},
		DR: []float64{0.01, 0.02, 0.03},
		DG: []float64{0.1, 0.2, 0.3},
	}
	sub, err := p.CalculationRange(1.5, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.02, 0.03}, sub.DR)
	assert.Equal(t, []float64{0.2, 0.3}, sub.DG)
}

func TestWeights(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		dg   []float64
		want []float64
	}{
		{"absent", nil, nil},
		{"inverse variance", []float64{0.5, 0.25, 1}, []float64{4, 16, 1}},
		{"zero uncertainty", []float64{0.5, 0, 1}, nil},
		{"negative uncertainty", []float64{0.5, -0.1, 1}, nil},
		{"nan uncertainty", []float64{0.5, math.NaN(), 1}, nil},
		{"short column", []float64{0.5}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := &Profile{R: []float64{1, 2, 3}, G: []float64{0.1, 0.2, 0.3}, DG: tc.dg}
			assert.Equal(t, tc.want, p.Weights())
		})
	}
}

func TestBaseline(t *testing.T) {
	t.Parallel()

	p := &Profile{R: []float64{1, 2, 3}, G: []float64{0.5, -2, 1}}
	assert.InDelta(t, -2.2, p.Baseline(), 1e-12)
	assert.Equal(t, 0.0, (&Profile{}).Baseline())
}

func TestLoad(t *testing.T) {
	t.Parallel()

	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/data/sample.gr", []byte(pdfgetxSample), 0644))

	p, err := Load(mfs, "/data/sample.gr")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Len())

	_, err = Load(mfs, "/data/missing.gr")
	assert.True(t, errors.Is(err, errs.ErrData))
}
