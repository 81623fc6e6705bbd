package fit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nanofit/internal/errs"
)

func defaultSettings() Settings {
	return Settings{
		RMin:            1,
		RMax:            10,
		MetalElement:    "Ga",
		NonMetalElement: "O",
		BisoMetal:       0.4,
		BisoNonMetal:    0.4,
		Zoom:            Restraint{Lower: 0.99, Upper: 1.01, Sigma: 0.001},
		FreeTags:        []string{TagScale, TagLattice},
	}
}

func TestRestraintPenalty(t *testing.T) {
	t.Parallel()
	r := Restraint{Lower: 0.99, Upper: 1.01, Sigma: 0.001}
	tests := []struct {
		name string
		v    float64
		want float64
	}{
		{"inside", 1.0, 0},
		{"lower edge", 0.99, 0},
		{"upper edge", 1.01, 0},
		{"below", 0.985, 25},
		{"above", 1.012, 4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tc.want, r.Penalty(tc.v), 1e-6)
		})
	}
}

func TestRestraintValidate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Restraint{Lower: 0.99, Upper: 1.01, Sigma: 0.001}.Validate())
	assert.True(t, errors.Is(Restraint{Lower: 2, Upper: 1, Sigma: 1}.Validate(), errs.ErrConfiguration))
	assert.True(t, errors.Is(Restraint{Lower: 0, Upper: 1}.Validate(), errs.ErrConfiguration))
}

func TestSettingsSpec_DefaultPolicy(t *testing.T) {
	t.Parallel()
	spec := defaultSettings().Spec()

	assert.Equal(t, []string{"scale", "zoomscale1", "zoomscale2", "zoomscale3"}, spec.FreeNames())
	assert.Equal(t, []float64{1, 1, 1, 1}, spec.FreeValues())

	want := map[string]float64{
		"scale": 1, "zoomscale1": 1, "zoomscale2": 1, "zoomscale3": 1,
		"delta2": 0, "Ga_Biso": 0.4, "O_Biso": 0.4,
	}
	assert.Equal(t, want, spec.Values())

	for _, p := range spec.Parameters {
		switch p.Tag {
		case TagLattice:
			require.NotNil(t, p.Restraint, p.Name)
			assert.Equal(t, 0.99, p.Restraint.Lower)
		case TagADPMetal, TagADPNonMetal, TagDelta2:
			assert.True(t, p.Fixed, p.Name)
		}
	}
}

func TestSettingsSpec_ConfigurableTags(t *testing.T) {
	t.Parallel()
	s := defaultSettings()
	s.FreeTags = []string{TagScale, TagADPMetal}
	assert.Equal(t, []string{"scale", "Ga_Biso"}, s.Spec().FreeNames())

	s.FreeTags = nil
	assert.Empty(t, s.Spec().FreeNames())
}

func TestSpecIsNotMutated(t *testing.T) {
	t.Parallel()
	base := defaultSettings().Spec()
	fixed := base.FixAll()
	assert.Empty(t, fixed.FreeNames())
	assert.Len(t, base.FreeNames(), 4)

	moved, err := base.WithFree([]float64{2, 1.1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, 2.0, moved.ValueOr("scale", 0))
	assert.Equal(t, 1.0, base.ValueOr("scale", 0))

	moved.Parameters[1].Restraint.Lower = 0
	assert.Equal(t, 0.99, base.Parameters[1].Restraint.Lower)
}

func TestSpecWithFree_LengthMismatch(t *testing.T) {
	t.Parallel()
	spec := defaultSettings().Spec()
	_, err := spec.WithFree([]float64{1})
	assert.True(t, errors.Is(err, errs.ErrLengthMismatch))
	_, err = spec.WithFree([]float64{1, 1, 1, 1, 1})
	assert.True(t, errors.Is(err, errs.ErrLengthMismatch))
}

func TestSpecPenaltyAndFinite(t *testing.T) {
	t.Parallel()
	spec := defaultSettings().Spec()
	assert.Zero(t, spec.Penalty())
	assert.True(t, spec.Finite())

	out, err := spec.WithFree([]float64{1, 1.011, 0.989, 1})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, out.Penalty(), 1e-6)

	_, ok := spec.Value("missing")
	assert.False(t, ok)
	assert.Equal(t, 7.0, spec.ValueOr("missing", 7))
}
