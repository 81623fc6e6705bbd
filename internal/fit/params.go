package fit

import (
	"fmt"
	"math"
	"slices"

	"github.com/banshee-data/nanofit/internal/errs"
)

// Parameter tags understood by the fit policy.
const (
	TagScale       = "scale"
	TagLattice     = "lat"
	TagDelta2      = "delta2"
	TagADPMetal    = "adp_metal"
	TagADPNonMetal = "adp_nonmetal"
)

// Parameter names.
const (
	ParamScale  = "scale"
	ParamDelta2 = "delta2"
)

// ZoomParams names the three per-axis zoom scale parameters.
var ZoomParams = [3]string{"zoomscale1", "zoomscale2", "zoomscale3"}

// BisoParam names the isotropic displacement parameter of the group whose
// configured element is element. Engines find it by tag, not by name.
func BisoParam(element string) string {
	return element + "_Biso"
}

// Restraint is a soft bound: values outside [Lower, Upper] add
// ((bound-v)/Sigma)^2 to the cost.
type Restraint struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Sigma float64 `json:"sigma"`
}

// Penalty returns the restraint cost at v.
func (r Restraint) Penalty(v float64) float64 {
	switch {
	case v < r.Lower:
		d := (r.Lower - v) / r.Sigma
		return d * d
	case v > r.Upper:
		d := (v - r.Upper) / r.Sigma
		return d * d
	default:
		return 0
	}
}

// Validate checks the restraint bounds.
func (r Restraint) Validate() error {
	if math.IsNaN(r.Lower) || math.IsNaN(r.Upper) || r.Lower > r.Upper {
		return fmt.Errorf("restraint bounds [%v, %v] invalid: %w", r.Lower, r.Upper, errs.ErrConfiguration)
	}
	if !(r.Sigma > 0) {
		return fmt.Errorf("restraint sigma %v must be positive: %w", r.Sigma, errs.ErrConfiguration)
	}
	return nil
}

// Parameter is one named refinement variable.
type Parameter struct {
	Name      string     `json:"name"`
	Tag       string     `json:"tag"`
	Value     float64    `json:"value"`
	Fixed     bool       `json:"fixed"`
	Restraint *Restraint `json:"restraint,omitempty"`
}

// Spec is an ordered parameter set. Methods never modify the receiver; they
// return updated copies.
type Spec struct {
	Parameters []Parameter `json:"parameters"`
}

// Clone returns a deep copy of s.
func (s Spec) Clone() Spec {
	out := Spec{Parameters: make([]Parameter, len(s.Parameters))}
	for i, p := range s.Parameters {
		if p.Restraint != nil {
			r := *p.Restraint
			p.Restraint = &r
		}
		out.Parameters[i] = p
	}
	return out
}

// Value returns the value of the named parameter.
func (s Spec) Value(name string) (float64, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p.Value, true
		}
	}
	return 0, false
}

// ByTag returns the first parameter carrying tag.
func (s Spec) ByTag(tag string) (Parameter, bool) {
	for _, p := range s.Parameters {
		if p.Tag == tag {
			return p, true
		}
	}
	return Parameter{}, false
}

// ValueOr returns the named value, or def if the parameter is absent.
func (s Spec) ValueOr(name string, def float64) float64 {
	if v, ok := s.Value(name); ok {
		return v
	}
	return def
}

// FixAll marks every parameter fixed.
func (s Spec) FixAll() Spec {
	out := s.Clone()
	for i := range out.Parameters {
		out.Parameters[i].Fixed = true
	}
	return out
}

// Free releases every parameter carrying one of tags.
func (s Spec) Free(tags ...string) Spec {
	out := s.Clone()
	for i, p := range out.Parameters {
		if slices.Contains(tags, p.Tag) {
			out.Parameters[i].Fixed = false
		}
	}
	return out
}

// FreeNames lists the names of the free parameters in order.
func (s Spec) FreeNames() []string {
	var names []string
	for _, p := range s.Parameters {
		if !p.Fixed {
			names = append(names, p.Name)
		}
	}
	return names
}

// FreeValues returns the current values of the free parameters in order.
func (s Spec) FreeValues() []float64 {
	var x []float64
	for _, p := range s.Parameters {
		if !p.Fixed {
			x = append(x, p.Value)
		}
	}
	return x
}

// WithFree returns a copy of s whose free parameters take the values x, in
// FreeValues order. Extra or missing values are an error.
func (s Spec) WithFree(x []float64) (Spec, error) {
	out := s.Clone()
	j := 0
	for i, p := range out.Parameters {
		if p.Fixed {
			continue
		}
		if j >= len(x) {
			return Spec{}, fmt.Errorf("%d free values for more free parameters: %w", len(x), errs.ErrLengthMismatch)
		}
		out.Parameters[i].Value = x[j]
		j++
	}
	if j != len(x) {
		return Spec{}, fmt.Errorf("%d free values for %d free parameters: %w", len(x), j, errs.ErrLengthMismatch)
	}
	return out, nil
}

// Penalty sums the restraint cost of every parameter, free or fixed.
func (s Spec) Penalty() float64 {
	var sum float64
	for _, p := range s.Parameters {
		if p.Restraint != nil {
			sum += p.Restraint.Penalty(p.Value)
		}
	}
	return sum
}

// Finite reports whether every parameter value is finite.
func (s Spec) Finite() bool {
	for _, p := range s.Parameters {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return false
		}
	}
	return true
}

// Values maps parameter names to values.
func (s Spec) Values() map[string]float64 {
	m := make(map[string]float64, len(s.Parameters))
	for _, p := range s.Parameters {
		m[p.Name] = p.Value
	}
	return m
}
