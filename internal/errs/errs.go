// Package errs defines the error taxonomy shared by the catalogue, pruning,
// fitting and evaluation packages. Producers wrap these sentinels with
// fmt.Errorf("...: %w", ...) so callers can classify failures with errors.Is.
package errs

import "errors"

var (
	// ErrConfiguration reports invalid generation bounds, counts or indices.
	ErrConfiguration = errors.New("configuration error")

	// ErrData reports a missing or unparsable structure, catalogue or
	// experimental data source, or a calculation range with no points.
	ErrData = errors.New("data error")

	// ErrDegenerateStructure reports a candidate with zero metal or zero
	// non-metal atoms after pruning. Such candidates never get an R-factor.
	ErrDegenerateStructure = errors.New("degenerate structure")

	// ErrFitDivergence reports a minimisation that produced non-finite values.
	ErrFitDivergence = errors.New("fit diverged")

	// ErrLengthMismatch reports observed and simulated profiles of different length.
	ErrLengthMismatch = errors.New("length mismatch")

	// ErrUndefinedRFactor reports an R-factor whose denominator is zero.
	ErrUndefinedRFactor = errors.New("r-factor undefined")
)

// Kind returns a short machine-readable label for err, suitable for
// persisting alongside a failed candidate. Unknown errors map to "error".
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDegenerateStructure):
		return "degenerate"
	case errors.Is(err, ErrFitDivergence):
		return "diverged"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrData):
		return "data"
	case errors.Is(err, ErrLengthMismatch), errors.Is(err, ErrUndefinedRFactor):
		return "rfactor"
	default:
		return "error"
	}
}
