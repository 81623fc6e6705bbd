// Package pdfcalc simulates the reduced pair distribution function G(r) of an
// isolated (non-periodic) cluster.
//
// Pair contributions are Gaussian peaks whose width follows from the summed
// isotropic displacement parameters, sharpened by delta2 and broadened by
// QBroad. The real-space trace is band-limited to [QMin, QMax] with a
// discrete sine transform and damped by the QDamp envelope before being
// interpolated onto the requested r grid. Scattering weights are X-ray form
// factors at Q = 0, i.e. atomic numbers.
package pdfcalc
