// Package fit refines one candidate cluster against an experimental G(r)
// profile and scores the agreement.
//
// A fit builds a fresh parameter Spec (scale, three zoom scales, delta2 and
// per-element Biso), fixes everything, frees the configured tags and hands
// the spec to an Engine for minimisation. Only the engine knows how G(r) is
// computed; DebyeEngine is the bundled implementation.
package fit
