// Package dataset owns the binned observation consumed by the TS map
// estimator: counts and background cubes in reconstructed energy, an
// exposure cube in true energy, an optional safe-region mask and the
// optional PSF and energy dispersion responses.
package dataset
