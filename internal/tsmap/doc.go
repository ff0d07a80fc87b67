// Package tsmap owns the test-statistic map estimator.
//
// For every pixel of a binned dataset the estimator fits the amplitude of
// a source template under the Poisson (Cash) likelihood and reports the
// TS against the no-source hypothesis, the flux, its errors, an upper
// limit and the iteration count.
//
// Responsibilities:
//   - BuildKernel: source template per true-energy bin (spatial shape
//     folded with the PSF, weighted by the spectral integral).
//   - Fitter: Newton iterations on the amplitude with profile-likelihood
//     errors and upper limits.
//   - Estimator.Run: energy grouping, optional downsampling, the parallel
//     pixel pass and assembly of FluxMaps.
//   - FindPeaks: local maxima of a TS map.
//
// Pixels outside the mask, without background or without exposure are
// never fitted and are NaN in every output map.
package tsmap
