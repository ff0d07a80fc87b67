// Package models owns the source shapes fitted by the TS map estimator.
//
// Spatial and spectral shapes are closed tagged unions: a Kind field picks
// the variant and methods switch on it. Spectral integrals are in TeV and
// photon flux units (cm-2 s-1).
//
// Models are read from and written to a JSON components document. Spatial
// templates referenced by filename are loaded through a TemplateCache
// owned by the caller.
package models
