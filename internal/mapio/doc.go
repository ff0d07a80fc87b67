// Package mapio reads and writes datasets, flux maps and spatial templates
// as FITS files. Every map is a float64 image extension carrying BINSZ,
// CRVAL1, CRVAL2 and BUNIT cards; energy axes are stored as 1-D extensions
// of bin edges.
package mapio
