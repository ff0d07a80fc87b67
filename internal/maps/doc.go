// Package maps holds the pixel containers shared by the estimator: a flat
// spatial geometry, energy axes, 2D images, energy-binned cubes and masks.
//
// Responsibilities: zero-filled cutouts, block reduction, nearest-neighbour
// upsampling, stacking images along an energy axis and grouping energy
// bins by requested edges.
//
// No coordinate system transforms are performed; Geom carries the frame
// and reference position for labelling only.
package maps
