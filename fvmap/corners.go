package fvmap

import (
	"github.com/golang/geo/r3"

	"github.com/clydemcqueen/fiducial-vlam-sam/twc"
)

// CanonicalCorners returns the four corners of a marker of side length in the marker's own frame, in
// canonical order (top-left, top-right, bottom-right, bottom-left as seen facing the marker along +Z).
// The marker lies in its own XY-plane, centered at the origin.
func CanonicalCorners(length float64) [4]r3.Vector {
	half := length / 2
	return [4]r3.Vector{
		{X: -half, Y: half, Z: 0},
		{X: half, Y: half, Z: 0},
		{X: half, Y: -half, Z: 0},
		{X: -half, Y: -half, Z: 0},
	}
}

// MarkerCornersInFrame returns the four canonical corners of this marker transformed by tFrameMarker,
// e.g. the marker's corners expressed in the map frame when tFrameMarker is TMapMarker.
func MarkerCornersInFrame(tFrameMarker twc.TWC, length float64) [4]r3.Vector {
	corners := CanonicalCorners(length)
	out := [4]r3.Vector{}
	for i, c := range corners {
		out[i] = twc.Apply(tFrameMarker, c)
	}
	return out
}
