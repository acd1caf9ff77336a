// Package observation carries the detector's per-frame output: which markers were seen and where their
// corners fell in the image, plus the camera model those pixel coordinates were measured against. This
// package performs no interpretation of the corners; it is purely a transport type.
package observation

import "github.com/golang/geo/r2"

// CornerCount is the number of corners a square fiducial marker contributes per observation.
const CornerCount = 4

// Observation is one detected marker in one frame: its id and its four image-plane corners in canonical
// order (top-left, top-right, bottom-right, bottom-left as seen in the image).
type Observation struct {
	ID      int32
	Corners [CornerCount]r2.Point
}

// NewObservation builds an Observation from raw detector output: an id and four (x, y) pixel pairs
// already in canonical corner order.
func NewObservation(id int32, corners [CornerCount]r2.Point) Observation {
	return Observation{ID: id, Corners: corners}
}

// Observations is an ordered sequence of Observation, preserving detector order.
type Observations []Observation

// IDs returns the marker ids present, in observation order.
func (obs Observations) IDs() []int32 {
	ids := make([]int32, len(obs))
	for i, o := range obs {
		ids[i] = o.ID
	}
	return ids
}

// CameraInfo describes a calibrated pinhole camera: its intrinsics (fx, fy, cx, cy) and 5-parameter
// Brown-Conrady distortion (k1, k2, p1, p2, k3).
type CameraInfo struct {
	Fx, Fy, Cx, Cy     float64
	K1, K2, P1, P2, K3 float64
}

// Distortion returns the distortion coefficients in (k1, k2, p1, p2, k3) order, the order NewBrownConrady
// expects.
func (c CameraInfo) Distortion() []float64 {
	return []float64{c.K1, c.K2, c.P1, c.P2, c.K3}
}
