// Package msg holds the boundary message types the core exchanges with its collaborators: the
// observations message arriving from the marker detector and the map message handed to the publisher.
// These are transport contracts only; the core never interprets them beyond the conversions here.
package msg

import (
	"sort"
	"time"

	"github.com/golang/geo/r2"

	"github.com/clydemcqueen/fiducial-vlam-sam/fvmap"
	"github.com/clydemcqueen/fiducial-vlam-sam/observation"
)

// Header stamps a message with its capture time and coordinate frame.
type Header struct {
	Stamp   time.Time
	FrameID string
}

// ObservationMsg is one detected marker: its id and four image-plane corners in canonical order
// (top-left, top-right, bottom-right, bottom-left), in pixel coordinates.
type ObservationMsg struct {
	ID             int32
	X0, Y0, X1, Y1 float64
	X2, Y2, X3, Y3 float64
}

// ObservationsMsg is the per-frame message from the detector: the camera calibration the corners were
// measured against (row-major 3x3 K, 5-element distortion D) and the detected markers.
type ObservationsMsg struct {
	Header       Header
	K            [9]float64
	D            [5]float64
	Observations []ObservationMsg
}

// CameraInfo extracts the intrinsics and distortion in the core's representation.
func (m *ObservationsMsg) CameraInfo() observation.CameraInfo {
	return observation.CameraInfo{
		Fx: m.K[0], Fy: m.K[4], Cx: m.K[2], Cy: m.K[5],
		K1: m.D[0], K2: m.D[1], P1: m.D[2], P2: m.D[3], K3: m.D[4],
	}
}

// ToObservations converts the detected markers to the core's observation sequence, preserving order.
func (m *ObservationsMsg) ToObservations() observation.Observations {
	obs := make(observation.Observations, len(m.Observations))
	for i, o := range m.Observations {
		obs[i] = observation.NewObservation(o.ID, [observation.CornerCount]r2.Point{
			{X: o.X0, Y: o.Y0},
			{X: o.X1, Y: o.Y1},
			{X: o.X2, Y: o.Y2},
			{X: o.X3, Y: o.Y3},
		})
	}
	return obs
}

// NewObservationsMsg builds the detector-side message from core types.
func NewObservationsMsg(header Header, ci observation.CameraInfo, obs observation.Observations) *ObservationsMsg {
	m := &ObservationsMsg{
		Header: header,
		K:      [9]float64{ci.Fx, 0, ci.Cx, 0, ci.Fy, ci.Cy, 0, 0, 1},
		D:      [5]float64{ci.K1, ci.K2, ci.P1, ci.P2, ci.K3},
	}
	for _, o := range obs {
		m.Observations = append(m.Observations, ObservationMsg{
			ID: o.ID,
			X0: o.Corners[0].X, Y0: o.Corners[0].Y,
			X1: o.Corners[1].X, Y1: o.Corners[1].Y,
			X2: o.Corners[2].X, Y2: o.Corners[2].Y,
			X3: o.Corners[3].X, Y3: o.Corners[3].Y,
		})
	}
	return m
}

// PoseWithCovariance is a pose mean (x, y, z, roll, pitch, yaw) with a row-major 6x6 covariance.
type PoseWithCovariance struct {
	Mean [6]float64
	Cov  [36]float64
}

// MapMsg is the message handed to the publisher collaborator: the map-wide constants plus parallel
// per-marker arrays, sorted by marker id.
type MapMsg struct {
	Header       Header
	MarkerLength float64
	MapStyle     int32
	FixedFlags   []uint8
	IDs          []int32
	Poses        []PoseWithCovariance
}

// NewMapMsg builds the publisher-side message from a map.
func NewMapMsg(header Header, m *fvmap.Map) *MapMsg {
	out := &MapMsg{
		Header:       header,
		MarkerLength: m.MarkerLength(),
		MapStyle:     int32(m.MapStyle()),
	}

	var markers []*fvmap.Marker
	m.Each(func(marker *fvmap.Marker) {
		markers = append(markers, marker)
	})
	sort.Slice(markers, func(i, j int) bool { return markers[i].ID < markers[j].ID })

	for _, marker := range markers {
		var fixed uint8
		if marker.IsFixed {
			fixed = 1
		}
		var pwc PoseWithCovariance
		pwc.Mean = marker.TMapMarker.Vector6()
		copy(pwc.Cov[:], marker.TMapMarker.Cov36())

		out.FixedFlags = append(out.FixedFlags, fixed)
		out.IDs = append(out.IDs, marker.ID)
		out.Poses = append(out.Poses, pwc)
	}
	return out
}
