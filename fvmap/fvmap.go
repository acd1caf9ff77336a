// Package fvmap holds the Marker/Map store: an indexed collection of marker poses in the shared map
// frame, along with the map-wide constants (marker side length, persisted covariance fidelity) that every
// marker shares.
package fvmap

import (
	"github.com/pkg/errors"

	"github.com/clydemcqueen/fiducial-vlam-sam/observation"
	"github.com/clydemcqueen/fiducial-vlam-sam/twc"
)

// Style declares which covariance fidelity is persisted for a map's markers.
type Style int

const (
	// StylePose persists only the mean pose, no covariance.
	StylePose Style = iota
	// StyleCovariance persists the full 6x6 covariance.
	StyleCovariance
	// StyleCorners persists covariance derived from the four corner positions rather than the pose
	// directly. Corner-based fidelity is a persistence-layer concern; the core treats it the same as
	// StyleCovariance.
	StyleCorners
)

// ErrDuplicateMarkerID is returned by Insert when a marker with the same id is already present.
var ErrDuplicateMarkerID = errors.New("duplicate marker id")

// Marker is a single marker's pose in the map frame, along with its update bookkeeping.
type Marker struct {
	ID          int32
	TMapMarker  twc.TWC
	UpdateCount uint32
	IsFixed     bool
}

// Map is the indexed collection of Markers plus the two map-wide constants: marker_length (identical for
// every marker) and the persisted covariance style.
type Map struct {
	markerLength float64
	style        Style
	markers      map[int32]*Marker
}

// NewMap constructs an empty map with the given (immutable) marker side length and covariance style.
func NewMap(markerLength float64, style Style) *Map {
	return &Map{
		markerLength: markerLength,
		style:        style,
		markers:      make(map[int32]*Marker),
	}
}

// MarkerLength returns the shared marker side length, in meters.
func (m *Map) MarkerLength() float64 {
	return m.markerLength
}

// MapStyle returns the persisted covariance fidelity.
func (m *Map) MapStyle() Style {
	return m.style
}

// Find returns the marker with the given id, or nil if not present.
func (m *Map) Find(id int32) *Marker {
	return m.markers[id]
}

// Insert adds a new marker to the map. It returns ErrDuplicateMarkerID if a marker with the same id
// already exists.
func (m *Map) Insert(marker *Marker) error {
	if _, exists := m.markers[marker.ID]; exists {
		return errors.Wrapf(ErrDuplicateMarkerID, "id %d", marker.ID)
	}
	m.markers[marker.ID] = marker
	return nil
}

// Len returns the number of markers currently in the map.
func (m *Map) Len() int {
	return len(m.markers)
}

// HasFixedMarker reports whether at least one marker in the map is fixed. The factor-graph solver
// requires at least one fixed marker before it will insert a non-fixed one.
func (m *Map) HasFixedMarker() bool {
	for _, marker := range m.markers {
		if marker.IsFixed {
			return true
		}
	}
	return false
}

// LowestID returns the lowest marker id, and false if the map has no markers.
func (m *Map) LowestID() (int32, bool) {
	first := true
	var lowest int32
	for id := range m.markers {
		if first || id < lowest {
			lowest = id
			first = false
		}
	}
	return lowest, !first
}

// Each calls fn for every marker in the map, in unspecified order.
func (m *Map) Each(fn func(*Marker)) {
	for _, marker := range m.markers {
		fn(marker)
	}
}

// FindTMapMarkers returns, for each observation (preserving order), the map pose of the corresponding
// marker if known, or an invalid TWC if the marker is not yet in the map.
func (m *Map) FindTMapMarkers(obs observation.Observations) []twc.TWC {
	out := make([]twc.TWC, len(obs))
	for i, o := range obs {
		if marker := m.Find(o.ID); marker != nil {
			out[i] = marker.TMapMarker
		} else {
			out[i] = twc.Invalid()
		}
	}
	return out
}
