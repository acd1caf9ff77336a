package fvmap

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/clydemcqueen/fiducial-vlam-sam/observation"
	"github.com/clydemcqueen/fiducial-vlam-sam/spatialmath"
	"github.com/clydemcqueen/fiducial-vlam-sam/twc"
)

func TestInsertRejectsDuplicateID(t *testing.T) {
	m := NewMap(0.1, StylePose)
	test.That(t, m.Insert(&Marker{ID: 3, TMapMarker: twc.Identity()}), test.ShouldBeNil)
	err := m.Insert(&Marker{ID: 3, TMapMarker: twc.Identity()})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrDuplicateMarkerID), test.ShouldBeTrue)
	test.That(t, m.Len(), test.ShouldEqual, 1)
}

func TestFindTMapMarkersPreservesOrder(t *testing.T) {
	m := NewMap(0.1, StylePose)
	known := twc.New(spatialmath.NewPoseFromPoint(r3.Vector{X: 0.5}), nil)
	test.That(t, m.Insert(&Marker{ID: 7, TMapMarker: known}), test.ShouldBeNil)

	obs := observation.Observations{
		{ID: 99},
		{ID: 7},
		{ID: 42},
	}
	poses := m.FindTMapMarkers(obs)
	test.That(t, len(poses), test.ShouldEqual, 3)
	test.That(t, poses[0].IsValid(), test.ShouldBeFalse)
	test.That(t, poses[1].IsValid(), test.ShouldBeTrue)
	test.That(t, poses[1].Pose().Point().X, test.ShouldAlmostEqual, 0.5, 1e-12)
	test.That(t, poses[2].IsValid(), test.ShouldBeFalse)
}

func TestHasFixedMarker(t *testing.T) {
	m := NewMap(0.1, StylePose)
	test.That(t, m.HasFixedMarker(), test.ShouldBeFalse)
	test.That(t, m.Insert(&Marker{ID: 1, TMapMarker: twc.Identity()}), test.ShouldBeNil)
	test.That(t, m.HasFixedMarker(), test.ShouldBeFalse)
	test.That(t, m.Insert(&Marker{ID: 2, TMapMarker: twc.Identity(), IsFixed: true}), test.ShouldBeNil)
	test.That(t, m.HasFixedMarker(), test.ShouldBeTrue)
}

func TestLowestID(t *testing.T) {
	m := NewMap(0.1, StylePose)
	_, ok := m.LowestID()
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, m.Insert(&Marker{ID: 9, TMapMarker: twc.Identity()}), test.ShouldBeNil)
	test.That(t, m.Insert(&Marker{ID: 4, TMapMarker: twc.Identity()}), test.ShouldBeNil)
	test.That(t, m.Insert(&Marker{ID: 17, TMapMarker: twc.Identity()}), test.ShouldBeNil)
	lowest, ok := m.LowestID()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, lowest, test.ShouldEqual, int32(4))
}

func TestCanonicalCorners(t *testing.T) {
	corners := CanonicalCorners(0.2)
	want := [4]r3.Vector{
		{X: -0.1, Y: 0.1},
		{X: 0.1, Y: 0.1},
		{X: 0.1, Y: -0.1},
		{X: -0.1, Y: -0.1},
	}
	for i := range corners {
		test.That(t, corners[i].Sub(want[i]).Norm(), test.ShouldAlmostEqual, 0, 1e-12)
	}
}

func TestMarkerCornersInFrame(t *testing.T) {
	// A marker yawed 90 degrees and offset along x: its top-left corner rotates into (-y, x) form.
	tMapMarker := twc.New(spatialmath.NewPose(
		r3.Vector{X: 1},
		&spatialmath.EulerAngles{Yaw: math.Pi / 2},
	), nil)
	corners := MarkerCornersInFrame(tMapMarker, 0.2)

	// Canonical corner 0 is (-0.1, 0.1, 0); yawed it becomes (-0.1, -0.1, 0) plus the offset.
	test.That(t, corners[0].X, test.ShouldAlmostEqual, 1-0.1, 1e-9)
	test.That(t, corners[0].Y, test.ShouldAlmostEqual, -0.1, 1e-9)
	test.That(t, corners[0].Z, test.ShouldAlmostEqual, 0, 1e-9)
}
