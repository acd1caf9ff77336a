package solver

import (
	"testing"

	"go.viam.com/test"

	"github.com/clydemcqueen/fiducial-vlam-sam/fvmap"
	"github.com/clydemcqueen/fiducial-vlam-sam/observation"
	"github.com/clydemcqueen/fiducial-vlam-sam/twc"
)

func TestSamSolveTMapCamera(t *testing.T) {
	sam := newTestSamSolver(t)
	m := fvmap.NewMap(testMarkerLength, fvmap.StylePose)
	test.That(t, m.Insert(&fvmap.Marker{ID: 0, TMapMarker: twc.Identity(), IsFixed: true}), test.ShouldBeNil)

	tMapCamera := downwardCamera(0.05, 0, 0.8)
	obsList := observation.Observations{
		renderObservation(t, 0, tMapCamera, twc.Identity(), testCameraInfo()),
	}

	got := sam.SolveTMapCamera(obsList, m)
	test.That(t, got.IsValid(), test.ShouldBeTrue)
	poseAlmostEqual(t, got.Pose(), tMapCamera, 1e-3)

	// The optimizer reports a marginal covariance with positive diagonal.
	cov := got.Cov36()
	for i := 0; i < 6; i++ {
		test.That(t, cov[i*6+i] > 0, test.ShouldBeTrue)
	}
}

func TestSamSolveTMapCameraNoKnownMarkers(t *testing.T) {
	sam := newTestSamSolver(t)
	m := fvmap.NewMap(testMarkerLength, fvmap.StylePose)
	test.That(t, m.Insert(&fvmap.Marker{ID: 0, TMapMarker: twc.Identity(), IsFixed: true}), test.ShouldBeNil)

	obsList := observation.Observations{
		renderObservation(t, 9, downwardCamera(0, 0, 1), twc.Identity(), testCameraInfo()),
	}
	test.That(t, sam.SolveTMapCamera(obsList, m).IsValid(), test.ShouldBeFalse)
}

func TestSamUpdateMapInsertsUnknownMarker(t *testing.T) {
	sam := newTestSamSolver(t)
	m := fvmap.NewMap(testMarkerLength, fvmap.StylePose)
	test.That(t, m.Insert(&fvmap.Marker{ID: 0, TMapMarker: twc.Identity(), IsFixed: true}), test.ShouldBeNil)

	tMapCamera := downwardCamera(0.05, 0, 0.8)
	truth1 := markerAt(0.2, 0, 0)
	obsList := observation.Observations{
		renderObservation(t, 0, tMapCamera, twc.Identity(), testCameraInfo()),
		renderObservation(t, 1, tMapCamera, truth1, testCameraInfo()),
	}

	sam.UpdateMap(twc.New(tMapCamera, nil), obsList, m)

	marker := m.Find(1)
	test.That(t, marker, test.ShouldNotBeNil)
	test.That(t, marker.IsFixed, test.ShouldBeFalse)
	test.That(t, marker.UpdateCount, test.ShouldEqual, uint32(1))

	mean := marker.TMapMarker.Vector6()
	test.That(t, mean[0], test.ShouldAlmostEqual, 0.2, 1e-2)
	test.That(t, mean[1], test.ShouldAlmostEqual, 0, 1e-2)
	test.That(t, mean[2], test.ShouldAlmostEqual, 0, 1e-2)

	cov := marker.TMapMarker.Cov36()
	for i := 0; i < 6; i++ {
		test.That(t, cov[i*6+i] > 0, test.ShouldBeTrue)
	}
}

func TestSamUpdateMapKeepsFixedMarkerImmutable(t *testing.T) {
	sam := newTestSamSolver(t)
	m := fvmap.NewMap(testMarkerLength, fvmap.StylePose)
	test.That(t, m.Insert(&fvmap.Marker{ID: 0, TMapMarker: twc.Identity(), IsFixed: true}), test.ShouldBeNil)
	before := m.Find(0).TMapMarker.Vector6()

	tMapCamera := downwardCamera(0.05, 0, 0.8)
	obsList := observation.Observations{
		renderObservation(t, 0, tMapCamera, twc.Identity(), testCameraInfo()),
		renderObservation(t, 1, tMapCamera, markerAt(0.2, 0, 0), testCameraInfo()),
	}
	sam.UpdateMap(twc.New(tMapCamera, nil), obsList, m)

	fixed := m.Find(0)
	test.That(t, fixed.UpdateCount, test.ShouldEqual, uint32(0))
	test.That(t, fixed.TMapMarker.Vector6(), test.ShouldResemble, before)
}

func TestSamUpdateMapRefinesKnownMarker(t *testing.T) {
	sam := newTestSamSolver(t)
	m := fvmap.NewMap(testMarkerLength, fvmap.StyleCovariance)
	test.That(t, m.Insert(&fvmap.Marker{ID: 0, TMapMarker: twc.Identity(), IsFixed: true}), test.ShouldBeNil)
	// A non-fixed marker seeded slightly off its true position, with the all-zero covariance sentinel:
	// its prior is constrained, but the marker itself is still rewritten by the optimizer.
	test.That(t, m.Insert(&fvmap.Marker{ID: 1, TMapMarker: markerAt(0.2, 0, 0), UpdateCount: 1}), test.ShouldBeNil)

	tMapCamera := downwardCamera(0.05, 0, 0.8)
	obsList := observation.Observations{
		renderObservation(t, 0, tMapCamera, twc.Identity(), testCameraInfo()),
		renderObservation(t, 1, tMapCamera, markerAt(0.2, 0, 0), testCameraInfo()),
	}
	sam.UpdateMap(twc.New(tMapCamera, nil), obsList, m)

	marker := m.Find(1)
	test.That(t, marker.UpdateCount, test.ShouldEqual, uint32(2))
	mean := marker.TMapMarker.Vector6()
	test.That(t, mean[0], test.ShouldAlmostEqual, 0.2, 1e-2)
}

func TestSamUpdateMapInsufficientObservations(t *testing.T) {
	sam := newTestSamSolver(t)
	m := fvmap.NewMap(testMarkerLength, fvmap.StylePose)
	test.That(t, m.Insert(&fvmap.Marker{ID: 0, TMapMarker: twc.Identity(), IsFixed: true}), test.ShouldBeNil)

	tMapCamera := downwardCamera(0, 0, 1)
	obsList := observation.Observations{
		renderObservation(t, 1, tMapCamera, markerAt(0.1, 0, 0), testCameraInfo()),
	}
	sam.UpdateMap(twc.New(tMapCamera, nil), obsList, m)
	test.That(t, m.Len(), test.ShouldEqual, 1)
}

func TestSamUpdateMapInvalidPoseIsNoOp(t *testing.T) {
	sam := newTestSamSolver(t)
	m := fvmap.NewMap(testMarkerLength, fvmap.StylePose)
	test.That(t, m.Insert(&fvmap.Marker{ID: 0, TMapMarker: twc.Identity(), IsFixed: true}), test.ShouldBeNil)

	tMapCamera := downwardCamera(0, 0, 1)
	obsList := observation.Observations{
		renderObservation(t, 1, tMapCamera, markerAt(0.1, 0, 0), testCameraInfo()),
		renderObservation(t, 2, tMapCamera, markerAt(0.2, 0, 0), testCameraInfo()),
	}
	sam.UpdateMap(twc.Invalid(), obsList, m)
	test.That(t, m.Len(), test.ShouldEqual, 1)
}

func TestSamUpdateMapRequiresFixedAnchor(t *testing.T) {
	sam := newTestSamSolver(t)
	m := fvmap.NewMap(testMarkerLength, fvmap.StylePose)
	test.That(t, m.Insert(&fvmap.Marker{ID: 0, TMapMarker: twc.Identity()}), test.ShouldBeNil)

	tMapCamera := downwardCamera(0, 0, 1)
	obsList := observation.Observations{
		renderObservation(t, 0, tMapCamera, twc.Identity(), testCameraInfo()),
		renderObservation(t, 1, tMapCamera, markerAt(0.2, 0, 0), testCameraInfo()),
	}
	sam.UpdateMap(twc.New(tMapCamera, nil), obsList, m)
	test.That(t, m.Find(1), test.ShouldBeNil)
}

func TestSolveCameraFMarker(t *testing.T) {
	sam := newTestSamSolver(t)
	tMapCamera := downwardCamera(0, 0, 1)
	obs := renderObservation(t, 0, tMapCamera, twc.Identity(), testCameraInfo())

	got := sam.solveCameraFMarker(obs, testMarkerLength)
	test.That(t, got.IsValid(), test.ShouldBeTrue)
	// The marker is at the map origin, so camera-in-marker equals the camera's map pose.
	poseAlmostEqual(t, got.Pose(), tMapCamera, 1e-3)

	cov := got.Cov36()
	for i := 0; i < 6; i++ {
		test.That(t, cov[i*6+i] > 0, test.ShouldBeTrue)
	}
}
