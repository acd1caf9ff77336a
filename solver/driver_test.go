package solver

import (
	"testing"

	"go.viam.com/test"

	"github.com/clydemcqueen/fiducial-vlam-sam/fvmap"
	"github.com/clydemcqueen/fiducial-vlam-sam/internal/logging"
	"github.com/clydemcqueen/fiducial-vlam-sam/observation"
	"github.com/clydemcqueen/fiducial-vlam-sam/twc"
)

func newTestDriver(t *testing.T, samNotCV bool) *FiducialMath {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SamNotCV = samNotCV
	fm, err := New(cfg, testCameraInfo(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return fm
}

func TestDriverLocalizesWithBothBackends(t *testing.T) {
	for _, samNotCV := range []bool{false, true} {
		fm := newTestDriver(t, samNotCV)
		m := fvmap.NewMap(testMarkerLength, fvmap.StylePose)
		test.That(t, m.Insert(&fvmap.Marker{ID: 0, TMapMarker: twc.Identity(), IsFixed: true}), test.ShouldBeNil)

		tMapCamera := downwardCamera(0.02, -0.01, 0.9)
		obsList := observation.Observations{
			renderObservation(t, 0, tMapCamera, twc.Identity(), testCameraInfo()),
		}
		got := fm.SolveTMapCamera(obsList, m)
		test.That(t, got.IsValid(), test.ShouldBeTrue)
		poseAlmostEqual(t, got.Pose(), tMapCamera, 1e-3)
	}
}

func TestDriverGeometricUpdateInserts(t *testing.T) {
	fm := newTestDriver(t, false)
	m := fvmap.NewMap(testMarkerLength, fvmap.StylePose)
	test.That(t, m.Insert(&fvmap.Marker{ID: 0, TMapMarker: twc.Identity(), IsFixed: true}), test.ShouldBeNil)

	tMapCamera := downwardCamera(0, 0, 1)
	obsList := observation.Observations{
		renderObservation(t, 3, tMapCamera, markerAt(0.15, 0, 0), testCameraInfo()),
	}
	fm.UpdateMap(twc.New(tMapCamera, nil), obsList, m)
	test.That(t, m.Find(3), test.ShouldNotBeNil)
}

func TestDriverSamUpdateInserts(t *testing.T) {
	fm := newTestDriver(t, true)
	m := fvmap.NewMap(testMarkerLength, fvmap.StylePose)
	test.That(t, m.Insert(&fvmap.Marker{ID: 0, TMapMarker: twc.Identity(), IsFixed: true}), test.ShouldBeNil)

	tMapCamera := downwardCamera(0.05, 0, 0.8)
	obsList := observation.Observations{
		renderObservation(t, 0, tMapCamera, twc.Identity(), testCameraInfo()),
		renderObservation(t, 3, tMapCamera, markerAt(0.15, 0, 0), testCameraInfo()),
	}
	fm.UpdateMap(twc.New(tMapCamera, nil), obsList, m)
	test.That(t, m.Find(3), test.ShouldNotBeNil)
}

func TestDriverLocalizeThenUpdateShortCircuit(t *testing.T) {
	// An all-unknown frame localizes to an invalid pose, and an update with that pose is a no-op.
	fm := newTestDriver(t, true)
	m := fvmap.NewMap(testMarkerLength, fvmap.StylePose)
	test.That(t, m.Insert(&fvmap.Marker{ID: 0, TMapMarker: twc.Identity(), IsFixed: true}), test.ShouldBeNil)

	tMapCamera := downwardCamera(0, 0, 1)
	obsList := observation.Observations{
		renderObservation(t, 7, tMapCamera, markerAt(0.1, 0, 0), testCameraInfo()),
		renderObservation(t, 8, tMapCamera, markerAt(0.2, 0, 0), testCameraInfo()),
	}
	pose := fm.SolveTMapCamera(obsList, m)
	test.That(t, pose.IsValid(), test.ShouldBeFalse)

	fm.UpdateMap(pose, obsList, m)
	test.That(t, m.Len(), test.ShouldEqual, 1)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CornerMeasurementSigma = 0
	_, err := New(cfg, testCameraInfo(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)

	cfg = DefaultConfig()
	_, err = New(cfg, observation.CameraInfo{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}
