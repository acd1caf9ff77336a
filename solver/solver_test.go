package solver

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/clydemcqueen/fiducial-vlam-sam/fvmap"
	"github.com/clydemcqueen/fiducial-vlam-sam/internal/logging"
	"github.com/clydemcqueen/fiducial-vlam-sam/observation"
	"github.com/clydemcqueen/fiducial-vlam-sam/spatialmath"
	"github.com/clydemcqueen/fiducial-vlam-sam/twc"
)

const testMarkerLength = 0.1

func testCameraInfo() observation.CameraInfo {
	return observation.CameraInfo{Fx: 600, Fy: 600, Cx: 320, Cy: 240}
}

// downwardCamera is a camera at the given map position looking straight down at the z=0 plane: a
// half-turn about X composed with the position.
func downwardCamera(x, y, z float64) spatialmath.Pose {
	return spatialmath.NewPose(
		r3.Vector{X: x, Y: y, Z: z},
		&spatialmath.EulerAngles{Roll: math.Pi},
	)
}

// renderObservation projects a marker's corners through an ideal camera at tMapCamera.
func renderObservation(
	t *testing.T,
	id int32,
	tMapCamera spatialmath.Pose,
	tMapMarker twc.TWC,
	ci observation.CameraInfo,
) observation.Observation {
	t.Helper()
	camFromMap := spatialmath.PoseInverse(tMapCamera)
	corners := fvmap.MarkerCornersInFrame(tMapMarker, testMarkerLength)
	var imageCorners [observation.CornerCount]r2.Point
	for i, c := range corners {
		camPt := spatialmath.Compose(camFromMap, spatialmath.NewPoseFromPoint(c)).Point()
		test.That(t, camPt.Z > 0, test.ShouldBeTrue)
		imageCorners[i] = r2.Point{
			X: camPt.X/camPt.Z*ci.Fx + ci.Cx,
			Y: camPt.Y/camPt.Z*ci.Fy + ci.Cy,
		}
	}
	return observation.NewObservation(id, imageCorners)
}

func markerAt(x, y, z float64) twc.TWC {
	return twc.New(spatialmath.NewPoseFromPoint(r3.Vector{X: x, Y: y, Z: z}), nil)
}

func newTestCVSolver(t *testing.T) *CVSolver {
	t.Helper()
	model, err := CameraModel(testCameraInfo())
	test.That(t, err, test.ShouldBeNil)
	return NewCVSolver(model, logging.NewTestLogger(t))
}

func newTestSamSolver(t *testing.T) *SamSolver {
	t.Helper()
	model, err := CameraModel(testCameraInfo())
	test.That(t, err, test.ShouldBeNil)
	cv := NewCVSolver(model, logging.NewTestLogger(t))
	return NewSamSolver(cv, model, DefaultConfig(), logging.NewTestLogger(t))
}

func poseAlmostEqual(t *testing.T, got, want spatialmath.Pose, tol float64) {
	t.Helper()
	test.That(t, got.Point().Sub(want.Point()).Norm(), test.ShouldBeLessThan, tol)
	test.That(t, spatialmath.QuaternionAlmostEqual(
		got.Orientation().Quaternion(), want.Orientation().Quaternion(), tol), test.ShouldBeTrue)
}
