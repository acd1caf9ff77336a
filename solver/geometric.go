package solver

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/clydemcqueen/fiducial-vlam-sam/fvmap"
	"github.com/clydemcqueen/fiducial-vlam-sam/internal/logging"
	"github.com/clydemcqueen/fiducial-vlam-sam/observation"
	"github.com/clydemcqueen/fiducial-vlam-sam/rimage/transform"
	"github.com/clydemcqueen/fiducial-vlam-sam/spatialmath"
	"github.com/clydemcqueen/fiducial-vlam-sam/twc"
)

// mirrorGuardThreshold is the per-component rotation-vector difference, in radians, beyond which the
// iterative and RANSAC solves are considered to disagree and the RANSAC result is taken.
const mirrorGuardThreshold = 0.5

// CVSolver is the closed-form geometric backend: iterative perspective-n-point solves with no
// optimization pass and no covariance estimate.
type CVSolver struct {
	model  *transform.PinholeCameraModel
	logger logging.Logger
}

// NewCVSolver builds the geometric backend for one camera.
func NewCVSolver(model *transform.PinholeCameraModel, logger logging.Logger) *CVSolver {
	return &CVSolver{model: model, logger: logger}
}

// SolveTCameraMarker solves for the transform that maps marker-frame points into the camera frame, from
// one marker's four observed corners. The covariance of the result is zero.
func (s *CVSolver) SolveTCameraMarker(obs observation.Observation, markerLength float64) twc.TWC {
	corners := fvmap.CanonicalCorners(markerLength)
	sol, err := transform.SolvePnP(corners[:], obs.Corners[:], s.model)
	if err != nil {
		s.logger.Debugw("solve_t_camera_marker failed", "marker", obs.ID, "error", err)
		return twc.Invalid()
	}
	return twc.New(sol.Pose(), nil)
}

// SolveTMapCamera solves for the camera pose in the map frame from every observation whose marker is
// known in the map, concatenating all map-frame to image-frame correspondences into one PnP problem.
// Returns an invalid TWC when no visible marker is known.
func (s *CVSolver) SolveTMapCamera(obsList observation.Observations, m *fvmap.Map) twc.TWC {
	tMapMarkers := m.FindTMapMarkers(obsList)

	var cornersFMap []r3.Vector
	var cornersFImage []r2.Point
	for i, obs := range obsList {
		if !tMapMarkers[i].IsValid() {
			continue
		}
		mapCorners := fvmap.MarkerCornersInFrame(tMapMarkers[i], m.MarkerLength())
		cornersFMap = append(cornersFMap, mapCorners[:]...)
		cornersFImage = append(cornersFImage, obs.Corners[:]...)
	}

	// No known markers in this frame: don't try to find the camera position.
	if len(cornersFMap) == 0 {
		return twc.Invalid()
	}

	sol, err := transform.SolvePnP(cornersFMap, cornersFImage, s.model)
	if err != nil {
		s.logger.Debugw("solve_t_map_camera failed", "corners", len(cornersFMap), "error", err)
		return twc.Invalid()
	}

	// With 2 or 3 known markers the multi-marker PnP can return the mirror of the correct pose. Run a
	// RANSAC solve on the same correspondences; if the rotations disagree strongly, take the RANSAC
	// result. The iterative solve smooths noise better when correct, so it is preferred otherwise.
	if len(cornersFImage) > 1*4 && len(cornersFImage) < 4*4 {
		ransacSol, ransacErr := transform.SolvePnPRansac(cornersFMap, cornersFImage, s.model)
		if ransacErr == nil && mirrorSuspect(sol.Rvec, ransacSol.Rvec) {
			s.logger.Debugw("mirror solution suspected, using ransac result",
				"rvec", sol.Rvec, "rvec_ransac", ransacSol.Rvec)
			sol = ransacSol
		}
	}

	// The PnP result maps map-frame points to camera-frame points, i.e. t_camera_map. Invert it.
	return twc.New(spatialmath.PoseInverse(sol.Pose()), nil)
}

// mirrorSuspect reports whether any component of the two rotation vectors differs by more than the
// mirror-guard threshold.
func mirrorSuspect(a, b r3.Vector) bool {
	return math.Abs(a.X-b.X) > mirrorGuardThreshold ||
		math.Abs(a.Y-b.Y) > mirrorGuardThreshold ||
		math.Abs(a.Z-b.Z) > mirrorGuardThreshold
}

// UpdateMap estimates each observed marker's map pose as t_map_camera * t_camera_marker, then folds it
// into an existing marker with a simple running average or inserts a new one. Fixed markers are never
// touched. A no-op when tMapCamera is invalid (no known anchor in sight).
func (s *CVSolver) UpdateMap(tMapCamera twc.TWC, obsList observation.Observations, m *fvmap.Map) {
	if !tMapCamera.IsValid() {
		return
	}
	for _, obs := range obsList {
		tCameraMarker := s.SolveTCameraMarker(obs, m.MarkerLength())
		if !tCameraMarker.IsValid() {
			continue
		}
		tMapMarker := twc.Compose(tMapCamera, tCameraMarker)

		if marker := m.Find(obs.ID); marker != nil {
			updateMarkerSimpleAverage(marker, tMapMarker)
		} else {
			if err := m.Insert(&fvmap.Marker{ID: obs.ID, TMapMarker: tMapMarker, UpdateCount: 1}); err != nil {
				s.logger.Warnw("marker insert failed", "marker", obs.ID, "error", err)
			}
		}
	}
}

// updateMarkerSimpleAverage folds another pose estimate into an existing, non-fixed marker.
func updateMarkerSimpleAverage(marker *fvmap.Marker, another twc.TWC) {
	if marker.IsFixed {
		return
	}
	marker.TMapMarker = marker.TMapMarker.UpdateSimpleAverage(another, marker.UpdateCount)
	marker.UpdateCount++
}
