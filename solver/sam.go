package solver

import (
	"gonum.org/v1/gonum/mat"

	"github.com/clydemcqueen/fiducial-vlam-sam/fvmap"
	"github.com/clydemcqueen/fiducial-vlam-sam/internal/logging"
	"github.com/clydemcqueen/fiducial-vlam-sam/observation"
	"github.com/clydemcqueen/fiducial-vlam-sam/rimage/transform"
	"github.com/clydemcqueen/fiducial-vlam-sam/spatialmath"
	"github.com/clydemcqueen/fiducial-vlam-sam/twc"
)

// SamSolver is the factor-graph backend: it produces maximum-a-posteriori camera and marker poses with
// marginal covariances by building nonlinear least-squares graphs from corner observations, known-marker
// priors, and between-factors, initialized by the geometric backend.
type SamSolver struct {
	cv           *CVSolver
	model        *transform.PinholeCameraModel
	cornerSigma  float64
	betweenSigma float64
	logger       logging.Logger
}

// NewSamSolver builds the factor-graph backend on top of a geometric backend for the same camera.
func NewSamSolver(cv *CVSolver, model *transform.PinholeCameraModel, cfg Config, logger logging.Logger) *SamSolver {
	return &SamSolver{
		cv:           cv,
		model:        model,
		cornerSigma:  cfg.CornerMeasurementSigma,
		betweenSigma: cfg.BetweenFactorSigma,
		logger:       logger,
	}
}

// solveCameraFMarker estimates the camera pose in one marker's frame, with marginal covariance, from that
// marker's four corners: a graph of four resectioning factors on a single camera variable, initialized by
// inverting the geometric resection.
func (s *SamSolver) solveCameraFMarker(obs observation.Observation, markerLength float64) twc.TWC {
	tCameraMarker := s.cv.SolveTCameraMarker(obs, markerLength)
	if !tCameraMarker.IsValid() {
		return twc.Invalid()
	}

	g := newFactorGraph()
	cameraKey := cameraSymbol(1)
	corners := fvmap.CanonicalCorners(markerLength)
	for j := 0; j < observation.CornerCount; j++ {
		g.addResectioning(cameraKey, s.model, s.cornerSigma, obs.Corners[j], corners[j])
	}

	initial := map[symbol]spatialmath.Pose{
		cameraKey: spatialmath.PoseInverse(tCameraMarker.Pose()),
	}
	result, err := g.optimize(initial)
	if err != nil {
		s.logger.Debugw("solve_camera_f_marker failed", "marker", obs.ID, "error", err)
		return twc.Invalid()
	}
	return result.marginalTWC(cameraKey)
}

// SolveTMapCamera estimates the camera pose in the map frame: resectioning factors over every known
// marker's corners transformed into the map frame, initialized by the geometric solve. Returns an invalid
// TWC when the geometric solve fails (no known markers in this frame).
func (s *SamSolver) SolveTMapCamera(obsList observation.Observations, m *fvmap.Map) twc.TWC {
	tMapMarkers := m.FindTMapMarkers(obsList)

	cvTMapCamera := s.cv.SolveTMapCamera(obsList, m)
	if !cvTMapCamera.IsValid() {
		return cvTMapCamera
	}

	g := newFactorGraph()
	cameraKey := cameraSymbol(1)
	for i, obs := range obsList {
		if !tMapMarkers[i].IsValid() {
			continue
		}
		mapCorners := fvmap.MarkerCornersInFrame(tMapMarkers[i], m.MarkerLength())
		for j := 0; j < observation.CornerCount; j++ {
			g.addResectioning(cameraKey, s.model, s.cornerSigma, obs.Corners[j], mapCorners[j])
		}
	}

	initial := map[symbol]spatialmath.Pose{cameraKey: cvTMapCamera.Pose()}
	result, err := g.optimize(initial)
	if err != nil {
		s.logger.Debugw("solve_t_map_camera failed", "error", err)
		return twc.Invalid()
	}
	return result.marginalTWC(cameraKey)
}

// loadGraphFromObservations adds, per observation, a between-factor from a single-marker resection, and
// for known markers a prior plus initial value from the map. Unknown markers (addUnknownMarkers mode) are
// seeded at t_map_camera * t_marker_camera^-1.
func (s *SamSolver) loadGraphFromObservations(
	tMapCamera twc.TWC,
	obsList observation.Observations,
	m *fvmap.Map,
	cameraKey symbol,
	addUnknownMarkers bool,
	g *factorGraph,
	initial map[symbol]spatialmath.Pose,
) {
	for _, obs := range obsList {
		markerKey := markerSymbol(obs.ID)
		marker := m.Find(obs.ID)
		if marker == nil && !addUnknownMarkers {
			continue
		}

		// The between measurement: the camera pose in this marker's frame, with covariance from the
		// resection marginals.
		cameraFMarker := s.solveCameraFMarker(obs, m.MarkerLength())
		if !cameraFMarker.IsValid() {
			continue
		}
		betweenCov := covToInternal(cameraFMarker.Cov())
		g.addBetween(markerKey, cameraKey, cameraFMarker.Pose(), sqrtInformation(betweenCov, s.betweenSigma))

		if marker != nil {
			// Use the constrained model if the marker is fixed (pose known precisely), the map style
			// carries no covariances, or the stored variance is the all-zero sentinel.
			markerCov := covToInternal(marker.TMapMarker.Cov())
			useConstrained := marker.IsFixed ||
				m.MapStyle() == fvmap.StylePose ||
				markerCov.At(0, 0) == 0.0

			noise := constrainedSqrtInfo()
			if !useConstrained {
				noise = sqrtInformation(markerCov, s.betweenSigma)
			}
			g.addPrior(markerKey, marker.TMapMarker.Pose(), noise)
			initial[markerKey] = marker.TMapMarker.Pose()
		} else {
			markerFMap := spatialmath.Compose(tMapCamera.Pose(), spatialmath.PoseInverse(cameraFMarker.Pose()))
			g.variable(markerKey)
			initial[markerKey] = markerFMap
		}
	}

	g.variable(cameraKey)
	initial[cameraKey] = tMapCamera.Pose()
}

// UpdateMap jointly refines the camera pose and every observed marker's pose, then writes the marker
// results back to the map: insert if new, overwrite if existing and not fixed, incrementing update
// counts. Requires a valid camera pose and at least two observations, otherwise a no-op. Map writes are
// committed only after the whole batch has been optimized.
func (s *SamSolver) UpdateMap(tMapCamera twc.TWC, obsList observation.Observations, m *fvmap.Map) {
	// Have to have a valid camera pose and see at least two markers before this routine can do anything.
	if !tMapCamera.IsValid() || len(obsList) < 2 {
		return
	}
	// A non-fixed marker can only be anchored through a map that already has ground truth in it.
	if !m.HasFixedMarker() {
		return
	}

	g := newFactorGraph()
	initial := make(map[symbol]spatialmath.Pose)
	cameraKey := cameraSymbol(0)
	s.loadGraphFromObservations(tMapCamera, obsList, m, cameraKey, true, g, initial)

	result, err := g.optimize(initial)
	if err != nil {
		s.logger.Debugw("update_map optimization failed", "observations", len(obsList), "error", err)
		return
	}

	for _, obs := range obsList {
		tMapMarker := result.marginalTWC(markerSymbol(obs.ID))
		if !tMapMarker.IsValid() {
			continue
		}

		if marker := m.Find(obs.ID); marker == nil {
			if err := m.Insert(&fvmap.Marker{ID: obs.ID, TMapMarker: tMapMarker, UpdateCount: 1}); err != nil {
				s.logger.Warnw("marker insert failed", "marker", obs.ID, "error", err)
			}
		} else if !marker.IsFixed {
			marker.TMapMarker = tMapMarker
			marker.UpdateCount++
		}
	}
}

// covToInternal permutes an external-ordering (x,y,z,r,p,y) covariance into the solver-internal
// (r,p,y,x,y,z) ordering. A nil covariance stays nil.
func covToInternal(cov *mat.Dense) *mat.Dense {
	if cov == nil {
		return nil
	}
	return twc.PermuteCov(cov, twc.PermutationIndices)
}
