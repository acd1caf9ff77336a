package solver

import (
	"github.com/pkg/errors"

	"github.com/clydemcqueen/fiducial-vlam-sam/fvmap"
	"github.com/clydemcqueen/fiducial-vlam-sam/internal/logging"
	"github.com/clydemcqueen/fiducial-vlam-sam/observation"
	"github.com/clydemcqueen/fiducial-vlam-sam/twc"
)

// Localizer solves for the camera pose in the map frame from one frame's observations.
type Localizer interface {
	SolveTMapCamera(obsList observation.Observations, m *fvmap.Map) twc.TWC
}

// MapUpdater refines the map from one frame's observations and a camera pose.
type MapUpdater interface {
	UpdateMap(tMapCamera twc.TWC, obsList observation.Observations, m *fvmap.Map)
}

// FiducialMath wires one observation batch through solve, update, and insert, dispatching between the
// geometric and factor-graph backends. It exclusively owns the Map for the duration of each call; no
// solver state persists across calls.
type FiducialMath struct {
	samNotCV bool
	cv       *CVSolver
	sam      *SamSolver
}

var (
	_ Localizer  = (*FiducialMath)(nil)
	_ MapUpdater = (*FiducialMath)(nil)
)

// New builds the driver and both backends for one camera.
func New(cfg Config, ci observation.CameraInfo, logger logging.Logger) (*FiducialMath, error) {
	if cfg.CornerMeasurementSigma <= 0 {
		return nil, errors.Errorf("corner measurement sigma must be positive, got %f", cfg.CornerMeasurementSigma)
	}
	if cfg.BetweenFactorSigma <= 0 {
		return nil, errors.Errorf("between factor sigma must be positive, got %f", cfg.BetweenFactorSigma)
	}
	model, err := CameraModel(ci)
	if err != nil {
		return nil, err
	}
	cv := NewCVSolver(model, logger.Sublogger("cv"))
	sam := NewSamSolver(cv, model, cfg, logger.Sublogger("sam"))
	return &FiducialMath{samNotCV: cfg.SamNotCV, cv: cv, sam: sam}, nil
}

// SolveTCameraMarker solves one marker's camera-from-marker pose. Always geometric; the factor-graph
// backend wraps this internally when it needs covariances.
func (f *FiducialMath) SolveTCameraMarker(obs observation.Observation, markerLength float64) twc.TWC {
	return f.cv.SolveTCameraMarker(obs, markerLength)
}

// SolveTMapCamera localizes the camera in the map frame with the configured backend.
func (f *FiducialMath) SolveTMapCamera(obsList observation.Observations, m *fvmap.Map) twc.TWC {
	if f.samNotCV {
		return f.sam.SolveTMapCamera(obsList, m)
	}
	return f.cv.SolveTMapCamera(obsList, m)
}

// UpdateMap refines the map from this frame with the configured backend. Invalid camera poses short-
// circuit to a no-op in both backends.
func (f *FiducialMath) UpdateMap(tMapCamera twc.TWC, obsList observation.Observations, m *fvmap.Map) {
	if f.samNotCV {
		f.sam.UpdateMap(tMapCamera, obsList, m)
	} else {
		f.cv.UpdateMap(tMapCamera, obsList, m)
	}
}
