// Package solver holds the two pose-estimation backends and the driver that dispatches between them: a
// closed-form geometric (PnP) solver and a factor-graph solver that refines poses and marker maps by
// nonlinear least squares.
package solver

import (
	"github.com/pkg/errors"

	"github.com/clydemcqueen/fiducial-vlam-sam/observation"
	"github.com/clydemcqueen/fiducial-vlam-sam/rimage/transform"
)

// Config selects the backend and sets the factor-graph noise parameters.
type Config struct {
	// SamNotCV selects the factor-graph (SAM) backend for localization and map update; when false the
	// geometric backend is used.
	SamNotCV bool
	// CornerMeasurementSigma is the per-corner isotropic standard deviation, in pixels, used by the
	// resectioning factors.
	CornerMeasurementSigma float64
	// BetweenFactorSigma widens a between-measurement whose covariance is all zero (the geometric
	// resection reports no uncertainty) to this per-component standard deviation.
	BetweenFactorSigma float64
}

// DefaultConfig returns the parameters used when none are configured.
func DefaultConfig() Config {
	return Config{
		SamNotCV:               true,
		CornerMeasurementSigma: 1.0,
		BetweenFactorSigma:     0.1,
	}
}

// CameraModel builds the projection model the solvers share from a CameraInfo message.
func CameraModel(ci observation.CameraInfo) (*transform.PinholeCameraModel, error) {
	intrinsics := &transform.PinholeCameraIntrinsics{
		Fx:  ci.Fx,
		Fy:  ci.Fy,
		Ppx: ci.Cx,
		Ppy: ci.Cy,
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "camera model")
	}
	distortion, err := transform.NewDistorter(transform.BrownConradyDistortionType, ci.Distortion())
	if err != nil {
		return nil, errors.Wrap(err, "camera model")
	}
	return &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: intrinsics,
		Distortion:              distortion,
	}, nil
}
