package vmap

import (
	"github.com/pkg/errors"

	"github.com/clydemcqueen/fiducial-vlam-sam/fvmap"
	"github.com/clydemcqueen/fiducial-vlam-sam/internal/logging"
	"github.com/clydemcqueen/fiducial-vlam-sam/observation"
	"github.com/clydemcqueen/fiducial-vlam-sam/twc"
)

// InitMode selects how the map is constructed at node startup.
type InitMode int

const (
	// InitLoadFile loads the map from a file, falling through to InitFixedMarker on failure.
	InitLoadFile InitMode = iota
	// InitFixedMarker constructs an empty map and inserts a single fixed marker from configuration.
	InitFixedMarker
	// InitFirstObservation defers construction until the first observation batch: the lowest observed
	// marker id is seated at a configured camera pose as a fixed marker.
	InitFirstObservation
)

// InitConfig is the startup configuration consumed by the initializer.
type InitConfig struct {
	Mode     InitMode
	Filename string

	MarkerLength float64
	MapStyle     fvmap.Style

	// InitFixedMarker: the id and map pose of the seed marker.
	MarkerID   int32
	TMapMarker twc.TWC

	// InitFirstObservation: the assumed camera pose when the first batch arrives.
	TMapCamera twc.TWC
}

// ResectionFunc solves camera-from-marker for one observation; the initializer uses it to seat the first
// marker in InitFirstObservation mode without depending on a particular solver backend.
type ResectionFunc func(obs observation.Observation, markerLength float64) twc.TWC

// Initializer resolves the configured map initialization mode. Modes 0 and 1 resolve immediately; mode 2
// stays deferred until the first observation batch is handed to SeedFromObservations.
type Initializer struct {
	cfg    InitConfig
	logger logging.Logger
	m      *fvmap.Map
}

// NewInitializer resolves modes InitLoadFile and InitFixedMarker eagerly.
func NewInitializer(cfg InitConfig, logger logging.Logger) (*Initializer, error) {
	if cfg.MarkerLength <= 0 {
		return nil, errors.Errorf("marker length must be positive, got %f", cfg.MarkerLength)
	}
	init := &Initializer{cfg: cfg, logger: logger}

	switch cfg.Mode {
	case InitLoadFile:
		m, err := LoadFile(cfg.Filename)
		if err == nil {
			init.m = m
			break
		}
		// Fall through to the fixed-marker mode when the file can not be loaded.
		logger.Warnw("map load failed, falling back to fixed marker init", "file", cfg.Filename, "error", err)
		fallthrough
	case InitFixedMarker:
		m := fvmap.NewMap(cfg.MarkerLength, cfg.MapStyle)
		seed := cfg.TMapMarker
		if !seed.IsValid() {
			seed = twc.Identity()
		}
		if err := m.Insert(&fvmap.Marker{ID: cfg.MarkerID, TMapMarker: seed, IsFixed: true}); err != nil {
			return nil, err
		}
		init.m = m
	case InitFirstObservation:
		// Deferred until SeedFromObservations.
	default:
		return nil, errors.Errorf("unknown map init mode %d", cfg.Mode)
	}
	return init, nil
}

// Map returns the resolved map, or nil while initialization is deferred.
func (init *Initializer) Map() *fvmap.Map {
	return init.m
}

// SeedFromObservations resolves a deferred initialization from the first observation batch: the lowest
// marker id in the batch is resected and seated at the configured camera pose as a fixed marker. Returns
// the resolved map, or nil if the batch could not seed one (the next batch will be tried).
func (init *Initializer) SeedFromObservations(obsList observation.Observations, resect ResectionFunc) *fvmap.Map {
	if init.m != nil {
		return init.m
	}
	if len(obsList) == 0 {
		return nil
	}

	minObs := obsList[0]
	for _, obs := range obsList[1:] {
		if obs.ID < minObs.ID {
			minObs = obs
		}
	}

	tCameraMarker := resect(minObs, init.cfg.MarkerLength)
	if !tCameraMarker.IsValid() {
		init.logger.Debugw("first-observation seed failed, will retry", "marker", minObs.ID)
		return nil
	}

	tMapCamera := init.cfg.TMapCamera
	if !tMapCamera.IsValid() {
		tMapCamera = twc.Identity()
	}
	tMapMarker := twc.Compose(tMapCamera, tCameraMarker)

	m := fvmap.NewMap(init.cfg.MarkerLength, init.cfg.MapStyle)
	if err := m.Insert(&fvmap.Marker{ID: minObs.ID, TMapMarker: tMapMarker, IsFixed: true}); err != nil {
		init.logger.Warnw("first-observation seed insert failed", "marker", minObs.ID, "error", err)
		return nil
	}
	init.logger.Infow("map seeded from first observation batch", "marker", minObs.ID)
	init.m = m
	return m
}
