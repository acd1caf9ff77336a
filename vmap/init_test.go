package vmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/clydemcqueen/fiducial-vlam-sam/fvmap"
	"github.com/clydemcqueen/fiducial-vlam-sam/internal/logging"
	"github.com/clydemcqueen/fiducial-vlam-sam/observation"
	"github.com/clydemcqueen/fiducial-vlam-sam/spatialmath"
	"github.com/clydemcqueen/fiducial-vlam-sam/twc"
)

func TestInitFixedMarker(t *testing.T) {
	cfg := InitConfig{
		Mode:         InitFixedMarker,
		MarkerLength: 0.1,
		MapStyle:     fvmap.StylePose,
		MarkerID:     6,
		TMapMarker:   twc.New(spatialmath.NewPoseFromPoint(r3.Vector{X: 0.5}), nil),
	}
	init, err := NewInitializer(cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	m := init.Map()
	test.That(t, m, test.ShouldNotBeNil)
	marker := m.Find(6)
	test.That(t, marker, test.ShouldNotBeNil)
	test.That(t, marker.IsFixed, test.ShouldBeTrue)
	test.That(t, marker.TMapMarker.Pose().Point().X, test.ShouldAlmostEqual, 0.5, 1e-12)
}

func TestInitLoadFile(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "map.yaml")

	saved := fvmap.NewMap(0.2, fvmap.StylePose)
	test.That(t, saved.Insert(&fvmap.Marker{ID: 3, TMapMarker: twc.Identity(), IsFixed: true}), test.ShouldBeNil)
	test.That(t, SaveFile(saved, filename), test.ShouldBeNil)

	init, err := NewInitializer(InitConfig{
		Mode:         InitLoadFile,
		Filename:     filename,
		MarkerLength: 0.2,
		MapStyle:     fvmap.StylePose,
	}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	m := init.Map()
	test.That(t, m, test.ShouldNotBeNil)
	test.That(t, m.Find(3), test.ShouldNotBeNil)
	test.That(t, m.MarkerLength(), test.ShouldAlmostEqual, 0.2, 1e-12)
}

func TestInitLoadFileFallsBackToFixedMarker(t *testing.T) {
	init, err := NewInitializer(InitConfig{
		Mode:         InitLoadFile,
		Filename:     filepath.Join(t.TempDir(), "missing.yaml"),
		MarkerLength: 0.1,
		MapStyle:     fvmap.StylePose,
		MarkerID:     2,
	}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	m := init.Map()
	test.That(t, m, test.ShouldNotBeNil)
	marker := m.Find(2)
	test.That(t, marker, test.ShouldNotBeNil)
	test.That(t, marker.IsFixed, test.ShouldBeTrue)
}

func TestInitLoadFileFallsBackOnCorruptFile(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "corrupt.yaml")
	test.That(t, os.WriteFile(filename, []byte("markers: not-a-sequence"), 0o600), test.ShouldBeNil)

	init, err := NewInitializer(InitConfig{
		Mode:         InitLoadFile,
		Filename:     filename,
		MarkerLength: 0.1,
		MapStyle:     fvmap.StylePose,
	}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, init.Map(), test.ShouldNotBeNil)
	test.That(t, init.Map().Find(0), test.ShouldNotBeNil)
}

func TestInitFirstObservationDefers(t *testing.T) {
	cameraPose := twc.New(spatialmath.NewPoseFromPoint(r3.Vector{Z: 1}), nil)
	init, err := NewInitializer(InitConfig{
		Mode:         InitFirstObservation,
		MarkerLength: 0.1,
		MapStyle:     fvmap.StylePose,
		TMapCamera:   cameraPose,
	}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, init.Map(), test.ShouldBeNil)

	// The resection stub seats the marker half a meter in front of the camera.
	resect := func(obs observation.Observation, markerLength float64) twc.TWC {
		return twc.New(spatialmath.NewPoseFromPoint(r3.Vector{Z: 0.5}), nil)
	}

	// An empty batch can not seed.
	test.That(t, init.SeedFromObservations(nil, resect), test.ShouldBeNil)

	obsList := observation.Observations{{ID: 9}, {ID: 4}, {ID: 12}}
	m := init.SeedFromObservations(obsList, resect)
	test.That(t, m, test.ShouldNotBeNil)

	// The lowest id in the batch becomes the fixed seed marker.
	marker := m.Find(4)
	test.That(t, marker, test.ShouldNotBeNil)
	test.That(t, marker.IsFixed, test.ShouldBeTrue)
	test.That(t, marker.TMapMarker.Pose().Point().Z, test.ShouldAlmostEqual, 1.5, 1e-12)
}

func TestInitFirstObservationRetriesAfterFailedResection(t *testing.T) {
	init, err := NewInitializer(InitConfig{
		Mode:         InitFirstObservation,
		MarkerLength: 0.1,
		MapStyle:     fvmap.StylePose,
	}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	failing := func(obs observation.Observation, markerLength float64) twc.TWC { return twc.Invalid() }
	test.That(t, init.SeedFromObservations(observation.Observations{{ID: 1}}, failing), test.ShouldBeNil)
	test.That(t, init.Map(), test.ShouldBeNil)

	working := func(obs observation.Observation, markerLength float64) twc.TWC { return twc.Identity() }
	m := init.SeedFromObservations(observation.Observations{{ID: 1}}, working)
	test.That(t, m, test.ShouldNotBeNil)
	test.That(t, m.Find(1), test.ShouldNotBeNil)
}

func TestInitRejectsBadMarkerLength(t *testing.T) {
	_, err := NewInitializer(InitConfig{Mode: InitFixedMarker}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}
