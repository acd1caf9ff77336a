package vmap

import (
	"bytes"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/clydemcqueen/fiducial-vlam-sam/fvmap"
	"github.com/clydemcqueen/fiducial-vlam-sam/spatialmath"
	"github.com/clydemcqueen/fiducial-vlam-sam/twc"
)

func twoMarkerMap(t *testing.T) *fvmap.Map {
	t.Helper()
	m := fvmap.NewMap(0.1, fvmap.StyleCovariance)
	test.That(t, m.Insert(&fvmap.Marker{ID: 0, TMapMarker: twc.Identity(), IsFixed: true}), test.ShouldBeNil)

	cov := make([]float64, 36)
	for i := 0; i < 6; i++ {
		cov[i*6+i] = 0.001 * float64(i+1)
	}
	pose := twc.NewFromVector([6]float64{0.25, -0.1, 0.02, 0.01, -0.02, 0.3}, cov)
	test.That(t, m.Insert(&fvmap.Marker{ID: 4, TMapMarker: pose, UpdateCount: 7}), test.ShouldBeNil)
	return m
}

func TestYAMLRoundTrip(t *testing.T) {
	m := twoMarkerMap(t)

	var buf bytes.Buffer
	test.That(t, Save(m, &buf), test.ShouldBeNil)

	got, err := Load(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.MarkerLength(), test.ShouldAlmostEqual, 0.1, 1e-12)
	test.That(t, got.MapStyle(), test.ShouldEqual, fvmap.StyleCovariance)
	test.That(t, got.Len(), test.ShouldEqual, 2)

	for _, id := range []int32{0, 4} {
		want := m.Find(id)
		marker := got.Find(id)
		test.That(t, marker, test.ShouldNotBeNil)
		test.That(t, marker.IsFixed, test.ShouldEqual, want.IsFixed)
		test.That(t, marker.UpdateCount, test.ShouldEqual, want.UpdateCount)

		wantMean := want.TMapMarker.Vector6()
		gotMean := marker.TMapMarker.Vector6()
		for i := range wantMean {
			test.That(t, gotMean[i], test.ShouldAlmostEqual, wantMean[i], 1e-12)
		}
		wantCov := want.TMapMarker.Cov36()
		gotCov := marker.TMapMarker.Cov36()
		for i := range wantCov {
			test.That(t, gotCov[i], test.ShouldAlmostEqual, wantCov[i], 1e-12)
		}
	}
}

func TestYAMLPoseStyleOmitsCovariance(t *testing.T) {
	m := fvmap.NewMap(0.2, fvmap.StylePose)
	pose := twc.New(spatialmath.NewPoseFromPoint(r3.Vector{X: 1}), nil)
	test.That(t, m.Insert(&fvmap.Marker{ID: 1, TMapMarker: pose}), test.ShouldBeNil)

	var buf bytes.Buffer
	test.That(t, Save(m, &buf), test.ShouldBeNil)
	test.That(t, strings.Contains(buf.String(), "cov"), test.ShouldBeFalse)

	got, err := Load(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Find(1).TMapMarker.Pose().Point().X, test.ShouldAlmostEqual, 1, 1e-12)
}

func TestYAMLMissingMapStyleReadsAsPose(t *testing.T) {
	doc := `marker_length: 0.15
markers:
    - id: 2
      u: 3
      f: 1
      xyz: [0.1, 0.2, 0.3]
      rpy: [0.01, 0.02, 0.03]
`
	got, err := Load(strings.NewReader(doc))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.MapStyle(), test.ShouldEqual, fvmap.StylePose)

	marker := got.Find(2)
	test.That(t, marker, test.ShouldNotBeNil)
	test.That(t, marker.IsFixed, test.ShouldBeTrue)
	test.That(t, marker.UpdateCount, test.ShouldEqual, uint32(3))
	mean := marker.TMapMarker.Vector6()
	test.That(t, mean[0], test.ShouldAlmostEqual, 0.1, 1e-12)
	test.That(t, mean[5], test.ShouldAlmostEqual, 0.03, 1e-12)
}

func TestYAMLParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		doc  string
	}{
		{"not yaml", "::::"},
		{"missing marker length", "map_style: 0\nmarkers: []\n"},
		{"bad xyz size", "marker_length: 0.1\nmarkers:\n    - {id: 1, u: 0, f: 0, xyz: [1, 2], rpy: [0, 0, 0]}\n"},
		{"bad rpy size", "marker_length: 0.1\nmarkers:\n    - {id: 1, u: 0, f: 0, xyz: [1, 2, 3], rpy: [0]}\n"},
		{"missing cov", "marker_length: 0.1\nmap_style: 1\nmarkers:\n    - {id: 1, u: 0, f: 0, xyz: [1, 2, 3], rpy: [0, 0, 0]}\n"},
		{"duplicate id", "marker_length: 0.1\nmarkers:\n    - {id: 1, u: 0, f: 0, xyz: [1, 2, 3], rpy: [0, 0, 0]}\n    - {id: 1, u: 0, f: 0, xyz: [1, 2, 3], rpy: [0, 0, 0]}\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.doc))
			test.That(t, err, test.ShouldNotBeNil)
		})
	}
}
