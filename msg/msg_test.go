package msg

import (
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"go.viam.com/test"

	"github.com/clydemcqueen/fiducial-vlam-sam/fvmap"
	"github.com/clydemcqueen/fiducial-vlam-sam/observation"
	"github.com/clydemcqueen/fiducial-vlam-sam/twc"
)

func TestObservationsMsgRoundTrip(t *testing.T) {
	ci := observation.CameraInfo{
		Fx: 600, Fy: 610, Cx: 320, Cy: 240,
		K1: 0.1, K2: -0.01, P1: 0.001, P2: -0.002, K3: 0.0001,
	}
	obs := observation.Observations{
		observation.NewObservation(3, [observation.CornerCount]r2.Point{
			{X: 10, Y: 20}, {X: 30, Y: 20}, {X: 30, Y: 40}, {X: 10, Y: 40},
		}),
		observation.NewObservation(7, [observation.CornerCount]r2.Point{
			{X: 100, Y: 120}, {X: 130, Y: 121}, {X: 131, Y: 140}, {X: 99, Y: 139},
		}),
	}
	header := Header{Stamp: time.Unix(100, 0), FrameID: "camera"}

	m := NewObservationsMsg(header, ci, obs)
	test.That(t, m.K[0], test.ShouldEqual, 600.0)
	test.That(t, m.K[4], test.ShouldEqual, 610.0)
	test.That(t, m.K[8], test.ShouldEqual, 1.0)

	gotCI := m.CameraInfo()
	test.That(t, gotCI, test.ShouldResemble, ci)

	gotObs := m.ToObservations()
	test.That(t, len(gotObs), test.ShouldEqual, 2)
	test.That(t, gotObs[0].ID, test.ShouldEqual, int32(3))
	test.That(t, gotObs[1].Corners, test.ShouldResemble, obs[1].Corners)
}

func TestNewMapMsgSortsById(t *testing.T) {
	m := fvmap.NewMap(0.1, fvmap.StyleCovariance)
	cov := make([]float64, 36)
	cov[0] = 0.5
	test.That(t, m.Insert(&fvmap.Marker{
		ID:          9,
		TMapMarker:  twc.NewFromVector([6]float64{1, 2, 3, 0.1, 0.2, 0.3}, cov),
		UpdateCount: 2,
	}), test.ShouldBeNil)
	test.That(t, m.Insert(&fvmap.Marker{ID: 1, TMapMarker: twc.Identity(), IsFixed: true}), test.ShouldBeNil)

	out := NewMapMsg(Header{FrameID: "map"}, m)
	test.That(t, out.MarkerLength, test.ShouldAlmostEqual, 0.1, 1e-12)
	test.That(t, out.MapStyle, test.ShouldEqual, int32(fvmap.StyleCovariance))
	test.That(t, out.IDs, test.ShouldResemble, []int32{1, 9})
	test.That(t, out.FixedFlags, test.ShouldResemble, []uint8{1, 0})
	test.That(t, out.Poses[1].Mean[0], test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, out.Poses[1].Cov[0], test.ShouldAlmostEqual, 0.5, 1e-12)
}
