package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestPoseInverse(t *testing.T) {
	p := NewPose(r3.Vector{X: 1, Y: 2, Z: 3}, &R4AA{Theta: math.Pi / 2, RX: 0, RY: 0, RZ: 1})
	inv := PoseInverse(p)
	roundTrip := Compose(p, inv)
	test.That(t, PoseAlmostCoincident(roundTrip, NewZeroPose(), 1e-6), test.ShouldBeTrue)
}

func TestComposeIdentity(t *testing.T) {
	p := NewPose(r3.Vector{X: 1, Y: -2, Z: 0.5}, &EulerAngles{Roll: 0.1, Pitch: -0.2, Yaw: 0.3})
	composed := Compose(NewZeroPose(), p)
	test.That(t, PoseAlmostCoincident(composed, p, 1e-9), test.ShouldBeTrue)
}

func TestPoseBetween(t *testing.T) {
	a := NewPose(r3.Vector{X: 1, Y: 0, Z: 0}, NewZeroOrientation())
	b := NewPose(r3.Vector{X: 1, Y: 1, Z: 0}, &R4AA{Theta: math.Pi / 2, RX: 0, RY: 0, RZ: 1})
	between := PoseBetween(a, b)
	recomposed := Compose(a, between)
	test.That(t, PoseAlmostCoincident(recomposed, b, 1e-6), test.ShouldBeTrue)
}

func TestPoseAlmostCoincidentRejectsDistantPoints(t *testing.T) {
	a := NewZeroPose()
	b := NewPose(r3.Vector{X: 1, Y: 0, Z: 0}, NewZeroOrientation())
	test.That(t, PoseAlmostCoincident(a, b, 1e-6), test.ShouldBeFalse)
}
