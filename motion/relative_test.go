package motion

import (
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/tendon-robotics/armctl/arm"
	"github.com/tendon-robotics/armctl/config"
	"github.com/tendon-robotics/armctl/spatialmath"
)

func relParams() config.RelActionParams {
	return config.RelActionParams{
		Ref:              config.ReferenceCurrent,
		PosClipThreshold: 0.02,
		RotClipThreshold: 0.05,
	}
}

func TestResolveRejectsBadSelector(t *testing.T) {
	logger := golog.NewTestLogger(t)
	params := relParams()
	params.Ref = "sideways"
	_, err := NewTranslator(params, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPositionClipping(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tr, err := NewTranslator(relParams(), nil, logger)
	test.That(t, err, test.ShouldBeNil)

	ref := spatialmath.NewPoseFromPoint(r3.Vector{X: 0.3, Y: 0, Z: 0.5})
	action := RelativeAction{Pos: r3.Vector{X: 0.5, Y: -0.01, Z: -1}}

	target, err := tr.Resolve(action, ref, ref)
	test.That(t, err, test.ShouldBeNil)
	// over-threshold deltas resolve to the clipped value, never the raw one
	test.That(t, target.Point.X, test.ShouldAlmostEqual, 0.32, 1e-12)
	test.That(t, target.Point.Y, test.ShouldAlmostEqual, -0.01, 1e-12)
	test.That(t, target.Point.Z, test.ShouldAlmostEqual, 0.48, 1e-12)
}

func TestClippingIsIdempotent(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tr, err := NewTranslator(relParams(), nil, logger)
	test.That(t, err, test.ShouldBeNil)

	ref := spatialmath.NewZeroPose()
	raw := RelativeAction{Pos: r3.Vector{X: 1, Y: 1, Z: 1}}
	once, err := tr.Resolve(raw, ref, ref)
	test.That(t, err, test.ShouldBeNil)

	clipped := RelativeAction{Pos: once.Point}
	twice, err := tr.Resolve(clipped, ref, ref)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, twice.Point.X, test.ShouldAlmostEqual, once.Point.X, 1e-12)
	test.That(t, twice.Point.Y, test.ShouldAlmostEqual, once.Point.Y, 1e-12)
	test.That(t, twice.Point.Z, test.ShouldAlmostEqual, once.Point.Z, 1e-12)
}

func TestOrientationClipping(t *testing.T) {
	logger := golog.NewTestLogger(t)
	tr, err := NewTranslator(relParams(), nil, logger)
	test.That(t, err, test.ShouldBeNil)

	ref := spatialmath.NewZeroPose()
	action := RelativeAction{Orn: r3.Vector{Z: 1.0}}
	target, err := tr.Resolve(action, ref, ref)
	test.That(t, err, test.ShouldBeNil)

	euler := spatialmath.EulerFromQuat(target.Orientation)
	test.That(t, euler.Z, test.ShouldAlmostEqual, 0.05, 1e-9)
}

func TestFiveDOFPinsToDefaults(t *testing.T) {
	logger := golog.NewTestLogger(t)
	params := relParams()
	params.LimitControl5DOF = true
	ornX := 3.141593
	ornY := 0.0
	params.DefaultOrnX = &ornX
	params.DefaultOrnY = &ornY
	tr, err := NewTranslator(params, nil, logger)
	test.That(t, err, test.ShouldBeNil)

	ref := spatialmath.Pose{
		Point:       r3.Vector{X: 0.3, Y: 0, Z: 0.5},
		Orientation: spatialmath.QuatFromEuler(r3.Vector{X: 3.0, Y: 0.1, Z: 0.4}),
	}
	// pitch/roll deltas are ignored entirely; the axes are pinned
	for _, orn := range []r3.Vector{
		{},
		{X: 0.04, Y: -0.04},
		{X: -0.02, Y: 0.05, Z: 0.01},
	} {
		target, err := tr.Resolve(RelativeAction{Orn: orn}, ref, ref)
		test.That(t, err, test.ShouldBeNil)
		euler := spatialmath.EulerFromQuat(target.Orientation)
		test.That(t, math.Abs(euler.X), test.ShouldAlmostEqual, math.Abs(ornX), 1e-5)
		test.That(t, euler.Y, test.ShouldAlmostEqual, ornY, 1e-5)
	}
}

func TestFiveDOFClampsWithoutDefaults(t *testing.T) {
	logger := golog.NewTestLogger(t)
	params := relParams()
	params.LimitControl5DOF = true
	params.MaxEEPitch = 15
	params.MaxEERoll = 10
	tr, err := NewTranslator(params, nil, logger)
	test.That(t, err, test.ShouldBeNil)

	ref := spatialmath.NewZeroPose()
	target, err := tr.Resolve(RelativeAction{Orn: r3.Vector{X: 0.05, Y: -0.05}}, ref, ref)
	test.That(t, err, test.ShouldBeNil)
	euler := spatialmath.EulerFromQuat(target.Orientation)
	test.That(t, euler.X, test.ShouldAlmostEqual, 0.05, 1e-9)
	test.That(t, euler.Y, test.ShouldAlmostEqual, -0.05, 1e-9)

	// beyond the caps the axes clamp
	big := RelativeAction{Orn: r3.Vector{X: 0.05, Y: -0.05}}
	for i := 0; i < 20; i++ {
		target, err = tr.Resolve(big, target, target)
		test.That(t, err, test.ShouldBeNil)
	}
	euler = spatialmath.EulerFromQuat(target.Orientation)
	test.That(t, euler.X, test.ShouldAlmostEqual, degToRad(10), 1e-6)
	test.That(t, euler.Y, test.ShouldAlmostEqual, degToRad(-15), 1e-6)
}

func degToRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func TestCurrentVersusDesiredReference(t *testing.T) {
	logger := golog.NewTestLogger(t)

	measured := spatialmath.NewPoseFromPoint(r3.Vector{X: 0.3, Y: 0, Z: 0.5})
	action := RelativeAction{Pos: r3.Vector{X: 0.01}}

	// current reference: identical actions against an unchanged measured pose
	// yield identical targets
	cur, err := NewTranslator(relParams(), nil, logger)
	test.That(t, err, test.ShouldBeNil)
	first, err := cur.Resolve(action, measured, measured)
	test.That(t, err, test.ShouldBeNil)
	second, err := cur.Resolve(action, measured, first)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.AlmostEqual(first, 1e-12), test.ShouldBeTrue)

	// desired reference: the same two actions accumulate against intent
	params := relParams()
	params.Ref = config.ReferenceDesired
	des, err := NewTranslator(params, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	first, err = des.Resolve(action, measured, measured)
	test.That(t, err, test.ShouldBeNil)
	second, err = des.Resolve(action, measured, first)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.AlmostEqual(first, 1e-12), test.ShouldBeFalse)
	test.That(t, second.Point.X, test.ShouldAlmostEqual, 0.32, 1e-12)
}

func TestWorkspaceRejection(t *testing.T) {
	logger := golog.NewTestLogger(t)
	ws := &arm.Box{
		Min: r3.Vector{X: -0.5, Y: -0.5, Z: 0},
		Max: r3.Vector{X: 0.5, Y: 0.5, Z: 0.8},
	}
	tr, err := NewTranslator(relParams(), ws, logger)
	test.That(t, err, test.ShouldBeNil)

	edge := spatialmath.NewPoseFromPoint(r3.Vector{X: 0.49, Y: 0, Z: 0.4})
	_, err = tr.Resolve(RelativeAction{Pos: r3.Vector{X: 0.02}}, edge, edge)
	test.That(t, err, test.ShouldNotBeNil)
	var wsErr *WorkspaceError
	test.That(t, errors.As(err, &wsErr), test.ShouldBeTrue)

	inside, err := tr.Resolve(RelativeAction{Pos: r3.Vector{X: 0.005}}, edge, edge)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inside.Point.X, test.ShouldAlmostEqual, 0.495, 1e-12)
}
