package motion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/tendon-robotics/armctl/arm"
	"github.com/tendon-robotics/armctl/config"
	"github.com/tendon-robotics/armctl/safety"
	"github.com/tendon-robotics/armctl/spatialmath"
)

func testLoopConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		RobotIP:     "127.0.0.1",
		LowerLimits: []float64{-6.28, -6.28, -6.28, -6.28, -6.28, -6.28},
		UpperLimits: []float64{6.28, 6.28, 6.28, 6.28, 6.28, 6.28},
		TCPOffset:   []float64{0, 0, 0, 0, 0, 0},

		CartesianSpeed: 0.2,
		CartesianAcc:   0.6,
		JointSpeed:     0.5,
		JointAcc:       1.0,

		ControlTime:     0.05,
		LookaheadTime:   0.1,
		Gain:            300,
		ServoMaxDistPos: 0.1,
		ServoMaxDistOrn: 0.5,

		ContactForceThreshold: []float64{50, 50, 50, 50, 50, 50},

		RelActionAttributes: config.AttributeMap{
			"ref":                         "desired",
			"relative_pos_clip_threshold": 0.02,
			"relative_rot_clip_threshold": 0.05,
		},
	}
	test.That(t, cfg.Validate("test"), test.ShouldBeNil)
	return cfg
}

// fakeArm is a controllable arm.Arm. With track enabled the measured pose
// snaps to every transmitted servo target, emulating a perfectly tracking
// controller.
type fakeArm struct {
	mu          sync.Mutex
	pose        spatialmath.Pose
	force       []float64
	track       bool
	servoCalls  int
	lastServo   spatialmath.Pose
	stopCalls   int
	releaseMove chan struct{}
}

func newFakeArm(track bool) *fakeArm {
	return &fakeArm{
		pose:        spatialmath.NewZeroPose(),
		force:       []float64{0, 0, 0, 0, 0, 0},
		track:       track,
		releaseMove: make(chan struct{}),
	}
}

func (f *fakeArm) setForce(force []float64) {
	f.mu.Lock()
	f.force = force
	f.mu.Unlock()
}

func (f *fakeArm) servoCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.servoCalls
}

func (f *fakeArm) stopCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

func (f *fakeArm) JointPositions(ctx context.Context) ([]float64, error) {
	return []float64{0, 0, 0, 0, 0, 0}, nil
}

func (f *fakeArm) EndPosition(ctx context.Context) (spatialmath.Pose, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pose, nil
}

func (f *fakeArm) TCPForce(ctx context.Context) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64{}, f.force...), nil
}

func (f *fakeArm) MoveToJointPositions(ctx context.Context, joints []float64, speed, acc float64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.releaseMove:
		return nil
	}
}

func (f *fakeArm) MoveLinear(ctx context.Context, target spatialmath.Pose, speed, acc float64) error {
	f.mu.Lock()
	f.pose = target
	f.mu.Unlock()
	return nil
}

func (f *fakeArm) ServoCartesian(ctx context.Context, target spatialmath.Pose, controlTime, lookahead, gain float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servoCalls++
	f.lastServo = target
	if f.track {
		f.pose = target
	}
	return nil
}

func (f *fakeArm) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

func (f *fakeArm) Close(ctx context.Context) error {
	return nil
}

type loopEnv struct {
	loop    *Loop
	robot   *fakeArm
	monitor *safety.Monitor
	mock    *clock.Mock
	period  time.Duration
}

func newLoopEnv(t *testing.T, track bool) *loopEnv {
	t.Helper()
	logger := golog.NewTestLogger(t)
	cfg := testLoopConfig(t)

	limits, err := arm.NewLimitModel(cfg.LowerLimits, cfg.UpperLimits, spatialmath.NewZeroPose(), nil)
	test.That(t, err, test.ShouldBeNil)
	monitor, err := safety.NewMonitor(cfg.ContactForceThreshold)
	test.That(t, err, test.ShouldBeNil)
	translator, err := NewTranslator(cfg.RelAction(), nil, logger)
	test.That(t, err, test.ShouldBeNil)

	robot := newFakeArm(track)
	mock := clock.NewMock()
	planner := NewPlanner(limits, cfg)
	loop := NewLoop(robot, limits, monitor, planner, translator, cfg, logger, WithClock(mock))
	return &loopEnv{
		loop:    loop,
		robot:   robot,
		monitor: monitor,
		mock:    mock,
		period:  time.Duration(cfg.ControlTime * float64(time.Second)),
	}
}

// advanceUntil drives the mock clock tick by tick until the condition holds.
func (e *loopEnv) advanceUntil(t *testing.T, cond func() bool) {
	t.Helper()
	for i := 0; i < 500; i++ {
		if cond() {
			return
		}
		e.mock.Add(e.period)
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestServoToCompletes(t *testing.T) {
	env := newLoopEnv(t, true)

	goal := spatialmath.NewPoseFromPoint(r3.Vector{X: 0.25})
	done := make(chan error, 1)
	go func() {
		done <- env.loop.ServoTo(context.Background(), goal)
	}()

	env.advanceUntil(t, func() bool { return env.loop.State() == StateCompleted })
	test.That(t, <-done, test.ShouldBeNil)

	// 0.25 m at 0.1 m per step takes at least three transmissions
	test.That(t, env.robot.servoCallCount(), test.ShouldBeGreaterThanOrEqualTo, 3)
}

func TestServoCancelHaltsAtNextTickBoundary(t *testing.T) {
	env := newLoopEnv(t, true)

	done := make(chan error, 1)
	go func() {
		done <- env.loop.ServoStream(context.Background())
	}()

	env.advanceUntil(t, func() bool { return env.robot.servoCallCount() >= 1 })
	env.loop.Cancel()

	env.advanceUntil(t, func() bool { return env.loop.State() == StateHalted })
	err := <-done
	test.That(t, errors.Is(err, ErrCanceled), test.ShouldBeTrue)
	test.That(t, env.robot.stopCallCount(), test.ShouldBeGreaterThanOrEqualTo, 1)

	// no target transmissions after the halt
	callsAtHalt := env.robot.servoCallCount()
	for i := 0; i < 3; i++ {
		env.mock.Add(env.period)
		time.Sleep(time.Millisecond)
	}
	test.That(t, env.robot.servoCallCount(), test.ShouldEqual, callsAtHalt)
}

func TestServoSafetyHalt(t *testing.T) {
	env := newLoopEnv(t, true)

	done := make(chan error, 1)
	go func() {
		done <- env.loop.ServoStream(context.Background())
	}()
	env.advanceUntil(t, func() bool { return env.robot.servoCallCount() >= 1 })

	env.robot.setForce([]float64{0, 0, 0, 0, 0, 51})
	env.advanceUntil(t, func() bool { return env.loop.State() == StateHalted })

	err := <-done
	var exceeded *safety.ExceededError
	test.That(t, errors.As(err, &exceeded), test.ShouldBeTrue)
	test.That(t, exceeded.Axis, test.ShouldEqual, 5)
	test.That(t, env.robot.stopCallCount(), test.ShouldBeGreaterThanOrEqualTo, 1)

	// the monitor stays latched: new motions are refused until reset
	err = env.loop.ServoTo(context.Background(), spatialmath.NewZeroPose())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "reset")

	env.monitor.Reset()
	goal := spatialmath.NewPoseFromPoint(r3.Vector{X: 0.05})
	done2 := make(chan error, 1)
	go func() {
		done2 <- env.loop.ServoTo(context.Background(), goal)
	}()
	env.advanceUntil(t, func() bool { return env.loop.State() == StateCompleted })
	test.That(t, <-done2, test.ShouldBeNil)
}

func TestServoUnreachableFaults(t *testing.T) {
	// the measured pose never moves, so the transmitted target walks away
	// until the gate trips for more than the allowed consecutive misses
	env := newLoopEnv(t, false)

	goal := spatialmath.NewPoseFromPoint(r3.Vector{X: 1.0})
	done := make(chan error, 1)
	go func() {
		done <- env.loop.ServoTo(context.Background(), goal)
	}()

	env.advanceUntil(t, func() bool { return env.loop.State() == StateFaulted })
	err := <-done
	var faulted *FaultedError
	test.That(t, errors.As(err, &faulted), test.ShouldBeTrue)
	var unreachable *UnreachableError
	test.That(t, errors.As(err, &unreachable), test.ShouldBeTrue)
	test.That(t, unreachable.Misses, test.ShouldBeGreaterThan, maxConsecutiveMisses)
	test.That(t, env.robot.stopCallCount(), test.ShouldBeGreaterThanOrEqualTo, 1)
}

func TestSubmitRelativeUpdatesLiveTarget(t *testing.T) {
	env := newLoopEnv(t, true)

	done := make(chan error, 1)
	go func() {
		done <- env.loop.ServoStream(context.Background())
	}()
	env.advanceUntil(t, func() bool { return env.loop.State() == StateServoing })

	action := RelativeAction{Pos: r3.Vector{X: 0.01}}
	first, err := env.loop.SubmitRelative(context.Background(), action)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, first.Point.X, test.ShouldAlmostEqual, 0.01, 1e-12)

	// desired reference accumulates across submissions regardless of tracking
	second, err := env.loop.SubmitRelative(context.Background(), action)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.Point.X, test.ShouldAlmostEqual, 0.02, 1e-12)

	desired, ok := env.loop.DesiredPose()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, desired.AlmostEqual(second, 1e-12), test.ShouldBeTrue)

	env.loop.Cancel()
	env.advanceUntil(t, func() bool { return env.loop.State() == StateHalted })
	test.That(t, errors.Is(<-done, ErrCanceled), test.ShouldBeTrue)
}

func TestSubmitRelativeRequiresSession(t *testing.T) {
	env := newLoopEnv(t, true)
	_, err := env.loop.SubmitRelative(context.Background(), RelativeAction{Pos: r3.Vector{X: 0.01}})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no active servo session")
}

func TestMoveToJointPositionsRejectsOutOfRange(t *testing.T) {
	env := newLoopEnv(t, true)

	err := env.loop.MoveToJointPositions(context.Background(), []float64{0, 0, 0, 0, 0, 7})
	var oor *arm.OutOfRangeError
	test.That(t, errors.As(err, &oor), test.ShouldBeTrue)
	test.That(t, oor.Axis, test.ShouldEqual, 5)
	// rejected before dispatch: nothing reached the robot
	test.That(t, env.robot.servoCallCount(), test.ShouldEqual, 0)
	test.That(t, env.loop.State(), test.ShouldEqual, StateIdle)
}

func TestMoveToJointPositionsCancel(t *testing.T) {
	env := newLoopEnv(t, true)

	done := make(chan error, 1)
	go func() {
		done <- env.loop.MoveToJointPositions(context.Background(), []float64{0, 0, 0, 0, 0, 0})
	}()
	env.advanceUntil(t, func() bool { return env.loop.State() == StateServoing })

	env.loop.Cancel()
	env.advanceUntil(t, func() bool { return env.loop.State() == StateHalted })
	test.That(t, errors.Is(<-done, ErrCanceled), test.ShouldBeTrue)
	test.That(t, env.robot.stopCallCount(), test.ShouldBeGreaterThanOrEqualTo, 1)
}

func TestMoveToJointPositionsSafetyHalt(t *testing.T) {
	env := newLoopEnv(t, true)

	done := make(chan error, 1)
	go func() {
		done <- env.loop.MoveToJointPositions(context.Background(), []float64{0, 0, 0, 0, 0, 0})
	}()
	env.advanceUntil(t, func() bool { return env.loop.State() == StateServoing })

	env.robot.setForce([]float64{0, 0, 0, 0, 60, 0})
	env.advanceUntil(t, func() bool { return env.loop.State() == StateHalted })

	err := <-done
	var exceeded *safety.ExceededError
	test.That(t, errors.As(err, &exceeded), test.ShouldBeTrue)
	test.That(t, exceeded.Axis, test.ShouldEqual, 4)
}

func TestMoveToJointPositionsCompletes(t *testing.T) {
	env := newLoopEnv(t, true)

	done := make(chan error, 1)
	go func() {
		done <- env.loop.MoveToJointPositions(context.Background(), []float64{0, 0, 0, 0, 0, 0})
	}()
	env.advanceUntil(t, func() bool { return env.loop.State() == StateServoing })

	close(env.robot.releaseMove)
	env.advanceUntil(t, func() bool { return env.loop.State() == StateCompleted })
	test.That(t, <-done, test.ShouldBeNil)
}

func TestMoveLinearCompletes(t *testing.T) {
	env := newLoopEnv(t, true)

	target := spatialmath.NewPoseFromPoint(r3.Vector{X: 0.3, Y: 0, Z: 0.4})
	err := env.loop.MoveLinear(context.Background(), target)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, env.loop.State(), test.ShouldEqual, StateCompleted)
}
