package motion

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/tendon-robotics/armctl/arm"
	"github.com/tendon-robotics/armctl/config"
	"github.com/tendon-robotics/armctl/safety"
	"github.com/tendon-robotics/armctl/spatialmath"
)

// maxConsecutiveMisses is how many ticks in a row the measured pose may fail
// to track the transmitted target before the command faults.
const maxConsecutiveMisses = 5

// Loop is the closed-loop driver of one robot session. It owns the network
// session exclusively; no other component issues motion commands. Motion
// commands are serialized, so concurrent callers queue.
type Loop struct {
	robot      arm.Arm
	limits     *arm.LimitModel
	monitor    *safety.Monitor
	planner    *Planner
	translator *Translator
	logger     golog.Logger
	clock      clock.Clock

	controlTime  time.Duration
	controlTimeS float64
	lookahead    float64
	gain         float64
	posThreshold float64
	ornThreshold float64

	sessionMu sync.Mutex

	mu          sync.Mutex
	state       State
	goal        spatialmath.Pose
	lastSent    spatialmath.Pose
	haveSent    bool
	desired     spatialmath.Pose
	haveDesired bool
	cancel      bool
	misses      int
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock substitutes the wall clock, for deterministic tick tests.
func WithClock(c clock.Clock) Option {
	return func(l *Loop) {
		l.clock = c
	}
}

// NewLoop builds the servo loop over its collaborators and the session
// configuration.
func NewLoop(
	robot arm.Arm,
	limits *arm.LimitModel,
	monitor *safety.Monitor,
	planner *Planner,
	translator *Translator,
	cfg *config.Config,
	logger golog.Logger,
	opts ...Option,
) *Loop {
	l := &Loop{
		robot:        robot,
		limits:       limits,
		monitor:      monitor,
		planner:      planner,
		translator:   translator,
		logger:       logger,
		clock:        clock.New(),
		controlTime:  time.Duration(cfg.ControlTime * float64(time.Second)),
		controlTimeS: cfg.ControlTime,
		lookahead:    cfg.LookaheadTime,
		gain:         cfg.Gain,
		posThreshold: cfg.ServoMaxDistPos,
		ornThreshold: cfg.ServoMaxDistOrn,
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the state of the current (or last) motion command.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// DesiredPose returns the last commanded target pose, and whether one exists
// for the current servo session.
func (l *Loop) DesiredPose() (spatialmath.Pose, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.desired, l.haveDesired
}

// Cancel requests a halt of the active motion. It takes effect at the next
// tick boundary and is never silently dropped.
func (l *Loop) Cancel() {
	l.mu.Lock()
	l.cancel = true
	l.mu.Unlock()
}

func (l *Loop) takeCancel() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// beginCommand starts a fresh Idle -> Planning cycle. It refuses to start
// while the safety monitor is tripped.
func (l *Loop) beginCommand() error {
	if err := l.monitor.Tripped(); err != nil {
		return errors.Wrap(err, "safety monitor is tripped; reset required before new motions")
	}
	l.mu.Lock()
	l.state = StatePlanning
	l.cancel = false
	l.misses = 0
	l.haveSent = false
	l.haveDesired = false
	l.mu.Unlock()
	return nil
}

// stopRobot issues the downstream stop command, logging rather than
// propagating failures since the loop is already halting.
func (l *Loop) stopRobot(ctx context.Context) {
	if err := l.robot.Stop(ctx); err != nil {
		l.logger.Errorw("failed to issue stop command", "error", err)
	}
}

func (l *Loop) halt(ctx context.Context) {
	l.stopRobot(ctx)
	l.setState(StateHalted)
}

func (l *Loop) fault(ctx context.Context, err error) error {
	l.logger.Errorw("motion faulted", "error", err)
	l.stopRobot(ctx)
	l.setState(StateFaulted)
	return &FaultedError{Cause: err}
}

// measuredTCP reads the measured flange pose and applies the tool offset.
func (l *Loop) measuredTCP(ctx context.Context) (spatialmath.Pose, error) {
	flange, err := l.robot.EndPosition(ctx)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	return l.limits.ApplyToolOffset(flange), nil
}

// MoveToJointPositions runs a point-to-point joint-space motion, blocking
// until a terminal state. The target is validated before dispatch and
// rejected outright when out of range.
func (l *Loop) MoveToJointPositions(ctx context.Context, target []float64) error {
	l.sessionMu.Lock()
	defer l.sessionMu.Unlock()
	if err := l.beginCommand(); err != nil {
		return err
	}
	plan, err := l.planner.PlanPointToPoint(target)
	if err != nil {
		// rejection before dispatch is recoverable, not a fault
		l.setState(StateIdle)
		return err
	}
	l.setState(StateServoing)
	return l.supervise(ctx, func(mctx context.Context) error {
		return l.robot.MoveToJointPositions(mctx, plan.Target, plan.Speed, plan.Acc)
	})
}

// Home moves to the configured neutral joint configuration.
func (l *Loop) Home(ctx context.Context) error {
	neutral := l.limits.NeutralJoints()
	if neutral == nil {
		return errors.New("no neutral pose configured")
	}
	return l.MoveToJointPositions(ctx, neutral)
}

// MoveLinear runs a linear Cartesian motion to a TCP target, blocking until a
// terminal state.
func (l *Loop) MoveLinear(ctx context.Context, target spatialmath.Pose) error {
	l.sessionMu.Lock()
	defer l.sessionMu.Unlock()
	if err := l.beginCommand(); err != nil {
		return err
	}
	plan := l.planner.PlanLinear(target)
	flangeTarget := l.limits.RemoveToolOffset(plan.Target)
	l.setState(StateServoing)
	return l.supervise(ctx, func(mctx context.Context) error {
		return l.robot.MoveLinear(mctx, flangeTarget, plan.Speed, plan.Acc)
	})
}

// supervise runs a blocking one-shot controller motion while ticking the
// safety monitor and honoring cancellation at the configured control period.
func (l *Loop) supervise(ctx context.Context, motion func(context.Context) error) error {
	mctx, cancelMotion := context.WithCancel(ctx)
	defer cancelMotion()

	done := make(chan error, 1)
	goutils.PanicCapturingGo(func() {
		done <- motion(mctx)
	})

	ticker := l.clock.Ticker(l.controlTime)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != nil {
				return l.fault(ctx, err)
			}
			l.setState(StateCompleted)
			return nil
		case <-ticker.C:
			if l.takeCancel() {
				cancelMotion()
				<-done
				l.halt(ctx)
				return ErrCanceled
			}
			force, err := l.robot.TCPForce(ctx)
			if err != nil {
				cancelMotion()
				<-done
				return l.fault(ctx, err)
			}
			if err := l.monitor.Check(force); err != nil {
				cancelMotion()
				<-done
				l.halt(ctx)
				return err
			}
		case <-ctx.Done():
			<-done
			l.halt(context.Background())
			return ctx.Err()
		}
	}
}

// ServoTo drives the closed servo loop until the measured pose converges on
// the given TCP goal, blocking until a terminal state.
func (l *Loop) ServoTo(ctx context.Context, goal spatialmath.Pose) error {
	return l.servoSession(ctx, goal, false)
}

// ServoStream runs a long-lived servo session whose live target is updated by
// SubmitRelative without restarting the state machine. It blocks until the
// session is canceled or faults.
func (l *Loop) ServoStream(ctx context.Context) error {
	return l.servoSession(ctx, spatialmath.Pose{}, true)
}

func (l *Loop) servoSession(ctx context.Context, goal spatialmath.Pose, stream bool) error {
	l.sessionMu.Lock()
	defer l.sessionMu.Unlock()
	if err := l.beginCommand(); err != nil {
		return err
	}

	measured, err := l.measuredTCP(ctx)
	if err != nil {
		return l.fault(ctx, err)
	}

	l.mu.Lock()
	if stream {
		// hold position until the first relative action arrives
		l.goal = measured
	} else {
		l.goal = goal
	}
	l.desired = l.goal
	l.haveDesired = true
	l.state = StateServoing
	l.mu.Unlock()

	return l.servoRun(ctx, measured, stream)
}

// servoRun is the fixed-period control loop. Each tick transmits the current
// interpolated target, reads back measured pose and force, applies the
// reachability gate with bounded hold/retry, and consults the safety monitor.
func (l *Loop) servoRun(ctx context.Context, measured spatialmath.Pose, stream bool) error {
	next := l.planner.NextServoTarget(measured, l.currentGoal())

	ticker := l.clock.Ticker(l.controlTime)
	defer ticker.Stop()

	for {
		// cancellation takes effect at the tick boundary, before any
		// further target transmission
		if l.takeCancel() {
			l.halt(ctx)
			return ErrCanceled
		}

		if err := l.robot.ServoCartesian(ctx, l.limits.RemoveToolOffset(next), l.controlTimeS, l.lookahead, l.gain); err != nil {
			return l.fault(ctx, err)
		}
		l.mu.Lock()
		l.lastSent = next
		l.haveSent = true
		l.mu.Unlock()

		measured, err := l.measuredTCP(ctx)
		if err != nil {
			return l.fault(ctx, err)
		}
		force, err := l.robot.TCPForce(ctx)
		if err != nil {
			return l.fault(ctx, err)
		}

		goal := l.currentGoal()
		posLag := measured.Point.Sub(next.Point).Norm()
		ornLag := spatialmath.OrientationDistance(measured.Orientation, next.Orientation)
		if posLag > l.posThreshold || ornLag > l.ornThreshold {
			// unreachable this tick: hold the target and retry rather
			// than abort
			l.mu.Lock()
			l.misses++
			misses := l.misses
			l.mu.Unlock()
			if misses > maxConsecutiveMisses {
				return l.fault(ctx, &UnreachableError{PosDistance: posLag, OrnDistance: ornLag, Misses: misses})
			}
		} else {
			l.mu.Lock()
			l.misses = 0
			l.mu.Unlock()
			goalPosLag := measured.Point.Sub(goal.Point).Norm()
			goalOrnLag := spatialmath.OrientationDistance(measured.Orientation, goal.Orientation)
			if !stream && next.AlmostEqual(goal, 1e-9) && goalPosLag <= l.posThreshold && goalOrnLag <= l.ornThreshold {
				l.setState(StateCompleted)
				return nil
			}
			next = l.planner.NextServoTarget(next, goal)
		}

		if err := l.monitor.Check(force); err != nil {
			l.halt(ctx)
			return err
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			l.halt(context.Background())
			return ctx.Err()
		}
	}
}

func (l *Loop) currentGoal() spatialmath.Pose {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.goal
}

// SubmitRelative resolves a relative action against the configured reference
// frame and, while a servo session is running, installs the result as the live
// target. The resolved absolute target is returned.
func (l *Loop) SubmitRelative(ctx context.Context, action RelativeAction) (spatialmath.Pose, error) {
	current, err := l.measuredTCP(ctx)
	if err != nil {
		return spatialmath.Pose{}, err
	}

	l.mu.Lock()
	if l.state != StateServoing {
		l.mu.Unlock()
		return spatialmath.Pose{}, errors.Errorf("no active servo session (state %s)", l.state)
	}
	desired := l.desired
	if !l.haveDesired {
		desired = current
	}
	l.mu.Unlock()

	target, err := l.translator.Resolve(action, current, desired)
	if err != nil {
		return spatialmath.Pose{}, err
	}

	l.mu.Lock()
	if l.state == StateServoing {
		l.goal = target
		l.desired = target
		l.haveDesired = true
	}
	l.mu.Unlock()
	return target, nil
}
