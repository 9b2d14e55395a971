// Package universalrobots implements the network session to a Universal
// Robots controller over its primary interface.
package universalrobots

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/tendon-robotics/armctl/arm"
	"github.com/tendon-robotics/armctl/spatialmath"
	"github.com/tendon-robotics/armctl/utils"
)

const numJoints = arm.NumJoints

const (
	controlPort = "30001"
	statePort   = "30011"

	dialTimeout       = 5 * time.Second
	defaultTimeout    = 10 * time.Second
	errorPollDuration = 10 * time.Millisecond
	maxStateAge       = time.Second
)

// URArm is the session to one controller. It satisfies arm.Arm.
type URArm struct {
	host   string
	logger golog.Logger

	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup

	mu          sync.Mutex
	state       robotState
	haveState   bool
	connControl net.Conn
	connState   net.Conn
}

// Connect dials the controller's state and control ports and waits for the
// first state message before returning.
func Connect(ctx context.Context, host string, logger golog.Logger) (*URArm, error) {
	dialCtx, cancelDial := context.WithTimeout(ctx, dialTimeout)
	defer cancelDial()

	var d net.Dialer
	connState, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(host, statePort))
	if err != nil {
		return nil, errors.Wrapf(err, "can't connect to arm state interface (%s)", host)
	}
	connControl, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(host, controlPort))
	if err != nil {
		return nil, multierr.Combine(
			errors.Wrapf(err, "can't connect to arm control interface (%s)", host),
			connState.Close(),
		)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	ua := &URArm{
		host:        host,
		logger:      logger,
		cancel:      cancel,
		connControl: connControl,
		connState:   connState,
	}

	onData := make(chan struct{})
	var onDataOnce sync.Once
	ua.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		for {
			err := ua.readStates(cancelCtx, func() {
				onDataOnce.Do(func() {
					close(onData)
				})
			})
			switch {
			case err == nil:
				return
			case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.ErrClosedPipe),
				errors.Is(err, io.EOF), os.IsTimeout(err):
				for {
					if cancelCtx.Err() != nil {
						return
					}
					logger.Debugw("reconnecting to arm state interface", "host", ua.host)
					conn, dialErr := d.DialContext(cancelCtx, "tcp", net.JoinHostPort(ua.host, statePort))
					if dialErr == nil {
						ua.mu.Lock()
						ua.connState = conn
						ua.mu.Unlock()
						break
					}
					if !goutils.SelectContextOrWait(cancelCtx, time.Second) {
						return
					}
				}
			default:
				logger.Errorw("state reader failed", "error", err)
				return
			}
		}
	}, ua.activeBackgroundWorkers.Done)

	timer := time.NewTimer(2 * time.Second)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, multierr.Combine(ctx.Err(), ua.Close(ctx))
	case <-timer.C:
		return nil, multierr.Combine(errors.New("arm sent no state in time"), ua.Close(ctx))
	case <-onData:
		return ua, nil
	}
}

// readStates consumes primary-interface messages until the connection drops.
func (ua *URArm) readStates(ctx context.Context, onHaveData func()) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		ua.mu.Lock()
		conn := ua.connState
		ua.mu.Unlock()

		if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			return err
		}
		sizeBuf, err := goutils.ReadBytes(ctx, conn, 4)
		if err != nil {
			return err
		}
		msgSize := binary.BigEndian.Uint32(sizeBuf)
		if msgSize <= 4 || msgSize > 10000 {
			return errors.Errorf("invalid message size: %d", msgSize)
		}
		buf, err := goutils.ReadBytes(ctx, conn, int(msgSize-4))
		if err != nil {
			return err
		}

		if buf[0] != msgTypeRobotState {
			ua.logger.Debugw("skipping message", "type", buf[0], "size", len(buf))
			continue
		}
		state, err := readRobotStateMessage(buf[1:])
		if err != nil {
			return err
		}
		if !state.haveJoints || !state.haveTCP {
			continue
		}
		ua.mu.Lock()
		ua.state = state
		ua.haveState = true
		ua.mu.Unlock()
		onHaveData()
	}
}

func (ua *URArm) getState() (robotState, error) {
	ua.mu.Lock()
	defer ua.mu.Unlock()
	if !ua.haveState {
		return robotState{}, errors.New("no state received from arm yet")
	}
	if age := time.Since(ua.state.creationTime); age > maxStateAge {
		return ua.state, errors.Errorf("arm state is stale (%v old)", age)
	}
	return ua.state, nil
}

func (ua *URArm) write(cmd string) error {
	ua.mu.Lock()
	conn := ua.connControl
	ua.mu.Unlock()
	_, err := conn.Write([]byte(cmd))
	return err
}

// JointPositions returns the measured joint angles in radians.
func (ua *URArm) JointPositions(ctx context.Context) ([]float64, error) {
	state, err := ua.getState()
	if err != nil {
		return nil, err
	}
	radians := make([]float64, numJoints)
	for i, j := range state.Joints {
		radians[i] = j.Qactual
	}
	return radians, nil
}

// EndPosition returns the measured flange pose as reported by the controller.
func (ua *URArm) EndPosition(ctx context.Context) (spatialmath.Pose, error) {
	state, err := ua.getState()
	if err != nil {
		return spatialmath.Pose{}, err
	}
	return poseFromCartesianInfo(state.Cartesian), nil
}

// TCPForce returns the measured generalized tool force.
func (ua *URArm) TCPForce(ctx context.Context) ([]float64, error) {
	state, err := ua.getState()
	if err != nil {
		return nil, err
	}
	force := make([]float64, numJoints)
	copy(force, state.Force[:])
	return force, nil
}

// MoveToJointPositions issues a movej and blocks until the measured joints
// reach the target or a timeout scaled to the distance expires.
func (ua *URArm) MoveToJointPositions(ctx context.Context, radians []float64, speed, acc float64) error {
	if len(radians) != numJoints {
		return errors.Errorf("need %d joints, got %d", numJoints, len(radians))
	}
	state, err := ua.getState()
	if err != nil {
		return err
	}

	cmd := fmt.Sprintf("movej([%f,%f,%f,%f,%f,%f], a=%1.3f, v=%1.3f, r=0)\r\n",
		radians[0], radians[1], radians[2], radians[3], radians[4], radians[5], acc, speed)
	if err := ua.write(cmd); err != nil {
		return err
	}

	maxAngle := 0.
	for i := 0; i < numJoints; i++ {
		if diff := math.Abs(state.Joints[i].Qactual - radians[i]); diff > maxAngle {
			maxAngle = diff
		}
	}
	timeout := defaultTimeout
	if est := time.Duration(1.2 * maxAngle / speed * float64(time.Second)); est > timeout {
		timeout = est
	}

	now := time.Now()
	for {
		state, err := ua.getState()
		if err != nil {
			return err
		}
		reached := true
		for i, r := range radians {
			if !utils.Float64AlmostEqual(r, state.Joints[i].Qactual, 1e-2) {
				reached = false
			}
		}
		if reached {
			return nil
		}
		if time.Since(now) > timeout {
			return errors.Errorf("can't reach joint target %v, at %v", radians, state.Joints)
		}
		if !goutils.SelectContextOrWait(ctx, errorPollDuration) {
			return ctx.Err()
		}
	}
}

// MoveLinear issues a movel to a flange pose and blocks until the measured
// pose converges.
func (ua *URArm) MoveLinear(ctx context.Context, target spatialmath.Pose, speed, acc float64) error {
	cmd := fmt.Sprintf("movel(%s, a=%1.3f, v=%1.3f, r=0)\r\n", formatPose(target), acc, speed)
	if err := ua.write(cmd); err != nil {
		return err
	}

	now := time.Now()
	for {
		cur, err := ua.EndPosition(ctx)
		if err != nil {
			return err
		}
		if cur.Point.Sub(target.Point).Norm() <= 1e-3 &&
			spatialmath.OrientationDistance(cur.Orientation, target.Orientation) <= 1e-2 {
			return nil
		}
		if time.Since(now) > defaultTimeout {
			return errors.Errorf("can't reach pose %v, at %v", target, cur)
		}
		if !goutils.SelectContextOrWait(ctx, errorPollDuration) {
			return ctx.Err()
		}
	}
}

// ServoCartesian transmits one servol target. Tracking is the controller's
// business; the caller drives the closed loop.
func (ua *URArm) ServoCartesian(ctx context.Context, target spatialmath.Pose, controlTime, lookahead, gain float64) error {
	cmd := fmt.Sprintf("servol(%s, t=%1.4f, lookahead_time=%1.4f, gain=%1.1f)\r\n",
		formatPose(target), controlTime, lookahead, gain)
	return ua.write(cmd)
}

// Stop halts any in-progress motion with controlled deceleration.
func (ua *URArm) Stop(ctx context.Context) error {
	return ua.write("stopl(a=1.2)\r\n")
}

// Close shuts down the session.
func (ua *URArm) Close(ctx context.Context) error {
	ua.cancel()
	ua.activeBackgroundWorkers.Wait()

	ua.mu.Lock()
	defer ua.mu.Unlock()
	var err error
	if cerr := ua.connControl.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = multierr.Append(err, cerr)
	}
	if cerr := ua.connState.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = multierr.Append(err, cerr)
	}
	return err
}

func poseFromCartesianInfo(ci cartesianInfo) spatialmath.Pose {
	return spatialmath.Pose{
		Point:       r3.Vector{X: ci.X, Y: ci.Y, Z: ci.Z},
		Orientation: spatialmath.QuatFromRotationVector(r3.Vector{X: ci.Rx, Y: ci.Ry, Z: ci.Rz}),
	}
}

func formatPose(p spatialmath.Pose) string {
	rv := spatialmath.RotationVectorFromQuat(p.Orientation)
	return fmt.Sprintf("p[%f,%f,%f,%f,%f,%f]", p.Point.X, p.Point.Y, p.Point.Z, rv.X, rv.Y, rv.Z)
}
