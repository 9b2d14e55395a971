// Package armctl wires a validated parameter record into a ready robot
// control session: limit model, safety monitor, relative-action translator,
// motion planner and servo loop over one exclusive controller connection.
package armctl

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.uber.org/multierr"

	"github.com/tendon-robotics/armctl/arm"
	"github.com/tendon-robotics/armctl/arm/universalrobots"
	"github.com/tendon-robotics/armctl/config"
	"github.com/tendon-robotics/armctl/gripper"

	// register gripper models
	_ "github.com/tendon-robotics/armctl/gripper/griplink"
	"github.com/tendon-robotics/armctl/motion"
	"github.com/tendon-robotics/armctl/safety"
	"github.com/tendon-robotics/armctl/spatialmath"
)

// Session is the single-owner handle to one physical robot. It is passed by
// reference to whoever issues motion commands; concurrent commands queue on
// the servo loop.
type Session struct {
	Robot   arm.Arm
	Limits  *arm.LimitModel
	Monitor *safety.Monitor
	Loop    *motion.Loop
	Gripper gripper.Gripper

	logger golog.Logger
}

func toolOffsetPose(v []float64) spatialmath.Pose {
	return spatialmath.Pose{
		Point:       r3.Vector{X: v[0], Y: v[1], Z: v[2]},
		Orientation: spatialmath.QuatFromRotationVector(r3.Vector{X: v[3], Y: v[4], Z: v[5]}),
	}
}

// New connects to the controller named in the config and assembles the
// control stack. Options allow substituting the robot connection in tests.
func New(ctx context.Context, cfg *config.Config, logger golog.Logger, opts ...Option) (*Session, error) {
	s := &Session{logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	limits, err := arm.NewLimitModel(cfg.LowerLimits, cfg.UpperLimits, toolOffsetPose(cfg.TCPOffset), cfg.NeutralPose)
	if err != nil {
		return nil, err
	}
	s.Limits = limits

	monitor, err := safety.NewMonitor(cfg.ContactForceThreshold)
	if err != nil {
		return nil, err
	}
	s.Monitor = monitor

	var workspace arm.Workspace
	if cfg.Workspace != nil {
		workspace = &arm.Box{
			Min: r3.Vector{X: cfg.Workspace.Min[0], Y: cfg.Workspace.Min[1], Z: cfg.Workspace.Min[2]},
			Max: r3.Vector{X: cfg.Workspace.Max[0], Y: cfg.Workspace.Max[1], Z: cfg.Workspace.Max[2]},
		}
	}
	translator, err := motion.NewTranslator(cfg.RelAction(), workspace, logger)
	if err != nil {
		return nil, err
	}

	if s.Robot == nil {
		robot, err := universalrobots.Connect(ctx, cfg.RobotIP, logger)
		if err != nil {
			return nil, err
		}
		s.Robot = robot
	}

	planner := motion.NewPlanner(limits, cfg)
	s.Loop = motion.NewLoop(s.Robot, limits, monitor, planner, translator, cfg, logger)

	if cfg.Gripper != "" {
		g, err := gripper.New(ctx, cfg.Gripper, cfg.GripperAddress, logger)
		if err != nil {
			return nil, multierr.Combine(err, s.Robot.Close(ctx))
		}
		s.Gripper = g
	}
	return s, nil
}

// Option customizes session assembly.
type Option func(*Session)

// WithRobot substitutes the controller connection, for tests and simulators.
func WithRobot(robot arm.Arm) Option {
	return func(s *Session) {
		s.Robot = robot
	}
}

// Close shuts down the controller and gripper connections.
func (s *Session) Close(ctx context.Context) error {
	var err error
	if s.Gripper != nil {
		err = multierr.Append(err, s.Gripper.Close(ctx))
	}
	if s.Robot != nil {
		err = multierr.Append(err, s.Robot.Close(ctx))
	}
	return err
}
