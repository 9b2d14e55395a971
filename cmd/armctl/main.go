// armctl is a small operator CLI over one robot session: homing, one-shot
// motions, a relative-action servo session, and gripper control.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	goutils "go.viam.com/utils"

	"github.com/tendon-robotics/armctl"
	"github.com/tendon-robotics/armctl/config"
	"github.com/tendon-robotics/armctl/motion"
)

func main() {
	logger := golog.NewDevelopmentLogger("armctl")

	app := &cli.App{
		Name:  "armctl",
		Usage: "drive a networked 6-axis arm from a parameter file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "path to the robot parameter file",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			logConfig := zap.NewDevelopmentConfig()
			if !c.Bool("debug") {
				logConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
			}
			base, err := logConfig.Build()
			if err != nil {
				return err
			}
			logger = base.Sugar().Named("armctl")
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "print measured joints and TCP pose",
				Action: func(c *cli.Context) error {
					return withSession(c, logger, func(ctx context.Context, s *armctl.Session) error {
						joints, err := s.Robot.JointPositions(ctx)
						if err != nil {
							return err
						}
						flange, err := s.Robot.EndPosition(ctx)
						if err != nil {
							return err
						}
						fmt.Printf("joints: %v\ntcp: %v\n", joints, s.Limits.ApplyToolOffset(flange))
						return nil
					})
				},
			},
			{
				Name:  "home",
				Usage: "move to the configured neutral pose",
				Action: func(c *cli.Context) error {
					return withSession(c, logger, func(ctx context.Context, s *armctl.Session) error {
						return s.Loop.Home(ctx)
					})
				},
			},
			{
				Name:      "move-joints",
				Usage:     "point-to-point motion to six joint angles (radians)",
				ArgsUsage: "J0 J1 J2 J3 J4 J5",
				Action: func(c *cli.Context) error {
					target, err := parseFloats(c.Args().Slice(), 6)
					if err != nil {
						return err
					}
					return withSession(c, logger, func(ctx context.Context, s *armctl.Session) error {
						return s.Loop.MoveToJointPositions(ctx, target)
					})
				},
			},
			{
				Name:      "move-linear",
				Usage:     "linear motion of the TCP to x y z (meters), keeping orientation",
				ArgsUsage: "X Y Z",
				Action: func(c *cli.Context) error {
					pos, err := parseFloats(c.Args().Slice(), 3)
					if err != nil {
						return err
					}
					return withSession(c, logger, func(ctx context.Context, s *armctl.Session) error {
						flange, err := s.Robot.EndPosition(ctx)
						if err != nil {
							return err
						}
						target := s.Limits.ApplyToolOffset(flange)
						target.Point = r3.Vector{X: pos[0], Y: pos[1], Z: pos[2]}
						return s.Loop.MoveLinear(ctx, target)
					})
				},
			},
			{
				Name:  "servo",
				Usage: "stream relative actions read as 'dx dy dz [drx dry drz]' lines from stdin",
				Action: func(c *cli.Context) error {
					return withSession(c, logger, func(ctx context.Context, s *armctl.Session) error {
						return runServoStream(ctx, s, logger)
					})
				},
			},
			{
				Name:      "gripper",
				Usage:     "open or close the gripper",
				ArgsUsage: "open|close|state",
				Action: func(c *cli.Context) error {
					return withSession(c, logger, func(ctx context.Context, s *armctl.Session) error {
						if s.Gripper == nil {
							return errors.New("no gripper configured")
						}
						switch c.Args().First() {
						case "open":
							return s.Gripper.Open(ctx)
						case "close":
							holding, err := s.Gripper.Grab(ctx)
							if err != nil {
								return err
							}
							fmt.Printf("holding: %v\n", holding)
							return nil
						case "state":
							state, err := s.Gripper.State(ctx)
							if err != nil {
								return err
							}
							fmt.Println(state)
							return nil
						default:
							return errors.New("expected open, close or state")
						}
					})
				},
			},
			{
				Name:  "reset-safety",
				Usage: "clear a latched safety violation",
				Action: func(c *cli.Context) error {
					return withSession(c, logger, func(ctx context.Context, s *armctl.Session) error {
						s.Monitor.Reset()
						return nil
					})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}

func withSession(c *cli.Context, logger golog.Logger, f func(context.Context, *armctl.Session) error) error {
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	cfg, err := config.Read(c.String("config"))
	if err != nil {
		return err
	}
	session, err := armctl.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(func() error {
		return session.Close(ctx)
	})
	return f(ctx, session)
}

func runServoStream(ctx context.Context, s *armctl.Session, logger golog.Logger) error {
	done := make(chan error, 1)
	goutils.PanicCapturingGo(func() {
		done <- s.Loop.ServoStream(ctx)
	})

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		deltas, err := parseFloats(fields, len(fields))
		if err != nil || (len(deltas) != 3 && len(deltas) != 6) {
			logger.Warnw("expected 3 or 6 deltas", "line", scanner.Text())
			continue
		}
		action := motion.RelativeAction{Pos: r3.Vector{X: deltas[0], Y: deltas[1], Z: deltas[2]}}
		if len(deltas) == 6 {
			action.Orn = r3.Vector{X: deltas[3], Y: deltas[4], Z: deltas[5]}
		}
		target, err := s.Loop.SubmitRelative(ctx, action)
		if err != nil {
			logger.Errorw("relative action rejected", "error", err)
			continue
		}
		logger.Infow("target updated", "target", target.String())
	}
	s.Loop.Cancel()
	err := <-done
	if errors.Is(err, motion.ErrCanceled) {
		return nil
	}
	return err
}

func parseFloats(args []string, n int) ([]float64, error) {
	if len(args) != n {
		return nil, errors.Errorf("expected %d values, got %d", n, len(args))
	}
	out := make([]float64, n)
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad number %q", a)
		}
		out[i] = v
	}
	return out, nil
}
