// Package griplink implements a gripper driven by a Weiss GRIPLINK controller
// over its line-oriented TCP command interface.
package griplink

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/tendon-robotics/armctl/gripper"
)

// ModelName selects this driver in the configuration.
const ModelName = "griplink"

const (
	defaultPort    = "10001"
	commandTimeout = 2 * time.Second
)

func init() {
	gripper.RegisterGripper(ModelName, func(ctx context.Context, address string, logger golog.Logger) (gripper.Gripper, error) {
		return Connect(ctx, address, logger)
	})
}

type griplinkGripper struct {
	mu     sync.Mutex
	conn   net.Conn
	rw     *bufio.ReadWriter
	logger golog.Logger
}

// Connect dials the GRIPLINK controller. The address may omit the port, in
// which case the controller default is used.
func Connect(ctx context.Context, address string, logger golog.Logger) (gripper.Gripper, error) {
	if !strings.Contains(address, ":") {
		address = net.JoinHostPort(address, defaultPort)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "can't connect to griplink controller (%s)", address)
	}
	return &griplinkGripper{
		conn:   conn,
		rw:     bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		logger: logger,
	}, nil
}

// command sends one line and returns the controller's reply line.
func (g *griplinkGripper) command(cmd string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.conn.SetDeadline(time.Now().Add(commandTimeout)); err != nil {
		return "", err
	}
	if _, err := g.rw.WriteString(cmd + "\n"); err != nil {
		return "", err
	}
	if err := g.rw.Flush(); err != nil {
		return "", err
	}
	line, _, err := g.rw.ReadLine()
	if err != nil {
		return "", err
	}
	reply := strings.TrimSpace(string(line))
	if strings.HasPrefix(reply, "ERR") {
		return "", errors.Errorf("griplink rejected %q: %s", cmd, reply)
	}
	return reply, nil
}

func (g *griplinkGripper) Open(ctx context.Context) error {
	_, err := g.command("RELEASE(0)")
	return err
}

func (g *griplinkGripper) Grab(ctx context.Context) (bool, error) {
	if _, err := g.command("GRIP(0)"); err != nil {
		return false, err
	}
	state, err := g.State(ctx)
	if err != nil {
		return false, err
	}
	return state == gripper.GripStateHolding, nil
}

func (g *griplinkGripper) State(ctx context.Context) (gripper.GripState, error) {
	reply, err := g.command("GRIPSTATE[0]?")
	if err != nil {
		return gripper.GripStateUnknown, err
	}
	return parseGripState(reply)
}

func parseGripState(reply string) (gripper.GripState, error) {
	_, value, found := strings.Cut(reply, "=")
	if !found {
		return gripper.GripStateUnknown, errors.Errorf("malformed griplink state reply %q", reply)
	}
	switch strings.TrimSpace(value) {
	case "RELEASED":
		return gripper.GripStateOpen, nil
	case "NO PART", "NOPART":
		return gripper.GripStateClosed, nil
	case "HOLDING":
		return gripper.GripStateHolding, nil
	default:
		return gripper.GripStateUnknown, nil
	}
}

func (g *griplinkGripper) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
