// Package gripper defines the boundary to the tool gripper. Grip control is
// orthogonal to arm motion; the motion layer never talks to it directly.
package gripper

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

// GripState is the reported state of the jaws.
type GripState int

const (
	// GripStateUnknown means the controller has not reported yet.
	GripStateUnknown GripState = iota
	// GripStateOpen means the jaws are fully open.
	GripStateOpen
	// GripStateClosed means the jaws closed without holding a part.
	GripStateClosed
	// GripStateHolding means the jaws closed onto a part.
	GripStateHolding
)

func (s GripState) String() string {
	switch s {
	case GripStateOpen:
		return "open"
	case GripStateClosed:
		return "closed"
	case GripStateHolding:
		return "holding"
	default:
		return "unknown"
	}
}

// Gripper is a jaw gripper mounted on the arm flange.
type Gripper interface {
	// Open opens the jaws fully.
	Open(ctx context.Context) error
	// Grab closes the jaws and returns whether a part is held.
	Grab(ctx context.Context) (bool, error)
	// State returns the current grip state.
	State(ctx context.Context) (GripState, error)
	// Close shuts down the connection to the gripper controller.
	Close(ctx context.Context) error
}

// Constructor builds a gripper from its network address.
type Constructor func(ctx context.Context, address string, logger golog.Logger) (Gripper, error)

var registry = map[string]Constructor{}

// RegisterGripper registers a gripper model by name.
func RegisterGripper(name string, c Constructor) {
	registry[name] = c
}

// Lookup returns the registered constructor for a gripper model.
func Lookup(name string) (Constructor, bool) {
	c, ok := registry[name]
	return c, ok
}

// New builds the gripper model selected by name in the configuration.
func New(ctx context.Context, name, address string, logger golog.Logger) (Gripper, error) {
	c, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("unknown gripper model %q", name)
	}
	return c(ctx, address, logger)
}
