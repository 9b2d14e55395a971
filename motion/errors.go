package motion

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrCanceled is returned when a motion was halted by a cancellation request.
var ErrCanceled = errors.New("motion canceled")

// UnreachableError reports that the measured pose failed to track the
// transmitted servo target for too many consecutive ticks. It is terminal for
// the current command.
type UnreachableError struct {
	PosDistance float64
	OrnDistance float64
	Misses      int
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("servo target unreachable for %d consecutive ticks (pos %.4f m, orn %.4f rad behind)",
		e.Misses, e.PosDistance, e.OrnDistance)
}

// FaultedError is terminal for the current motion command; session-level
// recovery is the caller's responsibility. The cause is preserved for
// errors.Is/As inspection.
type FaultedError struct {
	Cause error
}

func (e *FaultedError) Error() string {
	return "motion faulted: " + e.Cause.Error()
}

func (e *FaultedError) Unwrap() error {
	return e.Cause
}

// WorkspaceError reports a resolved target outside the allowed Cartesian
// volume. The action is rejected; the caller may resubmit a smaller delta.
type WorkspaceError struct {
	X, Y, Z float64
}

func (e *WorkspaceError) Error() string {
	return fmt.Sprintf("target position [%.4f %.4f %.4f] outside workspace", e.X, e.Y, e.Z)
}
