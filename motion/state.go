package motion

// State is the lifecycle of one motion command. It is owned exclusively by the
// servo loop for the duration of the command; terminal states are one-way and
// a new command always starts a fresh cycle.
type State int

const (
	// StateIdle means no motion command is active.
	StateIdle State = iota
	// StatePlanning means a command is being validated and planned.
	StatePlanning
	// StateServoing means the closed loop is driving targets.
	StateServoing
	// StateCompleted means the command converged on its target.
	StateCompleted
	// StateHalted means the command was stopped by cancellation or a safety
	// violation.
	StateHalted
	// StateFaulted means the command failed and session-level recovery is
	// required.
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlanning:
		return "planning"
	case StateServoing:
		return "servoing"
	case StateCompleted:
		return "completed"
	case StateHalted:
		return "halted"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends a motion command.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateHalted || s == StateFaulted
}
