// Package safety implements the contact-force monitor consulted on every
// control tick of a motion.
package safety

import (
	"fmt"
	"math"
	"sync"

	"github.com/pkg/errors"
)

const numAxes = 6

// ExceededError reports the first axis whose measured force passed its
// threshold. It halts the current motion and latches the monitor until Reset.
type ExceededError struct {
	Axis      int
	Measured  float64
	Threshold float64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("contact force on axis %d is %.2f, above threshold %.2f", e.Axis, e.Measured, e.Threshold)
}

// Monitor compares measured per-axis contact force against fixed thresholds.
// The comparison is per-axis absolute value; any single axis exceeding its
// threshold trips the monitor. Once tripped it stays tripped until an explicit
// Reset, and no new motions may start.
type Monitor struct {
	thresholds []float64

	mu      sync.Mutex
	tripped *ExceededError
}

// NewMonitor builds a Monitor from six per-axis Newton thresholds.
func NewMonitor(thresholds []float64) (*Monitor, error) {
	if len(thresholds) != numAxes {
		return nil, errors.Errorf("need %d force thresholds, got %d", numAxes, len(thresholds))
	}
	for i, th := range thresholds {
		if th <= 0 {
			return nil, errors.Errorf("force threshold for axis %d must be positive, got %.2f", i, th)
		}
	}
	return &Monitor{thresholds: append([]float64{}, thresholds...)}, nil
}

// Check compares one force sample against the thresholds. On the first
// violating axis it latches and returns an *ExceededError; afterwards every
// call returns the latched error until Reset.
func (m *Monitor) Check(force []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tripped != nil {
		return m.tripped
	}
	if len(force) != numAxes {
		return errors.Errorf("need %d force values, got %d", numAxes, len(force))
	}
	for i, f := range force {
		if math.Abs(f) > m.thresholds[i] {
			m.tripped = &ExceededError{Axis: i, Measured: f, Threshold: m.thresholds[i]}
			return m.tripped
		}
	}
	return nil
}

// Tripped returns the latched error, or nil when the monitor is clear.
func (m *Monitor) Tripped() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tripped == nil {
		return nil
	}
	return m.tripped
}

// Reset clears a latched violation. It must be called explicitly by the
// operator before new motions are accepted.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.tripped = nil
	m.mu.Unlock()
}
