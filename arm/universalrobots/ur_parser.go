package universalrobots

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
)

// Primary-interface message and package types we care about. Everything else
// is skipped by length.
const (
	msgTypeRobotState = 16

	pkgTypeJointData     = 1
	pkgTypeCartesianInfo = 4
	pkgTypeForceModeData = 7
)

// bytes per joint inside a joint-data package: q_actual, q_target, qd_actual
// (float64), current, voltage, motor and microprocessor temperature
// (float32), joint mode (byte).
const jointDataSize = 41

type jointData struct {
	Qactual float64
	Qtarget float64
}

// Degrees returns the measured angle in degrees.
func (j jointData) Degrees() float64 {
	return j.Qactual * 180 / math.Pi
}

type cartesianInfo struct {
	X, Y, Z    float64
	Rx, Ry, Rz float64
}

type robotState struct {
	creationTime time.Time
	Joints       [numJoints]jointData
	Cartesian    cartesianInfo
	Force        [numJoints]float64
	haveJoints   bool
	haveTCP      bool
}

func readFloat64(buf []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(buf))
}

// readRobotStateMessage parses the body of a primary-interface robot state
// message (type 16), which is a sequence of length-prefixed sub-packages.
func readRobotStateMessage(buf []byte) (robotState, error) {
	state := robotState{creationTime: time.Now()}

	for len(buf) > 0 {
		if len(buf) < 5 {
			return state, errors.Errorf("truncated robot state sub-package header (%d bytes)", len(buf))
		}
		pkgSize := int(binary.BigEndian.Uint32(buf))
		if pkgSize < 5 || pkgSize > len(buf) {
			return state, errors.Errorf("invalid robot state sub-package size %d (have %d)", pkgSize, len(buf))
		}
		pkgType := buf[4]
		body := buf[5:pkgSize]

		switch pkgType {
		case pkgTypeJointData:
			if len(body) < numJoints*jointDataSize {
				return state, errors.Errorf("joint data package too short: %d", len(body))
			}
			for i := 0; i < numJoints; i++ {
				j := body[i*jointDataSize:]
				state.Joints[i] = jointData{
					Qactual: readFloat64(j),
					Qtarget: readFloat64(j[8:]),
				}
			}
			state.haveJoints = true
		case pkgTypeCartesianInfo:
			if len(body) < 48 {
				return state, errors.Errorf("cartesian info package too short: %d", len(body))
			}
			state.Cartesian = cartesianInfo{
				X:  readFloat64(body),
				Y:  readFloat64(body[8:]),
				Z:  readFloat64(body[16:]),
				Rx: readFloat64(body[24:]),
				Ry: readFloat64(body[32:]),
				Rz: readFloat64(body[40:]),
			}
			state.haveTCP = true
		case pkgTypeForceModeData:
			if len(body) < numJoints*8 {
				return state, errors.Errorf("force mode package too short: %d", len(body))
			}
			for i := 0; i < numJoints; i++ {
				state.Force[i] = readFloat64(body[i*8:])
			}
		default:
			// skipped by length
		}
		buf = buf[pkgSize:]
	}
	return state, nil
}
