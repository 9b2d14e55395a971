// Package config defines the strongly-typed parameter record for an arm
// control session. The whole file is validated once at load; malformed or
// missing parameters are fatal to startup.
package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

const numJoints = 6

// ReferenceFrame selects which pose a relative action composes against.
type ReferenceFrame string

const (
	// ReferenceCurrent composes against the last measured pose.
	ReferenceCurrent = ReferenceFrame("current")
	// ReferenceDesired composes against the last commanded target, so that
	// commands issued faster than the robot converges compose against intent,
	// not lag.
	ReferenceDesired = ReferenceFrame("desired")
)

// RelActionParams is the typed form of the rel_action_params block.
type RelActionParams struct {
	Ref              ReferenceFrame `json:"ref"`
	PosClipThreshold float64        `json:"relative_pos_clip_threshold"`
	RotClipThreshold float64        `json:"relative_rot_clip_threshold"`
	MaxEEPitch       float64        `json:"max_ee_pitch"` // degrees
	MaxEERoll        float64        `json:"max_ee_roll"`  // degrees
	LimitControl5DOF bool           `json:"limit_control_5_dof"`
	DefaultOrnX      *float64       `json:"default_orn_x,omitempty"`
	DefaultOrnY      *float64       `json:"default_orn_y,omitempty"`
}

// WorkspaceParams is the axis-aligned bounding box of allowed TCP positions.
type WorkspaceParams struct {
	Min []float64 `json:"min"`
	Max []float64 `json:"max"`
}

// Config is the parameter record for one robot session.
type Config struct {
	RobotIP     string    `json:"robot_ip"`
	LowerLimits []float64 `json:"ll"`
	UpperLimits []float64 `json:"ul"`
	TCPOffset   []float64 `json:"tcp_offset"`
	NeutralPose []float64 `json:"neutral_pose"`

	CartesianSpeed float64 `json:"cartesian_speed"`
	CartesianAcc   float64 `json:"cartesian_acc"`
	JointSpeed     float64 `json:"joint_speed"`
	JointAcc       float64 `json:"joint_acc"`

	ControlTime     float64 `json:"control_time"`
	LookaheadTime   float64 `json:"lookahead_time"`
	Gain            float64 `json:"gain"`
	ServoMaxDistPos float64 `json:"servo_max_distance_threshold_pos"`
	ServoMaxDistOrn float64 `json:"servo_max_distance_threshold_orn"`

	ContactForceThreshold []float64 `json:"contact_force_threshold"`

	Gripper        string           `json:"gripper,omitempty"`
	GripperAddress string           `json:"gripper_address,omitempty"`
	Workspace      *WorkspaceParams `json:"workspace,omitempty"`

	RelActionAttributes AttributeMap `json:"rel_action_params"`

	relAction RelActionParams
}

// Read loads and validates a parameter file.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config file %q", path)
	}
	return FromReaderBytes(path, data)
}

// FromReaderBytes parses and validates raw config bytes. The path is used for
// error reporting only.
func FromReaderBytes(path string, data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config %q", path)
	}
	if err := cfg.Validate(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RelAction returns the typed relative-action parameters.
func (c *Config) RelAction() RelActionParams {
	return c.relAction
}

func validateVector(path, field string, v []float64, n int) error {
	if len(v) != n {
		return goutils.NewConfigValidationError(path, errors.Errorf("%s needs %d values, got %d", field, n, len(v)))
	}
	return nil
}

// Validate checks the whole record, applies defaults, and converts the nested
// rel_action_params attribute map into its typed form.
func (c *Config) Validate(path string) error {
	if c.RobotIP == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "robot_ip")
	}
	if err := validateVector(path, "ll", c.LowerLimits, numJoints); err != nil {
		return err
	}
	if err := validateVector(path, "ul", c.UpperLimits, numJoints); err != nil {
		return err
	}
	if err := validateVector(path, "tcp_offset", c.TCPOffset, numJoints); err != nil {
		return err
	}
	if len(c.NeutralPose) != 0 {
		if err := validateVector(path, "neutral_pose", c.NeutralPose, numJoints); err != nil {
			return err
		}
	}
	if err := validateVector(path, "contact_force_threshold", c.ContactForceThreshold, numJoints); err != nil {
		return err
	}
	if c.CartesianSpeed <= 0 || c.CartesianAcc <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("cartesian_speed and cartesian_acc must be positive"))
	}
	if c.JointSpeed <= 0 || c.JointAcc <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("joint_speed and joint_acc must be positive"))
	}
	if c.ControlTime == 0 {
		c.ControlTime = 0.05
	}
	if c.ControlTime < 0.001 || c.ControlTime > 1 {
		return goutils.NewConfigValidationError(path, errors.Errorf("control_time %.4f outside [0.001, 1]", c.ControlTime))
	}
	if c.LookaheadTime <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "lookahead_time")
	}
	if c.Gain <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "gain")
	}
	if c.ServoMaxDistPos <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "servo_max_distance_threshold_pos")
	}
	if c.ServoMaxDistOrn <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "servo_max_distance_threshold_orn")
	}
	if c.Workspace != nil {
		if err := validateVector(path, "workspace.min", c.Workspace.Min, 3); err != nil {
			return err
		}
		if err := validateVector(path, "workspace.max", c.Workspace.Max, 3); err != nil {
			return err
		}
		for i := range c.Workspace.Min {
			if c.Workspace.Min[i] > c.Workspace.Max[i] {
				return goutils.NewConfigValidationError(path, errors.Errorf("workspace.min[%d] above workspace.max[%d]", i, i))
			}
		}
	}
	if c.RelActionAttributes == nil {
		return goutils.NewConfigValidationFieldRequiredError(path, "rel_action_params")
	}
	if err := TransformAttributeMapToStruct(&c.relAction, c.RelActionAttributes); err != nil {
		return goutils.NewConfigValidationError(path, errors.Wrap(err, "rel_action_params"))
	}
	switch c.relAction.Ref {
	case ReferenceCurrent, ReferenceDesired:
	case "":
		return goutils.NewConfigValidationFieldRequiredError(path, "rel_action_params.ref")
	default:
		// a malformed selector is a configuration error, surfaced here and
		// never per-call
		return goutils.NewConfigValidationError(path, errors.Errorf("rel_action_params.ref must be %q or %q, got %q",
			ReferenceCurrent, ReferenceDesired, c.relAction.Ref))
	}
	if c.relAction.PosClipThreshold <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "rel_action_params.relative_pos_clip_threshold")
	}
	if c.relAction.RotClipThreshold <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "rel_action_params.relative_rot_clip_threshold")
	}
	if c.relAction.LimitControl5DOF {
		if c.relAction.MaxEEPitch < 0 || c.relAction.MaxEERoll < 0 {
			return goutils.NewConfigValidationError(path, errors.New("max_ee_pitch and max_ee_roll must not be negative"))
		}
		if (c.relAction.DefaultOrnX == nil) != (c.relAction.DefaultOrnY == nil) {
			return goutils.NewConfigValidationError(path, errors.New("default_orn_x and default_orn_y must be set together"))
		}
	}
	return nil
}
