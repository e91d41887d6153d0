package scenesync

import (
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// DefaultJointNames is the joint order of a UR-style follower arm.
var DefaultJointNames = []string{
	"shoulder_pan_joint",
	"shoulder_lift_joint",
	"elbow_joint",
	"wrist_1_joint",
	"wrist_2_joint",
	"wrist_3_joint",
}

// Config describes the world-sync service attributes.
type Config struct {
	// Remote planning frame and attach link
	FrameID   string `json:"frame_id,omitempty"`   // Frame the collision boxes are expressed in (default: base_link)
	RobotLink string `json:"robot_link,omitempty"` // Link held objects attach to (default: tool0)
	// Scene-side node held objects are reparented under while attached (default: end_effector)
	EndEffector string `json:"end_effector,omitempty"`

	// Synchronization
	PublishIntervalSec float64 `json:"publish_interval_sec,omitempty"` // Seconds between sync passes (default: 50)
	NoCollisionTag     string  `json:"no_collision_tag,omitempty"`     // Tag excluding an object from the world (default: noCollision)
	RobotLayers        []int   `json:"robot_layers,omitempty"`         // Layers holding robot geometry, never published
	FullSnapshot       bool    `json:"full_snapshot,omitempty"`        // Treat snapshots as replacing the world
	ReconcileAfter     int     `json:"reconcile_after,omitempty"`      // Snapshots before a local transition is judged (default: 2)
	OutboxSize         int     `json:"outbox_size,omitempty"`          // Buffered outbound messages (default: 256)

	// Orientation basis as [w, x, y, z] (default: identity)
	BasisQuaternion []float64 `json:"basis_quaternion,omitempty"`

	// Pick limits
	MaxPickDistance float64 `json:"max_pick_distance,omitempty"` // Reach of the pick probe (default: 1.0)
	MaxObjectSize   float64 `json:"max_object_size,omitempty"`   // Largest pickable extent (default: 0.1)

	// Joint following
	JumpThresholdDeg  float64  `json:"jump_threshold_deg,omitempty"`  // Summed motion that counts as a jump (default: 1.0)
	JumpConfirmFrames int      `json:"jump_confirm_frames,omitempty"` // Frames a jump must persist (default: 10)
	JointNames        []string `json:"joint_names,omitempty"`         // Follower joint order
	Arm               string   `json:"arm,omitempty"`                 // Optional follower arm
}

// Validate ensures all parts of the config are valid
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.FrameID == "" {
		cfg.FrameID = "base_link"
	}
	if cfg.RobotLink == "" {
		cfg.RobotLink = "tool0"
	}
	if cfg.EndEffector == "" {
		cfg.EndEffector = "end_effector"
	}
	if cfg.PublishIntervalSec == 0 {
		cfg.PublishIntervalSec = DefaultPublishInterval.Seconds()
	}
	if cfg.NoCollisionTag == "" {
		cfg.NoCollisionTag = "noCollision"
	}
	if cfg.ReconcileAfter == 0 {
		cfg.ReconcileAfter = 2
	}
	if cfg.OutboxSize == 0 {
		cfg.OutboxSize = 256
	}
	if cfg.MaxPickDistance == 0 {
		cfg.MaxPickDistance = 1.0
	}
	if cfg.MaxObjectSize == 0 {
		cfg.MaxObjectSize = 0.1
	}
	if cfg.JumpThresholdDeg == 0 {
		cfg.JumpThresholdDeg = 1.0
	}
	if cfg.JumpConfirmFrames == 0 {
		cfg.JumpConfirmFrames = 10
	}
	if len(cfg.JointNames) == 0 {
		cfg.JointNames = append([]string(nil), DefaultJointNames...)
	}

	if cfg.PublishIntervalSec < 0 {
		return nil, nil, fmt.Errorf("%s: publish_interval_sec must be positive, got %v", path, cfg.PublishIntervalSec)
	}
	if cfg.ReconcileAfter < 0 {
		return nil, nil, fmt.Errorf("%s: reconcile_after must be positive, got %d", path, cfg.ReconcileAfter)
	}
	if cfg.OutboxSize < 0 {
		return nil, nil, fmt.Errorf("%s: outbox_size must be positive, got %d", path, cfg.OutboxSize)
	}
	if cfg.MaxPickDistance < 0 || cfg.MaxObjectSize < 0 {
		return nil, nil, fmt.Errorf("%s: pick limits must be positive", path)
	}
	if cfg.JumpThresholdDeg < 0 {
		return nil, nil, fmt.Errorf("%s: jump_threshold_deg must be positive, got %v", path, cfg.JumpThresholdDeg)
	}
	if cfg.JumpConfirmFrames < 0 {
		return nil, nil, fmt.Errorf("%s: jump_confirm_frames must not be negative, got %d", path, cfg.JumpConfirmFrames)
	}
	if _, err := cfg.Basis(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	seen := make(map[string]bool, len(cfg.JointNames))
	for _, n := range cfg.JointNames {
		if n == "" || seen[n] {
			return nil, nil, fmt.Errorf("%s: joint_names must be unique and non-empty, got %q", path, n)
		}
		seen[n] = true
	}

	var deps []string
	if cfg.Arm != "" {
		deps = append(deps, cfg.Arm)
	}
	return deps, nil, nil
}

// Basis returns the configured orientation basis, identity when unset.
func (cfg *Config) Basis() (quat.Number, error) {
	if len(cfg.BasisQuaternion) == 0 {
		return IdentityQuaternion, nil
	}
	if len(cfg.BasisQuaternion) != 4 {
		return quat.Number{}, fmt.Errorf("basis_quaternion needs 4 values [w, x, y, z], got %d", len(cfg.BasisQuaternion))
	}
	q := quat.Number{
		Real: cfg.BasisQuaternion[0],
		Imag: cfg.BasisQuaternion[1],
		Jmag: cfg.BasisQuaternion[2],
		Kmag: cfg.BasisQuaternion[3],
	}
	if err := CheckPose(r3.Vector{}, q); err != nil {
		return quat.Number{}, fmt.Errorf("invalid basis_quaternion: %w", err)
	}
	if math.Abs(quat.Abs(q)-1) > 1e-6 {
		return quat.Number{}, fmt.Errorf("basis_quaternion must be unit length, got norm %v", quat.Abs(q))
	}
	return q, nil
}

// PublishInterval returns the sync period.
func (cfg *Config) PublishInterval() time.Duration {
	return time.Duration(cfg.PublishIntervalSec * float64(time.Second))
}

// PickLimits returns the controller limits.
func (cfg *Config) PickLimits() PickLimits {
	return PickLimits{MaxDistance: cfg.MaxPickDistance, MaxObjectSize: cfg.MaxObjectSize}
}

// JumpFilter returns the joint filter tuning.
func (cfg *Config) JumpFilter() JumpFilterConfig {
	return JumpFilterConfig{ThresholdDeg: cfg.JumpThresholdDeg, ConfirmFrames: cfg.JumpConfirmFrames}
}

// ObstacleFilter returns the obstacle predicate for the configured tag and layers.
func (cfg *Config) ObstacleFilter() ObstacleFilter {
	return DefaultObstacleFilter(cfg.NoCollisionTag, cfg.RobotLayers)
}
