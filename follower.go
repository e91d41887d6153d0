package scenesync

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
)

// DriveTarget receives accepted joint targets in degrees, in configured joint
// order.
type DriveTarget interface {
	SetJointTargets(ctx context.Context, degrees []float64) error
}

// FollowerStats counts joint-state traffic.
type FollowerStats struct {
	Received      uint64
	Accepted      uint64
	Rejected      uint64
	UnknownJoints uint64
	Malformed     uint64
}

// JointFollower maps inbound joint states onto the configured joints, filters
// them for jumps and forwards accepted frames to the drive.
type JointFollower struct {
	names  []string
	index  map[string]int
	drive  DriveTarget
	logger logging.Logger

	mu     sync.Mutex
	filter *JumpFilter
	seq    uint64
	stats  FollowerStats
}

// NewJointFollower returns a follower for jointNames. drive may be nil, in
// which case accepted frames only update the filter.
func NewJointFollower(jointNames []string, cfg JumpFilterConfig, drive DriveTarget, logger logging.Logger) *JointFollower {
	index := make(map[string]int, len(jointNames))
	for i, n := range jointNames {
		index[n] = i
	}
	return &JointFollower{
		names:  append([]string(nil), jointNames...),
		index:  index,
		drive:  drive,
		logger: logger,
		filter: NewJumpFilter(len(jointNames), cfg),
	}
}

// Frame builds the dense degrees frame for js. Joints absent from js keep the
// last accepted value; unknown names are dropped and counted.
func (f *JointFollower) frame(js JointState) (JointFrame, int) {
	degrees := f.filter.LastAccepted()
	unknown := 0
	for i, name := range js.Names {
		idx, ok := f.index[name]
		if !ok {
			unknown++
			f.logger.Debugf("%v: %q", ErrUnknownJoint, name)
			continue
		}
		degrees[idx] = js.Positions[i] * 180 / math.Pi
	}
	f.seq++
	return JointFrame{Seq: f.seq, Degrees: degrees}, unknown
}

// HandleJointState runs one inbound message through the filter.
func (f *JointFollower) HandleJointState(ctx context.Context, js JointState) (Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stats.Received++
	if err := js.Validate(); err != nil {
		f.stats.Malformed++
		return VerdictNoiseRejected, err
	}

	frame, unknown := f.frame(js)
	f.stats.UnknownJoints += uint64(unknown)

	verdict := f.filter.Apply(frame)
	if !verdict.Accepted() {
		f.stats.Rejected++
		if verdict == VerdictNoiseRejected {
			f.logger.Debugf("joint frame %d: jump disappeared, rejecting noise", frame.Seq)
		}
		return verdict, nil
	}
	f.stats.Accepted++
	if verdict == VerdictConfirmedJump {
		f.logger.Debugf("joint frame %d: jump confirmed, accepting large change", frame.Seq)
	}

	if f.drive == nil {
		return verdict, nil
	}
	if err := f.drive.SetJointTargets(ctx, frame.Degrees); err != nil {
		return verdict, errors.Wrapf(err, "driving joint frame %d", frame.Seq)
	}
	return verdict, nil
}

// State returns the filter state machine value.
func (f *JointFollower) State() FilterState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter.State()
}

// Targets returns the last accepted frame in degrees.
func (f *JointFollower) Targets() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter.LastAccepted()
}

// Stats returns traffic counters.
func (f *JointFollower) Stats() FollowerStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// armDrive forwards joint targets to a Viam arm.
type armDrive struct {
	arm    arm.Arm
	logger logging.Logger
}

// NewArmDrive wraps a follower arm as a DriveTarget.
func NewArmDrive(a arm.Arm, logger logging.Logger) DriveTarget {
	return &armDrive{arm: a, logger: logger}
}

func (d *armDrive) SetJointTargets(ctx context.Context, degrees []float64) error {
	positions := make([]referenceframe.Input, len(degrees))
	for i, deg := range degrees {
		positions[i] = deg * math.Pi / 180
	}
	if err := d.arm.MoveToJointPositions(ctx, positions, nil); err != nil {
		return errors.Wrap(err, "failed to move follower arm")
	}
	return nil
}
