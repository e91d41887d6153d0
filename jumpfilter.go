package scenesync

import (
	"fmt"
	"math"
)

// uninitializedEpsilon: a last-accepted angle this close to zero reads as
// never seen and contributes no motion.
const uninitializedEpsilon = 1e-6

// JointFrame is a dense vector of joint angles in degrees, indexed in the
// configured joint order.
type JointFrame struct {
	Seq     uint64
	Degrees []float64
}

// FilterPhase is the jump filter's mode.
type FilterPhase int

const (
	FilterSteady FilterPhase = iota
	FilterJumping
)

func (p FilterPhase) String() string {
	if p == FilterJumping {
		return "jumping"
	}
	return "steady"
}

// FilterState is the jump filter's state machine value. Streak counts frames
// seen since the jump began and is zero while steady.
type FilterState struct {
	Phase  FilterPhase
	Streak int
}

// Verdict explains a filter decision.
type Verdict int

const (
	VerdictAccepted Verdict = iota
	// VerdictConfirmedJump accepts a large move that persisted.
	VerdictConfirmedJump
	// VerdictJumpStarted rejects the first large frame.
	VerdictJumpStarted
	// VerdictAwaitingConfirm rejects a large frame while the jump is unconfirmed.
	VerdictAwaitingConfirm
	// VerdictNoiseRejected rejects the frame that ended a spike.
	VerdictNoiseRejected
)

// Accepted reports whether the frame was let through.
func (v Verdict) Accepted() bool {
	return v == VerdictAccepted || v == VerdictConfirmedJump
}

func (v Verdict) String() string {
	switch v {
	case VerdictAccepted:
		return "accepted"
	case VerdictConfirmedJump:
		return "confirmed_jump"
	case VerdictJumpStarted:
		return "jump_started"
	case VerdictAwaitingConfirm:
		return "awaiting_confirm"
	case VerdictNoiseRejected:
		return "noise_rejected"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// JumpFilterConfig tunes the filter.
type JumpFilterConfig struct {
	// ThresholdDeg is the summed per-frame motion that counts as a jump.
	ThresholdDeg float64
	// ConfirmFrames is how many frames a jump must persist to be accepted.
	ConfirmFrames int
}

// JumpFilter rejects single-frame discontinuities in a joint stream while
// letting persistent large moves through after ConfirmFrames frames.
//
// Frames must be fed in arrival order from one logical channel. The filter is
// not safe for concurrent use.
type JumpFilter struct {
	cfg          JumpFilterConfig
	lastAccepted []float64
	state        FilterState
}

// NewJumpFilter returns a filter for numJoints joints, all uninitialized.
func NewJumpFilter(numJoints int, cfg JumpFilterConfig) *JumpFilter {
	return &JumpFilter{
		cfg:          cfg,
		lastAccepted: make([]float64, numJoints),
	}
}

// State returns the current state machine value.
func (f *JumpFilter) State() FilterState {
	return f.state
}

// LastAccepted returns a copy of the baseline frame.
func (f *JumpFilter) LastAccepted() []float64 {
	out := make([]float64, len(f.lastAccepted))
	copy(out, f.lastAccepted)
	return out
}

// Motion is the summed absolute difference from the baseline over joints
// whose baseline is initialized. Extra or missing joints contribute nothing.
func (f *JumpFilter) Motion(frame JointFrame) float64 {
	var motion float64
	for i, last := range f.lastAccepted {
		if i >= len(frame.Degrees) {
			break
		}
		if math.Abs(last) < uninitializedEpsilon {
			continue
		}
		motion += math.Abs(frame.Degrees[i] - last)
	}
	return motion
}

// Apply decides on one frame. Accepted frames become the new baseline.
func (f *JumpFilter) Apply(frame JointFrame) Verdict {
	motion := f.Motion(frame)
	large := motion > f.cfg.ThresholdDeg

	var verdict Verdict
	switch f.state.Phase {
	case FilterSteady:
		if large {
			f.state = FilterState{Phase: FilterJumping}
			return VerdictJumpStarted
		}
		verdict = VerdictAccepted
	case FilterJumping:
		f.state.Streak++
		switch {
		case !large:
			f.state = FilterState{}
			return VerdictNoiseRejected
		case f.state.Streak >= f.cfg.ConfirmFrames:
			f.state = FilterState{}
			verdict = VerdictConfirmedJump
		default:
			return VerdictAwaitingConfirm
		}
	}

	n := len(frame.Degrees)
	if n > len(f.lastAccepted) {
		n = len(f.lastAccepted)
	}
	copy(f.lastAccepted, frame.Degrees[:n])
	return verdict
}
