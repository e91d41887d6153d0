package scenesync

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// Quaternions here are gonum quat.Number values: Real is w, Imag/Jmag/Kmag
// are x/y/z.

// IdentityQuaternion is the no-rotation basis change.
var IdentityQuaternion = quat.Number{Real: 1}

// FrameTransform converts the local scene convention (y-up) into the remote
// planner convention (z-up).
type FrameTransform struct {
	// Basis is left-multiplied onto every corrected orientation.
	Basis quat.Number
}

// NewFrameTransform returns a transform with the given basis change. A zero
// quaternion selects the identity basis.
func NewFrameTransform(basis quat.Number) FrameTransform {
	if basis == (quat.Number{}) {
		basis = IdentityQuaternion
	}
	return FrameTransform{Basis: basis}
}

// ToRemotePosition maps (x, y, z) to (z, -x, y).
func (FrameTransform) ToRemotePosition(p r3.Vector) r3.Vector {
	return r3.Vector{X: p.Z, Y: -p.X, Z: p.Y}
}

// FromRemotePosition is the inverse of ToRemotePosition.
func (FrameTransform) FromRemotePosition(p r3.Vector) r3.Vector {
	return r3.Vector{X: -p.Y, Y: p.Z, Z: p.X}
}

// ToRemoteScale permutes extents like ToRemotePosition without the sign flip.
func (FrameTransform) ToRemoteScale(s r3.Vector) r3.Vector {
	return r3.Vector{X: s.Z, Y: s.X, Z: s.Y}
}

// ToRemoteOrientation returns Basis * (-q.z, -q.x, q.y, q.w). The input is not
// normalized.
func (ft FrameTransform) ToRemoteOrientation(q quat.Number) quat.Number {
	corrected := quat.Number{
		Imag: -q.Kmag,
		Jmag: -q.Imag,
		Kmag: q.Jmag,
		Real: q.Real,
	}
	basis := ft.Basis
	if basis == (quat.Number{}) {
		basis = IdentityQuaternion
	}
	return quat.Mul(basis, corrected)
}

// CheckPose rejects positions and orientations the transform cannot carry.
func CheckPose(p r3.Vector, q quat.Number) error {
	if !finiteVector(p) {
		return errors.Wrapf(ErrTransformInput, "non-finite position %v", p)
	}
	if !finite(q.Real) || !finite(q.Imag) || !finite(q.Jmag) || !finite(q.Kmag) {
		return errors.Wrapf(ErrTransformInput, "non-finite orientation %v", q)
	}
	if quat.Abs(q) < 1e-9 {
		return errors.Wrap(ErrTransformInput, "zero-norm orientation")
	}
	return nil
}

func finiteVector(v r3.Vector) bool {
	return finite(v.X) && finite(v.Y) && finite(v.Z)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
