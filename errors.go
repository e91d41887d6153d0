package scenesync

import "github.com/pkg/errors"

// Error kinds. Callers match them with errors.Is; none of them is fatal.
var (
	// ErrTransformInput marks a non-finite or non-normalizable pose or extent.
	ErrTransformInput = errors.New("invalid transform input")
	// ErrUnknownJoint marks a joint-state name with no configured mapping.
	ErrUnknownJoint = errors.New("unknown joint")
	// ErrMalformedMessage marks an inbound message missing a required field.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrNoEligibleTarget is returned by Pick when nothing is reachable.
	ErrNoEligibleTarget = errors.New("no eligible pick target")

	errIllegalTransition = errors.New("illegal hold transition")
)
