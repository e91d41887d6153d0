package scenesync

import (
	"context"
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

// SyncResult summarizes one synchronization pass.
type SyncResult struct {
	Added    []string
	Moved    []string
	Filtered []string
	Held     []string
	// Err collects per-object failures; siblings were still synchronized.
	Err error
}

// ToMap renders the result as DoCommand output.
func (r SyncResult) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"added":    stringsToInterfaces(r.Added),
		"moved":    stringsToInterfaces(r.Moved),
		"filtered": stringsToInterfaces(r.Filtered),
		"held":     stringsToInterfaces(r.Held),
	}
	if r.Err != nil {
		errs := multierr.Errors(r.Err)
		out := make([]interface{}, 0, len(errs))
		for _, e := range errs {
			out = append(out, e.Error())
		}
		m["errors"] = out
	}
	return m
}

// Synchronizer turns local obstacle candidates into collision-object updates.
type Synchronizer struct {
	registry   *ObjectRegistry
	frame      FrameTransform
	publisher  Publisher
	isObstacle ObstacleFilter
	frameID    string
	logger     logging.Logger

	// mu serializes passes with pick and release so a held object is never
	// published as a free obstacle mid-transition.
	mu sync.Mutex
}

// NewSynchronizer wires a synchronizer. A nil filter accepts every object.
func NewSynchronizer(
	registry *ObjectRegistry,
	frame FrameTransform,
	publisher Publisher,
	filter ObstacleFilter,
	frameID string,
	logger logging.Logger,
) *Synchronizer {
	if filter == nil {
		filter = func(SceneObject) bool { return true }
	}
	return &Synchronizer{
		registry:   registry,
		frame:      frame,
		publisher:  publisher,
		isObstacle: filter,
		frameID:    frameID,
		logger:     logger,
	}
}

// Synchronize publishes Add or Move for every obstacle candidate that is not
// held. It never emits Remove and never waits for acknowledgement.
func (s *Synchronizer) Synchronize(ctx context.Context, candidates []SceneObject) SyncResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res SyncResult
	seen := make(map[string]struct{}, len(candidates))
	for _, o := range candidates {
		if err := ctx.Err(); err != nil {
			res.Err = multierr.Append(res.Err, err)
			break
		}
		if o.ID == "" {
			res.Err = multierr.Append(res.Err, errors.Wrap(ErrMalformedMessage, "scene object without id"))
			continue
		}
		if _, dup := seen[o.ID]; dup {
			s.logger.Warnf("skipping duplicate scene object id %q", o.ID)
			res.Err = multierr.Append(res.Err, errors.Errorf("duplicate scene object id %q", o.ID))
			continue
		}
		seen[o.ID] = struct{}{}

		if !s.isObstacle(o) {
			res.Filtered = append(res.Filtered, o.ID)
			continue
		}
		if s.registry.IsAttached(o.ID) {
			res.Held = append(res.Held, o.ID)
			continue
		}

		op := CollisionAdd
		if s.registry.Exists(o.ID) {
			op = CollisionMove
		}
		if err := s.publishLocked(ctx, o, op); err != nil {
			s.logger.Warnf("skipping obstacle %q: %v", o.ID, err)
			res.Err = multierr.Append(res.Err, err)
			continue
		}
		if op == CollisionMove {
			res.Moved = append(res.Moved, o.ID)
		} else {
			res.Added = append(res.Added, o.ID)
		}
	}
	s.logger.Debugf("sync pass: %d added, %d moved, %d filtered, %d held",
		len(res.Added), len(res.Moved), len(res.Filtered), len(res.Held))
	return res
}

// Remove publishes a Remove for id and drops it from the registry.
func (s *Synchronizer) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(ctx, id)
}

func (s *Synchronizer) removeLocked(ctx context.Context, id string) error {
	u := CollisionUpdate{FrameID: s.frameID, ID: id, Op: CollisionRemove}
	if err := s.publisher.PublishCollision(ctx, u); err != nil {
		return errors.Wrapf(err, "publishing remove of %q", id)
	}
	s.registry.Remove(id)
	return nil
}

// publishLocked converts o and publishes it with op.
func (s *Synchronizer) publishLocked(ctx context.Context, o SceneObject, op CollisionOp) error {
	box, err := s.BuildBox(o)
	if err != nil {
		return err
	}
	u := CollisionUpdate{FrameID: s.frameID, ID: o.ID, Op: op, Box: box}
	if err := s.publisher.PublishCollision(ctx, u); err != nil {
		return errors.Wrapf(err, "publishing %s of %q", op, o.ID)
	}
	return nil
}

// BuildBox converts a scene object into a remote-convention box.
func (s *Synchronizer) BuildBox(o SceneObject) (*BoxGeometry, error) {
	if err := CheckPose(o.Center, o.Orientation); err != nil {
		return nil, errors.Wrapf(err, "object %q", o.ID)
	}
	size := o.Size()
	if !finiteVector(size) {
		return nil, errors.Wrapf(ErrTransformInput, "object %q has non-finite size %v", o.ID, size)
	}
	box := &BoxGeometry{
		Center:      s.frame.ToRemotePosition(o.Center),
		Orientation: s.frame.ToRemoteOrientation(o.Orientation),
		Dims:        s.frame.ToRemoteScale(absVector(size)),
	}
	if _, err := box.Geometry(o.ID); err != nil {
		return nil, errors.Wrapf(ErrTransformInput, "object %q: %v", o.ID, err)
	}
	return box, nil
}

// absVector drops the sign a negative scale puts on extents.
func absVector(v r3.Vector) r3.Vector {
	return r3.Vector{X: math.Abs(v.X), Y: math.Abs(v.Y), Z: math.Abs(v.Z)}
}

func stringsToInterfaces(in []string) []interface{} {
	out := make([]interface{}, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}
