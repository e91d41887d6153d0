package scenesync

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// HoldPhase is the end-effector hold state.
type HoldPhase int

const (
	HoldEmpty HoldPhase = iota
	HoldHolding
)

func (p HoldPhase) String() string {
	if p == HoldHolding {
		return "holding"
	}
	return "empty"
}

// HoldState is the controller's state machine value. ID and OriginalParent
// are set only while holding.
type HoldState struct {
	Phase          HoldPhase
	ID             string
	OriginalParent string
}

// PickTarget is what the external raycast reports from the end effector.
type PickTarget struct {
	ID       string
	Distance float64
}

// TargetFinder looks for a pick target within maxDistance.
type TargetFinder interface {
	FindTarget(ctx context.Context, maxDistance float64) (PickTarget, bool)
}

// TargetFinderFunc adapts a function to TargetFinder.
type TargetFinderFunc func(ctx context.Context, maxDistance float64) (PickTarget, bool)

// FindTarget calls f.
func (f TargetFinderFunc) FindTarget(ctx context.Context, maxDistance float64) (PickTarget, bool) {
	return f(ctx, maxDistance)
}

// PickLimits bounds what can be picked: hit distance and largest box extent.
type PickLimits struct {
	MaxDistance   float64
	MaxObjectSize float64
}

// AttachController runs the pick/release protocol for one end effector.
type AttachController struct {
	link        string
	endEffector string
	limits      PickLimits

	sync   *Synchronizer
	scene  Scene
	logger logging.Logger

	mu    sync.Mutex
	state HoldState
}

// NewAttachController returns a controller in the empty state. link is the
// remote manipulator link; endEffector is the scene parent held objects are
// moved under.
func NewAttachController(
	link, endEffector string,
	limits PickLimits,
	synchronizer *Synchronizer,
	scene Scene,
	logger logging.Logger,
) *AttachController {
	return &AttachController{
		link:        link,
		endEffector: endEffector,
		limits:      limits,
		sync:        synchronizer,
		scene:       scene,
		logger:      logger,
	}
}

// State returns the current hold state.
func (c *AttachController) State() HoldState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pick removes the found target from the world and attaches it to the link.
// It returns ErrNoEligibleTarget, without emitting anything, when nothing is
// in reach or the target is too large.
func (c *AttachController) Pick(ctx context.Context, finder TargetFinder) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != HoldEmpty {
		return "", errors.Wrapf(errIllegalTransition, "pick while holding %q", c.state.ID)
	}

	obj, err := c.eligibleTarget(ctx, finder)
	if err != nil {
		return "", err
	}

	c.sync.mu.Lock()
	defer c.sync.mu.Unlock()

	// world remove strictly before attach
	if err := c.sync.removeLocked(ctx, obj.ID); err != nil {
		return "", err
	}
	attach := AttachUpdate{Link: c.link, ID: obj.ID, Op: Attach}
	if err := c.sync.publisher.PublishAttach(ctx, attach); err != nil {
		// the object is absent locally now; the next pass re-adds it
		return "", errors.Wrapf(err, "publishing attach of %q", obj.ID)
	}
	c.sync.registry.MarkPicked(obj.ID, c.link)

	if err := c.scene.Reparent(ctx, obj.ID, c.endEffector); err != nil {
		c.logger.Warnf("failed to reparent %q to %s: %v", obj.ID, c.endEffector, err)
	}
	c.state = HoldState{Phase: HoldHolding, ID: obj.ID, OriginalParent: obj.Parent}
	c.logger.Infof("Picked %s", obj.ID)
	return obj.ID, nil
}

func (c *AttachController) eligibleTarget(ctx context.Context, finder TargetFinder) (SceneObject, error) {
	if finder == nil {
		return SceneObject{}, ErrNoEligibleTarget
	}
	target, ok := finder.FindTarget(ctx, c.limits.MaxDistance)
	if !ok || target.ID == "" {
		return SceneObject{}, ErrNoEligibleTarget
	}
	if target.Distance < 0 || target.Distance > c.limits.MaxDistance {
		return SceneObject{}, errors.Wrapf(ErrNoEligibleTarget, "%q is %.3f away (max %.3f)",
			target.ID, target.Distance, c.limits.MaxDistance)
	}
	obj, ok := c.scene.Object(ctx, target.ID)
	if !ok {
		return SceneObject{}, errors.Wrapf(ErrNoEligibleTarget, "%q is not in the scene", target.ID)
	}
	// only published obstacles can be removed from the world and attached
	if !c.sync.isObstacle(obj) {
		return SceneObject{}, errors.Wrapf(ErrNoEligibleTarget, "%q is not a collision object", target.ID)
	}
	size := absVector(obj.Size())
	if size.X > c.limits.MaxObjectSize || size.Y > c.limits.MaxObjectSize || size.Z > c.limits.MaxObjectSize {
		return SceneObject{}, errors.Wrapf(ErrNoEligibleTarget, "%q is too large to pick (%v)", target.ID, size)
	}
	return obj, nil
}

// Release detaches the held object and returns it to the world at its current
// pose.
func (c *AttachController) Release(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != HoldHolding {
		return "", errors.Wrap(errIllegalTransition, "release while empty")
	}
	held := c.state

	c.sync.mu.Lock()
	defer c.sync.mu.Unlock()

	// detach strictly before world add
	detach := AttachUpdate{Link: c.link, ID: held.ID, Op: Detach}
	if err := c.sync.publisher.PublishAttach(ctx, detach); err != nil {
		return "", errors.Wrapf(err, "publishing detach of %q", held.ID)
	}

	obj, ok := c.scene.Object(ctx, held.ID)
	switch {
	case !ok:
		c.logger.Warnf("released %q is gone from the scene; not re-adding it", held.ID)
		c.sync.registry.Remove(held.ID)
	default:
		if err := c.sync.publishLocked(ctx, obj, CollisionAdd); err != nil {
			c.logger.Warnf("failed to re-add released %q: %v", held.ID, err)
			c.sync.registry.Remove(held.ID)
		} else {
			c.sync.registry.MarkPlaced(held.ID)
		}
		if err := c.scene.Reparent(ctx, held.ID, held.OriginalParent); err != nil {
			c.logger.Warnf("failed to reparent %q to %s: %v", held.ID, held.OriginalParent, err)
		}
	}

	c.state = HoldState{}
	c.logger.Infof("Released %s", held.ID)
	return held.ID, nil
}

// Toggle picks when empty and releases when holding.
func (c *AttachController) Toggle(ctx context.Context, finder TargetFinder) (string, error) {
	if c.State().Phase == HoldEmpty {
		return c.Pick(ctx, finder)
	}
	return c.Release(ctx)
}

// Reassert re-emits remove and attach for id when it is the held object and
// the remote world still lists it as a free obstacle.
func (c *AttachController) Reassert(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != HoldHolding || c.state.ID != id {
		return nil
	}

	c.sync.mu.Lock()
	defer c.sync.mu.Unlock()

	if err := c.sync.removeLocked(ctx, id); err != nil {
		return err
	}
	if err := c.sync.publisher.PublishAttach(ctx, AttachUpdate{Link: c.link, ID: id, Op: Attach}); err != nil {
		return errors.Wrapf(err, "publishing attach of %q", id)
	}
	c.sync.registry.MarkPicked(id, c.link)
	c.logger.Warnf("re-asserted attachment of %s", id)
	return nil
}
