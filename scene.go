package scenesync

import (
	"context"
	"sort"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// SceneObject is a box obstacle candidate read from the external scene. All
// values are in the local convention; Center and Orientation are world space.
type SceneObject struct {
	ID     string
	Parent string
	Layer  int
	Tags   []string

	Center      r3.Vector
	Orientation quat.Number
	// HalfExtents are box-local; Scale is the accumulated world scale.
	HalfExtents r3.Vector
	Scale       r3.Vector
}

// Size returns the full world-space extents. A zero Scale means unscaled.
func (o SceneObject) Size() r3.Vector {
	scale := o.Scale
	if scale == (r3.Vector{}) {
		scale = r3.Vector{X: 1, Y: 1, Z: 1}
	}
	return r3.Vector{
		X: 2 * o.HalfExtents.X * scale.X,
		Y: 2 * o.HalfExtents.Y * scale.Y,
		Z: 2 * o.HalfExtents.Z * scale.Z,
	}
}

// HasTag reports whether the object carries tag.
func (o SceneObject) HasTag(tag string) bool {
	for _, t := range o.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ObstacleFilter reports whether a scene object should be modeled remotely.
type ObstacleFilter func(SceneObject) bool

// DefaultObstacleFilter excludes objects tagged noCollisionTag and objects on
// any of the robot's own layers.
func DefaultObstacleFilter(noCollisionTag string, robotLayers []int) ObstacleFilter {
	var mask uint64
	for _, l := range robotLayers {
		if l >= 0 && l < 64 {
			mask |= 1 << uint(l)
		}
	}
	return func(o SceneObject) bool {
		if noCollisionTag != "" && o.HasTag(noCollisionTag) {
			return false
		}
		if o.Layer >= 0 && o.Layer < 64 && mask&(1<<uint(o.Layer)) != 0 {
			return false
		}
		return true
	}
}

// Scene is the external scene graph as seen by the core.
type Scene interface {
	Objects(ctx context.Context) ([]SceneObject, error)
	Object(ctx context.Context, id string) (SceneObject, bool)
	// Reparent moves id under parent, keeping its world pose.
	Reparent(ctx context.Context, id, parent string) error
}

// MemoryScene is a Scene fed by scene_objects commands.
type MemoryScene struct {
	mu      sync.RWMutex
	objects map[string]SceneObject
}

// NewMemoryScene returns an empty scene.
func NewMemoryScene() *MemoryScene {
	return &MemoryScene{objects: make(map[string]SceneObject)}
}

// Upsert stores objects, replacing any with the same ID. A replaced object
// keeps its parent when the update names none.
func (s *MemoryScene) Upsert(objs ...SceneObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range objs {
		if prev, ok := s.objects[o.ID]; ok && o.Parent == "" {
			o.Parent = prev.Parent
		}
		s.objects[o.ID] = o
	}
}

// Delete drops id from the scene.
func (s *MemoryScene) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[id]
	delete(s.objects, id)
	return ok
}

// Objects returns every object ordered by ID.
func (s *MemoryScene) Objects(ctx context.Context) ([]SceneObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SceneObject, 0, len(s.objects))
	for _, o := range s.objects {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Object looks up one object.
func (s *MemoryScene) Object(ctx context.Context, id string) (SceneObject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[id]
	return o, ok
}

// Reparent records the new parent; world poses are left as last reported.
func (s *MemoryScene) Reparent(ctx context.Context, id, parent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[id]
	if !ok {
		return errors.Errorf("scene object %q not found", id)
	}
	o.Parent = parent
	s.objects[id] = o
	return nil
}

// ParseSceneObjects reads {"objects": [{"id", "parent", "layer", "tags",
// "center", "orientation", "half_extents", "scale"}, ...]}.
func ParseSceneObjects(cmd map[string]interface{}) ([]SceneObject, error) {
	raw, ok := cmd["objects"].([]interface{})
	if !ok {
		return nil, errors.Wrap(ErrMalformedMessage, "objects must be a list")
	}
	out := make([]SceneObject, 0, len(raw))
	for i, r := range raw {
		m, ok := r.(map[string]interface{})
		if !ok {
			return nil, errors.Wrapf(ErrMalformedMessage, "object %d is %T", i, r)
		}
		o, err := parseSceneObject(m)
		if err != nil {
			return nil, errors.Wrapf(err, "object %d", i)
		}
		out = append(out, o)
	}
	return out, nil
}

func parseSceneObject(m map[string]interface{}) (SceneObject, error) {
	o := SceneObject{}
	o.ID, _ = m["id"].(string)
	if o.ID == "" {
		return o, errors.Wrap(ErrMalformedMessage, "scene object without id")
	}
	o.Parent, _ = m["parent"].(string)
	if layer, ok := toFloat(m["layer"]); ok {
		o.Layer = int(layer)
	}
	if m["tags"] != nil {
		tags, err := stringSlice(m["tags"])
		if err != nil {
			return o, errors.Wrap(err, "tags")
		}
		o.Tags = tags
	}

	var err error
	if o.Center, err = vectorFrom(m["center"]); err != nil {
		return o, errors.Wrap(err, "center")
	}
	if o.HalfExtents, err = vectorFrom(m["half_extents"]); err != nil {
		return o, errors.Wrap(err, "half_extents")
	}
	if m["scale"] != nil {
		if o.Scale, err = vectorFrom(m["scale"]); err != nil {
			return o, errors.Wrap(err, "scale")
		}
	}
	if o.Orientation, err = quaternionFrom(m["orientation"]); err != nil {
		return o, errors.Wrap(err, "orientation")
	}
	return o, nil
}
