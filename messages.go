package scenesync

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	commonpb "go.viam.com/api/common/v1"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/num/quat"
)

// CollisionOp is the planning-scene operation of a CollisionUpdate. Values
// match the remote wire encoding.
type CollisionOp int8

const (
	CollisionAdd    CollisionOp = 0
	CollisionRemove CollisionOp = 1
	CollisionMove   CollisionOp = 3
)

func (op CollisionOp) String() string {
	switch op {
	case CollisionAdd:
		return "add"
	case CollisionRemove:
		return "remove"
	case CollisionMove:
		return "move"
	default:
		return fmt.Sprintf("collision_op(%d)", int8(op))
	}
}

// AttachOp is the operation of an attach/detach message.
type AttachOp int8

const (
	Attach AttachOp = 0
	Detach AttachOp = 1
)

func (op AttachOp) String() string {
	switch op {
	case Attach:
		return "attach"
	case Detach:
		return "detach"
	default:
		return fmt.Sprintf("attach_op(%d)", int8(op))
	}
}

// ParseAttachOp accepts "attach"/"detach" and the wire names "add"/"remove".
func ParseAttachOp(s string) (AttachOp, error) {
	switch s {
	case "attach", "add":
		return Attach, nil
	case "detach", "remove":
		return Detach, nil
	default:
		return 0, errors.Wrapf(ErrMalformedMessage, "unknown attach operation %q", s)
	}
}

// metersToMM converts wire units into Viam geometry units.
const metersToMM = 1000.0

// BoxGeometry is a box primitive in the remote convention, in meters. The
// primitive-local pose is always identity; Center and Orientation place it.
type BoxGeometry struct {
	Center      r3.Vector
	Orientation quat.Number
	Dims        r3.Vector
}

// PrimitivePose is the fixed sub-pose of the box inside its object frame.
func (b *BoxGeometry) PrimitivePose() spatialmath.Pose {
	return spatialmath.NewZeroPose()
}

// Geometry renders the box as a Viam geometry. It fails for degenerate boxes.
func (b *BoxGeometry) Geometry(label string) (spatialmath.Geometry, error) {
	q := spatialmath.Quaternion(b.Orientation)
	pose := spatialmath.NewPose(b.Center.Mul(metersToMM), &q)
	return spatialmath.NewBox(pose, b.Dims.Mul(metersToMM), label)
}

// CollisionUpdate is an outbound world-model change. Box is set only for Add
// and Move.
type CollisionUpdate struct {
	FrameID string
	ID      string
	Op      CollisionOp
	Box     *BoxGeometry
}

// Validate reports a malformed update before it reaches the wire.
func (u CollisionUpdate) Validate() error {
	if u.ID == "" {
		return errors.Wrap(ErrMalformedMessage, "collision update without id")
	}
	switch u.Op {
	case CollisionAdd, CollisionMove:
		if u.Box == nil {
			return errors.Wrapf(ErrMalformedMessage, "%s of %q without geometry", u.Op, u.ID)
		}
	case CollisionRemove:
		if u.Box != nil {
			return errors.Wrapf(ErrMalformedMessage, "remove of %q carries geometry", u.ID)
		}
	default:
		return errors.Wrapf(ErrMalformedMessage, "unknown operation %d", int8(u.Op))
	}
	return nil
}

// Proto renders the geometry for Viam consumers. Remove updates have none.
func (u CollisionUpdate) Proto() (*commonpb.Geometry, error) {
	if u.Box == nil {
		return nil, nil
	}
	g, err := u.Box.Geometry(u.ID)
	if err != nil {
		return nil, err
	}
	return g.ToProtobuf(), nil
}

// ToMap renders the update as DoCommand output.
func (u CollisionUpdate) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"type":      "collision_object",
		"frame_id":  u.FrameID,
		"id":        u.ID,
		"operation": u.Op.String(),
	}
	if u.Box != nil {
		m["pose"] = map[string]interface{}{
			"position": vectorMap(u.Box.Center),
			"orientation": map[string]interface{}{
				"x": u.Box.Orientation.Imag,
				"y": u.Box.Orientation.Jmag,
				"z": u.Box.Orientation.Kmag,
				"w": u.Box.Orientation.Real,
			},
		}
		m["dimensions"] = []interface{}{u.Box.Dims.X, u.Box.Dims.Y, u.Box.Dims.Z}
	}
	return m
}

// AttachUpdate is an outbound attach or detach of an object to a link.
type AttachUpdate struct {
	Link string
	ID   string
	Op   AttachOp
}

// Validate reports a malformed update before it reaches the wire.
func (u AttachUpdate) Validate() error {
	if u.ID == "" || u.Link == "" {
		return errors.Wrapf(ErrMalformedMessage, "attach update needs id and link (id=%q link=%q)", u.ID, u.Link)
	}
	return nil
}

// ToMap renders the update as DoCommand output.
func (u AttachUpdate) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"type":      "attached_collision_object",
		"link_name": u.Link,
		"id":        u.ID,
		"operation": u.Op.String(),
	}
}

// WorldSnapshot is the remote membership message: full when Replace is set,
// additive otherwise.
type WorldSnapshot struct {
	IDs     []string
	Replace bool
}

// AttachEvent is the remote notification that an object was attached to or
// detached from a link.
type AttachEvent struct {
	ID   string
	Link string
	Op   AttachOp
}

// JointState is an inbound joint-angle message in radians.
type JointState struct {
	Names     []string
	Positions []float64
}

// Validate checks the name/position pairing and that every position is finite.
func (js JointState) Validate() error {
	if len(js.Names) != len(js.Positions) {
		return errors.Wrapf(ErrMalformedMessage, "joint state has %d names and %d positions", len(js.Names), len(js.Positions))
	}
	for i, p := range js.Positions {
		if !finite(p) {
			return errors.Wrapf(ErrMalformedMessage, "joint %q has non-finite position %v", js.Names[i], p)
		}
	}
	return nil
}

// ParseWorldSnapshot reads {"ids": [...], "replace": bool}. replace falls back
// to the configured default when omitted.
func ParseWorldSnapshot(cmd map[string]interface{}, defaultReplace bool) (WorldSnapshot, error) {
	ids, err := stringSlice(cmd["ids"])
	if err != nil {
		return WorldSnapshot{}, errors.Wrap(err, "ids")
	}
	replace := defaultReplace
	if v, ok := cmd["replace"].(bool); ok {
		replace = v
	}
	return WorldSnapshot{IDs: ids, Replace: replace}, nil
}

// ParseAttachEvent reads {"id", "link", "operation"}.
func ParseAttachEvent(cmd map[string]interface{}) (AttachEvent, error) {
	id, _ := cmd["id"].(string)
	if id == "" {
		return AttachEvent{}, errors.Wrap(ErrMalformedMessage, "attach event without id")
	}
	link, _ := cmd["link"].(string)
	opName, _ := cmd["operation"].(string)
	op, err := ParseAttachOp(opName)
	if err != nil {
		return AttachEvent{}, err
	}
	return AttachEvent{ID: id, Link: link, Op: op}, nil
}

// ParseJointState reads {"names": [...], "positions": [...]}.
func ParseJointState(cmd map[string]interface{}) (JointState, error) {
	names, err := stringSlice(cmd["names"])
	if err != nil {
		return JointState{}, errors.Wrap(err, "names")
	}
	positions, err := floatSlice(cmd["positions"])
	if err != nil {
		return JointState{}, errors.Wrap(err, "positions")
	}
	js := JointState{Names: names, Positions: positions}
	return js, js.Validate()
}

func stringSlice(v interface{}) ([]string, error) {
	switch vals := v.(type) {
	case []string:
		return vals, nil
	case []interface{}:
		out := make([]string, 0, len(vals))
		for i, raw := range vals {
			s, ok := raw.(string)
			if !ok {
				return nil, errors.Wrapf(ErrMalformedMessage, "element %d is %T, want string", i, raw)
			}
			out = append(out, s)
		}
		return out, nil
	case nil:
		return nil, errors.Wrap(ErrMalformedMessage, "missing list")
	default:
		return nil, errors.Wrapf(ErrMalformedMessage, "got %T, want list of strings", v)
	}
}

func floatSlice(v interface{}) ([]float64, error) {
	switch vals := v.(type) {
	case []float64:
		return vals, nil
	case []interface{}:
		out := make([]float64, 0, len(vals))
		for i, raw := range vals {
			f, ok := toFloat(raw)
			if !ok {
				return nil, errors.Wrapf(ErrMalformedMessage, "element %d is %T, want number", i, raw)
			}
			out = append(out, f)
		}
		return out, nil
	case nil:
		return nil, errors.Wrap(ErrMalformedMessage, "missing list")
	default:
		return nil, errors.Wrapf(ErrMalformedMessage, "got %T, want list of numbers", v)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// vectorFrom reads {"x","y","z"} or a 3-element list.
func vectorFrom(v interface{}) (r3.Vector, error) {
	switch vals := v.(type) {
	case map[string]interface{}:
		x, okX := toFloat(vals["x"])
		y, okY := toFloat(vals["y"])
		z, okZ := toFloat(vals["z"])
		if !okX || !okY || !okZ {
			return r3.Vector{}, errors.Wrap(ErrMalformedMessage, "vector needs numeric x, y and z")
		}
		return r3.Vector{X: x, Y: y, Z: z}, nil
	default:
		f, err := floatSlice(v)
		if err != nil {
			return r3.Vector{}, err
		}
		if len(f) != 3 {
			return r3.Vector{}, errors.Wrapf(ErrMalformedMessage, "vector has %d elements", len(f))
		}
		return r3.Vector{X: f[0], Y: f[1], Z: f[2]}, nil
	}
}

// quaternionFrom reads {"x","y","z","w"}. A missing value is the identity.
func quaternionFrom(v interface{}) (quat.Number, error) {
	if v == nil {
		return IdentityQuaternion, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return quat.Number{}, errors.Wrapf(ErrMalformedMessage, "orientation is %T, want object", v)
	}
	x, okX := toFloat(m["x"])
	y, okY := toFloat(m["y"])
	z, okZ := toFloat(m["z"])
	w, okW := toFloat(m["w"])
	if !okX || !okY || !okZ || !okW {
		return quat.Number{}, errors.Wrap(ErrMalformedMessage, "orientation needs numeric x, y, z and w")
	}
	return quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}, nil
}

func vectorMap(v r3.Vector) map[string]interface{} {
	return map[string]interface{}{"x": v.X, "y": v.Y, "z": v.Z}
}
