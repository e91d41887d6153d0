package scenesync

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
)

func testUpdate() CollisionUpdate {
	return CollisionUpdate{
		FrameID: "base_link",
		ID:      "A",
		Op:      CollisionAdd,
		Box: &BoxGeometry{
			Center:      r3.Vector{X: 0.5, Y: -0.25, Z: 0.1},
			Orientation: IdentityQuaternion,
			Dims:        r3.Vector{X: 0.1, Y: 0.2, Z: 0.3},
		},
	}
}

func TestCollisionUpdateValidate(t *testing.T) {
	assert.NoError(t, testUpdate().Validate())
	assert.NoError(t, CollisionUpdate{ID: "A", Op: CollisionRemove}.Validate())

	for name, u := range map[string]CollisionUpdate{
		"no id":           {Op: CollisionRemove},
		"add without box": {ID: "A", Op: CollisionAdd},
		"move no box":     {ID: "A", Op: CollisionMove},
		"remove with box": {ID: "A", Op: CollisionRemove, Box: testUpdate().Box},
		"unknown op":      {ID: "A", Op: CollisionOp(2)},
	} {
		t.Run(name, func(t *testing.T) {
			assert.True(t, errors.Is(u.Validate(), ErrMalformedMessage))
		})
	}
}

func TestCollisionUpdateProto(t *testing.T) {
	g, err := testUpdate().Proto()
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "A", g.GetLabel())
	assert.InDelta(t, 500, g.GetCenter().GetX(), 1e-6)
	assert.InDelta(t, -250, g.GetCenter().GetY(), 1e-6)
	assert.InDelta(t, 100, g.GetBox().GetDimsMm().GetX(), 1e-6)
	assert.InDelta(t, 300, g.GetBox().GetDimsMm().GetZ(), 1e-6)

	g, err = CollisionUpdate{ID: "A", Op: CollisionRemove}.Proto()
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestCollisionUpdateToMap(t *testing.T) {
	m := testUpdate().ToMap()
	assert.Equal(t, "add", m["operation"])
	assert.Equal(t, "base_link", m["frame_id"])
	assert.Equal(t, []interface{}{0.1, 0.2, 0.3}, m["dimensions"])

	m = CollisionUpdate{ID: "A", Op: CollisionRemove}.ToMap()
	assert.NotContains(t, m, "pose")
}

func TestOpWireValues(t *testing.T) {
	assert.Equal(t, int8(0), int8(CollisionAdd))
	assert.Equal(t, int8(1), int8(CollisionRemove))
	assert.Equal(t, int8(3), int8(CollisionMove))
	assert.Equal(t, int8(0), int8(Attach))
	assert.Equal(t, int8(1), int8(Detach))
}

func TestParseAttachOp(t *testing.T) {
	for in, want := range map[string]AttachOp{"attach": Attach, "add": Attach, "detach": Detach, "remove": Detach} {
		op, err := ParseAttachOp(in)
		require.NoError(t, err)
		assert.Equal(t, want, op, in)
	}
	_, err := ParseAttachOp("grab")
	assert.True(t, errors.Is(err, ErrMalformedMessage))
}

func TestParseWorldSnapshot(t *testing.T) {
	snap, err := ParseWorldSnapshot(map[string]interface{}{"ids": []interface{}{"A", "B"}}, true)
	require.NoError(t, err)
	assert.Equal(t, WorldSnapshot{IDs: []string{"A", "B"}, Replace: true}, snap)

	snap, err = ParseWorldSnapshot(map[string]interface{}{"ids": []interface{}{}, "replace": false}, true)
	require.NoError(t, err)
	assert.False(t, snap.Replace)

	_, err = ParseWorldSnapshot(map[string]interface{}{"ids": []interface{}{1.0}}, false)
	assert.True(t, errors.Is(err, ErrMalformedMessage))
}

func TestParseAttachEvent(t *testing.T) {
	ev, err := ParseAttachEvent(map[string]interface{}{"id": "A", "link": "tool0", "operation": "detach"})
	require.NoError(t, err)
	assert.Equal(t, AttachEvent{ID: "A", Link: "tool0", Op: Detach}, ev)

	_, err = ParseAttachEvent(map[string]interface{}{"link": "tool0", "operation": "attach"})
	assert.True(t, errors.Is(err, ErrMalformedMessage))
}

func TestParseJointState(t *testing.T) {
	js, err := ParseJointState(map[string]interface{}{
		"names":     []interface{}{"a", "b"},
		"positions": []interface{}{0.1, 2},
	})
	require.NoError(t, err)
	assert.Equal(t, JointState{Names: []string{"a", "b"}, Positions: []float64{0.1, 2}}, js)

	_, err = ParseJointState(map[string]interface{}{"names": []interface{}{"a"}})
	assert.True(t, errors.Is(err, ErrMalformedMessage))

	err = JointState{Names: []string{"a"}, Positions: []float64{math.NaN()}}.Validate()
	assert.True(t, errors.Is(err, ErrMalformedMessage))
	err = JointState{Names: []string{"a"}, Positions: []float64{math.Inf(1)}}.Validate()
	assert.True(t, errors.Is(err, ErrMalformedMessage))
}

func TestQuaternionFrom(t *testing.T) {
	q, err := quaternionFrom(nil)
	require.NoError(t, err)
	assert.Equal(t, IdentityQuaternion, q)

	q, err = quaternionFrom(map[string]interface{}{"x": 0.1, "y": 0.2, "z": 0.3, "w": 0.4})
	require.NoError(t, err)
	assert.Equal(t, quat.Number{Real: 0.4, Imag: 0.1, Jmag: 0.2, Kmag: 0.3}, q)

	_, err = quaternionFrom(map[string]interface{}{"x": 0.1})
	assert.True(t, errors.Is(err, ErrMalformedMessage))
}
