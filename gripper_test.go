package scenesync

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

type pickFixture struct {
	*syncFixture
	scene      *MemoryScene
	controller *AttachController
}

func newPickFixture(t *testing.T) *pickFixture {
	f := newSyncFixture(t, nil)
	scene := NewMemoryScene()
	scene.Upsert(testBox("A"), testBox("B"))
	controller := NewAttachController("tool0", "end_effector",
		PickLimits{MaxDistance: 1.0, MaxObjectSize: 0.25},
		f.sync, scene, logging.NewTestLogger(t))
	return &pickFixture{syncFixture: f, scene: scene, controller: controller}
}

func hitAt(id string, distance float64) TargetFinder {
	return TargetFinderFunc(func(ctx context.Context, maxDistance float64) (PickTarget, bool) {
		return PickTarget{ID: id, Distance: distance}, true
	})
}

func (f *pickFixture) candidates(t *testing.T) []SceneObject {
	objs, err := f.scene.Objects(context.Background())
	require.NoError(t, err)
	return objs
}

func TestPickOrdering(t *testing.T) {
	f := newPickFixture(t)
	ctx := context.Background()
	f.registry.ApplySnapshot([]string{"A", "B"}, true)

	id, err := f.controller.Pick(ctx, hitAt("A", 0.5))
	require.NoError(t, err)
	assert.Equal(t, "A", id)

	if diff := cmp.Diff([]string{"remove:A", "attach:A"}, collisionOps(f.outbox.Drain())); diff != "" {
		t.Fatalf("pick messages mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, HoldState{Phase: HoldHolding, ID: "A", OriginalParent: "table"}, f.controller.State())
	assert.True(t, f.registry.IsAttached("A"))
	assert.False(t, f.registry.Exists("A"))

	obj, ok := f.scene.Object(ctx, "A")
	require.True(t, ok)
	assert.Equal(t, "end_effector", obj.Parent)
}

func TestReleaseOrdering(t *testing.T) {
	f := newPickFixture(t)
	ctx := context.Background()

	_, err := f.controller.Pick(ctx, hitAt("A", 0.5))
	require.NoError(t, err)
	f.outbox.Drain()

	// the held box moved with the end effector
	moved := testBox("A")
	moved.Center = r3.Vector{X: 0.2, Y: 0.4, Z: 0.6}
	f.scene.Upsert(moved)

	id, err := f.controller.Release(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", id)

	msgs := f.outbox.Drain()
	if diff := cmp.Diff([]string{"detach:A", "add:A"}, collisionOps(msgs)); diff != "" {
		t.Fatalf("release messages mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, r3.Vector{X: 0.6, Y: -0.2, Z: 0.4}, msgs[1].Collision.Box.Center)
	assert.Equal(t, HoldState{}, f.controller.State())

	obj, _ := f.scene.Object(ctx, "A")
	assert.Equal(t, "table", obj.Parent)
}

func TestPickReleaseRoundTrip(t *testing.T) {
	f := newPickFixture(t)
	ctx := context.Background()
	f.registry.ApplySnapshot([]string{"A", "B"}, true)

	_, err := f.controller.Pick(ctx, hitAt("A", 0.5))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res := f.sync.Synchronize(ctx, f.candidates(t))
		assert.Equal(t, []string{"A"}, res.Held)
	}
	for _, m := range f.outbox.Drain() {
		if m.Collision != nil && m.Collision.ID == "A" && m.Collision.Op != CollisionRemove {
			t.Fatalf("held object published as %s", m.Collision.Op)
		}
	}

	_, err = f.controller.Release(ctx)
	require.NoError(t, err)
	f.sync.Synchronize(ctx, f.candidates(t))

	assert.True(t, f.registry.Exists("A"))
	assert.False(t, f.registry.IsAttached("A"))
	assert.Equal(t, []string{"detach:A", "add:A", "move:A", "move:B"}, collisionOps(f.outbox.Drain()))
}

func TestPickNoEligibleTarget(t *testing.T) {
	big := testBox("big")
	big.HalfExtents = r3.Vector{X: 0.5, Y: 0.05, Z: 0.05}

	tests := []struct {
		name   string
		finder TargetFinder
	}{
		{"no finder", nil},
		{"nothing hit", TargetFinderFunc(func(context.Context, float64) (PickTarget, bool) { return PickTarget{}, false })},
		{"out of reach", hitAt("A", 1.5)},
		{"not in scene", hitAt("ghost", 0.1)},
		{"too large", hitAt("big", 0.1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPickFixture(t)
			f.scene.Upsert(big)

			_, err := f.controller.Pick(context.Background(), tt.finder)
			assert.True(t, errors.Is(err, ErrNoEligibleTarget))
			assert.Empty(t, f.outbox.Drain())
			assert.Equal(t, HoldEmpty, f.controller.State().Phase)
		})
	}
}

func TestIllegalTransitions(t *testing.T) {
	f := newPickFixture(t)
	ctx := context.Background()

	_, err := f.controller.Release(ctx)
	assert.True(t, errors.Is(err, errIllegalTransition))

	_, err = f.controller.Pick(ctx, hitAt("A", 0.5))
	require.NoError(t, err)
	f.outbox.Drain()

	_, err = f.controller.Pick(ctx, hitAt("B", 0.5))
	assert.True(t, errors.Is(err, errIllegalTransition))
	assert.Empty(t, f.outbox.Drain())
}

func TestToggle(t *testing.T) {
	f := newPickFixture(t)
	ctx := context.Background()

	_, err := f.controller.Toggle(ctx, hitAt("B", 0.2))
	require.NoError(t, err)
	assert.Equal(t, HoldHolding, f.controller.State().Phase)

	_, err = f.controller.Toggle(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, HoldEmpty, f.controller.State().Phase)
	assert.Equal(t, []string{"remove:B", "attach:B", "detach:B", "add:B"}, collisionOps(f.outbox.Drain()))
}

func TestReassert(t *testing.T) {
	f := newPickFixture(t)
	ctx := context.Background()

	require.NoError(t, f.controller.Reassert(ctx, "A"))
	assert.Empty(t, f.outbox.Drain(), "nothing held")

	_, err := f.controller.Pick(ctx, hitAt("A", 0.5))
	require.NoError(t, err)
	f.outbox.Drain()

	require.NoError(t, f.controller.Reassert(ctx, "B"))
	assert.Empty(t, f.outbox.Drain(), "not the held object")

	require.NoError(t, f.controller.Reassert(ctx, "A"))
	assert.Equal(t, []string{"remove:A", "attach:A"}, collisionOps(f.outbox.Drain()))
	assert.True(t, f.registry.IsAttached("A"))
}

func TestReleaseVanishedObject(t *testing.T) {
	f := newPickFixture(t)
	ctx := context.Background()

	_, err := f.controller.Pick(ctx, hitAt("A", 0.5))
	require.NoError(t, err)
	f.outbox.Drain()
	f.scene.Delete("A")

	_, err = f.controller.Release(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"detach:A"}, collisionOps(f.outbox.Drain()))
	assert.False(t, f.registry.Exists("A"))
	assert.False(t, f.registry.IsAttached("A"))
}

func TestQuickPickReleaseWithLateEchoes(t *testing.T) {
	f := newPickFixture(t)
	ctx := context.Background()
	f.registry.ApplySnapshot([]string{"A", "B"}, true)

	_, err := f.controller.Pick(ctx, hitAt("A", 0.5))
	require.NoError(t, err)
	_, err = f.controller.Release(ctx)
	require.NoError(t, err)
	f.outbox.Drain()

	// both echoes arrive after the release, in publish order
	f.registry.ApplyAttachEvent("A", "tool0", Attach)
	f.registry.ApplyAttachEvent("A", "tool0", Detach)
	f.registry.ApplySnapshot([]string{"A", "B"}, true)
	f.registry.ApplySnapshot([]string{"A", "B"}, true)

	res := f.sync.Synchronize(ctx, f.candidates(t))
	assert.Empty(t, res.Held)
	assert.Equal(t, []string{"A", "B"}, res.Moved)
	assert.Equal(t, HoldEmpty, f.controller.State().Phase)
	assert.False(t, f.registry.IsAttached("A"))
}

func TestPickSkipsNonObstacles(t *testing.T) {
	sf := newSyncFixture(t, DefaultObstacleFilter("noCollision", []int{3}))
	scene := NewMemoryScene()
	tagged := testBox("tagged")
	tagged.Tags = []string{"noCollision"}
	robot := testBox("robot")
	robot.Layer = 3
	scene.Upsert(tagged, robot, testBox("A"))
	controller := NewAttachController("tool0", "end_effector",
		PickLimits{MaxDistance: 1.0, MaxObjectSize: 0.25},
		sf.sync, scene, logging.NewTestLogger(t))
	ctx := context.Background()

	for _, id := range []string{"tagged", "robot"} {
		_, err := controller.Pick(ctx, hitAt(id, 0.1))
		assert.True(t, errors.Is(err, ErrNoEligibleTarget), id)
	}
	assert.Empty(t, sf.outbox.Drain())
	assert.Equal(t, HoldEmpty, controller.State().Phase)

	_, err := controller.Pick(ctx, hitAt("A", 0.1))
	require.NoError(t, err)
	assert.Equal(t, []string{"remove:A", "attach:A"}, collisionOps(sf.outbox.Drain()))
}
