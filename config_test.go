package scenesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
)

func TestConfigValidate(t *testing.T) {
	t.Run("fills defaults", func(t *testing.T) {
		cfg := &Config{}
		deps, optional, err := cfg.Validate("services.0")
		require.NoError(t, err)
		assert.Empty(t, deps)
		assert.Empty(t, optional)

		assert.Equal(t, "base_link", cfg.FrameID)
		assert.Equal(t, "tool0", cfg.RobotLink)
		assert.Equal(t, "end_effector", cfg.EndEffector)
		assert.Equal(t, "noCollision", cfg.NoCollisionTag)
		assert.Equal(t, 50*time.Second, cfg.PublishInterval())
		assert.Equal(t, 2, cfg.ReconcileAfter)
		assert.Equal(t, 256, cfg.OutboxSize)
		assert.Equal(t, PickLimits{MaxDistance: 1.0, MaxObjectSize: 0.1}, cfg.PickLimits())
		assert.Equal(t, JumpFilterConfig{ThresholdDeg: 1.0, ConfirmFrames: 10}, cfg.JumpFilter())
		assert.Equal(t, DefaultJointNames, cfg.JointNames)
		assert.False(t, cfg.FullSnapshot)
	})

	t.Run("arm is a dependency", func(t *testing.T) {
		cfg := &Config{Arm: "ur5e"}
		deps, _, err := cfg.Validate("services.0")
		require.NoError(t, err)
		assert.Equal(t, []string{"ur5e"}, deps)
	})

	t.Run("rejects bad values", func(t *testing.T) {
		for name, cfg := range map[string]*Config{
			"negative interval": {PublishIntervalSec: -1},
			"negative outbox":   {OutboxSize: -4},
			"negative reach":    {MaxPickDistance: -1},
			"negative confirm":  {JumpConfirmFrames: -1},
			"short basis":       {BasisQuaternion: []float64{1, 0, 0}},
			"non-unit basis":    {BasisQuaternion: []float64{2, 0, 0, 0}},
			"duplicate joints":  {JointNames: []string{"a", "a"}},
			"empty joint":       {JointNames: []string{"a", ""}},
		} {
			t.Run(name, func(t *testing.T) {
				_, _, err := cfg.Validate("services.0")
				assert.ErrorContains(t, err, "services.0")
			})
		}
	})
}

func TestConfigBasis(t *testing.T) {
	cfg := &Config{}
	q, err := cfg.Basis()
	require.NoError(t, err)
	assert.Equal(t, IdentityQuaternion, q)

	cfg.BasisQuaternion = []float64{0, 1, 0, 0}
	q, err = cfg.Basis()
	require.NoError(t, err)
	assert.Equal(t, quat.Number{Imag: 1}, q)
}

func TestConfigObstacleFilter(t *testing.T) {
	cfg := &Config{RobotLayers: []int{3}}
	_, _, err := cfg.Validate("services.0")
	require.NoError(t, err)
	filter := cfg.ObstacleFilter()

	box := testBox("A")
	assert.True(t, filter(box))

	box.Layer = 3
	assert.False(t, filter(box))

	box = testBox("B")
	box.Tags = []string{"noCollision"}
	assert.False(t, filter(box))
}
