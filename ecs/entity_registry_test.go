package ecs_test

import (
	"slices"
	"testing"

	"github.com/plus3/bitwise/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityRegistry(t *testing.T) {
	t.Run("occupant resolves a slot to its live entity", func(t *testing.T) {
		r := ecs.NewEntityRegistry()
		a := r.Create()
		got, ok := r.Occupant(a.Index())
		assert.True(t, ok)
		assert.Equal(t, a, got)

		r.Destroy(a)
		_, ok = r.Occupant(a.Index())
		assert.False(t, ok)
		_, ok = r.Occupant(99)
		assert.False(t, ok)

		b := r.Create()
		got, _ = r.Occupant(a.Index())
		assert.Equal(t, b, got)
		assert.NotEqual(t, a, got)
	})

	t.Run("fresh ids are sequential and alive", func(t *testing.T) {
		r := ecs.NewEntityRegistry()
		a := r.Create()
		b := r.Create()

		assert.Equal(t, uint32(0), a.Index())
		assert.Equal(t, uint32(1), b.Index())
		assert.Equal(t, uint32(1), a.Generation())
		assert.True(t, r.IsAlive(a))
		assert.True(t, r.IsAlive(b))
		assert.Equal(t, 2, r.Len())
	})

	t.Run("invalid entity is never alive", func(t *testing.T) {
		r := ecs.NewEntityRegistry()
		r.Create()
		assert.False(t, r.IsAlive(ecs.InvalidEntity))
	})

	t.Run("destroy bumps generation", func(t *testing.T) {
		r := ecs.NewEntityRegistry()
		a := r.Create()
		require.True(t, r.Destroy(a))
		assert.False(t, r.IsAlive(a))
		assert.False(t, r.Destroy(a), "double destroy must fail")

		b := r.Create()
		assert.Equal(t, a.Index(), b.Index())
		assert.Equal(t, a.Generation()+1, b.Generation())
		assert.False(t, r.IsAlive(a), "stale id must stay dead after recycling")
		assert.True(t, r.IsAlive(b))
	})

	t.Run("create reuses lowest free index", func(t *testing.T) {
		r := ecs.NewEntityRegistry()
		ids := make([]ecs.EntityId, 5)
		for i := range ids {
			ids[i] = r.Create()
		}
		r.Destroy(ids[3])
		r.Destroy(ids[1])

		assert.Equal(t, uint32(1), r.Create().Index())
		assert.Equal(t, uint32(3), r.Create().Index())
		assert.Equal(t, uint32(5), r.Create().Index())
	})

	t.Run("all iterates in index order", func(t *testing.T) {
		r := ecs.NewEntityRegistry()
		for i := 0; i < 130; i++ {
			r.Create()
		}
		r.Destroy(ecs.NewEntityId(64, 1))

		live := slices.Collect(r.All())
		assert.Len(t, live, 129)
		assert.True(t, slices.IsSortedFunc(live, func(a, b ecs.EntityId) int {
			return int(a.Index()) - int(b.Index())
		}))
		assert.NotContains(t, live, ecs.NewEntityId(64, 1))
	})
}
