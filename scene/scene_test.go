package scene_test

import (
	"testing"

	"github.com/plus3/bitwise/ecs"
	"github.com/plus3/bitwise/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type Position struct {
	X, Y, Z float32
}

type Tag struct {
	Team    uint8
	Visible bool
	Serial  uint64
}

func newTestScene(t *testing.T) (*scene.Scene, ecs.ComponentId, ecs.ComponentId) {
	registry := ecs.NewComponentRegistry()
	position := ecs.RegisterComponent[Position](registry)
	tag := ecs.RegisterComponent[Tag](registry)
	return scene.New(registry, zaptest.NewLogger(t)), position, tag
}

func TestHierarchy(t *testing.T) {
	t.Run("paths and lookup", func(t *testing.T) {
		s, _, _ := newTestScene(t)
		level, err := s.Create("level", ecs.InvalidEntity)
		require.NoError(t, err)
		player, err := s.Create("player", level)
		require.NoError(t, err)
		weapon, err := s.Create("weapon", player)
		require.NoError(t, err)

		assert.Equal(t, "level/player/weapon", s.Path(weapon))
		assert.Equal(t, player, s.Parent(weapon))
		assert.Equal(t, []ecs.EntityId{player}, s.Children(level))
		assert.Equal(t, []ecs.EntityId{level}, s.Roots())

		found, ok := s.Lookup("level/player/weapon")
		assert.True(t, ok)
		assert.Equal(t, weapon, found)
		_, ok = s.Lookup("level/enemy")
		assert.False(t, ok)
	})

	t.Run("names are unique among siblings", func(t *testing.T) {
		s, _, _ := newTestScene(t)
		a, err := s.Create("a", ecs.InvalidEntity)
		require.NoError(t, err)
		_, err = s.Create("a", ecs.InvalidEntity)
		assert.ErrorIs(t, err, ecs.ErrConfiguration)
		_, err = s.Create("a", a)
		assert.NoError(t, err, "same name under a different parent is fine")
		_, err = s.Create("x/y", a)
		assert.ErrorIs(t, err, ecs.ErrConfiguration)

		auto, err := s.Create("", a)
		require.NoError(t, err)
		assert.Equal(t, "a/entity-2", s.Path(auto))
	})

	t.Run("reparenting rejects cycles", func(t *testing.T) {
		s, _, _ := newTestScene(t)
		a, _ := s.Create("a", ecs.InvalidEntity)
		b, _ := s.Create("b", a)
		c, _ := s.Create("c", b)

		assert.ErrorIs(t, s.SetParent(a, c), ecs.ErrConfiguration)
		assert.ErrorIs(t, s.SetParent(a, a), ecs.ErrConfiguration)

		require.NoError(t, s.SetParent(c, ecs.InvalidEntity))
		assert.Equal(t, "c", s.Path(c))
		assert.Empty(t, s.Children(b))
		assert.Equal(t, []ecs.EntityId{a, c}, s.Roots())
	})

	t.Run("destroy removes descendants", func(t *testing.T) {
		s, position, _ := newTestScene(t)
		a, _ := s.Create("a", ecs.InvalidEntity)
		b, _ := s.Create("b", a)
		c, _ := s.Create("c", b)
		other, _ := s.Create("other", ecs.InvalidEntity)
		require.NoError(t, s.World().Add(c, position, nil))

		require.NoError(t, s.Destroy(a))
		for _, id := range []ecs.EntityId{a, b, c} {
			assert.False(t, s.World().IsAlive(id))
		}
		assert.True(t, s.World().IsAlive(other))
		assert.Equal(t, []ecs.EntityId{other}, s.Roots())
		assert.Equal(t, 0, s.World().Table(position).Len())
	})

	t.Run("world destroy detaches from hierarchy", func(t *testing.T) {
		s, _, _ := newTestScene(t)
		a, _ := s.Create("a", ecs.InvalidEntity)
		b, _ := s.Create("b", a)

		require.NoError(t, s.World().Destroy(b))
		assert.Empty(t, s.Children(a))
		assert.Equal(t, "", s.Path(b))
	})
}

type Plugin struct{ started int }

func (p *Plugin) Update(*ecs.UpdateFrame) error { return nil }
func (p *Plugin) Start(*ecs.World) error        { p.started++; return nil }

func TestPlugins(t *testing.T) {
	plugins := scene.NewPlugins()
	built := 0
	require.NoError(t, plugins.Register("noop", 5, func(*scene.Scene) (ecs.System, error) {
		built++
		return &Plugin{}, nil
	}))
	assert.ErrorIs(t, plugins.Register("noop", 0, func(*scene.Scene) (ecs.System, error) { return nil, nil }), ecs.ErrConfiguration)
	assert.Equal(t, []string{"noop"}, plugins.Names())

	s, _, _ := newTestScene(t)
	err := plugins.Build(s, []scene.SystemRef{{Name: "noop"}, {Name: "missing"}})
	assert.ErrorIs(t, err, ecs.ErrConfiguration)
	assert.Equal(t, 0, built, "nothing is built when a reference is unknown")

	order := -1
	require.NoError(t, plugins.Build(s, []scene.SystemRef{{Name: "noop", Order: &order}}))
	require.NoError(t, s.Start())
	stats := s.Scheduler().GetStats()
	require.Len(t, stats.Systems, 1)
	assert.Equal(t, "Plugin", stats.Systems[0].Name)
	assert.Equal(t, -1, stats.Systems[0].Order)
}
