package physics_test

import (
	"math"
	"testing"

	"github.com/plus3/bitwise/ecs"
	"github.com/plus3/bitwise/physics"
	"github.com/plus3/bitwise/physics/physicstest"
	"github.com/plus3/bitwise/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type fixture struct {
	world      *ecs.World
	scheduler  *ecs.Scheduler
	system     *physics.System
	backend    *physicstest.Backend
	ids        physics.Components
	transforms *ecs.Store[physics.Transform]
	colliders  *ecs.Store[physics.Collider]
	bodies     *ecs.Store[physics.RigidBody]
}

func newFixture(t *testing.T, log *zap.Logger, cfg physics.Config) *fixture {
	t.Helper()
	if log == nil {
		log = zaptest.NewLogger(t)
	}
	registry := ecs.NewComponentRegistry()
	f := &fixture{ids: physics.Register(registry), backend: physicstest.New()}
	f.world = ecs.NewWorld(registry, log)
	f.scheduler = ecs.NewScheduler(f.world)
	f.system = physics.New(f.backend, cfg, log)
	require.NoError(t, f.scheduler.Register(f.system, 0))
	require.NoError(t, f.scheduler.Start())

	var err error
	f.transforms, err = ecs.NewStore[physics.Transform](f.world)
	require.NoError(t, err)
	f.colliders, err = ecs.NewStore[physics.Collider](f.world)
	require.NoError(t, err)
	f.bodies, err = ecs.NewStore[physics.RigidBody](f.world)
	require.NoError(t, err)
	return f
}

func (f *fixture) spawn(t *testing.T, collider physics.Collider, rb *physics.RigidBody) ecs.EntityId {
	t.Helper()
	id := f.world.Create()
	require.NoError(t, f.transforms.Add(id, physics.IdentityTransform()))
	require.NoError(t, f.colliders.Add(id, collider))
	if rb != nil {
		require.NoError(t, f.bodies.Add(id, *rb))
	}
	return id
}

func (f *fixture) mode(t *testing.T, id ecs.EntityId) physics.BodyMode {
	t.Helper()
	h, ok := f.system.Body(id)
	require.True(t, ok, "entity %s has no body", id)
	body, ok := f.backend.Body(h)
	require.True(t, ok)
	return body.Params.Mode
}

var box = physics.Collider{Kind: physics.ColliderBox, SX: 1, SY: 1}

func TestLifecycle(t *testing.T) {
	t.Run("bound after enter and released after exit", func(t *testing.T) {
		f := newFixture(t, nil, physics.DefaultConfig())
		id := f.spawn(t, box, nil)

		require.NoError(t, f.scheduler.Tick(0.016))
		assert.Equal(t, 1, f.system.Len())
		assert.Equal(t, 1, f.backend.Live())

		f.colliders.Remove(id)
		require.NoError(t, f.scheduler.Tick(0.016))
		assert.Equal(t, 0, f.system.Len())
		assert.Equal(t, 0, f.backend.Live())
		assert.True(t, f.world.IsAlive(id))
	})

	t.Run("destroy releases within the same tick", func(t *testing.T) {
		f := newFixture(t, nil, physics.DefaultConfig())
		id := f.spawn(t, box, nil)
		require.NoError(t, f.scheduler.Tick(0.016))
		require.Equal(t, 1, f.backend.Live())

		require.NoError(t, f.world.Destroy(id))
		assert.Equal(t, 0, f.system.Len())
		assert.Equal(t, 0, f.backend.Live())
		_, ok := f.system.Body(id)
		assert.False(t, ok)
	})

	t.Run("deferred destroy releases before the next tick", func(t *testing.T) {
		f := newFixture(t, nil, physics.DefaultConfig())
		id := f.spawn(t, box, nil)
		require.NoError(t, f.scheduler.Tick(0.016))

		f.scheduler.Commands().Destroy(id)
		require.NoError(t, f.scheduler.Tick(0.016))
		assert.Equal(t, 0, f.backend.Live())
	})

	t.Run("no leaks across 1000 create and destroy cycles", func(t *testing.T) {
		f := newFixture(t, zap.NewNop(), physics.DefaultConfig())
		for i := 0; i < 1000; i++ {
			rb := &physics.RigidBody{Mass: float32(i % 3)}
			id := f.spawn(t, box, rb)
			require.NoError(t, f.scheduler.Tick(0.016))
			require.Equal(t, 1, f.system.Len())
			if i%2 == 0 {
				require.NoError(t, f.world.Destroy(id))
			} else {
				f.colliders.Remove(id)
				require.NoError(t, f.scheduler.Tick(0.016))
				require.NoError(t, f.world.Destroy(id))
			}
		}

		require.NoError(t, f.scheduler.Tick(0.016))
		assert.Equal(t, 0, f.system.Len())
		assert.Equal(t, 0, f.backend.Live())
		assert.Equal(t, 1000, f.backend.Created)
		assert.Equal(t, 1000, f.backend.Destroyed)
		assert.Equal(t, 0, f.backend.PendingShapes())
	})

	t.Run("close releases everything", func(t *testing.T) {
		f := newFixture(t, nil, physics.DefaultConfig())
		for i := 0; i < 5; i++ {
			f.spawn(t, box, nil)
		}
		require.NoError(t, f.scheduler.Tick(0.016))
		require.Equal(t, 5, f.backend.Live())

		require.NoError(t, f.scheduler.Close())
		assert.Equal(t, 5, f.backend.Destroyed)
		assert.True(t, f.backend.Closed)
		assert.Equal(t, 0, f.system.Len())
	})
}

func TestAuthority(t *testing.T) {
	f := newFixture(t, nil, physics.DefaultConfig())

	sensor := f.spawn(t, box, nil)
	massless := f.spawn(t, box, &physics.RigidBody{})
	dynamic := f.spawn(t, box, &physics.RigidBody{Mass: 2})
	kinematic := f.spawn(t, box, &physics.RigidBody{Mass: 2, Authority: physics.AuthorityScript})
	require.NoError(t, f.scheduler.Tick(0.016))

	assert.Equal(t, physics.BodySensor, f.mode(t, sensor))
	assert.Equal(t, physics.BodySensor, f.mode(t, massless))
	assert.Equal(t, physics.BodyDynamic, f.mode(t, dynamic))
	assert.Equal(t, physics.BodyKinematic, f.mode(t, kinematic))

	t.Run("mass change rebuilds the body", func(t *testing.T) {
		before, _ := f.system.Body(massless)
		require.NoError(t, f.bodies.Update(massless, func(rb *physics.RigidBody) { rb.Mass = 1 }))
		require.NoError(t, f.scheduler.Tick(0.016))

		after, _ := f.system.Body(massless)
		assert.NotEqual(t, before, after)
		assert.Equal(t, physics.BodyDynamic, f.mode(t, massless))
		assert.Equal(t, 4, f.backend.Live())
	})

	t.Run("adding a rigid body upgrades a sensor", func(t *testing.T) {
		require.NoError(t, f.bodies.Add(sensor, physics.RigidBody{Mass: 1, Authority: physics.AuthorityPhysics}))
		require.NoError(t, f.scheduler.Tick(0.016))
		assert.Equal(t, physics.BodyDynamic, f.mode(t, sensor))
	})
}

func TestSimulation(t *testing.T) {
	cfg := physics.Config{Gravity: physics.Vec3{Y: -10}, Substeps: 4}

	t.Run("dynamic bodies are written back", func(t *testing.T) {
		f := newFixture(t, nil, cfg)
		id := f.spawn(t, box, &physics.RigidBody{Mass: 1, VX: 2})

		for i := 0; i < 10; i++ {
			require.NoError(t, f.scheduler.Tick(0.1))
		}

		tr, err := f.transforms.Get(id)
		require.NoError(t, err)
		rb, err := f.bodies.Get(id)
		require.NoError(t, err)
		assert.InDelta(t, 2.0, tr.X, 1e-4)
		assert.Less(t, tr.Y, float32(-4))
		assert.InDelta(t, -10.0, rb.VY, 1e-4)
		assert.InDelta(t, 2.0, rb.VX, 1e-6)
	})

	t.Run("script authoritative bodies follow their transform", func(t *testing.T) {
		f := newFixture(t, nil, cfg)
		id := f.spawn(t, box, &physics.RigidBody{Mass: 1, Authority: physics.AuthorityScript, VX: 1})
		sensor := f.spawn(t, physics.Collider{Kind: physics.ColliderCircle, Radius: 1}, nil)

		require.NoError(t, f.transforms.Update(id, func(tr *physics.Transform) { tr.X = 5 }))
		require.NoError(t, f.transforms.Update(sensor, func(tr *physics.Transform) { tr.Y = 3 }))
		require.NoError(t, f.scheduler.Tick(0.5))

		tr, err := f.transforms.Get(id)
		require.NoError(t, err)
		assert.Equal(t, float32(5), tr.X, "kinematic transforms are not written back")

		h, _ := f.system.Body(id)
		body, _ := f.backend.Body(h)
		assert.InDelta(t, 5.5, body.Pose.Position.X, 1e-9)
		assert.Equal(t, 0.0, body.Linear.Y, "kinematic bodies ignore gravity")

		h, _ = f.system.Body(sensor)
		body, _ = f.backend.Body(h)
		assert.Equal(t, 3.0, body.Pose.Position.Y)
	})

	t.Run("rotation and scale", func(t *testing.T) {
		f := newFixture(t, nil, physics.DefaultConfig())
		id := f.spawn(t, physics.Collider{Kind: physics.ColliderBox, SX: 2, SY: 4, OX: 1}, &physics.RigidBody{Mass: 1, AV: math.Pi})
		require.NoError(t, f.transforms.Update(id, func(tr *physics.Transform) { tr.SX, tr.SY = 3, 0.5 }))

		require.NoError(t, f.scheduler.Tick(0.5))

		h, _ := f.system.Body(id)
		body, _ := f.backend.Body(h)
		assert.Equal(t, physics.Vec3{X: 3, Y: 1}, body.Shape.HalfExtents)
		assert.Equal(t, physics.Vec3{X: 3}, body.Shape.Offset)

		tr, err := f.transforms.Get(id)
		require.NoError(t, err)
		assert.InDelta(t, math.Pi/2, physics.Quat{Z: float64(tr.RZ), W: float64(tr.RW)}.Angle(), 1e-5)
	})
}

func TestConfigurationErrors(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	f := newFixture(t, zap.New(core), physics.DefaultConfig())

	bad := f.spawn(t, physics.Collider{Kind: 7, SX: 1, SY: 1}, &physics.RigidBody{Mass: 1})
	flat := f.spawn(t, physics.Collider{Kind: physics.ColliderCircle}, nil)
	noMass := f.spawn(t, box, &physics.RigidBody{Authority: physics.AuthorityPhysics})
	good := f.spawn(t, box, &physics.RigidBody{Mass: 1, VX: 1})

	for i := 0; i < 3; i++ {
		require.NoError(t, f.scheduler.Tick(0.1), "configuration errors must not fail the tick")
	}

	assert.Equal(t, 1, f.system.Len())
	for _, id := range []ecs.EntityId{bad, flat, noMass} {
		_, ok := f.system.Body(id)
		assert.False(t, ok)
	}
	tr, err := f.transforms.Get(good)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, tr.X, 1e-5)

	assert.Equal(t, 3, logs.FilterMessage("entity skipped").Len(), "each entity is reported once")

	t.Run("fixing the collider binds the entity", func(t *testing.T) {
		require.NoError(t, f.colliders.Update(bad, func(c *physics.Collider) { c.Kind = physics.ColliderBox }))
		require.NoError(t, f.scheduler.Tick(0.1))
		_, ok := f.system.Body(bad)
		assert.True(t, ok)
	})
}

func TestBackendFailures(t *testing.T) {
	f := newFixture(t, zap.NewNop(), physics.DefaultConfig())
	f.spawn(t, box, nil)

	f.backend.FailCreate = true
	err := f.scheduler.Tick(0.1)
	assert.ErrorIs(t, err, ecs.ErrBackendFailure)
	assert.Equal(t, 0, f.system.Len())
	assert.Equal(t, 0, f.backend.PendingShapes())

	f.backend.FailCreate = false
	require.NoError(t, f.scheduler.Tick(0.1))
	assert.Equal(t, 1, f.system.Len())

	f.backend.FailStep = true
	err = f.scheduler.Tick(0.1)
	assert.ErrorIs(t, err, ecs.ErrBackendFailure)
}

func TestFreezeThawResumesDeterministically(t *testing.T) {
	build := func(t *testing.T) (*scene.Scene, *physicstest.Backend) {
		registry := ecs.NewComponentRegistry()
		physics.Register(registry)
		s := scene.New(registry, zaptest.NewLogger(t))
		backend := physicstest.New()
		require.NoError(t, s.AddSystem(physics.New(backend, physics.DefaultConfig(), nil), 0))
		require.NoError(t, s.Start())
		return s, backend
	}

	original, _ := build(t)
	sys, ok := original.Scheduler().Lookup(physics.Name)
	require.True(t, ok)
	require.NoError(t, sys.(*physics.System).Thaw(ecs.State{"gravity": []any{0, -9.8, 0}, "substeps": 3}))

	ball, err := original.Create("ball", ecs.InvalidEntity)
	require.NoError(t, err)
	w := original.World()
	transform, _ := w.Lookup("Transform")
	collider, _ := w.Lookup("Collider")
	rigidBody, _ := w.Lookup("RigidBody")
	require.NoError(t, w.Add(ball, transform, ecs.Record{"y": 10, "rw": 1}))
	require.NoError(t, w.Add(ball, collider, ecs.Record{"kind": physics.ColliderCircle, "radius": 0.5}))
	require.NoError(t, w.Add(ball, rigidBody, ecs.Record{"mass": 1, "vx": 1.5, "av": 0.25}))

	for i := 0; i < 20; i++ {
		require.NoError(t, original.Update(1.0/60))
	}

	snap, err := original.Freeze()
	require.NoError(t, err)
	assert.Equal(t, ecs.State{"gravity": []any{0.0, -9.8, 0.0}, "substeps": 3}, snap.Systems[physics.Name])

	restored, restoredBackend := build(t)
	require.NoError(t, restored.Thaw(snap))
	assert.Equal(t, physics.Vec3{Y: -9.8}, restoredBackend.Gravity())

	for i := 0; i < 20; i++ {
		require.NoError(t, original.Update(1.0/60))
		require.NoError(t, restored.Update(1.0/60))
	}

	want, ok := original.Lookup("ball")
	require.True(t, ok)
	got, ok := restored.Lookup("ball")
	require.True(t, ok)
	for _, cid := range []ecs.ComponentId{transform, rigidBody} {
		wantRec, err := original.World().Get(want, cid)
		require.NoError(t, err)
		gotRec, err := restored.World().Get(got, cid)
		require.NoError(t, err)
		assert.Equal(t, wantRec, gotRec)
	}
}
