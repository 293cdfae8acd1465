// Package physics binds entities with a Transform and a Collider to bodies of
// an external rigid-body engine.
package physics

import (
	"errors"
	"math"

	"github.com/kamstrup/intmap"
	"github.com/plus3/bitwise/ecs"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Name is the scheduled name of the physics system.
const Name = "physics"

// Config holds the simulation settings that are also frozen with a scene.
type Config struct {
	Gravity  Vec3
	Substeps int
}

// DefaultConfig returns zero gravity and 10 substeps.
func DefaultConfig() Config {
	return Config{Substeps: 10}
}

type binding struct {
	handle BodyHandle
	shape  ShapeParams
	body   BodyParams
}

func (b *binding) matches(shape ShapeParams, body BodyParams) bool {
	return b.shape == shape &&
		b.body.Mode == body.Mode &&
		b.body.Mass == body.Mass &&
		b.body.Friction == body.Friction &&
		b.body.Restitution == body.Restitution
}

// System owns one body per entity matching {Transform, Collider}. Bodies are
// created on query enter, rebuilt when their shape, mass or mode changes,
// and released on query exit or as soon as their entity is destroyed.
//
// Components are the canonical body state between steps: every bound body
// is loaded from its Transform (and RigidBody velocity) before the backend
// steps. Dynamic bodies are physics-authoritative, so their pose and velocity
// are written back after the step. Kinematic bodies and sensors are
// script-authoritative and are never written back.
type System struct {
	backend Backend
	cfg     Config
	log     *zap.Logger

	world       *ecs.World
	transforms  *ecs.Store[Transform]
	colliders   *ecs.Store[Collider]
	rigidBodies *ecs.Store[RigidBody]
	query       *ecs.Query

	bindings *intmap.Map[ecs.EntityId, *binding]
	skipped  *intmap.Map[ecs.EntityId, string]
	unhook   func()
}

// New creates a physics system driving backend. The system owns the backend
// and closes it on Close.
func New(backend Backend, cfg Config, log *zap.Logger) *System {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Substeps <= 0 {
		cfg.Substeps = 1
	}
	return &System{
		backend:  backend,
		cfg:      cfg,
		log:      log.Named(Name),
		bindings: intmap.New[ecs.EntityId, *binding](256),
		skipped:  intmap.New[ecs.EntityId, string](16),
	}
}

func (s *System) Name() string {
	return Name
}

// Config returns the current simulation settings.
func (s *System) Config() Config {
	return s.cfg
}

// Start resolves the physics stores, defines the collider query and hooks
// entity destruction.
func (s *System) Start(w *ecs.World) error {
	var err error
	if s.transforms, err = ecs.NewStore[Transform](w); err != nil {
		return err
	}
	if s.colliders, err = ecs.NewStore[Collider](w); err != nil {
		return err
	}
	if s.rigidBodies, err = ecs.NewStore[RigidBody](w); err != nil {
		return err
	}
	if s.query, err = ecs.NewQuery(w, s.transforms.Id(), s.colliders.Id()); err != nil {
		return err
	}

	s.world = w
	s.backend.SetGravity(s.cfg.Gravity)
	s.unhook = w.OnDestroy(s.forget)
	return nil
}

func (s *System) forget(id ecs.EntityId) {
	s.release(id)
	s.skipped.Del(id)
}

// Len returns the number of live bodies.
func (s *System) Len() int {
	return s.bindings.Len()
}

// Body returns the body bound to id.
func (s *System) Body(id ecs.EntityId) (BodyHandle, bool) {
	b, ok := s.bindings.Get(id)
	if !ok {
		return 0, false
	}
	return b.handle, true
}

// Update synchronizes bodies with the collider query, steps the backend and
// writes simulated transforms back.
func (s *System) Update(frame *ecs.UpdateFrame) error {
	res, err := s.query.Evaluate()
	if err != nil {
		return err
	}

	for _, id := range res.Exit {
		s.forget(id)
	}

	var errs []error
	for _, id := range res.Current {
		if err := s.sync(id); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.push(res.Current); err != nil {
		return err
	}
	if err := s.backend.Step(frame.DeltaTime, s.cfg.Substeps); err != nil {
		return eris.Wrap(err, "step simulation")
	}
	if err := s.pull(res.Current); err != nil {
		return err
	}

	return errors.Join(errs...)
}

// sync makes the binding of id match its components. Configuration problems
// are reported once per distinct message and leave the entity unbound.
func (s *System) sync(id ecs.EntityId) error {
	shape, body, err := s.desired(id)
	if err != nil {
		s.release(id)
		if msg, ok := s.skipped.Get(id); !ok || msg != err.Error() {
			s.skipped.Put(id, err.Error())
			s.log.Warn("entity skipped", zap.Stringer("entity", id), zap.Error(err))
		}
		return nil
	}
	s.skipped.Del(id)

	if b, ok := s.bindings.Get(id); ok {
		if b.matches(shape, body) {
			return nil
		}
		s.release(id)
	}
	return s.bind(id, shape, body)
}

func (s *System) desired(id ecs.EntityId) (ShapeParams, BodyParams, error) {
	t, err := s.transforms.Get(id)
	if err != nil {
		return ShapeParams{}, BodyParams{}, err
	}
	c, err := s.colliders.Get(id)
	if err != nil {
		return ShapeParams{}, BodyParams{}, err
	}

	shape, err := shapeFor(c, t)
	if err != nil {
		return ShapeParams{}, BodyParams{}, err
	}

	body := BodyParams{Mode: BodySensor, Pose: t.Pose()}
	rb, err := s.rigidBodies.Get(id)
	if errors.Is(err, ecs.ErrNotFound) {
		return shape, body, nil
	}
	if err != nil {
		return ShapeParams{}, BodyParams{}, err
	}

	mass := float64(rb.Mass)
	if mass < 0 || math.IsNaN(mass) || math.IsInf(mass, 0) {
		return ShapeParams{}, BodyParams{}, eris.Wrapf(ecs.ErrConfiguration, "invalid mass %v", rb.Mass)
	}
	body.Friction = float64(rb.Friction)
	body.Restitution = float64(rb.Restitution)

	switch rb.Authority {
	case AuthorityAuto:
		if mass > 0 {
			body.Mode = BodyDynamic
			body.Mass = mass
		}
	case AuthorityPhysics:
		if mass == 0 {
			return ShapeParams{}, BodyParams{}, eris.Wrap(ecs.ErrConfiguration, "physics authority requires a positive mass")
		}
		body.Mode = BodyDynamic
		body.Mass = mass
	case AuthorityScript:
		body.Mode = BodyKinematic
	default:
		return ShapeParams{}, BodyParams{}, eris.Wrapf(ecs.ErrConfiguration, "unsupported authority %d", rb.Authority)
	}
	return shape, body, nil
}

func shapeFor(c Collider, t Transform) (ShapeParams, error) {
	sx, sy, sz := axisScale(t.SX), axisScale(t.SY), axisScale(t.SZ)
	offset := Vec3{X: float64(c.OX) * sx, Y: float64(c.OY) * sy, Z: float64(c.OZ) * sz}

	switch c.Kind {
	case ColliderBox:
		half := Vec3{
			X: float64(c.SX) * sx / 2,
			Y: float64(c.SY) * sy / 2,
			Z: float64(c.SZ) * sz / 2,
		}
		if !(half.X > 0 && half.Y > 0) {
			return ShapeParams{}, eris.Wrapf(ecs.ErrConfiguration, "box collider needs a positive size, got %vx%v", c.SX, c.SY)
		}
		return ShapeParams{Kind: ShapeBox, HalfExtents: half, Offset: offset}, nil
	case ColliderCircle:
		radius := float64(c.Radius) * max(sx, sy)
		if !(radius > 0) {
			return ShapeParams{}, eris.Wrapf(ecs.ErrConfiguration, "circle collider needs a positive radius, got %v", c.Radius)
		}
		return ShapeParams{Kind: ShapeCircle, Radius: radius, Offset: offset}, nil
	}
	return ShapeParams{}, eris.Wrapf(ecs.ErrConfiguration, "unsupported collider kind %d", c.Kind)
}

func (s *System) bind(id ecs.EntityId, shape ShapeParams, body BodyParams) error {
	sh, err := s.backend.CreateShape(shape)
	if err != nil {
		return s.bindFailed(id, err)
	}
	handle, err := s.backend.CreateBody(sh, body)
	if err != nil {
		return s.bindFailed(id, err)
	}
	if err := s.backend.AddToWorld(handle); err != nil {
		if derr := s.backend.DestroyBody(handle); derr != nil {
			s.log.Error("destroy body failed", zap.Stringer("entity", id), zap.Error(derr))
		}
		return s.bindFailed(id, err)
	}

	s.bindings.Put(id, &binding{handle: handle, shape: shape, body: body})
	s.log.Debug("body bound", zap.Stringer("entity", id), zap.Stringer("mode", body.Mode))
	return nil
}

// bindFailed isolates a failed bind to its entity. Configuration problems are
// logged like any other skipped entity; backend failures are returned so the
// tick reports them.
func (s *System) bindFailed(id ecs.EntityId, err error) error {
	if errors.Is(err, ecs.ErrConfiguration) {
		s.skipped.Put(id, err.Error())
		s.log.Warn("entity skipped", zap.Stringer("entity", id), zap.Error(err))
		return nil
	}
	return eris.Wrapf(err, "bind entity %s", id)
}

// release removes and destroys the body of id. The binding is forgotten even
// when the backend reports a failure.
func (s *System) release(id ecs.EntityId) {
	b, ok := s.bindings.Get(id)
	if !ok {
		return
	}
	s.bindings.Del(id)

	if err := s.backend.RemoveFromWorld(b.handle); err != nil {
		s.log.Error("remove body failed", zap.Stringer("entity", id), zap.Error(err))
	}
	if err := s.backend.DestroyBody(b.handle); err != nil {
		s.log.Error("destroy body failed", zap.Stringer("entity", id), zap.Error(err))
	}
	s.log.Debug("body released", zap.Stringer("entity", id))
}

// push loads every bound body from its components.
func (s *System) push(ids []ecs.EntityId) error {
	for _, id := range ids {
		b, ok := s.bindings.Get(id)
		if !ok {
			continue
		}
		t, err := s.transforms.Get(id)
		if err != nil {
			continue
		}
		if err := s.backend.SetWorldTransform(b.handle, t.Pose()); err != nil {
			return eris.Wrapf(err, "push transform of %s", id)
		}
		if b.body.Mode == BodySensor {
			continue
		}
		rb, err := s.rigidBodies.Get(id)
		if err != nil {
			continue
		}
		linear := Vec3{X: float64(rb.VX), Y: float64(rb.VY), Z: float64(rb.VZ)}
		if err := s.backend.SetVelocity(b.handle, linear, float64(rb.AV)); err != nil {
			return eris.Wrapf(err, "push velocity of %s", id)
		}
	}
	return nil
}

// pull writes simulated transforms and velocities of dynamic bodies back to
// their components.
func (s *System) pull(ids []ecs.EntityId) error {
	for _, id := range ids {
		b, ok := s.bindings.Get(id)
		if !ok || b.body.Mode != BodyDynamic {
			continue
		}
		pose, err := s.backend.WorldTransform(b.handle)
		if err != nil {
			return eris.Wrapf(err, "read transform of %s", id)
		}
		linear, angular, err := s.backend.Velocity(b.handle)
		if err != nil {
			return eris.Wrapf(err, "read velocity of %s", id)
		}

		if err := s.transforms.Update(id, func(t *Transform) { t.SetPose(pose) }); err != nil {
			return err
		}
		err = s.rigidBodies.Update(id, func(rb *RigidBody) {
			rb.VX, rb.VY, rb.VZ = float32(linear.X), float32(linear.Y), float32(linear.Z)
			rb.AV = float32(angular)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Freeze saves the simulation settings. Bodies are rebuilt from components
// on thaw.
func (s *System) Freeze() (ecs.State, error) {
	return ecs.State{
		"gravity":  []any{s.cfg.Gravity.X, s.cfg.Gravity.Y, s.cfg.Gravity.Z},
		"substeps": s.cfg.Substeps,
	}, nil
}

// Thaw restores the settings saved by Freeze.
func (s *System) Thaw(state ecs.State) error {
	cfg := s.cfg
	if raw, ok := state["gravity"]; ok {
		list, ok := raw.([]any)
		if !ok || len(list) != 3 {
			return eris.Wrapf(ecs.ErrConfiguration, "physics gravity must be a list of 3 numbers, got %v", raw)
		}
		var g [3]float64
		for i, v := range list {
			f, ok := toFloat(v)
			if !ok {
				return eris.Wrapf(ecs.ErrConfiguration, "physics gravity component %v is not a number", v)
			}
			g[i] = f
		}
		cfg.Gravity = Vec3{X: g[0], Y: g[1], Z: g[2]}
	}
	if raw, ok := state["substeps"]; ok {
		f, ok := toFloat(raw)
		if !ok || f < 1 || f != math.Trunc(f) {
			return eris.Wrapf(ecs.ErrConfiguration, "physics substeps must be a positive integer, got %v", raw)
		}
		cfg.Substeps = int(f)
	}

	s.cfg = cfg
	s.backend.SetGravity(cfg.Gravity)
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Close releases every body and closes the backend.
func (s *System) Close() error {
	var ids []ecs.EntityId
	for id := range s.bindings.Keys() {
		ids = append(ids, id)
	}
	for _, id := range ids {
		s.release(id)
	}
	s.skipped.Clear()
	if s.unhook != nil {
		s.unhook()
		s.unhook = nil
	}
	return s.backend.Close()
}
