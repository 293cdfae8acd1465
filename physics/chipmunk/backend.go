// Package chipmunk implements physics.Backend on top of the Chipmunk2D port
// github.com/jakecoffman/cp. Simulation happens in the XY plane: rotations
// are reduced to their z angle and z motion is integrated without
// collisions.
package chipmunk

import (
	"fmt"
	"math"

	"github.com/jakecoffman/cp"
	"github.com/kamstrup/intmap"
	"github.com/plus3/bitwise/ecs"
	"github.com/plus3/bitwise/physics"
	"github.com/rotisserie/eris"
)

type body struct {
	body  *cp.Body
	shape *cp.Shape
	mode  physics.BodyMode

	z, vz   float64
	inWorld bool
}

// Backend owns one cp.Space.
type Backend struct {
	space  *cp.Space
	shapes *intmap.Map[physics.ShapeHandle, physics.ShapeParams]
	bodies *intmap.Map[physics.BodyHandle, *body]
	next   uint64
	closed bool
}

// New creates a backend with an empty space. iterations sets the solver
// iteration count; zero keeps the cp default.
func New(iterations uint) *Backend {
	space := cp.NewSpace()
	if iterations > 0 {
		space.Iterations = iterations
	}
	return &Backend{
		space:  space,
		shapes: intmap.New[physics.ShapeHandle, physics.ShapeParams](16),
		bodies: intmap.New[physics.BodyHandle, *body](256),
	}
}

// guard converts a cp assertion panic into a backend failure.
func guard(op string, err *error) {
	if r := recover(); r != nil {
		*err = eris.Wrapf(ecs.ErrBackendFailure, "%s: %v", op, r)
	}
}

func (b *Backend) CreateShape(params physics.ShapeParams) (physics.ShapeHandle, error) {
	switch params.Kind {
	case physics.ShapeBox:
		if !(params.HalfExtents.X > 0 && params.HalfExtents.Y > 0) {
			return 0, eris.Wrapf(ecs.ErrConfiguration, "box half extents %vx%v", params.HalfExtents.X, params.HalfExtents.Y)
		}
	case physics.ShapeCircle:
		if !(params.Radius > 0) {
			return 0, eris.Wrapf(ecs.ErrConfiguration, "circle radius %v", params.Radius)
		}
	default:
		return 0, eris.Wrapf(ecs.ErrConfiguration, "unsupported shape kind %d", params.Kind)
	}
	b.next++
	h := physics.ShapeHandle(b.next)
	b.shapes.Put(h, params)
	return h, nil
}

func moment(mass float64, shape physics.ShapeParams) float64 {
	offset := cp.Vector{X: shape.Offset.X, Y: shape.Offset.Y}
	if shape.Kind == physics.ShapeCircle {
		return cp.MomentForCircle(mass, 0, shape.Radius, offset)
	}
	return cp.MomentForBox2(mass, bounds(shape))
}

func bounds(shape physics.ShapeParams) cp.BB {
	return cp.BB{
		L: shape.Offset.X - shape.HalfExtents.X,
		B: shape.Offset.Y - shape.HalfExtents.Y,
		R: shape.Offset.X + shape.HalfExtents.X,
		T: shape.Offset.Y + shape.HalfExtents.Y,
	}
}

func (b *Backend) CreateBody(shape physics.ShapeHandle, params physics.BodyParams) (h physics.BodyHandle, err error) {
	sp, ok := b.shapes.Get(shape)
	if !ok {
		return 0, eris.Wrapf(ecs.ErrBackendFailure, "unknown shape %d", shape)
	}
	b.shapes.Del(shape)
	defer guard("create body", &err)

	var cb *cp.Body
	switch params.Mode {
	case physics.BodyDynamic:
		if !(params.Mass > 0) {
			return 0, eris.Wrapf(ecs.ErrConfiguration, "dynamic body mass %v", params.Mass)
		}
		cb = cp.NewBody(params.Mass, moment(params.Mass, sp))
	case physics.BodyKinematic, physics.BodySensor:
		cb = cp.NewKinematicBody()
	default:
		return 0, eris.Wrapf(ecs.ErrConfiguration, "unsupported body mode %d", params.Mode)
	}

	var cs *cp.Shape
	if sp.Kind == physics.ShapeCircle {
		cs = cp.NewCircle(cb, sp.Radius, cp.Vector{X: sp.Offset.X, Y: sp.Offset.Y})
	} else {
		cs = cp.NewBox2(cb, bounds(sp), 0)
	}
	cs.SetSensor(params.Mode == physics.BodySensor)
	cs.SetFriction(params.Friction)
	cs.SetElasticity(params.Restitution)

	b.next++
	h = physics.BodyHandle(b.next)
	entry := &body{body: cb, shape: cs, mode: params.Mode}
	cb.UserData = h
	b.bodies.Put(h, entry)
	entry.setPose(params.Pose)
	return h, nil
}

func (b *Backend) lookup(h physics.BodyHandle) (*body, error) {
	if b.closed {
		return nil, eris.Wrap(ecs.ErrBackendFailure, "backend closed")
	}
	e, ok := b.bodies.Get(h)
	if !ok {
		return nil, eris.Wrapf(ecs.ErrBackendFailure, "unknown body %d", h)
	}
	return e, nil
}

func (b *Backend) AddToWorld(h physics.BodyHandle) (err error) {
	e, err := b.lookup(h)
	if err != nil {
		return err
	}
	if e.inWorld {
		return nil
	}
	defer guard("add body", &err)
	b.space.AddBody(e.body)
	b.space.AddShape(e.shape)
	e.inWorld = true
	return nil
}

func (b *Backend) RemoveFromWorld(h physics.BodyHandle) (err error) {
	e, err := b.lookup(h)
	if err != nil {
		return err
	}
	if !e.inWorld {
		return nil
	}
	defer guard("remove body", &err)
	b.space.RemoveShape(e.shape)
	b.space.RemoveBody(e.body)
	e.inWorld = false
	return nil
}

func (b *Backend) DestroyBody(h physics.BodyHandle) error {
	e, err := b.lookup(h)
	if err != nil {
		return err
	}
	if e.inWorld {
		return eris.Wrapf(ecs.ErrBackendFailure, "body %d is still in the world", h)
	}
	b.bodies.Del(h)
	e.body.UserData = nil
	return nil
}

func (b *Backend) Step(dt float64, substeps int) (err error) {
	if b.closed {
		return eris.Wrap(ecs.ErrBackendFailure, "backend closed")
	}
	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return eris.Wrapf(ecs.ErrBackendFailure, "invalid time step %v", dt)
	}
	if dt == 0 {
		return nil
	}
	if substeps < 1 {
		substeps = 1
	}
	defer guard("step", &err)

	h := dt / float64(substeps)
	for i := 0; i < substeps; i++ {
		b.space.Step(h)
	}
	for _, e := range b.bodies.All() {
		if e.inWorld && e.mode != physics.BodySensor {
			e.z += e.vz * dt
		}
	}
	return nil
}

func (b *Backend) SetGravity(gravity physics.Vec3) {
	b.space.SetGravity(cp.Vector{X: gravity.X, Y: gravity.Y})
}

func (e *body) setPose(pose physics.Pose) {
	e.body.SetPosition(cp.Vector{X: pose.Position.X, Y: pose.Position.Y})
	e.body.SetAngle(pose.Rotation.Angle())
	e.z = pose.Position.Z
}

func (b *Backend) WorldTransform(h physics.BodyHandle) (physics.Pose, error) {
	e, err := b.lookup(h)
	if err != nil {
		return physics.Pose{}, err
	}
	p := e.body.Position()
	return physics.Pose{
		Position: physics.Vec3{X: p.X, Y: p.Y, Z: e.z},
		Rotation: physics.QuatFromAngle(e.body.Angle()),
	}, nil
}

func (b *Backend) SetWorldTransform(h physics.BodyHandle, pose physics.Pose) (err error) {
	e, err := b.lookup(h)
	if err != nil {
		return err
	}
	defer guard("set transform", &err)
	e.setPose(pose)
	return nil
}

func (b *Backend) Velocity(h physics.BodyHandle) (physics.Vec3, float64, error) {
	e, err := b.lookup(h)
	if err != nil {
		return physics.Vec3{}, 0, err
	}
	v := e.body.Velocity()
	return physics.Vec3{X: v.X, Y: v.Y, Z: e.vz}, e.body.AngularVelocity(), nil
}

func (b *Backend) SetVelocity(h physics.BodyHandle, linear physics.Vec3, angular float64) error {
	e, err := b.lookup(h)
	if err != nil {
		return err
	}
	e.body.SetVelocity(linear.X, linear.Y)
	e.body.SetAngularVelocity(angular)
	e.vz = linear.Z
	return nil
}

// Len returns the number of live bodies.
func (b *Backend) Len() int {
	return b.bodies.Len()
}

func (b *Backend) String() string {
	return fmt.Sprintf("chipmunk(bodies=%d, iterations=%d)", b.bodies.Len(), b.space.Iterations)
}

// Close removes every body from the space. The backend is unusable
// afterwards.
func (b *Backend) Close() error {
	if b.closed {
		return nil
	}
	var errs []error
	for h, e := range b.bodies.All() {
		if !e.inWorld {
			continue
		}
		if err := b.RemoveFromWorld(h); err != nil {
			errs = append(errs, err)
		}
	}
	b.bodies.Clear()
	b.shapes.Clear()
	b.closed = true
	if len(errs) > 0 {
		return eris.Wrapf(errs[0], "close: %d bodies failed to leave the space", len(errs))
	}
	return nil
}
