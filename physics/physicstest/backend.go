// Package physicstest provides a deterministic in-memory physics backend.
package physicstest

import (
	"github.com/kamstrup/intmap"
	"github.com/plus3/bitwise/ecs"
	"github.com/plus3/bitwise/physics"
	"github.com/rotisserie/eris"
)

// Body is the backend's view of one body.
type Body struct {
	Shape   physics.ShapeParams
	Params  physics.BodyParams
	Pose    physics.Pose
	Linear  physics.Vec3
	Angular float64
	InWorld bool
}

// Backend integrates dynamic bodies with explicit Euler steps and never
// resolves collisions. It counts every call so tests can assert on body
// lifecycles.
type Backend struct {
	shapes  *intmap.Map[physics.ShapeHandle, physics.ShapeParams]
	bodies  *intmap.Map[physics.BodyHandle, *Body]
	next    uint64
	gravity physics.Vec3

	Created   int
	Destroyed int
	Steps     int
	Closed    bool

	// FailCreate makes CreateBody fail with ErrBackendFailure.
	FailCreate bool
	// FailStep makes Step fail with ErrBackendFailure.
	FailStep bool
}

// New creates an empty backend.
func New() *Backend {
	return &Backend{
		shapes: intmap.New[physics.ShapeHandle, physics.ShapeParams](16),
		bodies: intmap.New[physics.BodyHandle, *Body](64),
	}
}

func (b *Backend) CreateShape(params physics.ShapeParams) (physics.ShapeHandle, error) {
	if params.Kind != physics.ShapeBox && params.Kind != physics.ShapeCircle {
		return 0, eris.Wrapf(ecs.ErrConfiguration, "unsupported shape kind %d", params.Kind)
	}
	b.next++
	h := physics.ShapeHandle(b.next)
	b.shapes.Put(h, params)
	return h, nil
}

func (b *Backend) CreateBody(shape physics.ShapeHandle, params physics.BodyParams) (physics.BodyHandle, error) {
	sp, ok := b.shapes.Get(shape)
	if !ok {
		return 0, eris.Wrapf(ecs.ErrBackendFailure, "unknown shape %d", shape)
	}
	b.shapes.Del(shape)
	if b.FailCreate {
		return 0, eris.Wrap(ecs.ErrBackendFailure, "create body")
	}

	b.next++
	h := physics.BodyHandle(b.next)
	b.bodies.Put(h, &Body{Shape: sp, Params: params, Pose: params.Pose})
	b.Created++
	return h, nil
}

func (b *Backend) body(h physics.BodyHandle) (*Body, error) {
	body, ok := b.bodies.Get(h)
	if !ok {
		return nil, eris.Wrapf(ecs.ErrBackendFailure, "unknown body %d", h)
	}
	return body, nil
}

func (b *Backend) AddToWorld(h physics.BodyHandle) error {
	body, err := b.body(h)
	if err != nil {
		return err
	}
	body.InWorld = true
	return nil
}

func (b *Backend) RemoveFromWorld(h physics.BodyHandle) error {
	body, err := b.body(h)
	if err != nil {
		return err
	}
	body.InWorld = false
	return nil
}

func (b *Backend) DestroyBody(h physics.BodyHandle) error {
	body, err := b.body(h)
	if err != nil {
		return err
	}
	if body.InWorld {
		return eris.Wrapf(ecs.ErrBackendFailure, "body %d is still in the world", h)
	}
	b.bodies.Del(h)
	b.Destroyed++
	return nil
}

func (b *Backend) Step(dt float64, substeps int) error {
	if b.FailStep {
		return eris.Wrap(ecs.ErrBackendFailure, "step")
	}
	b.Steps++
	if substeps < 1 {
		substeps = 1
	}
	h := dt / float64(substeps)
	for i := 0; i < substeps; i++ {
		for _, body := range b.bodies.All() {
			if !body.InWorld || body.Params.Mode == physics.BodySensor {
				continue
			}
			if body.Params.Mode == physics.BodyDynamic {
				body.Linear.X += b.gravity.X * h
				body.Linear.Y += b.gravity.Y * h
				body.Linear.Z += b.gravity.Z * h
			}
			body.Pose.Position.X += body.Linear.X * h
			body.Pose.Position.Y += body.Linear.Y * h
			body.Pose.Position.Z += body.Linear.Z * h
			body.Pose.Rotation = physics.QuatFromAngle(body.Pose.Rotation.Angle() + body.Angular*h)
		}
	}
	return nil
}

func (b *Backend) SetGravity(gravity physics.Vec3) {
	b.gravity = gravity
}

// Gravity returns the last gravity set.
func (b *Backend) Gravity() physics.Vec3 {
	return b.gravity
}

func (b *Backend) WorldTransform(h physics.BodyHandle) (physics.Pose, error) {
	body, err := b.body(h)
	if err != nil {
		return physics.Pose{}, err
	}
	return body.Pose, nil
}

func (b *Backend) SetWorldTransform(h physics.BodyHandle, pose physics.Pose) error {
	body, err := b.body(h)
	if err != nil {
		return err
	}
	body.Pose = pose
	return nil
}

func (b *Backend) Velocity(h physics.BodyHandle) (physics.Vec3, float64, error) {
	body, err := b.body(h)
	if err != nil {
		return physics.Vec3{}, 0, err
	}
	return body.Linear, body.Angular, nil
}

func (b *Backend) SetVelocity(h physics.BodyHandle, linear physics.Vec3, angular float64) error {
	body, err := b.body(h)
	if err != nil {
		return err
	}
	body.Linear = linear
	body.Angular = angular
	return nil
}

// Body returns the state of a live body.
func (b *Backend) Body(h physics.BodyHandle) (*Body, bool) {
	return b.bodies.Get(h)
}

// Live returns the number of bodies not yet destroyed.
func (b *Backend) Live() int {
	return b.bodies.Len()
}

// PendingShapes returns the number of shapes not yet consumed by CreateBody.
func (b *Backend) PendingShapes() int {
	return b.shapes.Len()
}

func (b *Backend) Close() error {
	b.bodies.Clear()
	b.shapes.Clear()
	b.Closed = true
	return nil
}
