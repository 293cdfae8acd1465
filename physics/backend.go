package physics

import "math"

// Vec3 is a position, extent or velocity.
type Vec3 struct {
	X, Y, Z float64
}

// Quat is a rotation quaternion.
type Quat struct {
	X, Y, Z, W float64
}

// QuatFromAngle returns the rotation by angle radians around z.
func QuatFromAngle(angle float64) Quat {
	return Quat{Z: math.Sin(angle / 2), W: math.Cos(angle / 2)}
}

// Angle returns the rotation around z, ignoring any other axis.
func (q Quat) Angle() float64 {
	return 2 * math.Atan2(q.Z, q.W)
}

// Pose is a world transform without scale.
type Pose struct {
	Position Vec3
	Rotation Quat
}

// ShapeKind selects the collision primitive.
type ShapeKind uint8

const (
	ShapeBox ShapeKind = iota
	ShapeCircle
)

// ShapeParams are scaled, world-unit shape parameters.
type ShapeParams struct {
	Kind        ShapeKind
	HalfExtents Vec3
	Radius      float64
	Offset      Vec3
}

// BodyMode is how the backend simulates a body.
type BodyMode uint8

const (
	// BodyDynamic bodies are integrated by the backend.
	BodyDynamic BodyMode = iota
	// BodyKinematic bodies move only as the caller dictates but push dynamic
	// bodies they touch.
	BodyKinematic
	// BodySensor bodies only detect overlap.
	BodySensor
)

func (m BodyMode) String() string {
	switch m {
	case BodyDynamic:
		return "dynamic"
	case BodyKinematic:
		return "kinematic"
	case BodySensor:
		return "sensor"
	}
	return "unknown"
}

// BodyParams describe a body at creation time.
type BodyParams struct {
	Mode        BodyMode
	Mass        float64
	Friction    float64
	Restitution float64
	Pose        Pose
}

// ShapeHandle is an opaque backend shape reference.
type ShapeHandle uint64

// BodyHandle is an opaque backend body reference.
type BodyHandle uint64

// Backend is the rigid-body engine the System drives. Implementations own
// one simulation world and are used from a single goroutine. Failures should
// wrap ecs.ErrBackendFailure; an unsupported shape should wrap
// ecs.ErrConfiguration.
type Backend interface {
	// CreateShape prepares a shape for one CreateBody call.
	CreateShape(params ShapeParams) (ShapeHandle, error)
	// CreateBody builds a body that takes ownership of shape, even on failure.
	CreateBody(shape ShapeHandle, params BodyParams) (BodyHandle, error)
	AddToWorld(body BodyHandle) error
	RemoveFromWorld(body BodyHandle) error
	// DestroyBody releases the body and its shape. The body must not be in
	// the world.
	DestroyBody(body BodyHandle) error
	Step(dt float64, substeps int) error
	SetGravity(gravity Vec3)
	WorldTransform(body BodyHandle) (Pose, error)
	SetWorldTransform(body BodyHandle, pose Pose) error
	Velocity(body BodyHandle) (linear Vec3, angular float64, err error)
	SetVelocity(body BodyHandle, linear Vec3, angular float64) error
	// Close releases every remaining resource.
	Close() error
}
