package physics

import (
	"math"

	"github.com/plus3/bitwise/ecs"
)

// Transform is an entity's position, rotation (quaternion) and scale. A zero
// quaternion is read as the identity and a zero scale axis as 1.
type Transform struct {
	X  float32 `ecs:"x"`
	Y  float32 `ecs:"y"`
	Z  float32 `ecs:"z"`
	RX float32 `ecs:"rx"`
	RY float32 `ecs:"ry"`
	RZ float32 `ecs:"rz"`
	RW float32 `ecs:"rw"`
	SX float32 `ecs:"sx"`
	SY float32 `ecs:"sy"`
	SZ float32 `ecs:"sz"`
}

// IdentityTransform returns a transform at the origin with unit scale.
func IdentityTransform() Transform {
	return Transform{RW: 1, SX: 1, SY: 1, SZ: 1}
}

// Collider kinds.
const (
	ColliderBox    uint8 = 0
	ColliderCircle uint8 = 1
)

// Collider describes the collision shape of an entity. Box size and the
// offset are in local units and scaled by the Transform.
type Collider struct {
	Kind   uint8   `ecs:"kind"`
	SX     float32 `ecs:"sx"`
	SY     float32 `ecs:"sy"`
	SZ     float32 `ecs:"sz"`
	OX     float32 `ecs:"ox"`
	OY     float32 `ecs:"oy"`
	OZ     float32 `ecs:"oz"`
	Radius float32 `ecs:"radius"`
}

// Authority decides which side owns a body's transform.
const (
	// AuthorityAuto makes bodies with positive mass physics-authoritative and
	// all others sensors.
	AuthorityAuto uint8 = 0
	// AuthorityPhysics requires positive mass; the simulation writes the
	// transform.
	AuthorityPhysics uint8 = 1
	// AuthorityScript makes a kinematic body driven from the Transform and
	// velocity fields.
	AuthorityScript uint8 = 2
)

// RigidBody holds the mass, velocity and material of a simulated entity.
// Velocities of physics-authoritative bodies are written back every step so
// that a frozen scene resumes with the same motion.
type RigidBody struct {
	Mass        float32 `ecs:"mass"`
	VX          float32 `ecs:"vx"`
	VY          float32 `ecs:"vy"`
	VZ          float32 `ecs:"vz"`
	AV          float32 `ecs:"av"`
	Friction    float32 `ecs:"friction"`
	Restitution float32 `ecs:"restitution"`
	Authority   uint8   `ecs:"authority"`
}

// Components holds the ids of the physics components in one registry.
type Components struct {
	Transform ecs.ComponentId
	Collider  ecs.ComponentId
	RigidBody ecs.ComponentId
}

// Register registers the physics components.
func Register(r *ecs.ComponentRegistry) Components {
	return Components{
		Transform: ecs.RegisterComponent[Transform](r),
		Collider:  ecs.RegisterComponent[Collider](r),
		RigidBody: ecs.RegisterComponent[RigidBody](r),
	}
}

func axisScale(s float32) float64 {
	if s == 0 {
		return 1
	}
	return math.Abs(float64(s))
}

// Pose converts the transform's position and rotation.
func (t Transform) Pose() Pose {
	q := Quat{X: float64(t.RX), Y: float64(t.RY), Z: float64(t.RZ), W: float64(t.RW)}
	if q == (Quat{}) {
		q.W = 1
	}
	return Pose{
		Position: Vec3{X: float64(t.X), Y: float64(t.Y), Z: float64(t.Z)},
		Rotation: q,
	}
}

// SetPose writes position and rotation back into the transform.
func (t *Transform) SetPose(p Pose) {
	t.X, t.Y, t.Z = float32(p.Position.X), float32(p.Position.Y), float32(p.Position.Z)
	t.RX, t.RY, t.RZ, t.RW = float32(p.Rotation.X), float32(p.Rotation.Y), float32(p.Rotation.Z), float32(p.Rotation.W)
}
