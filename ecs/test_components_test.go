package ecs_test

import "github.com/plus3/bitwise/ecs"

// Common test component types
type Position struct {
	X, Y float32
}

type Velocity struct {
	DX float32 `ecs:"dx"`
	DY float32 `ecs:"dy"`
}

type Health struct {
	Current int32
	Max     int32
}

type Flags struct {
	Visible bool
	Layer   uint8
	Mask    uint64
}

type testComponents struct {
	position ecs.ComponentId
	velocity ecs.ComponentId
	health   ecs.ComponentId
	flags    ecs.ComponentId
}

func newTestRegistry() (*ecs.ComponentRegistry, testComponents) {
	registry := ecs.NewComponentRegistry()
	ids := testComponents{
		position: ecs.RegisterComponent[Position](registry),
		velocity: ecs.RegisterComponent[Velocity](registry),
		health:   ecs.RegisterComponent[Health](registry),
		flags:    ecs.RegisterComponent[Flags](registry),
	}
	return registry, ids
}

func newTestWorld() (*ecs.World, testComponents) {
	registry, ids := newTestRegistry()
	return ecs.NewWorld(registry, nil), ids
}
