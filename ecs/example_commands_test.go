package ecs_test

import (
	"fmt"

	"github.com/plus3/bitwise/ecs"
)

// ExampleCommands demonstrates deferring structural changes until the end of
// a tick.
func ExampleCommands() {
	registry := ecs.NewComponentRegistry()
	health := ecs.RegisterComponent[Health](registry)
	world := ecs.NewWorld(registry, nil)

	doomed := world.Create()
	_ = world.Add(doomed, health, ecs.Record{"current": 0, "max": 10})

	cmds := ecs.NewCommands()
	cmds.Destroy(doomed)
	cmds.Spawn(map[ecs.ComponentId]ecs.Record{
		health: {"current": 10, "max": 10},
	}, func(id ecs.EntityId) {
		fmt.Println("spawned", id)
	})

	fmt.Println("before flush:", world.Len(), "entities")
	_ = cmds.Flush(world)
	fmt.Println("after flush:", world.Len(), "entities, doomed alive:", world.IsAlive(doomed))

	// Output:
	// before flush: 1 entities
	// spawned 0:2
	// after flush: 1 entities, doomed alive: false
}
