package ecs

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Commands provides a buffer for deferred world operations that are applied at
// the end of a tick. Systems use it to make structural changes without
// disturbing entities other systems are still iterating.
type Commands struct {
	spawns   []spawnCommand
	destroys []EntityId
	adds     []addComponentCommand
	removes  []removeComponentCommand
	defers   []func()
}

// NewCommands creates an empty command buffer.
func NewCommands() *Commands {
	return &Commands{}
}

type spawnCommand struct {
	components map[ComponentId]Record
	then       func(EntityId)
}

type addComponentCommand struct {
	entity    EntityId
	component ComponentId
	data      Record
}

type removeComponentCommand struct {
	entity    EntityId
	component ComponentId
}

// Defer queues a function execution operation.
func (c *Commands) Defer(fn func()) {
	c.defers = append(c.defers, fn)
}

// Spawn queues the creation of an entity with the given components. then, if
// not nil, receives the new id once the entity exists.
func (c *Commands) Spawn(components map[ComponentId]Record, then func(EntityId)) {
	c.spawns = append(c.spawns, spawnCommand{components: components, then: then})
}

// Destroy queues an entity destruction.
func (c *Commands) Destroy(entity EntityId) {
	c.destroys = append(c.destroys, entity)
}

// Add queues a component addition.
func (c *Commands) Add(entity EntityId, component ComponentId, data Record) {
	c.adds = append(c.adds, addComponentCommand{entity: entity, component: component, data: data})
}

// Remove queues a component removal.
func (c *Commands) Remove(entity EntityId, component ComponentId) {
	c.removes = append(c.removes, removeComponentCommand{entity: entity, component: component})
}

// Len returns the number of queued operations.
func (c *Commands) Len() int {
	return len(c.spawns) + len(c.destroys) + len(c.adds) + len(c.removes) + len(c.defers)
}

// Flush applies all queued operations to w and resets the buffer. Operations
// targeting entities destroyed in the same flush are dropped. Failed
// operations do not stop the flush; their errors are returned joined.
func (c *Commands) Flush(w *World) error {
	var errs []error
	destroyed := make(map[EntityId]bool, len(c.destroys))

	for _, id := range c.destroys {
		if destroyed[id] {
			continue
		}
		if err := w.Destroy(id); err != nil {
			errs = append(errs, err)
		}
		destroyed[id] = true
	}

	for _, cmd := range c.removes {
		if !destroyed[cmd.entity] {
			w.Remove(cmd.entity, cmd.component)
		}
	}

	for _, cmd := range c.adds {
		if destroyed[cmd.entity] {
			continue
		}
		if err := w.Add(cmd.entity, cmd.component, cmd.data); err != nil {
			errs = append(errs, eris.Wrapf(err, "deferred add to %s", cmd.entity))
		}
	}

	for _, cmd := range c.spawns {
		id := w.Create()
		for cid, data := range cmd.components {
			if err := w.Add(id, cid, data); err != nil {
				errs = append(errs, eris.Wrapf(err, "deferred spawn of %s", id))
			}
		}
		if cmd.then != nil {
			cmd.then(id)
		}
	}

	for _, fn := range c.defers {
		fn()
	}

	c.spawns = c.spawns[:0]
	c.destroys = c.destroys[:0]
	c.adds = c.adds[:0]
	c.removes = c.removes[:0]
	c.defers = c.defers[:0]

	return errors.Join(errs...)
}
