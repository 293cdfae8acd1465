package ecs

import "iter"

// EntityRegistry allocates and recycles entity identifiers. Component data is
// not its concern: the World clears tables before an id is released.
type EntityRegistry struct {
	generations []uint32
	alive       bitset
	free        bitset
	count       int
}

// NewEntityRegistry creates an empty registry.
func NewEntityRegistry() *EntityRegistry {
	return &EntityRegistry{}
}

// Create returns the lowest free slot with its current generation, or a fresh
// slot when none are free.
func (r *EntityRegistry) Create() EntityId {
	var index uint32
	if slot := r.free.next(0); slot >= 0 {
		index = uint32(slot)
		r.free.clear(index)
	} else {
		index = uint32(len(r.generations))
		r.generations = append(r.generations, 1)
	}

	r.alive.set(index)
	r.count++
	return NewEntityId(index, r.generations[index])
}

// Destroy releases the slot held by id and bumps its generation so that id,
// and any copy of it, stops being alive. Returns false if id was not alive.
func (r *EntityRegistry) Destroy(id EntityId) bool {
	if !r.IsAlive(id) {
		return false
	}

	index := id.Index()
	r.alive.clear(index)
	r.free.set(index)
	r.count--

	r.generations[index]++
	if r.generations[index] == 0 {
		r.generations[index] = 1
	}
	return true
}

// IsAlive reports whether id refers to the current occupant of its slot.
func (r *EntityRegistry) IsAlive(id EntityId) bool {
	index := id.Index()
	if int(index) >= len(r.generations) {
		return false
	}
	return r.alive.has(index) && r.generations[index] == id.Generation()
}

// Occupant returns the live entity holding slot index.
func (r *EntityRegistry) Occupant(index uint32) (EntityId, bool) {
	if int(index) >= len(r.generations) || !r.alive.has(index) {
		return InvalidEntity, false
	}
	return NewEntityId(index, r.generations[index]), true
}

// Len returns the number of live entities.
func (r *EntityRegistry) Len() int {
	return r.count
}

// All iterates live entities in ascending index order.
func (r *EntityRegistry) All() iter.Seq[EntityId] {
	return func(yield func(EntityId) bool) {
		for slot := r.alive.next(0); slot >= 0; slot = r.alive.next(uint32(slot) + 1) {
			index := uint32(slot)
			if !yield(NewEntityId(index, r.generations[index])) {
				return
			}
		}
	}
}
