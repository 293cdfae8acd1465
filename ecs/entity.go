package ecs

import "fmt"

// EntityId encodes the slot index (lower 32 bits) and the slot generation
// (upper 32 bits). Generations start at 1, so the zero value is never alive.
type EntityId uint64

// InvalidEntity is the zero EntityId. It never refers to a live entity.
const InvalidEntity EntityId = 0

// NewEntityId creates an EntityId from a slot index and generation.
func NewEntityId(index uint32, generation uint32) EntityId {
	return EntityId(uint64(generation)<<32 | uint64(index))
}

// Index extracts the slot index from the entity ID.
func (e EntityId) Index() uint32 {
	return uint32(e & 0xFFFFFFFF)
}

// Generation extracts the slot generation from the entity ID.
func (e EntityId) Generation() uint32 {
	return uint32(e >> 32)
}

func (e EntityId) String() string {
	return fmt.Sprintf("%d:%d", e.Index(), e.Generation())
}
