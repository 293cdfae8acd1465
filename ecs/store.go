package ecs

import (
	"unsafe"

	"github.com/rotisserie/eris"
)

// Store is a typed view over the table of a component registered with
// RegisterComponent. Values are copied in and out of the columns.
type Store[T any] struct {
	world     *World
	id        ComponentId
	component registeredComponent
}

// NewStore returns the typed store for T in w. T must have been registered
// with RegisterComponent.
func NewStore[T any](w *World) (*Store[T], error) {
	id, ok := ComponentIdOf[T](w.registry)
	if !ok {
		var zero T
		return nil, eris.Wrapf(ErrInvalidSignature, "component type %T is not registered", zero)
	}
	return &Store[T]{
		world:     w,
		id:        id,
		component: w.registry.components[id],
	}, nil
}

// Id returns the component id.
func (s *Store[T]) Id() ComponentId {
	return s.id
}

// Table returns the underlying table, or nil if it was never written.
func (s *Store[T]) Table() *Table {
	return s.world.Table(s.id)
}

// Add attaches v to a live entity, overwriting any previous value.
func (s *Store[T]) Add(id EntityId, v T) error {
	if !s.world.IsAlive(id) {
		return eris.Wrapf(ErrNotFound, "entity %s", id)
	}
	t, err := s.world.tableFor(s.id)
	if err != nil {
		return err
	}
	slot := t.insert(id)
	s.component.scatter(t, slot, unsafe.Pointer(&v))
	return nil
}

// Get returns a copy of id's component.
func (s *Store[T]) Get(id EntityId) (T, error) {
	var v T
	t := s.world.Table(s.id)
	if t == nil || !t.Has(id) {
		return v, eris.Wrapf(ErrNotFound, "entity %s has no %s", id, s.component.schema.Name)
	}
	s.component.gather(t, int(id.Index()), unsafe.Pointer(&v))
	return v, nil
}

// Has reports whether id holds the component.
func (s *Store[T]) Has(id EntityId) bool {
	return s.world.Has(id, s.id)
}

// Remove detaches the component; absent components are ignored.
func (s *Store[T]) Remove(id EntityId) {
	s.world.Remove(id, s.id)
}

// Update applies fn to a copy of id's component and writes the result back.
func (s *Store[T]) Update(id EntityId, fn func(*T)) error {
	v, err := s.Get(id)
	if err != nil {
		return err
	}
	fn(&v)
	s.component.scatter(s.world.Table(s.id), int(id.Index()), unsafe.Pointer(&v))
	return nil
}
