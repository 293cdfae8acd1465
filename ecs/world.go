package ecs

import (
	"iter"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type destroyHook struct {
	id int
	fn func(EntityId)
}

// World owns the entities, component tables and query state of one scene.
// It is not safe for concurrent use.
type World struct {
	registry *ComponentRegistry
	entities *EntityRegistry
	tables   []*Table
	queries  []*queryState
	frame    uint64
	log      *zap.Logger

	hooks      []destroyHook
	nextHookId int
}

// NewWorld creates an empty world over the given registry. A nil logger
// disables logging.
func NewWorld(registry *ComponentRegistry, log *zap.Logger) *World {
	if log == nil {
		log = zap.NewNop()
	}
	return &World{
		registry: registry,
		entities: NewEntityRegistry(),
		log:      log,
	}
}

// Registry returns the component registry backing the world.
func (w *World) Registry() *ComponentRegistry {
	return w.registry
}

// Log returns the world's logger.
func (w *World) Log() *zap.Logger {
	return w.log
}

// Frame returns the current tick number.
func (w *World) Frame() uint64 {
	return w.frame
}

// Advance starts a new frame. Query results buffered during the previous frame
// become stale. The Scheduler advances once per Tick.
func (w *World) Advance() uint64 {
	w.frame++
	return w.frame
}

// Create allocates a new entity.
func (w *World) Create() EntityId {
	return w.entities.Create()
}

// IsAlive reports whether id is a live entity.
func (w *World) IsAlive(id EntityId) bool {
	return w.entities.IsAlive(id)
}

// Occupant returns the live entity holding slot index.
func (w *World) Occupant(index uint32) (EntityId, bool) {
	return w.entities.Occupant(index)
}

// Len returns the number of live entities.
func (w *World) Len() int {
	return w.entities.Len()
}

// Entities iterates live entities in ascending index order.
func (w *World) Entities() iter.Seq[EntityId] {
	return w.entities.All()
}

// Destroy removes id from every component table, runs the destroy hooks and
// releases the identifier.
func (w *World) Destroy(id EntityId) error {
	if !w.entities.IsAlive(id) {
		return eris.Wrapf(ErrNotFound, "entity %s", id)
	}

	for _, t := range w.tables {
		if t != nil {
			t.Remove(id)
		}
	}

	hooks := append([]destroyHook(nil), w.hooks...)
	for _, h := range hooks {
		h.fn(id)
	}

	w.entities.Destroy(id)
	return nil
}

// OnDestroy registers fn to run whenever an entity is destroyed, after its
// components are removed but before its id is released. The returned func
// unregisters the hook.
func (w *World) OnDestroy(fn func(EntityId)) (cancel func()) {
	w.nextHookId++
	hookId := w.nextHookId
	w.hooks = append(w.hooks, destroyHook{id: hookId, fn: fn})
	return func() {
		for i, h := range w.hooks {
			if h.id == hookId {
				w.hooks = append(w.hooks[:i], w.hooks[i+1:]...)
				return
			}
		}
	}
}

// Table returns the table for a component, or nil if nothing has been stored
// under it yet.
func (w *World) Table(cid ComponentId) *Table {
	if int(cid) >= len(w.tables) {
		return nil
	}
	return w.tables[cid]
}

func (w *World) tableFor(cid ComponentId) (*Table, error) {
	if t := w.Table(cid); t != nil {
		return t, nil
	}
	schema, ok := w.registry.Schema(cid)
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "component id %d", cid)
	}
	for int(cid) >= len(w.tables) {
		w.tables = append(w.tables, nil)
	}
	t := newTable(cid, schema)
	w.tables[cid] = t
	return t, nil
}

// Lookup resolves a component id by name.
func (w *World) Lookup(name string) (ComponentId, error) {
	cid, ok := w.registry.Lookup(name)
	if !ok {
		return 0, eris.Wrapf(ErrNotFound, "component %q", name)
	}
	return cid, nil
}

// Add attaches a component to a live entity, overwriting any previous value.
func (w *World) Add(id EntityId, cid ComponentId, rec Record) error {
	if !w.entities.IsAlive(id) {
		return eris.Wrapf(ErrNotFound, "entity %s", id)
	}
	t, err := w.tableFor(cid)
	if err != nil {
		return err
	}
	return t.Add(id, rec)
}

// Remove detaches a component. Removing an absent component, or removing from
// a dead entity, is a no-op.
func (w *World) Remove(id EntityId, cid ComponentId) {
	if t := w.Table(cid); t != nil {
		t.Remove(id)
	}
}

// Has reports whether a live entity holds a component.
func (w *World) Has(id EntityId, cid ComponentId) bool {
	t := w.Table(cid)
	return t != nil && t.Has(id)
}

// Get returns a copy of the entity's component fields.
func (w *World) Get(id EntityId, cid ComponentId) (Record, error) {
	t := w.Table(cid)
	if t == nil {
		return nil, eris.Wrapf(ErrNotFound, "entity %s has no component %d", id, cid)
	}
	return t.Get(id)
}

// Components iterates the components held by id in ascending component id
// order.
func (w *World) Components(id EntityId) iter.Seq[*Table] {
	return func(yield func(*Table) bool) {
		for _, t := range w.tables {
			if t != nil && t.Has(id) {
				if !yield(t) {
					return
				}
			}
		}
	}
}
