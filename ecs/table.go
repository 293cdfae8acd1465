package ecs

import (
	"iter"

	"github.com/rotisserie/eris"
)

// Table is the columnar store of one component type. Slots are indexed by
// entity index; a slot is readable only while its presence bit is set and its
// owner matches the full EntityId being asked about.
type Table struct {
	id      ComponentId
	schema  Schema
	columns []column
	present bitset
	owners  []EntityId
	count   int
}

func newTable(id ComponentId, schema Schema) *Table {
	columns := make([]column, len(schema.Fields))
	for i, f := range schema.Fields {
		columns[i] = newColumn(f.Kind)
	}
	return &Table{
		id:      id,
		schema:  schema,
		columns: columns,
	}
}

// Id returns the component id this table stores.
func (t *Table) Id() ComponentId {
	return t.id
}

// Schema returns the component schema.
func (t *Table) Schema() Schema {
	return t.schema
}

// Len returns the number of entities holding the component.
func (t *Table) Len() int {
	return t.count
}

// Has reports whether id currently holds the component.
func (t *Table) Has(id EntityId) bool {
	index := id.Index()
	return t.present.has(index) && t.owners[index] == id
}

// insert claims the slot for id. Existing data is kept when id already owns
// the slot; otherwise every field is zeroed.
func (t *Table) insert(id EntityId) int {
	slot := int(id.Index())
	if t.Has(id) {
		return slot
	}

	if slot >= len(t.owners) {
		n := max(slot+1, 2*len(t.owners))
		t.owners = append(t.owners, make([]EntityId, n-len(t.owners))...)
		for _, c := range t.columns {
			c.grow(n)
		}
	}

	if !t.present.has(uint32(slot)) {
		t.count++
	}
	t.present.set(uint32(slot))
	t.owners[slot] = id
	for _, c := range t.columns {
		c.zero(slot)
	}
	return slot
}

// Add attaches the component to id, overwriting any previous value. Fields
// missing from rec are zeroed. Nothing is written if rec does not validate.
func (t *Table) Add(id EntityId, rec Record) error {
	values := make([]any, len(t.schema.Fields))
	for name, v := range rec {
		i := t.schema.FieldIndex(name)
		if i < 0 {
			return eris.Wrapf(ErrConfiguration, "component %s has no field %q", t.schema.Name, name)
		}
		converted, err := convertValue(t.schema.Fields[i].Kind, v)
		if err != nil {
			return eris.Wrapf(err, "component %s field %q", t.schema.Name, name)
		}
		values[i] = converted
	}

	slot := t.insert(id)
	for i, c := range t.columns {
		if values[i] == nil {
			c.zero(slot)
			continue
		}
		c.set(slot, values[i])
	}
	return nil
}

// Remove detaches the component from id. Removing an absent component is a
// no-op and returns false.
func (t *Table) Remove(id EntityId) bool {
	if !t.Has(id) {
		return false
	}
	slot := int(id.Index())
	t.present.clear(uint32(slot))
	t.owners[slot] = InvalidEntity
	for _, c := range t.columns {
		c.zero(slot)
	}
	t.count--
	return true
}

// Get returns a copy of id's component fields.
func (t *Table) Get(id EntityId) (Record, error) {
	if !t.Has(id) {
		return nil, eris.Wrapf(ErrNotFound, "entity %s has no %s", id, t.schema.Name)
	}
	slot := int(id.Index())
	rec := make(Record, len(t.schema.Fields))
	for i, f := range t.schema.Fields {
		rec[f.Name] = t.columns[i].value(slot)
	}
	return rec, nil
}

// Field returns a single field of id's component.
func (t *Table) Field(id EntityId, name string) (any, error) {
	if !t.Has(id) {
		return nil, eris.Wrapf(ErrNotFound, "entity %s has no %s", id, t.schema.Name)
	}
	i := t.schema.FieldIndex(name)
	if i < 0 {
		return nil, eris.Wrapf(ErrNotFound, "component %s has no field %q", t.schema.Name, name)
	}
	return t.columns[i].value(int(id.Index())), nil
}

// SetField writes a single field of a component id already holds.
func (t *Table) SetField(id EntityId, name string, v any) error {
	if !t.Has(id) {
		return eris.Wrapf(ErrNotFound, "entity %s has no %s", id, t.schema.Name)
	}
	i := t.schema.FieldIndex(name)
	if i < 0 {
		return eris.Wrapf(ErrConfiguration, "component %s has no field %q", t.schema.Name, name)
	}
	converted, err := convertValue(t.schema.Fields[i].Kind, v)
	if err != nil {
		return eris.Wrapf(err, "component %s field %q", t.schema.Name, name)
	}
	t.columns[i].set(int(id.Index()), converted)
	return nil
}

// Entities iterates holders of the component in ascending index order.
func (t *Table) Entities() iter.Seq[EntityId] {
	return func(yield func(EntityId) bool) {
		for slot := t.present.next(0); slot >= 0; slot = t.present.next(uint32(slot) + 1) {
			if !yield(t.owners[slot]) {
				return
			}
		}
	}
}
