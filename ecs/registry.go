package ecs

import (
	"reflect"
	"sort"
	"strings"
	"unsafe"

	"github.com/rotisserie/eris"
)

// ComponentId identifies a registered component type within one registry.
type ComponentId uint32

type registeredComponent struct {
	schema  Schema
	goType  reflect.Type
	offsets []uintptr
}

// ComponentRegistry manages component registration for one or more worlds.
// Components are addressed by name so that scripts and snapshots can refer to
// them without Go types.
type ComponentRegistry struct {
	components []registeredComponent
	byName     map[string]ComponentId
	byType     map[reflect.Type]ComponentId
}

// NewComponentRegistry creates a new component registry.
func NewComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{
		byName: make(map[string]ComponentId),
		byType: make(map[reflect.Type]ComponentId),
	}
}

// RegisterComponent registers the struct type T under its type name. Every
// exported field must be a bool or fixed-width numeric; the field name is taken
// from the `ecs:"name"` tag, or the Go field name with its first letter
// lowercased. Panics if T cannot be described as a schema.
func RegisterComponent[T any](r *ComponentRegistry) ComponentId {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if id, ok := r.byType[t]; ok {
		return id
	}

	if t.Kind() != reflect.Struct {
		panic("component type must be a struct: " + t.String())
	}

	schema := Schema{Name: t.Name()}
	offsets := make([]uintptr, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		kind, ok := kindOf(field.Type)
		if !ok {
			panic("unsupported field type " + field.Type.String() + " in component " + t.Name())
		}

		name := field.Tag.Get("ecs")
		if name == "" {
			name = strings.ToLower(field.Name[:1]) + field.Name[1:]
		}
		schema.Fields = append(schema.Fields, Field{Name: name, Kind: kind})
		offsets = append(offsets, field.Offset)
	}

	id, err := r.register(schema)
	if err != nil {
		panic(err.Error())
	}
	r.components[id].goType = t
	r.components[id].offsets = offsets
	r.byType[t] = id
	return id
}

// RegisterSchema registers a component described only by its schema.
// Registering an identical schema twice returns the existing id; a different
// schema under a taken name is a configuration error.
func (r *ComponentRegistry) RegisterSchema(schema Schema) (ComponentId, error) {
	return r.register(schema)
}

func (r *ComponentRegistry) register(schema Schema) (ComponentId, error) {
	if err := schema.validate(); err != nil {
		return 0, err
	}

	if id, ok := r.byName[schema.Name]; ok {
		if r.components[id].schema.Equal(schema) {
			return id, nil
		}
		return 0, eris.Wrapf(ErrConfiguration, "component %s already registered with a different schema", schema.Name)
	}

	fields := make([]Field, len(schema.Fields))
	copy(fields, schema.Fields)
	schema.Fields = fields

	id := ComponentId(len(r.components))
	r.components = append(r.components, registeredComponent{schema: schema})
	r.byName[schema.Name] = id
	return id, nil
}

// Lookup resolves a component id by name.
func (r *ComponentRegistry) Lookup(name string) (ComponentId, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// Schema returns the schema of a registered component.
func (r *ComponentRegistry) Schema(id ComponentId) (Schema, bool) {
	if int(id) >= len(r.components) {
		return Schema{}, false
	}
	return r.components[id].schema, true
}

// Len returns the number of registered components.
func (r *ComponentRegistry) Len() int {
	return len(r.components)
}

// Names returns the registered component names in sorted order.
func (r *ComponentRegistry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ComponentIdOf returns the id T was registered under.
func ComponentIdOf[T any](r *ComponentRegistry) (ComponentId, bool) {
	id, ok := r.byType[reflect.TypeOf((*T)(nil)).Elem()]
	return id, ok
}

// gather copies the table slot into the struct at dst.
func (c *registeredComponent) gather(t *Table, slot int, dst unsafe.Pointer) {
	for i, off := range c.offsets {
		t.columns[i].load(slot, unsafe.Add(dst, off))
	}
}

// scatter copies the struct at src into the table slot.
func (c *registeredComponent) scatter(t *Table, slot int, src unsafe.Pointer) {
	for i, off := range c.offsets {
		t.columns[i].store(slot, unsafe.Add(src, off))
	}
}
