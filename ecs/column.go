package ecs

import (
	"unsafe"

	"github.com/rotisserie/eris"
)

// column is one field's storage across all slots of a table.
type column interface {
	grow(n int)
	zero(slot int)
	value(slot int) any
	set(slot int, v any)
	load(slot int, dst unsafe.Pointer)
	store(slot int, src unsafe.Pointer)
}

type typedColumn[E any] struct {
	data []E
}

func (c *typedColumn[E]) grow(n int) {
	if len(c.data) < n {
		c.data = append(c.data, make([]E, n-len(c.data))...)
	}
}

func (c *typedColumn[E]) zero(slot int) {
	var zero E
	c.data[slot] = zero
}

func (c *typedColumn[E]) value(slot int) any {
	return c.data[slot]
}

// set expects v to already hold the column's element type.
func (c *typedColumn[E]) set(slot int, v any) {
	c.data[slot] = v.(E)
}

func (c *typedColumn[E]) load(slot int, dst unsafe.Pointer) {
	*(*E)(dst) = c.data[slot]
}

func (c *typedColumn[E]) store(slot int, src unsafe.Pointer) {
	c.data[slot] = *(*E)(src)
}

func newColumn(kind Kind) column {
	switch kind {
	case KindBool:
		return &typedColumn[bool]{}
	case KindI8:
		return &typedColumn[int8]{}
	case KindI16:
		return &typedColumn[int16]{}
	case KindI32:
		return &typedColumn[int32]{}
	case KindI64:
		return &typedColumn[int64]{}
	case KindU8:
		return &typedColumn[uint8]{}
	case KindU16:
		return &typedColumn[uint16]{}
	case KindU32:
		return &typedColumn[uint32]{}
	case KindU64:
		return &typedColumn[uint64]{}
	case KindF32:
		return &typedColumn[float32]{}
	case KindF64:
		return &typedColumn[float64]{}
	}
	panic("ecs: no column for kind " + kind.String())
}

// Column returns the raw backing slice of one field, indexed by
// EntityId.Index(). Only slots whose entity Has the component hold meaningful
// data. The slice is invalidated by the next Add that grows the table.
func Column[E any](t *Table, field string) ([]E, error) {
	i := t.schema.FieldIndex(field)
	if i < 0 {
		return nil, eris.Wrapf(ErrNotFound, "component %s has no field %q", t.schema.Name, field)
	}
	col, ok := t.columns[i].(*typedColumn[E])
	if !ok {
		var zero E
		return nil, eris.Wrapf(ErrInvalidSignature, "component %s field %q is %s, not %T",
			t.schema.Name, field, t.schema.Fields[i].Kind, zero)
	}
	return col.data, nil
}
