package ecs

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"

	"github.com/rotisserie/eris"
)

// Kind is the storage type of a component field.
type Kind uint8

const (
	KindBool Kind = iota + 1
	KindI8
	KindI16
	KindI32
	KindI64
	KindU8
	KindU16
	KindU32
	KindU64
	KindF32
	KindF64
)

var kindNames = map[Kind]string{
	KindBool: "bool",
	KindI8:   "i8",
	KindI16:  "i16",
	KindI32:  "i32",
	KindI64:  "i64",
	KindU8:   "u8",
	KindU16:  "u16",
	KindU32:  "u32",
	KindU64:  "u64",
	KindF32:  "f32",
	KindF64:  "f64",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "invalid"
}

// ParseKind resolves a kind from its short name ("f32", "u8", "bool", ...).
func ParseKind(name string) (Kind, error) {
	for kind, n := range kindNames {
		if n == name {
			return kind, nil
		}
	}
	return 0, eris.Wrapf(ErrConfiguration, "unknown field kind %q", name)
}

func kindOf(t reflect.Type) (Kind, bool) {
	switch t.Kind() {
	case reflect.Bool:
		return KindBool, true
	case reflect.Int8:
		return KindI8, true
	case reflect.Int16:
		return KindI16, true
	case reflect.Int32:
		return KindI32, true
	case reflect.Int64:
		return KindI64, true
	case reflect.Uint8:
		return KindU8, true
	case reflect.Uint16:
		return KindU16, true
	case reflect.Uint32:
		return KindU32, true
	case reflect.Uint64:
		return KindU64, true
	case reflect.Float32:
		return KindF32, true
	case reflect.Float64:
		return KindF64, true
	}
	return 0, false
}

// Field is a named, typed column of a component.
type Field struct {
	Name string
	Kind Kind
}

// Schema describes the fixed-width record type of one component.
type Schema struct {
	Name   string
	Fields []Field
}

// FieldIndex returns the position of the named field, or -1.
func (s Schema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Equal reports whether both schemas declare the same fields in the same order.
func (s Schema) Equal(other Schema) bool {
	if s.Name != other.Name || len(s.Fields) != len(other.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}

func (s Schema) validate() error {
	if s.Name == "" {
		return eris.Wrap(ErrConfiguration, "component schema without a name")
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return eris.Wrapf(ErrConfiguration, "component %s: unnamed field", s.Name)
		}
		if seen[f.Name] {
			return eris.Wrapf(ErrConfiguration, "component %s: duplicate field %q", s.Name, f.Name)
		}
		if _, ok := kindNames[f.Kind]; !ok {
			return eris.Wrapf(ErrConfiguration, "component %s: field %q has invalid kind", s.Name, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// ValidateRecord checks that every entry of rec names a field of s and holds a
// value convertible to that field's kind.
func (s Schema) ValidateRecord(rec Record) error {
	for name, value := range rec {
		i := s.FieldIndex(name)
		if i < 0 {
			return eris.Wrapf(ErrConfiguration, "component %s has no field %q", s.Name, name)
		}
		if _, err := convertValue(s.Fields[i].Kind, value); err != nil {
			return eris.Wrapf(err, "component %s field %q", s.Name, name)
		}
	}
	return nil
}

// Record is the type-erased form of a component value, keyed by field name.
type Record map[string]any

// State is an opaque per-system snapshot.
type State map[string]any

// convertValue coerces v to the Go type backing kind. Integer kinds reject
// fractional and out-of-range input.
func convertValue(kind Kind, v any) (any, error) {
	if kind == KindBool {
		b, ok := v.(bool)
		if !ok {
			return nil, eris.Wrapf(ErrConfiguration, "expected bool, got %T", v)
		}
		return b, nil
	}

	f, i, u, isFloat, isUnsigned, err := numeric(v)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindF32:
		if isFloat {
			return float32(f), nil
		}
		if isUnsigned {
			return float32(u), nil
		}
		return float32(i), nil
	case KindF64:
		if isFloat {
			return f, nil
		}
		if isUnsigned {
			return float64(u), nil
		}
		return float64(i), nil
	}

	if isFloat {
		if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, eris.Wrapf(ErrConfiguration, "value %v is not an integer", f)
		}
		if f < 0 {
			if f < math.MinInt64 {
				return nil, eris.Wrapf(ErrConfiguration, "value %v out of range for %s", f, kind)
			}
			i = int64(f)
		} else {
			if f >= math.MaxUint64 {
				return nil, eris.Wrapf(ErrConfiguration, "value %v out of range for %s", f, kind)
			}
			u, isUnsigned = uint64(f), true
		}
	}

	if isUnsigned {
		return fromUnsigned(kind, u)
	}
	return fromSigned(kind, i)
}

func fromSigned(kind Kind, i int64) (any, error) {
	if i >= 0 {
		return fromUnsigned(kind, uint64(i))
	}
	switch kind {
	case KindI8:
		if i >= math.MinInt8 {
			return int8(i), nil
		}
	case KindI16:
		if i >= math.MinInt16 {
			return int16(i), nil
		}
	case KindI32:
		if i >= math.MinInt32 {
			return int32(i), nil
		}
	case KindI64:
		return i, nil
	}
	return nil, eris.Wrapf(ErrConfiguration, "value %d out of range for %s", i, kind)
}

func fromUnsigned(kind Kind, u uint64) (any, error) {
	switch kind {
	case KindI8:
		if u <= math.MaxInt8 {
			return int8(u), nil
		}
	case KindI16:
		if u <= math.MaxInt16 {
			return int16(u), nil
		}
	case KindI32:
		if u <= math.MaxInt32 {
			return int32(u), nil
		}
	case KindI64:
		if u <= math.MaxInt64 {
			return int64(u), nil
		}
	case KindU8:
		if u <= math.MaxUint8 {
			return uint8(u), nil
		}
	case KindU16:
		if u <= math.MaxUint16 {
			return uint16(u), nil
		}
	case KindU32:
		if u <= math.MaxUint32 {
			return uint32(u), nil
		}
	case KindU64:
		return u, nil
	}
	return nil, eris.Wrapf(ErrConfiguration, "value %d out of range for %s", u, kind)
}

func numeric(v any) (f float64, i int64, u uint64, isFloat, isUnsigned bool, err error) {
	switch n := v.(type) {
	case float32:
		return float64(n), 0, 0, true, false, nil
	case float64:
		return n, 0, 0, true, false, nil
	case int:
		return 0, int64(n), 0, false, false, nil
	case int8:
		return 0, int64(n), 0, false, false, nil
	case int16:
		return 0, int64(n), 0, false, false, nil
	case int32:
		return 0, int64(n), 0, false, false, nil
	case int64:
		return 0, n, 0, false, false, nil
	case uint:
		return 0, 0, uint64(n), false, true, nil
	case uint8:
		return 0, 0, uint64(n), false, true, nil
	case uint16:
		return 0, 0, uint64(n), false, true, nil
	case uint32:
		return 0, 0, uint64(n), false, true, nil
	case uint64:
		return 0, 0, n, false, true, nil
	case json.Number:
		if i, perr := n.Int64(); perr == nil {
			return 0, i, 0, false, false, nil
		}
		if u, perr := strconv.ParseUint(n.String(), 10, 64); perr == nil {
			return 0, 0, u, false, true, nil
		}
		if f, perr := n.Float64(); perr == nil {
			return f, 0, 0, true, false, nil
		}
		return 0, 0, 0, false, false, eris.Wrapf(ErrConfiguration, "malformed number %q", n.String())
	}
	return 0, 0, 0, false, false, eris.Wrapf(ErrConfiguration, "expected number, got %T", v)
}
