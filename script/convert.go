package script

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/plus3/bitwise/ecs"
	"github.com/rotisserie/eris"
	lua "github.com/yuin/gopher-lua"
)

const maxDepth = 32

// RecordTable converts a component record into a Lua table.
func RecordTable(L *lua.LState, rec ecs.Record) *lua.LTable {
	tbl := L.CreateTable(0, len(rec))
	for k, v := range rec {
		lv, err := toLua(L, v, 0)
		if err != nil {
			continue
		}
		tbl.RawSetString(k, lv)
	}
	return tbl
}

// ToRecord converts a flat Lua table of numbers and booleans into a record.
func ToRecord(tbl *lua.LTable) (ecs.Record, error) {
	rec := ecs.Record{}
	var err error
	tbl.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		name, ok := k.(lua.LString)
		if !ok {
			err = eris.Wrapf(ecs.ErrConfiguration, "component field names must be strings, got %s", k.Type())
			return
		}
		switch v := v.(type) {
		case lua.LNumber:
			rec[string(name)] = number(v)
		case lua.LBool:
			rec[string(name)] = bool(v)
		default:
			err = eris.Wrapf(ecs.ErrConfiguration, "field %s: %s is not a component value", name, v.Type())
		}
	})
	return rec, err
}

// ToState converts a Lua table into a system state. Arrays become []any and
// integral numbers become int64.
func ToState(tbl *lua.LTable) (ecs.State, error) {
	v, err := fromLua(tbl, 0)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, eris.Wrap(ecs.ErrConfiguration, "system state must be a table with string keys")
	}
	return ecs.State(m), nil
}

// FromState converts a system state into a Lua table.
func FromState(L *lua.LState, state ecs.State) (*lua.LTable, error) {
	lv, err := toLua(L, map[string]any(state), 0)
	if err != nil {
		return nil, err
	}
	return lv.(*lua.LTable), nil
}

func number(n lua.LNumber) any {
	f := float64(n)
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

func fromLua(v lua.LValue, depth int) (any, error) {
	if depth > maxDepth {
		return nil, eris.Wrap(ecs.ErrConfiguration, "state nested too deeply")
	}
	switch v := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LNumber:
		return number(v), nil
	case lua.LString:
		return string(v), nil
	case *lua.LTable:
		return tableValue(v, depth)
	}
	return nil, eris.Wrapf(ecs.ErrConfiguration, "%s values cannot be saved", v.Type())
}

func tableValue(tbl *lua.LTable, depth int) (any, error) {
	count := 0
	tbl.ForEach(func(lua.LValue, lua.LValue) { count++ })

	if n := tbl.Len(); n > 0 && n == count {
		list := make([]any, n)
		for i := 1; i <= n; i++ {
			item, err := fromLua(tbl.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			list[i-1] = item
		}
		return list, nil
	}

	m := make(map[string]any, count)
	var err error
	tbl.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		key, ok := k.(lua.LString)
		if !ok {
			err = eris.Wrapf(ecs.ErrConfiguration, "state keys must be strings, got %s %v", k.Type(), k)
			return
		}
		m[string(key)], err = fromLua(v, depth+1)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func toLua(L *lua.LState, v any, depth int) (lua.LValue, error) {
	if depth > maxDepth {
		return lua.LNil, eris.Wrap(ecs.ErrConfiguration, "state nested too deeply")
	}
	switch v := v.(type) {
	case nil:
		return lua.LNil, nil
	case bool:
		return lua.LBool(v), nil
	case string:
		return lua.LString(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return lua.LNil, eris.Wrapf(ecs.ErrConfiguration, "number %s: %v", v, err)
		}
		return lua.LNumber(f), nil
	case []any:
		tbl := L.CreateTable(len(v), 0)
		for _, item := range v {
			lv, err := toLua(L, item, depth+1)
			if err != nil {
				return lua.LNil, err
			}
			tbl.Append(lv)
		}
		return tbl, nil
	case ecs.State:
		return toLua(L, map[string]any(v), depth)
	case ecs.Record:
		return toLua(L, map[string]any(v), depth)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		tbl := L.CreateTable(0, len(v))
		for _, k := range keys {
			lv, err := toLua(L, v[k], depth+1)
			if err != nil {
				return lua.LNil, eris.Wrapf(err, "key %s", k)
			}
			tbl.RawSetString(k, lv)
		}
		return tbl, nil
	}
	if f, ok := toFloat(v); ok {
		return lua.LNumber(f), nil
	}
	return lua.LNil, eris.Wrapf(ecs.ErrConfiguration, "cannot convert %T to a Lua value", v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
