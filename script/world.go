package script

import (
	"errors"
	"math"
	"strings"

	"github.com/plus3/bitwise/ecs"
	lua "github.com/yuin/gopher-lua"
)

const (
	worldTypeName = "bitwise.world"
	queryTypeName = "bitwise.query"
)

type luaQuery struct {
	world  *ecs.World
	handle ecs.QueryHandle
}

func (e *Engine) registerTypes() {
	L := e.vm
	mt := L.NewTypeMetatable(worldTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"query":   e.worldQuery,
		"get":     worldGet,
		"set":     worldSet,
		"add":     worldAdd,
		"remove":  worldRemove,
		"has":     worldHas,
		"create":  worldCreate,
		"destroy": worldDestroy,
		"alive":   worldAlive,
		"frame":   worldFrame,
	}))

	qmt := L.NewTypeMetatable(queryTypeName)
	L.SetField(qmt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"evaluate": queryEvaluate,
	}))
}

func checkWorld(L *lua.LState) *ecs.World {
	ud := L.CheckUserData(1)
	w, ok := ud.Value.(*ecs.World)
	if !ok {
		L.ArgError(1, "world expected")
	}
	return w
}

// Entity ids travel as Lua numbers holding the slot index and the low
// luaGenerationBits of the generation, so they stay exact integers. A number
// resolves to the live occupant of its slot when the folded generations agree.
const luaGenerationBits = 21

const luaGenerationMask = 1<<luaGenerationBits - 1

func luaEntity(id ecs.EntityId) lua.LNumber {
	return lua.LNumber(float64(uint64(id.Generation()&luaGenerationMask)<<32 | uint64(id.Index())))
}

func checkEntity(L *lua.LState, w *ecs.World, n int) ecs.EntityId {
	v := float64(L.CheckNumber(n))
	if v < 0 || v != math.Trunc(v) || v >= 1<<(32+luaGenerationBits) {
		L.ArgError(n, "entity id must be a non-negative integer")
	}
	u := uint64(v)
	index, generation := uint32(u), uint32(u>>32)
	if live, ok := w.Occupant(index); ok && live.Generation()&luaGenerationMask == generation {
		return live
	}
	// Never alive: the occupant, if any, has a different generation.
	return ecs.NewEntityId(index, generation)
}

func pushEntity(L *lua.LState, id ecs.EntityId) {
	L.Push(luaEntity(id))
}

func checkComponent(L *lua.LState, w *ecs.World, n int) ecs.ComponentId {
	cid, err := w.Lookup(L.CheckString(n))
	if err != nil {
		L.ArgError(n, err.Error())
	}
	return cid
}

func raise(L *lua.LState, err error) {
	L.RaiseError("%s", err.Error())
}

// world:query(name, ...) or world:query({name, ...}). Queries are cached per
// calling system, so each system sees enter and exit relative to its own
// previous evaluation.
func (e *Engine) worldQuery(L *lua.LState) int {
	w := checkWorld(L)
	var names []string
	if tbl, ok := L.Get(2).(*lua.LTable); ok {
		for i := 1; i <= tbl.Len(); i++ {
			name, ok := tbl.RawGetInt(i).(lua.LString)
			if !ok {
				L.ArgError(2, "component names must be strings")
			}
			names = append(names, string(name))
		}
	} else {
		for i := 2; i <= L.GetTop(); i++ {
			names = append(names, L.CheckString(i))
		}
	}

	key := strings.Join(names, "\x00")
	if e.current != nil {
		key = e.current.name + "\x01" + key
	}
	h, ok := e.queries[key]
	if !ok || e.world != w {
		var err error
		if h, err = w.DefineNames(names...); err != nil {
			raise(L, err)
		}
		if e.world == w {
			e.queries[key] = h
		}
	}

	ud := L.NewUserData()
	ud.Value = &luaQuery{world: w, handle: h}
	L.SetMetatable(ud, L.GetTypeMetatable(queryTypeName))
	L.Push(ud)
	return 1
}

// q:evaluate() returns the current, entered and exited entity arrays.
func queryEvaluate(L *lua.LState) int {
	ud := L.CheckUserData(1)
	q, ok := ud.Value.(*luaQuery)
	if !ok {
		L.ArgError(1, "query expected")
	}
	res, err := q.world.Evaluate(q.handle)
	if err != nil {
		raise(L, err)
	}
	for _, ids := range [][]ecs.EntityId{res.Current, res.Enter, res.Exit} {
		tbl := L.CreateTable(len(ids), 0)
		for _, id := range ids {
			tbl.Append(luaEntity(id))
		}
		L.Push(tbl)
	}
	return 3
}

// world:get(id, name) returns the component as a table, or nil when absent.
func worldGet(L *lua.LState) int {
	w := checkWorld(L)
	id := checkEntity(L, w, 2)
	cid := checkComponent(L, w, 3)
	rec, err := w.Get(id, cid)
	if errors.Is(err, ecs.ErrNotFound) {
		L.Push(lua.LNil)
		return 1
	}
	if err != nil {
		raise(L, err)
	}
	L.Push(RecordTable(L, rec))
	return 1
}

// world:set(id, name, fields) updates only the given fields of an existing
// component.
func worldSet(L *lua.LState) int {
	w := checkWorld(L)
	id := checkEntity(L, w, 2)
	cid := checkComponent(L, w, 3)
	patch, err := ToRecord(L.CheckTable(4))
	if err != nil {
		raise(L, err)
	}
	rec, err := w.Get(id, cid)
	if err != nil {
		raise(L, err)
	}
	for k, v := range patch {
		rec[k] = v
	}
	if err := w.Add(id, cid, rec); err != nil {
		raise(L, err)
	}
	return 0
}

// world:add(id, name [, fields]) attaches a component, zeroing unset fields.
func worldAdd(L *lua.LState) int {
	w := checkWorld(L)
	id := checkEntity(L, w, 2)
	cid := checkComponent(L, w, 3)
	rec := ecs.Record{}
	if tbl := L.OptTable(4, nil); tbl != nil {
		var err error
		if rec, err = ToRecord(tbl); err != nil {
			raise(L, err)
		}
	}
	if err := w.Add(id, cid, rec); err != nil {
		raise(L, err)
	}
	return 0
}

func worldRemove(L *lua.LState) int {
	w := checkWorld(L)
	w.Remove(checkEntity(L, w, 2), checkComponent(L, w, 3))
	return 0
}

func worldHas(L *lua.LState) int {
	w := checkWorld(L)
	L.Push(lua.LBool(w.Has(checkEntity(L, w, 2), checkComponent(L, w, 3))))
	return 1
}

func worldCreate(L *lua.LState) int {
	pushEntity(L, checkWorld(L).Create())
	return 1
}

// world:destroy(id) returns false when id was not alive.
func worldDestroy(L *lua.LState) int {
	w := checkWorld(L)
	err := w.Destroy(checkEntity(L, w, 2))
	if err != nil && !errors.Is(err, ecs.ErrNotFound) {
		raise(L, err)
	}
	L.Push(lua.LBool(err == nil))
	return 1
}

func worldAlive(L *lua.LState) int {
	w := checkWorld(L)
	L.Push(lua.LBool(w.IsAlive(checkEntity(L, w, 2))))
	return 1
}

func worldFrame(L *lua.LState) int {
	L.Push(lua.LNumber(checkWorld(L).Frame()))
	return 1
}
