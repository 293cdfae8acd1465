// Package script runs user-authored components and systems written in Lua.
//
// A script declares components with component(name, fields) and systems with
// system(name, opts). System tables may define the methods start(world),
// update(world, dt), freeze() and thaw(state); they are called with the
// system table as self, so scripts write them as
//
//	local mover = system("mover", {order = 10})
//
//	function mover:update(world, dt)
//	    local q = world:query("Position", "Velocity")
//	    for _, id in ipairs(q:evaluate()) do
//	        local p, v = world:get(id, "Position"), world:get(id, "Velocity")
//	        world:set(id, "Position", {x = p.x + v.dx * dt, y = p.y + v.dy * dt})
//	    end
//	end
//
// One Engine owns one Lua VM and must be used from a single goroutine.
package script

import (
	"bytes"
	"sort"
	"strings"

	"github.com/plus3/bitwise/ecs"
	"github.com/rotisserie/eris"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// APIVersion is exposed to scripts as the API_VERSION global.
const APIVersion = 1

// ErrScript wraps every error raised by Lua code at runtime.
var ErrScript = eris.New("script error")

// Engine wraps a single gopher-lua VM and the components and systems its
// scripts declared.
type Engine struct {
	vm  *lua.LState
	log *zap.Logger

	schemas []ecs.Schema
	systems []*System
	byName  map[string]*System

	world   *ecs.World
	worldUD *lua.LUserData
	queries map[string]ecs.QueryHandle
	current *System
}

// NewEngine creates a Lua VM with the standard libraries and the bitwise
// globals installed.
func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	vm := lua.NewState()
	e := &Engine{
		vm:     vm,
		log:    log.Named("script"),
		byName: make(map[string]*System),
	}

	vm.SetGlobal("API_VERSION", lua.LNumber(APIVersion))
	vm.SetGlobal("component", vm.NewFunction(e.declareComponent))
	vm.SetGlobal("system", vm.NewFunction(e.declareSystem))
	vm.SetGlobal("log", vm.NewFunction(e.logMessage))
	e.registerTypes()
	return e
}

// Load runs one script chunk. Errors wrap ecs.ErrConfiguration.
func (e *Engine) Load(name string, src []byte) error {
	fn, err := e.vm.Load(bytes.NewReader(src), name)
	if err != nil {
		return eris.Wrapf(ecs.ErrConfiguration, "load %s: %v", name, err)
	}
	e.vm.Push(fn)
	if err := e.vm.PCall(0, 0, nil); err != nil {
		return eris.Wrapf(ecs.ErrConfiguration, "run %s: %v", name, err)
	}
	e.log.Debug("loaded lua script", zap.String("file", name))
	return nil
}

// LoadString is Load for source held in a string.
func (e *Engine) LoadString(name, src string) error {
	return e.Load(name, []byte(src))
}

// Schemas returns the declared components in declaration order.
func (e *Engine) Schemas() []ecs.Schema {
	out := make([]ecs.Schema, len(e.schemas))
	copy(out, e.schemas)
	return out
}

// RegisterComponents registers every declared component with r.
func (e *Engine) RegisterComponents(r *ecs.ComponentRegistry) error {
	for _, schema := range e.schemas {
		if _, err := r.RegisterSchema(schema); err != nil {
			return err
		}
	}
	return nil
}

// Systems returns the declared systems in declaration order.
func (e *Engine) Systems() []*System {
	out := make([]*System, len(e.systems))
	copy(out, e.systems)
	return out
}

// System looks up a declared system by name.
func (e *Engine) System(name string) (*System, bool) {
	s, ok := e.byName[name]
	return s, ok
}

// Close releases the VM. Systems of this engine must not be used afterwards.
func (e *Engine) Close() {
	e.vm.Close()
}

// component(name, fields) accepts either a map of field name to kind, whose
// fields are then sorted by name, or an ordered list of {name, kind} pairs.
func (e *Engine) declareComponent(L *lua.LState) int {
	name := L.CheckString(1)
	fields := L.CheckTable(2)

	schema := ecs.Schema{Name: name}
	if n := fields.Len(); n > 0 {
		for i := 1; i <= n; i++ {
			pair, ok := fields.RawGetInt(i).(*lua.LTable)
			if !ok {
				L.ArgError(2, "field list entries must be {name, kind} pairs")
			}
			schema.Fields = append(schema.Fields, e.parseField(L, name, pair.RawGetInt(1), pair.RawGetInt(2)))
		}
	} else {
		fields.ForEach(func(k, v lua.LValue) {
			schema.Fields = append(schema.Fields, e.parseField(L, name, k, v))
		})
		sort.Slice(schema.Fields, func(i, j int) bool { return schema.Fields[i].Name < schema.Fields[j].Name })
	}

	for i, existing := range e.schemas {
		if existing.Name != name {
			continue
		}
		if !existing.Equal(schema) {
			L.RaiseError("component %s declared twice with different fields", name)
		}
		e.schemas[i] = schema
		return 0
	}
	e.schemas = append(e.schemas, schema)
	return 0
}

func (e *Engine) parseField(L *lua.LState, component string, name, kind lua.LValue) ecs.Field {
	fieldName, ok := name.(lua.LString)
	if !ok {
		L.RaiseError("component %s: field names must be strings, got %s", component, name.Type())
	}
	kindName, ok := kind.(lua.LString)
	if !ok {
		L.RaiseError("component %s: kind of field %s must be a string", component, fieldName)
	}
	k, err := ecs.ParseKind(string(kindName))
	if err != nil {
		L.RaiseError("component %s: %v", component, err)
	}
	return ecs.Field{Name: string(fieldName), Kind: k}
}

// system(name, {order = n}) returns the table holding the system's methods.
func (e *Engine) declareSystem(L *lua.LState) int {
	name := L.CheckString(1)
	opts := L.OptTable(2, nil)
	if _, ok := e.byName[name]; ok {
		L.RaiseError("system %s declared twice", name)
	}

	s := &System{engine: e, name: name, self: L.NewTable()}
	s.self.RawSetString("name", lua.LString(name))
	if opts != nil {
		switch order := opts.RawGetString("order").(type) {
		case *lua.LNilType:
		case lua.LNumber:
			n := int(order)
			if lua.LNumber(n) != order {
				L.ArgError(2, "order must be an integer")
			}
			s.order = &n
		default:
			L.ArgError(2, "order must be a number")
		}
	}

	e.systems = append(e.systems, s)
	e.byName[name] = s
	L.Push(s.self)
	return 1
}

func (e *Engine) logMessage(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	fields := []zap.Field{zap.String("where", strings.TrimSuffix(L.Where(1), ":"))}
	if e.current != nil {
		fields = append(fields, zap.String("system", e.current.name))
	}
	e.log.Info(strings.Join(parts, " "), fields...)
	return 0
}

// bind exposes w to scripts. Rebinding to another world drops cached
// queries.
func (e *Engine) bind(w *ecs.World) {
	if e.world == w {
		return
	}
	e.world = w
	e.queries = make(map[string]ecs.QueryHandle)
	e.worldUD = e.vm.NewUserData()
	e.worldUD.Value = w
	e.vm.SetMetatable(e.worldUD, e.vm.GetTypeMetatable(worldTypeName))
}
