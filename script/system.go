package script

import (
	"fmt"

	"github.com/plus3/bitwise/ecs"
	"github.com/rotisserie/eris"
	lua "github.com/yuin/gopher-lua"
)

// System adapts a Lua system table to ecs.System. Missing methods are
// no-ops.
type System struct {
	engine *Engine
	name   string
	order  *int
	self   *lua.LTable
}

func (s *System) Name() string {
	return s.name
}

func (s *System) String() string {
	return fmt.Sprintf("lua system %s", s.name)
}

// Order returns the order requested by the script, if any.
func (s *System) Order() (int, bool) {
	if s.order == nil {
		return 0, false
	}
	return *s.order, true
}

func (s *System) Start(w *ecs.World) error {
	s.engine.bind(w)
	_, err := s.call("start", 0, s.engine.worldUD)
	return err
}

func (s *System) Update(frame *ecs.UpdateFrame) error {
	s.engine.bind(frame.World)
	_, err := s.call("update", 0, s.engine.worldUD, lua.LNumber(frame.DeltaTime))
	return err
}

// Freeze returns the table produced by the script's freeze method.
func (s *System) Freeze() (ecs.State, error) {
	ret, err := s.call("freeze", 1)
	if err != nil || ret == lua.LNil {
		return nil, err
	}
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, eris.Wrapf(ErrScript, "system %s: freeze returned %s, want a table", s.name, ret.Type())
	}
	state, err := ToState(tbl)
	if err != nil {
		return nil, eris.Wrapf(err, "system %s: freeze", s.name)
	}
	return state, nil
}

// Thaw hands state to the script's thaw method.
func (s *System) Thaw(state ecs.State) error {
	if s.method("thaw") == nil {
		return nil
	}
	tbl, err := FromState(s.engine.vm, state)
	if err != nil {
		return eris.Wrapf(err, "system %s: thaw", s.name)
	}
	_, err = s.call("thaw", 0, tbl)
	return err
}

func (s *System) method(name string) *lua.LFunction {
	fn, _ := s.self.RawGetString(name).(*lua.LFunction)
	return fn
}

// call invokes self:name(args...) and returns its first result when nret is
// 1. A missing method returns LNil.
func (s *System) call(name string, nret int, args ...lua.LValue) (lua.LValue, error) {
	raw := s.self.RawGetString(name)
	if raw == lua.LNil {
		return lua.LNil, nil
	}
	fn, ok := raw.(*lua.LFunction)
	if !ok {
		return lua.LNil, eris.Wrapf(ErrScript, "system %s: %s is a %s, not a function", s.name, name, raw.Type())
	}

	vm := s.engine.vm
	prev := s.engine.current
	s.engine.current = s
	defer func() { s.engine.current = prev }()

	err := vm.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, append([]lua.LValue{s.self}, args...)...)
	if err != nil {
		return lua.LNil, eris.Wrapf(ErrScript, "system %s: %s: %v", s.name, name, err)
	}
	if nret == 0 {
		return lua.LNil, nil
	}
	ret := vm.Get(-1)
	vm.Pop(1)
	return ret, nil
}
