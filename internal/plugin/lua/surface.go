package lua

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/plugkit/internal/plugin/rpc"
	"github.com/dshills/plugkit/internal/plugin/security"
)

// installSurface compiles the prelude and builds the api, storage, events
// and logger tables shared by every context the unit hands out.
func (u *Unit) installSurface() error {
	L := u.L

	fn, err := L.LoadString(prelude)
	if err != nil {
		return fmt.Errorf("compile prelude: %w", err)
	}

	u.listeners = L.NewTable()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true}, L.NewFunction(u.hostCall), u.listeners); err != nil {
		return fmt.Errorf("run prelude: %w", err)
	}
	bind, okBind := L.Get(-2).(*lua.LFunction)
	events, okEvents := L.Get(-1).(*lua.LFunction)
	L.Pop(2)
	if !okBind || !okEvents {
		return fmt.Errorf("prelude returned %T, %T", bind, events)
	}
	u.bind = bind
	u.eventsFn = events

	u.api = L.NewTable()
	u.storage = L.NewTable()
	u.log = L.NewTable()

	for _, m := range security.AllMethods() {
		group, name, ok := strings.Cut(m.String(), ".")
		if !ok {
			return fmt.Errorf("malformed method %s", m)
		}

		var target *lua.LTable
		switch {
		case m.Capability():
			sub, ok := u.api.RawGetString(group).(*lua.LTable)
			if !ok {
				sub = L.NewTable()
				u.api.RawSetString(group, sub)
			}
			target = sub
		case group == "storage":
			target = u.storage
		case group == "logger":
			target = u.log
		default:
			continue // events are assembled below
		}

		bound, err := u.bound(m)
		if err != nil {
			return err
		}
		target.RawSetString(name, bound)
	}

	args := make([]lua.LValue, 0, 4)
	for _, m := range []security.Method{
		security.MethodEventsOn,
		security.MethodEventsOnce,
		security.MethodEventsOff,
		security.MethodEventsEmit,
	} {
		bound, err := u.bound(m)
		if err != nil {
			return err
		}
		args = append(args, bound)
	}
	if err := L.CallByParam(lua.P{Fn: u.eventsFn, NRet: 1, Protect: true}, args...); err != nil {
		return fmt.Errorf("build events table: %w", err)
	}
	tbl, ok := L.Get(-1).(*lua.LTable)
	L.Pop(1)
	if !ok {
		return fmt.Errorf("events builder returned %T", tbl)
	}
	u.events = tbl
	return nil
}

// bound returns the prelude wrapper that raises on host errors.
func (u *Unit) bound(m security.Method) (*lua.LFunction, error) {
	L := u.L
	if err := L.CallByParam(lua.P{Fn: u.bind, NRet: 1, Protect: true}, lua.LString(m.String())); err != nil {
		return nil, fmt.Errorf("bind %s: %w", m, err)
	}
	fn, ok := L.Get(-1).(*lua.LFunction)
	L.Pop(1)
	if !ok {
		return nil, fmt.Errorf("bind %s returned %T", m, fn)
	}
	return fn, nil
}

// hookContext builds the table passed to top-level code, hooks and
// exported functions. A config in data overrides the one sent with init.
func (u *Unit) hookContext(data map[string]any) *lua.LTable {
	t := u.L.NewTable()
	t.RawSetString("api", u.api)
	t.RawSetString("storage", u.storage)
	t.RawSetString("events", u.events)
	t.RawSetString("logger", u.log)

	var cfg lua.LValue = lua.LNil
	if v, ok := data[rpc.KeyConfig]; ok {
		cfg = u.bridge.ToLuaValue(v)
	} else if u.config != nil {
		cfg = u.config
	}
	if cfg == lua.LNil {
		cfg = u.L.NewTable()
	}
	t.RawSetString("config", cfg)
	return t
}
