package lua

import (
	"context"
	"log/slog"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// safeModules are the libraries require may return.
var safeModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
}

// unsafeGlobals are removed from the base library.
var unsafeGlobals = []string{
	"dofile",     // Load and execute file
	"loadfile",   // Load file as function
	"load",       // Load string as function
	"loadstring", // Load string as function
	"module",
}

// newState creates a sandboxed interpreter bound to ctx. Cancelling ctx
// aborts any running Lua code.
func newState(ctx context.Context, logger *slog.Logger) *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	L.SetContext(ctx)

	openSafeLibraries(L)
	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	installPrint(L, logger)
	installSafeRequire(L)
	return L
}

// openSafeLibraries opens only safe Lua standard libraries. io, os,
// debug, package and coroutine stay closed.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// installPrint sends print output to the unit logger.
func installPrint(L *lua.LState, logger *slog.Logger) {
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		logger.Debug("plugin print", "output", strings.Join(parts, "\t"))
		return 0
	}))
}

// installSafeRequire replaces require with a version that only returns
// already-open safe libraries.
func installSafeRequire(L *lua.LState) {
	L.SetGlobal("require", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !safeModules[name] {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(L.GetGlobal(name))
		return 1
	}))
}
