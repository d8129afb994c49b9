package lua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/plugkit/internal/plugin/rpc"
	"github.com/dshills/plugkit/internal/plugin/security"
)

// Unit is an isolated plugin interpreter. All of its state is owned by
// the goroutine running Run.
type Unit struct {
	logger *slog.Logger

	ctx    context.Context
	in     <-chan []byte
	out    chan<- []byte
	L      *lua.LState
	bridge *Bridge

	perms   security.Set
	config  lua.LValue
	exports *lua.LTable

	api       *lua.LTable
	storage   *lua.LTable
	events    *lua.LTable
	log       *lua.LTable
	listeners *lua.LTable
	bind      *lua.LFunction
	eventsFn  *lua.LFunction

	running  *task
	waiting  map[uint64]*task
	backlog  [][]byte
	nextCall uint64
	bootErr  error
}

// task is one request running in its own coroutine.
type task struct {
	reply  uint64 // host request id; 0 means no reply is expected
	co     *lua.LState
	cancel context.CancelFunc
	done   func(values []lua.LValue) (any, error)
}

// UnitOption configures a Unit.
type UnitOption func(*Unit)

// WithLogger sets the logger used for print output and dropped messages.
func WithLogger(logger *slog.Logger) UnitOption {
	return func(u *Unit) {
		u.logger = logger
	}
}

// NewUnit creates a unit. It does nothing until Run is called.
func NewUnit(opts ...UnitOption) *Unit {
	u := &Unit{
		logger:  slog.Default(),
		waiting: make(map[uint64]*task),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Run serves requests from in until ctx is cancelled or in is closed.
// It must be called at most once.
func (u *Unit) Run(ctx context.Context, in <-chan []byte, out chan<- []byte) {
	u.ctx = ctx
	u.in = in
	u.out = out
	u.L = newState(ctx, u.logger)
	u.bridge = NewBridge(u.L)
	defer u.shutdown()

	u.bootErr = u.installSurface()
	if u.bootErr != nil {
		u.logger.Error("plugin unit boot failed", "error", u.bootErr)
	}

	for {
		if len(u.backlog) > 0 {
			raw := u.backlog[0]
			u.backlog = u.backlog[1:]
			u.handle(raw)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-in:
			if !ok {
				return
			}
			u.handle(raw)
		}
	}
}

func (u *Unit) shutdown() {
	for id, t := range u.waiting {
		t.cancel()
		delete(u.waiting, id)
	}
	u.L.Close()
}

func (u *Unit) handle(raw []byte) {
	msg, err := rpc.Decode(raw)
	if err != nil {
		u.logger.Warn("dropping undecodable message", "error", err)
		return
	}

	if u.bootErr != nil && msg.Type != rpc.TypeHostResponse && msg.Type != rpc.TypeEvent {
		u.replyError(msg.ID, u.bootErr.Error())
		return
	}

	switch msg.Type {
	case rpc.TypeInit:
		u.init(msg)
	case rpc.TypeExecute:
		u.execute(msg)
	case rpc.TypeExecuteHook:
		u.executeHook(msg)
	case rpc.TypeCallFunction:
		u.callFunction(msg)
	case rpc.TypeEvent:
		u.dispatchEvent(msg)
	case rpc.TypeHostResponse:
		u.hostResponse(msg)
	default:
		u.replyError(msg.ID, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (u *Unit) init(msg *rpc.Message) {
	names, _ := msg.Data[rpc.KeyPermissions].([]any)
	list := make([]string, 0, len(names))
	for _, n := range names {
		s, _ := n.(string)
		list = append(list, s)
	}
	perms, err := security.ParseSet(list)
	if err != nil {
		u.replyError(msg.ID, err.Error())
		return
	}

	u.perms = perms
	u.config = u.bridge.ToLuaValue(msg.Data[rpc.KeyConfig])
	u.reply(msg.ID, nil)
}

func (u *Unit) execute(msg *rpc.Message) {
	code, _ := msg.Data[rpc.KeyCode].(string)
	chunk, _ := msg.Data[rpc.KeyChunk].(string)
	if chunk == "" {
		chunk = "plugin"
	}

	fn, err := u.L.Load(strings.NewReader(code), chunk)
	if err != nil {
		u.replyError(msg.ID, err.Error())
		return
	}

	// Top-level code receives the context as its chunk vararg: local ctx = ...
	u.start(msg.ID, fn, []lua.LValue{u.hookContext(msg.Data)}, func(values []lua.LValue) (any, error) {
		if len(values) > 0 {
			if t, ok := values[0].(*lua.LTable); ok {
				u.exports = t
			}
		}
		return nil, nil
	})
}

func (u *Unit) executeHook(msg *rpc.Message) {
	name, _ := msg.Data[rpc.KeyName].(string)
	fn := u.export(name)
	if fn == nil {
		u.replyError(msg.ID, fmt.Sprintf("hook %q %s", name, ErrNotExported))
		return
	}

	ctxTable := u.hookContext(msg.Data)
	u.start(msg.ID, fn, []lua.LValue{ctxTable}, u.firstResult)
}

func (u *Unit) callFunction(msg *rpc.Message) {
	name, _ := msg.Data[rpc.KeyName].(string)
	fn := u.export(name)
	if fn == nil {
		u.replyError(msg.ID, fmt.Sprintf("function %q %s", name, ErrNotExported))
		return
	}

	args := make([]lua.LValue, 0, len(msg.Args)+1)
	args = append(args, u.hookContext(msg.Data))
	args = append(args, u.bridge.ToLuaValues(msg.Args)...)
	u.start(msg.ID, fn, args, u.firstResult)
}

func (u *Unit) dispatchEvent(msg *rpc.Message) {
	id := toSubID(msg.Data[rpc.KeySubID])
	entry, ok := u.listeners.RawGetInt(id).(*lua.LTable)
	if !ok {
		return
	}
	fn, ok := entry.RawGetString("fn").(*lua.LFunction)
	if !ok {
		return
	}
	if once, _ := msg.Data[rpc.KeyOnce].(bool); once {
		u.listeners.RawSetInt(id, lua.LNil)
	}

	payload := u.bridge.ToLuaValue(msg.Data[rpc.KeyPayload])
	u.start(0, fn, []lua.LValue{payload}, func([]lua.LValue) (any, error) { return nil, nil })
}

func (u *Unit) hostResponse(msg *rpc.Message) {
	t, ok := u.waiting[msg.ID]
	if !ok {
		return
	}
	delete(u.waiting, msg.ID)

	ok, value := u.outcome(msg)
	u.resume(t, nil, ok, value)
}

// outcome converts a hostResponse into the (ok, value) pair the prelude's
// bound functions expect.
func (u *Unit) outcome(msg *rpc.Message) (lua.LValue, lua.LValue) {
	if msg.Error != "" {
		return lua.LFalse, lua.LString(msg.Error)
	}
	return lua.LTrue, u.bridge.ToLuaValue(msg.Result)
}

// export finds a function in the table returned by the entry point,
// falling back to globals.
func (u *Unit) export(name string) *lua.LFunction {
	if name == "" {
		return nil
	}
	if u.exports != nil {
		if fn, ok := u.exports.RawGetString(name).(*lua.LFunction); ok {
			return fn
		}
	}
	if fn, ok := u.L.GetGlobal(name).(*lua.LFunction); ok {
		return fn
	}
	return nil
}

func (u *Unit) firstResult(values []lua.LValue) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	return u.bridge.ToGoValue(values[0]), nil
}

// start runs fn in a fresh coroutine.
func (u *Unit) start(reply uint64, fn *lua.LFunction, args []lua.LValue, done func([]lua.LValue) (any, error)) {
	co, cancel := u.L.NewThread()
	if cancel == nil {
		cancel = func() {}
	}
	t := &task{reply: reply, co: co, cancel: cancel, done: done}
	u.resume(t, fn, args...)
}

// resume continues t until it finishes or parks on a host call.
func (u *Unit) resume(t *task, fn *lua.LFunction, args ...lua.LValue) {
	prev := u.running
	u.running = t
	state, values, err := u.protectedResume(t, fn, args...)
	u.running = prev

	switch state {
	case lua.ResumeYield:
		// parked in hostCall, which registered t in u.waiting
		return
	case lua.ResumeOK:
		t.cancel()
		result, derr := t.done(values)
		if derr != nil {
			u.replyError(t.reply, derr.Error())
			return
		}
		u.reply(t.reply, result)
	default:
		t.cancel()
		u.replyError(t.reply, errorMessage(err))
	}
}

// protectedResume resumes t.co and turns a Go panic escaping the
// interpreter into a run error.
func (u *Unit) protectedResume(t *task, fn *lua.LFunction, args ...lua.LValue) (state lua.ResumeState, values []lua.LValue, err error) {
	defer func() {
		if r := recover(); r != nil {
			u.L.G.CurrentThread = u.L
			state, values, err = lua.ResumeError, nil, fmt.Errorf("%v", r)
		}
	}()
	state, err, values = u.L.Resume(t.co, fn, args...)
	return state, values, err
}

// hostCall is the Go side of every capability and context function. It is
// called as call(method, ...) and yields until the host responds. When the
// caller cannot yield it blocks the unit instead.
func (u *Unit) hostCall(L *lua.LState) int {
	name := L.CheckString(1)
	method, err := security.ParseMethod(name)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	if err := u.perms.Check(method); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	if u.running == nil {
		L.RaiseError("%s", ErrNoTask.Error())
		return 0
	}

	top := L.GetTop()
	args := make([]any, 0, top-1)
	for i := 2; i <= top; i++ {
		args = append(args, u.bridge.ToGoValue(L.Get(i)))
	}

	u.nextCall++
	id := u.nextCall
	if !u.send(&rpc.Message{ID: id, Type: rpc.TypeHostCall, Method: method.String(), Args: args}) {
		L.RaiseError("%s", ErrShuttingDown.Error())
		return 0
	}
	if yieldable() {
		u.waiting[id] = u.running
		return L.Yield()
	}

	msg, err := u.await(id)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	ok, value := u.outcome(msg)
	L.Push(ok)
	L.Push(value)
	return 2
}

// interpreterLoop prefixes the gopher-lua functions that run Lua bytecode.
const interpreterLoop = "github.com/yuin/gopher-lua.mainLoop"

// yieldable reports whether the running coroutine can suspend here. Lua
// code entered again from Go (pcall, xpcall, table.sort comparators, gsub
// callbacks, metamethods) runs in a nested interpreter loop, and a yield
// from there never returns to the scheduler.
func yieldable() bool {
	pcs := make([]uintptr, 64)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(2, pcs)])
	loops := 0
	for {
		f, more := frames.Next()
		if strings.HasPrefix(f.Function, interpreterLoop) {
			loops++
		}
		if !more || loops > 1 {
			break
		}
	}
	return loops == 1
}

// await reads from the request channel until the host answers call id.
// Everything else received meanwhile is kept for the main loop.
func (u *Unit) await(id uint64) (*rpc.Message, error) {
	for {
		select {
		case <-u.ctx.Done():
			return nil, ErrShuttingDown
		case raw, ok := <-u.in:
			if !ok {
				return nil, ErrShuttingDown
			}
			if msg, err := rpc.Decode(raw); err == nil && msg.Type == rpc.TypeHostResponse && msg.ID == id {
				return msg, nil
			}
			u.backlog = append(u.backlog, raw)
		}
	}
}

func (u *Unit) reply(id uint64, result any) {
	if id == 0 {
		return
	}
	u.send(&rpc.Message{ID: id, Type: rpc.TypeResult, Result: result})
}

func (u *Unit) replyError(id uint64, msg string) {
	if id == 0 {
		u.logger.Warn("plugin listener failed", "error", msg)
		return
	}
	u.send(&rpc.Message{ID: id, Type: rpc.TypeError, Error: msg})
}

func (u *Unit) send(m *rpc.Message) bool {
	raw, err := rpc.Encode(m)
	if err != nil {
		raw, err = rpc.Encode(&rpc.Message{ID: m.ID, Type: rpc.TypeError, Error: err.Error()})
		if err != nil {
			u.logger.Error("cannot encode reply", "error", err)
			return false
		}
	}
	select {
	case u.out <- raw:
		return true
	case <-u.ctx.Done():
		return false
	}
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return apiErr.Object.String()
	}
	return err.Error()
}

func toSubID(v any) int {
	switch n := v.(type) {
	case uint64:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
