package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/plugkit/internal/plugin/lua"
	"github.com/dshills/plugkit/internal/plugin/rpc"
	"github.com/dshills/plugkit/internal/plugin/security"
)

// DefaultQueueSize is the buffer of each direction of the boundary.
const DefaultQueueSize = 64

// Runner runs an isolated unit until ctx is cancelled or in is closed.
type Runner func(ctx context.Context, in <-chan []byte, out chan<- []byte)

// Sandbox is one plugin's isolated execution unit as seen from the host.
// It is safe for concurrent use.
type Sandbox struct {
	pluginID string
	perms    security.Set
	logger   *slog.Logger

	timeout   time.Duration
	queueSize int
	runner    Runner

	in      chan []byte
	out     chan []byte
	pending *rpc.Pending
	nextID  atomic.Uint64

	mu       sync.RWMutex
	handlers map[security.Method]rpc.Handler

	ctx       context.Context
	cancel    context.CancelFunc
	unitDone  chan struct{}
	destroyed atomic.Bool
	once      sync.Once
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithCallTimeout bounds how long a single call may stay pending. Zero
// disables the timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Sandbox) {
		s.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sandbox) {
		s.logger = logger
	}
}

// WithQueueSize sets the channel buffer of each direction.
func WithQueueSize(n int) Option {
	return func(s *Sandbox) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithRunner replaces the Lua unit.
func WithRunner(r Runner) Option {
	return func(s *Sandbox) {
		s.runner = r
	}
}

// New starts an isolated unit for pluginID bound to perms.
func New(pluginID string, perms security.Set, opts ...Option) *Sandbox {
	s := &Sandbox{
		pluginID:  pluginID,
		perms:     perms,
		logger:    slog.Default(),
		timeout:   security.DefaultLimits().CallTimeout,
		queueSize: DefaultQueueSize,
		pending:   rpc.NewPending(),
		handlers:  make(map[security.Method]rpc.Handler),
		unitDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("plugin", pluginID)
	if s.runner == nil {
		s.runner = lua.NewUnit(lua.WithLogger(s.logger)).Run
	}

	s.in = make(chan []byte, s.queueSize)
	s.out = make(chan []byte, s.queueSize)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	go func() {
		defer close(s.unitDone)
		s.runner(s.ctx, s.in, s.out)
	}()
	go s.readLoop()

	return s
}

// PluginID returns the owning plugin.
func (s *Sandbox) PluginID() string { return s.pluginID }

// Permissions returns the permission set the sandbox enforces.
func (s *Sandbox) Permissions() security.Set { return s.perms }

// Destroyed reports whether Destroy has been called.
func (s *Sandbox) Destroyed() bool { return s.destroyed.Load() }

// Pending returns the number of calls awaiting a reply.
func (s *Sandbox) Pending() int { return s.pending.Len() }

// RegisterHandler installs the host implementation of method.
func (s *Sandbox) RegisterHandler(method security.Method, h rpc.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// RegisterHandlers installs every handler in hs.
func (s *Sandbox) RegisterHandlers(hs map[security.Method]rpc.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for m, h := range hs {
		s.handlers[m] = h
	}
}

// Execute initializes the unit with the permission set and config, then
// runs code as the plugin's entry chunk.
func (s *Sandbox) Execute(ctx context.Context, code string, config map[string]any) error {
	if err := s.Reconfigure(ctx, config); err != nil {
		return err
	}
	_, err := s.call(ctx, "execute", rpc.TypeExecute, map[string]any{
		rpc.KeyCode:  code,
		rpc.KeyChunk: s.pluginID,
	}, nil)
	return err
}

// Reconfigure (re)sends the permission set and the config hooks receive
// by default.
func (s *Sandbox) Reconfigure(ctx context.Context, config map[string]any) error {
	_, err := s.call(ctx, "init", rpc.TypeInit, map[string]any{
		rpc.KeyPermissions: s.perms.Strings(),
		rpc.KeyConfig:      config,
	}, nil)
	return err
}

// ExecuteHook runs the exported hook function name. A non-nil config
// replaces the one given to Execute for this invocation.
func (s *Sandbox) ExecuteHook(ctx context.Context, name string, config map[string]any) (any, error) {
	data := map[string]any{rpc.KeyName: name}
	if config != nil {
		data[rpc.KeyConfig] = config
	}
	return s.call(ctx, "hook "+name, rpc.TypeExecuteHook, data, nil)
}

// CallFunction calls an exported function with args. The function
// receives the hook context as its first argument.
func (s *Sandbox) CallFunction(ctx context.Context, name string, args ...any) (any, error) {
	return s.call(ctx, "call "+name, rpc.TypeCallFunction, map[string]any{rpc.KeyName: name}, args)
}

// Notify delivers payload to the plugin listener subID. No reply is
// expected.
func (s *Sandbox) Notify(ctx context.Context, subID uint64, payload any, once bool) error {
	if s.destroyed.Load() {
		return ErrDestroyed
	}
	return s.send(ctx, &rpc.Message{Type: rpc.TypeEvent, Data: map[string]any{
		rpc.KeySubID:   subID,
		rpc.KeyPayload: payload,
		rpc.KeyOnce:    once,
	}})
}

// Destroy stops the unit and rejects every pending call with
// ErrDestroyed. It is idempotent and returns once the unit has exited.
func (s *Sandbox) Destroy() {
	s.once.Do(func() {
		s.destroyed.Store(true)
		n := s.pending.Close(ErrDestroyed)
		s.cancel()
		<-s.unitDone
		s.logger.Debug("sandbox destroyed", "rejected", n)
	})
}

func (s *Sandbox) call(ctx context.Context, op string, typ rpc.Type, data map[string]any, args []any) (any, error) {
	id := s.nextID.Add(1)
	reply, err := s.pending.Open(id)
	if err != nil {
		return nil, err
	}

	if err := s.send(ctx, &rpc.Message{ID: id, Type: typ, Data: data, Args: args}); err != nil {
		s.pending.Cancel(id)
		return nil, err
	}

	var timeout <-chan time.Time
	if s.timeout > 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-reply:
		var execErr *ExecutionError
		if errors.As(r.Err, &execErr) {
			execErr.Op = op
		}
		return r.Value, r.Err
	case <-timeout:
		s.pending.Cancel(id)
		return nil, fmt.Errorf("%w: %s after %s", ErrCallTimeout, op, s.timeout)
	case <-ctx.Done():
		s.pending.Cancel(id)
		return nil, ctx.Err()
	}
}

func (s *Sandbox) send(ctx context.Context, m *rpc.Message) error {
	raw, err := rpc.Encode(m)
	if err != nil {
		return err
	}
	select {
	case s.in <- raw:
		return nil
	case <-s.ctx.Done():
		return ErrDestroyed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readLoop drains the unit's output. It never writes to the unit's input
// itself, so a busy unit cannot deadlock it.
func (s *Sandbox) readLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case raw := <-s.out:
			msg, err := rpc.Decode(raw)
			if err != nil {
				s.logger.Warn("dropping undecodable unit message", "error", err)
				continue
			}
			s.route(msg)
		}
	}
}

func (s *Sandbox) route(msg *rpc.Message) {
	switch msg.Type {
	case rpc.TypeResult:
		if !s.pending.Settle(msg.ID, rpc.Reply{Value: msg.Result}) {
			s.logger.Debug("late or unknown result", "id", msg.ID)
		}
	case rpc.TypeError:
		execErr := &ExecutionError{Plugin: s.pluginID, Message: msg.Error}
		if !s.pending.Settle(msg.ID, rpc.Reply{Err: execErr}) {
			s.logger.Debug("late or unknown error", "id", msg.ID, "error", msg.Error)
		}
	case rpc.TypeHostCall:
		go s.serveHostCall(msg)
	default:
		s.logger.Warn("unexpected message from unit", "type", string(msg.Type), "id", msg.ID)
	}
}

func (s *Sandbox) serveHostCall(msg *rpc.Message) {
	resp := &rpc.Message{ID: msg.ID, Type: rpc.TypeHostResponse}

	result, err := s.dispatch(msg.Method, msg.Args)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Result = result
	}

	if err := s.send(s.ctx, resp); err != nil && !errors.Is(err, ErrDestroyed) {
		s.logger.Warn("cannot answer host call", "method", msg.Method, "error", err)
	}
}

// dispatch authorizes and runs one host call.
func (s *Sandbox) dispatch(name string, args []any) (result any, err error) {
	method, perr := security.ParseMethod(name)
	if perr != nil {
		return nil, &HostCallError{Method: name, Err: ErrUnknownMethod}
	}
	if err := s.perms.Check(method); err != nil {
		s.logger.Warn("host call denied", "method", name, "error", err)
		return nil, err
	}

	s.mu.RLock()
	h, ok := s.handlers[method]
	s.mu.RUnlock()
	if !ok {
		return nil, &HostCallError{Method: name, Err: ErrNoHandler}
	}

	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("host call handler panicked", "method", name, "panic", r)
			result, err = nil, &HostCallError{Method: name, Err: fmt.Errorf("handler panicked: %v", r)}
		}
	}()

	result, err = h(ctx, args)
	if err != nil {
		s.logger.Debug("host call failed", "method", name, "error", err)
		if !errors.Is(err, security.ErrPermissionDenied) {
			err = &HostCallError{Method: name, Err: err}
		}
	}
	return result, err
}
