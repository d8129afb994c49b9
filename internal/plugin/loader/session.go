package loader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dshills/plugkit/internal/event"
	"github.com/dshills/plugkit/internal/logging"
	"github.com/dshills/plugkit/internal/plugin"
	"github.com/dshills/plugkit/internal/plugin/api"
	"github.com/dshills/plugkit/internal/plugin/rpc"
	"github.com/dshills/plugkit/internal/plugin/sandbox"
	"github.com/dshills/plugkit/internal/plugin/security"
	"github.com/dshills/plugkit/internal/plugin/storage"
)

// session is everything a running plugin owns on the host side.
type session struct {
	id      string
	sandbox *sandbox.Sandbox
	api     *api.CapabilityAPI
	storage *storage.Storage
	bus     *event.Bus
	logger  *slog.Logger

	mu   sync.Mutex
	subs map[uint64]*event.Subscription // by plugin listener id
}

// newSession builds the sandbox for p and wires every host handler.
func (l *Loader) newSession(p *plugin.Plugin) *session {
	id := p.ID()
	perms := p.Permissions()
	logger := l.pluginLogger(id)

	apiOpts := append([]api.Option{api.WithLogger(logger)}, l.apiOpts...)
	sbOpts := append([]sandbox.Option{sandbox.WithLogger(logger)}, l.sandboxOpts...)

	s := &session{
		id:      id,
		api:     api.New(id, perms, apiOpts...),
		storage: storage.New(l.store, id),
		bus:     l.bus,
		logger:  logger,
		subs:    make(map[uint64]*event.Subscription),
	}
	s.sandbox = sandbox.New(id, perms, sbOpts...)
	s.sandbox.RegisterHandlers(s.api.Handlers())
	s.sandbox.RegisterHandlers(s.storage.Handlers())
	s.sandbox.RegisterHandlers(s.eventHandlers())
	s.sandbox.RegisterHandlers(s.loggerHandlers())
	return s
}

// start executes code and runs onActivate when declared.
func (s *session) start(ctx context.Context, p *plugin.Plugin, code string) error {
	if err := s.sandbox.Execute(ctx, code, p.Config); err != nil {
		return err
	}
	if p.Manifest.HasHook(plugin.HookOnActivate) {
		if _, err := s.sandbox.ExecuteHook(ctx, string(plugin.HookOnActivate), nil); err != nil {
			return err
		}
	}
	return nil
}

// close destroys the sandbox and drops every subscription the plugin
// made.
func (s *session) close() {
	s.sandbox.Destroy()
	s.mu.Lock()
	s.subs = make(map[uint64]*event.Subscription)
	s.mu.Unlock()
	s.bus.UnsubscribeScope(s.id)
}

func (s *session) eventHandlers() map[security.Method]rpc.Handler {
	return map[security.Method]rpc.Handler{
		security.MethodEventsOn: func(_ context.Context, args []any) (any, error) {
			return s.listen(args, false)
		},
		security.MethodEventsOnce: func(_ context.Context, args []any) (any, error) {
			return s.listen(args, true)
		},
		security.MethodEventsOff: func(_ context.Context, args []any) (any, error) {
			lid, err := listenerArg(args, 0)
			if err != nil {
				return nil, err
			}
			s.mu.Lock()
			sub, ok := s.subs[lid]
			delete(s.subs, lid)
			s.mu.Unlock()
			if ok {
				sub.Cancel()
			}
			return ok, nil
		},
		security.MethodEventsEmit: func(ctx context.Context, args []any) (any, error) {
			name, err := nameArg(args)
			if err != nil {
				return nil, err
			}
			var payload any
			if len(args) > 1 {
				payload = args[1]
			}
			return s.bus.Publish(ctx, s.id, name, payload), nil
		},
	}
}

// listen subscribes plugin listener args[1] to event args[0] in the
// plugin's own scope.
func (s *session) listen(args []any, once bool) (any, error) {
	name, err := nameArg(args)
	if err != nil {
		return nil, err
	}
	lid, err := listenerArg(args, 1)
	if err != nil {
		return nil, err
	}

	deliver := func(ctx context.Context, payload any) {
		if once {
			s.mu.Lock()
			delete(s.subs, lid)
			s.mu.Unlock()
		}
		if err := s.sandbox.Notify(ctx, lid, payload, once); err != nil {
			s.logger.Debug("event not delivered", "event", name, "error", err)
		}
	}

	var sub *event.Subscription
	if once {
		sub, err = s.bus.Once(s.id, name, deliver)
	} else {
		sub, err = s.bus.Subscribe(s.id, name, deliver)
	}
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.subs[lid] = sub
	s.mu.Unlock()
	return true, nil
}

func (s *session) loggerHandlers() map[security.Method]rpc.Handler {
	out := make(map[security.Method]rpc.Handler, 5)
	for _, m := range []security.Method{
		security.MethodLoggerLog,
		security.MethodLoggerInfo,
		security.MethodLoggerWarn,
		security.MethodLoggerError,
		security.MethodLoggerDebug,
	} {
		level := logging.PluginLevel(m.String()[len("logger."):])
		out[m] = func(ctx context.Context, args []any) (any, error) {
			if len(args) == 0 {
				return nil, nil
			}
			msg := fmt.Sprint(args[0])
			var attrs []any
			if fields, ok := args[len(args)-1].(map[string]any); ok && len(args) > 1 {
				for k, v := range fields {
					attrs = append(attrs, k, v)
				}
			} else {
				for _, a := range args[1:] {
					attrs = append(attrs, slog.Any("arg", a))
				}
			}
			s.logger.Log(ctx, level, msg, attrs...)
			return nil, nil
		}
	}
	return out
}

func nameArg(args []any) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%w: missing event name", api.ErrInvalidArgument)
	}
	name, ok := args[0].(string)
	if !ok || name == "" {
		return "", fmt.Errorf("%w: event name must be a non-empty string", api.ErrInvalidArgument)
	}
	return name, nil
}

// listenerArg reads a listener id. Ids cross the wire as Lua numbers and
// decode as either signed or unsigned integers.
func listenerArg(args []any, i int) (uint64, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("%w: missing listener id", api.ErrInvalidArgument)
	}
	switch v := args[i].(type) {
	case uint64:
		return v, nil
	case int64:
		if v >= 0 {
			return uint64(v), nil
		}
	case float64:
		if v >= 0 && v == float64(uint64(v)) {
			return uint64(v), nil
		}
	}
	return 0, fmt.Errorf("%w: listener id must be a non-negative integer, got %T", api.ErrInvalidArgument, args[i])
}
