package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/dshills/plugkit/internal/event"
	"github.com/dshills/plugkit/internal/kv"
	"github.com/dshills/plugkit/internal/logging"
	"github.com/dshills/plugkit/internal/plugin"
	"github.com/dshills/plugkit/internal/plugin/api"
	"github.com/dshills/plugkit/internal/plugin/registry"
	"github.com/dshills/plugkit/internal/plugin/sandbox"
)

// Lifecycle event names.
const (
	EventInstalled   = "plugin:installed"
	EventLoaded      = "plugin:loaded"
	EventUnloaded    = "plugin:unloaded"
	EventUninstalled = "plugin:uninstalled"
	EventUpdated     = "plugin:updated"
	EventError       = "plugin:error"
)

// hostScope is the bus scope of lifecycle events. The colon keeps it
// apart from every valid plugin id.
const hostScope = ":host"

// LifecycleEvent describes one transition.
type LifecycleEvent struct {
	Type    string
	Plugin  string
	Version string
	Err     error
}

// Loader manages plugin lifecycles. It is safe for concurrent use.
type Loader struct {
	registry *registry.Registry
	store    kv.Store
	bus      *event.Bus
	logger   *slog.Logger

	sandboxOpts []sandbox.Option
	apiOpts     []api.Option

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	sessions map[string]*session
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithBus shares an event bus with the host application.
func WithBus(bus *event.Bus) Option {
	return func(l *Loader) {
		l.bus = bus
	}
}

// WithSandboxOptions applies opts to every sandbox the loader creates.
func WithSandboxOptions(opts ...sandbox.Option) Option {
	return func(l *Loader) {
		l.sandboxOpts = append(l.sandboxOpts, opts...)
	}
}

// WithAPIOptions applies opts to every CapabilityAPI the loader creates.
// Host data lives in the loader's store unless opts name another
// DataStore.
func WithAPIOptions(opts ...api.Option) Option {
	return func(l *Loader) {
		l.apiOpts = append(l.apiOpts, opts...)
	}
}

// New creates a loader over reg. Plugin code and storage live in store.
func New(reg *registry.Registry, store kv.Store, opts ...Option) *Loader {
	l := &Loader{
		registry: reg,
		store:    store,
		logger:   slog.Default(),
		locks:    make(map[string]*sync.Mutex),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.apiOpts = append([]api.Option{api.WithDataStore(api.NewKVDataStore(store))}, l.apiOpts...)
	if l.bus == nil {
		l.bus = event.NewBus(event.WithLogger(l.logger))
	}
	l.logger = logging.WithComponent(l.logger, "loader")
	return l
}

// Registry returns the registry the loader persists to.
func (l *Loader) Registry() *registry.Registry { return l.registry }

// Bus returns the event bus plugin events travel on.
func (l *Loader) Bus() *event.Bus { return l.bus }

// Subscribe registers fn for lifecycle events named name, or for all of
// them with event.Wildcard.
func (l *Loader) Subscribe(name string, fn func(context.Context, LifecycleEvent)) (*event.Subscription, error) {
	if fn == nil {
		return nil, event.ErrNilHandler
	}
	return l.bus.Subscribe(hostScope, name, func(ctx context.Context, payload any) {
		if ev, ok := payload.(LifecycleEvent); ok {
			fn(ctx, ev)
		}
	})
}

func (l *Loader) emit(ctx context.Context, name string, p *plugin.Plugin, err error) {
	ev := LifecycleEvent{Type: name, Err: err}
	if p != nil {
		ev.Plugin = p.ID()
		ev.Version = p.Manifest.Version
	}
	l.bus.Publish(ctx, hostScope, name, ev)
}

// lock serializes lifecycle operations on ids. The locks are taken in
// sorted order, so callers may pass a plugin together with its
// dependencies.
func (l *Loader) lock(ids ...string) func() {
	ids = slices.Compact(slices.Sorted(slices.Values(ids)))

	l.mu.Lock()
	held := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		m, ok := l.locks[id]
		if !ok {
			m = &sync.Mutex{}
			l.locks[id] = m
		}
		held = append(held, m)
	}
	l.mu.Unlock()

	for _, m := range held {
		m.Lock()
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// lockWithDependencies locks m's id and every id it depends on, so a
// dependency cannot be uninstalled between the check and the write.
func (l *Loader) lockWithDependencies(m *plugin.Manifest) func() {
	ids := make([]string, 0, len(m.Dependencies)+1)
	ids = append(ids, m.ID)
	for dep := range m.Dependencies {
		ids = append(ids, dep)
	}
	return l.lock(ids...)
}

func (l *Loader) session(id string) *session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions[id]
}

func (l *Loader) setSession(id string, s *session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s == nil {
		delete(l.sessions, id)
		return
	}
	l.sessions[id] = s
}

// IsActive reports whether id has a live sandbox.
func (l *Loader) IsActive(id string) bool {
	return l.session(id) != nil
}

// Active returns the ids of plugins with a live sandbox, sorted.
func (l *Loader) Active() []string {
	l.mu.Lock()
	ids := make([]string, 0, len(l.sessions))
	for id := range l.sessions {
		ids = append(ids, id)
	}
	l.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func codeKey(id string) string {
	return kv.Join("code", id)
}

// Code returns the stored entry-point code of id.
func (l *Loader) Code(ctx context.Context, id string) (string, error) {
	raw, err := l.store.Get(ctx, codeKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return "", fmt.Errorf("plugin %q: code: %w", id, plugin.ErrPluginNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("plugin %q: read code: %w", id, err)
	}
	return string(raw), nil
}

func (l *Loader) pluginLogger(id string) *slog.Logger {
	return logging.WithPlugin(l.logger, id)
}
