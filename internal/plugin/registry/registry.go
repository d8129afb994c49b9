package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dshills/plugkit/internal/kv"
	"github.com/dshills/plugkit/internal/plugin"
	"github.com/dshills/plugkit/internal/plugin/security"
)

const keyPrefix = "registry/"

// Registry is the set of installed plugins. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	store   kv.Store
	plugins map[string]*plugin.Plugin

	// now is replaceable in tests.
	now func() time.Time
}

// Open loads every persisted record from store.
func Open(ctx context.Context, store kv.Store) (*Registry, error) {
	r := &Registry{
		store:   store,
		plugins: make(map[string]*plugin.Plugin),
		now:     time.Now,
	}

	keys, err := store.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	for _, key := range keys {
		raw, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		var p plugin.Plugin
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		r.plugins[p.ID()] = &p
	}
	return r, nil
}

func recordKey(id string) string {
	return keyPrefix + id
}

// persist writes p. Callers hold r.mu.
func (r *Registry) persist(ctx context.Context, p *plugin.Plugin) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p.ID(), err)
	}
	if err := r.store.Set(ctx, recordKey(p.ID()), raw); err != nil {
		return fmt.Errorf("persist %s: %w", p.ID(), err)
	}
	return nil
}

// Install records a new plugin with status installed. The initial config
// holds the schema defaults.
func (r *Registry) Install(ctx context.Context, m *plugin.Manifest) (*plugin.Plugin, error) {
	if m == nil {
		return nil, plugin.ErrNilManifest
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[m.ID]; exists {
		return nil, fmt.Errorf("plugin %q: %w", m.ID, plugin.ErrAlreadyInstalled)
	}

	now := r.now().UTC()
	p := &plugin.Plugin{
		Manifest:    *m.Clone(),
		Status:      plugin.StatusInstalled,
		InstalledAt: now,
		UpdatedAt:   now,
	}
	if defaults := m.ConfigDefaults(); len(defaults) > 0 {
		p.Config = defaults
	}

	if err := r.persist(ctx, p); err != nil {
		return nil, err
	}
	r.plugins[p.ID()] = p
	return p.Clone(), nil
}

// Uninstall removes the record for id.
func (r *Registry) Uninstall(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plugins[id]; !ok {
		return fmt.Errorf("plugin %q: %w", id, plugin.ErrPluginNotFound)
	}
	if err := r.store.Delete(ctx, recordKey(id)); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	delete(r.plugins, id)
	return nil
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (*plugin.Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[id]
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", id, plugin.ErrPluginNotFound)
	}
	return p.Clone(), nil
}

// Has reports whether id is installed.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plugins[id]
	return ok
}

// List returns every record sorted by id.
func (r *Registry) List() []*plugin.Plugin {
	return r.filter(func(*plugin.Plugin) bool { return true })
}

// ListActive returns the active plugins sorted by id.
func (r *Registry) ListActive() []*plugin.Plugin {
	return r.filter(func(p *plugin.Plugin) bool { return p.Status == plugin.StatusActive })
}

// ListByPermission returns the plugins that declare perm.
func (r *Registry) ListByPermission(perm security.Permission) []*plugin.Plugin {
	return r.filter(func(p *plugin.Plugin) bool { return p.Permissions().Has(perm) })
}

// Search returns the plugins whose name, description or author contains
// text, ignoring case.
func (r *Registry) Search(text string) []*plugin.Plugin {
	needle := strings.ToLower(strings.TrimSpace(text))
	return r.filter(func(p *plugin.Plugin) bool {
		m := p.Manifest
		for _, field := range []string{m.Name, m.Description, m.Author} {
			if strings.Contains(strings.ToLower(field), needle) {
				return true
			}
		}
		return false
	})
}

// Dependents returns the ids of installed plugins that depend on id.
func (r *Registry) Dependents(id string) []string {
	var out []string
	for _, p := range r.filter(func(p *plugin.Plugin) bool {
		_, ok := p.Manifest.Dependencies[id]
		return ok
	}) {
		out = append(out, p.ID())
	}
	return out
}

func (r *Registry) filter(keep func(*plugin.Plugin) bool) []*plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*plugin.Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		if keep(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// UpdateStatus sets the status of id. errMsg is stored only with
// StatusError; any other status clears the stored error.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status plugin.Status, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("plugin %q: unknown status %d", id, status)
	}
	return r.mutate(ctx, id, func(p *plugin.Plugin) error {
		p.Status = status
		if status == plugin.StatusError {
			p.Error = errMsg
		} else {
			p.Error = ""
		}
		return nil
	})
}

// UpdateConfig replaces the config of id after validating it against the
// manifest's config schema.
func (r *Registry) UpdateConfig(ctx context.Context, id string, cfg map[string]any) error {
	return r.mutate(ctx, id, func(p *plugin.Plugin) error {
		if err := p.Manifest.ValidateConfig(cfg); err != nil {
			return fmt.Errorf("plugin %q: %w", id, err)
		}
		p.Config = plugin.CloneConfig(cfg)
		return nil
	})
}

// ValidateUpdate checks that m may replace the installed manifest of id:
// the ids match, m is valid and its version is strictly newer.
func (r *Registry) ValidateUpdate(id string, m *plugin.Manifest) error {
	if m == nil {
		return plugin.ErrNilManifest
	}
	current, err := r.Get(id)
	if err != nil {
		return err
	}
	if m.ID != id {
		return fmt.Errorf("%w: id %q does not match %q", plugin.ErrInvalidUpdate, m.ID, id)
	}
	if err := m.Validate(); err != nil {
		return err
	}
	newer, err := plugin.IsNewer(current.Manifest.Version, m.Version)
	if err != nil {
		return fmt.Errorf("%w: %v", plugin.ErrInvalidUpdate, err)
	}
	if !newer {
		return fmt.Errorf("%w: version %s is not newer than %s",
			plugin.ErrInvalidUpdate, m.Version, current.Manifest.Version)
	}
	return nil
}

// UpdateManifest replaces the manifest of id. Config keys the new schema
// rejects are reset to the schema defaults.
func (r *Registry) UpdateManifest(ctx context.Context, id string, m *plugin.Manifest) error {
	if err := r.ValidateUpdate(id, m); err != nil {
		return err
	}
	return r.mutate(ctx, id, func(p *plugin.Plugin) error {
		p.Manifest = *m.Clone()
		if err := p.Manifest.ValidateConfig(p.Config); err != nil {
			p.Config = p.Manifest.ConfigDefaults()
		}
		return nil
	})
}

// mutate applies fn to a copy of the record, persists the copy and only
// then swaps it into the mirror.
func (r *Registry) mutate(ctx context.Context, id string, fn func(*plugin.Plugin) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.plugins[id]
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, plugin.ErrPluginNotFound)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.UpdatedAt = r.now().UTC()

	if err := r.persist(ctx, next); err != nil {
		return err
	}
	r.plugins[id] = next
	return nil
}
