package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/plugkit/internal/logging"
	"github.com/dshills/plugkit/internal/plugin"
	"github.com/dshills/plugkit/internal/plugin/storage"
)

// InstallPlugin validates m, checks its dependencies and persists the
// record and code. A declared onInstall hook runs in a disposable
// sandbox; if it fails the install is rolled back.
func (l *Loader) InstallPlugin(ctx context.Context, m *plugin.Manifest, code string) (*plugin.Plugin, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return nil, &plugin.ValidationError{Field: "entryPoint", Reason: "code is empty"}
	}

	unlock := l.lockWithDependencies(m)
	defer unlock()

	if l.registry.Has(m.ID) {
		return nil, fmt.Errorf("plugin %q: %w", m.ID, plugin.ErrAlreadyInstalled)
	}
	if err := l.checkDependencies(m); err != nil {
		return nil, err
	}

	p, err := l.registry.Install(ctx, m)
	if err != nil {
		return nil, err
	}
	logger := l.pluginLogger(p.ID())

	err = l.store.Set(ctx, codeKey(p.ID()), []byte(code))
	if err == nil && p.Manifest.HasHook(plugin.HookOnInstall) {
		err = l.runDisposable(ctx, p, code, plugin.HookOnInstall)
	}
	if err != nil {
		if rbErr := l.purge(ctx, p.ID()); rbErr != nil {
			logger.Error("install rollback incomplete", "error", rbErr)
			err = errors.Join(err, rbErr)
		}
		return nil, fmt.Errorf("install %s: %w", p.ID(), err)
	}

	logger.Info("plugin installed", "version", p.Manifest.Version)
	l.emit(logging.NewCtx(ctx, logger), EventInstalled, p, nil)
	return p, nil
}

// checkDependencies verifies every dependency of m is installed at or
// above its minimum version.
func (l *Loader) checkDependencies(m *plugin.Manifest) error {
	for dep, min := range m.Dependencies {
		installed, err := l.registry.Get(dep)
		if err != nil {
			return &plugin.DependencyError{Plugin: m.ID, Dependency: dep, Required: min}
		}
		ok, err := plugin.MeetsMinimum(installed.Manifest.Version, min)
		if err != nil || !ok {
			return &plugin.DependencyError{
				Plugin:     m.ID,
				Dependency: dep,
				Required:   min,
				Found:      installed.Manifest.Version,
			}
		}
	}
	return nil
}

// runDisposable runs code and hook in a sandbox that is destroyed
// afterwards.
func (l *Loader) runDisposable(ctx context.Context, p *plugin.Plugin, code string, hook plugin.Hook) error {
	s := l.newSession(p)
	defer s.close()

	if err := s.sandbox.Execute(ctx, code, p.Config); err != nil {
		return err
	}
	_, err := s.sandbox.ExecuteHook(ctx, string(hook), nil)
	return err
}

// purge deletes the code, the storage namespace and the record of id.
// Every step runs; failures are joined.
func (l *Loader) purge(ctx context.Context, id string) error {
	var errs []error
	if err := l.store.Delete(ctx, codeKey(id)); err != nil {
		errs = append(errs, fmt.Errorf("delete code: %w", err))
	}
	if _, err := storage.New(l.store, id).Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear storage: %w", err))
	}
	if err := l.registry.Uninstall(ctx, id); err != nil && !errors.Is(err, plugin.ErrPluginNotFound) {
		errs = append(errs, fmt.Errorf("remove record: %w", err))
	}
	return errors.Join(errs...)
}

// LoadPlugin starts id. Loading an active plugin is a no-op; a plugin in
// error status must go through ReloadPlugin.
func (l *Loader) LoadPlugin(ctx context.Context, id string) error {
	unlock := l.lock(id)
	defer unlock()
	return l.load(ctx, id)
}

func (l *Loader) load(ctx context.Context, id string) error {
	if l.session(id) != nil {
		return nil
	}
	p, err := l.registry.Get(id)
	if err != nil {
		return err
	}
	if p.Status == plugin.StatusError {
		return &plugin.LifecycleError{Plugin: id, Op: "load", Status: p.Status}
	}
	code, err := l.Code(ctx, id)
	if err != nil {
		return err
	}

	logger := l.pluginLogger(id)
	s := l.newSession(p)
	if err := s.start(ctx, p, code); err != nil {
		s.close()
		return l.fail(ctx, p, fmt.Errorf("load %s: %w", id, err))
	}
	if err := l.registry.UpdateStatus(ctx, id, plugin.StatusActive, ""); err != nil {
		s.close()
		return fmt.Errorf("load %s: %w", id, err)
	}
	l.setSession(id, s)

	logger.Info("plugin loaded", "version", p.Manifest.Version)
	l.emit(logging.NewCtx(ctx, logger), EventLoaded, p, nil)
	return nil
}

// fail records cause as the plugin's error status and returns it.
func (l *Loader) fail(ctx context.Context, p *plugin.Plugin, cause error) error {
	logger := l.pluginLogger(p.ID())
	logger.Error("plugin failed", "error", cause)
	if err := l.registry.UpdateStatus(ctx, p.ID(), plugin.StatusError, cause.Error()); err != nil {
		logger.Error("cannot record error status", "error", err)
		cause = errors.Join(cause, err)
	}
	l.emit(logging.NewCtx(ctx, logger), EventError, p, cause)
	return cause
}

// UnloadPlugin stops id and marks it inactive. Its storage survives.
// Unloading a plugin that is not running is a no-op.
func (l *Loader) UnloadPlugin(ctx context.Context, id string) error {
	unlock := l.lock(id)
	defer unlock()
	return l.unload(ctx, id, plugin.StatusInactive)
}

// unload stops the session of id and, when status is non-zero, records it.
func (l *Loader) unload(ctx context.Context, id string, status plugin.Status) error {
	s := l.session(id)
	if s == nil {
		return nil
	}
	p, err := l.registry.Get(id)
	if err != nil {
		return err
	}
	logger := l.pluginLogger(id)

	if p.Manifest.HasHook(plugin.HookOnDeactivate) {
		if _, err := s.sandbox.ExecuteHook(ctx, string(plugin.HookOnDeactivate), nil); err != nil {
			logger.Warn("onDeactivate failed", "error", err)
		}
	}
	s.close()
	l.setSession(id, nil)

	if status != 0 {
		if err := l.registry.UpdateStatus(ctx, id, status, ""); err != nil {
			return fmt.Errorf("unload %s: %w", id, err)
		}
	}

	logger.Info("plugin unloaded")
	l.emit(logging.NewCtx(ctx, logger), EventUnloaded, p, nil)
	return nil
}

// ReloadPlugin unloads and loads id again. It is the only way out of
// error status.
func (l *Loader) ReloadPlugin(ctx context.Context, id string) error {
	unlock := l.lock(id)
	defer unlock()

	if err := l.unload(ctx, id, plugin.StatusInactive); err != nil {
		return err
	}
	p, err := l.registry.Get(id)
	if err != nil {
		return err
	}
	if p.Status == plugin.StatusError {
		if err := l.registry.UpdateStatus(ctx, id, plugin.StatusInactive, ""); err != nil {
			return fmt.Errorf("reload %s: %w", id, err)
		}
	}
	return l.load(ctx, id)
}

// UninstallPlugin removes id, its code and its storage. It refuses while
// another installed plugin depends on id.
func (l *Loader) UninstallPlugin(ctx context.Context, id string) error {
	unlock := l.lock(id)
	defer unlock()

	p, err := l.registry.Get(id)
	if err != nil {
		return err
	}
	if deps := l.registry.Dependents(id); len(deps) > 0 {
		return &plugin.DependencyError{Plugin: deps[0], Dependency: id, InUse: true}
	}
	if err := l.unload(ctx, id, 0); err != nil {
		return err
	}

	logger := l.pluginLogger(id)
	if p.Manifest.HasHook(plugin.HookOnUninstall) {
		code, err := l.Code(ctx, id)
		if err == nil {
			err = l.runDisposable(ctx, p, code, plugin.HookOnUninstall)
		}
		if err != nil {
			logger.Warn("onUninstall failed", "error", err)
		}
	}

	if err := l.purge(ctx, id); err != nil {
		return fmt.Errorf("uninstall %s: %w", id, err)
	}

	logger.Info("plugin uninstalled")
	l.emit(logging.NewCtx(ctx, logger), EventUninstalled, p, nil)
	return nil
}

// UpdatePlugin replaces the manifest and code of an installed plugin with
// a strictly newer version. An active plugin is restarted on the new
// code.
func (l *Loader) UpdatePlugin(ctx context.Context, m *plugin.Manifest, code string) (*plugin.Plugin, error) {
	if m == nil {
		return nil, plugin.ErrNilManifest
	}
	if strings.TrimSpace(code) == "" {
		return nil, &plugin.ValidationError{Field: "entryPoint", Reason: "code is empty"}
	}

	unlock := l.lockWithDependencies(m)
	defer unlock()

	if err := l.registry.ValidateUpdate(m.ID, m); err != nil {
		return nil, err
	}
	if err := l.checkDependencies(m); err != nil {
		return nil, err
	}
	oldCode, err := l.Code(ctx, m.ID)
	if err != nil {
		return nil, err
	}

	wasActive := l.session(m.ID) != nil
	if err := l.unload(ctx, m.ID, plugin.StatusInactive); err != nil {
		return nil, err
	}

	if err := l.store.Set(ctx, codeKey(m.ID), []byte(code)); err != nil {
		return nil, fmt.Errorf("update %s: store code: %w", m.ID, err)
	}
	if err := l.registry.UpdateManifest(ctx, m.ID, m); err != nil {
		if rbErr := l.store.Set(ctx, codeKey(m.ID), []byte(oldCode)); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return nil, fmt.Errorf("update %s: %w", m.ID, err)
	}

	p, err := l.registry.Get(m.ID)
	if err != nil {
		return nil, err
	}
	logger := l.pluginLogger(m.ID)
	logger.Info("plugin updated", "version", m.Version)
	l.emit(logging.NewCtx(ctx, logger), EventUpdated, p, nil)

	if wasActive {
		if p.Status == plugin.StatusError {
			if err := l.registry.UpdateStatus(ctx, m.ID, plugin.StatusInactive, ""); err != nil {
				return nil, err
			}
		}
		if err := l.load(ctx, m.ID); err != nil {
			return nil, err
		}
		if p, err = l.registry.Get(m.ID); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// UpdateConfig validates and stores cfg for id. When id is active the
// sandbox receives the new config and a declared onConfigChange hook runs
// with it; the hook's return value is returned.
func (l *Loader) UpdateConfig(ctx context.Context, id string, cfg map[string]any) (any, error) {
	unlock := l.lock(id)
	defer unlock()

	if err := l.registry.UpdateConfig(ctx, id, cfg); err != nil {
		return nil, err
	}
	s := l.session(id)
	if s == nil {
		return nil, nil
	}
	p, err := l.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if err := s.sandbox.Reconfigure(ctx, p.Config); err != nil {
		return nil, fmt.Errorf("reconfigure %s: %w", id, err)
	}
	if !p.Manifest.HasHook(plugin.HookOnConfigChange) {
		return nil, nil
	}
	return s.sandbox.ExecuteHook(ctx, string(plugin.HookOnConfigChange), p.Config)
}

// ReplaceCode swaps the stored code of id without a version change, as
// when a bundle is edited in place. An active plugin restarts on the new
// code; one in error status gets a fresh chance to load.
func (l *Loader) ReplaceCode(ctx context.Context, id, code string) error {
	if strings.TrimSpace(code) == "" {
		return &plugin.ValidationError{Field: "entryPoint", Reason: "code is empty"}
	}

	unlock := l.lock(id)
	defer unlock()

	p, err := l.registry.Get(id)
	if err != nil {
		return err
	}
	wasActive := l.session(id) != nil
	if err := l.unload(ctx, id, plugin.StatusInactive); err != nil {
		return err
	}
	if err := l.store.Set(ctx, codeKey(id), []byte(code)); err != nil {
		return fmt.Errorf("replace code of %s: %w", id, err)
	}
	l.pluginLogger(id).Info("plugin code replaced")

	if !wasActive && p.Status != plugin.StatusError {
		return nil
	}
	if p.Status == plugin.StatusError {
		if err := l.registry.UpdateStatus(ctx, id, plugin.StatusInactive, ""); err != nil {
			return err
		}
	}
	return l.load(ctx, id)
}
