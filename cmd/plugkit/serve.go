package main

import (
	"context"
	"sync"

	"github.com/dshills/plugkit/internal/event"
	"github.com/dshills/plugkit/internal/logging"
	"github.com/dshills/plugkit/internal/plugin"
	"github.com/dshills/plugkit/internal/plugin/bundle"
	"github.com/dshills/plugkit/internal/plugin/loader"
)

func cmdRun(ctx context.Context, h *host, _ []string) error {
	if _, err := h.loader.Subscribe(event.Wildcard, func(_ context.Context, ev loader.LifecycleEvent) {
		if ev.Err != nil {
			h.logger.Warn("plugin lifecycle", "event", ev.Type, "plugin", ev.Plugin, "error", ev.Err)
			return
		}
		h.logger.Debug("plugin lifecycle", "event", ev.Type, "plugin", ev.Plugin, "version", ev.Version)
	}); err != nil {
		return err
	}

	if err := h.loader.Restore(ctx); err != nil {
		h.logger.Warn("some plugins failed to restore", "error", err)
	}
	if h.cfg.Plugins.Autoload {
		syncBundles(ctx, h)
	}

	var wg sync.WaitGroup
	if h.cfg.Plugins.Watch {
		w, err := bundle.NewWatcher(bundle.WithWatcherLogger(logging.WithComponent(h.logger, "watcher")))
		if err != nil {
			return err
		}
		defer func() {
			_ = w.Close()
			wg.Wait()
		}()
		for _, p := range h.cfg.Plugins.Paths {
			if err := w.Add(p); err != nil {
				h.logger.Warn("cannot watch plugin path", "path", p, "error", err)
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			watchBundles(ctx, h, w)
		}()
	}

	h.logger.Info("plugkit running", "active", len(h.loader.Active()), "watch", h.cfg.Plugins.Watch)
	<-ctx.Done()
	h.logger.Info("shutting down")
	return nil
}

// syncBundles installs new bundles from the plugin paths and applies
// changed ones.
func syncBundles(ctx context.Context, h *host) {
	bundles, err := bundle.Discover(h.cfg.Plugins.Paths...)
	if err != nil {
		h.logger.Warn("some bundles could not be read", "error", err)
	}
	for _, b := range bundles {
		if err := applyBundle(ctx, h, b); err != nil {
			h.logger.Error("cannot apply bundle", "dir", b.Dir, "plugin", b.ID(), "error", err)
		}
	}
}

func watchBundles(ctx context.Context, h *host, w *bundle.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			h.logger.Warn("watch error", "error", err)
		case c, ok := <-w.Changes():
			if !ok {
				return
			}
			if c.Removed {
				h.logger.Info("bundle removed; plugin stays installed", "dir", c.Dir)
				continue
			}
			b, err := bundle.Load(c.Dir)
			if err != nil {
				h.logger.Warn("cannot read changed bundle", "dir", c.Dir, "error", err)
				continue
			}
			if err := applyBundle(ctx, h, b); err != nil {
				h.logger.Error("cannot apply bundle", "dir", b.Dir, "plugin", b.ID(), "error", err)
			}
		}
	}
}

// applyBundle brings the installed plugin in line with b: new bundles are
// installed and started, newer versions update the plugin and edited code
// of the same version replaces the stored code.
func applyBundle(ctx context.Context, h *host, b *bundle.Bundle) error {
	cur, err := h.reg.Get(b.ID())
	if err != nil {
		if _, err := h.loader.InstallPlugin(ctx, b.Manifest, b.Code); err != nil {
			return err
		}
		return h.loader.LoadPlugin(ctx, b.ID())
	}

	newer, err := plugin.IsNewer(cur.Manifest.Version, b.Manifest.Version)
	if err != nil {
		return err
	}
	if newer {
		_, err := h.loader.UpdatePlugin(ctx, b.Manifest, b.Code)
		return err
	}
	if cur.Manifest.Version != b.Manifest.Version {
		h.logger.Warn("bundle is older than the installed plugin", "plugin", b.ID(),
			"installed", cur.Manifest.Version, "bundle", b.Manifest.Version)
		return nil
	}

	code, err := h.loader.Code(ctx, b.ID())
	if err != nil {
		return err
	}
	if bundle.Digest([]byte(code)) == b.Digest {
		return nil
	}
	return h.loader.ReplaceCode(ctx, b.ID(), b.Code)
}
