package loader

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/plugkit/internal/plugin"
)

// DefaultRestoreConcurrency bounds the loads Restore runs at once.
const DefaultRestoreConcurrency = 4

// CallFunction calls the exported function name of an active plugin.
func (l *Loader) CallFunction(ctx context.Context, id, name string, args ...any) (any, error) {
	s := l.session(id)
	if s == nil {
		return nil, l.notActive(id, "call")
	}
	return s.sandbox.CallFunction(ctx, name, args...)
}

// Emit delivers a host event to the listeners id registered for name. It
// returns the number of listeners notified.
func (l *Loader) Emit(ctx context.Context, id, name string, payload any) (int, error) {
	if l.session(id) == nil {
		return 0, l.notActive(id, "emit to")
	}
	if name == "" {
		return 0, fmt.Errorf("emit to %s: empty event name", id)
	}
	return l.bus.Publish(ctx, id, name, payload), nil
}

func (l *Loader) notActive(id, op string) error {
	p, err := l.registry.Get(id)
	if err != nil {
		return err
	}
	return &plugin.LifecycleError{Plugin: id, Op: op, Status: p.Status}
}

// Restore reloads every plugin persisted as active, as after a restart.
// Each is first marked inactive; loads run concurrently and failures
// leave the plugin in error status. The returned error joins every
// failure.
func (l *Loader) Restore(ctx context.Context) error {
	var ids []string
	for _, p := range l.registry.ListActive() {
		if l.IsActive(p.ID()) {
			continue
		}
		if err := l.registry.UpdateStatus(ctx, p.ID(), plugin.StatusInactive, ""); err != nil {
			return fmt.Errorf("restore %s: %w", p.ID(), err)
		}
		ids = append(ids, p.ID())
	}

	errs := make([]error, len(ids))
	var g errgroup.Group
	g.SetLimit(DefaultRestoreConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			errs[i] = l.LoadPlugin(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	if len(ids) > 0 {
		l.logger.Info("plugins restored", "count", len(ids))
	}
	return nil
}

// Shutdown stops every running plugin. Persisted statuses stay active so
// a later Restore brings the same plugins back.
//
// Shutdown ends the loader's working life: afterwards the registry still
// reports those plugins as active although none has a sandbox, so
// ListActive and Active disagree until Restore runs. Callers that keep
// using the loader must call Restore first.
func (l *Loader) Shutdown(ctx context.Context) error {
	var errs []error
	for _, id := range l.Active() {
		unlock := l.lock(id)
		if err := l.unload(ctx, id, 0); err != nil {
			errs = append(errs, err)
		}
		unlock()
	}
	return errors.Join(errs...)
}
