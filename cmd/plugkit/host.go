package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dshills/plugkit/internal/config"
	"github.com/dshills/plugkit/internal/kv"
	"github.com/dshills/plugkit/internal/logging"
	"github.com/dshills/plugkit/internal/plugin/api"
	"github.com/dshills/plugkit/internal/plugin/loader"
	"github.com/dshills/plugkit/internal/plugin/registry"
	"github.com/dshills/plugkit/internal/plugin/sandbox"
)

// host wires the store, registry and loader for one invocation.
type host struct {
	cfg    *config.Config
	logger *slog.Logger
	store  kv.Store
	reg    *registry.Registry
	loader *loader.Loader
	out    io.Writer
}

func openHost(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) (*host, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, stderr)
	if err != nil {
		return nil, err
	}
	ctx = logging.NewCtx(ctx, logger)

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	reg, err := registry.Open(ctx, store)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	limits := cfg.Limits()
	l := loader.New(reg, store,
		loader.WithLogger(logger),
		loader.WithSandboxOptions(
			sandbox.WithCallTimeout(limits.CallTimeout),
			sandbox.WithQueueSize(cfg.Sandbox.QueueSize),
		),
		loader.WithAPIOptions(
			api.WithRenderer(api.LogRenderer{Logger: logging.WithComponent(logger, "ui")}),
			api.WithHostPolicy(cfg.HostPolicy()),
			api.WithLimits(limits),
		),
	)
	return &host{cfg: cfg, logger: logger, store: store, reg: reg, loader: l, out: stdout}, nil
}

func openStore(ctx context.Context, sc config.StorageConfig) (kv.Store, error) {
	switch sc.Driver {
	case config.DriverMemory:
		return kv.NewMemory(), nil
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(sc.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		return kv.OpenSQLite(ctx, sc.Path)
	}
	return nil, fmt.Errorf("unknown storage driver %q", sc.Driver)
}

// Close stops running plugins and closes the store.
func (h *host) Close() error {
	err := h.loader.Shutdown(context.Background())
	return errors.Join(err, h.store.Close())
}
