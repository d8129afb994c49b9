package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/plugkit/internal/codec"
	"github.com/dshills/plugkit/internal/kv"
	"github.com/dshills/plugkit/internal/plugin/rpc"
	"github.com/dshills/plugkit/internal/plugin/security"
)

// ErrInvalidKey is returned for empty keys.
var ErrInvalidKey = errors.New("storage: key must be a non-empty string")

// Storage is one plugin's view of the store.
type Storage struct {
	store  kv.Store
	id     string
	prefix string
}

// Prefix returns the namespace that holds pluginID's keys.
func Prefix(pluginID string) string {
	return kv.Join("plugin", pluginID) + "/"
}

// New returns the storage namespace for pluginID.
func New(store kv.Store, pluginID string) *Storage {
	return &Storage{
		store:  store,
		id:     pluginID,
		prefix: Prefix(pluginID),
	}
}

// PluginID returns the owning plugin id.
func (s *Storage) PluginID() string { return s.id }

// Get returns the value stored under key. The second result is false
// when the key is absent.
func (s *Storage) Get(ctx context.Context, key string) (any, bool, error) {
	if key == "" {
		return nil, false, ErrInvalidKey
	}
	raw, err := s.store.Get(ctx, s.prefix+key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage get %q: %w", key, err)
	}

	var v any
	if err := codec.Unmarshal(raw, &v); err != nil {
		return nil, false, fmt.Errorf("storage decode %q: %w", key, err)
	}
	return v, true, nil
}

// Set stores value under key.
func (s *Storage) Set(ctx context.Context, key string, value any) error {
	if key == "" {
		return ErrInvalidKey
	}
	raw, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage encode %q: %w", key, err)
	}
	if err := s.store.Set(ctx, s.prefix+key, raw); err != nil {
		return fmt.Errorf("storage set %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Storage) Remove(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if err := s.store.Delete(ctx, s.prefix+key); err != nil {
		return fmt.Errorf("storage remove %q: %w", key, err)
	}
	return nil
}

// Clear deletes every key of this plugin and returns how many were
// removed.
func (s *Storage) Clear(ctx context.Context) (int, error) {
	n, err := kv.DeletePrefix(ctx, s.store, s.prefix)
	if err != nil {
		return n, fmt.Errorf("storage clear %s: %w", s.id, err)
	}
	return n, nil
}

// Keys returns this plugin's keys, sorted, without the namespace prefix.
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	full, err := s.store.List(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("storage keys %s: %w", s.id, err)
	}
	keys := make([]string, len(full))
	for i, k := range full {
		keys[i] = strings.TrimPrefix(k, s.prefix)
	}
	return keys, nil
}

// Has reports whether key exists.
func (s *Storage) Has(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	_, err := s.store.Get(ctx, s.prefix+key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("storage has %q: %w", key, err)
	}
	return true, nil
}

// Size returns the number of keys this plugin holds.
func (s *Storage) Size(ctx context.Context) (int, error) {
	keys, err := s.store.List(ctx, s.prefix)
	if err != nil {
		return 0, fmt.Errorf("storage size %s: %w", s.id, err)
	}
	return len(keys), nil
}

// Handlers exposes the storage operations as host-call handlers for the
// hook context's storage table.
func (s *Storage) Handlers() map[security.Method]rpc.Handler {
	return map[security.Method]rpc.Handler{
		security.MethodStorageGet: func(ctx context.Context, args []any) (any, error) {
			key, err := keyArg(args)
			if err != nil {
				return nil, err
			}
			v, _, err := s.Get(ctx, key)
			return v, err
		},
		security.MethodStorageSet: func(ctx context.Context, args []any) (any, error) {
			key, err := keyArg(args)
			if err != nil {
				return nil, err
			}
			var value any
			if len(args) > 1 {
				value = args[1]
			}
			return nil, s.Set(ctx, key, value)
		},
		security.MethodStorageRemove: func(ctx context.Context, args []any) (any, error) {
			key, err := keyArg(args)
			if err != nil {
				return nil, err
			}
			return nil, s.Remove(ctx, key)
		},
		security.MethodStorageClear: func(ctx context.Context, _ []any) (any, error) {
			return s.Clear(ctx)
		},
		security.MethodStorageKeys: func(ctx context.Context, _ []any) (any, error) {
			return s.Keys(ctx)
		},
		security.MethodStorageHas: func(ctx context.Context, args []any) (any, error) {
			key, err := keyArg(args)
			if err != nil {
				return nil, err
			}
			return s.Has(ctx, key)
		},
		security.MethodStorageSize: func(ctx context.Context, _ []any) (any, error) {
			return s.Size(ctx)
		},
	}
}

func keyArg(args []any) (string, error) {
	if len(args) == 0 {
		return "", ErrInvalidKey
	}
	key, ok := args[0].(string)
	if !ok || key == "" {
		return "", ErrInvalidKey
	}
	return key, nil
}
