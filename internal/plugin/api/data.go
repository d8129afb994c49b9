package api

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/plugkit/internal/codec"
	"github.com/dshills/plugkit/internal/kv"
	"github.com/dshills/plugkit/internal/plugin/security"
)

// ErrEmptyKey is returned for data operations without a key.
var ErrEmptyKey = errors.New("data key must not be empty")

// DataStore is the host-owned data plugins read and write through
// api.data. Unlike plugin storage it is shared by every plugin holding
// the data permissions.
type DataStore interface {
	// Read returns the value under key; ok is false when it is absent.
	Read(ctx context.Context, key string) (value any, ok bool, err error)
	Write(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// DataAPI implements api.data.
type DataAPI struct {
	api   *CapabilityAPI
	store DataStore
}

// Read returns the value under key, or nil when it is absent.
// Requires read-data.
func (d *DataAPI) Read(ctx context.Context, key string) (any, error) {
	if err := d.api.check(ctx, security.MethodDataRead); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, ErrEmptyKey
	}
	v, _, err := d.store.Read(ctx, key)
	return v, err
}

// Write stores value under key. Requires write-data.
func (d *DataAPI) Write(ctx context.Context, key string, value any) error {
	if err := d.api.check(ctx, security.MethodDataWrite); err != nil {
		return err
	}
	if key == "" {
		return ErrEmptyKey
	}
	return d.store.Write(ctx, key, value)
}

// Delete removes key. Requires write-data.
func (d *DataAPI) Delete(ctx context.Context, key string) error {
	if err := d.api.check(ctx, security.MethodDataDelete); err != nil {
		return err
	}
	if key == "" {
		return ErrEmptyKey
	}
	return d.store.Delete(ctx, key)
}

// DataPrefix is the kv namespace of the host data store.
const DataPrefix = "data/"

// KVDataStore keeps host data in a kv.Store under DataPrefix.
type KVDataStore struct {
	store kv.Store
}

// NewKVDataStore wraps store.
func NewKVDataStore(store kv.Store) *KVDataStore {
	return &KVDataStore{store: store}
}

// Read implements DataStore.
func (s *KVDataStore) Read(ctx context.Context, key string) (any, bool, error) {
	raw, err := s.store.Get(ctx, DataPrefix+key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("data read %q: %w", key, err)
	}
	var v any
	if err := codec.Unmarshal(raw, &v); err != nil {
		return nil, false, fmt.Errorf("data decode %q: %w", key, err)
	}
	return v, true, nil
}

// Write implements DataStore.
func (s *KVDataStore) Write(ctx context.Context, key string, value any) error {
	raw, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("data encode %q: %w", key, err)
	}
	return s.store.Set(ctx, DataPrefix+key, raw)
}

// Delete implements DataStore.
func (s *KVDataStore) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, DataPrefix+key)
}

// MemoryDataStore is an in-process DataStore.
type MemoryDataStore struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewMemoryDataStore creates an empty store.
func NewMemoryDataStore() *MemoryDataStore {
	return &MemoryDataStore{data: make(map[string]any)}
}

// Read implements DataStore.
func (s *MemoryDataStore) Read(_ context.Context, key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

// Write implements DataStore.
func (s *MemoryDataStore) Write(_ context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// Delete implements DataStore.
func (s *MemoryDataStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
