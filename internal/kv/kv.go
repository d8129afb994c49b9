package kv

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("kv: store closed")

// Store is a flat byte-oriented key-value store.
//
// Keys are arbitrary strings; callers build hierarchical namespaces by
// prefixing keys (for example "registry/<id>"). List returns the keys
// under a prefix in ascending order.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// DeletePrefix removes every key under prefix and returns how many were
// removed.
func DeletePrefix(ctx context.Context, s Store, prefix string) (int, error) {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Join builds a namespaced key from its segments.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}
