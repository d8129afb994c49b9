package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/plugkit/internal/kv"
	"github.com/dshills/plugkit/internal/plugin/security"
)

func TestSetGet(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemory(), "notes")

	require.NoError(t, s.Set(ctx, "draft", map[string]any{"title": "hi", "n": 3}))

	v, ok, err := s.Get(ctx, "draft")
	require.NoError(t, err)
	require.True(t, ok)
	m := v.(map[string]any)
	assert.Equal(t, "hi", m["title"])
	assert.EqualValues(t, 3, m["n"])

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEmptyKeyRejected(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemory(), "notes")

	assert.ErrorIs(t, s.Set(ctx, "", 1), ErrInvalidKey)
	_, _, err := s.Get(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.ErrorIs(t, s.Remove(ctx, ""), ErrInvalidKey)
}

func TestIsolationWithIdenticalKeys(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	a := New(store, "alpha")
	b := New(store, "alpha-two")

	require.NoError(t, a.Set(ctx, "k", "from a"))
	require.NoError(t, b.Set(ctx, "k", "from b"))

	va, _, _ := a.Get(ctx, "k")
	vb, _, _ := b.Get(ctx, "k")
	assert.Equal(t, "from a", va)
	assert.Equal(t, "from b", vb)

	n, err := a.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	has, err := b.Has(ctx, "k")
	require.NoError(t, err)
	assert.True(t, has, "clearing one plugin must not touch another")

	size, err := a.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestKeysHasRemove(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	s := New(store, "p")

	for _, k := range []string{"b", "a", "c"} {
		require.NoError(t, s.Set(ctx, k, k))
	}

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	require.NoError(t, s.Remove(ctx, "b"))
	require.NoError(t, s.Remove(ctx, "b"))
	has, err := s.Has(ctx, "b")
	require.NoError(t, err)
	assert.False(t, has)

	size, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	raw, err := store.Get(ctx, "plugin/p/a")
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
}

func TestHandlers(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemory(), "p")
	h := s.Handlers()

	for _, m := range security.AllMethods() {
		if strings.HasPrefix(m.String(), "storage.") {
			assert.Contains(t, h, m)
		}
	}

	_, err := h[security.MethodStorageSet](ctx, []any{"count", int64(7)})
	require.NoError(t, err)

	v, err := h[security.MethodStorageGet](ctx, []any{"count"})
	require.NoError(t, err)
	assert.EqualValues(t, 7, v)

	has, err := h[security.MethodStorageHas](ctx, []any{"count"})
	require.NoError(t, err)
	assert.Equal(t, true, has)

	keys, err := h[security.MethodStorageKeys](ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"count"}, keys)

	_, err = h[security.MethodStorageGet](ctx, []any{42})
	assert.ErrorIs(t, err, ErrInvalidKey)

	n, err := h[security.MethodStorageClear](ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	store, err := kv.OpenSQLite(ctx, t.TempDir()+"/plugkit.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s := New(store, "p")
	require.NoError(t, s.Set(ctx, "list", []any{"x", "y"}))

	v, ok, err := s.Get(ctx, "list")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []any{"x", "y"}, v)
}
