package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/plugkit/internal/kv"
	"github.com/dshills/plugkit/internal/plugin"
	"github.com/dshills/plugkit/internal/plugin/security"
)

func manifest(id, version string, perms ...security.Permission) *plugin.Manifest {
	if len(perms) == 0 {
		perms = []security.Permission{security.PermReadData}
	}
	return &plugin.Manifest{
		ID:          id,
		Name:        "Plugin " + id,
		Version:     version,
		Permissions: perms,
		EntryPoint:  "main.lua",
	}
}

// flakyStore fails writes on demand.
type flakyStore struct {
	kv.Store
	failWrites bool
}

var errDisk = errors.New("disk full")

func (s *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	if s.failWrites {
		return errDisk
	}
	return s.Store.Set(ctx, key, value)
}

func (s *flakyStore) Delete(ctx context.Context, key string) error {
	if s.failWrites {
		return errDisk
	}
	return s.Store.Delete(ctx, key)
}

func open(t *testing.T, store kv.Store) *Registry {
	t.Helper()
	r, err := Open(context.Background(), store)
	require.NoError(t, err)
	return r
}

func TestInstallGetList(t *testing.T) {
	ctx := context.Background()
	r := open(t, kv.NewMemory())

	p, err := r.Install(ctx, manifest("zeta", "1.0.0"))
	require.NoError(t, err)
	assert.Equal(t, plugin.StatusInstalled, p.Status)
	assert.False(t, p.InstalledAt.IsZero())

	_, err = r.Install(ctx, manifest("alpha", "1.0.0"))
	require.NoError(t, err)

	_, err = r.Install(ctx, manifest("zeta", "2.0.0"))
	assert.ErrorIs(t, err, plugin.ErrAlreadyInstalled)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID())
	assert.Equal(t, "zeta", list[1].ID())

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, plugin.ErrPluginNotFound)
}

func TestInstallSeedsConfigDefaults(t *testing.T) {
	m := manifest("cfg", "1.0.0")
	m.ConfigSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"units": map[string]any{"type": "string", "default": "metric"},
		},
	}
	r := open(t, kv.NewMemory())

	p, err := r.Install(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"units": "metric"}, p.Config)
}

func TestGetReturnsClone(t *testing.T) {
	ctx := context.Background()
	r := open(t, kv.NewMemory())
	_, err := r.Install(ctx, manifest("p", "1.0.0"))
	require.NoError(t, err)

	p, _ := r.Get("p")
	p.Status = plugin.StatusError
	p.Manifest.Name = "changed"

	again, _ := r.Get("p")
	assert.Equal(t, plugin.StatusInstalled, again.Status)
	assert.Equal(t, "Plugin p", again.Manifest.Name)
}

func TestReopenRestoresRecords(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	r := open(t, store)

	_, err := r.Install(ctx, manifest("p", "1.2.3", security.PermNetworkAccess))
	require.NoError(t, err)
	require.NoError(t, r.UpdateStatus(ctx, "p", plugin.StatusActive, ""))

	again := open(t, store)
	p, err := again.Get("p")
	require.NoError(t, err)
	assert.Equal(t, plugin.StatusActive, p.Status)
	assert.Equal(t, "1.2.3", p.Manifest.Version)
	assert.True(t, p.Permissions().Has(security.PermNetworkAccess))
}

func TestUpdateStatusClearsError(t *testing.T) {
	ctx := context.Background()
	r := open(t, kv.NewMemory())
	_, err := r.Install(ctx, manifest("p", "1.0.0"))
	require.NoError(t, err)

	require.NoError(t, r.UpdateStatus(ctx, "p", plugin.StatusError, "boom"))
	p, _ := r.Get("p")
	assert.Equal(t, "boom", p.Error)

	require.NoError(t, r.UpdateStatus(ctx, "p", plugin.StatusInactive, "ignored"))
	p, _ = r.Get("p")
	assert.Empty(t, p.Error)
	assert.Equal(t, plugin.StatusInactive, p.Status)

	assert.ErrorIs(t, r.UpdateStatus(ctx, "nope", plugin.StatusActive, ""), plugin.ErrPluginNotFound)
	assert.Error(t, r.UpdateStatus(ctx, "p", plugin.Status(99), ""))
}

func TestWriteFailureLeavesMirrorUnchanged(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: kv.NewMemory()}
	r := open(t, store)
	_, err := r.Install(ctx, manifest("p", "1.0.0"))
	require.NoError(t, err)

	store.failWrites = true

	err = r.UpdateStatus(ctx, "p", plugin.StatusActive, "")
	assert.ErrorIs(t, err, errDisk)
	p, _ := r.Get("p")
	assert.Equal(t, plugin.StatusInstalled, p.Status)

	_, err = r.Install(ctx, manifest("q", "1.0.0"))
	assert.ErrorIs(t, err, errDisk)
	assert.False(t, r.Has("q"))

	assert.ErrorIs(t, r.Uninstall(ctx, "p"), errDisk)
	assert.True(t, r.Has("p"))
}

func TestUninstall(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	r := open(t, store)
	_, err := r.Install(ctx, manifest("p", "1.0.0"))
	require.NoError(t, err)

	require.NoError(t, r.Uninstall(ctx, "p"))
	assert.False(t, r.Has("p"))
	assert.Zero(t, store.Len())
	assert.ErrorIs(t, r.Uninstall(ctx, "p"), plugin.ErrPluginNotFound)
}

func TestUpdateConfigValidatesSchema(t *testing.T) {
	ctx := context.Background()
	m := manifest("p", "1.0.0")
	m.ConfigSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{"type": "integer", "minimum": 1},
		},
		"required": []any{"limit"},
	}
	r := open(t, kv.NewMemory())
	_, err := r.Install(ctx, m)
	require.NoError(t, err)

	require.NoError(t, r.UpdateConfig(ctx, "p", map[string]any{"limit": 5}))
	p, _ := r.Get("p")
	assert.Equal(t, 5, p.Config["limit"])

	err = r.UpdateConfig(ctx, "p", map[string]any{"limit": 0})
	assert.ErrorIs(t, err, plugin.ErrInvalidConfig)
	err = r.UpdateConfig(ctx, "p", map[string]any{})
	assert.ErrorIs(t, err, plugin.ErrInvalidConfig)

	p, _ = r.Get("p")
	assert.Equal(t, 5, p.Config["limit"])
}

func TestSearchAndFilters(t *testing.T) {
	ctx := context.Background()
	r := open(t, kv.NewMemory())

	w := manifest("weather", "1.0.0", security.PermNetworkAccess, security.PermNotifications)
	w.Description = "Shows the FORECAST"
	n := manifest("notes", "1.0.0", security.PermReadData, security.PermWriteData)
	n.Author = "Forecast Labs"
	c := manifest("clock", "1.0.0", security.PermModifyUI)

	for _, m := range []*plugin.Manifest{w, n, c} {
		_, err := r.Install(ctx, m)
		require.NoError(t, err)
	}
	require.NoError(t, r.UpdateStatus(ctx, "clock", plugin.StatusActive, ""))

	ids := func(ps []*plugin.Plugin) []string {
		out := []string{}
		for _, p := range ps {
			out = append(out, p.ID())
		}
		return out
	}

	assert.Equal(t, []string{"notes", "weather"}, ids(r.Search("forecast")))
	assert.Equal(t, []string{"clock"}, ids(r.Search("plugin clock")))
	assert.Equal(t, []string{"weather"}, ids(r.ListByPermission(security.PermNetworkAccess)))
	assert.Equal(t, []string{"clock"}, ids(r.ListActive()))
}

func TestDependents(t *testing.T) {
	ctx := context.Background()
	r := open(t, kv.NewMemory())
	_, err := r.Install(ctx, manifest("base", "1.0.0"))
	require.NoError(t, err)

	child := manifest("child", "1.0.0")
	child.Dependencies = map[string]string{"base": "1.0.0"}
	_, err = r.Install(ctx, child)
	require.NoError(t, err)

	assert.Equal(t, []string{"child"}, r.Dependents("base"))
	assert.Empty(t, r.Dependents("child"))
}

func TestValidateAndApplyUpdate(t *testing.T) {
	ctx := context.Background()
	r := open(t, kv.NewMemory())
	_, err := r.Install(ctx, manifest("p", "1.2.0"))
	require.NoError(t, err)

	assert.ErrorIs(t, r.ValidateUpdate("p", manifest("p", "1.2.0")), plugin.ErrInvalidUpdate)
	assert.ErrorIs(t, r.ValidateUpdate("p", manifest("p", "1.1.9")), plugin.ErrInvalidUpdate)
	assert.ErrorIs(t, r.ValidateUpdate("p", manifest("q", "2.0.0")), plugin.ErrInvalidUpdate)
	assert.ErrorIs(t, r.ValidateUpdate("missing", manifest("missing", "2.0.0")), plugin.ErrPluginNotFound)
	assert.ErrorIs(t, r.ValidateUpdate("p", manifest("p", "v2")), plugin.ErrInvalidManifest)

	next := manifest("p", "1.3.0-beta.1")
	next.Description = "new"
	require.NoError(t, r.UpdateManifest(ctx, "p", next))

	p, _ := r.Get("p")
	assert.Equal(t, "1.3.0-beta.1", p.Manifest.Version)
	assert.Equal(t, "new", p.Manifest.Description)
	assert.Equal(t, plugin.StatusInstalled, p.Status)
}
