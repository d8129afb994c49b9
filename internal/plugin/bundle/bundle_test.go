package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/plugkit/internal/plugin"
	"github.com/dshills/plugkit/internal/plugin/security"
)

const mainLua = "return { hello = function() return 'hi' end }\n"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// writeBundle creates a JSON bundle for id in dir.
func writeBundle(t *testing.T, dir, id string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, ManifestJSON), fmt.Sprintf(`{
		"id": %q,
		"name": "Plugin %s",
		"version": "1.2.3",
		"permissions": ["read-data"],
		"entryPoint": "main.lua"
	}`, id, id))
	writeFile(t, filepath.Join(dir, "main.lua"), mainLua)
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "greeter")

	b, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "greeter", b.ID())
	assert.Equal(t, "1.2.3", b.Manifest.Version)
	assert.Equal(t, mainLua, b.Code)
	assert.Equal(t, Digest([]byte(mainLua)), b.Digest)
	assert.True(t, filepath.IsAbs(b.Dir))
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ManifestYAML), `
id: reporter
name: Reporter
version: 0.1.0
permissions: [read-data, notifications]
entryPoint: src/init.lua
hooks: [onActivate]
configSchema:
  type: object
  properties:
    limit:
      type: integer
      default: 5
`)
	writeFile(t, filepath.Join(dir, "src", "init.lua"), mainLua)

	b, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "reporter", b.ID())
	assert.True(t, b.Manifest.PermissionSet().Has(security.PermNotifications))
	assert.True(t, b.Manifest.HasHook(plugin.HookOnActivate))
	assert.EqualValues(t, 5, b.Manifest.ConfigDefaults()["limit"])
}

func TestJSONManifestWins(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "from-json")
	writeFile(t, filepath.Join(dir, ManifestYAML), "id: from-yaml\n")

	b, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-json", b.ID())
}

func TestLoadErrors(t *testing.T) {
	t.Run("no manifest", func(t *testing.T) {
		_, err := Load(t.TempDir())
		assert.ErrorIs(t, err, ErrNoManifest)
	})

	t.Run("invalid manifest", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, ManifestJSON), `{"id": "x"}`)
		_, err := Load(dir)
		assert.ErrorIs(t, err, plugin.ErrInvalidManifest)
	})

	t.Run("missing entry file", func(t *testing.T) {
		dir := t.TempDir()
		writeBundle(t, dir, "demo")
		require.NoError(t, os.Remove(filepath.Join(dir, "main.lua")))
		_, err := Load(dir)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	for _, entry := range []string{"../outside.lua", "lib/../../outside.lua", "/etc/passwd"} {
		t.Run("escaping "+entry, func(t *testing.T) {
			root := t.TempDir()
			dir := filepath.Join(root, "bundle")
			writeFile(t, filepath.Join(root, "outside.lua"), mainLua)
			writeFile(t, filepath.Join(dir, ManifestYAML), fmt.Sprintf(
				"id: demo\nname: Demo\nversion: 1.0.0\npermissions: [read-data]\nentryPoint: %q\n", entry))
			_, err := Load(dir)
			assert.ErrorIs(t, err, ErrEntryPointEscapes)
		})
	}
}

func TestSymlinkEscapeRejected(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "bundle")
	writeBundle(t, dir, "demo")
	writeFile(t, filepath.Join(root, "secret.lua"), mainLua)
	require.NoError(t, os.Remove(filepath.Join(dir, "main.lua")))
	if err := os.Symlink(filepath.Join(root, "secret.lua"), filepath.Join(dir, "main.lua")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrEntryPointEscapes)
}

func TestDigest(t *testing.T) {
	assert.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", Digest(nil))
	assert.NotEqual(t, Digest([]byte("a")), Digest([]byte("b")))
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, filepath.Join(root, "zeta"), "zeta")
	writeBundle(t, filepath.Join(root, "alpha"), "alpha")
	writeBundle(t, filepath.Join(root, ".hidden"), "hidden")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "notes"), 0o755))
	writeFile(t, filepath.Join(root, "broken", ManifestJSON), `{`)

	single := t.TempDir()
	writeBundle(t, single, "solo")

	bundles, err := Discover(root, single, filepath.Join(root, "missing"))
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrInvalidManifest)

	ids := make([]string, 0, len(bundles))
	for _, b := range bundles {
		ids = append(ids, b.ID())
	}
	assert.Equal(t, []string{"alpha", "solo", "zeta"}, ids)
}

func TestDiscoverDuplicateID(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeBundle(t, a, "same")
	writeBundle(t, b, "same")

	bundles, err := Discover(a, b)
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Len(t, bundles, 1)
}
