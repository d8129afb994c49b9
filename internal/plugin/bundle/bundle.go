package bundle

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/dshills/plugkit/internal/plugin"
)

// Manifest file names, in lookup order.
const (
	ManifestJSON = "plugin.json"
	ManifestYAML = "plugin.yaml"
)

var (
	// ErrNoManifest is returned when a directory holds no manifest.
	ErrNoManifest = errors.New("bundle: no plugin.json or plugin.yaml")

	// ErrEntryPointEscapes is returned when the entry point resolves
	// outside the bundle directory.
	ErrEntryPointEscapes = errors.New("bundle: entry point escapes bundle directory")

	// ErrDuplicateID is returned by Discover when two bundles share an id.
	ErrDuplicateID = errors.New("bundle: duplicate plugin id")
)

// Bundle is a plugin read from disk.
type Bundle struct {
	Dir      string
	Manifest *plugin.Manifest
	Code     string
	Digest   string // BLAKE3 of Code, hex
}

// ID returns the manifest id.
func (b *Bundle) ID() string { return b.Manifest.ID }

// IsBundle reports whether dir holds a manifest.
func IsBundle(dir string) bool {
	_, err := manifestPath(dir)
	return err == nil
}

func manifestPath(dir string) (string, error) {
	for _, name := range []string{ManifestJSON, ManifestYAML} {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: %w", dir, ErrNoManifest)
}

// Load reads the bundle in dir.
func Load(dir string) (*Bundle, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	path, err := manifestPath(abs)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m *plugin.Manifest
	if filepath.Base(path) == ManifestYAML {
		m, err = ParseYAML(raw)
	} else {
		m, err = plugin.ParseManifest(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	entry, err := resolveEntry(abs, m.EntryPoint)
	if err != nil {
		return nil, err
	}
	code, err := os.ReadFile(entry)
	if err != nil {
		return nil, fmt.Errorf("%s: entry point: %w", abs, err)
	}

	return &Bundle{
		Dir:      abs,
		Manifest: m,
		Code:     string(code),
		Digest:   Digest(code),
	}, nil
}

// ParseYAML decodes a YAML manifest and validates it.
func ParseYAML(data []byte) (*plugin.Manifest, error) {
	var m plugin.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &plugin.ValidationError{Field: "manifest", Reason: err.Error()}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// resolveEntry joins entry to dir and rejects results outside dir,
// following symlinks.
func resolveEntry(dir, entry string) (string, error) {
	if filepath.IsAbs(entry) {
		return "", fmt.Errorf("%s: %w: %q is absolute", dir, ErrEntryPointEscapes, entry)
	}
	full := filepath.Join(dir, entry)
	if !within(dir, full) {
		return "", fmt.Errorf("%s: %w: %q", dir, ErrEntryPointEscapes, entry)
	}

	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", err
	}
	realFull, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", fmt.Errorf("%s: entry point: %w", dir, err)
	}
	if !within(realDir, realFull) {
		return "", fmt.Errorf("%s: %w: %q links outside", dir, ErrEntryPointEscapes, entry)
	}
	return realFull, nil
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "."
}

// Digest returns the hex BLAKE3 hash of code.
func Digest(code []byte) string {
	sum := blake3.Sum256(code)
	return hex.EncodeToString(sum[:])
}

// Discover loads every bundle found in paths. A path is either a bundle
// itself or a directory whose immediate subdirectories are bundles;
// subdirectories without a manifest are skipped. Broken bundles do not
// stop the scan: their errors are joined and returned with the bundles
// that loaded, sorted by id.
func Discover(paths ...string) ([]*Bundle, error) {
	var (
		out  []*Bundle
		errs []error
		seen = make(map[string]string)
	)
	add := func(dir string) {
		b, err := Load(dir)
		if err != nil {
			errs = append(errs, err)
			return
		}
		if prev, dup := seen[b.ID()]; dup {
			errs = append(errs, fmt.Errorf("%w: %q in %s and %s", ErrDuplicateID, b.ID(), prev, b.Dir))
			return
		}
		seen[b.ID()] = b.Dir
		out = append(out, b)
	}

	for _, root := range paths {
		if IsBundle(root) {
			add(root)
			continue
		}
		entries, err := os.ReadDir(root)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			dir := filepath.Join(root, e.Name())
			if IsBundle(dir) {
				add(dir)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, errors.Join(errs...)
}
