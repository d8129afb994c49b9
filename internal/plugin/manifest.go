package plugin

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/dshills/plugkit/internal/plugin/security"
)

// Hook names a lifecycle callback a plugin may export.
type Hook string

// Lifecycle hooks.
const (
	HookOnInstall      Hook = "onInstall"
	HookOnUninstall    Hook = "onUninstall"
	HookOnActivate     Hook = "onActivate"
	HookOnDeactivate   Hook = "onDeactivate"
	HookOnConfigChange Hook = "onConfigChange"
)

// Valid reports whether h is a known lifecycle hook.
func (h Hook) Valid() bool {
	switch h {
	case HookOnInstall, HookOnUninstall, HookOnActivate, HookOnDeactivate, HookOnConfigChange:
		return true
	}
	return false
}

// Manifest describes a plugin's identity, permissions and entry point.
type Manifest struct {
	// Identity
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Author      string `json:"author,omitempty" yaml:"author,omitempty"`
	License     string `json:"license,omitempty" yaml:"license,omitempty"`
	Homepage    string `json:"homepage,omitempty" yaml:"homepage,omitempty"`

	Permissions []security.Permission `json:"permissions" yaml:"permissions"`
	EntryPoint  string                `json:"entryPoint" yaml:"entryPoint"`

	// Dependencies maps plugin id to minimum version.
	Dependencies map[string]string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	Hooks        []Hook          `json:"hooks,omitempty" yaml:"hooks,omitempty"`
	ConfigSchema map[string]any  `json:"configSchema,omitempty" yaml:"configSchema,omitempty"`
	UI           *UIContribution `json:"ui,omitempty" yaml:"ui,omitempty"`
}

// UIContribution declares components and pages the plugin registers.
type UIContribution struct {
	Components []ComponentDecl `json:"components,omitempty" yaml:"components,omitempty"`
	Pages      []PageDecl      `json:"pages,omitempty" yaml:"pages,omitempty"`
}

// ComponentDecl declares a UI component.
type ComponentDecl struct {
	Name string `json:"name" yaml:"name"`
	Slot string `json:"slot,omitempty" yaml:"slot,omitempty"` // e.g. "sidebar", "toolbar"
}

// PageDecl declares a UI page.
type PageDecl struct {
	Path  string `json:"path" yaml:"path"`
	Title string `json:"title" yaml:"title"`
}

// idPattern keeps ids usable as a storage key segment.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ParseManifest decodes a JSON manifest and validates it.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ValidationError{Field: "manifest", Reason: err.Error()}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that the manifest is installable. It returns the first
// problem found as a *ValidationError.
func (m *Manifest) Validate() error {
	if m == nil {
		return ErrNilManifest
	}

	if m.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if !idPattern.MatchString(m.ID) {
		return &ValidationError{Field: "id", Reason: fmt.Sprintf("%q must match %s", m.ID, idPattern)}
	}
	if strings.TrimSpace(m.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if m.Version == "" {
		return &ValidationError{Field: "version", Reason: "is required"}
	}
	if _, err := ParseVersion(m.Version); err != nil {
		return &ValidationError{Field: "version", Reason: fmt.Sprintf("%q is not MAJOR.MINOR.PATCH semver", m.Version)}
	}
	if strings.TrimSpace(m.EntryPoint) == "" {
		return &ValidationError{Field: "entryPoint", Reason: "is required"}
	}

	if len(m.Permissions) == 0 {
		return &ValidationError{Field: "permissions", Reason: "must not be empty"}
	}
	for _, p := range m.Permissions {
		if !p.Valid() {
			return &ValidationError{Field: "permissions", Reason: fmt.Sprintf("unknown permission %v", p)}
		}
	}

	for dep, min := range m.Dependencies {
		if dep == m.ID {
			return &ValidationError{Field: "dependencies", Reason: "a plugin cannot depend on itself"}
		}
		if !idPattern.MatchString(dep) {
			return &ValidationError{Field: "dependencies", Reason: fmt.Sprintf("invalid plugin id %q", dep)}
		}
		if _, err := ParseVersion(min); err != nil {
			return &ValidationError{Field: "dependencies", Reason: fmt.Sprintf("%s: %q is not semver", dep, min)}
		}
	}

	seen := make(map[Hook]bool, len(m.Hooks))
	for _, h := range m.Hooks {
		if !h.Valid() {
			return &ValidationError{Field: "hooks", Reason: fmt.Sprintf("unknown hook %q", h)}
		}
		if seen[h] {
			return &ValidationError{Field: "hooks", Reason: fmt.Sprintf("duplicate hook %q", h)}
		}
		seen[h] = true
	}

	if m.ConfigSchema != nil {
		if _, err := compileSchema(m.ID, m.ConfigSchema); err != nil {
			return &ValidationError{Field: "configSchema", Reason: err.Error()}
		}
	}

	if m.UI != nil {
		if err := m.validateUI(); err != nil {
			return err
		}
	}

	return nil
}

func (m *Manifest) validateUI() error {
	if (len(m.UI.Components) > 0 || len(m.UI.Pages) > 0) && !m.PermissionSet().Has(security.PermModifyUI) {
		return &ValidationError{Field: "ui", Reason: "declaring UI requires the modify-ui permission"}
	}
	for i, c := range m.UI.Components {
		if c.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("ui.components[%d].name", i), Reason: "is required"}
		}
	}
	for i, p := range m.UI.Pages {
		if !strings.HasPrefix(p.Path, "/") {
			return &ValidationError{Field: fmt.Sprintf("ui.pages[%d].path", i), Reason: "must start with /"}
		}
	}
	return nil
}

// PermissionSet returns the declared permissions as a Set.
func (m *Manifest) PermissionSet() security.Set {
	return security.NewSet(m.Permissions...)
}

// HasHook returns true if the plugin declares the hook.
func (m *Manifest) HasHook(h Hook) bool {
	for _, d := range m.Hooks {
		if d == h {
			return true
		}
	}
	return false
}

// String returns a string representation of the manifest.
func (m *Manifest) String() string {
	return fmt.Sprintf("%s v%s", m.ID, m.Version)
}

// Clone creates a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	clone := *m

	if m.Permissions != nil {
		clone.Permissions = append([]security.Permission(nil), m.Permissions...)
	}
	if m.Dependencies != nil {
		clone.Dependencies = make(map[string]string, len(m.Dependencies))
		for k, v := range m.Dependencies {
			clone.Dependencies[k] = v
		}
	}
	if m.Hooks != nil {
		clone.Hooks = append([]Hook(nil), m.Hooks...)
	}
	if m.ConfigSchema != nil {
		clone.ConfigSchema = cloneMap(m.ConfigSchema)
	}
	if m.UI != nil {
		ui := UIContribution{
			Components: append([]ComponentDecl(nil), m.UI.Components...),
			Pages:      append([]PageDecl(nil), m.UI.Pages...),
		}
		clone.UI = &ui
	}

	return &clone
}

// cloneMap deep-copies decoded JSON/YAML/CBOR values.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
