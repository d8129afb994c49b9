package plugin

import (
	"time"

	"github.com/dshills/plugkit/internal/plugin/security"
)

// Plugin is the installed record of a plugin.
type Plugin struct {
	Manifest    Manifest       `json:"manifest"`
	Status      Status         `json:"status"`
	InstalledAt time.Time      `json:"installedAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Config      map[string]any `json:"config,omitempty"`

	// Error is set only while Status is StatusError.
	Error string `json:"error,omitempty"`
}

// ID returns the plugin id.
func (p *Plugin) ID() string {
	return p.Manifest.ID
}

// Permissions returns the plugin's declared permission set.
func (p *Plugin) Permissions() security.Set {
	return p.Manifest.PermissionSet()
}

// Clone creates a deep copy of the record.
func (p *Plugin) Clone() *Plugin {
	clone := *p
	clone.Manifest = *p.Manifest.Clone()
	clone.Config = cloneMap(p.Config)
	return &clone
}

// CloneConfig deep-copies a decoded config map.
func CloneConfig(cfg map[string]any) map[string]any {
	return cloneMap(cfg)
}
