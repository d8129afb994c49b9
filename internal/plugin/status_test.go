package plugin

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusInstalled, "installed"},
		{StatusActive, "active"},
		{StatusInactive, "inactive"},
		{StatusError, "error"},
		{Status(0), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", int(tt.status), got, tt.want)
		}
	}
}

func TestPluginRecordJSON(t *testing.T) {
	p := &Plugin{
		Manifest:    *validManifest(),
		Status:      StatusError,
		InstalledAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Config:      map[string]any{"limit": 3.0},
		Error:       "boom",
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Plugin
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Status != StatusError || got.Error != "boom" || got.ID() != "word-count" {
		t.Errorf("decoded = %+v", got)
	}

	if err := json.Unmarshal([]byte(`{"status":"sleeping"}`), &got); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestPluginClone(t *testing.T) {
	p := &Plugin{
		Manifest: *validManifest(),
		Config:   map[string]any{"nested": map[string]any{"k": "v"}},
	}
	clone := p.Clone()
	clone.Config["nested"].(map[string]any)["k"] = "changed"

	if p.Config["nested"].(map[string]any)["k"] != "v" {
		t.Error("Clone shares nested config")
	}
}
