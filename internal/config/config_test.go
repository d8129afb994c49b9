package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/dshills/plugkit/internal/plugin/security"
)

func noEnv(string) (string, bool) { return "", false }

func envOf(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Sandbox.CallTimeout.Std() != 30*time.Second {
		t.Errorf("call_timeout = %v, want 30s", cfg.Sandbox.CallTimeout.Std())
	}
	if cfg.Storage.Driver != DriverSQLite {
		t.Errorf("driver = %q", cfg.Storage.Driver)
	}
}

func TestParseFullFile(t *testing.T) {
	cfg, err := Parse([]byte(`
[log]
level = "debug"
format = "json"

[storage]
driver = "memory"

[sandbox]
call_timeout = "5s"
queue_size = 8

[network]
allowed_hosts = ["api.example.com", "*.example.org"]
blocked_hosts = ["evil.example.org"]
requests_per_second = 3
max_response_bytes = 2048
timeout = "2s"

[plugins]
paths = ["/srv/plugins", "/opt/plugins"]
watch = true
autoload = false
`))
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Storage.Driver != DriverMemory {
		t.Errorf("driver = %q", cfg.Storage.Driver)
	}
	if cfg.Sandbox.QueueSize != 8 {
		t.Errorf("queue_size = %d", cfg.Sandbox.QueueSize)
	}
	if !reflect.DeepEqual(cfg.Plugins.Paths, []string{"/srv/plugins", "/opt/plugins"}) {
		t.Errorf("paths = %v", cfg.Plugins.Paths)
	}
	if !cfg.Plugins.Watch || cfg.Plugins.Autoload {
		t.Errorf("plugins = %+v", cfg.Plugins)
	}

	limits := cfg.Limits()
	if limits.CallTimeout != 5*time.Second || limits.FetchTimeout != 2*time.Second {
		t.Errorf("limits timeouts = %v, %v", limits.CallTimeout, limits.FetchTimeout)
	}
	if limits.NetworkReqPerSecond != 3 || limits.MaxResponseBytes != 2048 {
		t.Errorf("limits = %+v", limits)
	}

	policy := cfg.HostPolicy()
	if err := policy.Check("api.example.com:443"); err != nil {
		t.Errorf("allowed host rejected: %v", err)
	}
	if err := policy.Check("cdn.example.org"); err != nil {
		t.Errorf("wildcard host rejected: %v", err)
	}
	if err := policy.Check("evil.example.org"); err == nil {
		t.Error("blocked host accepted")
	}
	if err := policy.Check("other.net"); err == nil {
		t.Error("host outside the allow list accepted")
	}
}

func TestParsePartialKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("[log]\nlevel = \"warn\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	if cfg.Log.Level != "warn" {
		t.Errorf("level = %q", cfg.Log.Level)
	}
	if cfg.Log.Format != def.Log.Format || cfg.Sandbox != def.Sandbox {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"syntax", "[log\nlevel = 1"},
		{"bad duration", "[sandbox]\ncall_timeout = \"soon\""},
		{"wrong type", "[sandbox]\nqueue_size = \"many\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Parse() = %v, want *ParseError", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		setting string
	}{
		{"level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"sqlite path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"profile", func(c *Config) { c.Sandbox.Profile = "paranoid" }, "sandbox.profile"},
		{"call timeout", func(c *Config) { c.Sandbox.CallTimeout = -1 }, "sandbox.call_timeout"},
		{"queue", func(c *Config) { c.Sandbox.QueueSize = 0 }, "sandbox.queue_size"},
		{"rate", func(c *Config) { c.Network.RequestsPerSecond = -1 }, "network.requests_per_second"},
		{"max bytes", func(c *Config) { c.Network.MaxResponseBytes = 0 }, "network.max_response_bytes"},
		{"fetch timeout", func(c *Config) { c.Network.Timeout = 0 }, "network.timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrValidationFailed) {
				t.Fatalf("Validate() = %v, want ErrValidationFailed", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Setting != tt.setting {
				t.Errorf("setting = %v, want %s", ve, tt.setting)
			}
		})
	}

	memory := Default()
	memory.Storage = StorageConfig{Driver: DriverMemory}
	if err := memory.Validate(); err != nil {
		t.Errorf("memory driver without path rejected: %v", err)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "debug"

[plugins]
paths = ["/from/file"]
`)
	cfg, err := load(path, envOf(map[string]string{
		"PLUGKIT_LOG_LEVEL":             "error",
		"PLUGKIT_STORAGE_DRIVER":        "MEMORY",
		"PLUGKIT_SANDBOX_CALL_TIMEOUT":  "750ms",
		"PLUGKIT_NETWORK_ALLOWED_HOSTS": "a.example.com, ,b.example.com",
		"PLUGKIT_PLUGINS_PATHS":         "/env/one,/env/two",
		"PLUGKIT_PLUGINS_WATCH":         "yes",
		"PLUGKIT_SANDBOX_PROFILE":       "STRICT",
		"PLUGKIT_PLUGINS_AUTOLOAD":      "0",
	}))
	if err != nil {
		t.Fatalf("load() = %v", err)
	}

	if cfg.Log.Level != "error" {
		t.Errorf("level = %q", cfg.Log.Level)
	}
	if cfg.Storage.Driver != DriverMemory {
		t.Errorf("driver = %q", cfg.Storage.Driver)
	}
	if cfg.Sandbox.CallTimeout.Std() != 750*time.Millisecond {
		t.Errorf("call_timeout = %v", cfg.Sandbox.CallTimeout.Std())
	}
	if cfg.Sandbox.Profile != ProfileStrict {
		t.Errorf("profile = %q", cfg.Sandbox.Profile)
	}
	if !reflect.DeepEqual(cfg.Network.AllowedHosts, []string{"a.example.com", "b.example.com"}) {
		t.Errorf("allowed_hosts = %v", cfg.Network.AllowedHosts)
	}
	if !reflect.DeepEqual(cfg.Plugins.Paths, []string{"/env/one", "/env/two"}) {
		t.Errorf("paths = %v", cfg.Plugins.Paths)
	}
	if !cfg.Plugins.Watch || cfg.Plugins.Autoload {
		t.Errorf("plugins = %+v", cfg.Plugins)
	}
}

func TestLoadBadEnvValue(t *testing.T) {
	path := writeConfig(t, "")
	_, err := load(path, envOf(map[string]string{"PLUGKIT_SANDBOX_QUEUE_SIZE": "lots"}))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("load() = %v, want *ParseError", err)
	}
	if pe.Source != "PLUGKIT_SANDBOX_QUEUE_SIZE" {
		t.Errorf("source = %q", pe.Source)
	}
}

func TestLoadEnvFailsValidation(t *testing.T) {
	path := writeConfig(t, "")
	_, err := load(path, envOf(map[string]string{"PLUGKIT_LOG_FORMAT": "yaml"}))
	if !errors.Is(err, ErrValidationFailed) {
		t.Errorf("load() = %v, want ErrValidationFailed", err)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "absent.toml"), noEnv)
	if !errors.Is(err, ErrFileNotFound) {
		t.Errorf("load() = %v, want ErrFileNotFound", err)
	}
}

func TestEncodeParses(t *testing.T) {
	cfg := Default()
	cfg.Network.AllowedHosts = []string{"api.example.com"}
	data, err := cfg.Encode()
	if err != nil {
		t.Fatal(err)
	}
	back, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse(Encode()) = %v\n%s", err, data)
	}
	if back.Sandbox != cfg.Sandbox || back.Storage != cfg.Storage || back.Log != cfg.Log {
		t.Errorf("Parse(Encode()) = %+v, want %+v", back, cfg)
	}
	if !reflect.DeepEqual(back.Network.AllowedHosts, cfg.Network.AllowedHosts) {
		t.Errorf("allowed_hosts = %v", back.Network.AllowedHosts)
	}
}

func TestStrictProfileCapsLimits(t *testing.T) {
	cfg, err := Parse([]byte("[sandbox]\nprofile = \"strict\"\ncall_timeout = \"0s\"\n"))
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	if got, want := cfg.Limits(), security.StrictLimits(); got != want {
		t.Errorf("Limits() = %+v, want %+v", got, want)
	}

	cfg, err = Parse([]byte("[sandbox]\nprofile = \"strict\"\ncall_timeout = \"2s\"\n"))
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	if got := cfg.Limits().CallTimeout; got != 2*time.Second {
		t.Errorf("CallTimeout = %v, want 2s", got)
	}

	if got, want := Default().Limits(), security.DefaultLimits(); got != want {
		t.Errorf("default Limits() = %+v, want %+v", got, want)
	}
}
