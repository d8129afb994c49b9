package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/plugkit/internal/logging"
	"github.com/dshills/plugkit/internal/plugin/security"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Sandbox profiles.
const (
	ProfileDefault = "default"
	ProfileStrict  = "strict" // caps every limit at security.StrictLimits
)

// Config is the host configuration.
type Config struct {
	Log     LogConfig     `toml:"log"`
	Storage StorageConfig `toml:"storage"`
	Sandbox SandboxConfig `toml:"sandbox"`
	Network NetworkConfig `toml:"network"`
	Plugins PluginsConfig `toml:"plugins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
}

// StorageConfig selects the kv store.
type StorageConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
}

// SandboxConfig tunes every plugin sandbox.
type SandboxConfig struct {
	Profile     string   `toml:"profile"`
	CallTimeout Duration `toml:"call_timeout"`
	QueueSize   int      `toml:"queue_size"`
}

// NetworkConfig governs http.fetch.
type NetworkConfig struct {
	AllowedHosts      []string `toml:"allowed_hosts"`
	BlockedHosts      []string `toml:"blocked_hosts"`
	RequestsPerSecond int      `toml:"requests_per_second"`
	MaxResponseBytes  int64    `toml:"max_response_bytes"`
	Timeout           Duration `toml:"timeout"`
}

// PluginsConfig locates plugin bundles.
type PluginsConfig struct {
	Paths    []string `toml:"paths"`
	Watch    bool     `toml:"watch"`
	Autoload bool     `toml:"autoload"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration.
func Default() *Config {
	limits := security.DefaultLimits()
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   filepath.Join(defaultDataDir(), "plugkit.db"),
		},
		Sandbox: SandboxConfig{
			Profile:     ProfileDefault,
			CallTimeout: Duration(limits.CallTimeout),
			QueueSize:   64,
		},
		Network: NetworkConfig{
			RequestsPerSecond: limits.NetworkReqPerSecond,
			MaxResponseBytes:  limits.MaxResponseBytes,
			Timeout:           Duration(limits.FetchTimeout),
		},
		Plugins: PluginsConfig{
			Paths:    []string{filepath.Join(defaultDataDir(), "plugins")},
			Autoload: true,
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "plugkit")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "plugkit")
	}
	return "plugkit-data"
}

// DefaultPath returns the file Load reads when no path is given.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "plugkit", "config.toml")
	}
	return "plugkit.toml"
}

// Load resolves the configuration. An empty path reads DefaultPath when
// it exists; a named path must exist.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.decode(path, data); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	default:
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML data over the defaults and validates the result.
// The environment is not consulted.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode("<input>", data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(source string, data []byte) error {
	if err := toml.Unmarshal(data, c); err != nil {
		pe := &ParseError{Source: source, Message: err.Error(), Err: err}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			pe.Line, pe.Column = de.Position()
		}
		return pe
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, &ValidationError{Setting: "log.level", Reason: err.Error()})
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, &ValidationError{Setting: "log.format", Reason: fmt.Sprintf("%q is not text or json", c.Log.Format)})
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, &ValidationError{Setting: "storage.path", Reason: "is required for sqlite"})
		}
	default:
		errs = append(errs, &ValidationError{Setting: "storage.driver", Reason: fmt.Sprintf("%q is not sqlite or memory", c.Storage.Driver)})
	}

	if c.Sandbox.Profile != ProfileDefault && c.Sandbox.Profile != ProfileStrict {
		errs = append(errs, &ValidationError{Setting: "sandbox.profile", Reason: fmt.Sprintf("%q is not default or strict", c.Sandbox.Profile)})
	}
	if c.Sandbox.CallTimeout < 0 {
		errs = append(errs, &ValidationError{Setting: "sandbox.call_timeout", Reason: "must not be negative"})
	}
	if c.Sandbox.QueueSize <= 0 {
		errs = append(errs, &ValidationError{Setting: "sandbox.queue_size", Reason: "must be positive"})
	}

	if c.Network.RequestsPerSecond < 0 {
		errs = append(errs, &ValidationError{Setting: "network.requests_per_second", Reason: "must not be negative"})
	}
	if c.Network.MaxResponseBytes <= 0 {
		errs = append(errs, &ValidationError{Setting: "network.max_response_bytes", Reason: "must be positive"})
	}
	if c.Network.Timeout <= 0 {
		errs = append(errs, &ValidationError{Setting: "network.timeout", Reason: "must be positive"})
	}
	return errors.Join(errs...)
}

// Limits returns the per-plugin limits the config describes. The strict
// profile caps them at security.StrictLimits.
func (c *Config) Limits() security.Limits {
	limits := security.Limits{
		CallTimeout:         c.Sandbox.CallTimeout.Std(),
		NetworkReqPerSecond: c.Network.RequestsPerSecond,
		MaxResponseBytes:    c.Network.MaxResponseBytes,
		FetchTimeout:        c.Network.Timeout.Std(),
	}
	if c.Sandbox.Profile == ProfileStrict {
		limits = limits.Cap(security.StrictLimits())
	}
	return limits
}

// HostPolicy returns the network host policy.
func (c *Config) HostPolicy() *security.HostPolicy {
	return security.NewHostPolicy(c.Network.AllowedHosts, c.Network.BlockedHosts)
}

// Encode writes c as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
