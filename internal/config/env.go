package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PLUGKIT_"

// envSetting binds one environment variable to a config field.
type envSetting struct {
	name string // without prefix
	set  func(c *Config, value string) error
}

func envSettings() []envSetting {
	return []envSetting{
		{"LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = v; return nil }},
		{"LOG_FORMAT", func(c *Config, v string) error { c.Log.Format = strings.ToLower(v); return nil }},
		{"STORAGE_DRIVER", func(c *Config, v string) error { c.Storage.Driver = strings.ToLower(v); return nil }},
		{"STORAGE_PATH", func(c *Config, v string) error { c.Storage.Path = v; return nil }},
		{"SANDBOX_PROFILE", func(c *Config, v string) error { c.Sandbox.Profile = strings.ToLower(v); return nil }},
		{"SANDBOX_CALL_TIMEOUT", durationSetter(func(c *Config) *Duration { return &c.Sandbox.CallTimeout })},
		{"SANDBOX_QUEUE_SIZE", intSetter(func(c *Config) *int { return &c.Sandbox.QueueSize })},
		{"NETWORK_ALLOWED_HOSTS", listSetter(func(c *Config) *[]string { return &c.Network.AllowedHosts })},
		{"NETWORK_BLOCKED_HOSTS", listSetter(func(c *Config) *[]string { return &c.Network.BlockedHosts })},
		{"NETWORK_REQUESTS_PER_SECOND", intSetter(func(c *Config) *int { return &c.Network.RequestsPerSecond })},
		{"NETWORK_MAX_RESPONSE_BYTES", func(c *Config, v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return err
			}
			c.Network.MaxResponseBytes = n
			return nil
		}},
		{"NETWORK_TIMEOUT", durationSetter(func(c *Config) *Duration { return &c.Network.Timeout })},
		{"PLUGINS_PATHS", listSetter(func(c *Config) *[]string { return &c.Plugins.Paths })},
		{"PLUGINS_WATCH", boolSetter(func(c *Config) *bool { return &c.Plugins.Watch })},
		{"PLUGINS_AUTOLOAD", boolSetter(func(c *Config) *bool { return &c.Plugins.Autoload })},
	}
}

// applyEnv overlays PLUGKIT_* variables. Empty values count as set.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, s := range envSettings() {
		name := EnvPrefix + s.name
		v, ok := lookup(name)
		if !ok {
			continue
		}
		if err := s.set(c, strings.TrimSpace(v)); err != nil {
			return &ParseError{Source: name, Message: err.Error(), Err: err}
		}
	}
	return nil
}

func durationSetter(field func(*Config) *Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = Duration(d)
		return nil
	}
}

func intSetter(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

// boolSetter accepts the same spellings as strconv.ParseBool plus
// yes/no and on/off.
func boolSetter(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		switch strings.ToLower(v) {
		case "yes", "on":
			*field(c) = true
			return nil
		case "no", "off":
			*field(c) = false
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%q is not a boolean", v)
		}
		*field(c) = b
		return nil
	}
}

// listSetter splits a comma-separated list, dropping empty items.
func listSetter(field func(*Config) *[]string) func(*Config, string) error {
	return func(c *Config, v string) error {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*field(c) = out
		return nil
	}
}
