// Package config loads plugkit host configuration.
//
// Configuration is resolved in three layers, later layers winning:
//
//  1. built-in defaults (Default)
//  2. a TOML file
//  3. PLUGKIT_* environment variables
//
// The result is validated before it is returned.
//
// Example file:
//
//	[log]
//	level = "debug"
//	format = "json"
//
//	[storage]
//	driver = "sqlite"
//	path = "/var/lib/plugkit/plugkit.db"
//
//	[sandbox]
//	profile = "default"
//	call_timeout = "10s"
//	queue_size = 64
//
//	[network]
//	allowed_hosts = ["api.example.com", "*.cdn.example.com"]
//	requests_per_second = 5
//
//	[plugins]
//	paths = ["/etc/plugkit/plugins"]
//	watch = true
//	autoload = true
package config
