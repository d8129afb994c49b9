// Package bundle reads plugins from directories on disk.
//
// A bundle is a directory holding a manifest (plugin.json, or plugin.yaml
// when no JSON manifest exists) and the entry-point file the manifest
// names. The entry point must resolve inside the bundle directory.
//
// Discover scans plugin directories for bundles, and Watcher reports
// bundles whose files change so a host can hot-reload them.
package bundle
