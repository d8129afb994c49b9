// Package kv defines the durable key-value backend that the plugin
// registry, plugin code store and per-plugin storage are built on.
//
// Two implementations are provided: Memory, for tests and ephemeral
// runs, and SQLite, a single-file durable store.
package kv
