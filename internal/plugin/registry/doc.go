// Package registry keeps the durable record of installed plugins.
//
// Records are stored as JSON under "registry/<id>" in a kv.Store and
// mirrored in memory. Every mutation is written to the store before the
// mirror changes, so a failed write leaves both unchanged. Records handed
// out are clones; callers may modify them freely.
package registry
