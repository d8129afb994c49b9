// Package storage provides per-plugin persistent key-value storage.
//
// Every key a plugin uses lives under "plugin/<id>/" in the shared
// kv.Store. Plugin ids cannot contain a slash, so one plugin's prefix is
// never a prefix of another's. Values are arbitrary CBOR-encodable data
// and survive unload and reload; they are removed on uninstall.
package storage
