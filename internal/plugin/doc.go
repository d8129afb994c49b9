// Package plugin defines the data model of the plugin subsystem: the
// manifest a plugin ships with, the installed Plugin record, its lifecycle
// Status and the error taxonomy shared by the registry, sandbox and
// loader packages.
//
// # Manifest
//
// A manifest is JSON (plugin.json) or YAML (plugin.yaml):
//
//	{
//	    "id": "word-count",
//	    "name": "Word Count",
//	    "version": "1.2.0",
//	    "author": "Jane Doe",
//	    "permissions": ["read-data", "notifications"],
//	    "entryPoint": "main.lua",
//	    "dependencies": {"text-utils": "1.0.0"},
//	    "hooks": ["onActivate", "onConfigChange"],
//	    "configSchema": {
//	        "type": "object",
//	        "properties": {"limit": {"type": "integer", "default": 100}}
//	    }
//	}
//
// Permissions form a closed set; an unknown permission name fails to
// decode. Hooks name Lua functions the entry point exports.
//
// # Lifecycle
//
//	installed ──load──▶ active ──unload──▶ inactive ──load──▶ active
//	                      │
//	               load failure
//	                      ▼
//	                    error ──reload──▶ active
//
// Only the loader package moves a plugin between states.
package plugin
