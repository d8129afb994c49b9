// Package loader drives plugins through their lifecycle.
//
// Each plugin moves through a small state machine:
//
//	installed ──load──▶ active ──unload──▶ inactive ──load──▶ active …
//	                      │
//	     load/activation failure
//	                      ▼
//	                    error ──reload──▶ active
//
// A Loader owns one live session per active plugin: the Sandbox, the
// plugin's CapabilityAPI and Storage, and the event subscriptions it made.
// Lifecycle operations on the same plugin id are serialized; different
// plugins proceed concurrently.
//
// Installation is all-or-nothing. When anything fails after the record is
// persisted (storing the code, running onInstall) the code, the storage
// namespace and the record are removed before the error is returned.
//
// Subscribers registered with Subscribe receive LifecycleEvents after each
// transition.
package loader
