// Package sandbox is the host side of a plugin's isolation boundary.
//
// A Sandbox owns one isolated unit (a goroutine running a gopher-lua
// interpreter) and talks to it only through CBOR-encoded rpc.Messages on
// two channels. Every request carries a correlation id; replies settle
// the matching pending call in whatever order they arrive.
//
// Host calls coming back from the unit are served concurrently, each in
// its own goroutine, after the sandbox re-checks the plugin's permission
// set. The check inside the unit only saves a round trip; the one here is
// authoritative.
//
// Destroy is the only forced cancellation: it stops the interpreter and
// rejects every pending call with ErrDestroyed.
package sandbox
