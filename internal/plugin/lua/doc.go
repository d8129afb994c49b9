// Package lua runs plugin code inside a sandboxed gopher-lua interpreter.
//
// A Unit owns one interpreter and is driven by exactly one goroutine. It
// shares nothing with the host: requests arrive as encoded rpc messages on
// an input channel and replies leave the same way. Every request runs in
// its own Lua coroutine, so a plugin waiting on a host call does not
// block other requests.
//
// # Sandbox
//
// Only the base, table, string and math libraries are opened. dofile,
// loadfile, load and loadstring are removed, print goes to the unit
// logger, and require resolves only the already-open safe libraries.
//
// # Host calls
//
// Capability functions check the unit's copy of the permission set,
// send a hostCall message and yield the running coroutine. When the
// matching hostResponse arrives the coroutine is resumed with either the
// result or a raised error:
//
//	local rows = ctx.api.data.read("report")   -- yields until the host replies
//
// The host repeats the permission check before running any handler.
package lua
