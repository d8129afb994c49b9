// Package rpc defines the messages exchanged between the host and a
// sandboxed plugin, and the pending-call table that correlates replies
// with requests.
//
// Messages cross the boundary only as encoded bytes. Each request carries
// a correlation id chosen by its sender; the reply reuses that id. Replies
// may arrive in any order.
//
//	host → unit   init, execute, executeHook, callFunction, event, hostResponse
//	unit → host   result, error, hostCall
package rpc
