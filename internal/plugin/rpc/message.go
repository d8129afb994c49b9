package rpc

import (
	"context"
	"fmt"

	"github.com/dshills/plugkit/internal/codec"
)

// Type identifies a message kind.
type Type string

// Host to unit.
const (
	TypeInit         Type = "init"
	TypeExecute      Type = "execute"
	TypeExecuteHook  Type = "executeHook"
	TypeCallFunction Type = "callFunction"
	TypeEvent        Type = "event"
	TypeHostResponse Type = "hostResponse"
)

// Unit to host.
const (
	TypeResult   Type = "result"
	TypeError    Type = "error"
	TypeHostCall Type = "hostCall"
)

// Message is the single envelope for every boundary crossing.
type Message struct {
	ID     uint64         `cbor:"id"`
	Type   Type           `cbor:"type"`
	Data   map[string]any `cbor:"data,omitempty"`
	Method string         `cbor:"method,omitempty"`
	Args   []any          `cbor:"args,omitempty"`
	Result any            `cbor:"result"`
	Error  string         `cbor:"error,omitempty"`
}

// Encode serializes m.
func Encode(m *Message) ([]byte, error) {
	data, err := codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	return data, nil
}

// Decode parses a serialized message.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := codec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &m, nil
}

// Handler implements a host call. Errors are sent back to the sandbox as
// their message string.
type Handler func(ctx context.Context, args []any) (any, error)

// Init payload keys.
const (
	KeyPermissions = "permissions"
	KeyConfig      = "config"
	KeyCode        = "code"
	KeyName        = "name"
	KeyChunk       = "chunk"
	KeySubID       = "sub"
	KeyPayload     = "payload"
	KeyOnce        = "once"
)
