package api

import (
	"errors"
	"fmt"

	"github.com/dshills/plugkit/internal/codec"
)

// ErrInvalidArgument is returned when a plugin passes a malformed argument.
var ErrInvalidArgument = errors.New("invalid argument")

func optionalArg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func stringArg(args []any, i int, name string) (string, error) {
	s, ok := optionalArg(args, i).(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidArgument, name)
	}
	return s, nil
}

// bindArg decodes the table at args[i] into out through the wire codec,
// so field names follow out's cbor tags.
func bindArg(args []any, i int, name string, out any) error {
	v, ok := optionalArg(args, i).(map[string]any)
	if !ok {
		return fmt.Errorf("%w: %s must be a table", ErrInvalidArgument, name)
	}
	raw, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArgument, name, err)
	}
	if err := codec.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArgument, name, err)
	}
	return nil
}
