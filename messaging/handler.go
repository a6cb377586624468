package messaging

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler processes the data of one envelope. The payload is metadata.data
// exactly as it was published; decoding it is the handler's job.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Typed adapts a function taking a decoded message to a Handler. A payload
// that does not decode into T fails the handler.
func Typed[T any](fn func(ctx context.Context, msg T) error) Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var msg T
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decode %T payload: %w", msg, err)
		}
		return fn(ctx, msg)
	}
}

func invoke(ctx context.Context, h Handler, payload json.RawMessage) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v}
		}
	}()
	return h(ctx, payload)
}
