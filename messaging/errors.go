package messaging

import (
	"errors"
	"fmt"
)

var (
	// Registration errors
	ErrNilHandler       = errors.New("messaging: handler cannot be nil")
	ErrEmptyMessageType = errors.New("messaging: message type cannot be empty")
	ErrRouterSealed     = errors.New("messaging: router is sealed, handlers must be registered before consuming")

	// Inbound pipeline errors. None of them are retried.
	ErrDecodeFailure     = errors.New("messaging: body is not valid UTF-8 JSON")
	ErrMalformedEnvelope = errors.New("messaging: malformed envelope")
	ErrUnroutable        = errors.New("messaging: no handler registered for message type")
	ErrHandlerFailed     = errors.New("messaging: handler failed")
)

// DeliveryError describes why an inbound delivery was discarded.
type DeliveryError struct {
	MessageID   string
	MessageType string
	Kind        error // one of the inbound pipeline sentinels
	Err         error
}

func (e *DeliveryError) Error() string {
	msg := e.Kind.Error()
	if e.MessageType != "" {
		msg = fmt.Sprintf("%s (messageType=%s)", msg, e.MessageType)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DeliveryError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}
