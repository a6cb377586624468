package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSchemaNotFound is matched by every *SchemaNotFoundError.
	ErrSchemaNotFound = errors.New("schema: schema not found")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("schema: payload does not conform")
	// ErrEnvelopeInvalid is matched by every *EnvelopeInvalidError.
	ErrEnvelopeInvalid = errors.New("schema: envelope does not conform")
)

// SchemaNotFoundError is returned when no resolution strategy finds a schema
// for a domain and message type. Retrying without fixing the contracts
// directory will not help.
type SchemaNotFoundError struct {
	Domain      string
	MessageType string
}

func (e *SchemaNotFoundError) Error() string {
	return fmt.Sprintf("schema: message type '%s' not found in domain '%s'", e.MessageType, e.Domain)
}

func (e *SchemaNotFoundError) Is(target error) bool {
	return target == ErrSchemaNotFound
}

// Violation is a single schema constraint a value failed.
type Violation struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
	Message    string `json:"message"`
	Value      any    `json:"value,omitempty"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// ValidationError reports a payload that does not conform to its schema.
type ValidationError struct {
	Domain      string
	MessageType string
	Violations  []Violation
	Err         error // evaluator error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema: %s/%s payload is invalid: %s",
		e.Domain, e.MessageType, describeFailure(e.Violations, e.Err))
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// EnvelopeInvalidError reports an envelope that fails the envelope schema.
// Envelopes built by CreateEnvelope should never fail; seeing this error there
// points at a defect in envelope construction or in envelope.json.
type EnvelopeInvalidError struct {
	MessageType string
	Violations  []Violation
	Err         error
}

func (e *EnvelopeInvalidError) Error() string {
	return fmt.Sprintf("schema: envelope for %s is invalid: %s",
		e.MessageType, describeFailure(e.Violations, e.Err))
}

func (e *EnvelopeInvalidError) Unwrap() error {
	return e.Err
}

func (e *EnvelopeInvalidError) Is(target error) bool {
	return target == ErrEnvelopeInvalid
}

func describeFailure(violations []Violation, err error) string {
	if len(violations) == 0 {
		if err == nil {
			return "unknown violation"
		}
		return err.Error()
	}
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, v.String())
	}
	return strings.Join(parts, "; ")
}
