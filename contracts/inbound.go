package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMissingMetadata is returned when a body has no "metadata" key.
	ErrMissingMetadata = errors.New("envelope has no metadata")
	// ErrMissingMessageType is returned when metadata.messageType is absent or empty.
	ErrMissingMessageType = errors.New("envelope has no messageType")
	// ErrMissingData is returned when metadata.data is absent or null.
	ErrMissingData = errors.New("envelope has no data")
)

// InboundEnvelope is a decoded delivery body. Fields are kept raw so the
// payload reaches handlers byte-for-byte as it was published.
type InboundEnvelope struct {
	MessageID     string
	MessageType   string
	CorrelationID string
	CausationID   string
	Sender        string
	Data          json.RawMessage

	raw      json.RawMessage
	metadata map[string]json.RawMessage
}

// DecodeEnvelope parses a delivery body. A JSON syntax error is returned
// unwrapped; structural problems are reported with the Err* sentinels above
// and the returned envelope holds whatever was decoded so far.
func DecodeEnvelope(body []byte) (*InboundEnvelope, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, err
	}

	env := &InboundEnvelope{raw: body}

	rawMeta, ok := top["metadata"]
	if !ok || isNull(rawMeta) {
		return env, ErrMissingMetadata
	}
	if err := json.Unmarshal(rawMeta, &env.metadata); err != nil {
		return env, fmt.Errorf("%w: metadata is not an object: %v", ErrMissingMetadata, err)
	}

	env.MessageType = env.stringField("messageType")
	env.MessageID = env.stringField("messageId")
	env.CorrelationID = env.stringField("correlationId")
	env.CausationID = env.stringField("causationId")
	env.Sender = env.stringField("sender")

	if env.MessageType == "" {
		return env, ErrMissingMessageType
	}

	data, ok := env.metadata["data"]
	if !ok || isNull(data) {
		return env, ErrMissingData
	}
	env.Data = data
	return env, nil
}

// Document returns the full body as generic JSON values.
func (e *InboundEnvelope) Document() (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(e.raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (e *InboundEnvelope) stringField(key string) string {
	raw, ok := e.metadata[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
