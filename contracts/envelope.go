package contracts

import (
	"encoding/json"
	"time"
)

// EnvelopeVersion is the envelope format version stamped on every envelope.
const EnvelopeVersion = "1.0"

// TimestampLayout is the UTC layout used for metadata.timestamp.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Envelope wraps a payload for transport
type Envelope struct {
	Metadata Metadata `json:"metadata"`
}

// Metadata is the single block of an envelope. Field order matches the
// order producers have always emitted.
type Metadata struct {
	MessageID     string          `json:"messageId"`
	Timestamp     string          `json:"timestamp"`
	MessageType   string          `json:"messageType"`
	Data          json.RawMessage `json:"data"`
	Version       string          `json:"version"`
	CorrelationID string          `json:"correlationId,omitempty"`
	CausationID   string          `json:"causationId,omitempty"`
	Sender        string          `json:"sender,omitempty"`
}

// FormatTimestamp renders t in the envelope timestamp layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Marshal encodes the envelope to its UTF-8 JSON wire form.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// AsDocument returns the envelope as generic JSON values, the form schema
// validators operate on.
func (e *Envelope) AsDocument() (map[string]any, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
