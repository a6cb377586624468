// Package contracts defines the wire envelope shared by every service on the
// polako message bus.
//
// An envelope carries a single metadata block:
//   - messageId: UUID generated per envelope
//   - timestamp: UTC creation instant with a Z suffix
//   - messageType: logical payload type, used for schema lookup and dispatch
//   - data: the schema-validated payload
//   - version: envelope format version, always "1.0"
//   - correlationId, causationId, sender: present only when supplied
//
// The JSON shape is the only cross-service contract and must stay compatible
// between producers and consumers.
package contracts
