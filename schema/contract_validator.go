package schema

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Polako-Finance/polako-common/contracts"
	"github.com/google/uuid"
)

// schemaKey identifies a compiled domain schema.
type schemaKey struct {
	domain      string
	messageType string
}

// envelopeKey is the compiled-schema cache key of the envelope schema.
type envelopeKey struct{}

// ContractValidator validates payloads against domain schemas and builds
// envelopes checked against the envelope schema.
type ContractValidator struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	// schemaKey or envelopeKey -> *compiled
	compiled sync.Map
}

// ValidatorOption configures the ContractValidator
type ValidatorOption func(*ContractValidator)

// WithValidatorLogger sets the logger
func WithValidatorLogger(logger *slog.Logger) ValidatorOption {
	return func(v *ContractValidator) {
		v.logger = logger
	}
}

// WithClock sets the time source for envelope timestamps
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *ContractValidator) {
		v.now = now
	}
}

// WithIDGenerator sets the message id source
func WithIDGenerator(newID func() string) ValidatorOption {
	return func(v *ContractValidator) {
		v.newID = newID
	}
}

// NewContractValidator creates a validator backed by store
func NewContractValidator(store *Store, options ...ValidatorOption) *ContractValidator {
	v := &ContractValidator{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}

	for _, opt := range options {
		opt(v)
	}

	return v
}

// Store returns the underlying schema store
func (v *ContractValidator) Store() *Store {
	return v.store
}

// Validate checks payload against the schema of messageType in domain.
func (v *ContractValidator) Validate(domain, messageType string, payload any) error {
	c, err := v.domainSchema(domain, messageType)
	if err != nil {
		return err
	}

	instance, err := normalize(payload)
	if err != nil {
		return &ValidationError{Domain: domain, MessageType: messageType, Err: err}
	}

	violations, err := c.check(instance)
	if err != nil {
		v.logger.Warn("payload failed schema validation",
			"domain", domain,
			"messageType", messageType,
			"violations", len(violations),
			"error", err)
		return &ValidationError{
			Domain:      domain,
			MessageType: messageType,
			Violations:  violations,
			Err:         err,
		}
	}
	return nil
}

// EnvelopeOption sets optional envelope metadata
type EnvelopeOption func(*contracts.Metadata)

// WithCorrelationID sets metadata.correlationId; empty ids are ignored
func WithCorrelationID(id string) EnvelopeOption {
	return func(m *contracts.Metadata) {
		m.CorrelationID = id
	}
}

// WithCausationID sets metadata.causationId; empty ids are ignored
func WithCausationID(id string) EnvelopeOption {
	return func(m *contracts.Metadata) {
		m.CausationID = id
	}
}

// WithSender sets metadata.sender; empty names are ignored
func WithSender(sender string) EnvelopeOption {
	return func(m *contracts.Metadata) {
		m.Sender = sender
	}
}

// CreateEnvelope wraps data in a new envelope and validates the result
// against the envelope schema. data is not checked against its domain schema;
// call Validate for that.
func (v *ContractValidator) CreateEnvelope(messageType string, data any, options ...EnvelopeOption) (*contracts.Envelope, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("schema: encoding envelope data: %w", err)
	}

	env := &contracts.Envelope{
		Metadata: contracts.Metadata{
			MessageID:   v.newID(),
			Timestamp:   contracts.FormatTimestamp(v.now()),
			MessageType: messageType,
			Data:        body,
			Version:     contracts.EnvelopeVersion,
		},
	}

	for _, opt := range options {
		opt(&env.Metadata)
	}

	doc, err := env.AsDocument()
	if err != nil {
		return nil, fmt.Errorf("schema: encoding envelope: %w", err)
	}
	if err := v.ValidateEnvelope(messageType, doc); err != nil {
		return nil, err
	}
	return env, nil
}

// ValidateEnvelope checks an envelope, given as generic JSON values or any
// value that encodes to one, against the envelope schema.
func (v *ContractValidator) ValidateEnvelope(messageType string, envelope any) error {
	c, err := v.envelopeSchema()
	if err != nil {
		return err
	}

	instance, err := normalize(envelope)
	if err != nil {
		return &EnvelopeInvalidError{MessageType: messageType, Err: err}
	}

	violations, err := c.check(instance)
	if err != nil {
		v.logger.Error("envelope failed schema validation",
			"messageType", messageType,
			"violations", len(violations),
			"error", err)
		return &EnvelopeInvalidError{
			MessageType: messageType,
			Violations:  violations,
			Err:         err,
		}
	}
	return nil
}

func (v *ContractValidator) domainSchema(domain, messageType string) (*compiled, error) {
	key := schemaKey{domain: domain, messageType: messageType}
	if c, ok := v.compiled.Load(key); ok {
		return c.(*compiled), nil
	}

	doc, err := v.store.Resolve(domain, messageType)
	if err != nil {
		return nil, err
	}
	return v.remember(key, doc)
}

func (v *ContractValidator) envelopeSchema() (*compiled, error) {
	if c, ok := v.compiled.Load(envelopeKey{}); ok {
		return c.(*compiled), nil
	}

	doc, err := v.store.LoadFile(EnvelopeFile)
	if err != nil {
		return nil, fmt.Errorf("schema: loading envelope schema: %w", err)
	}
	return v.remember(envelopeKey{}, doc)
}

func (v *ContractValidator) remember(key any, doc Document) (*compiled, error) {
	c, err := compile(doc)
	if err != nil {
		return nil, err
	}
	actual, _ := v.compiled.LoadOrStore(key, c)
	return actual.(*compiled), nil
}
