package messaging

import (
	"context"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Polako-Finance/polako-common/contracts"
	"github.com/Polako-Finance/polako-common/schema"
)

const envelopeSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["metadata"],
  "properties": {
    "metadata": {
      "type": "object",
      "required": ["messageId", "timestamp", "messageType", "data"],
      "properties": {
        "messageId": {"type": "string"},
        "timestamp": {"type": "string"},
        "messageType": {"type": "string"},
        "correlationId": {"type": "string"},
        "causationId": {"type": "string"},
        "sender": {"type": "string"},
        "version": {"type": "string"},
        "data": {"type": "object"}
      }
    }
  }
}`

const emailBundleJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "SuccessEmail": {
      "type": "object",
      "required": ["recipientName", "transactionId", "amount", "currency", "merchantName"],
      "properties": {
        "recipientName": {"type": "string"},
        "transactionId": {"type": "string"},
        "amount": {"type": "number"},
        "currency": {"type": "string"},
        "merchantName": {"type": "string"}
      }
    }
  }
}`

func successEmail() map[string]any {
	return map[string]any{
		"recipientName": "John Doe",
		"transactionId": "123456",
		"amount":        100.0,
		"currency":      "USD",
		"merchantName":  "Test Merchant",
	}
}

func newValidator(t *testing.T, opts ...schema.ValidatorOption) *schema.ContractValidator {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/contracts/envelope.json", []byte(envelopeSchemaJSON), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/contracts/mailing/email_messages.json", []byte(emailBundleJSON), 0o644))
	return schema.NewContractValidator(schema.NewStore(fs, "/contracts"), opts...)
}

// fakeAcknowledger counts acknowledgements of deliveries built by delivery().
type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	rejects int
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAcknowledger) Nack(uint64, bool, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	return nil
}

func (a *fakeAcknowledger) Reject(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejects++
	return nil
}

func (a *fakeAcknowledger) counts() (acks, nacks, rejects int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.nacks, a.rejects
}

func delivery(body string) (amqp.Delivery, *fakeAcknowledger) {
	ack := &fakeAcknowledger{}
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  1,
		MessageId:    "delivery-1",
		RoutingKey:   "tests.route",
		Exchange:     "events",
		Body:         []byte(body),
	}, ack
}

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	return m.Called(ctx, routingKey, msg).Error(0)
}

// published returns the message of the n-th Publish call.
func (m *mockBroker) published(n int) amqp.Publishing {
	return m.Calls[n].Arguments.Get(2).(amqp.Publishing)
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) DeadLetter(ctx context.Context, d amqp.Delivery, cause error) error {
	return m.Called(ctx, d, cause).Error(0)
}

type mockValidator struct {
	mock.Mock
}

func (m *mockValidator) Validate(domain, messageType string, payload any) error {
	return m.Called(domain, messageType, payload).Error(0)
}

func (m *mockValidator) CreateEnvelope(messageType string, data any, options ...schema.EnvelopeOption) (*contracts.Envelope, error) {
	a := m.Called(messageType, data, options)
	env, _ := a.Get(0).(*contracts.Envelope)
	return env, a.Error(1)
}
