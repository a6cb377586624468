package schema

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func successEmail() map[string]any {
	return map[string]any{
		"recipientName": "John Doe",
		"transactionId": "123456",
		"amount":        100.0,
		"currency":      "USD",
		"merchantName":  "Test Merchant",
	}
}

func newTestValidator(t *testing.T, options ...ValidatorOption) *ContractValidator {
	t.Helper()
	return NewContractValidator(NewStore(newTestFs(t), testContractsDir), options...)
}

func TestValidate(t *testing.T) {
	t.Run("accepts a conforming payload", func(t *testing.T) {
		v := newTestValidator(t)

		assert.NoError(t, v.Validate("mailing", "SuccessEmail", successEmail()))
	})

	t.Run("accepts structs and raw json", func(t *testing.T) {
		v := newTestValidator(t)

		type refund struct {
			RefundID string  `json:"refundId"`
			Amount   float64 `json:"amount"`
		}
		assert.NoError(t, v.Validate("billing", "RefundIssued", refund{RefundID: "r-1", Amount: 12.5}))
		assert.NoError(t, v.Validate("billing", "RefundIssued", json.RawMessage(`{"refundId":"r-2","amount":0}`)))
	})

	for _, field := range []string{"recipientName", "transactionId", "amount", "currency", "merchantName"} {
		t.Run("names missing required field "+field, func(t *testing.T) {
			v := newTestValidator(t)
			payload := successEmail()
			delete(payload, field)

			err := v.Validate("mailing", "SuccessEmail", payload)

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr))
			require.NotEmpty(t, vErr.Violations)
			assert.Equal(t, field, vErr.Violations[0].Field)
			assert.Equal(t, "required", vErr.Violations[0].Constraint)
			assert.Contains(t, err.Error(), field)
		})
	}

	t.Run("reports type mismatches with the actual value", func(t *testing.T) {
		v := newTestValidator(t)
		payload := successEmail()
		payload["amount"] = "one hundred"

		err := v.Validate("mailing", "SuccessEmail", payload)

		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr))
		require.Len(t, vErr.Violations, 1)
		assert.Equal(t, Violation{
			Field:      "amount",
			Constraint: "type",
			Message:    "expected type number, got string",
			Value:      "one hundred",
		}, vErr.Violations[0])
	})

	t.Run("reports range, length and enum violations", func(t *testing.T) {
		v := newTestValidator(t)

		err := v.Validate("billing", "RefundIssued", map[string]any{
			"refundId": "r",
			"amount":   -1.0,
			"reason":   "boredom",
		})

		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr))
		constraints := make([]string, 0, len(vErr.Violations))
		for _, violation := range vErr.Violations {
			constraints = append(constraints, violation.Constraint)
		}
		assert.ElementsMatch(t, []string{"minimum", "enum", "minLength"}, constraints)
	})

	t.Run("rejects a non-object payload", func(t *testing.T) {
		v := newTestValidator(t)

		err := v.Validate("mailing", "SuccessEmail", []string{"John Doe"})

		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("propagates SchemaNotFound", func(t *testing.T) {
		v := newTestValidator(t)

		err := v.Validate("mailing", "Nonexistent", successEmail())

		assert.ErrorIs(t, err, ErrSchemaNotFound)
		assert.NotErrorIs(t, err, ErrValidation)
	})

	t.Run("keeps schemas of nested domains apart", func(t *testing.T) {
		fs := newTestFs(t)
		require.NoError(t, afero.WriteFile(fs, "/contracts/tenants/acme/email_messages.json",
			[]byte(`{"definitions":{"Welcome":{"type":"object","required":["name"]}}}`), 0o644))
		require.NoError(t, afero.WriteFile(fs, "/contracts/tenants/email_messages.json",
			[]byte(`{"definitions":{"acme/Welcome":{"type":"object","required":["code"]}}}`), 0o644))
		v := NewContractValidator(NewStore(fs, testContractsDir))

		payload := map[string]any{"name": "Ada"}
		require.NoError(t, v.Validate("tenants/acme", "Welcome", payload))

		err := v.Validate("tenants", "acme/Welcome", payload)

		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "code", vErr.Violations[0].Field)
	})
}

func TestCreateEnvelope(t *testing.T) {
	t.Run("builds metadata with required fields", func(t *testing.T) {
		fixed := time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)
		v := newTestValidator(t, WithClock(func() time.Time { return fixed }))

		env, err := v.CreateEnvelope("SuccessEmail", successEmail())

		require.NoError(t, err)
		_, err = uuid.Parse(env.Metadata.MessageID)
		assert.NoError(t, err)
		assert.Equal(t, "2024-01-01T12:30:00.000000Z", env.Metadata.Timestamp)
		assert.Equal(t, "SuccessEmail", env.Metadata.MessageType)
		assert.Equal(t, "1.0", env.Metadata.Version)

		var data map[string]any
		require.NoError(t, json.Unmarshal(env.Metadata.Data, &data))
		assert.Equal(t, successEmail(), data)
	})

	t.Run("includes optional fields only when supplied", func(t *testing.T) {
		v := newTestValidator(t)

		with, err := v.CreateEnvelope("TestType", map[string]any{"test": "data"},
			WithCorrelationID("corr-123"),
			WithCausationID("cause-456"),
			WithSender("test-service"))
		require.NoError(t, err)
		assert.Equal(t, "corr-123", with.Metadata.CorrelationID)
		assert.Equal(t, "cause-456", with.Metadata.CausationID)
		assert.Equal(t, "test-service", with.Metadata.Sender)

		without, err := v.CreateEnvelope("TestType", map[string]any{"test": "data"}, WithSender(""))
		require.NoError(t, err)
		raw, err := without.Marshal()
		require.NoError(t, err)

		var wire map[string]map[string]any
		require.NoError(t, json.Unmarshal(raw, &wire))
		assert.NotContains(t, wire["metadata"], "correlationId")
		assert.NotContains(t, wire["metadata"], "causationId")
		assert.NotContains(t, wire["metadata"], "sender")
	})

	t.Run("message ids are unique for identical inputs", func(t *testing.T) {
		v := newTestValidator(t)
		seen := make(map[string]bool)

		for i := 0; i < 100; i++ {
			env, err := v.CreateEnvelope("TestType", map[string]any{"test": "data"})
			require.NoError(t, err)
			assert.False(t, seen[env.Metadata.MessageID], "duplicate id %s", env.Metadata.MessageID)
			seen[env.Metadata.MessageID] = true
		}
	})

	t.Run("fails with EnvelopeInvalid when data is not an object", func(t *testing.T) {
		v := newTestValidator(t)

		_, err := v.CreateEnvelope("TestType", "just a string")

		assert.ErrorIs(t, err, ErrEnvelopeInvalid)
		var envErr *EnvelopeInvalidError
		require.True(t, errors.As(err, &envErr))
		require.NotEmpty(t, envErr.Violations)
		assert.Equal(t, "metadata.data", envErr.Violations[0].Field)
	})

	t.Run("fails when the envelope schema is missing", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		v := NewContractValidator(NewStore(fs, testContractsDir))

		_, err := v.CreateEnvelope("TestType", map[string]any{})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "envelope schema")
	})

	t.Run("envelope schema is loaded once", func(t *testing.T) {
		fs := newCountingFs(newTestFs(t))
		v := NewContractValidator(NewStore(fs, testContractsDir))

		for i := 0; i < 3; i++ {
			_, err := v.CreateEnvelope("TestType", map[string]any{"n": i})
			require.NoError(t, err)
		}

		assert.Equal(t, 1, fs.count("/contracts/envelope.json"))
	})
}

func TestValidateEnvelope(t *testing.T) {
	v := newTestValidator(t)

	t.Run("accepts a decoded wire envelope", func(t *testing.T) {
		body := `{"metadata":{"messageId":"0b3c2bb8-7a53-4c59-a6a0-3f1f0f0f0f0f","timestamp":"2024-01-01T00:00:00.000000Z","messageType":"T","data":{},"version":"1.0"}}`

		assert.NoError(t, v.ValidateEnvelope("T", json.RawMessage(body)))
	})

	t.Run("rejects an envelope without message id", func(t *testing.T) {
		body := `{"metadata":{"messageType":"test_type","data":{"test":"data"}}}`

		err := v.ValidateEnvelope("test_type", json.RawMessage(body))

		assert.ErrorIs(t, err, ErrEnvelopeInvalid)
		assert.Contains(t, err.Error(), "metadata.messageId")
	})
}
