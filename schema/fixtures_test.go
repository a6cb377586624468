package schema

import (
	"os"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const testContractsDir = "/contracts"

const envelopeSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Message Envelope",
  "type": "object",
  "required": ["metadata"],
  "properties": {
    "metadata": {
      "type": "object",
      "required": ["messageId", "timestamp", "messageType", "data"],
      "properties": {
        "messageId": {"type": "string", "format": "uuid"},
        "timestamp": {"type": "string", "format": "date-time"},
        "correlationId": {"type": "string"},
        "causationId": {"type": "string"},
        "sender": {"type": "string"},
        "version": {"type": "string"},
        "messageType": {"type": "string"},
        "data": {"type": "object"}
      }
    }
  }
}`

const emailBundleJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Email Message Contracts",
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

const refundIssuedJSON = `{
  "type": "object",
  "required": ["refundId", "amount"],
  "properties": {
    "refundId": {"type": "string", "minLength": 3},
    "amount": {"type": "number", "minimum": 0},
    "reason": {"type": "string", "enum": ["customer", "fraud"]}
  }
}`

// newTestFs returns an in-memory contracts tree with the envelope schema, a
// legacy mailing bundle and a per-type billing schema.
func newTestFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/contracts/envelope.json", []byte(envelopeSchemaJSON), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/contracts/mailing/email_messages.json", []byte(emailBundleJSON), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/contracts/billing/refundissued.json", []byte(refundIssuedJSON), 0o644))
	return fs
}

// countingFs records how often each path is opened.
type countingFs struct {
	afero.Fs

	mu    sync.Mutex
	opens map[string]int
}

func newCountingFs(fs afero.Fs) *countingFs {
	return &countingFs{Fs: fs, opens: make(map[string]int)}
}

func (c *countingFs) Open(name string) (afero.File, error) {
	c.mu.Lock()
	c.opens[name]++
	c.mu.Unlock()
	return c.Fs.Open(name)
}

func (c *countingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	c.mu.Lock()
	c.opens[name]++
	c.mu.Unlock()
	return c.Fs.OpenFile(name, flag, perm)
}

func (c *countingFs) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens[name]
}
