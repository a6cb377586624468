package schema

import (
	"errors"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreResolve(t *testing.T) {
	t.Run("prefers the per-type file", func(t *testing.T) {
		store := NewStore(newTestFs(t), testContractsDir)

		doc, err := store.Resolve("billing", "RefundIssued")

		require.NoError(t, err)
		assert.Equal(t, "object", doc["type"])
		assert.Contains(t, doc["properties"], "refundId")
	})

	t.Run("falls back to the legacy bundle", func(t *testing.T) {
		store := NewStore(newTestFs(t), testContractsDir)

		doc, err := store.Resolve("mailing", "SuccessEmail")

		require.NoError(t, err)
		assert.Equal(t, []any{"recipientName", "transactionId", "amount", "currency", "merchantName"}, doc["required"])
	})

	t.Run("legacy lookup is case sensitive", func(t *testing.T) {
		store := NewStore(newTestFs(t), testContractsDir)

		_, err := store.Resolve("mailing", "successemail")

		assert.ErrorIs(t, err, ErrSchemaNotFound)
	})

	t.Run("fails with SchemaNotFound when no layout has the type", func(t *testing.T) {
		store := NewStore(newTestFs(t), testContractsDir)

		_, err := store.Resolve("mailing", "Nonexistent")

		require.Error(t, err)
		var notFound *SchemaNotFoundError
		require.True(t, errors.As(err, &notFound))
		assert.Equal(t, "mailing", notFound.Domain)
		assert.Equal(t, "Nonexistent", notFound.MessageType)
		assert.ErrorIs(t, err, ErrSchemaNotFound)
	})

	t.Run("malformed per-type file falls through to the bundle", func(t *testing.T) {
		fs := newTestFs(t)
		require.NoError(t, afero.WriteFile(fs, "/contracts/mailing/successemail.json", []byte(`{broken`), 0o644))
		store := NewStore(fs, testContractsDir)

		doc, err := store.Resolve("mailing", "SuccessEmail")

		require.NoError(t, err)
		assert.Contains(t, doc["properties"], "merchantName")
	})

	t.Run("unknown domain is not found", func(t *testing.T) {
		store := NewStore(newTestFs(t), testContractsDir)

		_, err := store.Resolve("ledger", "SuccessEmail")

		assert.ErrorIs(t, err, ErrSchemaNotFound)
	})

	t.Run("path traversal is not resolved", func(t *testing.T) {
		store := NewStore(newTestFs(t), testContractsDir)

		_, err := store.Resolve("..", "envelope")

		assert.ErrorIs(t, err, ErrSchemaNotFound)
	})

	t.Run("custom strategies replace the defaults", func(t *testing.T) {
		called := 0
		only := StrategyFunc(func(s *Store, domain, messageType string) (Document, bool) {
			called++
			return Document{"type": "string"}, true
		})
		store := NewStore(newTestFs(t), testContractsDir, WithStrategies(only))

		doc, err := store.Resolve("mailing", "SuccessEmail")

		require.NoError(t, err)
		assert.Equal(t, "string", doc["type"])
		assert.Equal(t, 1, called)
	})
}

func TestStoreCaching(t *testing.T) {
	t.Run("second resolve is served from cache", func(t *testing.T) {
		fs := newCountingFs(newTestFs(t))
		store := NewStore(fs, testContractsDir)

		first, err := store.Resolve("billing", "RefundIssued")
		require.NoError(t, err)
		second, err := store.Resolve("billing", "RefundIssued")
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, fs.count("/contracts/billing/refundissued.json"))
	})

	t.Run("legacy bundle is read once for many types", func(t *testing.T) {
		fs := newCountingFs(newTestFs(t))
		store := NewStore(fs, testContractsDir)

		_, err := store.Resolve("mailing", "SuccessEmail")
		require.NoError(t, err)
		_, err = store.Resolve("mailing", "SuccessEmail")
		require.NoError(t, err)
		_, err = store.Resolve("mailing", "Nonexistent")
		require.Error(t, err)

		assert.Equal(t, 1, fs.count("/contracts/mailing/email_messages.json"))
	})

	t.Run("failed loads are retried", func(t *testing.T) {
		base := newTestFs(t)
		fs := newCountingFs(base)
		store := NewStore(fs, testContractsDir)

		_, err := store.Resolve("ledger", "Entry")
		require.ErrorIs(t, err, ErrSchemaNotFound)

		require.NoError(t, afero.WriteFile(base, "/contracts/ledger/entry.json", []byte(`{"type":"object"}`), 0o644))

		doc, err := store.Resolve("ledger", "Entry")
		require.NoError(t, err)
		assert.Equal(t, "object", doc["type"])
		assert.Equal(t, 2, fs.count("/contracts/ledger/entry.json"))
	})

	t.Run("cached documents are not reloaded after the file changes", func(t *testing.T) {
		base := newTestFs(t)
		store := NewStore(base, testContractsDir)

		_, err := store.LoadFile(EnvelopeFile)
		require.NoError(t, err)
		require.NoError(t, afero.WriteFile(base, "/contracts/envelope.json", []byte(`{"type":"string"}`), 0o644))

		doc, err := store.LoadFile(EnvelopeFile)
		require.NoError(t, err)
		assert.Equal(t, "Message Envelope", doc["title"])
	})

	t.Run("concurrent first loads agree", func(t *testing.T) {
		store := NewStore(newTestFs(t), testContractsDir)

		var wg sync.WaitGroup
		docs := make([]Document, 16)
		for i := range docs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				doc, err := store.Resolve("mailing", "SuccessEmail")
				assert.NoError(t, err)
				docs[i] = doc
			}(i)
		}
		wg.Wait()

		for _, doc := range docs[1:] {
			assert.Equal(t, docs[0], doc)
		}
	})
}

func TestFirstFound(t *testing.T) {
	miss := StrategyFunc(func(*Store, string, string) (Document, bool) { return nil, false })
	hit := func(tag string) Strategy {
		return StrategyFunc(func(*Store, string, string) (Document, bool) { return Document{"tag": tag}, true })
	}

	doc, found := FirstFound(miss, hit("a"), hit("b")).Lookup(nil, "d", "t")
	assert.True(t, found)
	assert.Equal(t, "a", doc["tag"])

	_, found = FirstFound(miss, miss).Lookup(nil, "d", "t")
	assert.False(t, found)

	_, found = FirstFound().Lookup(nil, "d", "t")
	assert.False(t, found)
}
