package schema

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// EnvelopeFile is the envelope schema file at the root of the contracts directory.
const EnvelopeFile = "envelope.json"

// Document is a decoded JSON Schema document. Cached documents are shared
// between callers and must be treated as read-only.
type Document map[string]any

// Store loads and caches schema documents from a contracts directory.
type Store struct {
	fs         afero.Fs
	dir        string
	strategies []Strategy
	logger     *slog.Logger

	// resolved file path -> Document
	cache sync.Map
}

// StoreOption configures the Store
type StoreOption func(*Store)

// WithStoreLogger sets the logger
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithStrategies replaces the default resolution order
func WithStrategies(strategies ...Strategy) StoreOption {
	return func(s *Store) {
		s.strategies = strategies
	}
}

// NewStore creates a store reading contracts below dir on fs
func NewStore(fs afero.Fs, dir string, options ...StoreOption) *Store {
	s := &Store{
		fs:     fs,
		dir:    filepath.Clean(dir),
		logger: slog.Default(),
		strategies: []Strategy{
			PerTypeFile(),
			LegacyBundle(DefaultLegacyBundle),
		},
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Dir returns the contracts directory
func (s *Store) Dir() string {
	return s.dir
}

// Resolve returns the schema for messageType in domain. Strategies are tried
// in order and the first one that finds the type wins.
func (s *Store) Resolve(domain, messageType string) (Document, error) {
	doc, found := FirstFound(s.strategies...).Lookup(s, domain, messageType)
	if !found {
		return nil, &SchemaNotFoundError{Domain: domain, MessageType: messageType}
	}
	return doc, nil
}

// LoadFile loads a document by path relative to the contracts directory.
func (s *Store) LoadFile(rel string) (Document, error) {
	if !safeName(rel) {
		return nil, fmt.Errorf("schema: refusing path %q outside contracts directory", rel)
	}
	return s.load(filepath.Join(s.dir, rel))
}

// LoadDomainFile loads {dir}/{domain}/{file}.
func (s *Store) LoadDomainFile(domain, file string) (Document, error) {
	if !safeName(domain) || !safeName(file) {
		return nil, fmt.Errorf("schema: refusing path %s/%s outside contracts directory", domain, file)
	}
	return s.load(filepath.Join(s.dir, domain, file))
}

// load reads and decodes path, or returns the cached document. Read and parse
// failures are not cached, so the next call retries.
func (s *Store) load(path string) (Document, error) {
	if cached, ok := s.cache.Load(path); ok {
		return cached.(Document), nil
	}

	raw, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema: decoding %s: %w", path, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("schema: %s is not a JSON object", path)
	}

	// Concurrent first loads of the same path produce identical documents;
	// whichever lands first is the one every caller sees.
	actual, _ := s.cache.LoadOrStore(path, doc)
	s.logger.Debug("loaded schema", "path", path)
	return actual.(Document), nil
}

// safeName rejects names that would escape the contracts directory.
func safeName(name string) bool {
	if name == "" || filepath.IsAbs(name) {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
