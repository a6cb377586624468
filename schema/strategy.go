package schema

import "strings"

// DefaultLegacyBundle is the per-domain bundle file of the legacy layout.
const DefaultLegacyBundle = "email_messages.json"

// Strategy looks a message type up in one contracts layout. A strategy that
// cannot find the type, or hits a missing or malformed file, reports
// found=false so the next strategy gets its turn.
type Strategy interface {
	Lookup(s *Store, domain, messageType string) (doc Document, found bool)
}

// StrategyFunc is a function adapter for Strategy
type StrategyFunc func(s *Store, domain, messageType string) (Document, bool)

func (f StrategyFunc) Lookup(s *Store, domain, messageType string) (Document, bool) {
	return f(s, domain, messageType)
}

// FirstFound composes strategies, returning the result of the first one
// that finds the type.
func FirstFound(strategies ...Strategy) Strategy {
	return StrategyFunc(func(s *Store, domain, messageType string) (Document, bool) {
		for _, strategy := range strategies {
			if doc, found := strategy.Lookup(s, domain, messageType); found {
				return doc, true
			}
		}
		return nil, false
	})
}

// PerTypeFile resolves {dir}/{domain}/{lowercase type}.json as a standalone schema.
func PerTypeFile() Strategy {
	return StrategyFunc(func(s *Store, domain, messageType string) (Document, bool) {
		file := strings.ToLower(messageType) + ".json"
		doc, err := s.LoadDomainFile(domain, file)
		if err != nil {
			s.logger.Debug("per-type schema unavailable",
				"domain", domain,
				"file", file,
				"error", err)
			return nil, false
		}
		return doc, true
	})
}

// LegacyBundle resolves definitions[messageType] (exact case) from a bundle
// file holding every type of a domain.
func LegacyBundle(bundle string) Strategy {
	return StrategyFunc(func(s *Store, domain, messageType string) (Document, bool) {
		doc, err := s.LoadDomainFile(domain, bundle)
		if err != nil {
			s.logger.Debug("legacy schema bundle unavailable",
				"domain", domain,
				"file", bundle,
				"error", err)
			return nil, false
		}

		definitions, ok := doc["definitions"].(map[string]any)
		if !ok {
			return nil, false
		}
		definition, ok := definitions[messageType].(map[string]any)
		if !ok {
			return nil, false
		}
		return Document(definition), true
	})
}
