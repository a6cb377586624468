package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"unicode/utf8"

	"github.com/google/jsonschema-go/jsonschema"
)

// compiled is a schema document prepared for evaluation.
type compiled struct {
	doc      Document
	resolved *jsonschema.Resolved
}

// compile prepares doc for validation. Contracts declare the draft-07 dialect
// but only use keywords shared with 2020-12, so the dialect marker is dropped
// before handing the document to the evaluator.
func compile(doc Document) (*compiled, error) {
	stripped := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == "$schema" {
			continue
		}
		stripped[k] = v
	}

	raw, err := json.Marshal(stripped)
	if err != nil {
		return nil, fmt.Errorf("schema: encoding schema: %w", err)
	}

	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("schema: parsing schema: %w", err)
	}

	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("schema: resolving schema: %w", err)
	}

	return &compiled{doc: doc, resolved: resolved}, nil
}

// check validates instance and, on failure, lists the violations found by
// walking the document. The evaluator has the final word on conformance.
func (c *compiled) check(instance any) ([]Violation, error) {
	err := c.resolved.Validate(instance)
	if err == nil {
		return nil, nil
	}

	var violations []Violation
	describe("", c.doc, instance, &violations)
	return violations, err
}

// normalize converts v into the generic JSON values the evaluator expects.
func normalize(v any) (any, error) {
	var raw []byte
	switch t := v.(type) {
	case json.RawMessage:
		raw = t
	case []byte:
		raw = t
	default:
		var err error
		if raw, err = json.Marshal(v); err != nil {
			return nil, fmt.Errorf("schema: encoding payload: %w", err)
		}
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("schema: decoding payload: %w", err)
	}
	return out, nil
}

// describe walks value against the schema node and records the constraints
// it breaks.
func describe(fieldPath string, node map[string]any, value any, out *[]Violation) {
	if node == nil {
		return
	}

	if !matchesType(value, node["type"]) {
		*out = append(*out, Violation{
			Field:      displayPath(fieldPath),
			Constraint: "type",
			Message:    fmt.Sprintf("expected type %v, got %s", node["type"], jsonType(value)),
			Value:      value,
		})
		return
	}

	if enum, ok := node["enum"].([]any); ok && len(enum) > 0 {
		validateEnum(fieldPath, value, enum, out)
	}

	switch v := value.(type) {
	case map[string]any:
		validateObject(fieldPath, node, v, out)
	case []any:
		if items, ok := node["items"].(map[string]any); ok {
			for i, item := range v {
				describe(fmt.Sprintf("%s[%d]", fieldPath, i), items, item, out)
			}
		}
	case string:
		validateString(fieldPath, node, v, out)
	case float64:
		validateNumber(fieldPath, node, v, out)
	}
}

// validateObject checks required fields, then recurses into declared properties
func validateObject(fieldPath string, node map[string]any, data map[string]any, out *[]Violation) {
	if required, ok := node["required"].([]any); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, exists := data[name]; !exists {
				*out = append(*out, Violation{
					Field:      buildFieldPath(fieldPath, name),
					Constraint: "required",
					Message:    "required field is missing",
				})
			}
		}
	}

	props, _ := node["properties"].(map[string]any)
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if propDef, ok := props[name].(map[string]any); ok {
			describe(buildFieldPath(fieldPath, name), propDef, data[name], out)
		}
	}
}

func validateString(fieldPath string, node map[string]any, value string, out *[]Violation) {
	length := float64(utf8.RuneCountInString(value))

	if min, ok := node["minLength"].(float64); ok && length < min {
		*out = append(*out, Violation{
			Field:      displayPath(fieldPath),
			Constraint: "minLength",
			Message:    fmt.Sprintf("string length %d is less than minimum %d", int(length), int(min)),
			Value:      value,
		})
	}
	if max, ok := node["maxLength"].(float64); ok && length > max {
		*out = append(*out, Violation{
			Field:      displayPath(fieldPath),
			Constraint: "maxLength",
			Message:    fmt.Sprintf("string length %d exceeds maximum %d", int(length), int(max)),
			Value:      value,
		})
	}
	if pattern, ok := node["pattern"].(string); ok {
		re, err := regexp.Compile(pattern)
		if err == nil && !re.MatchString(value) {
			*out = append(*out, Violation{
				Field:      displayPath(fieldPath),
				Constraint: "pattern",
				Message:    fmt.Sprintf("value does not match pattern: %s", pattern),
				Value:      value,
			})
		}
	}
}

func validateNumber(fieldPath string, node map[string]any, value float64, out *[]Violation) {
	if min, ok := node["minimum"].(float64); ok && value < min {
		*out = append(*out, Violation{
			Field:      displayPath(fieldPath),
			Constraint: "minimum",
			Message:    fmt.Sprintf("value %v is less than minimum %v", value, min),
			Value:      value,
		})
	}
	if max, ok := node["maximum"].(float64); ok && value > max {
		*out = append(*out, Violation{
			Field:      displayPath(fieldPath),
			Constraint: "maximum",
			Message:    fmt.Sprintf("value %v exceeds maximum %v", value, max),
			Value:      value,
		})
	}
}

func validateEnum(fieldPath string, value any, enum []any, out *[]Violation) {
	for _, allowed := range enum {
		if reflect.DeepEqual(value, allowed) {
			return
		}
	}
	*out = append(*out, Violation{
		Field:      displayPath(fieldPath),
		Constraint: "enum",
		Message:    fmt.Sprintf("value is not in allowed enum values: %v", enum),
		Value:      value,
	})
}

// matchesType reports whether value satisfies a "type" keyword, which may be
// a single name or a list of names.
func matchesType(value any, typ any) bool {
	switch t := typ.(type) {
	case nil:
		return true
	case string:
		return matchesTypeName(value, t)
	case []any:
		for _, name := range t {
			if s, ok := name.(string); ok && matchesTypeName(value, s) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func matchesTypeName(value any, name string) bool {
	switch name {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == math.Trunc(f)
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "null":
		return value == nil
	default:
		return true
	}
}

func jsonType(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}

// buildFieldPath constructs a field path for error reporting
func buildFieldPath(parent, field string) string {
	if parent == "" {
		return field
	}
	return parent + "." + field
}

func displayPath(fieldPath string) string {
	if fieldPath == "" {
		return "$"
	}
	return fieldPath
}
