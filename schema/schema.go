// Package schema generates and checks JSON schemas for tool parameters and
// structured model output.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// Generate reflects a JSON schema from a Go value. Definitions are inlined
// and additionalProperties disallowed so the schema can be embedded directly
// in provider requests.
func Generate(v any) (map[string]any, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := reflector.Reflect(v)

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to rebuild schema map: %w", err)
	}
	// Providers reject the meta fields invopop adds at the top level.
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}

// MustGenerate is Generate for static tool definitions where a reflection
// failure is a programming error.
func MustGenerate(v any) map[string]any {
	s, err := Generate(v)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks a JSON document against a schema. It enforces required
// fields and primitive types, which is enough to catch the common failure
// modes of providers without native schema support.
func Validate(doc string, schema any) error {
	schemaMap, err := toMap(schema)
	if err != nil {
		return err
	}

	var value any
	if err := json.Unmarshal([]byte(doc), &value); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}

	return validateValue(value, schemaMap, "$")
}

func toMap(schema any) (map[string]any, error) {
	switch s := schema.(type) {
	case map[string]any:
		return s, nil
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("schema is not valid JSON: %w", err)
		}
		return m, nil
	default:
		return Generate(schema)
	}
}

func validateValue(value any, schema map[string]any, path string) error {
	typ, _ := schema["type"].(string)
	switch typ {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: expected object, got %T", path, value)
		}
		if required, ok := schema["required"].([]any); ok {
			for _, r := range required {
				name, _ := r.(string)
				if _, present := obj[name]; !present {
					return fmt.Errorf("%s: missing required field %q", path, name)
				}
			}
		}
		props, _ := schema["properties"].(map[string]any)
		for name, sub := range props {
			subSchema, ok := sub.(map[string]any)
			if !ok {
				continue
			}
			if fieldValue, present := obj[name]; present {
				if err := validateValue(fieldValue, subSchema, path+"."+name); err != nil {
					return err
				}
			}
		}
	case "array":
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("%s: expected array, got %T", path, value)
		}
		if items, ok := schema["items"].(map[string]any); ok {
			for i, item := range arr {
				if err := validateValue(item, items, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
		}
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%s: expected string, got %T", path, value)
		}
		if enum, ok := schema["enum"].([]any); ok && len(enum) > 0 {
			if !enumContains(enum, value) {
				return fmt.Errorf("%s: value %v not in enum", path, value)
			}
		}
	case "number", "integer":
		n, ok := value.(float64)
		if !ok {
			return fmt.Errorf("%s: expected %s, got %T", path, typ, value)
		}
		if typ == "integer" && n != float64(int64(n)) {
			return fmt.Errorf("%s: expected integer, got %v", path, n)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s: expected boolean, got %T", path, value)
		}
	case "":
		// No type constraint.
	default:
		if !strings.Contains(typ, "null") {
			return fmt.Errorf("%s: unsupported schema type %q", path, typ)
		}
	}
	return nil
}

func enumContains(enum []any, value any) bool {
	for _, e := range enum {
		if e == value {
			return true
		}
	}
	return false
}
