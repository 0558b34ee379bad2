package manifest

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// compileSchema converts a decoded schema map into a resolved validator
func compileSchema(m map[string]any) (*jsonschema.Resolved, error) {
	if m == nil {
		return nil, fmt.Errorf("schema is required")
	}
	if _, hasType := m["type"]; !hasType {
		if _, hasRef := m["$ref"]; !hasRef {
			return nil, fmt.Errorf("schema must have a 'type' or '$ref' property")
		}
	}

	// draft-07 manifests are common; the validator only understands 2020-12
	cleaned := make(map[string]any, len(m))
	for k, v := range m {
		if k == "$schema" {
			continue
		}
		cleaned[k] = v
	}

	data, err := json.Marshal(cleaned)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("invalid JSON Schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON Schema: %w", err)
	}
	return resolved, nil
}

// ValidateArguments checks args against the tool's input schema
func (t *Tool) ValidateArguments(args map[string]any) error {
	input := t.compile().input
	if input == nil {
		return nil
	}
	instance, err := normalizeJSON(args)
	if err != nil {
		return err
	}
	if err := input.Validate(instance); err != nil {
		return fmt.Errorf("arguments do not match input schema: %w", err)
	}
	return nil
}

// ValidateOutput checks a decoded JSON response against the tool's output schema
func (t *Tool) ValidateOutput(value any) error {
	output := t.compile().output
	if output == nil {
		return nil
	}
	instance, err := normalizeJSON(value)
	if err != nil {
		return err
	}
	return output.Validate(instance)
}

// CoerceArguments returns a copy of args with loosely typed values converted
// to the property types declared by the input schema. Values that cannot be
// converted are left as they are for schema validation to reject.
func (t *Tool) CoerceArguments(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}

	props, _ := t.InputSchema["properties"].(map[string]any)
	for name, raw := range props {
		value, present := out[name]
		if !present || value == nil {
			continue
		}
		prop, _ := raw.(map[string]any)
		expected, _ := prop["type"].(string)
		if converted, ok := coerce(value, expected); ok {
			out[name] = converted
		}
	}
	return out
}

func coerce(value any, expected string) (any, bool) {
	switch expected {
	case "integer":
		switch v := value.(type) {
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n, true
			}
		case float64:
			if v == math.Trunc(v) && math.Abs(v) < 1<<63 {
				return int64(v), true
			}
		}
	case "number":
		if s, ok := value.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f, true
			}
		}
	case "boolean":
		if s, ok := value.(string); ok {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "true", "1", "yes", "on":
				return true, true
			case "false", "0", "no", "off":
				return false, true
			}
		}
	case "string":
		switch v := value.(type) {
		case int, int32, int64, float32, float64, bool:
			return FormatValue(v), true
		}
	case "array":
		if _, isSlice := value.([]any); !isSlice {
			return []any{value}, true
		}
	}
	return nil, false
}

// normalizeJSON round-trips a value so numbers and maps have their JSON types
func normalizeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return out, nil
}
