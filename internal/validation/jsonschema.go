package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/constellate-io/constellate/pkg/schema"
)

// constellationSchemaJSON is the JSON Schema for Constellation definitions.
// Embedded as a constant to avoid filesystem dependencies.
const constellationSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://constellate.dev/schemas/constellation.json",
  "type": "object",
  "required": ["id", "name", "stars", "edges"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "stars": {
      "type": "array",
      "items": { "$ref": "#/$defs/star" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    },
    "max_loop_iterations": { "type": "integer", "minimum": 1, "maximum": 10 },
    "max_retry_attempts": { "type": "integer", "minimum": 0, "maximum": 5 },
    "retry_delay_base": { "type": "number", "minimum": 0.5, "maximum": 10.0 },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "star": {
      "type": "object",
      "required": ["id", "kind", "directive_id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "name": { "type": "string" },
        "kind": {
          "type": "string",
          "enum": ["worker", "planning", "execution", "eval", "synthesis", "document_extraction"]
        },
        "directive_id": { "type": "string", "minLength": 1 },
        "probe_ids": { "type": "array", "items": { "type": "string" } },
        "requires_confirmation": { "type": "boolean" },
        "confirmation_prompt": { "type": "string" },
        "guard": { "type": "string" },
        "max_iterations": { "type": "integer", "minimum": 1 },
        "config": { "type": "object" },
        "ai_generated": { "type": "boolean" },
        "hidden": { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "condition": { "type": "string", "enum": ["continue", "loop"] }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks raw constellation definitions and probe
// arguments against JSON Schema Draft 2020-12. Safe for concurrent use.
type JSONSchemaValidator struct {
	constellationSchema *jsonschema.Schema

	// mu guards the cache for dynamically compiled probe argument schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a validator with the constellation schema
// pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(constellationSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal constellation schema: %w", err)
	}
	if err := c.AddResource("https://constellate.dev/schemas/constellation.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add constellation schema resource: %w", err)
	}

	cs, err := c.Compile("https://constellate.dev/schemas/constellation.json")
	if err != nil {
		return nil, fmt.Errorf("compile constellation schema: %w", err)
	}

	return &JSONSchemaValidator{
		constellationSchema: cs,
		cache:               make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDefinition validates a constellation against the JSON Schema.
func (v *JSONSchemaValidator) ValidateDefinition(c *schema.Constellation) error {
	if c == nil {
		return schema.NewError(schema.ErrCodeValidation, "constellation is nil")
	}

	doc, err := toJSONValue(c)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize constellation").WithCause(err)
	}

	if err := v.constellationSchema.Validate(doc); err != nil {
		return toValidationError(err)
	}
	return nil
}

// ValidateArgs validates probe arguments against a JSON Schema provided as
// raw bytes. The schema is compiled and cached for subsequent calls.
func (v *JSONSchemaValidator) ValidateArgs(args map[string]any, argSchema []byte) error {
	if len(argSchema) == 0 {
		return nil // no schema means no validation needed
	}
	if args == nil {
		args = map[string]any{}
	}

	compiled, err := v.getOrCompile(argSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid probe argument schema").WithCause(err)
	}

	doc, err := toJSONValue(args)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize probe arguments").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toValidationError(err)
	}
	return nil
}

func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid compiler collisions.
	url := fmt.Sprintf("constellate://probe-schema/%d", len(v.cache))
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// toValidationError converts a jsonschema validation error into a
// ConstellateError carrying the individual violations.
func toValidationError(err error) error {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(ve)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, ve.Error())
	}

	msg := violations[0]
	if len(violations) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(violations))
	}
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := "/"
		if len(ve.InstanceLocation) > 0 {
			loc = "/" + strings.Join(ve.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, ve.Error())}
	}

	var violations []string
	for _, cause := range ve.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
