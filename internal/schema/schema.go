// Package schema validates component options against JSON schemas. Rules and
// package managers may declare a schema for their options; the options are
// validated before the component operation is ever invoked.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v6"
)

const resourceName = "schema.json"

// ValidationError is returned when a value does not satisfy a schema, or when
// the schema itself is malformed.
type ValidationError struct {
	// Subject names what was validated, e.g. a component id.
	Subject string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("validation failed: %v", e.Err)
	}
	return fmt.Sprintf("invalid options for %s: %v", e.Subject, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Schema is a compiled JSON schema.
type Schema struct {
	raw      []byte
	compiled *validator.Schema
}

// Compile compiles a raw JSON schema document.
func Compile(raw []byte) (*Schema, error) {
	doc, err := validator.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, &ValidationError{Err: fmt.Errorf("failed to parse schema: %w", err)}
	}
	c := validator.NewCompiler()
	if err := c.AddResource(resourceName, doc); err != nil {
		return nil, &ValidationError{Err: fmt.Errorf("failed to add %s: %w", resourceName, err)}
	}
	compiled, err := c.Compile(resourceName)
	if err != nil {
		return nil, &ValidationError{Err: fmt.Errorf("failed to compile %s: %w", resourceName, err)}
	}
	return &Schema{raw: raw, compiled: compiled}, nil
}

// Raw returns the uncompiled schema document.
func (s *Schema) Raw() []byte {
	return s.raw
}

// Validate validates value against the schema. value is round-tripped
// through JSON so that Go structs are validated by their JSON shape.
func (s *Schema) Validate(subject string, value any) error {
	content, err := json.Marshal(value)
	if err != nil {
		return &ValidationError{Subject: subject, Err: fmt.Errorf("failed to marshal value: %w", err)}
	}
	instance, err := validator.UnmarshalJSON(bytes.NewReader(content))
	if err != nil {
		return &ValidationError{Subject: subject, Err: fmt.Errorf("failed to unmarshal value: %w", err)}
	}
	if err := s.compiled.Validate(instance); err != nil {
		var verr *validator.ValidationError
		if errors.As(err, &verr) {
			return &ValidationError{Subject: subject, Err: errors.New(verr.Error())}
		}
		return &ValidationError{Subject: subject, Err: err}
	}
	return nil
}

// Reflect generates a JSON schema for the JSON shape of prototype. Built-in
// components describe their options as Go structs and use this to publish the
// schema.
func Reflect(prototype any) []byte {
	r := &jsonschema.Reflector{
		DoNotReference:             true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: true,
	}
	s := r.Reflect(prototype)
	s.Version = ""
	raw, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal reflected schema for %T: %v", prototype, err))
	}
	return raw
}

// MergeDefaults returns a copy of defaults overlaid with opts.
func MergeDefaults(defaults, opts map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(opts))
	maps.Copy(merged, defaults)
	maps.Copy(merged, opts)
	return merged
}
