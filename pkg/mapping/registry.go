// Package mapping implements the mapping registry: a static table from
// (source type, target type) to a pure transform plus its input and output
// JSON Schemas.
package mapping

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Transform is a pure, deterministic, total function on schema-valid input.
// It must perform no I/O.
type Transform func(input map[string]interface{}) (map[string]interface{}, error)

// Mapping binds a transform to its compiled input/output schemas.
type Mapping struct {
	SourceType        string
	TargetType        string
	Transform         Transform
	InputSchemaJSON   []byte
	OutputSchemaJSON  []byte
	InputSchema       *jsonschema.Schema
	OutputSchema      *jsonschema.Schema
}

type key struct {
	source string
	target string
}

// Registry is the static lookup table populated at construction time.
// Nothing is added at runtime; this mirrors the "static registry keyed by
// a pair of string tags" re-architecture of a dynamic-dispatch source type.
type Registry struct {
	mappings map[key]Mapping
}

// NewRegistry builds the registry with every statically registered mapping.
func NewRegistry() (*Registry, error) {
	r := &Registry{mappings: make(map[key]Mapping)}
	if err := r.register(invoiceMapping()); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) register(m Mapping) error {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	inSchema, err := compileSchema(compiler, m.SourceType+".input", m.InputSchemaJSON)
	if err != nil {
		return fmt.Errorf("mapping: compile input schema for %s->%s: %w", m.SourceType, m.TargetType, err)
	}
	outSchema, err := compileSchema(compiler, m.SourceType+".output", m.OutputSchemaJSON)
	if err != nil {
		return fmt.Errorf("mapping: compile output schema for %s->%s: %w", m.SourceType, m.TargetType, err)
	}
	m.InputSchema = inSchema
	m.OutputSchema = outSchema

	r.mappings[key{m.SourceType, m.TargetType}] = m
	return nil
}

func compileSchema(compiler *jsonschema.Compiler, name string, raw []byte) (*jsonschema.Schema, error) {
	url := fmt.Sprintf("https://signet.schemas.local/mapping/%s.schema.json", name)
	if err := compiler.AddResource(url, bytesReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// Lookup resolves a registered mapping, or returns ok=false (NoMapping)
// when the (source, target) pair is unregistered.
func (r *Registry) Lookup(source, target string) (Mapping, bool) {
	m, ok := r.mappings[key{source, target}]
	return m, ok
}

// ValidateInput validates obj against m's input schema.
func (m Mapping) ValidateInput(obj map[string]interface{}) error {
	return m.InputSchema.Validate(obj)
}

// ValidateOutput validates obj against m's output schema.
func (m Mapping) ValidateOutput(obj map[string]interface{}) error {
	return m.OutputSchema.Validate(obj)
}

// Apply runs the transform and validates its output against the output
// schema, returning the normalized payload.
func (m Mapping) Apply(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	out, err := m.Transform(input)
	if err != nil {
		return nil, err
	}
	if err := m.ValidateOutput(out); err != nil {
		return nil, err
	}
	return out, nil
}
