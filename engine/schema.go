package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/c0deZ3R0/docsync/conflict"
)

// DocumentSchema validates resolved documents against a JSON Schema.
type DocumentSchema struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document. name identifies the
// resource in error messages.
func CompileSchema(name string, data []byte) (*DocumentSchema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &DocumentSchema{schema: schema}, nil
}

// LoadSchemaFile reads and compiles a JSON Schema file.
func LoadSchemaFile(path string) (*DocumentSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return CompileSchema(path, data)
}

// Validate checks doc against the schema. Tombstones are validated in their
// encoded {"$tombstone": ...} form.
func (s *DocumentSchema) Validate(doc conflict.Document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	var instance any
	if err := json.Unmarshal(b, &instance); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return s.schema.Validate(instance)
}
