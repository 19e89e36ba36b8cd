package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	AnalysisSchema = "analysis.schema.json"
	SettingsSchema = "settings.schema.json"
)

//go:embed analysis.schema.json
var analysisSchemaJSON string

//go:embed settings.schema.json
var settingsSchemaJSON string

var schemaSources = map[string]string{
	AnalysisSchema: analysisSchemaJSON,
	SettingsSchema: settingsSchemaJSON,
}

var (
	compileOnce     sync.Once
	compiledSchemas map[string]*jsonschema.Schema
	compileErr      error
)

// Validate decodes payload strictly, checks it against the named embedded
// schema and unmarshals the normalized document into out.
func Validate(name string, payload []byte, out any) error {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema(name)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if out == nil {
		return nil
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("normalize payload JSON: %w", err)
	}
	if err := json.Unmarshal(normalized, out); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

func loadSchema(name string) (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		for resource, source := range schemaSources {
			if err := compiler.AddResource(resource, strings.NewReader(source)); err != nil {
				compileErr = fmt.Errorf("add schema resource %s: %w", resource, err)
				return
			}
		}

		compiled := make(map[string]*jsonschema.Schema, len(schemaSources))
		for resource := range schemaSources {
			schema, err := compiler.Compile(resource)
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", resource, err)
				return
			}
			compiled[resource] = schema
		}
		compiledSchemas = compiled
	})

	if compileErr != nil {
		return nil, compileErr
	}
	schema, ok := compiledSchemas[name]
	if !ok || schema == nil {
		return nil, fmt.Errorf("schema %q is not registered", name)
	}
	return schema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}
