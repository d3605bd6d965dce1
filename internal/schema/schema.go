// Package schema validates JSON crossing the service boundary (provider
// responses, relay responses and LLM output) against embedded JSON Schemas.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

//go:embed schemas/*.json
var files embed.FS

type Name string

const (
	ConversationList    Name = "conversation_list"
	Conversation        Name = "conversation"
	OutboundCall        Name = "outbound_call"
	ConversationSummary Name = "conversation_summary"
)

// ValidationError reports a document that does not conform to its schema.
type ValidationError struct {
	Schema Name
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema: %s validation failed: %s", e.Schema, e.Detail)
}

var (
	mu       sync.Mutex
	compiled = map[Name]*jsonschema.Schema{}
)

// Source returns the raw schema document.
func Source(name Name) (json.RawMessage, error) {
	data, err := files.ReadFile("schemas/" + string(name) + ".json")
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", name, err)
	}
	return json.RawMessage(data), nil
}

// Validate checks data against the named schema. Non-conforming input yields
// a *ValidationError.
func Validate(name Name, data []byte) error {
	if !json.Valid(data) {
		return &ValidationError{Schema: name, Detail: "invalid JSON"}
	}
	s, err := load(name)
	if err != nil {
		return err
	}
	result := s.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return &ValidationError{Schema: name, Detail: fmt.Sprintf("%v", result.Errors)}
}

func load(name Name) (*jsonschema.Schema, error) {
	mu.Lock()
	defer mu.Unlock()
	if s, ok := compiled[name]; ok {
		return s, nil
	}
	data, err := Source(name)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	s, err := compiler.Compile(data)
	if err != nil {
		return nil, fmt.Errorf("schema: compile %s: %w", name, err)
	}
	compiled[name] = s
	return s, nil
}
