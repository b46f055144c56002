package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrInvalidArguments is returned when call arguments do not satisfy the
// tool's input schema.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// schemaSet holds the resolved input schemas of the tools seen so far, keyed
// by tool id. A nil entry means the tool accepts any arguments.
type schemaSet struct {
	mu       sync.RWMutex
	resolved map[string]*jsonschema.Resolved
}

func newSchemaSet() *schemaSet {
	return &schemaSet{resolved: make(map[string]*jsonschema.Resolved)}
}

func (s *schemaSet) lookup(toolID string) (*jsonschema.Resolved, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.resolved[toolID]
	return rs, ok
}

// store resolves and records the schema of every tool in tools. Schemas
// that cannot be resolved are recorded as nil and reported in the returned
// error.
func (s *schemaSet) store(tools []Tool) error {
	var errs []error
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tools {
		rs, err := ResolveSchema(t.InputSchema)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.ID(), err))
		}
		s.resolved[t.ID()] = rs
	}
	return errors.Join(errs...)
}

// ResolveSchema prepares an input schema for validation. An empty schema
// resolves to nil. A declared $schema dialect is dropped, so older drafts
// are checked with 2020-12 rules.
func ResolveSchema(schema map[string]any) (*jsonschema.Resolved, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode input schema: %w", err)
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}
	s.Schema = ""
	rs, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve input schema: %w", err)
	}
	return rs, nil
}

// ValidateArgs checks args against rs. Arguments are compared in their JSON
// form, the form a backend receives them in.
func ValidateArgs(rs *jsonschema.Resolved, toolID string, args map[string]any) error {
	if rs == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArguments, toolID, err)
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArguments, toolID, err)
	}
	if err := rs.Validate(instance); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArguments, toolID, err)
	}
	return nil
}
