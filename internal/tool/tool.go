package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
)

// Kind is the declared type of a tool parameter.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindEnum    Kind = "enum"
	// KindObject accepts any structured JSON value (record or list).
	KindObject Kind = "object"
)

// ParamSpec declares one parameter of a tool.
type ParamSpec struct {
	Name        string   `json:"name" yaml:"name"`
	Kind        Kind     `json:"kind" yaml:"kind"`
	Required    bool     `json:"required" yaml:"required"`
	Description string   `json:"description" yaml:"description"`
	Enum        []string `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// Spec describes a tool to the model. It is built once at setup time and is
// not modified afterwards.
type Spec struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description" yaml:"description"`
	Params      []ParamSpec `json:"parameters" yaml:"parameters"`

	// InputSchema, when set, is advertised instead of the schema derived from
	// Params. Tools bridged from MCP servers keep their upstream schema this way.
	InputSchema map[string]any `json:"-" yaml:"-"`
}

// Func is a tool implementation. It receives arguments that have already been
// validated and coerced against the tool's Spec.
type Func func(ctx context.Context, args Args) (any, error)

// Call is a tool-call request produced by the model.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Validate checks the spec's internal consistency.
func (s Spec) Validate() error {
	if !toolNamePattern.MatchString(s.Name) {
		return fmt.Errorf("invalid tool name %q (only alphanumeric, underscore, and hyphen allowed)", s.Name)
	}

	seen := make(map[string]bool, len(s.Params))
	for i, p := range s.Params {
		if p.Name == "" {
			return fmt.Errorf("tool %s: parameter #%d has no name", s.Name, i+1)
		}
		if seen[p.Name] {
			return fmt.Errorf("tool %s: duplicate parameter %q", s.Name, p.Name)
		}
		seen[p.Name] = true

		switch p.Kind {
		case KindString, KindNumber, KindBoolean, KindObject:
		case KindEnum:
			if len(p.Enum) == 0 {
				return fmt.Errorf("tool %s: enum parameter %q has no values", s.Name, p.Name)
			}
		default:
			return fmt.Errorf("tool %s: parameter %q has unknown kind %q", s.Name, p.Name, p.Kind)
		}
	}

	return nil
}

// Param returns the named parameter spec.
func (s Spec) Param(name string) (ParamSpec, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// Schema renders the spec's parameters as a JSON-schema object, the form
// function-calling APIs expect.
func (s Spec) Schema() map[string]any {
	if s.InputSchema != nil {
		return s.InputSchema
	}

	properties := make(map[string]any, len(s.Params))
	required := make([]string, 0)

	for _, p := range s.Params {
		prop := map[string]any{}
		if p.Description != "" {
			prop["description"] = p.Description
		}

		switch p.Kind {
		case KindEnum:
			prop["type"] = "string"
			prop["enum"] = p.Enum
		case KindObject:
			prop["type"] = "object"
		default:
			prop["type"] = string(p.Kind)
		}

		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
