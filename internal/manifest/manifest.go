// Package manifest defines connector manifests: a named, versioned set of tool
// definitions, each with an invocation template and an auth requirement.
//
// A Manifest returned by Load or Parse is validated and must be treated as
// read-only; registries share one Manifest between every entry built from it.
package manifest

import (
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Manifest is the validated description of a connector
type Manifest struct {
	Name    string  `json:"name" yaml:"name" toml:"name"`
	Version string  `json:"version" yaml:"version" toml:"version"`
	BaseURL string  `json:"base_url,omitempty" yaml:"base_url,omitempty" toml:"base_url"`
	Tools   []*Tool `json:"tools" yaml:"tools" toml:"tools"`
}

// Tool is one tool definition inside a manifest
type Tool struct {
	Name         string         `json:"name" yaml:"name" toml:"name"`
	Description  string         `json:"description" yaml:"description" toml:"description"`
	InputSchema  map[string]any `json:"input_schema" yaml:"input_schema" toml:"input_schema"`
	OutputSchema map[string]any `json:"output_schema" yaml:"output_schema" toml:"output_schema"`
	Endpoint     string         `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	Auth         Auth           `json:"auth" yaml:"auth" toml:"auth"`

	compileOnce sync.Once
	compiled    *compiledTool
}

// compiledTool is the parsed form of a Tool, built once and read-only after
type compiledTool struct {
	endpoint Endpoint
	input    *jsonschema.Resolved
	output   *jsonschema.Resolved
	problems []string
}

// compile parses the endpoint and schemas on first use. Later calls, from
// any goroutine, return the same result without writing to the Tool.
func (t *Tool) compile() *compiledTool {
	t.compileOnce.Do(func() {
		c := &compiledTool{}
		if len(t.Endpoint) > maxEndpointLength {
			c.problems = append(c.problems, fmt.Sprintf("endpoint exceeds %d characters", maxEndpointLength))
		} else if ep, err := ParseEndpoint(t.Endpoint); err != nil {
			c.problems = append(c.problems, err.Error())
		} else {
			c.endpoint = ep
		}
		if resolved, err := compileSchema(t.InputSchema); err != nil {
			c.problems = append(c.problems, fmt.Sprintf("input_schema: %v", err))
		} else {
			c.input = resolved
		}
		if resolved, err := compileSchema(t.OutputSchema); err != nil {
			c.problems = append(c.problems, fmt.Sprintf("output_schema: %v", err))
		} else {
			c.output = resolved
		}
		t.compiled = c
	})
	return t.compiled
}

// document is the on-disk envelope: everything lives under a top-level "connector" key
type document struct {
	Connector *Manifest `json:"connector" yaml:"connector" toml:"connector"`
}

// Tool returns the tool with the given name, or nil
func (m *Manifest) Tool(name string) *Tool {
	for _, t := range m.Tools {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// ToolNames returns tool names in declaration order
func (m *Manifest) ToolNames() []string {
	names := make([]string, 0, len(m.Tools))
	for _, t := range m.Tools {
		names = append(names, t.Name)
	}
	return names
}

// applyDefaults fills omitted fields of a freshly decoded manifest
func (m *Manifest) applyDefaults() {
	for _, t := range m.Tools {
		if t != nil && t.Auth.Type == "" {
			t.Auth.Type = AuthNone
		}
	}
}

// ParsedEndpoint returns the parsed endpoint template
func (t *Tool) ParsedEndpoint() Endpoint {
	return t.compile().endpoint
}

// AuthType returns the declared auth variant; an empty type means none
func (t *Tool) AuthType() AuthType {
	if t.Auth.Type == "" {
		return AuthNone
	}
	return t.Auth.Type
}

// RequiresCredentials reports whether calls need a resolved credential
func (t *Tool) RequiresCredentials() bool {
	switch t.AuthType() {
	case AuthAPIKey, AuthOAuth2ClientCredentials:
		return true
	}
	return false
}
