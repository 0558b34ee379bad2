// Package registry holds the in-memory catalog of installed connectors and
// their tools, partitioned by project.
//
// Entries are immutable once published. Every change builds a replacement
// value and swaps it into the owning project's snapshot under that project's
// mutation lock, so a reader holding an entry never sees it change.
package registry

import (
	"time"

	"github.com/smart-mcp-proxy/mcpgateway/internal/manifest"
)

// ToolEntry is one tool bound to its connector
type ToolEntry struct {
	Name             string
	ConnectorName    string
	ConnectorVersion string
	Definition       *manifest.Tool
	LoadedAt         time.Time
	LastUsed         *time.Time
	InvocationCount  int64
}

// Source records where a connector was loaded from, for hot reload
type Source struct {
	Path    string
	ModTime time.Time
}

// ConnectorEntry is one installed connector
type ConnectorEntry struct {
	Name     string
	Version  string
	Manifest *manifest.Manifest
	LoadedAt time.Time
	Source   *Source // nil when installed from an in-memory manifest
	Enabled  bool
	Config   map[string]any

	tools map[string]*ToolEntry
	order []string // manifest order, shared between versions of the same entry
}

// NewConnectorEntry builds an entry with fresh tool entries in manifest order
func NewConnectorEntry(m *manifest.Manifest, config map[string]any, enabled bool, source *Source, now time.Time) *ConnectorEntry {
	c := &ConnectorEntry{
		Name:     m.Name,
		Version:  m.Version,
		Manifest: m,
		LoadedAt: now,
		Source:   source,
		Enabled:  enabled,
		Config:   copyConfig(config),
		tools:    make(map[string]*ToolEntry, len(m.Tools)),
		order:    m.ToolNames(),
	}
	for _, def := range m.Tools {
		c.tools[def.Name] = NewToolEntry(m, def, now)
	}
	return c
}

// NewToolEntry binds a tool definition to its connector with zeroed usage
func NewToolEntry(m *manifest.Manifest, def *manifest.Tool, now time.Time) *ToolEntry {
	return &ToolEntry{
		Name:             def.Name,
		ConnectorName:    m.Name,
		ConnectorVersion: m.Version,
		Definition:       def,
		LoadedAt:         now,
	}
}

// Tool returns the named tool entry, or nil
func (c *ConnectorEntry) Tool(name string) *ToolEntry {
	return c.tools[name]
}

// Tools returns tool entries in manifest order
func (c *ConnectorEntry) Tools() []*ToolEntry {
	out := make([]*ToolEntry, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.tools[name])
	}
	return out
}

// ToolCount returns the number of tools
func (c *ConnectorEntry) ToolCount() int {
	return len(c.order)
}

// SourcePath returns the manifest path or ""
func (c *ConnectorEntry) SourcePath() string {
	if c.Source == nil {
		return ""
	}
	return c.Source.Path
}

// shallow copy; tools map is shared until a with* method replaces it
func (c *ConnectorEntry) clone() *ConnectorEntry {
	cp := *c
	return &cp
}

// WithEnabled returns a copy with the enabled flag set
func (c *ConnectorEntry) WithEnabled(enabled bool) *ConnectorEntry {
	cp := c.clone()
	cp.Enabled = enabled
	return cp
}

// WithToolUsed returns a copy whose named tool has one more invocation.
// The receiver is returned unchanged when the tool does not exist.
func (c *ConnectorEntry) WithToolUsed(name string, now time.Time) *ConnectorEntry {
	old, ok := c.tools[name]
	if !ok {
		return c
	}
	used := *old
	used.InvocationCount++
	ts := now
	used.LastUsed = &ts

	cp := c.clone()
	cp.tools = make(map[string]*ToolEntry, len(c.tools))
	for k, v := range c.tools {
		cp.tools[k] = v
	}
	cp.tools[name] = &used
	return cp
}

// Reloaded builds the replacement for a hot reload: new manifest, new tool
// entries with zeroed usage, enabled flag and config carried over
func (c *ConnectorEntry) Reloaded(m *manifest.Manifest, source *Source, now time.Time) *ConnectorEntry {
	return NewConnectorEntry(m, c.Config, c.Enabled, source, now)
}

func copyConfig(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
