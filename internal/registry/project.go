package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/smart-mcp-proxy/mcpgateway/internal/contracts"
)

// Snapshot is an immutable view of a project's connectors
type Snapshot struct {
	connectors  map[string]*ConnectorEntry
	order       []string // install order
	LastUpdated time.Time
}

// Connectors returns connector entries in install order
func (s *Snapshot) Connectors() []*ConnectorEntry {
	out := make([]*ConnectorEntry, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.connectors[name])
	}
	return out
}

// Connector returns the named connector, or nil
func (s *Snapshot) Connector(name string) *ConnectorEntry {
	return s.connectors[name]
}

// Len returns the number of connectors
func (s *Snapshot) Len() int {
	return len(s.order)
}

// ProjectRegistry is the set of connectors of one project under one tenant
type ProjectRegistry struct {
	projectID string
	tenantID  string
	createdAt time.Time

	mu    sync.Mutex // mutation permit
	state atomic.Pointer[Snapshot]
	now   func() time.Time
}

func newProjectRegistry(projectID, tenantID string, now func() time.Time) *ProjectRegistry {
	created := now()
	p := &ProjectRegistry{
		projectID: projectID,
		tenantID:  tenantID,
		createdAt: created,
		now:       now,
	}
	p.state.Store(&Snapshot{connectors: map[string]*ConnectorEntry{}, LastUpdated: created})
	return p
}

func (p *ProjectRegistry) ProjectID() string    { return p.projectID }
func (p *ProjectRegistry) TenantID() string     { return p.tenantID }
func (p *ProjectRegistry) CreatedAt() time.Time { return p.createdAt }

// LastUpdated returns the time of the latest published mutation
func (p *ProjectRegistry) LastUpdated() time.Time {
	return p.Snapshot().LastUpdated
}

// Snapshot returns the current published state without locking
func (p *ProjectRegistry) Snapshot() *Snapshot {
	return p.state.Load()
}

// ListConnectors returns connectors in install order
func (p *ProjectRegistry) ListConnectors() []*ConnectorEntry {
	return p.Snapshot().Connectors()
}

// GetConnector returns the named connector or a NotFound error
func (p *ProjectRegistry) GetConnector(name string) (*ConnectorEntry, error) {
	if c := p.Snapshot().Connector(name); c != nil {
		return c, nil
	}
	return nil, contracts.NewError(contracts.KindNotFound, "get_connector",
		"connector %q not found in project %q", name, p.projectID)
}

// ListTools returns every tool in install order, then manifest order
func (p *ProjectRegistry) ListTools() []*ToolEntry {
	var out []*ToolEntry
	for _, c := range p.Snapshot().Connectors() {
		out = append(out, c.Tools()...)
	}
	return out
}

// GetTool finds a tool by name. The first enabled connector in install order
// that declares it wins; a disabled owner is returned only when no enabled
// connector has the tool.
func (p *ProjectRegistry) GetTool(name string) (*ToolEntry, *ConnectorEntry, error) {
	var (
		disabledTool *ToolEntry
		disabledConn *ConnectorEntry
	)
	for _, c := range p.Snapshot().Connectors() {
		t := c.Tool(name)
		if t == nil {
			continue
		}
		if c.Enabled {
			return t, c, nil
		}
		if disabledTool == nil {
			disabledTool, disabledConn = t, c
		}
	}
	if disabledTool != nil {
		return disabledTool, disabledConn, nil
	}
	return nil, nil, contracts.NewError(contracts.KindNotFound, "get_tool",
		"tool %q not found in project %q", name, p.projectID)
}

// Mutate runs fn with exclusive access to a private copy of the connector
// set. If fn returns nil and changed anything, the copy is published as one
// atomic swap with a strictly later LastUpdated.
func (p *ProjectRegistry) Mutate(fn func(tx *Txn) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.state.Load()
	tx := &Txn{
		projectID:  p.projectID,
		connectors: make(map[string]*ConnectorEntry, len(cur.connectors)+1),
		order:      append([]string(nil), cur.order...),
	}
	for k, v := range cur.connectors {
		tx.connectors[k] = v
	}

	if err := fn(tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}

	updated := p.now()
	if !updated.After(cur.LastUpdated) {
		updated = cur.LastUpdated.Add(time.Nanosecond)
	}
	p.state.Store(&Snapshot{connectors: tx.connectors, order: tx.order, LastUpdated: updated})
	return nil
}

// Txn is a pending set of changes to one project, valid only inside Mutate
type Txn struct {
	projectID  string
	connectors map[string]*ConnectorEntry
	order      []string
	dirty      bool
}

// Get returns the connector as seen by this transaction
func (tx *Txn) Get(name string) *ConnectorEntry {
	return tx.connectors[name]
}

// Add inserts a new connector at the end of the install order
func (tx *Txn) Add(c *ConnectorEntry) error {
	if existing, ok := tx.connectors[c.Name]; ok {
		return contracts.NewError(contracts.KindAlreadyExists, "add_connector",
			"connector %q version %s already installed in project %q", c.Name, existing.Version, tx.projectID)
	}
	tx.connectors[c.Name] = c
	tx.order = append(tx.order, c.Name)
	tx.dirty = true
	return nil
}

// Remove deletes a connector and all its tools
func (tx *Txn) Remove(name string) error {
	if _, ok := tx.connectors[name]; !ok {
		return tx.notFound("remove_connector", name)
	}
	delete(tx.connectors, name)
	for i, n := range tx.order {
		if n == name {
			tx.order = append(tx.order[:i], tx.order[i+1:]...)
			break
		}
	}
	tx.dirty = true
	return nil
}

// Replace swaps an existing connector for c, keeping its install position
func (tx *Txn) Replace(c *ConnectorEntry) error {
	if _, ok := tx.connectors[c.Name]; !ok {
		return tx.notFound("replace_connector", c.Name)
	}
	tx.connectors[c.Name] = c
	tx.dirty = true
	return nil
}

// SetEnabled flips the enabled flag of an existing connector
func (tx *Txn) SetEnabled(name string, enabled bool) (*ConnectorEntry, error) {
	c, ok := tx.connectors[name]
	if !ok {
		return nil, tx.notFound("set_enabled", name)
	}
	if c.Enabled == enabled {
		return c, nil
	}
	updated := c.WithEnabled(enabled)
	tx.connectors[name] = updated
	tx.dirty = true
	return updated, nil
}

func (tx *Txn) notFound(op, name string) error {
	return contracts.NewError(contracts.KindNotFound, op,
		"connector %q not found in project %q", name, tx.projectID)
}
