package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/smart-mcp-proxy/mcpgateway/internal/contracts"
)

// GlobalRegistry maps project ids to project registries
type GlobalRegistry struct {
	mu       sync.RWMutex
	projects map[string]*ProjectRegistry
	now      func() time.Time
}

// Option configures a GlobalRegistry
type Option func(*GlobalRegistry)

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(g *GlobalRegistry) {
		g.now = now
	}
}

// NewGlobalRegistry creates an empty registry
func NewGlobalRegistry(opts ...Option) *GlobalRegistry {
	g := &GlobalRegistry{
		projects: make(map[string]*ProjectRegistry),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EnsureProject returns the project registry, creating it on first use.
// A project is bound to the tenant that created it.
func (g *GlobalRegistry) EnsureProject(projectID, tenantID string) (*ProjectRegistry, error) {
	if projectID == "" || tenantID == "" {
		return nil, contracts.NewError(contracts.KindValidationFailed, "ensure_project",
			"project id and tenant id are required")
	}

	g.mu.RLock()
	p, ok := g.projects[projectID]
	g.mu.RUnlock()
	if !ok {
		g.mu.Lock()
		if p, ok = g.projects[projectID]; !ok {
			p = newProjectRegistry(projectID, tenantID, g.now)
			g.projects[projectID] = p
		}
		g.mu.Unlock()
	}

	if p.tenantID != tenantID {
		return nil, contracts.NewError(contracts.KindValidationFailed, "ensure_project",
			"project %q belongs to tenant %q, not %q", projectID, p.tenantID, tenantID)
	}
	return p, nil
}

// GetProject returns an existing project registry
func (g *GlobalRegistry) GetProject(projectID string) (*ProjectRegistry, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.projects[projectID]
	if !ok {
		return nil, contracts.NewError(contracts.KindNotFound, "get_project", "project %q not found", projectID)
	}
	return p, nil
}

// Projects returns every project sorted by id
func (g *GlobalRegistry) Projects() []*ProjectRegistry {
	g.mu.RLock()
	out := make([]*ProjectRegistry, 0, len(g.projects))
	for _, p := range g.projects {
		out = append(out, p)
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].projectID < out[j].projectID })
	return out
}
