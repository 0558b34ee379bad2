// Package runtime implements the Registry Service: the transactional
// operations every other component uses to install, inspect and update the
// connectors of a project, plus hot reload and the runtime event bus.
package runtime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgateway/internal/contracts"
	"github.com/smart-mcp-proxy/mcpgateway/internal/manifest"
	"github.com/smart-mcp-proxy/mcpgateway/internal/observability"
	"github.com/smart-mcp-proxy/mcpgateway/internal/registry"
)

// ToolRef is a tool together with the connector entry it was read from.
// Both come from the same snapshot.
type ToolRef struct {
	Tool      *registry.ToolEntry
	Connector *registry.ConnectorEntry
}

// Enabled reports whether the owning connector is enabled
func (r ToolRef) Enabled() bool {
	return r.Connector.Enabled
}

// Service wraps the global registry with transactional operations
type Service struct {
	registry *registry.GlobalRegistry
	logger   *zap.Logger
	metrics  *observability.MetricsManager
	tracing  *observability.TracingManager
	now      func() time.Time

	eventMu   sync.RWMutex
	eventSubs map[chan Event]struct{}
}

// Option configures a Service
type Option func(*Service)

// WithMetrics records registry gauges and hot reload counters
func WithMetrics(mm *observability.MetricsManager) Option {
	return func(s *Service) { s.metrics = mm }
}

// WithTracing traces hot-reload checks
func WithTracing(tm *observability.TracingManager) Option {
	return func(s *Service) { s.tracing = tm }
}

// WithClock overrides the time source used for loaded_at and last_used
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a service over reg
func NewService(reg *registry.GlobalRegistry, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		registry:  reg,
		logger:    logger,
		now:       time.Now,
		eventSubs: make(map[chan Event]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the underlying global registry
func (s *Service) Registry() *registry.GlobalRegistry {
	return s.registry
}

// EnsureProject creates the project on first use
func (s *Service) EnsureProject(projectID, tenantID string) (*registry.ProjectRegistry, error) {
	return s.registry.EnsureProject(projectID, tenantID)
}

// InstallConnectorFromManifest validates m and installs it into the project,
// creating the project if needed
func (s *Service) InstallConnectorFromManifest(projectID, tenantID string, m *manifest.Manifest, config map[string]any, enabled bool) (*registry.ConnectorEntry, error) {
	if m == nil {
		return nil, contracts.NewError(contracts.KindValidationFailed, "install_connector", "manifest is required")
	}
	if err := m.Validate(); err != nil {
		return nil, contracts.WrapError(contracts.KindValidationFailed, "install_connector", err, "connector %q rejected", m.Name)
	}
	return s.install(projectID, tenantID, m, config, enabled, nil)
}

// InstallConnectorFromFile loads a manifest file and installs it, recording
// the path and modification time for hot reload
func (s *Service) InstallConnectorFromFile(projectID, tenantID, path string, config map[string]any, enabled bool) (*registry.ConnectorEntry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindValidationFailed, "install_connector", err, "invalid path %q", path)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, contracts.WrapError(contracts.KindNotFound, "install_connector", err, "manifest file %s not found", abs)
		}
		return nil, contracts.WrapError(contracts.KindInternal, "install_connector", err, "failed to stat %s", abs)
	}

	m, err := manifest.Load(abs)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindValidationFailed, "install_connector", err, "failed to load %s", abs)
	}

	return s.install(projectID, tenantID, m, config, enabled, &registry.Source{Path: abs, ModTime: info.ModTime()})
}

func (s *Service) install(projectID, tenantID string, m *manifest.Manifest, config map[string]any, enabled bool, source *registry.Source) (*registry.ConnectorEntry, error) {
	p, err := s.registry.EnsureProject(projectID, tenantID)
	if err != nil {
		return nil, err
	}

	entry := registry.NewConnectorEntry(m, config, enabled, source, s.now())
	if err := p.Mutate(func(tx *registry.Txn) error {
		return tx.Add(entry)
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Connector installed",
		zap.String("project", projectID),
		zap.String("connector", m.Name),
		zap.String("version", m.Version),
		zap.Int("tools", entry.ToolCount()),
		zap.Bool("enabled", enabled),
		zap.String("source", entry.SourcePath()))

	s.afterChange(p, "installed", m.Name)
	return entry, nil
}

// UninstallConnector removes a connector and all its tools
func (s *Service) UninstallConnector(projectID, name string) error {
	p, err := s.registry.GetProject(projectID)
	if err != nil {
		return err
	}
	if err := p.Mutate(func(tx *registry.Txn) error {
		return tx.Remove(name)
	}); err != nil {
		return err
	}

	s.logger.Info("Connector uninstalled",
		zap.String("project", projectID),
		zap.String("connector", name))
	s.afterChange(p, "uninstalled", name)
	return nil
}

// EnableConnector makes a connector's tools callable
func (s *Service) EnableConnector(projectID, name string) (*registry.ConnectorEntry, error) {
	return s.setEnabled(projectID, name, true)
}

// DisableConnector keeps a connector's tools listed but rejects calls to them
func (s *Service) DisableConnector(projectID, name string) (*registry.ConnectorEntry, error) {
	return s.setEnabled(projectID, name, false)
}

func (s *Service) setEnabled(projectID, name string, enabled bool) (*registry.ConnectorEntry, error) {
	p, err := s.registry.GetProject(projectID)
	if err != nil {
		return nil, err
	}

	var updated *registry.ConnectorEntry
	if err := p.Mutate(func(tx *registry.Txn) error {
		var err error
		updated, err = tx.SetEnabled(name, enabled)
		return err
	}); err != nil {
		return nil, err
	}

	reason := "disabled"
	if enabled {
		reason = "enabled"
	}
	s.logger.Info("Connector "+reason,
		zap.String("project", projectID),
		zap.String("connector", name))
	s.afterChange(p, reason, name)
	return updated, nil
}

// ListConnectors returns the project's connectors in install order
func (s *Service) ListConnectors(projectID string) ([]*registry.ConnectorEntry, error) {
	p, err := s.registry.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	return p.ListConnectors(), nil
}

// GetConnector returns one connector
func (s *Service) GetConnector(projectID, name string) (*registry.ConnectorEntry, error) {
	p, err := s.registry.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	return p.GetConnector(name)
}

// GetProjectTools returns every tool, enabled or not, in registry order
func (s *Service) GetProjectTools(projectID string) ([]ToolRef, error) {
	p, err := s.registry.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	return toolRefs(p.Snapshot(), false), nil
}

// GetEnabledTools returns the tools of enabled connectors in registry order
func (s *Service) GetEnabledTools(projectID string) ([]ToolRef, error) {
	p, err := s.registry.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	return toolRefs(p.Snapshot(), true), nil
}

func toolRefs(snap *registry.Snapshot, enabledOnly bool) []ToolRef {
	var refs []ToolRef
	for _, c := range snap.Connectors() {
		if enabledOnly && !c.Enabled {
			continue
		}
		for _, t := range c.Tools() {
			refs = append(refs, ToolRef{Tool: t, Connector: c})
		}
	}
	return refs
}

// GetToolDefinition resolves a tool by name; the first enabled connector in
// install order that defines it wins
func (s *Service) GetToolDefinition(projectID, toolName string) (ToolRef, error) {
	p, err := s.registry.GetProject(projectID)
	if err != nil {
		return ToolRef{}, err
	}
	tool, conn, err := p.GetTool(toolName)
	if err != nil {
		return ToolRef{}, err
	}
	return ToolRef{Tool: tool, Connector: conn}, nil
}

// MarkToolUsed bumps the tool's invocation count and last-used time. It never
// fails: problems are logged and the call that used the tool is unaffected.
func (s *Service) MarkToolUsed(projectID, connectorName, toolName string) {
	p, err := s.registry.GetProject(projectID)
	if err != nil {
		s.logger.Warn("Failed to record tool usage", zap.String("project", projectID), zap.Error(err))
		return
	}

	now := s.now()
	err = p.Mutate(func(tx *registry.Txn) error {
		c := tx.Get(connectorName)
		if c == nil || c.Tool(toolName) == nil {
			// uninstalled or reloaded away while the call was in flight
			return contracts.NewError(contracts.KindNotFound, "mark_tool_used",
				"tool %q of connector %q no longer registered", toolName, connectorName)
		}
		return tx.Replace(c.WithToolUsed(toolName, now))
	})
	if err != nil {
		s.logger.Debug("Tool usage not recorded",
			zap.String("project", projectID),
			zap.String("connector", connectorName),
			zap.String("tool", toolName),
			zap.Error(err))
	}
}

// GetProjectStats aggregates one project from a single snapshot
func (s *Service) GetProjectStats(projectID string) (contracts.ProjectStats, error) {
	p, err := s.registry.GetProject(projectID)
	if err != nil {
		return contracts.ProjectStats{}, err
	}
	return projectStats(p), nil
}

// GetGlobalStats aggregates every project
func (s *Service) GetGlobalStats() contracts.GlobalStats {
	projects := s.registry.Projects()
	stats := contracts.GlobalStats{
		ProjectCount: len(projects),
		Projects:     make([]contracts.ProjectStats, 0, len(projects)),
	}
	for _, p := range projects {
		ps := projectStats(p)
		stats.ConnectorCount += ps.ConnectorCount
		stats.EnabledConnectors += ps.EnabledConnectors
		stats.DisabledConnectors += ps.DisabledConnectors
		stats.ToolCount += ps.ToolCount
		stats.Projects = append(stats.Projects, ps)
	}
	return stats
}

func projectStats(p *registry.ProjectRegistry) contracts.ProjectStats {
	snap := p.Snapshot()
	stats := contracts.ProjectStats{
		ProjectID:   p.ProjectID(),
		TenantID:    p.TenantID(),
		CreatedAt:   p.CreatedAt(),
		LastUpdated: snap.LastUpdated,
	}
	for _, c := range snap.Connectors() {
		stats.ConnectorCount++
		if c.Enabled {
			stats.EnabledConnectors++
			stats.EnabledTools += c.ToolCount()
		} else {
			stats.DisabledConnectors++
		}
		stats.ToolCount += c.ToolCount()
		for _, t := range c.Tools() {
			stats.TotalInvocations += t.InvocationCount
		}
	}
	return stats
}

func (s *Service) afterChange(p *registry.ProjectRegistry, reason, connector string) {
	s.emitConnectorsChanged(p.ProjectID(), reason, connector)
	s.updateProjectMetrics(p)
}

func (s *Service) updateProjectMetrics(p *registry.ProjectRegistry) {
	if s.metrics == nil {
		return
	}
	stats := projectStats(p)
	s.metrics.SetProjectStats(stats.ProjectID, stats.EnabledConnectors, stats.DisabledConnectors, stats.ToolCount)
}

// InstallFromDirectory installs every manifest file directly inside dir.
// A file that fails is logged and skipped; the failures are returned by path.
func (s *Service) InstallFromDirectory(projectID, tenantID, dir string, enabled bool) ([]*registry.ConnectorEntry, map[string]error, error) {
	paths, err := manifest.Discover(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to discover connectors: %w", err)
	}

	var installed []*registry.ConnectorEntry
	failed := make(map[string]error)
	for _, path := range paths {
		entry, err := s.InstallConnectorFromFile(projectID, tenantID, path, nil, enabled)
		if err != nil {
			s.logger.Warn("Skipping connector manifest",
				zap.String("path", path),
				zap.Error(err))
			failed[path] = err
			continue
		}
		installed = append(installed, entry)
	}

	s.logger.Info("Installed connectors from directory",
		zap.String("dir", dir),
		zap.Int("installed", len(installed)),
		zap.Int("failed", len(failed)))
	return installed, failed, nil
}
