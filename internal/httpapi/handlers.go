package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/smart-mcp-proxy/mcpgateway/internal/contracts"
	"github.com/smart-mcp-proxy/mcpgateway/internal/manifest"
	"github.com/smart-mcp-proxy/mcpgateway/internal/registry"
	"github.com/smart-mcp-proxy/mcpgateway/internal/reqcontext"
	"github.com/smart-mcp-proxy/mcpgateway/internal/secret"
)

// EnsureProjectRequest is the body of PUT /projects/{project}
type EnsureProjectRequest struct {
	TenantID string `json:"tenant_id"`
}

// InstallConnectorRequest is the body of POST /projects/{project}/connectors.
// Exactly one of Path and Manifest must be set.
type InstallConnectorRequest struct {
	Path     string          `json:"path,omitempty"`
	Manifest json.RawMessage `json:"manifest,omitempty"`
	Enabled  *bool           `json:"enabled,omitempty"`
	Config   map[string]any  `json:"config,omitempty"`
	TenantID string          `json:"tenant_id,omitempty"`
}

// InvokeToolRequest is the body of POST /projects/{project}/tools/{tool}/invoke
type InvokeToolRequest struct {
	Arguments map[string]any `json:"arguments"`
}

// InvokeToolResponse carries a tool's output
type InvokeToolResponse struct {
	Content    []mcp.Content `json:"content"`
	Structured any           `json:"structured_content,omitempty"`
	IsError    bool          `json:"is_error"`
}

// SetSecretRequest is the body of PUT /secrets/{name}
type SetSecretRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	s.writeSuccess(w, s.svc.GetGlobalStats())
}

func (s *Server) handleListProjects(w http.ResponseWriter, _ *http.Request) {
	s.writeSuccess(w, s.svc.GetGlobalStats().Projects)
}

func (s *Server) handleEnsureProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project")
	var req EnsureProjectRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = s.cfg.DefaultTenant
	}
	if _, err := s.svc.EnsureProject(projectID, tenantID); err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.svc.GetProjectStats(projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, stats)
}

func (s *Server) handleGetProjectStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.GetProjectStats(chi.URLParam(r, "project"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, stats)
}

func (s *Server) handleReloadProject(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.PerformHotReloadCheck(r.Context(), chi.URLParam(r, "project"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, res.Info())
}

func (s *Server) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.ListConnectors(chi.URLParam(r, "project"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]contracts.ConnectorInfo, 0, len(entries))
	for _, c := range entries {
		out = append(out, connectorInfo(c))
	}
	s.writeSuccess(w, out)
}

func (s *Server) handleGetConnector(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.GetConnector(chi.URLParam(r, "project"), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, connectorInfo(c))
}

func (s *Server) handleInstallConnector(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project")
	var req InstallConnectorRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	hasManifest := len(req.Manifest) > 0 && string(req.Manifest) != "null"
	if (req.Path == "") == !hasManifest {
		s.writeError(w, r, contracts.NewError(contracts.KindValidationFailed, "install_connector",
			"exactly one of path and manifest is required"))
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	tenantID := s.tenantFor(projectID, req.TenantID)

	var (
		entry *registry.ConnectorEntry
		err   error
	)
	if req.Path != "" {
		entry, err = s.svc.InstallConnectorFromFile(projectID, tenantID, req.Path, req.Config, enabled)
	} else {
		var m *manifest.Manifest
		m, err = manifest.FromJSON(req.Manifest)
		if err != nil {
			err = contracts.WrapError(contracts.KindValidationFailed, "install_connector", err, "invalid manifest")
		} else {
			entry, err = s.svc.InstallConnectorFromManifest(projectID, tenantID, m, req.Config, enabled)
		}
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	reqcontext.Logger(r.Context()).Infow("Connector installed via API",
		"project", projectID,
		"connector", entry.Name,
		"version", entry.Version,
		"enabled", entry.Enabled)
	s.writeJSON(w, http.StatusCreated, contracts.NewSuccessResponse(connectorInfo(entry)))
}

// tenantFor prefers an explicit tenant, then the tenant of an existing
// project, then the configured default
func (s *Server) tenantFor(projectID, requested string) string {
	if requested != "" {
		return requested
	}
	if p, err := s.svc.Registry().GetProject(projectID); err == nil {
		return p.TenantID()
	}
	return s.cfg.DefaultTenant
}

func (s *Server) handleUninstallConnector(w http.ResponseWriter, r *http.Request) {
	projectID, name := chi.URLParam(r, "project"), chi.URLParam(r, "name")
	if err := s.svc.UninstallConnector(projectID, name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, map[string]string{"connector": name, "action": "uninstall"})
}

func (s *Server) handleEnableConnector(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.EnableConnector(chi.URLParam(r, "project"), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, connectorInfo(c))
}

func (s *Server) handleDisableConnector(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.DisableConnector(chi.URLParam(r, "project"), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, connectorInfo(c))
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	refs, err := s.svc.GetProjectTools(chi.URLParam(r, "project"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]contracts.ToolInfo, 0, len(refs))
	for _, ref := range refs {
		out = append(out, toolInfo(ref))
	}
	s.writeSuccess(w, out)
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	ref, err := s.svc.GetToolDefinition(chi.URLParam(r, "project"), chi.URLParam(r, "tool"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, toolInfo(ref))
}

func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	projectID, tool := chi.URLParam(r, "project"), chi.URLParam(r, "tool")
	var req InvokeToolRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.cfg.Caller.CallTool(r.Context(), projectID, tool, req.Arguments)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, InvokeToolResponse{
		Content:    res.Content,
		Structured: res.StructuredContent,
		IsError:    res.IsError,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	s.writeSuccess(w, s.cfg.Sessions.List())
}

func (s *Server) handleSetSecret(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req SetSecretRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Value == "" {
		s.writeError(w, r, contracts.NewError(contracts.KindValidationFailed, "set_secret", "value is required"))
		return
	}
	if err := s.cfg.Secrets.Store(name, req.Value); err != nil {
		s.writeError(w, r, contracts.WrapError(contracts.KindInternal, "set_secret", err, "failed to store secret %q", name))
		return
	}
	reqcontext.Logger(r.Context()).Infow("Secret stored via API", "name", name)
	s.writeSuccess(w, map[string]string{"name": name, "reference": "${" + secret.TypeKeyring + ":" + name + "}"})
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.cfg.Secrets.Delete(name); err != nil {
		s.writeError(w, r, contracts.WrapError(contracts.KindNotFound, "delete_secret", err, "failed to delete secret %q", name))
		return
	}
	s.writeSuccess(w, map[string]string{"name": name, "action": "delete"})
}
