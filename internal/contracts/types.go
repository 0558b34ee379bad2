// Package contracts defines the error taxonomy shared by every layer and the
// typed data transfer objects of the management API
package contracts

import (
	"time"
)

// APIResponse is the standard wrapper for all API responses
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorKind Kind        `json:"error_kind,omitempty"`
}

// ConnectorInfo describes one installed connector
type ConnectorInfo struct {
	Name          string         `json:"name"`
	Version       string         `json:"version"`
	BaseURL       string         `json:"base_url,omitempty"`
	Enabled       bool           `json:"enabled"`
	ToolCount     int            `json:"tool_count"`
	Tools         []string       `json:"tools"`
	LoadedAt      time.Time      `json:"loaded_at"`
	SourcePath    string         `json:"source_path,omitempty"`
	SourceModTime *time.Time     `json:"source_mtime,omitempty"`
	Config        map[string]any `json:"config,omitempty"`
}

// ToolInfo describes one tool and its usage
type ToolInfo struct {
	Name             string         `json:"name"`
	Connector        string         `json:"connector"`
	ConnectorVersion string         `json:"connector_version"`
	Description      string         `json:"description"`
	Endpoint         string         `json:"endpoint"`
	AuthType         string         `json:"auth_type"`
	InputSchema      map[string]any `json:"input_schema,omitempty"`
	OutputSchema     map[string]any `json:"output_schema,omitempty"`
	Enabled          bool           `json:"enabled"`
	InvocationCount  int64          `json:"invocation_count"`
	LastUsed         *time.Time     `json:"last_used,omitempty"`
	LoadedAt         time.Time      `json:"loaded_at"`
}

// ProjectStats aggregates one project from a single snapshot
type ProjectStats struct {
	ProjectID          string    `json:"project_id"`
	TenantID           string    `json:"tenant_id"`
	ConnectorCount     int       `json:"connector_count"`
	EnabledConnectors  int       `json:"enabled_connectors"`
	DisabledConnectors int       `json:"disabled_connectors"`
	ToolCount          int       `json:"tool_count"`
	EnabledTools       int       `json:"enabled_tools"`
	TotalInvocations   int64     `json:"total_invocations"`
	CreatedAt          time.Time `json:"created_at"`
	LastUpdated        time.Time `json:"last_updated"`
}

// GlobalStats aggregates every project
type GlobalStats struct {
	ProjectCount       int            `json:"project_count"`
	ConnectorCount     int            `json:"connector_count"`
	EnabledConnectors  int            `json:"enabled_connectors"`
	DisabledConnectors int            `json:"disabled_connectors"`
	ToolCount          int            `json:"tool_count"`
	Projects           []ProjectStats `json:"projects"`
}

// ReloadInfo reports the outcome of a hot-reload check
type ReloadInfo struct {
	Reloaded []string          `json:"reloaded"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// ActivityInfo is one activity log entry
type ActivityInfo struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Source       string                 `json:"source,omitempty"`
	ProjectID    string                 `json:"project_id"`
	Connector    string                 `json:"connector,omitempty"`
	Tool         string                 `json:"tool,omitempty"`
	Arguments    map[string]interface{} `json:"arguments,omitempty"`
	Status       string                 `json:"status"`
	ErrorKind    string                 `json:"error_kind,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	DurationMs   int64                  `json:"duration_ms,omitempty"`
	Attempts     int                    `json:"attempts,omitempty"`
	SessionID    string                 `json:"session_id,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// ActivityListResponse is a page of activity entries
type ActivityListResponse struct {
	Activities []ActivityInfo `json:"activities"`
	Total      int            `json:"total"`
	Limit      int            `json:"limit"`
	Offset     int            `json:"offset"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response carrying the error's kind
func NewErrorResponse(err error) APIResponse {
	return APIResponse{
		Success:   false,
		Error:     err.Error(),
		ErrorKind: KindOf(err),
	}
}
