package httpapi

import (
	"github.com/smart-mcp-proxy/mcpgateway/internal/contracts"
	"github.com/smart-mcp-proxy/mcpgateway/internal/credentials"
	"github.com/smart-mcp-proxy/mcpgateway/internal/registry"
	"github.com/smart-mcp-proxy/mcpgateway/internal/runtime"
	"github.com/smart-mcp-proxy/mcpgateway/internal/secret"
	"github.com/smart-mcp-proxy/mcpgateway/internal/storage"
)

func connectorInfo(c *registry.ConnectorEntry) contracts.ConnectorInfo {
	info := contracts.ConnectorInfo{
		Name:      c.Name,
		Version:   c.Version,
		Enabled:   c.Enabled,
		ToolCount: c.ToolCount(),
		Tools:     c.Manifest.ToolNames(),
		BaseURL:   c.Manifest.BaseURL,
		LoadedAt:  c.LoadedAt,
		Config:    maskConfig(c.Config),
	}
	if c.Source != nil {
		info.SourcePath = c.Source.Path
		mod := c.Source.ModTime
		info.SourceModTime = &mod
	}
	return info
}

// maskConfig hides literal values of credential-like keys; secret
// references are shown as written
func maskConfig(config map[string]any) map[string]any {
	if len(config) == 0 {
		return nil
	}
	out := make(map[string]any, len(config))
	for k, v := range config {
		s, ok := v.(string)
		if ok && isSensitiveKey(k) && !secret.IsRef(s) {
			out[k] = secret.MaskValue(s)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(k string) bool {
	switch k {
	case credentials.ConfigAPIKey, credentials.ConfigClientSecret, "password", "token":
		return true
	}
	return false
}

func toolInfo(ref runtime.ToolRef) contracts.ToolInfo {
	def := ref.Tool.Definition
	return contracts.ToolInfo{
		Name:             ref.Tool.Name,
		Connector:        ref.Connector.Name,
		ConnectorVersion: ref.Connector.Version,
		Description:      def.Description,
		Endpoint:         def.Endpoint,
		AuthType:         string(def.AuthType()),
		InputSchema:      def.InputSchema,
		OutputSchema:     def.OutputSchema,
		Enabled:          ref.Enabled(),
		InvocationCount:  ref.Tool.InvocationCount,
		LastUsed:         ref.Tool.LastUsed,
		LoadedAt:         ref.Tool.LoadedAt,
	}
}

func activityInfo(rec *storage.ActivityRecord) contracts.ActivityInfo {
	return contracts.ActivityInfo{
		ID:           rec.ID,
		Type:         string(rec.Type),
		Source:       string(rec.Source),
		ProjectID:    rec.ProjectID,
		Connector:    rec.ConnectorName,
		Tool:         rec.ToolName,
		Arguments:    rec.Arguments,
		Status:       rec.Status,
		ErrorKind:    rec.ErrorKind,
		ErrorMessage: rec.ErrorMessage,
		DurationMs:   rec.DurationMs,
		Attempts:     rec.Attempts,
		SessionID:    rec.SessionID,
		Timestamp:    rec.Timestamp,
	}
}
