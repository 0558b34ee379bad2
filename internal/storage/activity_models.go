package storage

import (
	"encoding/json"
	"time"
)

// ActivityRecordsBucket is the BBolt bucket name for activity records
const ActivityRecordsBucket = "activity_records"

// ActivityType represents the type of activity being recorded
type ActivityType string

const (
	// ActivityTypeToolCall is one tools/call dispatch
	ActivityTypeToolCall ActivityType = "tool_call"
	// ActivityTypeConnectorChange is an install, uninstall, enable or disable
	ActivityTypeConnectorChange ActivityType = "connector_change"
	// ActivityTypeHotReload is a connector replaced from its source file
	ActivityTypeHotReload ActivityType = "hot_reload"
)

// ActivitySource indicates how the activity was triggered
type ActivitySource string

const (
	ActivitySourceMCP ActivitySource = "mcp"
	ActivitySourceAPI ActivitySource = "api"
	ActivitySourceCLI ActivitySource = "cli"
)

// ActivityRecord represents a single activity log entry stored in BBolt
type ActivityRecord struct {
	ID                string                 `json:"id"` // ULID
	Type              ActivityType           `json:"type"`
	Source            ActivitySource         `json:"source,omitempty"`
	ProjectID         string                 `json:"project_id"`
	ConnectorName     string                 `json:"connector_name,omitempty"`
	ToolName          string                 `json:"tool_name,omitempty"`
	Arguments         map[string]interface{} `json:"arguments,omitempty"`
	Response          string                 `json:"response,omitempty"`
	ResponseTruncated bool                   `json:"response_truncated,omitempty"`
	Status            string                 `json:"status"` // "success", "error" or the change applied
	ErrorKind         string                 `json:"error_kind,omitempty"`
	ErrorMessage      string                 `json:"error_message,omitempty"`
	DurationMs        int64                  `json:"duration_ms,omitempty"`
	Attempts          int                    `json:"attempts,omitempty"`
	Timestamp         time.Time              `json:"timestamp"`
	SessionID         string                 `json:"session_id,omitempty"`
	RequestID         string                 `json:"request_id,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// MarshalBinary implements encoding.BinaryMarshaler for BBolt storage
func (a *ActivityRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for BBolt storage
func (a *ActivityRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, a)
}

// ActivityFilter represents query parameters for filtering activity records
type ActivityFilter struct {
	Type      string
	ProjectID string
	Connector string
	Tool      string
	SessionID string
	Status    string
	StartTime time.Time
	EndTime   time.Time
	Limit     int // default 50, max 500
	Offset    int
}

// Validate normalizes limit and offset
func (f *ActivityFilter) Validate() {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Matches checks if an activity record matches the filter criteria
func (f *ActivityFilter) Matches(record *ActivityRecord) bool {
	switch {
	case f.Type != "" && string(record.Type) != f.Type:
		return false
	case f.ProjectID != "" && record.ProjectID != f.ProjectID:
		return false
	case f.Connector != "" && record.ConnectorName != f.Connector:
		return false
	case f.Tool != "" && record.ToolName != f.Tool:
		return false
	case f.SessionID != "" && record.SessionID != f.SessionID:
		return false
	case f.Status != "" && record.Status != f.Status:
		return false
	case !f.StartTime.IsZero() && record.Timestamp.Before(f.StartTime):
		return false
	case !f.EndTime.IsZero() && record.Timestamp.After(f.EndTime):
		return false
	}
	return true
}
