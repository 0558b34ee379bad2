package runtime

import "time"

// EventType represents a runtime event category broadcast to subscribers.
type EventType string

const (
	// EventTypeConnectorsChanged is emitted after any install, uninstall, enable or disable.
	EventTypeConnectorsChanged EventType = "connectors.changed"
	// EventTypeConnectorsReloaded is emitted after a hot-reload check replaced at least one connector.
	EventTypeConnectorsReloaded EventType = "connectors.reloaded"
	// EventTypeToolCallCompleted is emitted when a tools/call finishes, successfully or not.
	EventTypeToolCallCompleted EventType = "activity.tool_call.completed"
)

// Event is a typed notification published by the runtime event bus.
type Event struct {
	Type      EventType      `json:"type"`
	ProjectID string         `json:"project_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func newEvent(eventType EventType, projectID string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		ProjectID: projectID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// ToolCallRecord describes a finished tool call for the activity log
type ToolCallRecord struct {
	ProjectID    string
	Connector    string
	Tool         string
	SessionID    string
	RequestID    string
	Source       string // "mcp", "api" or "cli"
	Arguments    map[string]any
	Status       string // "success" or "error"
	ErrorKind    string
	ErrorMessage string
	Response     string
	Attempts     int
	Duration     time.Duration
}
