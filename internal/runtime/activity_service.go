package runtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgateway/internal/storage"
)

// Default retention configuration
const (
	// DefaultRetentionMaxAge is the default max age for activity records (7 days)
	DefaultRetentionMaxAge = 7 * 24 * time.Hour
	// DefaultRetentionMaxRecords is the default max number of records
	DefaultRetentionMaxRecords = 10000
	// DefaultRetentionCheckInterval is the default interval between retention checks
	DefaultRetentionCheckInterval = 1 * time.Hour
)

// ActivityService subscribes to runtime events and persists them to storage.
// It runs as a background goroutine so recording never blocks a tool call.
type ActivityService struct {
	storage *storage.Manager
	logger  *zap.Logger

	done chan struct{}

	maxAge          time.Duration
	maxRecords      int
	checkInterval   time.Duration
	maxResponseSize int
}

// NewActivityService creates a new activity service.
func NewActivityService(st *storage.Manager, logger *zap.Logger) *ActivityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityService{
		storage:         st,
		logger:          logger,
		done:            make(chan struct{}),
		maxAge:          DefaultRetentionMaxAge,
		maxRecords:      DefaultRetentionMaxRecords,
		checkInterval:   DefaultRetentionCheckInterval,
		maxResponseSize: storage.DefaultMaxResponseSize,
	}
}

// SetRetentionConfig updates the retention configuration. Zero values keep
// the current setting.
func (s *ActivityService) SetRetentionConfig(maxAge time.Duration, maxRecords int, checkInterval time.Duration) {
	if maxAge > 0 {
		s.maxAge = maxAge
	}
	if maxRecords > 0 {
		s.maxRecords = maxRecords
	}
	if checkInterval > 0 {
		s.checkInterval = checkInterval
	}
}

// SetMaxResponseSize bounds the stored size of tool responses
func (s *ActivityService) SetMaxResponseSize(n int) {
	if n > 0 {
		s.maxResponseSize = n
	}
}

// Start begins listening for events and persisting them.
// It should be called as a goroutine: go activity.Start(ctx, svc)
func (s *ActivityService) Start(ctx context.Context, svc *Service) {
	eventCh := svc.SubscribeEvents()
	defer svc.UnsubscribeEvents(eventCh)
	defer close(s.done)

	go s.runRetentionLoop(ctx)

	s.logger.Info("Activity service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Activity service shutting down")
			return
		case evt, ok := <-eventCh:
			if !ok {
				s.logger.Info("Activity service event channel closed")
				return
			}
			s.handleEvent(evt)
		}
	}
}

// Stop waits for Start to return after its context is cancelled.
func (s *ActivityService) Stop() {
	<-s.done
}

func (s *ActivityService) runRetentionLoop(ctx context.Context) {
	s.runRetentionCleanup()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runRetentionCleanup()
		}
	}
}

func (s *ActivityService) runRetentionCleanup() {
	if s.maxAge > 0 {
		deleted, err := s.storage.PruneOldActivities(s.maxAge)
		if err != nil {
			s.logger.Error("Failed to prune old activities", zap.Error(err))
		} else if deleted > 0 {
			s.logger.Info("Pruned old activity records",
				zap.Int("deleted", deleted),
				zap.Duration("max_age", s.maxAge))
		}
	}

	if s.maxRecords > 0 {
		deleted, err := s.storage.PruneExcessActivities(s.maxRecords)
		if err != nil {
			s.logger.Error("Failed to prune excess activities", zap.Error(err))
		} else if deleted > 0 {
			s.logger.Info("Pruned excess activity records",
				zap.Int("deleted", deleted),
				zap.Int("max_records", s.maxRecords))
		}
	}
}

func (s *ActivityService) handleEvent(evt Event) {
	var record *storage.ActivityRecord
	switch evt.Type {
	case EventTypeToolCallCompleted:
		record = s.toolCallRecord(evt)
	case EventTypeConnectorsChanged:
		record = &storage.ActivityRecord{
			Type:          storage.ActivityTypeConnectorChange,
			ProjectID:     evt.ProjectID,
			ConnectorName: getStringPayload(evt.Payload, "connector"),
			Status:        getStringPayload(evt.Payload, "reason"),
			Timestamp:     evt.Timestamp,
		}
	case EventTypeConnectorsReloaded:
		reloaded, _ := evt.Payload["reloaded"].([]string)
		record = &storage.ActivityRecord{
			Type:      storage.ActivityTypeHotReload,
			ProjectID: evt.ProjectID,
			Status:    "reloaded",
			Timestamp: evt.Timestamp,
			Metadata:  map[string]interface{}{"connectors": reloaded},
		}
	default:
		return
	}

	if err := s.storage.SaveActivity(record); err != nil {
		s.logger.Error("Failed to save activity record",
			zap.String("type", string(record.Type)),
			zap.String("project", record.ProjectID),
			zap.Error(err))
	}
}

func (s *ActivityService) toolCallRecord(evt Event) *storage.ActivityRecord {
	response, truncated := storage.TruncateResponse(getStringPayload(evt.Payload, "response"), s.maxResponseSize)
	args, _ := evt.Payload["arguments"].(map[string]any)
	return &storage.ActivityRecord{
		Type:              storage.ActivityTypeToolCall,
		Source:            storage.ActivitySource(getStringPayload(evt.Payload, "source")),
		ProjectID:         evt.ProjectID,
		ConnectorName:     getStringPayload(evt.Payload, "connector"),
		ToolName:          getStringPayload(evt.Payload, "tool"),
		Arguments:         args,
		Response:          response,
		ResponseTruncated: truncated,
		Status:            getStringPayload(evt.Payload, "status"),
		ErrorKind:         getStringPayload(evt.Payload, "error_kind"),
		ErrorMessage:      getStringPayload(evt.Payload, "error_message"),
		DurationMs:        getInt64Payload(evt.Payload, "duration_ms"),
		Attempts:          int(getInt64Payload(evt.Payload, "attempts")),
		SessionID:         getStringPayload(evt.Payload, "session_id"),
		RequestID:         getStringPayload(evt.Payload, "request_id"),
		Timestamp:         evt.Timestamp,
	}
}

func getStringPayload(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func getInt64Payload(payload map[string]any, key string) int64 {
	switch v := payload[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
