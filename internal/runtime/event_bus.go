package runtime

const defaultEventBuffer = 256

// SubscribeEvents registers a new subscriber and returns a channel that will receive runtime events.
// Callers must not close the returned channel; use UnsubscribeEvents when finished.
// Slow subscribers miss events rather than blocking publishers.
func (s *Service) SubscribeEvents() chan Event {
	ch := make(chan Event, defaultEventBuffer)
	s.eventMu.Lock()
	s.eventSubs[ch] = struct{}{}
	s.eventMu.Unlock()
	return ch
}

// UnsubscribeEvents removes the subscriber and closes the channel.
func (s *Service) UnsubscribeEvents(ch chan Event) {
	s.eventMu.Lock()
	if _, ok := s.eventSubs[ch]; ok {
		delete(s.eventSubs, ch)
		close(ch)
	}
	s.eventMu.Unlock()
}

func (s *Service) publishEvent(evt Event) {
	s.eventMu.RLock()
	for ch := range s.eventSubs {
		select {
		case ch <- evt:
		default:
		}
	}
	s.eventMu.RUnlock()
}

func (s *Service) emitConnectorsChanged(projectID, reason, connector string) {
	s.publishEvent(newEvent(EventTypeConnectorsChanged, projectID, map[string]any{
		"reason":    reason,
		"connector": connector,
	}))
}

func (s *Service) emitConnectorsReloaded(projectID string, reloaded []string) {
	s.publishEvent(newEvent(EventTypeConnectorsReloaded, projectID, map[string]any{
		"reloaded": reloaded,
	}))
}

// EmitToolCallCompleted publishes a finished tool call for the activity log.
func (s *Service) EmitToolCallCompleted(rec ToolCallRecord) {
	s.publishEvent(newEvent(EventTypeToolCallCompleted, rec.ProjectID, map[string]any{
		"connector":     rec.Connector,
		"tool":          rec.Tool,
		"session_id":    rec.SessionID,
		"request_id":    rec.RequestID,
		"source":        rec.Source,
		"arguments":     rec.Arguments,
		"status":        rec.Status,
		"error_kind":    rec.ErrorKind,
		"error_message": rec.ErrorMessage,
		"response":      rec.Response,
		"attempts":      rec.Attempts,
		"duration_ms":   rec.Duration.Milliseconds(),
	}))
}
