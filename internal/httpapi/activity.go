package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/smart-mcp-proxy/mcpgateway/internal/contracts"
	"github.com/smart-mcp-proxy/mcpgateway/internal/storage"
)

// parseActivityFilters extracts activity filter parameters from the query string
func parseActivityFilters(r *http.Request) storage.ActivityFilter {
	q := r.URL.Query()
	filter := storage.ActivityFilter{
		Type:      q.Get("type"),
		ProjectID: q.Get("project"),
		Connector: q.Get("connector"),
		Tool:      q.Get("tool"),
		SessionID: q.Get("session_id"),
		Status:    q.Get("status"),
	}

	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.StartTime = t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.EndTime = t
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			filter.Limit = limit
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil {
			filter.Offset = offset
		}
	}

	filter.Validate()
	return filter
}

// handleListActivity handles GET /api/v1/activity
func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	filter := parseActivityFilters(r)

	records, total, err := s.cfg.Storage.ListActivities(filter)
	if err != nil {
		s.writeError(w, r, contracts.WrapError(contracts.KindInternal, "list_activity", err, "failed to list activities"))
		return
	}

	activities := make([]contracts.ActivityInfo, 0, len(records))
	for _, rec := range records {
		activities = append(activities, activityInfo(rec))
	}
	s.writeSuccess(w, contracts.ActivityListResponse{
		Activities: activities,
		Total:      total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
}

// handleGetActivity handles GET /api/v1/activity/{id}
func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.cfg.Storage.GetActivity(id)
	if err != nil {
		s.writeError(w, r, contracts.WrapError(contracts.KindInternal, "get_activity", err, "failed to read activity"))
		return
	}
	if rec == nil {
		s.writeError(w, r, contracts.NewError(contracts.KindNotFound, "get_activity", "activity %q not found", id))
		return
	}
	s.writeSuccess(w, activityInfo(rec))
}
