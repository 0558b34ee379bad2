package server

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgateway/internal/observability"
)

// Session is one client connection bound to a project. It starts
// uninitialized and becomes ready after a successful initialize.
type Session struct {
	ID        string
	ProjectID string
	Transport string
	StartedAt time.Time

	initialized atomic.Bool

	mu            sync.RWMutex
	clientName    string
	clientVersion string
}

// Initialized reports whether initialize has completed
func (s *Session) Initialized() bool {
	return s.initialized.Load()
}

// ClientInfo returns the name and version sent in initialize
func (s *Session) ClientInfo() (name, version string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientName, s.clientVersion
}

func (s *Session) markInitialized(clientName, clientVersion string) {
	s.mu.Lock()
	s.clientName = clientName
	s.clientVersion = clientVersion
	s.mu.Unlock()
	s.initialized.Store(true)
}

// SessionInfo is a point-in-time view of a session
type SessionInfo struct {
	SessionID     string    `json:"session_id"`
	ProjectID     string    `json:"project_id"`
	Transport     string    `json:"transport"`
	ClientName    string    `json:"client_name,omitempty"`
	ClientVersion string    `json:"client_version,omitempty"`
	Initialized   bool      `json:"initialized"`
	StartedAt     time.Time `json:"started_at"`
}

// SessionStore tracks open sessions
type SessionStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *zap.Logger
	metrics  *observability.MetricsManager
}

// NewSessionStore creates a new session store
func NewSessionStore(logger *zap.Logger, metrics *observability.MetricsManager) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		logger:   logger,
		metrics:  metrics,
	}
}

// Open registers a new uninitialized session
func (s *SessionStore) Open(projectID, transport string) *Session {
	sess := &Session{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Transport: transport,
		StartedAt: time.Now(),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	s.metrics.SessionOpened()

	s.logger.Debug("Session opened",
		zap.String("session_id", sess.ID),
		zap.String("project", projectID),
		zap.String("transport", transport))
	return sess
}

// Get retrieves a session
func (s *SessionStore) Get(sessionID string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[sessionID]
}

// Close removes a session. Closing twice is a no-op.
func (s *SessionStore) Close(sessionID string) {
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.metrics.SessionClosed()
	s.logger.Debug("Session closed", zap.String("session_id", sessionID))
}

// List returns every open session, oldest first
func (s *SessionStore) List() []SessionInfo {
	s.mu.RLock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		name, version := sess.ClientInfo()
		out = append(out, SessionInfo{
			SessionID:     sess.ID,
			ProjectID:     sess.ProjectID,
			Transport:     sess.Transport,
			ClientName:    name,
			ClientVersion: version,
			Initialized:   sess.Initialized(),
			StartedAt:     sess.StartedAt,
		})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Count returns the number of open sessions
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
