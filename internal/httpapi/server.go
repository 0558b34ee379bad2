// Package httpapi serves the management REST API: projects, connectors,
// tools, activity and stats, plus health and metrics endpoints.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgateway/internal/contracts"
	"github.com/smart-mcp-proxy/mcpgateway/internal/observability"
	"github.com/smart-mcp-proxy/mcpgateway/internal/reqcontext"
	"github.com/smart-mcp-proxy/mcpgateway/internal/runtime"
	"github.com/smart-mcp-proxy/mcpgateway/internal/server"
	"github.com/smart-mcp-proxy/mcpgateway/internal/storage"
)

const defaultRequestTimeout = 60 * time.Second

// ToolCaller invokes a tool of a project outside an MCP session
type ToolCaller interface {
	CallTool(ctx context.Context, projectID, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// SecretStore writes secrets that connector configs reference
type SecretStore interface {
	Store(name, value string) error
	Delete(name string) error
}

// Config wires the server to the gateway components. Only Service is
// required; routes backed by a nil component are not registered.
type Config struct {
	Service  *runtime.Service
	Caller   ToolCaller
	Storage  *storage.Manager
	Secrets  SecretStore
	Sessions *server.SessionStore

	DefaultTenant  string
	APIKey         string // empty disables authentication
	RequestTimeout time.Duration
}

// Server provides HTTP API endpoints with chi router
type Server struct {
	cfg           Config
	svc           *runtime.Service
	logger        *zap.SugaredLogger
	router        *chi.Mux
	observability *observability.Manager
}

// NewServer creates a new HTTP API server
func NewServer(cfg Config, logger *zap.SugaredLogger, obs *observability.Manager) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		cfg:           cfg,
		svc:           cfg.Service,
		logger:        logger,
		router:        chi.NewRouter(),
		observability: obs,
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	if s.observability != nil {
		if tracing := s.observability.Tracing(); tracing != nil {
			s.router.Use(tracing.HTTPMiddleware())
		}
		if metrics := s.observability.Metrics(); metrics != nil {
			s.router.Use(metrics.HTTPMiddleware())
		}
	}

	s.router.Use(requestIDMiddleware)
	s.router.Use(s.httpLoggingMiddleware())
	s.router.Use(middleware.Recoverer)

	if s.observability != nil && s.observability.Health() != nil {
		s.router.Get("/healthz", s.observability.Health().HealthzHandler())
	} else {
		s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	if s.observability != nil && s.observability.Metrics() != nil {
		s.router.Handle("/metrics", s.observability.Metrics().Handler())
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		r.Use(s.apiKeyAuthMiddleware())

		r.Get("/stats", s.handleGetStats)
		r.Get("/projects", s.handleListProjects)

		r.Route("/projects/{project}", func(r chi.Router) {
			r.Put("/", s.handleEnsureProject)
			r.Get("/stats", s.handleGetProjectStats)
			r.Post("/reload", s.handleReloadProject)

			r.Get("/connectors", s.handleListConnectors)
			r.Post("/connectors", s.handleInstallConnector)
			r.Route("/connectors/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetConnector)
				r.Delete("/", s.handleUninstallConnector)
				r.Post("/enable", s.handleEnableConnector)
				r.Post("/disable", s.handleDisableConnector)
			})

			r.Get("/tools", s.handleListTools)
			r.Get("/tools/{tool}", s.handleGetTool)
			if s.cfg.Caller != nil {
				r.Post("/tools/{tool}/invoke", s.handleInvokeTool)
			}
		})

		if s.cfg.Storage != nil {
			r.Get("/activity", s.handleListActivity)
			r.Get("/activity/{id}", s.handleGetActivity)
		}
		if s.cfg.Sessions != nil {
			r.Get("/sessions", s.handleListSessions)
		}
		if s.cfg.Secrets != nil {
			r.Put("/secrets/{name}", s.handleSetSecret)
			r.Delete("/secrets/{name}", s.handleDeleteSecret)
		}
	})

	s.logger.Debugw("HTTP API routes configured",
		"activity", s.cfg.Storage != nil,
		"invoke", s.cfg.Caller != nil,
		"secrets", s.cfg.Secrets != nil,
		"auth", s.cfg.APIKey != "")
}

// requestIDMiddleware honours a valid client X-Request-Id or generates one
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := reqcontext.GetOrGenerateRequestID(r.Header.Get(reqcontext.RequestIDHeader))
		w.Header().Set(reqcontext.RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(reqcontext.WithRequestID(r.Context(), requestID)))
	})
}

func (s *Server) httpLoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestLogger := s.logger.With("request_id", reqcontext.GetRequestID(r.Context()))
			ctx := reqcontext.WithLogger(r.Context(), requestLogger)

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r.WithContext(ctx))

			requestLogger.Debugw("HTTP API Request",
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"remote_addr", r.RemoteAddr,
				"status", ww.statusCode,
				"duration", time.Since(start))
		})
	}
}

func (s *Server) apiKeyAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.cfg.APIKey == "" || s.validateAPIKey(r) {
				next.ServeHTTP(w, r)
				return
			}
			s.logger.Warnw("Rejected request with invalid API key",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr)
			s.writeJSON(w, http.StatusUnauthorized, contracts.APIResponse{Error: "invalid or missing API key"})
		})
	}
}

func (s *Server) validateAPIKey(r *http.Request) bool {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		key = r.URL.Query().Get("apikey")
	}
	return key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) == 1
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// JSON response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorw("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeSuccess(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, contracts.NewSuccessResponse(data))
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForKind(contracts.KindOf(err))
	if status >= http.StatusInternalServerError {
		reqcontext.Logger(r.Context()).Errorw("Request failed", "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, contracts.NewErrorResponse(err))
}

func statusForKind(kind contracts.Kind) int {
	switch kind {
	case contracts.KindNotFound:
		return http.StatusNotFound
	case contracts.KindAlreadyExists, contracts.KindDisabled:
		return http.StatusConflict
	case contracts.KindValidationFailed, contracts.KindInvalidArguments:
		return http.StatusBadRequest
	case contracts.KindRateLimited:
		return http.StatusTooManyRequests
	case contracts.KindTimeout:
		return http.StatusGatewayTimeout
	case contracts.KindAuthFailed, contracts.KindUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return contracts.WrapError(contracts.KindValidationFailed, "decode_body", err, "invalid request body")
	}
	return nil
}
