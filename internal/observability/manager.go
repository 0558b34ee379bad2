package observability

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Tool call status constants
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Config holds configuration for observability features
type Config struct {
	MetricsEnabled bool
	Tracing        TracingConfig
}

// Manager coordinates health, metrics and tracing
type Manager struct {
	logger  *zap.SugaredLogger
	health  *HealthManager
	metrics *MetricsManager
	tracing *TracingManager

	startTime time.Time
}

// NewManager creates a new observability manager
func NewManager(logger *zap.SugaredLogger, config Config) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	manager := &Manager{
		logger:    logger,
		health:    NewHealthManager(logger),
		startTime: time.Now(),
	}

	if config.MetricsEnabled {
		manager.metrics = NewMetricsManager(logger)
		logger.Info("Prometheus metrics enabled")
	}

	tracing, err := NewTracingManager(logger, config.Tracing)
	if err != nil {
		return nil, err
	}
	manager.tracing = tracing

	return manager, nil
}

// Health returns the health manager
func (m *Manager) Health() *HealthManager {
	return m.health
}

// Metrics returns the metrics manager; nil when metrics are disabled
func (m *Manager) Metrics() *MetricsManager {
	return m.metrics
}

// Tracing returns the tracing manager
func (m *Manager) Tracing() *TracingManager {
	return m.tracing
}

// UpdateMetrics refreshes time-based gauges
func (m *Manager) UpdateMetrics() {
	m.metrics.SetUptime(m.startTime)
}

// Close gracefully shuts down observability components
func (m *Manager) Close(ctx context.Context) error {
	if err := m.tracing.Close(ctx); err != nil {
		m.logger.Errorw("Failed to close tracing manager", "error", err)
		return err
	}
	return nil
}
