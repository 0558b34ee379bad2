package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned by every Manager call after Close
var ErrClosed = errors.New("activity store is closed")

// Manager owns the gateway's activity database in the data directory. It is
// safe for concurrent use by the recorder, the retention loop and the API.
type Manager struct {
	db     *BoltDB
	path   string
	mu     sync.RWMutex
	logger *zap.SugaredLogger
}

// NewManager opens <dataDir>/activity.db, creating it on first use
func NewManager(dataDir string, logger *zap.SugaredLogger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	db, err := NewBoltDB(dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open activity store: %w", err)
	}
	path := filepath.Join(dataDir, DatabaseFile)
	logger.Debugw("Activity store opened", "path", path)
	return &Manager{db: db, path: path, logger: logger}, nil
}

// Path returns the database file location
func (m *Manager) Path() string {
	return m.path
}

// Close releases the database file. Closing twice is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// SchemaVersion returns the schema version recorded in the meta bucket
func (m *Manager) SchemaVersion() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return 0, ErrClosed
	}
	return m.db.GetSchemaVersion()
}

// Ping reports whether the store is open and carries the schema this build
// writes; the serve command registers it as a health check
func (m *Manager) Ping() error {
	v, err := m.SchemaVersion()
	if err != nil {
		return err
	}
	if v != CurrentSchemaVersion {
		return fmt.Errorf("activity store %s has schema version %d, want %d", m.path, v, CurrentSchemaVersion)
	}
	return nil
}
