package runtime

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgateway/internal/manifest"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher triggers hot-reload checks on a polling interval and, when
// enabled, shortly after filesystem events in the directories holding
// connector manifests.
type Watcher struct {
	svc         *Service
	logger      *zap.Logger
	interval    time.Duration
	useFSNotify bool
	debounce    time.Duration

	watched map[string]struct{}
}

// NewWatcher creates a watcher. An interval of zero disables polling.
func NewWatcher(svc *Service, interval time.Duration, useFSNotify bool, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		svc:         svc,
		logger:      logger,
		interval:    interval,
		useFSNotify: useFSNotify,
		debounce:    defaultDebounce,
		watched:     make(map[string]struct{}),
	}
}

// Run blocks until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var (
		fsEvents <-chan fsnotify.Event
		fsErrors <-chan error
		fw       *fsnotify.Watcher
	)
	if w.useFSNotify {
		var err error
		fw, err = fsnotify.NewWatcher()
		if err != nil {
			w.logger.Warn("File watching unavailable, relying on polling", zap.Error(err))
		} else {
			defer fw.Close()
			fsEvents = fw.Events
			fsErrors = fw.Errors
			w.syncDirs(fw)
		}
	}

	w.logger.Info("Hot reload watcher started",
		zap.Duration("interval", w.interval),
		zap.Bool("fsnotify", fw != nil))

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			w.check(ctx, fw)
		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if relevantEvent(ev) {
				pending = time.After(w.debounce)
			}
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			w.logger.Warn("File watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			w.check(ctx, fw)
		}
	}
}

func (w *Watcher) check(ctx context.Context, fw *fsnotify.Watcher) {
	for project, res := range w.svc.CheckAllProjects(ctx) {
		if len(res.Reloaded) > 0 || len(res.Failed) > 0 {
			w.logger.Debug("Hot reload check finished",
				zap.String("project", project),
				zap.Strings("reloaded", res.Reloaded),
				zap.Int("failed", len(res.Failed)))
		}
	}
	if fw != nil {
		w.syncDirs(fw)
	}
}

// syncDirs watches the directory of every file-backed connector. Directories
// rather than files are watched so that editors replacing a file by rename
// keep being observed.
func (w *Watcher) syncDirs(fw *fsnotify.Watcher) {
	for _, path := range w.svc.SourcePaths() {
		dir := filepath.Dir(path)
		if _, ok := w.watched[dir]; ok {
			continue
		}
		if err := fw.Add(dir); err != nil {
			w.logger.Warn("Cannot watch connector directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		w.watched[dir] = struct{}{}
	}
}

func relevantEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
		return false
	}
	_, ok := manifest.FormatFromPath(ev.Name)
	return ok
}
