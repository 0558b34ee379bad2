package runtime

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"
	"golang.org/x/sync/errgroup"

	"github.com/smart-mcp-proxy/mcpgateway/internal/contracts"
	"github.com/smart-mcp-proxy/mcpgateway/internal/manifest"
	"github.com/smart-mcp-proxy/mcpgateway/internal/registry"
)

// maxParallelReloads bounds concurrent stat+parse work in one check
const maxParallelReloads = 8

// ReloadResult reports what one hot-reload check did
type ReloadResult struct {
	Reloaded []string         // connectors replaced, in install order
	Failed   map[string]error // connectors whose file could not be read or parsed
}

// Info converts the result for the management API
func (r *ReloadResult) Info() contracts.ReloadInfo {
	info := contracts.ReloadInfo{Reloaded: r.Reloaded}
	if info.Reloaded == nil {
		info.Reloaded = []string{}
	}
	if len(r.Failed) > 0 {
		info.Failed = make(map[string]string, len(r.Failed))
		for name, err := range r.Failed {
			info.Failed[name] = err.Error()
		}
	}
	return info
}

type reloadCandidate struct {
	name    string
	path    string
	oldMod  time.Time
	version string

	next    *manifest.Manifest
	nextMod time.Time
	err     error
}

// PerformHotReloadCheck re-reads every file-backed connector whose source
// modification time changed and swaps in the new entry. Files are read
// outside the project lock; only the swap happens under it. A connector
// whose file fails to load keeps its current entry and is reported in Failed.
func (s *Service) PerformHotReloadCheck(ctx context.Context, projectID string) (*ReloadResult, error) {
	p, err := s.registry.GetProject(projectID)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracing.TraceHotReload(ctx, projectID)
	defer span.End()

	var candidates []*reloadCandidate
	for _, c := range p.Snapshot().Connectors() {
		if c.Source == nil {
			continue
		}
		candidates = append(candidates, &reloadCandidate{
			name:    c.Name,
			path:    c.Source.Path,
			oldMod:  c.Source.ModTime,
			version: c.Version,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelReloads)
	for _, cand := range candidates {
		cand := cand
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s.readCandidate(cand)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &ReloadResult{Failed: make(map[string]error)}
	var changed []*reloadCandidate
	for _, cand := range candidates {
		switch {
		case cand.err != nil:
			result.Failed[cand.name] = cand.err
			s.logger.Warn("Hot reload failed, keeping current connector",
				zap.String("project", projectID),
				zap.String("connector", cand.name),
				zap.String("path", cand.path),
				zap.Error(cand.err))
		case cand.next != nil:
			changed = append(changed, cand)
		}
	}

	var applied []*reloadCandidate
	if len(changed) > 0 {
		now := s.now()
		err := p.Mutate(func(tx *registry.Txn) error {
			applied = applied[:0]
			result.Reloaded = result.Reloaded[:0]
			for _, cand := range changed {
				cur := tx.Get(cand.name)
				// uninstalled or reloaded by someone else since the stat
				if cur == nil || cur.Source == nil || cur.Source.Path != cand.path || !cur.Source.ModTime.Equal(cand.oldMod) {
					s.logger.Debug("Skipping hot reload of a connector changed concurrently",
						zap.String("project", projectID),
						zap.String("connector", cand.name))
					continue
				}
				next := cur.Reloaded(cand.next, &registry.Source{Path: cand.path, ModTime: cand.nextMod}, now)
				if err := tx.Replace(next); err != nil {
					return err
				}
				result.Reloaded = append(result.Reloaded, cand.name)
				applied = append(applied, cand)
			}
			return nil
		})
		if err != nil {
			s.tracing.SetSpanError(ctx, err)
			return nil, err
		}
	}

	for _, cand := range applied {
		s.logReload(projectID, cand)
	}

	s.metrics.RecordHotReload(projectID, len(result.Reloaded), len(result.Failed))
	if len(result.Reloaded) > 0 {
		s.emitConnectorsReloaded(projectID, result.Reloaded)
		s.updateProjectMetrics(p)
	}
	return result, nil
}

func (s *Service) readCandidate(cand *reloadCandidate) {
	info, err := os.Stat(cand.path)
	if err != nil {
		kind := contracts.KindInternal
		if errors.Is(err, os.ErrNotExist) {
			kind = contracts.KindNotFound
		}
		cand.err = contracts.WrapError(kind, "hot_reload", err, "cannot stat %s", cand.path)
		return
	}
	if info.ModTime().Equal(cand.oldMod) {
		return
	}

	m, err := manifest.Load(cand.path)
	if err != nil {
		cand.err = contracts.WrapError(contracts.KindValidationFailed, "hot_reload", err, "cannot load %s", cand.path)
		return
	}
	if m.Name != cand.name {
		cand.err = contracts.NewError(contracts.KindValidationFailed, "hot_reload",
			"manifest %s now declares connector %q; rename requires reinstall", cand.path, m.Name)
		return
	}
	cand.next = m
	cand.nextMod = info.ModTime()
}

func (s *Service) logReload(projectID string, cand *reloadCandidate) {
	fields := []zap.Field{
		zap.String("project", projectID),
		zap.String("connector", cand.name),
		zap.String("old_version", cand.version),
		zap.String("new_version", cand.next.Version),
		zap.Int("tools", len(cand.next.Tools)),
	}
	if semver.Compare("v"+cand.next.Version, "v"+cand.version) < 0 {
		s.logger.Warn("Connector reloaded with an older version", fields...)
		return
	}
	s.logger.Info("Connector reloaded", fields...)
}

// CheckAllProjects runs a hot-reload check on every project
func (s *Service) CheckAllProjects(ctx context.Context) map[string]*ReloadResult {
	results := make(map[string]*ReloadResult)
	for _, p := range s.registry.Projects() {
		res, err := s.PerformHotReloadCheck(ctx, p.ProjectID())
		if err != nil {
			if ctx.Err() != nil {
				return results
			}
			s.logger.Warn("Hot reload check failed", zap.String("project", p.ProjectID()), zap.Error(err))
			continue
		}
		results[p.ProjectID()] = res
	}
	return results
}

// SourcePaths returns the manifest file of every file-backed connector
func (s *Service) SourcePaths() []string {
	var paths []string
	for _, p := range s.registry.Projects() {
		for _, c := range p.ListConnectors() {
			if path := c.SourcePath(); path != "" {
				paths = append(paths, path)
			}
		}
	}
	return paths
}
