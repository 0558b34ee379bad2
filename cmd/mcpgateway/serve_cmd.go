package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	bbolterrors "go.etcd.io/bbolt/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smart-mcp-proxy/mcpgateway/internal/config"
	"github.com/smart-mcp-proxy/mcpgateway/internal/credentials"
	"github.com/smart-mcp-proxy/mcpgateway/internal/httpapi"
	"github.com/smart-mcp-proxy/mcpgateway/internal/logs"
	"github.com/smart-mcp-proxy/mcpgateway/internal/observability"
	"github.com/smart-mcp-proxy/mcpgateway/internal/registry"
	"github.com/smart-mcp-proxy/mcpgateway/internal/runtime"
	"github.com/smart-mcp-proxy/mcpgateway/internal/secret"
	"github.com/smart-mcp-proxy/mcpgateway/internal/server"
	"github.com/smart-mcp-proxy/mcpgateway/internal/storage"
	"github.com/smart-mcp-proxy/mcpgateway/internal/upstream"
)

const (
	shutdownTimeout = 10 * time.Second
	uptimeInterval  = 15 * time.Second
)

var (
	enableStdio bool
	apiKey      string
)

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&enableStdio, "stdio", true, "Serve MCP over stdin/stdout (use --stdio=false for API-only mode)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key required by the management API")
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP over stdio and the management API (default command)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	addServeFlags(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("api-key") {
		cfg.APIKey = apiKey
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return err
	}

	logger, sanitizer, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	logger.Info("Starting mcpgateway",
		zap.String("version", version),
		zap.String("data_dir", cfg.DataDir),
		zap.String("project", cfg.ProjectID),
		zap.String("tenant", cfg.TenantID),
		zap.String("listen", cfg.Listen),
		zap.Bool("stdio", enableStdio))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := observability.NewManager(sugar, cfg.Observability(version))
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = obs.Close(shCtx)
	}()

	svc := runtime.NewService(registry.NewGlobalRegistry(), logger,
		runtime.WithMetrics(obs.Metrics()),
		runtime.WithTracing(obs.Tracing()))
	if err := installConfiguredConnectors(svc, cfg, logger); err != nil {
		return err
	}

	secrets := secret.NewResolver()
	secrets.OnResolved(sanitizer.RegisterResolvedSecret)
	client := upstream.NewClient(cfg.Execution.Upstream(), credentials.NewResolver(secrets, logger), logger,
		upstream.WithMetrics(obs.Metrics()),
		upstream.WithTracing(obs.Tracing()))

	dispatcher := server.NewDispatcher(svc, client, server.Options{
		ProjectID:          cfg.ProjectID,
		Version:            version,
		CheckOnList:        cfg.HotReload.Enabled && cfg.HotReload.CheckOnList,
		EnableBuiltinTools: cfg.EnableBuiltinTools,
	}, logger,
		server.WithMetrics(obs.Metrics()),
		server.WithTracing(obs.Tracing()))

	obs.Health().AddHealthChecker(observability.CheckFunc("registry", func(context.Context) error {
		_, err := svc.GetProjectStats(cfg.ProjectID)
		return err
	}))

	var (
		st       *storage.Manager
		activity *runtime.ActivityService
	)
	if cfg.Activity.Enabled {
		st, err = storage.NewManager(cfg.DataDir, sugar)
		if err != nil {
			if errors.Is(err, bbolterrors.ErrTimeout) {
				return &exitError{code: ExitCodeDBLocked, err: err}
			}
			return err
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Warn("Failed to close storage", zap.Error(err))
			}
		}()
		activity = runtime.NewActivityService(st, logger)
		activity.SetRetentionConfig(cfg.Activity.Retention, cfg.Activity.MaxRecords, 0)
		obs.Health().AddHealthChecker(observability.CheckFunc("storage", func(context.Context) error {
			return st.Ping()
		}))
	}

	var ln net.Listener
	if cfg.Listen != "" {
		ln, err = net.Listen("tcp", cfg.Listen)
		if err != nil {
			return &exitError{code: ExitCodePortConflict, err: fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)}
		}
	}
	if ln == nil && !enableStdio {
		return &exitError{code: ExitCodeConfigError, err: errors.New("nothing to serve: stdio is disabled and no listen address is set")}
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	if enableStdio {
		stdio := server.NewStdioServer(dispatcher, svc, logger)
		g.Go(func() error {
			// the client closing stdin ends the process
			defer cancel()
			return stdio.Serve(runCtx, os.Stdin, os.Stdout)
		})
	}

	if activity != nil {
		activity.SetMaxResponseSize(int(cfg.Execution.MaxResponseBytes))
		g.Go(func() error {
			activity.Start(runCtx, svc)
			return nil
		})
	}

	if cfg.HotReload.Enabled {
		watcher := runtime.NewWatcher(svc, cfg.HotReload.Interval, cfg.HotReload.Watch, logger)
		g.Go(func() error { return watcher.Run(runCtx) })
	}

	if obs.Metrics() != nil {
		g.Go(func() error {
			ticker := time.NewTicker(uptimeInterval)
			defer ticker.Stop()
			for {
				obs.UpdateMetrics()
				select {
				case <-runCtx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}

	if ln != nil {
		api := httpapi.NewServer(httpapi.Config{
			Service:       svc,
			Caller:        dispatcher,
			Storage:       st,
			Secrets:       secret.NewKeyringProvider(),
			Sessions:      dispatcher.Sessions(),
			DefaultTenant: cfg.TenantID,
			APIKey:        cfg.APIKey,
		}, sugar, obs)
		httpServer := &http.Server{
			Handler:           api,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Management API listening", zap.String("addr", ln.Addr().String()))
			if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("management API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			shCtx, shCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shCancel()
			return httpServer.Shutdown(shCtx)
		})
	}

	err = g.Wait()
	logger.Info("mcpgateway stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// installConfiguredConnectors installs connectors_dir then the explicit
// connectors list into the served project. A bad manifest is logged and
// skipped so one broken file does not keep the gateway down.
func installConfiguredConnectors(svc *runtime.Service, cfg *config.Config, logger *zap.Logger) error {
	if _, err := svc.EnsureProject(cfg.ProjectID, cfg.TenantID); err != nil {
		return fmt.Errorf("failed to create project %s: %w", cfg.ProjectID, err)
	}

	if cfg.ConnectorsDir != "" {
		if _, _, err := svc.InstallFromDirectory(cfg.ProjectID, cfg.TenantID, cfg.ConnectorsDir, true); err != nil {
			logger.Warn("Failed to install connectors directory",
				zap.String("dir", cfg.ConnectorsDir),
				zap.Error(err))
		}
	}

	for _, cc := range cfg.Connectors {
		entry, err := svc.InstallConnectorFromFile(cfg.ProjectID, cfg.TenantID, cc.Path, cc.Config, cc.IsEnabled())
		if err != nil {
			logger.Warn("Skipping connector",
				zap.String("path", cc.Path),
				zap.Error(err))
			continue
		}
		logger.Info("Installed connector",
			zap.String("connector", entry.Name),
			zap.Int("tools", entry.ToolCount()),
			zap.Bool("enabled", entry.Enabled))
	}
	return nil
}
