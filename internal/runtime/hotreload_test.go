package runtime

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/smart-mcp-proxy/mcpgateway/internal/contracts"
	"github.com/smart-mcp-proxy/mcpgateway/internal/registry"
)

// touch rewrites path and moves its modification time forward
func touch(t *testing.T, path, content string, offset time.Duration) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	mod := time.Now().Add(offset)
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestHotReloadReplacesChangedConnector(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()
	ghPath := writeManifest(t, dir, "github.yaml", manifestYAML("github", "1.0.0", "get_repo"))
	slackPath := writeManifest(t, dir, "slack.yaml", manifestYAML("slack", "1.0.0", "post_message"))

	_, err := svc.InstallConnectorFromFile(testProject, testTenant, ghPath, map[string]any{"api_key": "k"}, false)
	require.NoError(t, err)
	_, err = svc.InstallConnectorFromFile(testProject, testTenant, slackPath, nil, true)
	require.NoError(t, err)
	svc.MarkToolUsed(testProject, "github", "get_repo")

	slackBefore, err := svc.GetConnector(testProject, "slack")
	require.NoError(t, err)

	touch(t, ghPath, manifestYAML("github", "1.1.0", "get_repo", "list_issues"), time.Minute)

	ch := svc.SubscribeEvents()
	defer svc.UnsubscribeEvents(ch)

	res, err := svc.PerformHotReloadCheck(context.Background(), testProject)
	require.NoError(t, err)
	assert.Equal(t, []string{"github"}, res.Reloaded)
	assert.Empty(t, res.Failed)

	gh, err := svc.GetConnector(testProject, "github")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", gh.Version)
	assert.Equal(t, 2, gh.ToolCount())
	assert.False(t, gh.Enabled, "enabled flag survives reload")
	assert.Equal(t, "k", gh.Config["api_key"], "config survives reload")
	assert.Equal(t, int64(0), gh.Tool("get_repo").InvocationCount, "usage resets on reload")

	slackAfter, err := svc.GetConnector(testProject, "slack")
	require.NoError(t, err)
	assert.Same(t, slackBefore, slackAfter, "untouched connectors keep their entry")

	select {
	case evt := <-ch:
		assert.Equal(t, EventTypeConnectorsReloaded, evt.Type)
		assert.Equal(t, []string{"github"}, evt.Payload["reloaded"])
	case <-time.After(time.Second):
		t.Fatal("expected connectors.reloaded event")
	}

	res, err = svc.PerformHotReloadCheck(context.Background(), testProject)
	require.NoError(t, err)
	assert.Empty(t, res.Reloaded, "a second check with no changes reloads nothing")
}

func TestHotReloadLogsOnlyAppliedReloads(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	// the clock is read between the file stat and the swap; uninstalling
	// there simulates a concurrent removal
	var (
		svc   *Service
		armed bool
	)
	clock := func() time.Time {
		if armed {
			armed = false
			require.NoError(t, svc.UninstallConnector(testProject, "github"))
		}
		return time.Now()
	}
	svc = NewService(registry.NewGlobalRegistry(), zap.New(core), WithClock(clock))

	dir := t.TempDir()
	path := writeManifest(t, dir, "github.yaml", manifestYAML("github", "1.0.0", "get_repo"))
	_, err := svc.InstallConnectorFromFile(testProject, testTenant, path, nil, true)
	require.NoError(t, err)
	touch(t, path, manifestYAML("github", "1.1.0", "get_repo"), time.Minute)

	armed = true
	res, err := svc.PerformHotReloadCheck(context.Background(), testProject)
	require.NoError(t, err)
	assert.Empty(t, res.Reloaded)
	assert.Empty(t, res.Failed)

	assert.Zero(t, logs.FilterMessage("Connector reloaded").Len())
	assert.Equal(t, 1, logs.FilterMessage("Skipping hot reload of a connector changed concurrently").Len())
}

func TestHotReloadKeepsEntryOnParseFailure(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()
	path := writeManifest(t, dir, "github.yaml", manifestYAML("github", "1.0.0", "get_repo"))
	_, err := svc.InstallConnectorFromFile(testProject, testTenant, path, nil, true)
	require.NoError(t, err)

	touch(t, path, "connector: {name: github, version: nope}", time.Minute)

	res, err := svc.PerformHotReloadCheck(context.Background(), testProject)
	require.NoError(t, err)
	assert.Empty(t, res.Reloaded)
	require.Contains(t, res.Failed, "github")
	assert.True(t, contracts.IsKind(res.Failed["github"], contracts.KindValidationFailed))

	gh, err := svc.GetConnector(testProject, "github")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", gh.Version)

	info := res.Info()
	assert.Equal(t, []string{}, info.Reloaded)
	assert.Contains(t, info.Failed, "github")
}

func TestHotReloadRejectsRename(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()
	path := writeManifest(t, dir, "github.yaml", manifestYAML("github", "1.0.0", "get_repo"))
	_, err := svc.InstallConnectorFromFile(testProject, testTenant, path, nil, true)
	require.NoError(t, err)

	touch(t, path, manifestYAML("gitlab", "1.0.0", "get_repo"), time.Minute)

	res, err := svc.PerformHotReloadCheck(context.Background(), testProject)
	require.NoError(t, err)
	assert.Contains(t, res.Failed, "github")
}

func TestHotReloadMissingFile(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()
	path := writeManifest(t, dir, "github.yaml", manifestYAML("github", "1.0.0", "get_repo"))
	_, err := svc.InstallConnectorFromFile(testProject, testTenant, path, nil, true)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	res, err := svc.PerformHotReloadCheck(context.Background(), testProject)
	require.NoError(t, err)
	assert.True(t, contracts.IsKind(res.Failed["github"], contracts.KindNotFound))

	_, err = svc.PerformHotReloadCheck(context.Background(), "unknown")
	assert.True(t, contracts.IsKind(err, contracts.KindNotFound))
}

func TestHotReloadSkipsManifestInstalls(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.InstallConnectorFromManifest(testProject, testTenant, parseManifest(t, "github", "1.0.0", "get_repo"), nil, true)
	require.NoError(t, err)

	res, err := svc.PerformHotReloadCheck(context.Background(), testProject)
	require.NoError(t, err)
	assert.Empty(t, res.Reloaded)
	assert.Empty(t, res.Failed)
}

func TestHotReloadConcurrentWithReads(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()
	path := writeManifest(t, dir, "github.yaml", manifestYAML("github", "1.0.0", "get_repo"))
	_, err := svc.InstallConnectorFromFile(testProject, testTenant, path, nil, true)
	require.NoError(t, err)
	touch(t, path, manifestYAML("github", "2.0.0", "get_repo"), time.Minute)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				ref, err := svc.GetToolDefinition(testProject, "get_repo")
				if assert.NoError(t, err) {
					v := ref.Connector.Version
					assert.True(t, v == "1.0.0" || v == "2.0.0")
				}
				svc.MarkToolUsed(testProject, "github", "get_repo")
			}
		}()
	}

	for i := 0; i < 5; i++ {
		_, err := svc.PerformHotReloadCheck(context.Background(), testProject)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	gh, err := svc.GetConnector(testProject, "github")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", gh.Version)
}

func TestHotReloadCancelledContext(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()
	path := writeManifest(t, dir, "github.yaml", manifestYAML("github", "1.0.0", "get_repo"))
	_, err := svc.InstallConnectorFromFile(testProject, testTenant, path, nil, true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.PerformHotReloadCheck(ctx, testProject)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWatcherPollsForChanges(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()
	path := writeManifest(t, dir, "github.yaml", manifestYAML("github", "1.0.0", "get_repo"))
	_, err := svc.InstallConnectorFromFile(testProject, testTenant, path, nil, true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWatcher(svc, 20*time.Millisecond, true, zap.NewNop())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	touch(t, path, manifestYAML("github", "1.0.1", "get_repo"), time.Minute)

	require.Eventually(t, func() bool {
		gh, err := svc.GetConnector(testProject, "github")
		return err == nil && gh.Version == "1.0.1"
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
