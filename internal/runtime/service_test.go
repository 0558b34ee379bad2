package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgateway/internal/contracts"
	"github.com/smart-mcp-proxy/mcpgateway/internal/manifest"
	"github.com/smart-mcp-proxy/mcpgateway/internal/registry"
)

const testProject = "default"
const testTenant = "acme"

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(registry.NewGlobalRegistry(), zap.NewNop())
}

// manifestYAML renders a connector manifest whose tools all call GET /<tool>
func manifestYAML(name, version string, tools ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "connector:\n  name: %s\n  version: %s\n  base_url: https://api.example.com\n  tools:\n", name, version)
	for _, tool := range tools {
		fmt.Fprintf(&b, "    - name: %s\n", tool)
		fmt.Fprintf(&b, "      description: %s tool\n", tool)
		fmt.Fprintf(&b, "      endpoint: GET /%s\n", tool)
		b.WriteString("      input_schema: {type: object}\n")
		b.WriteString("      output_schema: {type: object}\n")
	}
	return b.String()
}

func writeManifest(t *testing.T, dir, file, content string) string {
	t.Helper()
	path := filepath.Join(dir, file)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func parseManifest(t *testing.T, name, version string, tools ...string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse([]byte(manifestYAML(name, version, tools...)), manifest.FormatYAML)
	require.NoError(t, err)
	return m
}

func TestInstallFromManifestAndLookup(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.InstallConnectorFromManifest(testProject, testTenant, parseManifest(t, "github", "1.0.0", "get_repo", "list_issues"), nil, true)
	require.NoError(t, err)
	_, err = svc.InstallConnectorFromManifest(testProject, testTenant, parseManifest(t, "slack", "2.0.0", "post_message"), nil, false)
	require.NoError(t, err)

	all, err := svc.GetProjectTools(testProject)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "get_repo", all[0].Tool.Name)
	assert.Equal(t, "list_issues", all[1].Tool.Name)
	assert.Equal(t, "post_message", all[2].Tool.Name)
	assert.False(t, all[2].Enabled())

	enabled, err := svc.GetEnabledTools(testProject)
	require.NoError(t, err)
	assert.Len(t, enabled, 2)

	ref, err := svc.GetToolDefinition(testProject, "post_message")
	require.NoError(t, err)
	assert.Equal(t, "slack", ref.Connector.Name)

	_, err = svc.GetToolDefinition(testProject, "missing")
	assert.True(t, contracts.IsKind(err, contracts.KindNotFound))

	_, err = svc.InstallConnectorFromManifest(testProject, testTenant, parseManifest(t, "github", "1.1.0", "get_repo"), nil, true)
	assert.True(t, contracts.IsKind(err, contracts.KindAlreadyExists))

	_, err = svc.InstallConnectorFromManifest(testProject, "other-tenant", parseManifest(t, "jira", "1.0.0", "get_issue"), nil, true)
	assert.True(t, contracts.IsKind(err, contracts.KindValidationFailed))
}

func TestInstallRejectsInvalidManifest(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.InstallConnectorFromManifest(testProject, testTenant, nil, nil, true)
	assert.True(t, contracts.IsKind(err, contracts.KindValidationFailed))

	bad := &manifest.Manifest{Name: "Bad Name", Version: "x", Tools: nil}
	_, err = svc.InstallConnectorFromManifest(testProject, testTenant, bad, nil, true)
	assert.True(t, contracts.IsKind(err, contracts.KindValidationFailed))

	_, err = svc.ListConnectors(testProject)
	assert.True(t, contracts.IsKind(err, contracts.KindNotFound), "a rejected install must not create the project")
}

func TestInstallSharedManifestIntoManyProjects(t *testing.T) {
	svc := newTestService(t)
	m := parseManifest(t, "github", "1.0.0", "get_repo")
	_, err := svc.InstallConnectorFromManifest("a", testTenant, m, nil, true)
	require.NoError(t, err)

	ref, err := svc.GetToolDefinition("a", "get_repo")
	require.NoError(t, err)
	def := ref.Tool.Definition

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.InstallConnectorFromManifest(fmt.Sprintf("p%d", i), testTenant, m, nil, true)
			assert.NoError(t, err)
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, def.ValidateArguments(map[string]any{}))
			assert.Equal(t, "/get_repo", def.ParsedEndpoint().Path)
		}()
	}
	wg.Wait()

	stats := svc.GetGlobalStats()
	assert.Equal(t, 51, stats.ProjectCount)
	for i := 0; i < 50; i++ {
		other, err := svc.GetToolDefinition(fmt.Sprintf("p%d", i), "get_repo")
		require.NoError(t, err)
		assert.Same(t, m, other.Connector.Manifest)
	}
}

func TestInstallFromFile(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()

	path := writeManifest(t, dir, "github.yaml", manifestYAML("github", "1.0.0", "get_repo"))
	entry, err := svc.InstallConnectorFromFile(testProject, testTenant, path, map[string]any{"api_key": "k"}, true)
	require.NoError(t, err)
	assert.Equal(t, path, entry.SourcePath())
	assert.Equal(t, "k", entry.Config["api_key"])

	_, err = svc.InstallConnectorFromFile(testProject, testTenant, filepath.Join(dir, "missing.yaml"), nil, true)
	assert.True(t, contracts.IsKind(err, contracts.KindNotFound))

	broken := writeManifest(t, dir, "broken.yaml", "connector: [")
	_, err = svc.InstallConnectorFromFile(testProject, testTenant, broken, nil, true)
	assert.True(t, contracts.IsKind(err, contracts.KindValidationFailed))
}

func TestInstallFromDirectory(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()
	writeManifest(t, dir, "a.yaml", manifestYAML("alpha", "1.0.0", "ping_alpha"))
	writeManifest(t, dir, "b.yml", manifestYAML("beta", "1.0.0", "ping_beta"))
	writeManifest(t, dir, "c.yaml", "connector: {name: broken}")
	writeManifest(t, dir, "notes.txt", "ignored")

	installed, failed, err := svc.InstallFromDirectory(testProject, testTenant, dir, true)
	require.NoError(t, err)
	assert.Len(t, installed, 2)
	assert.Len(t, failed, 1)
	assert.Contains(t, failed, filepath.Join(dir, "c.yaml"))
}

func TestEnableDisableUninstall(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.InstallConnectorFromManifest(testProject, testTenant, parseManifest(t, "github", "1.0.0", "get_repo"), nil, true)
	require.NoError(t, err)

	entry, err := svc.DisableConnector(testProject, "github")
	require.NoError(t, err)
	assert.False(t, entry.Enabled)

	enabled, err := svc.GetEnabledTools(testProject)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	entry, err = svc.EnableConnector(testProject, "github")
	require.NoError(t, err)
	assert.True(t, entry.Enabled)

	_, err = svc.EnableConnector(testProject, "missing")
	assert.True(t, contracts.IsKind(err, contracts.KindNotFound))

	require.NoError(t, svc.UninstallConnector(testProject, "github"))
	err = svc.UninstallConnector(testProject, "github")
	assert.True(t, contracts.IsKind(err, contracts.KindNotFound))

	tools, err := svc.GetProjectTools(testProject)
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestMarkToolUsedAndStats(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
	svc := NewService(registry.NewGlobalRegistry(registry.WithClock(clock)), zap.NewNop(), WithClock(clock))

	_, err := svc.InstallConnectorFromManifest(testProject, testTenant, parseManifest(t, "github", "1.0.0", "get_repo", "list_issues"), nil, true)
	require.NoError(t, err)
	_, err = svc.InstallConnectorFromManifest(testProject, testTenant, parseManifest(t, "slack", "1.0.0", "post_message"), nil, false)
	require.NoError(t, err)

	svc.MarkToolUsed(testProject, "github", "get_repo")
	svc.MarkToolUsed(testProject, "github", "get_repo")
	svc.MarkToolUsed(testProject, "github", "gone")
	svc.MarkToolUsed("no-such-project", "github", "get_repo")

	ref, err := svc.GetToolDefinition(testProject, "get_repo")
	require.NoError(t, err)
	assert.Equal(t, int64(2), ref.Tool.InvocationCount)
	require.NotNil(t, ref.Tool.LastUsed)

	stats, err := svc.GetProjectStats(testProject)
	require.NoError(t, err)
	assert.Equal(t, testTenant, stats.TenantID)
	assert.Equal(t, 2, stats.ConnectorCount)
	assert.Equal(t, 1, stats.EnabledConnectors)
	assert.Equal(t, 1, stats.DisabledConnectors)
	assert.Equal(t, 3, stats.ToolCount)
	assert.Equal(t, 2, stats.EnabledTools)
	assert.Equal(t, int64(2), stats.TotalInvocations)

	_, err = svc.InstallConnectorFromManifest("second", testTenant, parseManifest(t, "jira", "1.0.0", "get_issue"), nil, true)
	require.NoError(t, err)

	global := svc.GetGlobalStats()
	assert.Equal(t, 2, global.ProjectCount)
	assert.Equal(t, 3, global.ConnectorCount)
	assert.Equal(t, 4, global.ToolCount)
	require.Len(t, global.Projects, 2)
	assert.Equal(t, testProject, global.Projects[0].ProjectID)
}

func TestMutationsEmitEvents(t *testing.T) {
	svc := newTestService(t)
	ch := svc.SubscribeEvents()
	defer svc.UnsubscribeEvents(ch)

	_, err := svc.InstallConnectorFromManifest(testProject, testTenant, parseManifest(t, "github", "1.0.0", "get_repo"), nil, true)
	require.NoError(t, err)
	_, err = svc.DisableConnector(testProject, "github")
	require.NoError(t, err)
	require.NoError(t, svc.UninstallConnector(testProject, "github"))

	var reasons []string
	for i := 0; i < 3; i++ {
		select {
		case evt := <-ch:
			assert.Equal(t, EventTypeConnectorsChanged, evt.Type)
			assert.Equal(t, testProject, evt.ProjectID)
			assert.Equal(t, "github", evt.Payload["connector"])
			reasons = append(reasons, evt.Payload["reason"].(string))
		case <-time.After(time.Second):
			t.Fatal("expected connectors.changed event")
		}
	}
	assert.Equal(t, []string{"installed", "disabled", "uninstalled"}, reasons)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	svc := newTestService(t)
	ch := svc.SubscribeEvents()
	svc.UnsubscribeEvents(ch)
	svc.UnsubscribeEvents(ch)

	_, ok := <-ch
	assert.False(t, ok)

	// publishing with no subscribers must not block
	svc.EmitToolCallCompleted(ToolCallRecord{ProjectID: testProject, Tool: "echo"})
}
