package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesGatewayMetrics(t *testing.T) {
	mm := NewMetricsManager(nil)
	mm.RecordToolCall("github", "get_repo", StatusSuccess, 120*time.Millisecond)
	mm.RecordUpstreamAttempt("github", "retry")
	mm.RecordRateLimited("github")
	mm.RecordHotReload("default", 2, 1)
	mm.SetProjectStats("default", 2, 1, 7)
	mm.SessionOpened()

	srv := httptest.NewServer(mm.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	for _, want := range []string{
		`mcpgateway_tool_calls_total{connector="github",status="success",tool="get_repo"} 1`,
		`mcpgateway_upstream_attempts_total{connector="github",outcome="retry"} 1`,
		`mcpgateway_rate_limited_total{connector="github"} 1`,
		`mcpgateway_hot_reloads_total{project="default",result="reloaded"} 2`,
		`mcpgateway_tools{project="default"} 7`,
		`mcpgateway_sessions_active 1`,
	} {
		assert.True(t, strings.Contains(text, want), "missing %s", want)
	}
}

func TestNilMetricsManagerIsNoop(t *testing.T) {
	var mm *MetricsManager
	assert.NotPanics(t, func() {
		mm.RecordToolCall("c", "t", StatusError, time.Second)
		mm.RecordRateLimited("c")
		mm.SetProjectStats("p", 0, 0, 0)
		mm.SessionOpened()
		mm.SessionClosed()
	})
}

func TestDisabledTracingPassesContextThrough(t *testing.T) {
	tm, err := NewTracingManager(nil, TracingConfig{Enabled: false})
	require.NoError(t, err)
	assert.False(t, tm.IsEnabled())

	ctx := context.Background()
	got, span := tm.TraceToolCall(ctx, "default", "github", "get_repo")
	assert.Equal(t, ctx, got)
	assert.False(t, span.SpanContext().IsValid())
	tm.SetSpanError(got, errors.New("boom"))
	require.NoError(t, tm.Close(ctx))

	var nilTM *TracingManager
	_, _ = nilTM.TraceHotReload(ctx, "default")
	assert.False(t, nilTM.IsEnabled())
}

func TestHealthzHandler(t *testing.T) {
	hm := NewHealthManager(nil)
	hm.AddHealthChecker(CheckFunc("storage", func(context.Context) error { return nil }))

	rec := httptest.NewRecorder()
	hm.HealthzHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	hm.AddHealthChecker(CheckFunc("registry", func(context.Context) error { return errors.New("down") }))
	rec = httptest.NewRecorder()
	hm.HealthzHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "down")
}

func TestManagerWithoutMetrics(t *testing.T) {
	m, err := NewManager(nil, Config{})
	require.NoError(t, err)
	assert.Nil(t, m.Metrics())
	assert.NotNil(t, m.Health())
	m.UpdateMetrics()
	require.NoError(t, m.Close(context.Background()))
}
