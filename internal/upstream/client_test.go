package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgateway/internal/contracts"
	"github.com/smart-mcp-proxy/mcpgateway/internal/credentials"
	"github.com/smart-mcp-proxy/mcpgateway/internal/manifest"
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, req credentials.Request) (*credentials.Credential, error) {
	args := m.Called(ctx, req)
	cred, _ := args.Get(0).(*credentials.Credential)
	return cred, args.Error(1)
}

func (m *mockResolver) Invalidate(req credentials.Request) {
	m.Called(req)
}

const testManifest = `
connector:
  name: github
  version: 1.0.0
  base_url: %s
  tools:
    - name: get_repo
      description: Fetch a repository
      endpoint: GET /repos/{owner}/{repo}
      input_schema:
        type: object
        properties:
          owner: {type: string}
          repo: {type: string}
          per_page: {type: integer}
        required: [owner, repo]
      output_schema:
        type: object
        properties:
          id: {type: integer}
    - name: create_issue
      description: Open an issue
      endpoint: POST /repos/{owner}/{repo}/issues
      input_schema:
        type: object
        properties:
          owner: {type: string}
          repo: {type: string}
          title: {type: string}
        required: [owner, repo, title]
      output_schema: {type: object}
      auth:
        type: api_key
        key_name: Authorization
        scheme: Bearer
    - name: search
      description: Search with a query key
      endpoint: GET /search
      input_schema: {type: object}
      output_schema: {type: object}
      auth:
        type: api_key
        key_name: key
        location: query
`

func testTools(t *testing.T, baseURL string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse([]byte(fmt.Sprintf(testManifest, baseURL)), manifest.FormatYAML)
	require.NoError(t, err)
	return m
}

func testConfig() ExecutionConfig {
	return ExecutionConfig{
		Timeout:        200 * time.Millisecond,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
		Jitter:         0,
	}
}

func invocation(m *manifest.Manifest, tool string, args map[string]any) *Invocation {
	return &Invocation{
		ProjectID: "default",
		Connector: m.Name,
		Version:   m.Version,
		BaseURL:   m.BaseURL,
		Tool:      m.Tool(tool),
		Arguments: args,
	}
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/repos/acme/widgets", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("per_page"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 42}`))
	}))
	defer srv.Close()

	m := testTools(t, srv.URL)
	c := NewClient(testConfig(), nil, zap.NewNop())

	res, err := c.Execute(context.Background(), invocation(m, "get_repo", map[string]any{
		"owner": "acme", "repo": "widgets", "per_page": "50",
	}))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, res.IsJSON())
	assert.JSONEq(t, `{"id": 42}`, string(res.Body))
}

func TestExecuteFormatsLargeNumbers(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/repos/acme/12345678", r.URL.Path)
		assert.Equal(t, "2000000", r.URL.Query().Get("per_page"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 1}`))
	}))
	defer srv.Close()

	var args map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"owner": "acme", "repo": 12345678, "per_page": 2000000}`), &args))

	m := testTools(t, srv.URL)
	c := NewClient(testConfig(), nil, zap.NewNop())
	res, err := c.Execute(context.Background(), invocation(m, "get_repo", args))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecuteTimeoutExhaustsDeadline(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig()
	cfg.MaxAttempts = 2
	cfg.Timeout = 50 * time.Millisecond
	m := testTools(t, srv.URL)
	c := NewClient(cfg, nil, zap.NewNop())

	res, err := c.Execute(context.Background(), invocation(m, "get_repo", map[string]any{"owner": "a", "repo": "b"}))
	require.Error(t, err)
	assert.True(t, contracts.IsKind(err, contracts.KindTimeout), "got %v", err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecuteClientErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   contracts.Kind
	}{
		{"unauthorized", http.StatusUnauthorized, contracts.KindAuthFailed},
		{"forbidden", http.StatusForbidden, contracts.KindAuthFailed},
		{"not found", http.StatusNotFound, contracts.KindUpstreamError},
		{"unprocessable", http.StatusUnprocessableEntity, contracts.KindUpstreamError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer srv.Close()

			m := testTools(t, srv.URL)
			creds := &mockResolver{}
			creds.On("Resolve", mock.Anything, mock.Anything).Return(&credentials.Credential{Type: manifest.AuthAPIKey, Value: "tok"}, nil)
			creds.On("Invalidate", mock.Anything).Return()
			c := NewClient(testConfig(), creds, zap.NewNop())

			_, err := c.Execute(context.Background(), invocation(m, "create_issue", map[string]any{
				"owner": "a", "repo": "b", "title": "bug",
			}))
			require.Error(t, err)
			assert.True(t, contracts.IsKind(err, tt.kind), "got %v", err)
			assert.Equal(t, tt.status, StatusCode(err))
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestExecuteRetriesTooManyRequests(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	m := testTools(t, srv.URL)
	c := NewClient(testConfig(), nil, zap.NewNop())
	res, err := c.Execute(context.Background(), invocation(m, "get_repo", map[string]any{"owner": "a", "repo": "b"}))
	assert.True(t, contracts.IsKind(err, contracts.KindUpstreamError))
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExecuteInjectsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/repos/a/b/issues":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			body, _ := io.ReadAll(r.Body)
			var payload map[string]any
			assert.NoError(t, json.Unmarshal(body, &payload))
			assert.Equal(t, map[string]any{"title": "bug"}, payload)
		case "/search":
			assert.Equal(t, "qkey", r.URL.Query().Get("key"))
			assert.Equal(t, "go", r.URL.Query().Get("q"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	m := testTools(t, srv.URL)
	creds := &mockResolver{}
	creds.On("Resolve", mock.Anything, mock.MatchedBy(func(r credentials.Request) bool { return r.Auth.APIKey.KeyName == "Authorization" })).
		Return(&credentials.Credential{Type: manifest.AuthAPIKey, Value: "tok"}, nil)
	creds.On("Resolve", mock.Anything, mock.MatchedBy(func(r credentials.Request) bool { return r.Auth.APIKey.KeyName == "key" })).
		Return(&credentials.Credential{Type: manifest.AuthAPIKey, Value: "qkey"}, nil)
	c := NewClient(testConfig(), creds, zap.NewNop())

	_, err := c.Execute(context.Background(), invocation(m, "create_issue", map[string]any{"owner": "a", "repo": "b", "title": "bug"}))
	require.NoError(t, err)
	_, err = c.Execute(context.Background(), invocation(m, "search", map[string]any{"q": "go"}))
	require.NoError(t, err)
	creds.AssertNumberOfCalls(t, "Resolve", 2)
}

func TestExecuteFailsBeforeNetwork(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()
	m := testTools(t, srv.URL)

	t.Run("schema violation", func(t *testing.T) {
		c := NewClient(testConfig(), nil, zap.NewNop())
		_, err := c.Execute(context.Background(), invocation(m, "get_repo", map[string]any{"owner": "a"}))
		assert.True(t, contracts.IsKind(err, contracts.KindInvalidArguments))
	})

	t.Run("credential missing", func(t *testing.T) {
		creds := &mockResolver{}
		creds.On("Resolve", mock.Anything, mock.Anything).
			Return(nil, contracts.NewError(contracts.KindAuthFailed, "resolve_credential", "no api_key"))
		c := NewClient(testConfig(), creds, zap.NewNop())
		_, err := c.Execute(context.Background(), invocation(m, "create_issue", map[string]any{"owner": "a", "repo": "b", "title": "t"}))
		assert.True(t, contracts.IsKind(err, contracts.KindAuthFailed))
	})

	t.Run("rate limited", func(t *testing.T) {
		cfg := testConfig()
		cfg.RatePerMinute = 1
		cfg.Burst = 1
		c := NewClient(cfg, nil, zap.NewNop())
		_, err := c.Execute(context.Background(), invocation(m, "get_repo", map[string]any{"owner": "a", "repo": "b"}))
		require.NoError(t, err)
		_, err = c.Execute(context.Background(), invocation(m, "get_repo", map[string]any{"owner": "a", "repo": "b"}))
		assert.True(t, contracts.IsKind(err, contracts.KindRateLimited))
	})

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "only the first rate-limited call reaches the upstream")
}

func TestBuildRequest(t *testing.T) {
	m := testTools(t, "https://api.example.com/")

	out, err := buildRequest(m.BaseURL, m.Tool("get_repo"), map[string]any{"owner": "a b", "repo": "r", "per_page": int64(5)})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, out.method)
	assert.Equal(t, "https://api.example.com/repos/a%20b/r?per_page=5", out.url)
	assert.Nil(t, out.body)

	out, err = buildRequest(m.BaseURL, m.Tool("get_repo"), map[string]any{"owner": 1e7, "repo": 2.5e6, "per_page": 1234567.5})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/repos/10000000/2500000?per_page=1234567.5", out.url)

	_, err = buildRequest(m.BaseURL, m.Tool("get_repo"), map[string]any{"owner": "a"})
	assert.ErrorContains(t, err, "repo")
}

func TestInferMethod(t *testing.T) {
	assert.Equal(t, http.MethodPost, inferMethod("create_user"))
	assert.Equal(t, http.MethodPut, inferMethod("update_profile"))
	assert.Equal(t, http.MethodDelete, inferMethod("remove_member"))
	assert.Equal(t, http.MethodGet, inferMethod("get_settings"))
	assert.Equal(t, http.MethodGet, inferMethod("list_issues"))
}
