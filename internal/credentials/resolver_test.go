package credentials

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgateway/internal/contracts"
	"github.com/smart-mcp-proxy/mcpgateway/internal/manifest"
)

func apiKeyAuth() manifest.Auth {
	return manifest.Auth{
		Type:   manifest.AuthAPIKey,
		APIKey: &manifest.APIKeyAuth{KeyName: "X-API-Key", Location: manifest.LocationHeader},
	}
}

func tokenServer(t *testing.T, status int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`))
			return
		}
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestResolveNone(t *testing.T) {
	r := NewResolver(nil, zap.NewNop())
	cred, err := r.Resolve(context.Background(), Request{Connector: "github", Auth: manifest.Auth{Type: manifest.AuthNone}})
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("GATEWAY_TEST_KEY", "sk-live")
	r := NewResolver(nil, zap.NewNop())
	ctx := context.Background()

	cred, err := r.Resolve(ctx, Request{Connector: "github", Auth: apiKeyAuth(), Config: map[string]any{"api_key": "plain"}})
	require.NoError(t, err)
	assert.Equal(t, "plain", cred.Value)

	cred, err = r.Resolve(ctx, Request{Connector: "github", Auth: apiKeyAuth(), Config: map[string]any{"api_key": "${env:GATEWAY_TEST_KEY}"}})
	require.NoError(t, err)
	assert.Equal(t, "sk-live", cred.Value)

	_, err = r.Resolve(ctx, Request{Connector: "github", Auth: apiKeyAuth()})
	assert.True(t, contracts.IsKind(err, contracts.KindAuthFailed))

	_, err = r.Resolve(ctx, Request{Connector: "github", Auth: apiKeyAuth(), Config: map[string]any{"api_key": "${env:GATEWAY_TEST_UNSET}"}})
	assert.True(t, contracts.IsKind(err, contracts.KindAuthFailed))
}

func TestResolveOAuth2CachesTokens(t *testing.T) {
	srv, calls := tokenServer(t, http.StatusOK)
	r := NewResolver(nil, zap.NewNop(), WithHTTPClient(srv.Client()))
	req := Request{
		ProjectID: "default",
		Connector: "crm",
		Auth: manifest.Auth{
			Type:   manifest.AuthOAuth2ClientCredentials,
			OAuth2: &manifest.OAuth2ClientCredentialsAuth{TokenURL: srv.URL, Scopes: []string{"read"}},
		},
		Config: map[string]any{"client_id": "id", "client_secret": "secret"},
	}

	for i := 0; i < 3; i++ {
		cred, err := r.Resolve(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "tok-123", cred.Value)
		assert.Equal(t, "Bearer", cred.TokenType)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))

	r.Invalidate(req)
	_, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestResolveOAuth2Failures(t *testing.T) {
	srv, _ := tokenServer(t, http.StatusUnauthorized)
	r := NewResolver(nil, zap.NewNop(), WithHTTPClient(srv.Client()))
	auth := manifest.Auth{
		Type:   manifest.AuthOAuth2ClientCredentials,
		OAuth2: &manifest.OAuth2ClientCredentialsAuth{TokenURL: srv.URL},
	}

	_, err := r.Resolve(context.Background(), Request{Connector: "crm", Auth: auth, Config: map[string]any{"client_id": "id", "client_secret": "bad"}})
	assert.True(t, contracts.IsKind(err, contracts.KindAuthFailed))

	_, err = r.Resolve(context.Background(), Request{Connector: "crm", Auth: auth, Config: map[string]any{"client_id": "id"}})
	assert.True(t, contracts.IsKind(err, contracts.KindAuthFailed))
}
