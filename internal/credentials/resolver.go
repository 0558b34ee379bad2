// Package credentials turns a tool's auth requirement and its connector's
// configuration into a credential the execution client can attach to a request.
package credentials

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/smart-mcp-proxy/mcpgateway/internal/contracts"
	"github.com/smart-mcp-proxy/mcpgateway/internal/manifest"
	"github.com/smart-mcp-proxy/mcpgateway/internal/secret"
)

// Connector config keys holding credential material. Values may be secret
// references such as ${env:GITHUB_TOKEN}.
const (
	ConfigAPIKey       = "api_key"
	ConfigClientID     = "client_id"
	ConfigClientSecret = "client_secret"
)

const defaultTokenTimeout = 15 * time.Second

// Credential is a resolved secret ready to attach to a request
type Credential struct {
	Type      manifest.AuthType
	Value     string // API key or access token
	TokenType string // oauth2 only, usually "Bearer"
}

// Request identifies what needs a credential
type Request struct {
	ProjectID string
	Connector string
	Auth      manifest.Auth
	Config    map[string]any
}

// Resolver resolves credentials and caches OAuth2 token sources per
// connector so tokens are reused until they expire
type Resolver struct {
	secrets    *secret.Resolver
	httpClient *http.Client
	logger     *zap.Logger

	mu      sync.Mutex
	sources map[string]*cachedSource
}

type cachedSource struct {
	clientID     string
	clientSecret string
	ts           oauth2.TokenSource
}

// Option configures a Resolver
type Option func(*Resolver)

// WithHTTPClient sets the client used for token requests
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.httpClient = c }
}

// NewResolver creates a resolver. A nil secrets resolver uses the env and keyring providers.
func NewResolver(secrets *secret.Resolver, logger *zap.Logger, opts ...Option) *Resolver {
	if secrets == nil {
		secrets = secret.NewResolver()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		secrets:    secrets,
		httpClient: &http.Client{Timeout: defaultTokenTimeout},
		logger:     logger,
		sources:    make(map[string]*cachedSource),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the credential for req, or nil when the tool needs none.
// Every failure is an AuthFailed error.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Credential, error) {
	switch req.Auth.Type {
	case manifest.AuthNone, "":
		return nil, nil
	case manifest.AuthAPIKey:
		key, err := r.configValue(ctx, req, ConfigAPIKey)
		if err != nil {
			return nil, err
		}
		return &Credential{Type: manifest.AuthAPIKey, Value: key}, nil
	case manifest.AuthOAuth2ClientCredentials:
		return r.resolveOAuth2(ctx, req)
	default:
		return nil, contracts.NewError(contracts.KindAuthFailed, "resolve_credential",
			"unsupported auth type %q", req.Auth.Type)
	}
}

func (r *Resolver) resolveOAuth2(ctx context.Context, req Request) (*Credential, error) {
	if req.Auth.OAuth2 == nil {
		return nil, contracts.NewError(contracts.KindAuthFailed, "resolve_credential",
			"connector %q declares oauth2 without a token_url", req.Connector)
	}
	clientID, err := r.configValue(ctx, req, ConfigClientID)
	if err != nil {
		return nil, err
	}
	clientSecret, err := r.configValue(ctx, req, ConfigClientSecret)
	if err != nil {
		return nil, err
	}

	ts := r.tokenSource(req, clientID, clientSecret)
	token, err := ts.Token()
	if err != nil {
		r.Invalidate(req)
		return nil, contracts.WrapError(contracts.KindAuthFailed, "resolve_credential", err,
			"token request for connector %q failed", req.Connector)
	}

	return &Credential{
		Type:      manifest.AuthOAuth2ClientCredentials,
		Value:     token.AccessToken,
		TokenType: token.Type(),
	}, nil
}

func (r *Resolver) tokenSource(req Request, clientID, clientSecret string) oauth2.TokenSource {
	key := cacheKey(req)

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.sources[key]; ok && cached.clientID == clientID && cached.clientSecret == clientSecret {
		return cached.ts
	}

	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     req.Auth.OAuth2.TokenURL,
		Scopes:       req.Auth.OAuth2.Scopes,
	}
	// token refreshes outlive the call that triggered them
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, r.httpClient)
	ts := cfg.TokenSource(tokenCtx)
	r.sources[key] = &cachedSource{clientID: clientID, clientSecret: clientSecret, ts: ts}

	r.logger.Debug("Created OAuth2 token source",
		zap.String("project", req.ProjectID),
		zap.String("connector", req.Connector),
		zap.String("token_url", cfg.TokenURL))
	return ts
}

// Invalidate drops any cached token for req's connector, forcing the next
// Resolve to fetch a fresh one
func (r *Resolver) Invalidate(req Request) {
	if req.Auth.Type != manifest.AuthOAuth2ClientCredentials || req.Auth.OAuth2 == nil {
		return
	}
	r.mu.Lock()
	delete(r.sources, cacheKey(req))
	r.mu.Unlock()
}

func (r *Resolver) configValue(ctx context.Context, req Request, key string) (string, error) {
	value, ok, err := r.secrets.ExpandString(ctx, req.Config, key)
	if err != nil {
		return "", contracts.WrapError(contracts.KindAuthFailed, "resolve_credential", err,
			"cannot resolve %s for connector %q", key, req.Connector)
	}
	if !ok || value == "" {
		return "", contracts.NewError(contracts.KindAuthFailed, "resolve_credential",
			"connector %q has no %s configured", req.Connector, key)
	}
	return value, nil
}

func cacheKey(req Request) string {
	return strings.Join([]string{
		req.ProjectID,
		req.Connector,
		req.Auth.OAuth2.TokenURL,
		strings.Join(req.Auth.OAuth2.Scopes, " "),
	}, "|")
}
