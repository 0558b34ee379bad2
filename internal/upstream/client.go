// Package upstream executes tool invocations against the HTTP APIs that
// connectors describe: request building, credential injection, per-connector
// rate limiting, retries with backoff and per-attempt timeouts.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgateway/internal/contracts"
	"github.com/smart-mcp-proxy/mcpgateway/internal/credentials"
	"github.com/smart-mcp-proxy/mcpgateway/internal/manifest"
	"github.com/smart-mcp-proxy/mcpgateway/internal/observability"
)

// Upstream attempt outcomes recorded in metrics
const (
	outcomeSuccess   = "success"
	outcomeHTTPError = "http_error"
	outcomeNetwork   = "network_error"
	outcomeTimeout   = "timeout"
)

// CredentialResolver supplies credentials for outbound calls
type CredentialResolver interface {
	Resolve(ctx context.Context, req credentials.Request) (*credentials.Credential, error)
	Invalidate(req credentials.Request)
}

// Invocation is one tool call to execute
type Invocation struct {
	ProjectID string
	Connector string
	Version   string
	BaseURL   string
	Tool      *manifest.Tool
	Arguments map[string]any
	Config    map[string]any
}

// Result is the upstream response of a successful call. On failure after at
// least one attempt, Execute also returns a Result carrying Attempts.
type Result struct {
	StatusCode  int
	Body        []byte
	ContentType string
	Attempts    int
	Duration    time.Duration
}

// IsJSON reports whether the body was declared as JSON
func (r *Result) IsJSON() bool {
	mt, _, err := mime.ParseMediaType(r.ContentType)
	return err == nil && (mt == "application/json" || strings.HasSuffix(mt, "+json"))
}

// Client executes invocations
type Client struct {
	cfg      ExecutionConfig
	creds    CredentialResolver
	http     *http.Client
	limiters *limiterSet
	logger   *zap.Logger
	metrics  *observability.MetricsManager
	tracing  *observability.TracingManager
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for upstream calls
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithMetrics records attempts and rate-limit rejections
func WithMetrics(mm *observability.MetricsManager) Option {
	return func(cl *Client) { cl.metrics = mm }
}

// WithTracing creates a span per attempt
func WithTracing(tm *observability.TracingManager) Option {
	return func(cl *Client) { cl.tracing = tm }
}

// NewClient creates an execution client
func NewClient(cfg ExecutionConfig, creds CredentialResolver, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:      cfg,
		creds:    creds,
		http:     &http.Client{},
		limiters: newLimiterSet(cfg.RatePerMinute, cfg.Burst),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute validates the arguments, builds the request, applies the rate
// limit, resolves the credential and performs the call with retries.
// Errors are *contracts.Error with kind InvalidArguments, RateLimited,
// AuthFailed, Timeout or UpstreamError.
func (c *Client) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	const op = "execute"
	start := time.Now()
	tool := inv.Tool

	args := tool.CoerceArguments(inv.Arguments)
	if err := tool.ValidateArguments(args); err != nil {
		return nil, contracts.WrapError(contracts.KindInvalidArguments, op, err, "invalid arguments for %s", tool.Name)
	}

	out, err := buildRequest(inv.BaseURL, tool, args)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindInvalidArguments, op, err, "cannot build request for %s", tool.Name)
	}

	if !c.limiters.allow(inv.ProjectID + "/" + inv.Connector) {
		c.metrics.RecordRateLimited(inv.Connector)
		return nil, contracts.NewError(contracts.KindRateLimited, op,
			"rate limit exceeded for connector %q", inv.Connector)
	}

	credReq := credentials.Request{
		ProjectID: inv.ProjectID,
		Connector: inv.Connector,
		Auth:      tool.Auth,
		Config:    inv.Config,
	}
	var cred *credentials.Credential
	if tool.RequiresCredentials() {
		if c.creds == nil {
			return nil, contracts.NewError(contracts.KindAuthFailed, op, "no credential resolver configured")
		}
		cred, err = c.creds.Resolve(ctx, credReq)
		if err != nil {
			if contracts.IsKind(err, contracts.KindAuthFailed) {
				return nil, err
			}
			return nil, contracts.WrapError(contracts.KindAuthFailed, op, err, "cannot resolve credential")
		}
	}

	attempts := 0
	operation := func() (*Result, error) {
		attempts++
		res, err := c.attempt(ctx, inv, out, cred, attempts)
		if err == nil {
			return res, nil
		}
		retriable, classified := c.classify(ctx, tool.Name, err)
		if authStatus(StatusCode(err)) && c.creds != nil {
			c.creds.Invalidate(credReq)
		}
		if !retriable {
			return nil, backoff.Permanent(classified)
		}
		return nil, classified
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("Retrying upstream call",
				zap.String("connector", inv.Connector),
				zap.String("tool", tool.Name),
				zap.Int("attempt", attempts),
				zap.Duration("backoff", next),
				zap.Error(err))
		}))
	if err != nil {
		var ce *contracts.Error
		if !errors.As(err, &ce) {
			err = contracts.WrapError(contracts.KindTimeout, op, err, "call to %s abandoned", tool.Name)
		}
		c.logger.Warn("Upstream call failed",
			zap.String("connector", inv.Connector),
			zap.String("tool", tool.Name),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return &Result{Attempts: attempts, Duration: time.Since(start)}, err
	}

	res.Attempts = attempts
	res.Duration = time.Since(start)
	c.checkOutput(inv, res)
	return res, nil
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     c.cfg.InitialBackoff,
		RandomizationFactor: c.cfg.Jitter,
		Multiplier:          c.cfg.Multiplier,
		MaxInterval:         c.cfg.MaxBackoff,
	}
}

func (c *Client) attempt(ctx context.Context, inv *Invocation, out *outboundRequest, cred *credentials.Credential, n int) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	attemptCtx, span := c.tracing.TraceUpstreamAttempt(attemptCtx, inv.Connector, out.method, out.url, n)
	defer span.End()

	req, err := out.newRequest(attemptCtx)
	if err != nil {
		return nil, err
	}
	applyCredential(req, inv.Tool.Auth, cred)

	resp, err := c.http.Do(req)
	if err != nil {
		c.tracing.SetSpanError(attemptCtx, err)
		c.recordAttempt(inv.Connector, err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes+1))
	if err != nil {
		c.tracing.SetSpanError(attemptCtx, err)
		c.recordAttempt(inv.Connector, err)
		return nil, err
	}
	if int64(len(body)) > c.cfg.MaxResponseBytes {
		c.metrics.RecordUpstreamAttempt(inv.Connector, outcomeHTTPError)
		return nil, errResponseTooLarge
	}

	if resp.StatusCode >= 400 {
		herr := newHTTPError(resp, body)
		c.tracing.SetSpanError(attemptCtx, herr)
		c.metrics.RecordUpstreamAttempt(inv.Connector, outcomeHTTPError)
		return nil, herr
	}

	c.metrics.RecordUpstreamAttempt(inv.Connector, outcomeSuccess)
	return &Result{
		StatusCode:  resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func (c *Client) recordAttempt(connector string, err error) {
	if isTimeout(err) {
		c.metrics.RecordUpstreamAttempt(connector, outcomeTimeout)
		return
	}
	c.metrics.RecordUpstreamAttempt(connector, outcomeNetwork)
}

// classify maps an attempt failure to its error kind and reports whether
// another attempt may succeed
func (c *Client) classify(ctx context.Context, tool string, err error) (bool, error) {
	const op = "execute"

	var herr *HTTPError
	switch {
	case errors.As(err, &herr):
		switch {
		case authStatus(herr.StatusCode):
			return false, contracts.WrapError(contracts.KindAuthFailed, op, herr, "upstream rejected the credential for %s", tool)
		case retriableStatus(herr.StatusCode):
			return true, contracts.WrapError(contracts.KindUpstreamError, op, herr, "upstream failed for %s", tool)
		default:
			return false, contracts.WrapError(contracts.KindUpstreamError, op, herr, "upstream refused %s", tool)
		}
	case errors.Is(err, errResponseTooLarge):
		return false, contracts.WrapError(contracts.KindUpstreamError, op, err, "response for %s too large", tool)
	case ctx.Err() != nil:
		return false, contracts.WrapError(contracts.KindTimeout, op, ctx.Err(), "call to %s cancelled", tool)
	case isTimeout(err):
		return true, contracts.WrapError(contracts.KindTimeout, op, err, "call to %s timed out after %s", tool, c.cfg.Timeout)
	default:
		return true, contracts.WrapError(contracts.KindUpstreamError, op, err, "cannot reach upstream for %s", tool)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// checkOutput logs, without failing the call, a JSON response that does not
// match the tool's output schema
func (c *Client) checkOutput(inv *Invocation, res *Result) {
	if !res.IsJSON() || len(res.Body) == 0 {
		return
	}
	var value any
	if err := json.Unmarshal(res.Body, &value); err != nil {
		c.logger.Warn("Upstream returned invalid JSON",
			zap.String("connector", inv.Connector),
			zap.String("tool", inv.Tool.Name),
			zap.Error(err))
		return
	}
	if err := inv.Tool.ValidateOutput(value); err != nil {
		c.logger.Warn("Upstream response does not match output schema",
			zap.String("connector", inv.Connector),
			zap.String("tool", inv.Tool.Name),
			zap.Error(err))
	}
}
