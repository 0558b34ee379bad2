// Package server implements the MCP protocol dispatcher: the per-session
// JSON-RPC state machine serving tool discovery and invocation for one
// project, and the stdio transport that drives it.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgateway/internal/contracts"
	"github.com/smart-mcp-proxy/mcpgateway/internal/manifest"
	"github.com/smart-mcp-proxy/mcpgateway/internal/observability"
	"github.com/smart-mcp-proxy/mcpgateway/internal/runtime"
	"github.com/smart-mcp-proxy/mcpgateway/internal/upstream"
)

// ProtocolVersion is the MCP revision this server speaks
const ProtocolVersion = "2024-11-05"

const (
	serverName = "mcpgateway"

	methodNotificationInitialized = "notifications/initialized"
	methodNotificationCancelled   = "notifications/cancelled"

	sourceMCP = "mcp"
	sourceAPI = "api"
)

// Executor performs upstream tool calls
type Executor interface {
	Execute(ctx context.Context, inv *upstream.Invocation) (*upstream.Result, error)
}

// Options configures a Dispatcher
type Options struct {
	ProjectID          string
	Version            string
	CheckOnList        bool
	EnableBuiltinTools bool
}

// Dispatcher serves MCP requests for one project
type Dispatcher struct {
	svc      *runtime.Service
	exec     Executor
	opts     Options
	builtins *builtinTools
	sessions *SessionStore
	logger   *zap.Logger
	metrics  *observability.MetricsManager
	tracing  *observability.TracingManager
}

// DispatcherOption configures optional collaborators
type DispatcherOption func(*Dispatcher)

// WithMetrics records tool call counts and durations
func WithMetrics(mm *observability.MetricsManager) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = mm }
}

// WithTracing creates a span per tools/call
func WithTracing(tm *observability.TracingManager) DispatcherOption {
	return func(d *Dispatcher) { d.tracing = tm }
}

// NewDispatcher creates a dispatcher bound to opts.ProjectID
func NewDispatcher(svc *runtime.Service, exec Executor, opts Options, logger *zap.Logger, extra ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		svc:    svc,
		exec:   exec,
		opts:   opts,
		logger: logger,
	}
	for _, opt := range extra {
		opt(d)
	}
	if opts.EnableBuiltinTools {
		d.builtins = newBuiltinTools(time.Now)
	}
	d.sessions = NewSessionStore(logger, d.metrics)
	return d
}

// Sessions returns the session store
func (d *Dispatcher) Sessions() *SessionStore {
	return d.sessions
}

// ProjectID returns the project this dispatcher serves
func (d *Dispatcher) ProjectID() string {
	return d.opts.ProjectID
}

// OpenSession starts a new uninitialized session
func (d *Dispatcher) OpenSession(transport string) *Session {
	return d.sessions.Open(d.opts.ProjectID, transport)
}

// CloseSession ends a session
func (d *Dispatcher) CloseSession(sess *Session) {
	d.sessions.Close(sess.ID)
}

// HandleMessage processes one JSON-RPC frame and returns the encoded
// response, or nil when nothing must be sent back.
func (d *Dispatcher) HandleMessage(ctx context.Context, sess *Session, data []byte) []byte {
	req, rpcErr := parseRequest(data)
	if rpcErr != nil {
		if rpcErr.Code != mcp.PARSE_ERROR && req.isNotification() && isJSONObject(data) {
			d.logger.Warn("Dropping malformed message without id", zap.String("error", rpcErr.Message))
			return nil
		}
		d.logger.Warn("Malformed message", zap.String("session_id", sess.ID), zap.String("error", rpcErr.Message))
		return d.encode(&jsonrpcResponse{JSONRPC: jsonrpcVersion, ID: req.ID, Error: rpcErr})
	}

	if req.isNotification() {
		d.handleNotification(ctx, sess, req)
		return nil
	}

	result, rpcErr := d.handle(ctx, sess, req)
	resp := &jsonrpcResponse{JSONRPC: jsonrpcVersion, ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	return d.encode(resp)
}

func (d *Dispatcher) encode(resp *jsonrpcResponse) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		d.logger.Error("Failed to encode response", zap.Error(err))
		data, _ = json.Marshal(&jsonrpcResponse{
			JSONRPC: jsonrpcVersion,
			ID:      resp.ID,
			Error:   newRPCError(mcp.INTERNAL_ERROR, "failed to encode response"),
		})
	}
	return data
}

func (d *Dispatcher) handleNotification(ctx context.Context, sess *Session, req *jsonrpcRequest) {
	switch req.Method {
	case methodNotificationInitialized, methodNotificationCancelled:
		d.logger.Debug("Notification received", zap.String("session_id", sess.ID), zap.String("method", req.Method))
	default:
		// executed for side effects only; the result is discarded
		if _, rpcErr := d.handle(ctx, sess, req); rpcErr != nil {
			d.logger.Debug("Notification failed",
				zap.String("method", req.Method),
				zap.String("error", rpcErr.Message))
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, sess *Session, req *jsonrpcRequest) (interface{}, *RPCError) {
	method := mcp.MCPMethod(req.Method)
	if method == mcp.MethodInitialize {
		return d.handleInitialize(sess, req.Params)
	}
	if !sess.Initialized() {
		return nil, newRPCError(CodeNotInitialized, fmt.Sprintf("session not initialized: %s requires initialize first", req.Method))
	}

	switch method {
	case mcp.MethodPing:
		return struct{}{}, nil
	case mcp.MethodToolsList:
		return d.handleToolsList(ctx)
	case mcp.MethodToolsCall:
		return d.handleToolsCall(ctx, sess, req)
	default:
		return nil, newRPCError(mcp.METHOD_NOT_FOUND, fmt.Sprintf("Method '%s' not found", req.Method))
	}
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ClientInfo      mcp.Implementation `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    serverCapabilities `json:"capabilities"`
	ServerInfo      mcp.Implementation `json:"serverInfo"`
}

type serverCapabilities struct {
	Tools toolsCapability `json:"tools"`
}

type toolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

func (d *Dispatcher) handleInitialize(sess *Session, raw json.RawMessage) (interface{}, *RPCError) {
	var params initializeParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, newRPCError(mcp.INVALID_PARAMS, "invalid initialize params: "+err.Error())
		}
	}
	sess.markInitialized(params.ClientInfo.Name, params.ClientInfo.Version)

	d.logger.Info("Session initialized",
		zap.String("session_id", sess.ID),
		zap.String("project", sess.ProjectID),
		zap.String("client_name", params.ClientInfo.Name),
		zap.String("client_version", params.ClientInfo.Version),
		zap.String("client_protocol", params.ProtocolVersion))

	return &initializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    serverCapabilities{Tools: toolsCapability{ListChanged: true}},
		ServerInfo:      mcp.Implementation{Name: serverName, Version: d.opts.Version},
	}, nil
}

func (d *Dispatcher) handleToolsList(ctx context.Context) (interface{}, *RPCError) {
	if d.opts.CheckOnList {
		if _, err := d.svc.PerformHotReloadCheck(ctx, d.opts.ProjectID); err != nil && !contracts.IsKind(err, contracts.KindNotFound) {
			d.logger.Warn("Hot reload check before list failed", zap.Error(err))
		}
	}

	refs, err := d.svc.GetEnabledTools(d.opts.ProjectID)
	if err != nil && !contracts.IsKind(err, contracts.KindNotFound) {
		return nil, toRPCError(err, "", "")
	}

	tools := make([]mcp.Tool, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		tools = append(tools, toolDescriptor(ref.Tool.Definition))
		seen[ref.Tool.Name] = struct{}{}
	}
	if d.builtins != nil {
		for _, t := range d.builtins.list() {
			if _, shadowed := seen[t.Name]; !shadowed {
				tools = append(tools, t)
			}
		}
	}
	return &mcp.ListToolsResult{Tools: tools}, nil
}

// toolDescriptor describes a manifest tool with its schemas passed through verbatim
func toolDescriptor(def *manifest.Tool) mcp.Tool {
	tool := mcp.Tool{
		Name:        def.Name,
		Description: def.Description,
	}
	tool.RawInputSchema = rawSchema(def.InputSchema)
	if len(def.OutputSchema) > 0 {
		tool.RawOutputSchema = rawSchema(def.OutputSchema)
	}
	return tool
}

func rawSchema(schema map[string]any) json.RawMessage {
	data, err := json.Marshal(schema)
	if err != nil || len(schema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, sess *Session, req *jsonrpcRequest) (interface{}, *RPCError) {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, newRPCError(mcp.INVALID_PARAMS, "invalid tools/call params: "+err.Error())
	}
	if params.Name == "" {
		return nil, newRPCError(mcp.INVALID_PARAMS, "invalid tools/call params: name is required")
	}

	origin := callOrigin{source: sourceMCP, sessionID: sess.ID, requestID: string(req.ID)}
	result, connector, err := d.callTool(ctx, d.opts.ProjectID, origin, params.Name, params.Arguments)
	if err != nil {
		return nil, toRPCError(err, params.Name, connector)
	}
	return result, nil
}

// callOrigin identifies who made a tool call, for the activity log
type callOrigin struct {
	source    string
	sessionID string
	requestID string
}

// CallTool invokes a tool of projectID outside any protocol session. It
// applies the same lookup, enablement and bookkeeping rules as tools/call.
func (d *Dispatcher) CallTool(ctx context.Context, projectID, name string, args map[string]any) (*mcp.CallToolResult, error) {
	result, _, err := d.callTool(ctx, projectID, callOrigin{source: sourceAPI}, name, args)
	return result, err
}

// callTool returns the owning connector name alongside the outcome so that
// errors can be attributed
func (d *Dispatcher) callTool(ctx context.Context, projectID string, origin callOrigin, name string, args map[string]any) (*mcp.CallToolResult, string, error) {
	if args == nil {
		args = map[string]any{}
	}

	ref, err := d.svc.GetToolDefinition(projectID, name)
	if err != nil {
		if contracts.IsKind(err, contracts.KindNotFound) && d.builtins != nil {
			if bt, ok := d.builtins.get(name); ok {
				return d.callBuiltin(bt, args), "", nil
			}
		}
		if contracts.IsKind(err, contracts.KindNotFound) {
			err = contracts.NewError(contracts.KindNotFound, "tools/call", "tool %q not found", name)
		}
		return nil, "", err
	}

	connector := ref.Connector
	if !ref.Enabled() {
		err := contracts.NewError(contracts.KindDisabled, "tools/call",
			"tool %q is disabled: connector %q is not enabled", name, connector.Name)
		d.recordCall(projectID, origin, ref, args, nil, err, 0)
		return nil, connector.Name, err
	}

	ctx, span := d.tracing.TraceToolCall(ctx, projectID, connector.Name, name)
	defer span.End()

	start := time.Now()
	// a disconnecting client must not abort an admitted call mid-retry
	res, err := d.exec.Execute(context.WithoutCancel(ctx), &upstream.Invocation{
		ProjectID: projectID,
		Connector: connector.Name,
		Version:   connector.Version,
		BaseURL:   connector.Manifest.BaseURL,
		Tool:      ref.Tool.Definition,
		Arguments: args,
		Config:    connector.Config,
	})
	elapsed := time.Since(start)

	d.recordCall(projectID, origin, ref, args, res, err, elapsed)
	if err != nil {
		d.tracing.SetSpanError(ctx, err)
		return nil, connector.Name, err
	}

	d.svc.MarkToolUsed(projectID, connector.Name, name)
	return toolResult(res), connector.Name, nil
}

func (d *Dispatcher) callBuiltin(bt builtinTool, args map[string]any) *mcp.CallToolResult {
	start := time.Now()
	res, err := bt.handler(args)
	status := observability.StatusSuccess
	if err != nil {
		status = observability.StatusError
		res = mcp.NewToolResultError(fmt.Sprintf("Error executing built-in tool '%s': %v", bt.tool.Name, err))
	}
	d.metrics.RecordToolCall("builtin", bt.tool.Name, status, time.Since(start))
	return res
}

func (d *Dispatcher) recordCall(projectID string, origin callOrigin, ref runtime.ToolRef, args map[string]any, res *upstream.Result, err error, elapsed time.Duration) {
	rec := runtime.ToolCallRecord{
		ProjectID: projectID,
		Connector: ref.Connector.Name,
		Tool:      ref.Tool.Name,
		SessionID: origin.sessionID,
		RequestID: origin.requestID,
		Source:    origin.source,
		Arguments: args,
		Status:    observability.StatusSuccess,
		Duration:  elapsed,
	}
	if res != nil {
		rec.Attempts = res.Attempts
		rec.Response = string(res.Body)
	}
	if err != nil {
		rec.Status = observability.StatusError
		rec.ErrorKind = string(contracts.KindOf(err))
		rec.ErrorMessage = err.Error()
		d.logger.Warn("Tool call failed",
			zap.String("project", projectID),
			zap.String("session_id", origin.sessionID),
			zap.String("connector", rec.Connector),
			zap.String("tool", rec.Tool),
			zap.String("kind", rec.ErrorKind),
			zap.Error(err))
	} else {
		d.logger.Debug("Tool call completed",
			zap.String("project", projectID),
			zap.String("session_id", origin.sessionID),
			zap.String("connector", rec.Connector),
			zap.String("tool", rec.Tool),
			zap.Int("attempts", rec.Attempts),
			zap.Duration("duration", elapsed))
	}

	d.metrics.RecordToolCall(rec.Connector, rec.Tool, rec.Status, elapsed)
	d.svc.EmitToolCallCompleted(rec)
}

// toolResult frames an upstream response as text content, adding structured
// content when the body is a JSON object
func toolResult(res *upstream.Result) *mcp.CallToolResult {
	result := mcp.NewToolResultText(string(res.Body))
	if res.IsJSON() {
		var obj map[string]any
		if err := json.Unmarshal(res.Body, &obj); err == nil && obj != nil {
			result.StructuredContent = obj
		}
	}
	return result
}
