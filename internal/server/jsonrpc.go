package server

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/smart-mcp-proxy/mcpgateway/internal/contracts"
	"github.com/smart-mcp-proxy/mcpgateway/internal/upstream"
)

const jsonrpcVersion = "2.0"

// Gateway-specific JSON-RPC error codes. Standard codes come from mcp-go.
const (
	CodeNotInitialized   = -32002
	CodeNotFound         = -32001
	CodeDisabled         = -32003
	CodeAlreadyExists    = -32004
	CodeValidationFailed = -32005
	CodeRateLimited      = -32010
	CodeTimeout          = -32011
	CodeAuthFailed       = -32012
	CodeUpstreamError    = -32013
)

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// isNotification reports whether the request carries no id. An explicit
// null id is treated the same way.
func (r *jsonrpcRequest) isNotification() bool {
	id := bytes.TrimSpace(r.ID)
	return len(id) == 0 || bytes.Equal(id, []byte("null"))
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object
type RPCError struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData identifies the failure for programmatic clients
type ErrorData struct {
	Kind       contracts.Kind `json:"kind"`
	Tool       string         `json:"tool,omitempty"`
	Connector  string         `json:"connector,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

func newRPCError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

// codeForKind maps every error kind to a distinct code
func codeForKind(kind contracts.Kind) int {
	switch kind {
	case contracts.KindNotFound:
		return CodeNotFound
	case contracts.KindDisabled:
		return CodeDisabled
	case contracts.KindAlreadyExists:
		return CodeAlreadyExists
	case contracts.KindValidationFailed:
		return CodeValidationFailed
	case contracts.KindInvalidArguments:
		return mcp.INVALID_PARAMS
	case contracts.KindRateLimited:
		return CodeRateLimited
	case contracts.KindTimeout:
		return CodeTimeout
	case contracts.KindAuthFailed:
		return CodeAuthFailed
	case contracts.KindUpstreamError:
		return CodeUpstreamError
	default:
		return mcp.INTERNAL_ERROR
	}
}

// toRPCError converts a domain error into its JSON-RPC form
func toRPCError(err error, tool, connector string) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	kind := contracts.KindOf(err)
	return &RPCError{
		Code:    codeForKind(kind),
		Message: err.Error(),
		Data: &ErrorData{
			Kind:       kind,
			Tool:       tool,
			Connector:  connector,
			StatusCode: upstream.StatusCode(err),
		},
	}
}

// isJSONObject reports whether a valid JSON frame is an object
func isJSONObject(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// parseRequest decodes one frame. When the frame is unusable it returns the
// error to report together with whatever id could be recovered from it.
func parseRequest(data []byte) (*jsonrpcRequest, *RPCError) {
	if !json.Valid(data) {
		return &jsonrpcRequest{}, newRPCError(mcp.PARSE_ERROR, "Parse error")
	}
	var req jsonrpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		// valid JSON of the wrong shape; keep the id when the frame is an object
		var probe struct {
			ID json.RawMessage `json:"id"`
		}
		_ = json.Unmarshal(data, &probe)
		return &jsonrpcRequest{ID: probe.ID}, newRPCError(mcp.INVALID_REQUEST, "Invalid request: "+err.Error())
	}
	if req.JSONRPC != jsonrpcVersion {
		return &req, newRPCError(mcp.INVALID_REQUEST, `Invalid request: jsonrpc must be "2.0"`)
	}
	if req.Method == "" {
		return &req, newRPCError(mcp.INVALID_REQUEST, "Invalid request: method is required")
	}
	return &req, nil
}
