package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/smart-mcp-proxy/mcpgateway/internal/credentials"
	"github.com/smart-mcp-proxy/mcpgateway/internal/manifest"
)

var methodVerbs = []struct {
	method string
	verbs  []string
}{
	{http.MethodPost, []string{"create", "add", "post", "submit", "send"}},
	{http.MethodPut, []string{"update", "edit", "modify", "set"}},
	{http.MethodDelete, []string{"delete", "remove"}},
}

// outboundRequest is a fully built outbound call that can be replayed per attempt
type outboundRequest struct {
	method string
	url    string
	body   []byte
}

func (s *outboundRequest) newRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if s.body != nil {
		body = bytes.NewReader(s.body)
	}
	req, err := http.NewRequestWithContext(ctx, s.method, s.url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "mcpgateway")
	if s.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// buildRequest expands the tool's endpoint template with args. Arguments not
// consumed by the path go into a JSON body for POST, PUT and PATCH and into
// the query string otherwise.
func buildRequest(baseURL string, tool *manifest.Tool, args map[string]any) (*outboundRequest, error) {
	ep := tool.ParsedEndpoint()
	method := ep.Method
	if ep.Logical {
		method = inferMethod(tool.Name)
	}

	path, err := ep.Expand(args)
	if err != nil {
		return nil, err
	}

	target := path
	if !ep.IsAbsolute() {
		if baseURL == "" {
			return nil, fmt.Errorf("connector has no base_url for relative endpoint %q", tool.Endpoint)
		}
		target = strings.TrimRight(baseURL, "/") + path
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid request URL %q: %w", target, err)
	}

	rest := make(map[string]any)
	for k, v := range args {
		if !ep.HasParam(k) && v != nil {
			rest[k] = v
		}
	}

	out := &outboundRequest{method: method}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		body, err := json.Marshal(rest)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		out.body = body
	default:
		q := u.Query()
		keys := make([]string, 0, len(rest))
		for k := range rest {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			for _, v := range queryValues(rest[k]) {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	out.url = u.String()
	return out, nil
}

// inferMethod picks a method for a dotted endpoint from the verbs in the
// tool name, e.g. create_issue is a POST
func inferMethod(toolName string) string {
	words := strings.Split(strings.ToLower(toolName), "_")
	for _, mv := range methodVerbs {
		for _, verb := range mv.verbs {
			for _, w := range words {
				if w == verb {
					return mv.method
				}
			}
		}
	}
	return http.MethodGet
}

func queryValues(v any) []string {
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, scalarString(item))
		}
		return out
	default:
		return []string{scalarString(val)}
	}
}

func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		data, _ := json.Marshal(val)
		return string(data)
	default:
		return manifest.FormatValue(val)
	}
}

// applyCredential attaches cred to req as the tool's auth requirement describes
func applyCredential(req *http.Request, auth manifest.Auth, cred *credentials.Credential) {
	if cred == nil {
		return
	}
	switch auth.Type {
	case manifest.AuthAPIKey:
		key := auth.APIKey
		switch key.Location {
		case manifest.LocationQuery:
			q := req.URL.Query()
			q.Set(key.KeyName, cred.Value)
			req.URL.RawQuery = q.Encode()
		case manifest.LocationCookie:
			req.AddCookie(&http.Cookie{Name: key.KeyName, Value: cred.Value})
		default:
			value := cred.Value
			if key.Scheme != "" {
				value = key.Scheme + " " + value
			}
			req.Header.Set(key.KeyName, value)
		}
	case manifest.AuthOAuth2ClientCredentials:
		tokenType := cred.TokenType
		if tokenType == "" {
			tokenType = "Bearer"
		}
		req.Header.Set("Authorization", tokenType+" "+cred.Value)
	}
}

// redactURL drops query values so credentials placed in the query never reach logs
func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	clean := *u
	clean.RawQuery = ""
	clean.User = nil
	return clean.String()
}
