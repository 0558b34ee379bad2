package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is a non-2xx response from an upstream API
type HTTPError struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	Method     string            `json:"method"`
	URL        string            `json:"url"`
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// maxErrorBody bounds the response text kept on an HTTPError
const maxErrorBody = 2048

var errResponseTooLarge = errors.New("response exceeds the configured size limit")

func newHTTPError(resp *http.Response, body []byte) *HTTPError {
	headers := make(map[string]string)
	for _, h := range []string{"Content-Type", "Retry-After", "WWW-Authenticate", "X-Request-Id"} {
		if v := resp.Header.Get(h); v != "" {
			headers[h] = v
		}
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       string(body),
		Method:     resp.Request.Method,
		URL:        redactURL(resp.Request.URL),
	}
}

// retriableStatus reports statuses worth another attempt
func retriableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

// authStatus reports statuses meaning the credential was rejected
func authStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// StatusCode returns the upstream HTTP status carried by err, or 0
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}
