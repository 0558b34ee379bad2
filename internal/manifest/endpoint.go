package manifest

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	templateParamRegex = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	logicalEndpoint    = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*(?:\.[a-zA-Z0-9][a-zA-Z0-9_-]*)*$`)

	httpMethods = map[string]bool{
		"GET": true, "POST": true, "PUT": true, "PATCH": true,
		"DELETE": true, "HEAD": true, "OPTIONS": true,
	}
)

// Endpoint is a parsed invocation template such as "GET /users/{id}"
type Endpoint struct {
	Method  string   // empty for logical (dotted) endpoints
	Path    string   // path or absolute URL, placeholders intact
	Params  []string // placeholder names in order of appearance
	Logical bool
}

// ParseEndpoint parses either "METHOD /path" or a dotted logical name
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, fmt.Errorf("endpoint is empty")
	}

	if method, path, ok := strings.Cut(raw, " "); ok {
		method = strings.ToUpper(method)
		path = strings.TrimSpace(path)
		if !httpMethods[method] {
			return Endpoint{}, fmt.Errorf("invalid HTTP method %q in endpoint %q", method, raw)
		}
		if !strings.HasPrefix(path, "/") && !isAbsoluteURL(path) {
			return Endpoint{}, fmt.Errorf("endpoint path %q must start with \"/\"", path)
		}
		return Endpoint{Method: method, Path: path, Params: templateParams(path)}, nil
	}

	if !logicalEndpoint.MatchString(raw) {
		return Endpoint{}, fmt.Errorf("endpoint %q is neither \"METHOD /path\" nor a dotted name", raw)
	}
	return Endpoint{Path: "/" + raw, Logical: true}, nil
}

// Expand substitutes placeholders from args. Values are path-escaped.
// Every placeholder must have a non-nil argument.
func (e Endpoint) Expand(args map[string]any) (string, error) {
	var missing []string
	path := templateParamRegex.ReplaceAllStringFunc(e.Path, func(match string) string {
		name := match[1 : len(match)-1]
		value, ok := args[name]
		if !ok || value == nil {
			missing = append(missing, name)
			return match
		}
		return url.PathEscape(FormatValue(value))
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template parameters: %s", strings.Join(missing, ", "))
	}
	return path, nil
}

// FormatValue renders a scalar argument for a URL. Numbers never use
// exponent notation, so 12345678 stays "12345678".
func FormatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<63 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return FormatValue(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

// HasParam reports whether name is a path placeholder
func (e Endpoint) HasParam(name string) bool {
	for _, p := range e.Params {
		if p == name {
			return true
		}
	}
	return false
}

// IsAbsolute reports whether the template is a full URL that ignores base_url
func (e Endpoint) IsAbsolute() bool {
	return isAbsoluteURL(e.Path)
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func templateParams(path string) []string {
	matches := templateParamRegex.FindAllStringSubmatch(path, -1)
	params := make([]string, 0, len(matches))
	for _, m := range matches {
		params = append(params, m[1])
	}
	return params
}
