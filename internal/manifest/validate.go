package manifest

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 1000
	maxEndpointLength    = 200
	maxTools             = 50
)

var (
	connectorNameRegex = regexp.MustCompile(`^(@[a-z][a-z0-9-._~]*/)?[a-z][a-z0-9-._~]*$`)
	toolNameRegex      = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// ValidationError collects every problem found in a manifest
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid manifest: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) add(format string, args ...interface{}) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate checks every structural rule and compiles schemas and endpoints.
// It never modifies m, so a shared manifest may be validated again.
func (m *Manifest) Validate() error {
	verr := &ValidationError{}

	switch {
	case m.Name == "":
		verr.add("connector name is required")
	case len(m.Name) > maxNameLength:
		verr.add("connector name exceeds %d characters", maxNameLength)
	case !connectorNameRegex.MatchString(m.Name):
		verr.add("connector name %q must be lowercase letters, digits, '-', '.', '_' or '~', optionally scoped as @org/name", m.Name)
	}

	if !semver.IsValid("v" + m.Version) {
		verr.add("version %q is not a semantic version", m.Version)
	}

	if m.BaseURL != "" {
		if u, err := url.Parse(m.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			verr.add("base_url %q is not an absolute URL", m.BaseURL)
		}
	}

	switch {
	case len(m.Tools) == 0:
		verr.add("at least one tool is required")
	case len(m.Tools) > maxTools:
		verr.add("at most %d tools are allowed, got %d", maxTools, len(m.Tools))
	}

	names := make(map[string]bool, len(m.Tools))
	endpoints := make(map[string]bool, len(m.Tools))
	for i, tool := range m.Tools {
		if tool == nil {
			verr.add("tools[%d] is empty", i)
			continue
		}
		validateTool(tool, i, verr)

		if names[tool.Name] {
			verr.add("duplicate tool name %q", tool.Name)
		}
		names[tool.Name] = true

		if endpoints[tool.Endpoint] {
			verr.add("duplicate endpoint %q", tool.Endpoint)
		}
		endpoints[tool.Endpoint] = true
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

func validateTool(tool *Tool, i int, verr *ValidationError) {
	label := fmt.Sprintf("tools[%d]", i)
	if tool.Name != "" {
		label = fmt.Sprintf("tool %q", tool.Name)
	}

	switch {
	case tool.Name == "":
		verr.add("%s: name is required", label)
	case len(tool.Name) > maxNameLength:
		verr.add("%s: name exceeds %d characters", label, maxNameLength)
	case !toolNameRegex.MatchString(tool.Name):
		verr.add("%s: name must start with a lowercase letter and contain only lowercase letters, digits and underscores", label)
	}

	if tool.Description == "" || len(tool.Description) > maxDescriptionLength {
		verr.add("%s: description must be 1 to %d characters", label, maxDescriptionLength)
	}

	for _, problem := range tool.compile().problems {
		verr.add("%s: %s", label, problem)
	}

	switch tool.AuthType() {
	case AuthNone:
	case AuthAPIKey:
		if tool.Auth.APIKey == nil || tool.Auth.APIKey.KeyName == "" {
			verr.add("%s: api_key auth requires key_name", label)
			break
		}
		switch tool.Auth.APIKey.Location {
		case LocationHeader, LocationQuery, LocationCookie:
		default:
			verr.add("%s: api_key location must be header, query or cookie", label)
		}
	case AuthOAuth2ClientCredentials:
		if tool.Auth.OAuth2 == nil || tool.Auth.OAuth2.TokenURL == "" {
			verr.add("%s: oauth2_client_credentials auth requires token_url", label)
		}
	}
}
