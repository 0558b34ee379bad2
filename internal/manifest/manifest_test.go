package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const githubYAML = `
connector:
  name: github
  version: 1.2.0
  base_url: https://api.github.com
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
      auth:
        type: api_key
        key_name: Authorization
        scheme: Bearer
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
      output_schema:
        type: object
      auth:
        type: oauth2_client_credentials
        token_url: https://auth.example.com/token
        scopes: [repo]
`

func TestParseYAML(t *testing.T) {
	m, err := Parse([]byte(githubYAML), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "github", m.Name)
	assert.Equal(t, "1.2.0", m.Version)
	assert.Equal(t, "https://api.github.com", m.BaseURL)
	assert.Equal(t, []string{"get_repo", "create_issue"}, m.ToolNames())

	get := m.Tool("get_repo")
	require.NotNil(t, get)
	assert.Equal(t, AuthAPIKey, get.Auth.Type)
	require.NotNil(t, get.Auth.APIKey)
	assert.Equal(t, LocationHeader, get.Auth.APIKey.Location)
	assert.Equal(t, "Bearer", get.Auth.APIKey.Scheme)
	assert.Equal(t, "GET", get.ParsedEndpoint().Method)
	assert.Equal(t, []string{"owner", "repo"}, get.ParsedEndpoint().Params)
	assert.True(t, get.RequiresCredentials())

	create := m.Tool("create_issue")
	require.NotNil(t, create)
	assert.Equal(t, AuthOAuth2ClientCredentials, create.Auth.Type)
	require.NotNil(t, create.Auth.OAuth2)
	assert.Equal(t, []string{"repo"}, create.Auth.OAuth2.Scopes)

	assert.Nil(t, m.Tool("missing"))
}

func TestParseJSONAndTOML(t *testing.T) {
	jsonDoc := `{"connector": {"name": "weather", "version": "0.1.0", "tools": [
		{"name": "forecast", "description": "Forecast", "endpoint": "weather.forecast",
		 "input_schema": {"type": "object"}, "output_schema": {"type": "object"}}]}}`
	m, err := Parse([]byte(jsonDoc), FormatJSON)
	require.NoError(t, err)
	tool := m.Tool("forecast")
	require.NotNil(t, tool)
	assert.Equal(t, AuthNone, tool.Auth.Type)
	assert.True(t, tool.ParsedEndpoint().Logical)
	assert.Equal(t, "/weather.forecast", tool.ParsedEndpoint().Path)

	tomlDoc := `
[connector]
name = "weather"
version = "0.2.0"
base_url = "https://weather.example.com"

[[connector.tools]]
name = "forecast"
description = "Forecast"
endpoint = "GET /forecast/{city}"

[connector.tools.input_schema]
type = "object"

[connector.tools.output_schema]
type = "object"

[connector.tools.auth]
type = "api_key"
key_name = "appid"
location = "query"
`
	m, err = Parse([]byte(tomlDoc), FormatTOML)
	require.NoError(t, err)
	tool = m.Tool("forecast")
	require.NotNil(t, tool)
	require.NotNil(t, tool.Auth.APIKey)
	assert.Equal(t, LocationQuery, tool.Auth.APIKey.Location)
	assert.Equal(t, "appid", tool.Auth.APIKey.KeyName)
}

func TestParseRejectsInvalidManifests(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "missing envelope",
			doc:     "name: github\nversion: 1.0.0\n",
			wantErr: "field name not found",
		},
		{
			name:    "bad connector name",
			doc:     strings.Replace(githubYAML, "name: github", "name: GitHub", 1),
			wantErr: "connector name",
		},
		{
			name:    "bad version",
			doc:     strings.Replace(githubYAML, "version: 1.2.0", "version: one", 1),
			wantErr: "semantic version",
		},
		{
			name:    "duplicate tool name",
			doc:     strings.Replace(githubYAML, "name: create_issue", "name: get_repo", 1),
			wantErr: "duplicate tool name",
		},
		{
			name:    "duplicate endpoint",
			doc:     strings.Replace(githubYAML, "POST /repos/{owner}/{repo}/issues", "GET /repos/{owner}/{repo}", 1),
			wantErr: "duplicate endpoint",
		},
		{
			name:    "bad method",
			doc:     strings.Replace(githubYAML, "POST /repos", "FETCH /repos", 1),
			wantErr: "invalid HTTP method",
		},
		{
			name:    "bad tool name",
			doc:     strings.Replace(githubYAML, "name: create_issue", "name: Create-Issue", 1),
			wantErr: "lowercase letter",
		},
		{
			name:    "api key without key name",
			doc:     strings.Replace(githubYAML, "key_name: Authorization\n", "", 1),
			wantErr: "requires key_name",
		},
		{
			name:    "unknown field",
			doc:     githubYAML + "  extra: true\n",
			wantErr: "extra",
		},
		{
			name: "schema without type",
			doc: strings.Replace(githubYAML, "output_schema:\n        type: object\n      auth:\n        type: api_key",
				"output_schema:\n        description: nothing\n      auth:\n        type: api_key", 1),
			wantErr: "'type' or '$ref'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), FormatYAML)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadAndDiscover(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(githubYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("ignored"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o755))

	paths, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.yaml")}, paths)

	m, err := Load(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "github", m.Name)

	_, err = Load(filepath.Join(dir, "a.txt"))
	assert.Error(t, err)
}

func TestEndpointExpand(t *testing.T) {
	ep, err := ParseEndpoint("GET /repos/{owner}/{repo}")
	require.NoError(t, err)

	path, err := ep.Expand(map[string]any{"owner": "octo cat", "repo": "hello", "extra": 1})
	require.NoError(t, err)
	assert.Equal(t, "/repos/octo%20cat/hello", path)
	assert.True(t, ep.HasParam("owner"))
	assert.False(t, ep.HasParam("extra"))

	_, err = ep.Expand(map[string]any{"owner": "octo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repo")

	abs, err := ParseEndpoint("GET https://other.example.com/ping")
	require.NoError(t, err)
	assert.True(t, abs.IsAbsolute())

	_, err = ParseEndpoint("GET repos")
	assert.Error(t, err)
	_, err = ParseEndpoint("bad..name")
	assert.Error(t, err)
}

func TestCoerceAndValidateArguments(t *testing.T) {
	m, err := Parse([]byte(githubYAML), FormatYAML)
	require.NoError(t, err)
	tool := m.Tool("get_repo")

	args := map[string]any{"owner": 42, "repo": "hello", "per_page": "10"}
	coerced := tool.CoerceArguments(args)
	assert.Equal(t, "42", coerced["owner"])
	assert.Equal(t, int64(10), coerced["per_page"])
	assert.Equal(t, 42, args["owner"], "input map must not be modified")

	assert.NoError(t, tool.ValidateArguments(coerced))
	assert.Error(t, tool.ValidateArguments(map[string]any{"owner": "octo"}))
	assert.Error(t, tool.ValidateArguments(map[string]any{"owner": "octo", "repo": "x", "per_page": "many"}))
}

func TestCoerceLargeNumbers(t *testing.T) {
	m, err := Parse([]byte(githubYAML), FormatYAML)
	require.NoError(t, err)
	tool := m.Tool("get_repo")

	coerced := tool.CoerceArguments(map[string]any{"owner": 12345678.0, "repo": "r", "per_page": 2000000.0})
	assert.Equal(t, "12345678", coerced["owner"])
	assert.Equal(t, int64(2000000), coerced["per_page"])
	assert.NoError(t, tool.ValidateArguments(coerced))

	fractional := tool.CoerceArguments(map[string]any{"per_page": 2.5})
	assert.Equal(t, 2.5, fractional["per_page"], "non-integral values are left for validation")
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{12345678.0, "12345678"},
		{2e6, "2000000"},
		{1234567.5, "1234567.5"},
		{0.000001, "0.000001"},
		{int64(9007199254740993), "9007199254740993"},
		{42, "42"},
		{true, "true"},
		{"a b", "a b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatValue(tt.in), "%v", tt.in)
	}
}

func TestValidateDoesNotRecompile(t *testing.T) {
	m, err := Parse([]byte(githubYAML), FormatYAML)
	require.NoError(t, err)
	tool := m.Tool("get_repo")
	first := tool.compile()

	require.NoError(t, m.Validate())
	assert.Same(t, first, tool.compile())
	assert.Equal(t, AuthAPIKey, tool.AuthType())

	bare := &Tool{Name: "x", Description: "x", Endpoint: "GET /x",
		InputSchema: map[string]any{"type": "object"}, OutputSchema: map[string]any{"type": "object"}}
	assert.Equal(t, AuthNone, bare.AuthType())
	assert.False(t, bare.RequiresCredentials())
}
