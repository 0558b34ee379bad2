package manifest

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// AuthType names an auth requirement variant
type AuthType string

const (
	AuthNone                    AuthType = "none"
	AuthAPIKey                  AuthType = "api_key"
	AuthOAuth2ClientCredentials AuthType = "oauth2_client_credentials"
)

// API key placement
const (
	LocationHeader = "header"
	LocationQuery  = "query"
	LocationCookie = "cookie"
)

// APIKeyAuth places a static key in a header, query parameter or cookie
type APIKeyAuth struct {
	KeyName  string `json:"key_name"`
	Location string `json:"location"`
	Scheme   string `json:"scheme,omitempty"` // header only, e.g. "Bearer"
}

// OAuth2ClientCredentialsAuth obtains a bearer token with the client credentials grant
type OAuth2ClientCredentialsAuth struct {
	TokenURL string   `json:"token_url"`
	Scopes   []string `json:"scopes,omitempty"`
}

// Auth is a tagged union; exactly the variant named by Type is non-nil
type Auth struct {
	Type   AuthType
	APIKey *APIKeyAuth
	OAuth2 *OAuth2ClientCredentialsAuth
}

// rawAuth is the flat wire shape shared by every format
type rawAuth struct {
	Type     string   `json:"type" yaml:"type" toml:"type"`
	KeyName  string   `json:"key_name,omitempty" yaml:"key_name" toml:"key_name"`
	Location string   `json:"location,omitempty" yaml:"location" toml:"location"`
	Scheme   string   `json:"scheme,omitempty" yaml:"scheme" toml:"scheme"`
	TokenURL string   `json:"token_url,omitempty" yaml:"token_url" toml:"token_url"`
	Scopes   []string `json:"scopes,omitempty" yaml:"scopes" toml:"scopes"`
}

func (r rawAuth) toAuth() (Auth, error) {
	switch AuthType(r.Type) {
	case "", AuthNone:
		if r.KeyName != "" || r.TokenURL != "" {
			return Auth{}, fmt.Errorf("auth type none does not take key_name or token_url")
		}
		return Auth{Type: AuthNone}, nil
	case AuthAPIKey:
		if r.TokenURL != "" || len(r.Scopes) > 0 {
			return Auth{}, fmt.Errorf("auth type api_key does not take token_url or scopes")
		}
		location := r.Location
		if location == "" {
			location = LocationHeader
		}
		return Auth{Type: AuthAPIKey, APIKey: &APIKeyAuth{
			KeyName:  r.KeyName,
			Location: location,
			Scheme:   r.Scheme,
		}}, nil
	case AuthOAuth2ClientCredentials:
		if r.KeyName != "" || r.Location != "" {
			return Auth{}, fmt.Errorf("auth type oauth2_client_credentials does not take key_name or location")
		}
		return Auth{Type: AuthOAuth2ClientCredentials, OAuth2: &OAuth2ClientCredentialsAuth{
			TokenURL: r.TokenURL,
			Scopes:   r.Scopes,
		}}, nil
	default:
		return Auth{}, fmt.Errorf("unknown auth type %q", r.Type)
	}
}

func (a Auth) toRaw() rawAuth {
	r := rawAuth{Type: string(a.Type)}
	if r.Type == "" {
		r.Type = string(AuthNone)
	}
	if a.APIKey != nil {
		r.KeyName = a.APIKey.KeyName
		r.Location = a.APIKey.Location
		r.Scheme = a.APIKey.Scheme
	}
	if a.OAuth2 != nil {
		r.TokenURL = a.OAuth2.TokenURL
		r.Scopes = a.OAuth2.Scopes
	}
	return r
}

// UnmarshalJSON implements json.Unmarshaler
func (a *Auth) UnmarshalJSON(data []byte) error {
	var r rawAuth
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	parsed, err := r.toAuth()
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalJSON implements json.Marshaler
func (a Auth) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.toRaw())
}

// UnmarshalYAML implements yaml.Unmarshaler
func (a *Auth) UnmarshalYAML(node *yaml.Node) error {
	var r rawAuth
	if err := node.Decode(&r); err != nil {
		return err
	}
	parsed, err := r.toAuth()
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (a Auth) MarshalYAML() (interface{}, error) {
	return a.toRaw(), nil
}

// UnmarshalTOML implements toml.Unmarshaler; data is the decoded table
func (a *Auth) UnmarshalTOML(data interface{}) error {
	table, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf("auth must be a table, got %T", data)
	}
	var r rawAuth
	for key, value := range table {
		switch key {
		case "type":
			r.Type, _ = value.(string)
		case "key_name":
			r.KeyName, _ = value.(string)
		case "location":
			r.Location, _ = value.(string)
		case "scheme":
			r.Scheme, _ = value.(string)
		case "token_url":
			r.TokenURL, _ = value.(string)
		case "scopes":
			list, ok := value.([]interface{})
			if !ok {
				return fmt.Errorf("auth scopes must be an array")
			}
			for _, s := range list {
				str, ok := s.(string)
				if !ok {
					return fmt.Errorf("auth scopes must be strings")
				}
				r.Scopes = append(r.Scopes, str)
			}
		default:
			return fmt.Errorf("unknown auth field %q", key)
		}
	}
	parsed, err := r.toAuth()
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
