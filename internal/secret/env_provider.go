package secret

import (
	"context"
	"fmt"
	"os"
)

// TypeEnv references an environment variable
const TypeEnv = "env"

// EnvProvider resolves secrets from environment variables
type EnvProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvProvider creates a provider reading the process environment
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

// Type implements Provider
func (p *EnvProvider) Type() string { return TypeEnv }

// Available implements Provider
func (p *EnvProvider) Available() bool { return true }

// Resolve implements Provider
func (p *EnvProvider) Resolve(_ context.Context, ref Ref) (string, error) {
	value, ok := p.lookup(ref.Name)
	if !ok || value == "" {
		return "", fmt.Errorf("environment variable %s not found or empty", ref.Name)
	}
	return value, nil
}
