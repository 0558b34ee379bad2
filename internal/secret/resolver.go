package secret

import (
	"context"
	"fmt"
	"strings"
)

// Resolver expands secret references using registered providers
type Resolver struct {
	providers  map[string]Provider
	onResolved func(value string)
}

// NewResolver creates a resolver with the env and keyring providers
func NewResolver() *Resolver {
	r := &Resolver{providers: make(map[string]Provider)}
	r.Register(NewEnvProvider())
	r.Register(NewKeyringProvider())
	return r
}

// Register adds or replaces the provider for its type
func (r *Resolver) Register(p Provider) {
	r.providers[p.Type()] = p
}

// OnResolved registers a callback invoked with every successfully resolved
// value, e.g. to mask it in logs
func (r *Resolver) OnResolved(fn func(value string)) {
	r.onResolved = fn
}

// Resolve resolves a single reference
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (string, error) {
	provider, ok := r.providers[ref.Type]
	if !ok {
		return "", fmt.Errorf("no provider for secret type: %s", ref.Type)
	}
	if !provider.Available() {
		return "", fmt.Errorf("provider for %s is not available on this system", ref.Type)
	}
	value, err := provider.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if r.onResolved != nil {
		r.onResolved(value)
	}
	return value, nil
}

// Expand replaces every reference in input with its resolved value
func (r *Resolver) Expand(ctx context.Context, input string) (string, error) {
	refs := FindRefs(input)
	if len(refs) == 0 {
		return input, nil
	}

	result := input
	for _, ref := range refs {
		value, err := r.Resolve(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("failed to resolve secret %s: %w", ref.Original, err)
		}
		result = strings.ReplaceAll(result, ref.Original, value)
	}
	return result, nil
}

// ExpandString returns the expanded string value of config[key]. The second
// result is false when the key is absent or not a string.
func (r *Resolver) ExpandString(ctx context.Context, config map[string]any, key string) (string, bool, error) {
	raw, ok := config[key].(string)
	if !ok {
		return "", false, nil
	}
	value, err := r.Expand(ctx, raw)
	if err != nil {
		return "", true, err
	}
	return value, true, nil
}
