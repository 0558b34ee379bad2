// Package secret resolves ${type:name} references found in connector
// configuration into secret values.
package secret

import "context"

// Ref is a parsed secret reference such as ${env:GITHUB_TOKEN}
type Ref struct {
	Type     string // env, keyring
	Name     string // environment variable name, keyring entry
	Original string // the reference text as written
}

// Provider resolves references of one type
type Provider interface {
	// Type is the reference type this provider serves
	Type() string

	// Resolve retrieves the secret value
	Resolve(ctx context.Context, ref Ref) (string, error)

	// Available reports whether the provider works on this system
	Available() bool
}
