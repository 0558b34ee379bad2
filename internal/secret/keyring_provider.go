package secret

import (
	"context"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	// ServiceName groups the gateway's entries in the OS keyring
	ServiceName = "mcpgateway"
	// TypeKeyring references an OS keyring entry
	TypeKeyring = "keyring"

	probeKey = "_mcpgateway_probe"
)

// KeyringProvider resolves secrets from the OS keyring (Keychain, Secret Service, WinCred)
type KeyringProvider struct {
	serviceName string

	probeOnce sync.Once
	available bool
}

// NewKeyringProvider creates a keyring provider
func NewKeyringProvider() *KeyringProvider {
	return &KeyringProvider{serviceName: ServiceName}
}

// Type implements Provider
func (p *KeyringProvider) Type() string { return TypeKeyring }

// Resolve implements Provider
func (p *KeyringProvider) Resolve(_ context.Context, ref Ref) (string, error) {
	value, err := keyring.Get(p.serviceName, ref.Name)
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s from keyring: %w", ref.Name, err)
	}
	return value, nil
}

// Store saves a secret in the keyring
func (p *KeyringProvider) Store(name, value string) error {
	if err := keyring.Set(p.serviceName, name, value); err != nil {
		return fmt.Errorf("failed to store secret %s in keyring: %w", name, err)
	}
	return nil
}

// Delete removes a secret from the keyring
func (p *KeyringProvider) Delete(name string) error {
	if err := keyring.Delete(p.serviceName, name); err != nil {
		return fmt.Errorf("failed to delete secret %s from keyring: %w", name, err)
	}
	return nil
}

// Available probes the keyring once with a throwaway entry
func (p *KeyringProvider) Available() bool {
	p.probeOnce.Do(func() {
		if err := keyring.Set(p.serviceName, probeKey, "probe"); err != nil {
			return
		}
		_ = keyring.Delete(p.serviceName, probeKey)
		p.available = true
	})
	return p.available
}
