// Package credential resolves opaque credential references into decrypted
// provider credentials. Storage and rotation mechanics live elsewhere; the
// engine only sees the Resolver contract.
package credential

import (
	"context"
	"errors"
	"os"
	"sync"

	"gateway-service/internal/provider"
)

var ErrCredentialNotFound = errors.New("credential not found")

// Resolver turns a credential reference into usable provider credentials.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (provider.Credentials, error)
}

// StaticResolver serves credentials from an in-memory map, loaded from
// config at startup. Suitable for single-node deployments and tests.
type StaticResolver struct {
	mu    sync.RWMutex
	creds map[string]provider.Credentials
}

func NewStaticResolver(creds map[string]provider.Credentials) *StaticResolver {
	if creds == nil {
		creds = make(map[string]provider.Credentials)
	}
	return &StaticResolver{creds: creds}
}

func (r *StaticResolver) Resolve(_ context.Context, ref string) (provider.Credentials, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.creds[ref]
	if !ok {
		return provider.Credentials{}, ErrCredentialNotFound
	}
	return c, nil
}

// EnvResolver reads credentials from the environment: a reference "EPX_MAIN"
// resolves through EPX_MAIN_MERCHANT_NBR, EPX_MAIN_TERMINAL_NBR and
// EPX_MAIN_MAC_SECRET. Decryption-at-rest is the platform's concern.
type EnvResolver struct{}

func NewEnvResolver() *EnvResolver {
	return &EnvResolver{}
}

func (r *EnvResolver) Resolve(_ context.Context, ref string) (provider.Credentials, error) {
	merchant := os.Getenv(ref + "_MERCHANT_NBR")
	if merchant == "" {
		return provider.Credentials{}, ErrCredentialNotFound
	}
	return provider.Credentials{
		MerchantNumber: merchant,
		TerminalNumber: os.Getenv(ref + "_TERMINAL_NBR"),
		MACSecret:      os.Getenv(ref + "_MAC_SECRET"),
	}, nil
}
