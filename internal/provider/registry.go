package provider

import "errors"

// ErrProviderNotConfigured fails a command before any processor call when no
// adapter is registered for the merchant account's provider code.
var ErrProviderNotConfigured = errors.New("provider not configured")

// Registry resolves adapters by provider code. It is built once at startup
// and injected; there is no package-level mutable registry.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Code()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) Resolve(code string) (Adapter, error) {
	a, ok := r.adapters[code]
	if !ok {
		return nil, ErrProviderNotConfigured
	}
	return a, nil
}
