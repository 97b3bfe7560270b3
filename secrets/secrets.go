// Package secrets provides the key management providers used for envelope
// encryption. A Provider never reveals its key-encryption key; it only wraps
// and unwraps the caller's data encryption keys.
package secrets

import (
	"crypto/rand"
	"fmt"
)

// ErrNotConfigured is returned when a provider is selected but its backend
// has not been configured.
var ErrNotConfigured = fmt.Errorf("kms provider not configured")

// Provider is implemented by a backend that provides encryption-as-a-service.
// Its use is opinionated about the backend in the following ways:
// - A key-encryption key is created or referenced by keyRef and never leaves the backend
// - the KEK is used only to wrap a data encryption key (DEK)
// - the client stores only the wrapped DEK and asks the backend to unwrap it when needed
// - wrapping binds the tenant, so a wrapped DEK can not be unwrapped on behalf of another tenant.
type Provider interface {
	// Name identifies the provider kind, recorded on every key so the same
	// backend can unwrap later.
	Name() string

	// BuildKeyRef derives the opaque KEK handle for one version of a
	// tenant's key.
	BuildKeyRef(tenantID, keyAlias string, keyVersion int) string

	// WrapKey encrypts dek under the KEK identified by keyRef.
	WrapKey(tenantID string, dek []byte, keyRef string) ([]byte, error)

	// UnwrapKey recovers the dek. It fails if tenantID or keyRef differ
	// from the ones used to wrap.
	UnwrapKey(tenantID string, wrapped []byte, keyRef string) ([]byte, error)
}

// Registry maps a provider kind to a constructed provider instance. It is
// built explicitly by the caller and passed where needed; there is no
// process-global provider state.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.Add(p)
	}
	return r
}

func (r *Registry) Add(p Provider) {
	r.providers[p.Name()] = p
}

// Get returns the provider registered for kind, or ErrNotConfigured.
func (r *Registry) Get(kind string) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotConfigured, kind)
	}
	return p, nil
}

// cryptoRandRead is a safe read from crypto/rand, checking errors and number of bytes read, erroring if we don't get enough
func cryptoRandRead(length int) ([]byte, error) {
	b := make([]byte, length)

	i, err := rand.Read(b)
	if err != nil {
		return nil, fmt.Errorf("crypto/rand read: %w", err)
	}

	if i != length {
		return nil, fmt.Errorf("could not read %d random characters from crypto/rand, only got %d", length, i)
	}

	return b, nil
}
