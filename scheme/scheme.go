// Package scheme defines the payment scheme abstraction and the registry
// that dispatches payloads to concrete implementations by scheme name.
package scheme

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/x402pay/x402-go"
)

// Scheme is implemented by payment schemes (e.g., "exact") to handle payload
// generation, verification, and settlement.
type Scheme interface {
	// Name returns the scheme identifier (e.g., "exact").
	Name() string

	// GeneratePayload creates a signed payment payload satisfying the given
	// requirements, ready to be encoded into the X-PAYMENT header.
	GeneratePayload(ctx context.Context, requirements *x402.PaymentRequirements, payerKey *ecdsa.PrivateKey, rpcURL string) (*x402.PaymentPayload, error)

	// Verify checks a payment payload against requirements. It returns
	// (false, nil) for semantic mismatches such as wrong recipient, amount,
	// or an expired validity window. Errors are reserved for malformed
	// payloads, consumed nonces (x402.ErrNonceUsed), and transport failures.
	Verify(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements, rpcURL string) (bool, error)

	// Settle executes the payment on chain using the facilitator's key to
	// pay gas, returning the settlement transaction hash.
	Settle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements, rpcURL string, facilitatorKey *ecdsa.PrivateKey) (string, error)
}

// Registry maps scheme names to implementations. It is safe for concurrent
// use.
type Registry struct {
	mu      sync.RWMutex
	schemes map[string]Scheme
}

// NewRegistry creates an empty scheme registry.
func NewRegistry() *Registry {
	return &Registry{schemes: make(map[string]Scheme)}
}

// Register adds a scheme to the registry, replacing any existing scheme with
// the same name.
func (r *Registry) Register(s Scheme) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemes[s.Name()] = s
}

// Get returns the scheme registered under name.
func (r *Registry) Get(name string) (Scheme, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemes[name]
	if !ok {
		return nil, x402.NewPaymentError(x402.ErrCodeUnsupportedScheme,
			fmt.Sprintf("no scheme registered for %q", name), x402.ErrUnsupportedScheme)
	}
	return s, nil
}

// Names returns the registered scheme names in unspecified order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemes))
	for name := range r.schemes {
		names = append(names, name)
	}
	return names
}
