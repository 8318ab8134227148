package scheme

import "github.com/x402pay/x402-go/scheme/exactevm"

// DefaultRegistry returns a registry with the built-in schemes registered.
// Currently that is "exact" for EVM chains.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(exactevm.New())
	return r
}
