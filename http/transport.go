package http

import (
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"math/big"
	"net/http"

	"github.com/x402pay/x402-go"
	"github.com/x402pay/x402-go/encoding"
	"github.com/x402pay/x402-go/scheme"
	"github.com/x402pay/x402-go/validation"
)

// Transport is an http.RoundTripper that answers 402 challenges with a
// signed payment and retries the request once.
type Transport struct {
	// Base is the underlying RoundTripper. Defaults to
	// http.DefaultTransport.
	Base http.RoundTripper

	// Key signs transfer authorizations.
	Key *ecdsa.PrivateKey

	// RPCURL is the EVM node endpoint used when generating payloads.
	RPCURL string

	// Registry resolves payment schemes. Defaults to the built-in
	// registry.
	Registry *scheme.Registry

	// PreferredScheme filters the server's payment options. Defaults to
	// "exact".
	PreferredScheme string

	// PreferredNetwork, when set, restricts payment to one network.
	PreferredNetwork string

	// MaxAmount, when set, refuses requirements above this many atomic
	// token units.
	MaxAmount *big.Int
}

// RoundTrip implements http.RoundTripper. A 402 response is consumed,
// its requirements parsed, and the request retried once with an
// X-PAYMENT header.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	required, err := parsePaymentRequired(resp)
	if err != nil {
		return nil, err
	}

	requirement, err := t.selectRequirement(required.Accepts)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateRequirements(requirement); err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidPayload, err.Error(), x402.ErrInvalidPayload)
	}

	registry := t.Registry
	if registry == nil {
		registry = scheme.DefaultRegistry()
	}
	impl, err := registry.Get(requirement.Scheme)
	if err != nil {
		return nil, err
	}

	payment, err := impl.GeneratePayload(req.Context(), requirement, t.Key, t.RPCURL)
	if err != nil {
		return nil, err
	}
	header, err := encoding.EncodePayment(payment)
	if err != nil {
		return nil, err
	}

	retryReq := req.Clone(req.Context())
	retryReq.Header.Set(x402.PaymentHeader, header)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retryReq.Body = body
	}

	return base.RoundTrip(retryReq)
}

// selectRequirement picks the first payment option matching the
// transport's scheme, network, and amount constraints.
func (t *Transport) selectRequirement(accepts []x402.PaymentRequirements) (*x402.PaymentRequirements, error) {
	preferredScheme := t.PreferredScheme
	if preferredScheme == "" {
		preferredScheme = "exact"
	}

	for i := range accepts {
		req := &accepts[i]
		if req.Scheme != preferredScheme {
			continue
		}
		if t.PreferredNetwork != "" && req.Network != t.PreferredNetwork {
			continue
		}
		if t.MaxAmount != nil {
			amount, err := x402.ParseAmount(req.MaxAmountRequired)
			if err != nil || amount.Cmp(t.MaxAmount) > 0 {
				continue
			}
		}
		return req, nil
	}

	return nil, x402.NewPaymentError(x402.ErrCodeNoSuitableRequirement,
		"no payment requirement matches the client's constraints", x402.ErrNoSuitableRequirement)
}

// parsePaymentRequired reads and closes a 402 response body.
func parsePaymentRequired(resp *http.Response) (*x402.PaymentRequiredResponse, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeNetworkError, "failed to read 402 response", err)
	}

	var required x402.PaymentRequiredResponse
	if err := json.Unmarshal(body, &required); err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidPayload, "malformed 402 response body", err)
	}
	if len(required.Accepts) == 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeNoSuitableRequirement,
			"402 response offers no payment requirements", x402.ErrNoSuitableRequirement)
	}
	return &required, nil
}

// GetSettlement extracts the settlement receipt from a paid response, or
// nil when the header is absent or malformed.
func GetSettlement(resp *http.Response) *x402.PaymentResponse {
	header := resp.Header.Get(x402.PaymentResponseHeader)
	if header == "" {
		return nil
	}
	receipt, err := encoding.DecodePaymentResponse(header)
	if err != nil {
		return nil
	}
	return receipt
}
