// Package validation checks x402 payment structures for well-formedness
// before they reach signing or settlement code.
package validation

import (
	"fmt"
	"strconv"

	"github.com/x402pay/x402-go"
)

// ValidateRequirements checks that a payment requirement carries a usable
// scheme, network, amount, and addresses. The resource field is left to
// the caller: middleware fills it in per request.
func ValidateRequirements(req *x402.PaymentRequirements) error {
	if req.Scheme == "" {
		return fmt.Errorf("requirement: scheme cannot be empty")
	}
	if req.Network == "" {
		return fmt.Errorf("requirement: network cannot be empty")
	}
	if _, err := strconv.ParseUint(req.Network, 10, 64); err != nil {
		return fmt.Errorf("requirement: network %q is not a decimal chain ID", req.Network)
	}

	amount, err := x402.ParseAmount(req.MaxAmountRequired)
	if err != nil {
		return fmt.Errorf("requirement: %w", err)
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("requirement: amount must be greater than 0, got %s", req.MaxAmountRequired)
	}

	if _, err := x402.ParseAddress(req.PayTo); err != nil {
		return fmt.Errorf("requirement: payTo: %w", err)
	}
	if _, err := x402.ParseAddress(req.Asset); err != nil {
		return fmt.Errorf("requirement: asset: %w", err)
	}

	if req.MaxTimeoutSeconds == 0 {
		return fmt.Errorf("requirement: maxTimeoutSeconds cannot be zero")
	}

	// EIP-712 domain overrides, when present, must be non-empty strings.
	for _, key := range []string{"name", "version"} {
		if raw, ok := req.Extra[key]; ok {
			s, ok := raw.(string)
			if !ok || s == "" {
				return fmt.Errorf("requirement: extra.%s must be a non-empty string", key)
			}
		}
	}

	return nil
}

// ValidatePayload checks the outer payment envelope: protocol version,
// scheme, network, and the presence of an inner payload.
func ValidatePayload(payment *x402.PaymentPayload) error {
	if payment.X402Version != x402.X402Version {
		return fmt.Errorf("payload: unsupported x402 version %d", payment.X402Version)
	}
	if payment.Scheme == "" {
		return fmt.Errorf("payload: scheme cannot be empty")
	}
	if payment.Network == "" {
		return fmt.Errorf("payload: network cannot be empty")
	}
	if len(payment.Payload) == 0 {
		return fmt.Errorf("payload: inner payload cannot be empty")
	}
	return nil
}

// ValidateAuthorization checks every field of a transfer authorization for
// structural validity: addresses, amount, timestamps, nonce, signature.
func ValidateAuthorization(auth *x402.TransferAuthorization) error {
	if _, err := x402.ParseAddress(auth.From); err != nil {
		return fmt.Errorf("authorization: from: %w", err)
	}
	if _, err := x402.ParseAddress(auth.To); err != nil {
		return fmt.Errorf("authorization: to: %w", err)
	}
	if _, err := x402.ParseAmount(auth.Value); err != nil {
		return fmt.Errorf("authorization: value: %w", err)
	}
	validAfter, err := x402.ParseTimestamp(auth.ValidAfter)
	if err != nil {
		return fmt.Errorf("authorization: validAfter: %w", err)
	}
	validBefore, err := x402.ParseTimestamp(auth.ValidBefore)
	if err != nil {
		return fmt.Errorf("authorization: validBefore: %w", err)
	}
	if validBefore <= validAfter {
		return fmt.Errorf("authorization: validity window is empty")
	}
	if _, err := x402.ParseNonce(auth.Nonce); err != nil {
		return fmt.Errorf("authorization: nonce: %w", err)
	}
	if _, err := x402.ParseSignature(auth.Signature); err != nil {
		return fmt.Errorf("authorization: signature: %w", err)
	}
	return nil
}
