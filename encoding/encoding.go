// Package encoding provides utilities for encoding and decoding x402 payment
// data. It handles the base64 JSON envelopes carried in the X-PAYMENT and
// X-PAYMENT-RESPONSE headers.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"unicode/utf8"

	"github.com/x402pay/x402-go"
)

// decode reverses the base64(JSON(v)) envelope. All failures (bad base64,
// non-UTF-8 bytes, malformed JSON) map to ErrCodeInvalidPayload so callers
// can treat any malformed header uniformly.
func decode(encoded string, v interface{}) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return x402.NewPaymentError(x402.ErrCodeInvalidPayload, "failed to decode base64", err)
	}
	if !utf8.Valid(decoded) {
		return x402.NewPaymentError(x402.ErrCodeInvalidPayload, "decoded header is not valid UTF-8", x402.ErrInvalidPayload)
	}
	if err := json.Unmarshal(decoded, v); err != nil {
		return x402.NewPaymentError(x402.ErrCodeInvalidPayload, "failed to unmarshal JSON", err)
	}
	return nil
}

func encode(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", x402.NewPaymentError(x402.ErrCodeInvalidPayload, "failed to marshal JSON", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// EncodePayment converts a PaymentPayload to a base64-encoded JSON string
// for the X-PAYMENT header.
func EncodePayment(payment *x402.PaymentPayload) (string, error) {
	return encode(payment)
}

// DecodePayment converts a base64-encoded JSON string to a PaymentPayload.
func DecodePayment(encoded string) (*x402.PaymentPayload, error) {
	var payment x402.PaymentPayload
	if err := decode(encoded, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// EncodePaymentResponse converts a PaymentResponse to a base64-encoded JSON
// string for the X-PAYMENT-RESPONSE header.
func EncodePaymentResponse(resp *x402.PaymentResponse) (string, error) {
	return encode(resp)
}

// DecodePaymentResponse converts a base64-encoded JSON string to a
// PaymentResponse.
func DecodePaymentResponse(encoded string) (*x402.PaymentResponse, error) {
	var resp x402.PaymentResponse
	if err := decode(encoded, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EncodeRequirements converts a PaymentRequiredResponse to base64-encoded JSON.
func EncodeRequirements(requirements *x402.PaymentRequiredResponse) (string, error) {
	return encode(requirements)
}

// DecodeRequirements converts base64-encoded JSON to a PaymentRequiredResponse.
func DecodeRequirements(encoded string) (*x402.PaymentRequiredResponse, error) {
	var requirements x402.PaymentRequiredResponse
	if err := decode(encoded, &requirements); err != nil {
		return nil, err
	}
	return &requirements, nil
}
