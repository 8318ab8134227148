package x402

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPaymentPayloadAuthorizationRoundTrip(t *testing.T) {
	auth := &TransferAuthorization{
		From:        "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		To:          "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		Value:       "10000",
		ValidAfter:  "1700000000",
		ValidBefore: "1700000300",
		Nonce:       "0x0000000000000000000000000000000000000000000000000000000000000001",
		Signature:   "0xab",
	}

	payload := &PaymentPayload{X402Version: X402Version, Scheme: "exact", Network: "8453"}
	if err := payload.SetAuthorization(auth); err != nil {
		t.Fatalf("SetAuthorization: %v", err)
	}

	got, err := payload.Authorization()
	if err != nil {
		t.Fatalf("Authorization: %v", err)
	}
	if *got != *auth {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, auth)
	}
}

func TestPaymentPayloadAuthorizationMalformed(t *testing.T) {
	payload := &PaymentPayload{Payload: json.RawMessage(`"not an object"`)}
	_, err := payload.Authorization()
	if err == nil {
		t.Fatal("expected error")
	}
	var pe *PaymentError
	if !errors.As(err, &pe) || pe.Code != ErrCodeInvalidPayload {
		t.Errorf("error = %v, want PaymentError with ErrCodeInvalidPayload", err)
	}
}

func TestPaymentRequirementsJSONShape(t *testing.T) {
	req := PaymentRequirements{
		Scheme:            "exact",
		Network:           "8453",
		MaxAmountRequired: "10000",
		Resource:          "https://api.example.com/premium",
		PayTo:             "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		MaxTimeoutSeconds: 300,
		Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	}
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"scheme", "network", "maxAmountRequired", "resource", "payTo", "maxTimeoutSeconds", "asset"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("field %q missing from wire form", key)
		}
	}
	// Optional fields stay off the wire when unset.
	for _, key := range []string{"description", "mimeType", "outputSchema", "extra"} {
		if _, ok := fields[key]; ok {
			t.Errorf("unset field %q present on the wire", key)
		}
	}
}
