package exactevm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402pay/x402-go"
)

// rpcStub is a minimal JSON-RPC endpoint standing in for an EVM node. It
// answers the handful of methods the scheme issues.
type rpcStub struct {
	chainID   uint64
	nonceUsed bool
	failCalls bool
}

func (s *rpcStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("stub received undecodable request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		var result string
		switch req.Method {
		case "eth_chainId":
			result = fmt.Sprintf("0x%x", s.chainID)
		case "eth_call":
			if s.failCalls {
				fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32000,"message":"execution aborted"}}`, req.ID)
				return
			}
			word := strings.Repeat("0", 64)
			if s.nonceUsed {
				word = strings.Repeat("0", 63) + "1"
			}
			result = "0x" + word
		case "eth_getTransactionCount":
			result = "0x0"
		case "eth_gasPrice":
			result = "0x3b9aca00"
		case "eth_sendRawTransaction":
			result = "0x" + strings.Repeat("11", 32)
		default:
			t.Errorf("stub received unexpected method %q", req.Method)
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"method not found"}}`, req.ID)
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":"%s"}`, req.ID, result)
	}))
}

func testRequirements(resource string) *x402.PaymentRequirements {
	return &x402.PaymentRequirements{
		Scheme:            SchemeName,
		Network:           "8453",
		MaxAmountRequired: "10000",
		Resource:          resource,
		PayTo:             "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		MaxTimeoutSeconds: 300,
		Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Extra:             map[string]interface{}{"name": "USD Coin", "version": "2"},
	}
}

func TestGenerateAndVerify(t *testing.T) {
	stub := &rpcStub{chainID: 8453}
	srv := stub.server(t)
	defer srv.Close()

	key, err := crypto.HexToECDSA(testPayerKey)
	if err != nil {
		t.Fatalf("failed to parse test key: %v", err)
	}

	s := New()
	req := testRequirements("https://api.example.com/weather")

	payload, err := s.GeneratePayload(context.Background(), req, key, srv.URL)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if payload.X402Version != x402.X402Version {
		t.Errorf("payload version: got %d, want %d", payload.X402Version, x402.X402Version)
	}
	if payload.Scheme != SchemeName {
		t.Errorf("payload scheme: got %q, want %q", payload.Scheme, SchemeName)
	}
	if payload.Network != req.Network {
		t.Errorf("payload network: got %q, want %q", payload.Network, req.Network)
	}

	auth, err := payload.Authorization()
	if err != nil {
		t.Fatalf("authorization decode failed: %v", err)
	}
	if !strings.EqualFold(auth.From, testPayerAddress) {
		t.Errorf("from: got %s, want %s", auth.From, testPayerAddress)
	}
	if auth.Value != req.MaxAmountRequired {
		t.Errorf("value: got %s, want %s", auth.Value, req.MaxAmountRequired)
	}
	if len(strings.TrimPrefix(auth.Nonce, "0x")) != 64 {
		t.Errorf("nonce should be 32 bytes of hex, got %q", auth.Nonce)
	}
	if len(strings.TrimPrefix(auth.Signature, "0x")) != 130 {
		t.Errorf("signature should be 65 bytes of hex, got %d hex chars", len(strings.TrimPrefix(auth.Signature, "0x")))
	}
	va, _ := strconv.ParseUint(auth.ValidAfter, 10, 64)
	vb, _ := strconv.ParseUint(auth.ValidBefore, 10, 64)
	if vb-va > req.MaxTimeoutSeconds+clockSkewAllowance {
		t.Errorf("validity window %d exceeds maxTimeoutSeconds %d", vb-va, req.MaxTimeoutSeconds)
	}

	valid, err := s.Verify(context.Background(), payload, req, srv.URL)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !valid {
		t.Error("freshly generated payload should verify")
	}
}

func TestGenerateNoncesAreUnique(t *testing.T) {
	stub := &rpcStub{chainID: 8453}
	srv := stub.server(t)
	defer srv.Close()

	key, err := crypto.HexToECDSA(testPayerKey)
	if err != nil {
		t.Fatalf("failed to parse test key: %v", err)
	}

	s := New()
	req := testRequirements("https://api.example.com/weather")

	seen := map[string]bool{}
	for i := 0; i < 8; i++ {
		payload, err := s.GeneratePayload(context.Background(), req, key, srv.URL)
		if err != nil {
			t.Fatalf("generate failed: %v", err)
		}
		auth, err := payload.Authorization()
		if err != nil {
			t.Fatalf("authorization decode failed: %v", err)
		}
		if seen[auth.Nonce] {
			t.Fatalf("nonce %s repeated", auth.Nonce)
		}
		seen[auth.Nonce] = true
	}
}

func TestVerifySemanticMismatches(t *testing.T) {
	stub := &rpcStub{chainID: 8453}
	srv := stub.server(t)
	defer srv.Close()

	key, err := crypto.HexToECDSA(testPayerKey)
	if err != nil {
		t.Fatalf("failed to parse test key: %v", err)
	}

	s := New()
	req := testRequirements("https://api.example.com/weather")

	payload, err := s.GeneratePayload(context.Background(), req, key, srv.URL)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *x402.PaymentRequirements)
	}{
		{
			name:   "wrong network",
			mutate: func(r *x402.PaymentRequirements) { r.Network = "84532" },
		},
		{
			name:   "wrong recipient",
			mutate: func(r *x402.PaymentRequirements) { r.PayTo = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC" },
		},
		{
			name:   "wrong amount",
			mutate: func(r *x402.PaymentRequirements) { r.MaxAmountRequired = "20000" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutated := *req
			tt.mutate(&mutated)

			valid, err := s.Verify(context.Background(), payload, &mutated, srv.URL)
			if err != nil {
				t.Fatalf("semantic mismatch should not error: %v", err)
			}
			if valid {
				t.Error("mismatched payload should not verify")
			}
		})
	}
}

func TestVerifyExpiredWindow(t *testing.T) {
	stub := &rpcStub{chainID: 8453}
	srv := stub.server(t)
	defer srv.Close()

	key, err := crypto.HexToECDSA(testPayerKey)
	if err != nil {
		t.Fatalf("failed to parse test key: %v", err)
	}

	s := New()
	req := testRequirements("https://api.example.com/weather")

	payload, err := s.GeneratePayload(context.Background(), req, key, srv.URL)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	auth, err := payload.Authorization()
	if err != nil {
		t.Fatalf("authorization decode failed: %v", err)
	}

	// Shift the window wholly into the past.
	auth.ValidAfter = "1600000000"
	auth.ValidBefore = "1600000300"
	if err := payload.SetAuthorization(auth); err != nil {
		t.Fatalf("set authorization: %v", err)
	}

	valid, err := s.Verify(context.Background(), payload, req, srv.URL)
	if err != nil {
		t.Fatalf("expired window should not error: %v", err)
	}
	if valid {
		t.Error("expired authorization should not verify")
	}
}

func TestVerifyTamperedAuthorization(t *testing.T) {
	stub := &rpcStub{chainID: 8453}
	srv := stub.server(t)
	defer srv.Close()

	key, err := crypto.HexToECDSA(testPayerKey)
	if err != nil {
		t.Fatalf("failed to parse test key: %v", err)
	}

	s := New()
	req := testRequirements("https://api.example.com/weather")

	payload, err := s.GeneratePayload(context.Background(), req, key, srv.URL)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	auth, err := payload.Authorization()
	if err != nil {
		t.Fatalf("authorization decode failed: %v", err)
	}

	// Nudge validBefore: the window stays open but the signature no longer
	// covers the message.
	vb, _ := strconv.ParseUint(auth.ValidBefore, 10, 64)
	auth.ValidBefore = strconv.FormatUint(vb+1, 10)
	if err := payload.SetAuthorization(auth); err != nil {
		t.Fatalf("set authorization: %v", err)
	}

	valid, err := s.Verify(context.Background(), payload, req, srv.URL)
	if err != nil {
		t.Fatalf("tampered payload should not error: %v", err)
	}
	if valid {
		t.Error("tampered authorization should not verify")
	}
}

func TestVerifyReplayedNonce(t *testing.T) {
	stub := &rpcStub{chainID: 8453, nonceUsed: true}
	srv := stub.server(t)
	defer srv.Close()

	key, err := crypto.HexToECDSA(testPayerKey)
	if err != nil {
		t.Fatalf("failed to parse test key: %v", err)
	}

	s := New()
	req := testRequirements("https://api.example.com/weather")

	payload, err := s.GeneratePayload(context.Background(), req, key, srv.URL)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	_, err = s.Verify(context.Background(), payload, req, srv.URL)
	if err == nil {
		t.Fatal("expected error for consumed nonce")
	}
	if !errors.Is(err, x402.ErrNonceUsed) {
		t.Errorf("expected ErrNonceUsed, got %v", err)
	}
}

func TestVerifyNonceCheckFailure(t *testing.T) {
	key, err := crypto.HexToECDSA(testPayerKey)
	if err != nil {
		t.Fatalf("failed to parse test key: %v", err)
	}
	req := testRequirements("https://api.example.com/weather")

	genStub := &rpcStub{chainID: 8453}
	genSrv := genStub.server(t)
	defer genSrv.Close()

	payload, err := New().GeneratePayload(context.Background(), req, key, genSrv.URL)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	failStub := &rpcStub{chainID: 8453, failCalls: true}
	failSrv := failStub.server(t)
	defer failSrv.Close()

	t.Run("default assumes used", func(t *testing.T) {
		_, err := New().Verify(context.Background(), payload, req, failSrv.URL)
		if !errors.Is(err, x402.ErrNonceUsed) {
			t.Errorf("expected ErrNonceUsed when the state read fails, got %v", err)
		}
	})

	t.Run("permissive assumes unused", func(t *testing.T) {
		valid, err := New(WithPermissiveNonceCheck()).Verify(context.Background(), payload, req, failSrv.URL)
		if err != nil {
			t.Fatalf("permissive verify should not error: %v", err)
		}
		if !valid {
			t.Error("permissive verify should accept the payload")
		}
	})
}

func TestVerifyMalformedSignature(t *testing.T) {
	s := New()
	req := testRequirements("https://api.example.com/weather")

	// The signature check precedes any RPC traffic, so no stub is needed.
	for _, sig := range []string{
		"0x" + strings.Repeat("ab", 64),
		"0x" + strings.Repeat("ab", 66),
		"0xzz",
	} {
		payload := &x402.PaymentPayload{
			X402Version: x402.X402Version,
			Scheme:      SchemeName,
			Network:     req.Network,
		}
		err := payload.SetAuthorization(&x402.TransferAuthorization{
			From:        testPayerAddress,
			To:          req.PayTo,
			Value:       req.MaxAmountRequired,
			ValidAfter:  "0",
			ValidBefore: "99999999999",
			Nonce:       "0x" + strings.Repeat("07", 32),
			Signature:   sig,
		})
		if err != nil {
			t.Fatalf("set authorization: %v", err)
		}

		valid, err := s.Verify(context.Background(), payload, req, "http://127.0.0.1:0")
		if err != nil {
			t.Fatalf("signature %q should not error: %v", sig, err)
		}
		if valid {
			t.Errorf("signature %q should not verify", sig)
		}
	}
}

func TestVerifyMalformedPayload(t *testing.T) {
	s := New()
	req := testRequirements("https://api.example.com/weather")

	payload := &x402.PaymentPayload{
		X402Version: x402.X402Version,
		Scheme:      SchemeName,
		Network:     req.Network,
		Payload:     json.RawMessage(`{"from":`),
	}

	_, err := s.Verify(context.Background(), payload, req, "http://127.0.0.1:0")
	if err == nil {
		t.Fatal("expected error for malformed payload")
	}
	var paymentErr *x402.PaymentError
	if !errors.As(err, &paymentErr) {
		t.Fatalf("expected PaymentError, got %T", err)
	}
	if paymentErr.Code != x402.ErrCodeInvalidPayload {
		t.Errorf("expected error code %s, got %s", x402.ErrCodeInvalidPayload, paymentErr.Code)
	}
}

func TestSettleSubmitsTransaction(t *testing.T) {
	stub := &rpcStub{chainID: 8453}
	srv := stub.server(t)
	defer srv.Close()

	payerKey, err := crypto.HexToECDSA(testPayerKey)
	if err != nil {
		t.Fatalf("failed to parse payer key: %v", err)
	}
	facilitatorKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate facilitator key: %v", err)
	}

	s := New(WithoutReceiptWait())
	req := testRequirements("https://api.example.com/weather")

	payload, err := s.GeneratePayload(context.Background(), req, payerKey, srv.URL)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	txHash, err := s.Settle(context.Background(), payload, req, srv.URL, facilitatorKey)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if !strings.HasPrefix(txHash, "0x") || len(txHash) != 66 {
		t.Errorf("settle should return a 32-byte tx hash, got %q", txHash)
	}
}
