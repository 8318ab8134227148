// Package facilitator implements the x402 facilitator service: the party
// that verifies signed payment authorizations on behalf of resource servers
// and settles them on chain, paying gas with its own key.
package facilitator

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/x402pay/x402-go"
	"github.com/x402pay/x402-go/encoding"
	"github.com/x402pay/x402-go/scheme"
)

// defaultExpirySafetyMargin rejects authorizations that would expire before
// a settlement transaction could plausibly land.
const defaultExpirySafetyMargin = 5 * time.Second

// Facilitator verifies and settles x402 payments.
type Facilitator struct {
	key          *ecdsa.PrivateKey
	rpcURL       string
	supported    []x402.SupportedKind
	registry     *scheme.Registry
	nonces       NonceStore
	logger       *slog.Logger
	safetyMargin time.Duration
	metrics      *metrics
	promRegistry *prometheus.Registry
}

// Option configures a Facilitator.
type Option func(*Facilitator)

// WithSupported replaces the supported (scheme, network) combinations. The
// default is exact on Base mainnet.
func WithSupported(kinds ...x402.SupportedKind) Option {
	return func(f *Facilitator) { f.supported = kinds }
}

// AddSupported appends a supported (scheme, network) combination.
func AddSupported(schemeName, network string) Option {
	return func(f *Facilitator) {
		f.supported = append(f.supported, x402.SupportedKind{Scheme: schemeName, Network: network})
	}
}

// WithRegistry replaces the scheme registry. The default carries the
// built-in schemes.
func WithRegistry(r *scheme.Registry) Option {
	return func(f *Facilitator) { f.registry = r }
}

// WithNonceStore replaces the nonce store. The default is in-memory.
func WithNonceStore(s NonceStore) Option {
	return func(f *Facilitator) { f.nonces = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Facilitator) { f.logger = l }
}

// WithExpirySafetyMargin sets how close to its validBefore an authorization
// may be and still be accepted. Default 5s.
func WithExpirySafetyMargin(d time.Duration) Option {
	return func(f *Facilitator) { f.safetyMargin = d }
}

// New creates a Facilitator. key pays gas for settlements; rpcURL is the
// EVM node endpoint.
func New(key *ecdsa.PrivateKey, rpcURL string, opts ...Option) *Facilitator {
	f := &Facilitator{
		key:          key,
		rpcURL:       rpcURL,
		supported:    []x402.SupportedKind{{Scheme: "exact", Network: x402.BaseMainnet.NetworkID}},
		registry:     scheme.DefaultRegistry(),
		nonces:       NewMemoryNonceStore(),
		logger:       slog.Default(),
		safetyMargin: defaultExpirySafetyMargin,
		promRegistry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.metrics = newMetrics(f.promRegistry)
	return f
}

// IsSupported reports whether the (scheme, network) combination is accepted.
func (f *Facilitator) IsSupported(schemeName, network string) bool {
	for _, k := range f.supported {
		if k.Scheme == schemeName && k.Network == network {
			return true
		}
	}
	return false
}

// Supported returns the accepted (scheme, network) combinations.
func (f *Facilitator) Supported() *x402.SupportedResponse {
	kinds := make([]x402.SupportedKind, len(f.supported))
	copy(kinds, f.supported)
	return &x402.SupportedResponse{Supported: kinds}
}

func invalid(reason string) *x402.VerificationResponse {
	return &x402.VerificationResponse{IsValid: false, InvalidReason: reason}
}

// Verify checks a payment header against requirements without touching the
// chain state. Semantic failures are reported in the response; an error
// return means the facilitator itself failed (e.g., the nonce store is
// unreachable).
func (f *Facilitator) Verify(ctx context.Context, req *x402.VerificationRequest) (*x402.VerificationResponse, error) {
	resp, _, err := f.verify(ctx, req)
	return resp, err
}

// verify additionally returns the decoded payload for reuse by Settle.
func (f *Facilitator) verify(ctx context.Context, req *x402.VerificationRequest) (*x402.VerificationResponse, *x402.PaymentPayload, error) {
	payload, err := encoding.DecodePayment(req.PaymentHeader)
	if err != nil {
		f.metrics.observeVerify("invalid", "unknown", "unknown")
		return invalid(fmt.Sprintf("Invalid payment header: %v", err)), nil, nil
	}

	log := f.logger.With("scheme", payload.Scheme, "network", payload.Network)

	if !f.IsSupported(payload.Scheme, payload.Network) {
		f.metrics.observeVerify("invalid", payload.Scheme, payload.Network)
		return invalid(fmt.Sprintf("Unsupported scheme/network: %s/%s", payload.Scheme, payload.Network)), nil, nil
	}

	impl, err := f.registry.Get(payload.Scheme)
	if err != nil {
		f.metrics.observeVerify("invalid", payload.Scheme, payload.Network)
		return invalid(fmt.Sprintf("Unsupported scheme: %s", payload.Scheme)), nil, nil
	}

	auth, err := payload.Authorization()
	if err != nil {
		f.metrics.observeVerify("invalid", payload.Scheme, payload.Network)
		return invalid(fmt.Sprintf("Invalid payment payload: %v", err)), nil, nil
	}

	// Refuse authorizations about to expire before doing any RPC work.
	validBefore, err := x402.ParseTimestamp(auth.ValidBefore)
	if err != nil {
		f.metrics.observeVerify("invalid", payload.Scheme, payload.Network)
		return invalid(fmt.Sprintf("Invalid payment payload: %v", err)), nil, nil
	}
	deadline := time.Unix(int64(validBefore), 0)
	if time.Until(deadline) < f.safetyMargin {
		f.metrics.observeVerify("invalid", payload.Scheme, payload.Network)
		return invalid("Authorization expires too soon"), nil, nil
	}

	valid, err := impl.Verify(ctx, payload, &req.PaymentRequirements, f.rpcURL)
	if err != nil {
		log.Info("payment verification rejected", "error", err)
		f.metrics.observeVerify("invalid", payload.Scheme, payload.Network)
		return invalid(err.Error()), nil, nil
	}
	if !valid {
		f.metrics.observeVerify("invalid", payload.Scheme, payload.Network)
		return invalid("Verification failed"), nil, nil
	}

	used, err := f.nonces.IsUsed(ctx, auth.Nonce)
	if err != nil {
		f.metrics.observeVerify("error", payload.Scheme, payload.Network)
		return nil, nil, err
	}
	if used {
		f.metrics.observeVerify("invalid", payload.Scheme, payload.Network)
		return invalid("Nonce already used"), nil, nil
	}

	log.Debug("payment verified", "payer", auth.From, "value", auth.Value)
	f.metrics.observeVerify("valid", payload.Scheme, payload.Network)
	return &x402.VerificationResponse{IsValid: true}, payload, nil
}

// Settle verifies and then executes a payment on chain. Settlement failures
// are reported in the response body; an error return means the facilitator
// itself failed.
func (f *Facilitator) Settle(ctx context.Context, req *x402.SettlementRequest) (*x402.SettlementResponse, error) {
	verification, payload, err := f.verify(ctx, &x402.VerificationRequest{
		PaymentHeader:       req.PaymentHeader,
		PaymentRequirements: req.PaymentRequirements,
	})
	if err != nil {
		return nil, err
	}
	if !verification.IsValid {
		f.metrics.observeSettle("failed", "unknown", "unknown")
		return &x402.SettlementResponse{Error: verification.InvalidReason}, nil
	}

	log := f.logger.With("scheme", payload.Scheme, "network", payload.Network)

	impl, err := f.registry.Get(payload.Scheme)
	if err != nil {
		f.metrics.observeSettle("failed", payload.Scheme, payload.Network)
		return &x402.SettlementResponse{Error: fmt.Sprintf("Unsupported scheme: %s", payload.Scheme)}, nil
	}

	auth, err := payload.Authorization()
	if err != nil {
		f.metrics.observeSettle("failed", payload.Scheme, payload.Network)
		return &x402.SettlementResponse{Error: fmt.Sprintf("Invalid payment payload: %v", err)}, nil
	}

	txHash, err := impl.Settle(ctx, payload, &req.PaymentRequirements, f.rpcURL, f.key)
	if err != nil {
		log.Warn("settlement failed", "payer", auth.From, "error", err)
		f.metrics.observeSettle("failed", payload.Scheme, payload.Network)
		return &x402.SettlementResponse{Error: err.Error()}, nil
	}

	// The nonce is burned only once the transaction is out the door, so a
	// payment abandoned before submission can be retried by the client.
	ttl := f.nonceTTL(auth)
	if err := f.nonces.MarkUsed(ctx, auth.Nonce, ttl); err != nil {
		log.Error("failed to record nonce after settlement", "nonce", auth.Nonce, "error", err)
	}

	log.Info("payment settled", "payer", auth.From, "value", auth.Value, "tx", txHash)
	f.metrics.observeSettle("settled", payload.Scheme, payload.Network)
	return &x402.SettlementResponse{TxHash: txHash}, nil
}

// nonceTTL keeps a nonce on record until its authorization window has
// passed, after which the on-chain state check takes over.
func (f *Facilitator) nonceTTL(auth *x402.TransferAuthorization) time.Duration {
	validBefore, err := x402.ParseTimestamp(auth.ValidBefore)
	if err != nil {
		return time.Hour
	}
	ttl := time.Until(time.Unix(int64(validBefore), 0)) + time.Minute
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}
