// Package http provides the resource-server and client sides of the x402
// payment flow: middleware that gates handlers behind a 402 challenge, a
// facilitator client, and an http.RoundTripper that pays challenges
// automatically.
package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/x402pay/x402-go"
	"github.com/x402pay/x402-go/encoding"
	"github.com/x402pay/x402-go/validation"
)

// PaymentConfig describes what a protected route charges and which
// facilitator verifies and settles the payment.
type PaymentConfig struct {
	// PayTo is the address receiving the payment.
	PayTo string

	// Asset is the token contract address.
	Asset string

	// Decimals is the token's decimal places.
	Decimals uint8

	// Network is the decimal chain ID as a string.
	Network string

	// Scheme is the payment scheme. Defaults to "exact".
	Scheme string

	// PriceUSD is the price in US dollars.
	PriceUSD float64

	// TokenUSDPrice is the token's price in US dollars, used to convert
	// PriceUSD to atomic units. Defaults to 1.0 (stablecoins).
	TokenUSDPrice float64

	// Description is an optional human-readable payment description.
	Description string

	// FacilitatorURL is the facilitator endpoint.
	FacilitatorURL string

	// MaxTimeoutSeconds bounds the authorization validity window.
	// Defaults to 300.
	MaxTimeoutSeconds uint64

	// TokenName and TokenVersion override the token's EIP-712 domain
	// parameters when set.
	TokenName    string
	TokenVersion string

	// VerifyOnly skips settlement. Useful during integration testing.
	VerifyOnly bool
}

// SimpleUSDCConfig returns a config charging amountUSD in USDC on the
// given chain.
func SimpleUSDCConfig(chain x402.ChainConfig, payTo string, amountUSD float64, facilitatorURL string) PaymentConfig {
	return PaymentConfig{
		PayTo:          payTo,
		Asset:          chain.USDCAddress,
		Decimals:       chain.Decimals,
		Network:        chain.NetworkID,
		PriceUSD:       amountUSD,
		FacilitatorURL: facilitatorURL,
		TokenName:      chain.EIP712Name,
		TokenVersion:   chain.EIP712Version,
	}
}

// ToRequirements renders the config as the payment requirements
// advertised for resource.
func (c PaymentConfig) ToRequirements(resource string) x402.PaymentRequirements {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "exact"
	}
	maxTimeout := c.MaxTimeoutSeconds
	if maxTimeout == 0 {
		maxTimeout = 300
	}
	tokenPrice := c.TokenUSDPrice
	if tokenPrice == 0 {
		tokenPrice = 1.0
	}

	req := x402.PaymentRequirements{
		Scheme:            scheme,
		Network:           c.Network,
		MaxAmountRequired: x402.DollarToTokenAmount(c.PriceUSD, tokenPrice, int(c.Decimals)),
		Resource:          resource,
		Description:       c.Description,
		MimeType:          "application/json",
		PayTo:             c.PayTo,
		MaxTimeoutSeconds: maxTimeout,
		Asset:             c.Asset,
	}
	if c.TokenName != "" {
		req.Extra = map[string]interface{}{
			"name":    c.TokenName,
			"version": c.TokenVersion,
		}
	}
	return req
}

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// paymentContextKey stores the verified payment payload for handler access.
const paymentContextKey = contextKey("x402_payment")

// PaymentFromContext returns the verified payment payload stored by the
// middleware, or nil if the request was not payment-gated.
func PaymentFromContext(ctx context.Context) *x402.PaymentPayload {
	payload, _ := ctx.Value(paymentContextKey).(*x402.PaymentPayload)
	return payload
}

// NewMiddleware returns middleware gating the wrapped handler behind the
// given payment options. Every config must name the same facilitator.
//
// Requests without an X-PAYMENT header receive a 402 challenge listing
// one requirement per config. Requests with a header are verified with
// the facilitator before the handler runs and settled at the moment the
// handler commits a success response.
func NewMiddleware(configs ...PaymentConfig) (func(http.Handler) http.Handler, error) {
	if len(configs) == 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeConfig, "at least one payment config is required", x402.ErrConfig)
	}
	for i := range configs {
		if configs[i].FacilitatorURL != configs[0].FacilitatorURL {
			return nil, x402.NewPaymentError(x402.ErrCodeConfig, "all payment configs must share a facilitator URL", x402.ErrConfig)
		}
		req := configs[i].ToRequirements("/")
		if err := validation.ValidateRequirements(&req); err != nil {
			return nil, x402.NewPaymentError(x402.ErrCodeConfig, err.Error(), x402.ErrConfig)
		}
	}

	facilitator := NewFacilitatorClient(configs[0].FacilitatorURL)
	return newMiddleware(facilitator, configs), nil
}

func newMiddleware(facilitator *FacilitatorClient, configs []PaymentConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := slog.Default()

			requirements := requirementsForRequest(configs, r)

			header := r.Header.Get(x402.PaymentHeader)
			if header == "" {
				logger.Info("no payment header provided", "path", r.URL.Path)
				sendPaymentRequired(w, requirements, "Payment required")
				return
			}

			payment, err := encoding.DecodePayment(header)
			if err != nil {
				logger.Warn("invalid payment header", "error", err)
				sendPaymentRequired(w, requirements, "Invalid payment header")
				return
			}

			idx := matchRequirement(payment, requirements)
			if idx < 0 {
				logger.Warn("no matching requirement", "scheme", payment.Scheme, "network", payment.Network)
				sendPaymentRequired(w, requirements, "No matching payment requirement")
				return
			}

			requirement := &requirements[idx]
			verification, err := facilitator.Verify(r.Context(), header, requirement)
			if err != nil {
				logger.Error("facilitator verification failed", "error", err)
				http.Error(w, "Payment verification failed", http.StatusServiceUnavailable)
				return
			}
			if !verification.IsValid {
				logger.Warn("payment rejected", "reason", verification.InvalidReason)
				sendPaymentRequired(w, requirements, verification.InvalidReason)
				return
			}

			ctx := context.WithValue(r.Context(), paymentContextKey, payment)
			r = r.WithContext(ctx)

			config := configs[idx]

			interceptor := &settlementInterceptor{
				w: w,
				settle: func() bool {
					if config.VerifyOnly {
						return true
					}

					settlement, err := facilitator.Settle(r.Context(), header, requirement)
					if err != nil {
						logger.Error("settlement failed", "error", err)
						http.Error(w, "Payment settlement failed", http.StatusServiceUnavailable)
						return false
					}
					if settlement.Error != "" {
						logger.Warn("settlement rejected", "reason", settlement.Error)
						sendPaymentRequired(w, requirements, settlement.Error)
						return false
					}

					logger.Info("payment settled", "tx", settlement.TxHash)
					receipt := &x402.PaymentResponse{
						TxHash:    settlement.TxHash,
						SettledAt: time.Now().UTC().Format(time.RFC3339),
					}
					if encoded, err := encoding.EncodePaymentResponse(receipt); err == nil {
						w.Header().Set(x402.PaymentResponseHeader, encoded)
					}
					return true
				},
				onSkip: func(status int) {
					logger.Info("handler returned non-success, skipping settlement", "status", status)
				},
			}
			next.ServeHTTP(interceptor, r)
		})
	}
}

// requirementsForRequest stamps each config's requirements with the
// absolute URL of the requested resource.
func requirementsForRequest(configs []PaymentConfig, r *http.Request) []x402.PaymentRequirements {
	urlScheme := "http"
	if r.TLS != nil {
		urlScheme = "https"
	}
	resource := urlScheme + "://" + r.Host + r.RequestURI

	requirements := make([]x402.PaymentRequirements, len(configs))
	for i, config := range configs {
		requirements[i] = config.ToRequirements(resource)
		if requirements[i].Description == "" {
			requirements[i].Description = "Payment required for " + r.URL.Path
		}
	}
	return requirements
}

// matchRequirement returns the index of the first requirement the payment
// claims to satisfy, or -1.
func matchRequirement(payment *x402.PaymentPayload, requirements []x402.PaymentRequirements) int {
	for i := range requirements {
		if requirements[i].Scheme == payment.Scheme && requirements[i].Network == payment.Network {
			return i
		}
	}
	return -1
}

func sendPaymentRequired(w http.ResponseWriter, requirements []x402.PaymentRequirements, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(&x402.PaymentRequiredResponse{
		X402Version: x402.X402Version,
		Accepts:     requirements,
		Error:       message,
	})
}

// settlementInterceptor wraps the ResponseWriter so settlement runs at the
// moment the handler commits a success status. Error responses pass
// through unsettled; a failed settlement hijacks the response and
// discards the handler's payload.
type settlementInterceptor struct {
	w         http.ResponseWriter
	settle    func() bool
	onSkip    func(status int)
	committed bool
	hijacked  bool
}

func (i *settlementInterceptor) Header() http.Header {
	return i.w.Header()
}

func (i *settlementInterceptor) Write(b []byte) (int, error) {
	// Write without WriteHeader implies 200.
	if !i.committed {
		i.WriteHeader(http.StatusOK)
	}
	if i.hijacked {
		return len(b), nil
	}
	return i.w.Write(b)
}

func (i *settlementInterceptor) WriteHeader(status int) {
	if i.committed {
		return
	}
	i.committed = true

	if status >= 400 {
		if i.onSkip != nil {
			i.onSkip(status)
		}
		i.w.WriteHeader(status)
		return
	}

	if !i.settle() {
		// The settle callback already wrote the error response.
		i.hijacked = true
		return
	}
	i.w.WriteHeader(status)
}

// Flush implements http.Flusher to support streaming responses.
func (i *settlementInterceptor) Flush() {
	if flusher, ok := i.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker to support connection hijacking.
func (i *settlementInterceptor) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := i.w.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, errors.New("hijacking not supported")
}

// Push implements http.Pusher to support HTTP/2 server push.
func (i *settlementInterceptor) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := i.w.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}
