// Package gin adapts the x402 payment middleware to gin routers.
package gin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/x402pay/x402-go"
	"github.com/x402pay/x402-go/encoding"
	x402http "github.com/x402pay/x402-go/http"
	"github.com/x402pay/x402-go/validation"
)

// paymentKey stores the verified payment payload on the gin context.
const paymentKey = "x402_payment"

// PaymentFromContext returns the verified payment payload stored by the
// middleware, or nil.
func PaymentFromContext(c *gin.Context) *x402.PaymentPayload {
	payload, _ := c.Get(paymentKey)
	payment, _ := payload.(*x402.PaymentPayload)
	return payment
}

// Middleware returns a gin handler enforcing payment before the route
// handlers run. Unlike the net/http middleware, it settles before
// serving: gin's writer offers no hook at the moment a handler commits
// its status, so the settlement receipt must be in the headers first.
func Middleware(configs ...x402http.PaymentConfig) (gin.HandlerFunc, error) {
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

	facilitator := x402http.NewFacilitatorClient(configs[0].FacilitatorURL)

	return func(c *gin.Context) {
		urlScheme := "http"
		if c.Request.TLS != nil {
			urlScheme = "https"
		}
		resource := urlScheme + "://" + c.Request.Host + c.Request.RequestURI

		requirements := make([]x402.PaymentRequirements, len(configs))
		for i, config := range configs {
			requirements[i] = config.ToRequirements(resource)
			if requirements[i].Description == "" {
				requirements[i].Description = "Payment required for " + c.Request.URL.Path
			}
		}

		abort := func(message string) {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, &x402.PaymentRequiredResponse{
				X402Version: x402.X402Version,
				Accepts:     requirements,
				Error:       message,
			})
		}

		header := c.GetHeader(x402.PaymentHeader)
		if header == "" {
			abort("Payment required")
			return
		}

		payment, err := encoding.DecodePayment(header)
		if err != nil {
			abort("Invalid payment header")
			return
		}

		var requirement *x402.PaymentRequirements
		var config x402http.PaymentConfig
		for i := range requirements {
			if requirements[i].Scheme == payment.Scheme && requirements[i].Network == payment.Network {
				requirement = &requirements[i]
				config = configs[i]
				break
			}
		}
		if requirement == nil {
			abort("No matching payment requirement")
			return
		}

		verification, err := facilitator.Verify(c.Request.Context(), header, requirement)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Payment verification failed"})
			return
		}
		if !verification.IsValid {
			abort(verification.InvalidReason)
			return
		}

		if !config.VerifyOnly {
			settlement, err := facilitator.Settle(c.Request.Context(), header, requirement)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Payment settlement failed"})
				return
			}
			if settlement.Error != "" {
				abort(settlement.Error)
				return
			}

			receipt := &x402.PaymentResponse{
				TxHash:    settlement.TxHash,
				SettledAt: time.Now().UTC().Format(time.RFC3339),
			}
			if encoded, err := encoding.EncodePaymentResponse(receipt); err == nil {
				c.Header(x402.PaymentResponseHeader, encoded)
			}
		}

		c.Set(paymentKey, payment)
		c.Next()
	}, nil
}
