package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/x402pay/x402-go"
	"github.com/x402pay/x402-go/retry"
)

// Default facilitator call timeouts. Settlement waits for a transaction
// to be submitted, so it gets a far longer budget than verification.
const (
	DefaultVerifyTimeout = 10 * time.Second
	DefaultSettleTimeout = 60 * time.Second
)

// FacilitatorClient calls a facilitator's verify, settle, and supported
// endpoints on behalf of a resource server.
type FacilitatorClient struct {
	// BaseURL is the facilitator endpoint, without a trailing slash.
	BaseURL string

	// Client is the underlying HTTP client.
	Client *http.Client

	// VerifyTimeout bounds a single Verify or Supported call.
	VerifyTimeout time.Duration

	// SettleTimeout bounds a Settle call.
	SettleTimeout time.Duration

	// Retry is applied to Verify and Supported. Settle is never retried:
	// a timed-out settlement may still land on chain.
	Retry retry.Policy
}

// NewFacilitatorClient creates a client with default timeouts and retry
// policy.
func NewFacilitatorClient(baseURL string) *FacilitatorClient {
	return &FacilitatorClient{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		Client:        &http.Client{},
		VerifyTimeout: DefaultVerifyTimeout,
		SettleTimeout: DefaultSettleTimeout,
		Retry:         retry.Default,
	}
}

// statusError reports a non-200 reply from the facilitator.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("facilitator returned status %d: %s", e.status, e.body)
}

// transient reports whether a facilitator call is worth retrying: network
// failures and 5xx replies are, anything the facilitator rejected
// deliberately is not.
func transient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 500
	}
	return true
}

// Verify asks the facilitator to verify a payment header against
// requirements. Transient failures are retried.
func (c *FacilitatorClient) Verify(ctx context.Context, paymentHeader string, requirements *x402.PaymentRequirements) (*x402.VerificationResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout())
	defer cancel()

	request := &x402.VerificationRequest{
		PaymentHeader:       paymentHeader,
		PaymentRequirements: *requirements,
	}
	return retry.Do(ctx, c.Retry, transient, func() (*x402.VerificationResponse, error) {
		var resp x402.VerificationResponse
		if err := c.post(ctx, "/verify", request, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
}

// Settle asks the facilitator to settle a verified payment on chain. It
// is called at most once per payment. A 400 reply carrying a
// SettlementResponse body is a settlement rejection, returned with its
// reason rather than as an error.
func (c *FacilitatorClient) Settle(ctx context.Context, paymentHeader string, requirements *x402.PaymentRequirements) (*x402.SettlementResponse, error) {
	timeout := c.SettleTimeout
	if timeout <= 0 {
		timeout = DefaultSettleTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	request := &x402.SettlementRequest{
		PaymentHeader:       paymentHeader,
		PaymentRequirements: *requirements,
	}
	var resp x402.SettlementResponse
	if err := c.post(ctx, "/settle", request, &resp); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.status == http.StatusBadRequest {
			var rejected x402.SettlementResponse
			if jsonErr := json.Unmarshal([]byte(se.body), &rejected); jsonErr == nil && rejected.Error != "" {
				return &rejected, nil
			}
		}
		return nil, err
	}
	return &resp, nil
}

// Supported fetches the (scheme, network) combinations the facilitator
// accepts.
func (c *FacilitatorClient) Supported(ctx context.Context) (*x402.SupportedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout())
	defer cancel()

	return retry.Do(ctx, c.Retry, transient, func() (*x402.SupportedResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/supported", nil)
		if err != nil {
			return nil, err
		}
		var resp x402.SupportedResponse
		if err := c.do(req, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
}

// VerifyAndSettle runs the full verify-then-settle round trip for a
// payment header, for servers that settle outside the middleware flow.
func (c *FacilitatorClient) VerifyAndSettle(ctx context.Context, paymentHeader string, requirements *x402.PaymentRequirements) (*x402.SettlementResponse, error) {
	verification, err := c.Verify(ctx, paymentHeader, requirements)
	if err != nil {
		return nil, err
	}
	if !verification.IsValid {
		return nil, x402.NewPaymentError(x402.ErrCodeVerificationFailed,
			verification.InvalidReason, x402.ErrVerificationFailed)
	}
	return c.Settle(ctx, paymentHeader, requirements)
}

func (c *FacilitatorClient) verifyTimeout() time.Duration {
	if c.VerifyTimeout <= 0 {
		return DefaultVerifyTimeout
	}
	return c.VerifyTimeout
}

func (c *FacilitatorClient) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return x402.NewPaymentError(x402.ErrCodeInvalidPayload, "failed to encode facilitator request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *FacilitatorClient) do(req *http.Request, out interface{}) error {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return x402.NewPaymentError(x402.ErrCodeNetworkError, "facilitator request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return x402.NewPaymentError(x402.ErrCodeInvalidPayload, "failed to decode facilitator response", err)
	}
	return nil
}
