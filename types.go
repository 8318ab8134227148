// Package x402 implements the x402 micropayment protocol: an HTTP flow built
// on status 402 in which a resource server advertises a price, a client
// answers with a signed transfer authorization, and a facilitator verifies
// the authorization and settles it on chain, paying gas on behalf of the
// payer.
package x402

import "encoding/json"

// X402Version is the protocol version carried in every envelope.
const X402Version = 1

// Header names used on the wire.
const (
	// PaymentHeader carries the base64-encoded PaymentPayload on requests.
	PaymentHeader = "X-PAYMENT"

	// PaymentResponseHeader carries the base64-encoded PaymentResponse on
	// successful replies.
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
)

// PaymentRequirements represents a single payment option from a 402 response.
// It is advertised in the response body and echoed back to the facilitator
// on verify and settle.
type PaymentRequirements struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the chain identifier, the decimal chain ID as a string
	// (e.g., "8453" for Base mainnet).
	Network string `json:"network"`

	// MaxAmountRequired is the payment amount in atomic token units, kept as
	// a decimal string to cover the full uint256 range.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Resource is the URL or identifier of the protected resource.
	Resource string `json:"resource"`

	// Description is an optional human-readable payment description.
	Description string `json:"description,omitempty"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType,omitempty"`

	// OutputSchema optionally describes the response format.
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// MaxTimeoutSeconds bounds the validity window of the authorization.
	MaxTimeoutSeconds uint64 `json:"maxTimeoutSeconds"`

	// Asset is the token contract address (e.g., USDC).
	Asset string `json:"asset"`

	// Extra contains scheme-specific additional data, such as the EIP-712
	// domain name and version of the token contract.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequiredResponse represents the complete 402 response body.
type PaymentRequiredResponse struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Accepts is an array of payment options the server will accept.
	Accepts []PaymentRequirements `json:"accepts"`

	// Error is an optional human-readable error message.
	Error string `json:"error,omitempty"`
}

// PaymentPayload represents a signed payment that will be sent to the server
// in the X-PAYMENT header, base64-encoded.
type PaymentPayload struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the chain identifier.
	Network string `json:"network"`

	// Payload contains the scheme-specific signed payment data. For "exact"
	// on EVM chains it is a TransferAuthorization.
	Payload json.RawMessage `json:"payload"`
}

// TransferAuthorization carries the EIP-3009 transferWithAuthorization
// parameters plus the payer's EIP-712 signature. It is the inner payload of
// the "exact" scheme on EVM chains.
type TransferAuthorization struct {
	// From is the payer's address.
	From string `json:"from"`

	// To is the recipient's address.
	To string `json:"to"`

	// Value is the payment amount in atomic units, as a decimal string.
	Value string `json:"value"`

	// ValidAfter is the unix timestamp after which the authorization is valid.
	ValidAfter string `json:"validAfter"`

	// ValidBefore is the unix timestamp before which the authorization is valid.
	ValidBefore string `json:"validBefore"`

	// Nonce is a single-use 32-byte value as a 0x-prefixed hex string.
	Nonce string `json:"nonce"`

	// Signature is the 65-byte r‖s‖v signature as a 0x-prefixed hex string.
	Signature string `json:"signature"`
}

// Authorization decodes the inner payload as a TransferAuthorization.
func (p *PaymentPayload) Authorization() (*TransferAuthorization, error) {
	var auth TransferAuthorization
	if err := json.Unmarshal(p.Payload, &auth); err != nil {
		return nil, NewPaymentError(ErrCodeInvalidPayload, "payload is not a transfer authorization", err)
	}
	return &auth, nil
}

// SetAuthorization encodes auth as the inner payload.
func (p *PaymentPayload) SetAuthorization(auth *TransferAuthorization) error {
	raw, err := json.Marshal(auth)
	if err != nil {
		return NewPaymentError(ErrCodeInvalidPayload, "failed to encode transfer authorization", err)
	}
	p.Payload = raw
	return nil
}

// VerificationRequest is the body of a facilitator /verify call.
type VerificationRequest struct {
	// PaymentHeader is the base64-encoded PaymentPayload from X-PAYMENT.
	PaymentHeader string `json:"paymentHeader"`

	// PaymentRequirements is what the server expects the payment to satisfy.
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerificationResponse is the facilitator's answer to /verify.
type VerificationResponse struct {
	// IsValid reports whether the payment satisfies the requirements.
	IsValid bool `json:"isValid"`

	// InvalidReason explains a false IsValid.
	InvalidReason string `json:"invalidReason,omitempty"`
}

// SettlementRequest is the body of a facilitator /settle call.
type SettlementRequest struct {
	PaymentHeader       string              `json:"paymentHeader"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SettlementResponse is the facilitator's answer to /settle. TxHash is empty
// and Error set when settlement failed.
type SettlementResponse struct {
	// TxHash is the hash of the submitted settlement transaction.
	TxHash string `json:"txHash"`

	// BlockNumber is the block the transaction was mined in, when known.
	BlockNumber *uint64 `json:"blockNumber,omitempty"`

	// Error provides details if settlement failed.
	Error string `json:"error,omitempty"`
}

// PaymentResponse is the body of the X-PAYMENT-RESPONSE header the server
// returns to the client after successful settlement.
type PaymentResponse struct {
	// TxHash is the settlement transaction hash.
	TxHash string `json:"txHash"`

	// SettledAt is an RFC 3339 timestamp of the settlement.
	SettledAt string `json:"settledAt,omitempty"`

	// Metadata carries optional server-defined extras.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SupportedKind is one (scheme, network) combination a facilitator accepts.
type SupportedKind struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`

	// Assets optionally lists accepted token contracts on this network.
	Assets []string `json:"assets,omitempty"`
}

// SupportedResponse is the body of a facilitator /supported reply.
type SupportedResponse struct {
	Supported []SupportedKind `json:"supported"`
}
