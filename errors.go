package x402

import "errors"

// Standard x402 error definitions

var (
	// ErrUnsupportedScheme indicates an unsupported payment scheme.
	ErrUnsupportedScheme = errors.New("x402: unsupported payment scheme")

	// ErrUnsupportedNetwork indicates an unsupported network.
	ErrUnsupportedNetwork = errors.New("x402: unsupported network")

	// ErrUnsupportedVersion indicates an unsupported x402 protocol version.
	ErrUnsupportedVersion = errors.New("x402: unsupported protocol version")

	// ErrInvalidPayload indicates a malformed payment payload or header.
	ErrInvalidPayload = errors.New("x402: invalid payment payload")

	// ErrInvalidAddress indicates a malformed blockchain address.
	ErrInvalidAddress = errors.New("x402: invalid address")

	// ErrInvalidAmount indicates a malformed or out-of-range amount string.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrInvalidSignature indicates a malformed or mismatched signature.
	ErrInvalidSignature = errors.New("x402: invalid signature")

	// ErrInvalidKey indicates an invalid private key.
	ErrInvalidKey = errors.New("x402: invalid private key")

	// ErrInvalidKeystore indicates an invalid or corrupted keystore file.
	ErrInvalidKeystore = errors.New("x402: invalid keystore file")

	// ErrInvalidMnemonic indicates an invalid BIP39 mnemonic phrase.
	ErrInvalidMnemonic = errors.New("x402: invalid mnemonic phrase")

	// ErrNonceUsed indicates an already-consumed authorization nonce.
	ErrNonceUsed = errors.New("x402: nonce already used")

	// ErrExpiredAuthorization indicates the authorization validity window
	// has passed or not yet begun.
	ErrExpiredAuthorization = errors.New("x402: authorization outside validity window")

	// ErrVerificationFailed indicates payment verification failed.
	ErrVerificationFailed = errors.New("x402: payment verification failed")

	// ErrSettlementFailed indicates on-chain settlement failed.
	ErrSettlementFailed = errors.New("x402: payment settlement failed")

	// ErrNoSuitableRequirement indicates none of the advertised payment
	// options match the client's scheme and network.
	ErrNoSuitableRequirement = errors.New("x402: no suitable payment requirement")

	// ErrFacilitatorUnavailable indicates the facilitator service is unavailable.
	ErrFacilitatorUnavailable = errors.New("x402: facilitator service unavailable")

	// ErrPaymentRequired indicates that payment is required to access the resource.
	ErrPaymentRequired = errors.New("x402: payment required")

	// ErrTimeout indicates the operation timed out.
	ErrTimeout = errors.New("x402: operation timed out")

	// ErrConfig indicates invalid library or service configuration.
	ErrConfig = errors.New("x402: invalid configuration")
)

// ErrorCode represents payment error codes for programmatic handling.
type ErrorCode string

const (
	// ErrCodeUnsupportedScheme indicates an unsupported payment scheme.
	ErrCodeUnsupportedScheme ErrorCode = "UNSUPPORTED_SCHEME"

	// ErrCodeUnsupportedNetwork indicates an unsupported network.
	ErrCodeUnsupportedNetwork ErrorCode = "UNSUPPORTED_NETWORK"

	// ErrCodeUnsupportedVersion indicates an unsupported protocol version.
	ErrCodeUnsupportedVersion ErrorCode = "UNSUPPORTED_VERSION"

	// ErrCodeInvalidPayload indicates a malformed payload or header.
	ErrCodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"

	// ErrCodeInvalidAddress indicates a malformed address.
	ErrCodeInvalidAddress ErrorCode = "INVALID_ADDRESS"

	// ErrCodeInvalidAmount indicates a malformed amount.
	ErrCodeInvalidAmount ErrorCode = "INVALID_AMOUNT"

	// ErrCodeSignatureError indicates a signing or recovery failure.
	ErrCodeSignatureError ErrorCode = "SIGNATURE_ERROR"

	// ErrCodeNonceUsed indicates a replayed nonce.
	ErrCodeNonceUsed ErrorCode = "NONCE_USED"

	// ErrCodeVerificationFailed indicates verification failed.
	ErrCodeVerificationFailed ErrorCode = "VERIFICATION_FAILED"

	// ErrCodeSettlementFailed indicates settlement failed.
	ErrCodeSettlementFailed ErrorCode = "SETTLEMENT_FAILED"

	// ErrCodeNoSuitableRequirement indicates no matching payment option.
	ErrCodeNoSuitableRequirement ErrorCode = "NO_SUITABLE_REQUIREMENT"

	// ErrCodeNetworkError indicates a transport or RPC communication error.
	ErrCodeNetworkError ErrorCode = "NETWORK_ERROR"

	// ErrCodeConfig indicates invalid configuration.
	ErrCodeConfig ErrorCode = "INVALID_CONFIG"
)

// PaymentError provides structured error information.
type PaymentError struct {
	// Code is the error code for programmatic handling.
	Code ErrorCode

	// Message is the human-readable error message.
	Message string

	// Details contains additional error context.
	Details map[string]interface{}

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a new PaymentError with the given code and message.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithDetails adds additional context to the error.
// Lazily initializes the Details map if nil.
func (e *PaymentError) WithDetails(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}
