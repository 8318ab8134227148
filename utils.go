package x402

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// maxUint256 bounds parsed amounts to what fits in an EVM word.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ParseAmount parses an amount string in atomic units. Decimal strings and
// 0x/0X-prefixed hex strings are accepted; the value must be non-negative
// and fit in 256 bits.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, NewPaymentError(ErrCodeInvalidAmount, "amount is empty", ErrInvalidAmount)
	}
	v := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		_, ok = v.SetString(s[2:], 16)
	} else {
		_, ok = v.SetString(s, 10)
	}
	if !ok {
		return nil, NewPaymentError(ErrCodeInvalidAmount,
			fmt.Sprintf("malformed amount %q", s), ErrInvalidAmount)
	}
	if v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
		return nil, NewPaymentError(ErrCodeInvalidAmount,
			fmt.Sprintf("amount %q out of uint256 range", s), ErrInvalidAmount)
	}
	return v, nil
}

// ParseAddress parses a 20-byte EVM address, with or without the 0x prefix.
func ParseAddress(s string) (common.Address, error) {
	h := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(h) != 40 {
		return common.Address{}, NewPaymentError(ErrCodeInvalidAddress,
			fmt.Sprintf("address %q must be 40 hex characters", s), ErrInvalidAddress)
	}
	raw, err := hex.DecodeString(h)
	if err != nil {
		return common.Address{}, NewPaymentError(ErrCodeInvalidAddress,
			fmt.Sprintf("address %q is not hex", s), err)
	}
	return common.BytesToAddress(raw), nil
}

// GenerateNonce returns a fresh random 32-byte nonce as a 0x-prefixed hex
// string, suitable for EIP-3009 authorizations.
func GenerateNonce() (string, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", NewPaymentError(ErrCodeSignatureError, "failed to generate nonce", err)
	}
	return "0x" + hex.EncodeToString(nonce[:]), nil
}

// ParseNonce parses a 32-byte nonce from its 0x-prefixed hex form.
func ParseNonce(s string) ([32]byte, error) {
	var nonce [32]byte
	h := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(h) != 64 {
		return nonce, NewPaymentError(ErrCodeInvalidPayload,
			fmt.Sprintf("nonce %q must be 64 hex characters", s), ErrInvalidPayload)
	}
	raw, err := hex.DecodeString(h)
	if err != nil {
		return nonce, NewPaymentError(ErrCodeInvalidPayload,
			fmt.Sprintf("nonce %q is not hex", s), err)
	}
	copy(nonce[:], raw)
	return nonce, nil
}

// ParseSignature parses a 65-byte r‖s‖v signature from its 0x-prefixed hex
// form. Exactly 65 bytes are required.
func ParseSignature(s string) ([]byte, error) {
	h := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	raw, err := hex.DecodeString(h)
	if err != nil {
		return nil, NewPaymentError(ErrCodeSignatureError,
			"signature is not hex", err)
	}
	if len(raw) != 65 {
		return nil, NewPaymentError(ErrCodeSignatureError,
			fmt.Sprintf("signature must be 65 bytes, got %d", len(raw)), ErrInvalidSignature)
	}
	return raw, nil
}

// CurrentTimestamp returns the current unix time in seconds.
func CurrentTimestamp() uint64 {
	return uint64(time.Now().Unix())
}

// ParseTimestamp parses a decimal unix timestamp string.
func ParseTimestamp(s string) (uint64, error) {
	ts, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, NewPaymentError(ErrCodeInvalidPayload,
			fmt.Sprintf("malformed timestamp %q", s), err)
	}
	return ts, nil
}

// IsTimestampValid reports whether now lies in the inclusive
// [validAfter, validBefore] window.
func IsTimestampValid(now, validAfter, validBefore uint64) bool {
	return now >= validAfter && now <= validBefore
}

// DollarToTokenAmount converts a US dollar amount to atomic token units given
// the token's USD price and decimals. The result is rounded to the nearest
// atomic unit.
func DollarToTokenAmount(amountUSD, tokenUSDPrice float64, decimals int) string {
	if tokenUSDPrice <= 0 {
		return "0"
	}
	tokens := amountUSD / tokenUSDPrice
	atomic := tokens * math.Pow10(decimals)
	if atomic < 0 {
		return "0"
	}
	return new(big.Int).SetUint64(uint64(math.Round(atomic))).String()
}
