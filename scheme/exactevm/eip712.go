package exactevm

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402pay/x402-go"
)

// EIP-712 domain defaults for Circle's USDC contracts. Overridable per
// requirement via the extra field.
const (
	defaultDomainName    = "USD Coin"
	defaultDomainVersion = "2"
)

var (
	domainTypeHash = crypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	transferTypeHash = crypto.Keccak256(
		[]byte("TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))
)

// pad32 left-pads b to a 32-byte EVM word.
func pad32(b []byte) []byte {
	return common.LeftPadBytes(b, 32)
}

// DomainSeparator computes the EIP-712 domain separator for an EIP-3009
// token contract.
func DomainSeparator(token common.Address, chainID *big.Int, name, version string) common.Hash {
	var buf []byte
	buf = append(buf, domainTypeHash...)
	buf = append(buf, crypto.Keccak256([]byte(name))...)
	buf = append(buf, crypto.Keccak256([]byte(version))...)
	buf = append(buf, pad32(chainID.Bytes())...)
	buf = append(buf, pad32(token.Bytes())...)
	return common.BytesToHash(crypto.Keccak256(buf))
}

// AuthorizationDigest computes the EIP-712 signing digest for a
// TransferWithAuthorization message:
//
//	keccak256("\x19\x01" ‖ domainSeparator ‖ structHash)
func AuthorizationDigest(from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte, domainSeparator common.Hash) common.Hash {
	var structBuf []byte
	structBuf = append(structBuf, transferTypeHash...)
	structBuf = append(structBuf, pad32(from.Bytes())...)
	structBuf = append(structBuf, pad32(to.Bytes())...)
	structBuf = append(structBuf, pad32(value.Bytes())...)
	structBuf = append(structBuf, pad32(validAfter.Bytes())...)
	structBuf = append(structBuf, pad32(validBefore.Bytes())...)
	structBuf = append(structBuf, nonce[:]...)
	structHash := crypto.Keccak256(structBuf)

	var msg []byte
	msg = append(msg, 0x19, 0x01)
	msg = append(msg, domainSeparator.Bytes()...)
	msg = append(msg, structHash...)
	return common.BytesToHash(crypto.Keccak256(msg))
}

// SignDigest signs an EIP-712 digest with the given key and returns the
// 65-byte r‖s‖v signature with v normalized to 27/28.
func SignDigest(digest common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSignatureError, "failed to sign authorization", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// RecoverSigner recovers the signer address from a 65-byte r‖s‖v signature
// over the given digest. Both 0/1 and 27/28 recovery IDs are accepted.
func RecoverSigner(digest common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, x402.NewPaymentError(x402.ErrCodeSignatureError,
			fmt.Sprintf("signature must be 65 bytes, got %d", len(signature)), x402.ErrInvalidSignature)
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, x402.NewPaymentError(x402.ErrCodeSignatureError, "failed to recover signer", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// domainParams resolves the EIP-712 domain name and version for a
// requirement, falling back to the USDC defaults.
func domainParams(requirements *x402.PaymentRequirements) (string, string) {
	name, version := defaultDomainName, defaultDomainVersion
	if requirements.Extra != nil {
		if n, ok := requirements.Extra["name"].(string); ok && strings.TrimSpace(n) != "" {
			name = n
		}
		if v, ok := requirements.Extra["version"].(string); ok && strings.TrimSpace(v) != "" {
			version = v
		}
	}
	return name, version
}
