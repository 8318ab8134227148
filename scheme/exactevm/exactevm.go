// Package exactevm implements the "exact" payment scheme for EVM-compatible
// chains using EIP-3009 transferWithAuthorization for gasless ERC-20
// transfers. The payer signs an authorization that allows the facilitator to
// execute the transfer on their behalf without the payer holding ETH for gas.
package exactevm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/x402pay/x402-go"
)

// SchemeName is the scheme identifier this package implements.
const SchemeName = "exact"

// clockSkewAllowance backdates validAfter so authorizations remain valid
// across minor clock differences between client and verifier.
const clockSkewAllowance = 10

// defaultGasLimit covers transferWithAuthorization, which typically uses
// 50-70k gas.
const defaultGasLimit = 100_000

// eip3009ABI is the subset of the EIP-3009 token interface the scheme needs.
const eip3009ABI = `[
	{"name":"transferWithAuthorization","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},
	  {"name":"value","type":"uint256"},{"name":"validAfter","type":"uint256"},
	  {"name":"validBefore","type":"uint256"},{"name":"nonce","type":"bytes32"},
	  {"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],
	 "outputs":[]},
	{"name":"authorizationState","type":"function","stateMutability":"view",
	 "inputs":[{"name":"authorizer","type":"address"},{"name":"nonce","type":"bytes32"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

// Scheme implements the "exact" scheme for EVM chains. The payer must pay
// exactly maxAmountRequired using an EIP-3009 signed authorization.
type Scheme struct {
	tokenABI abi.ABI

	gasLimit uint64

	// permissiveNonceCheck treats an authorizationState RPC failure as
	// "nonce unused" instead of the default "assume used".
	permissiveNonceCheck bool

	// waitMined controls whether Settle blocks until the transaction is
	// mined. Disabled in tests that stub the RPC endpoint.
	waitMined bool
}

// Option configures a Scheme.
type Option func(*Scheme)

// WithGasLimit overrides the gas limit used for settlement transactions.
func WithGasLimit(limit uint64) Option {
	return func(s *Scheme) { s.gasLimit = limit }
}

// WithPermissiveNonceCheck makes Verify treat authorizationState RPC
// failures as "nonce unused". The default assumes a nonce is used when its
// state cannot be read.
func WithPermissiveNonceCheck() Option {
	return func(s *Scheme) { s.permissiveNonceCheck = true }
}

// WithoutReceiptWait makes Settle return as soon as the transaction has been
// accepted by the RPC node instead of waiting for it to be mined.
func WithoutReceiptWait() Option {
	return func(s *Scheme) { s.waitMined = false }
}

// New creates the "exact" EVM scheme.
func New(opts ...Option) *Scheme {
	parsed, err := abi.JSON(strings.NewReader(eip3009ABI))
	if err != nil {
		// The ABI is a compile-time constant.
		panic(fmt.Sprintf("exactevm: bad embedded ABI: %v", err))
	}
	s := &Scheme{
		tokenABI:  parsed,
		gasLimit:  defaultGasLimit,
		waitMined: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns "exact".
func (s *Scheme) Name() string {
	return SchemeName
}

// GeneratePayload builds and signs an EIP-3009 transfer authorization for
// the given requirements. The RPC endpoint is consulted once, for the chain
// ID that anchors the EIP-712 domain.
func (s *Scheme) GeneratePayload(ctx context.Context, requirements *x402.PaymentRequirements, payerKey *ecdsa.PrivateKey, rpcURL string) (*x402.PaymentPayload, error) {
	to, err := x402.ParseAddress(requirements.PayTo)
	if err != nil {
		return nil, err
	}
	value, err := x402.ParseAmount(requirements.MaxAmountRequired)
	if err != nil {
		return nil, err
	}
	asset, err := x402.ParseAddress(requirements.Asset)
	if err != nil {
		return nil, err
	}
	from := crypto.PubkeyToAddress(payerKey.PublicKey)

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeNetworkError, "failed to connect to RPC", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeNetworkError, "failed to fetch chain ID", err)
	}

	nonceHex, err := x402.GenerateNonce()
	if err != nil {
		return nil, err
	}
	nonce, err := x402.ParseNonce(nonceHex)
	if err != nil {
		return nil, err
	}

	now := x402.CurrentTimestamp()
	validAfter := new(big.Int).SetUint64(now - clockSkewAllowance)
	validBefore := new(big.Int).SetUint64(now + requirements.MaxTimeoutSeconds)

	name, version := domainParams(requirements)
	domain := DomainSeparator(asset, chainID, name, version)
	digest := AuthorizationDigest(from, to, value, validAfter, validBefore, nonce, domain)

	sig, err := SignDigest(digest, payerKey)
	if err != nil {
		return nil, err
	}

	payload := &x402.PaymentPayload{
		X402Version: x402.X402Version,
		Scheme:      SchemeName,
		Network:     requirements.Network,
	}
	auth := &x402.TransferAuthorization{
		From:        from.Hex(),
		To:          to.Hex(),
		Value:       value.String(),
		ValidAfter:  validAfter.String(),
		ValidBefore: validBefore.String(),
		Nonce:       nonceHex,
		Signature:   "0x" + common.Bytes2Hex(sig),
	}
	if err := payload.SetAuthorization(auth); err != nil {
		return nil, err
	}
	return payload, nil
}

// Verify checks a payment payload against requirements. Semantic mismatches
// (wrong scheme, network, recipient, amount, expired window, malformed
// signature, signer mismatch) return (false, nil). Malformed payloads,
// consumed nonces, and RPC failures return errors; nonce replay is reported
// as x402.ErrNonceUsed.
func (s *Scheme) Verify(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements, rpcURL string) (bool, error) {
	auth, err := payload.Authorization()
	if err != nil {
		return false, err
	}

	if payload.X402Version != x402.X402Version {
		return false, nil
	}
	if payload.Scheme != SchemeName {
		return false, nil
	}
	if payload.Network != requirements.Network {
		return false, nil
	}

	from, err := x402.ParseAddress(auth.From)
	if err != nil {
		return false, err
	}
	to, err := x402.ParseAddress(auth.To)
	if err != nil {
		return false, err
	}
	value, err := x402.ParseAmount(auth.Value)
	if err != nil {
		return false, err
	}
	expectedTo, err := x402.ParseAddress(requirements.PayTo)
	if err != nil {
		return false, err
	}
	expectedValue, err := x402.ParseAmount(requirements.MaxAmountRequired)
	if err != nil {
		return false, err
	}
	asset, err := x402.ParseAddress(requirements.Asset)
	if err != nil {
		return false, err
	}

	if to != expectedTo {
		return false, nil
	}
	if value.Cmp(expectedValue) != 0 {
		return false, nil
	}

	validAfter, err := x402.ParseTimestamp(auth.ValidAfter)
	if err != nil {
		return false, err
	}
	validBefore, err := x402.ParseTimestamp(auth.ValidBefore)
	if err != nil {
		return false, err
	}
	if !x402.IsTimestampValid(x402.CurrentTimestamp(), validAfter, validBefore) {
		return false, nil
	}

	nonce, err := x402.ParseNonce(auth.Nonce)
	if err != nil {
		return false, err
	}
	sig, err := x402.ParseSignature(auth.Signature)
	if err != nil {
		// A signature of the wrong shape can never recover the payer.
		return false, nil
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return false, x402.NewPaymentError(x402.ErrCodeNetworkError, "failed to connect to RPC", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return false, x402.NewPaymentError(x402.ErrCodeNetworkError, "failed to fetch chain ID", err)
	}

	used, err := s.nonceUsedOnChain(ctx, client, asset, from, nonce)
	if err != nil {
		if !s.permissiveNonceCheck {
			// Cannot prove the nonce is fresh, refuse to vouch for it.
			used = true
		} else {
			used = false
		}
	}
	if used {
		return false, x402.NewPaymentError(x402.ErrCodeNonceUsed,
			fmt.Sprintf("authorization nonce %s already used", auth.Nonce), x402.ErrNonceUsed)
	}

	name, version := domainParams(requirements)
	domain := DomainSeparator(asset, chainID, name, version)
	digest := AuthorizationDigest(from, to, value,
		new(big.Int).SetUint64(validAfter), new(big.Int).SetUint64(validBefore), nonce, domain)

	recovered, err := RecoverSigner(digest, sig)
	if err != nil {
		return false, err
	}
	return recovered == from, nil
}

// Settle submits transferWithAuthorization to the token contract, paying gas
// from the facilitator's key, and returns the transaction hash.
func (s *Scheme) Settle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements, rpcURL string, facilitatorKey *ecdsa.PrivateKey) (string, error) {
	auth, err := payload.Authorization()
	if err != nil {
		return "", err
	}

	from, err := x402.ParseAddress(auth.From)
	if err != nil {
		return "", err
	}
	to, err := x402.ParseAddress(auth.To)
	if err != nil {
		return "", err
	}
	value, err := x402.ParseAmount(auth.Value)
	if err != nil {
		return "", err
	}
	validAfter, err := x402.ParseAmount(auth.ValidAfter)
	if err != nil {
		return "", err
	}
	validBefore, err := x402.ParseAmount(auth.ValidBefore)
	if err != nil {
		return "", err
	}
	nonce, err := x402.ParseNonce(auth.Nonce)
	if err != nil {
		return "", err
	}
	sig, err := x402.ParseSignature(auth.Signature)
	if err != nil {
		return "", err
	}
	asset, err := x402.ParseAddress(requirements.Asset)
	if err != nil {
		return "", err
	}

	var r, ss [32]byte
	copy(r[:], sig[0:32])
	copy(ss[:], sig[32:64])
	v := sig[64]
	if v < 27 {
		v += 27
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return "", x402.NewPaymentError(x402.ErrCodeNetworkError, "failed to connect to RPC", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return "", x402.NewPaymentError(x402.ErrCodeNetworkError, "failed to fetch chain ID", err)
	}

	data, err := s.tokenABI.Pack("transferWithAuthorization",
		from, to, value, validAfter, validBefore, nonce, v, r, ss)
	if err != nil {
		return "", x402.NewPaymentError(x402.ErrCodeSettlementFailed, "failed to pack transferWithAuthorization", err)
	}

	facilitatorAddr := crypto.PubkeyToAddress(facilitatorKey.PublicKey)
	txNonce, err := client.PendingNonceAt(ctx, facilitatorAddr)
	if err != nil {
		return "", x402.NewPaymentError(x402.ErrCodeSettlementFailed, "failed to fetch account nonce", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", x402.NewPaymentError(x402.ErrCodeSettlementFailed, "failed to fetch gas price", err)
	}

	tx := types.NewTransaction(txNonce, asset, big.NewInt(0), s.gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), facilitatorKey)
	if err != nil {
		return "", x402.NewPaymentError(x402.ErrCodeSettlementFailed, "failed to sign settlement transaction", err)
	}
	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return "", x402.NewPaymentError(x402.ErrCodeSettlementFailed, "failed to submit settlement transaction", err)
	}

	if s.waitMined {
		receipt, err := bind.WaitMined(ctx, client, signedTx)
		if err != nil {
			return "", x402.NewPaymentError(x402.ErrCodeSettlementFailed, "failed waiting for settlement receipt", err)
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return "", x402.NewPaymentError(x402.ErrCodeSettlementFailed,
				fmt.Sprintf("settlement transaction %s reverted", signedTx.Hash().Hex()), x402.ErrSettlementFailed)
		}
	}
	return signedTx.Hash().Hex(), nil
}

// nonceUsedOnChain calls the token's authorizationState view to check
// whether the authorizer has already consumed the nonce.
func (s *Scheme) nonceUsedOnChain(ctx context.Context, client *ethclient.Client, token, authorizer common.Address, nonce [32]byte) (bool, error) {
	data, err := s.tokenABI.Pack("authorizationState", authorizer, nonce)
	if err != nil {
		return false, err
	}
	result, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return false, err
	}
	var used bool
	if err := s.tokenABI.UnpackIntoInterface(&used, "authorizationState", result); err != nil {
		return false, err
	}
	return used, nil
}
