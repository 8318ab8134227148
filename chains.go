package x402

import (
	"fmt"
	"strconv"
)

// ChainConfig contains chain-specific configuration for USDC payments.
// Networks are identified by their decimal chain ID rendered as a string.
type ChainConfig struct {
	// NetworkID is the decimal chain ID as a string (e.g., "8453").
	NetworkID string

	// Name is the human-readable chain name.
	Name string

	// USDCAddress is the official Circle USDC contract address.
	USDCAddress string

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals uint8

	// EIP712Name is the token's EIP-712 domain parameter "name".
	EIP712Name string

	// EIP712Version is the token's EIP-712 domain parameter "version".
	EIP712Version string
}

// Mainnet chain configurations.
var (
	// BaseMainnet is the configuration for Base mainnet (chain ID 8453).
	BaseMainnet = ChainConfig{
		NetworkID:     "8453",
		Name:          "base",
		USDCAddress:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:      6,
		EIP712Name:    "USD Coin",
		EIP712Version: "2",
	}

	// PolygonMainnet is the configuration for Polygon PoS mainnet (chain ID 137).
	PolygonMainnet = ChainConfig{
		NetworkID:     "137",
		Name:          "polygon",
		USDCAddress:   "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		Decimals:      6,
		EIP712Name:    "USD Coin",
		EIP712Version: "2",
	}

	// AvalancheMainnet is the configuration for Avalanche C-Chain (chain ID 43114).
	AvalancheMainnet = ChainConfig{
		NetworkID:     "43114",
		Name:          "avalanche",
		USDCAddress:   "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		Decimals:      6,
		EIP712Name:    "USD Coin",
		EIP712Version: "2",
	}
)

// Testnet chain configurations.
var (
	// BaseSepolia is the configuration for Base Sepolia (chain ID 84532).
	BaseSepolia = ChainConfig{
		NetworkID:     "84532",
		Name:          "base-sepolia",
		USDCAddress:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:      6,
		EIP712Name:    "USDC",
		EIP712Version: "2",
	}

	// PolygonAmoy is the configuration for Polygon Amoy (chain ID 80002).
	PolygonAmoy = ChainConfig{
		NetworkID:     "80002",
		Name:          "polygon-amoy",
		USDCAddress:   "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
		Decimals:      6,
		EIP712Name:    "USDC",
		EIP712Version: "2",
	}

	// AvalancheFuji is the configuration for Avalanche Fuji (chain ID 43113).
	AvalancheFuji = ChainConfig{
		NetworkID:     "43113",
		Name:          "avalanche-fuji",
		USDCAddress:   "0x5425890298aed601595a70AB815c96711a31Bc65",
		Decimals:      6,
		EIP712Name:    "USD Coin",
		EIP712Version: "2",
	}
)

var knownChains = map[string]ChainConfig{
	BaseMainnet.NetworkID:      BaseMainnet,
	PolygonMainnet.NetworkID:   PolygonMainnet,
	AvalancheMainnet.NetworkID: AvalancheMainnet,
	BaseSepolia.NetworkID:      BaseSepolia,
	PolygonAmoy.NetworkID:      PolygonAmoy,
	AvalancheFuji.NetworkID:    AvalancheFuji,
}

// ChainByNetwork looks up a known chain configuration by network identifier.
func ChainByNetwork(networkID string) (ChainConfig, error) {
	cfg, ok := knownChains[networkID]
	if !ok {
		return ChainConfig{}, NewPaymentError(ErrCodeUnsupportedNetwork,
			fmt.Sprintf("unknown network %q", networkID), ErrUnsupportedNetwork)
	}
	return cfg, nil
}

// ChainID parses the network identifier into its numeric chain ID.
func (c ChainConfig) ChainID() (uint64, error) {
	id, err := strconv.ParseUint(c.NetworkID, 10, 64)
	if err != nil {
		return 0, NewPaymentError(ErrCodeUnsupportedNetwork,
			fmt.Sprintf("network %q is not a decimal chain ID", c.NetworkID), err)
	}
	return id, nil
}

// USDCRequirementConfig is the configuration for creating a USDC
// PaymentRequirements. This is a convenience helper for USDC payments. For
// other tokens, construct PaymentRequirements directly.
type USDCRequirementConfig struct {
	// Chain is the chain configuration with USDC details (required).
	Chain ChainConfig

	// AmountUSD is the price in US dollars (e.g., 0.01 for one cent).
	AmountUSD float64

	// RecipientAddress is the payment recipient address (required).
	RecipientAddress string

	// Resource is the protected resource URL or identifier.
	Resource string

	// Description is an optional human-readable description.
	Description string

	// Scheme is the payment scheme (optional, defaults to "exact").
	Scheme string

	// MaxTimeoutSeconds is the maximum payment timeout (optional, defaults to 300).
	MaxTimeoutSeconds uint64

	// MimeType is the response MIME type (optional, defaults to "application/json").
	MimeType string
}

// NewUSDCRequirement creates a PaymentRequirements for USDC from the given
// configuration. It validates inputs, converts the dollar amount to atomic
// units at 1 USDC = 1 USD, applies defaults for optional fields, and
// populates the EIP-712 domain parameters in Extra.
func NewUSDCRequirement(config USDCRequirementConfig) (PaymentRequirements, error) {
	if config.RecipientAddress == "" {
		return PaymentRequirements{}, NewPaymentError(ErrCodeInvalidAddress,
			"recipient address cannot be empty", ErrInvalidAddress)
	}
	if _, err := ParseAddress(config.RecipientAddress); err != nil {
		return PaymentRequirements{}, err
	}
	if config.AmountUSD < 0 {
		return PaymentRequirements{}, NewPaymentError(ErrCodeInvalidAmount,
			"amount must be non-negative", ErrInvalidAmount)
	}

	amount := DollarToTokenAmount(config.AmountUSD, 1.0, int(config.Chain.Decimals))

	scheme := config.Scheme
	if scheme == "" {
		scheme = "exact"
	}
	maxTimeout := config.MaxTimeoutSeconds
	if maxTimeout == 0 {
		maxTimeout = 300
	}
	mimeType := config.MimeType
	if mimeType == "" {
		mimeType = "application/json"
	}

	req := PaymentRequirements{
		Scheme:            scheme,
		Network:           config.Chain.NetworkID,
		MaxAmountRequired: amount,
		Resource:          config.Resource,
		Description:       config.Description,
		MimeType:          mimeType,
		PayTo:             config.RecipientAddress,
		MaxTimeoutSeconds: maxTimeout,
		Asset:             config.Chain.USDCAddress,
	}
	if config.Chain.EIP712Name != "" {
		req.Extra = map[string]interface{}{
			"name":    config.Chain.EIP712Name,
			"version": config.Chain.EIP712Version,
		}
	}
	return req, nil
}
