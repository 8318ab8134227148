package http

import (
	"crypto/ecdsa"
	"math/big"
	"net/http"

	"github.com/x402pay/x402-go"
	"github.com/x402pay/x402-go/keys"
	"github.com/x402pay/x402-go/scheme"
)

// Client is an HTTP client that pays x402 challenges automatically. It
// wraps a standard http.Client whose transport handles the 402 flow.
type Client struct {
	*http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// NewClient creates an x402-enabled HTTP client. A signing key is
// required, supplied via WithKey, WithPrivateKey, WithKeystore, or
// WithMnemonic.
func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{Client: &http.Client{}}
	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}
	if client.transport().Key == nil {
		return nil, x402.ErrInvalidKey
	}
	return client, nil
}

// transport returns the payment transport, wrapping the current one if
// needed.
func (c *Client) transport() *Transport {
	if t, ok := c.Transport.(*Transport); ok {
		return t
	}
	t := &Transport{Base: c.Transport}
	c.Transport = t
	return t
}

// WithHTTPClient sets the underlying HTTP client. Its transport is
// wrapped with payment handling, carrying over any settings applied by
// earlier options.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) error {
		previous := c.transport()
		c.Client = httpClient
		wrapped := c.transport()
		wrapped.Key = previous.Key
		wrapped.RPCURL = previous.RPCURL
		wrapped.Registry = previous.Registry
		wrapped.PreferredScheme = previous.PreferredScheme
		wrapped.PreferredNetwork = previous.PreferredNetwork
		wrapped.MaxAmount = previous.MaxAmount
		return nil
	}
}

// WithKey sets the signing key directly.
func WithKey(key *ecdsa.PrivateKey) ClientOption {
	return func(c *Client) error {
		c.transport().Key = key
		return nil
	}
}

// WithPrivateKey sets the signing key from a hex string.
func WithPrivateKey(hexKey string) ClientOption {
	return func(c *Client) error {
		key, err := keys.FromHex(hexKey)
		if err != nil {
			return err
		}
		c.transport().Key = key
		return nil
	}
}

// WithKeystore loads the signing key from an encrypted keystore file.
func WithKeystore(path, password string) ClientOption {
	return func(c *Client) error {
		key, err := keys.FromKeystore(path, password)
		if err != nil {
			return err
		}
		c.transport().Key = key
		return nil
	}
}

// WithMnemonic derives the signing key from a BIP-39 mnemonic at the
// given account index.
func WithMnemonic(mnemonic string, index uint32) ClientOption {
	return func(c *Client) error {
		key, err := keys.FromMnemonic(mnemonic, index)
		if err != nil {
			return err
		}
		c.transport().Key = key
		return nil
	}
}

// WithRPCURL sets the EVM node endpoint used when signing payments.
func WithRPCURL(rpcURL string) ClientOption {
	return func(c *Client) error {
		c.transport().RPCURL = rpcURL
		return nil
	}
}

// WithScheme sets the preferred payment scheme. Defaults to "exact".
func WithScheme(name string) ClientOption {
	return func(c *Client) error {
		c.transport().PreferredScheme = name
		return nil
	}
}

// WithNetwork restricts payments to one network.
func WithNetwork(network string) ClientOption {
	return func(c *Client) error {
		c.transport().PreferredNetwork = network
		return nil
	}
}

// WithRegistry sets the scheme registry. Defaults to the built-in
// registry.
func WithRegistry(r *scheme.Registry) ClientOption {
	return func(c *Client) error {
		c.transport().Registry = r
		return nil
	}
}

// WithMaxAmount caps the atomic token amount the client will pay per
// request.
func WithMaxAmount(amount string) ClientOption {
	return func(c *Client) error {
		limit, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return x402.ErrInvalidAmount
		}
		c.transport().MaxAmount = limit
		return nil
	}
}
