// Package keys loads ECDSA signing keys from the places operators keep
// them: raw hex strings, encrypted geth keystore files, and BIP-39
// mnemonic phrases.
package keys

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/x402pay/x402-go"
)

// FromHex parses a hex-encoded private key, with or without a 0x prefix.
func FromHex(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidKey, err)
	}
	return key, nil
}

// FromKeystore decrypts a private key from a web3 secret storage (v3)
// keystore file.
func FromKeystore(path, password string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidKeystore, err)
	}

	var keyJSON struct {
		Crypto keystore.CryptoJSON `json:"crypto"`
	}
	if err := json.Unmarshal(data, &keyJSON); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON format", x402.ErrInvalidKeystore)
	}

	raw, err := keystore.DecryptDataV3(keyJSON.Crypto, password)
	if err != nil {
		return nil, fmt.Errorf("%w: decryption failed", x402.ErrInvalidKeystore)
	}

	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid private key", x402.ErrInvalidKeystore)
	}
	return key, nil
}

// FromMnemonic derives a private key from a BIP-39 mnemonic at the
// standard Ethereum path m/44'/60'/0'/0/{index}.
func FromMnemonic(mnemonic string, index uint32) (*ecdsa.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, x402.ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, "")
	node, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidMnemonic, err)
	}

	path := []uint32{
		bip32.FirstHardenedChild + 44, // purpose
		bip32.FirstHardenedChild + 60, // Ethereum coin type
		bip32.FirstHardenedChild,      // account 0
		0,                             // external chain
		index,
	}
	for _, step := range path {
		node, err = node.NewChildKey(step)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", x402.ErrInvalidMnemonic, err)
		}
	}

	key, err := crypto.ToECDSA(node.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidMnemonic, err)
	}
	return key, nil
}

// Address returns the Ethereum address controlled by key.
func Address(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}
