// Package acksp is a client for the ACKSP key registry contract: accounts
// publish rotating secp256k1 key pairs (optionally self-encrypted) on-chain
// and other parties resolve the key that is valid for an address at a
// given instant.
package acksp

import (
	"bytes"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Defaults
const (
	DefaultValidity            = 360 * 24 * time.Hour
	DefaultConfirmTimeout      = 5 * time.Minute
	DefaultReceiptPollInterval = 2 * time.Second
	DefaultRecoverConcurrency  = 8
	DefaultSecp256k1Path       = "secp256k1"
	DefaultTransitPath         = "transit"
	DefaultHTTPTimeout         = 30 * time.Second
	DefaultStoreVersion        = 1
)

// Registry contract entry points.
const (
	MethodGetKeys          = "get_keys"
	MethodGetKeyAtTime     = "get_key_timestamp"
	MethodAddKey           = "add_key"
	CompressedPubKeyLength = 33
)

// Config holds connection settings for the registry and optional OpenBao backend.
type Config struct {
	RPCURL              string         // Ethereum JSON-RPC endpoint
	ContractAddress     common.Address // Registry contract
	ChainID             *big.Int       // Optional: fetched from the node when nil
	ConfirmTimeout      time.Duration  // Upper bound for WaitForConfirmation
	ReceiptPollInterval time.Duration  // Receipt polling period
	RecoverConcurrency  int            // Parallel decryptions in RecoverAllPrivateCapabilities

	BaoAddr       string        // Optional: OpenBao server address
	BaoToken      string        // Optional: OpenBao token
	BaoNamespace  string        // Optional: OpenBao namespace
	Secp256k1Path string        // secp256k1 plugin mount (default: "secp256k1")
	TransitPath   string        // transit engine mount (default: "transit")
	HTTPTimeout   time.Duration // OpenBao HTTP timeout
	SkipTLSVerify bool          // INSECURE: skip TLS verification

	StorePath string // Optional: local KeyStore file
}

// WithDefaults returns Config with default values applied.
func (c Config) WithDefaults() Config {
	if c.ConfirmTimeout == 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.ReceiptPollInterval == 0 {
		c.ReceiptPollInterval = DefaultReceiptPollInterval
	}
	if c.RecoverConcurrency <= 0 {
		c.RecoverConcurrency = DefaultRecoverConcurrency
	}
	if c.Secp256k1Path == "" {
		c.Secp256k1Path = DefaultSecp256k1Path
	}
	if c.TransitPath == "" {
		c.TransitPath = DefaultTransitPath
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	return c
}

// Validate checks required configuration fields.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return ErrMissingRPCURL
	}
	if c.ContractAddress == (common.Address{}) {
		return ErrMissingContract
	}
	return nil
}

// ValidateBao checks the fields needed to talk to OpenBao.
func (c *Config) ValidateBao() error {
	if c.BaoAddr == "" {
		return ErrMissingBaoAddr
	}
	if c.BaoToken == "" {
		return ErrMissingBaoToken
	}
	return nil
}

// PublicKey is a 33-byte compressed secp256k1 public key.
type PublicKey []byte

// Hex returns the 0x-prefixed hex encoding.
func (p PublicKey) Hex() string {
	return hexutil.Encode(p)
}

func (p PublicKey) String() string {
	return p.Hex()
}

// Equal reports whether both keys hold the same bytes.
func (p PublicKey) Equal(other PublicKey) bool {
	return bytes.Equal(p, other)
}

// ECDSA decompresses the key.
func (p PublicKey) ECDSA() (*ecdsa.PublicKey, error) {
	if len(p) != CompressedPubKeyLength {
		return nil, ErrInvalidPublicKey
	}
	pub, err := crypto.DecompressPubkey(p)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return pub, nil
}

// Address derives the Ethereum address of the key.
func (p PublicKey) Address() (common.Address, error) {
	pub, err := p.ECDSA()
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// KeyRecord is one registry entry. The window is half-open: [ValidFrom, ValidTo).
type KeyRecord struct {
	PublicKey           PublicKey
	EncryptedPrivateKey []byte
	ValidFrom           uint64 // unix ms
	ValidTo             uint64 // unix ms
}

// Contains reports whether ts falls inside the validity window.
func (r KeyRecord) Contains(ts uint64) bool {
	return r.ValidFrom <= ts && ts < r.ValidTo
}

// Escrowed reports whether an encrypted private key was published.
func (r KeyRecord) Escrowed() bool {
	return len(r.EncryptedPrivateKey) > 0
}

// PublishOptions configures Publish. Zero values select the defaults.
type PublishOptions struct {
	ValidTill uint64        // unix ms; 0 means now + DefaultValidity
	Encryptor SelfEncryptor // nil disables escrow
}

// PublishedKey is the result of a confirmed Publish.
type PublishedKey struct {
	PrivateKey          *ecdsa.PrivateKey
	PublicKey           PublicKey
	EncryptedPrivateKey []byte
	ValidTill           uint64
	TxHash              common.Hash
}

// StoredKey is a published key retained in the local KeyStore.
type StoredKey struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"`
	PublicKey  string    `json:"public_key"`
	PrivateKey string    `json:"private_key"`
	ValidTill  uint64    `json:"valid_till"`
	TxHash     string    `json:"tx_hash"`
	CreatedAt  time.Time `json:"created_at"`
}

// StoreData is the persisted store format.
type StoreData struct {
	Version int                   `json:"version"`
	Keys    map[string]*StoredKey `json:"keys"`
}

// KeyInfo is public key information returned by the OpenBao secp256k1 plugin.
type KeyInfo struct {
	Name       string    `json:"name"`
	PublicKey  string    `json:"public_key"`
	Address    string    `json:"address"`
	Exportable bool      `json:"exportable"`
	CreatedAt  time.Time `json:"created_at"`
}

// SignResponse from OpenBao signing.
type SignResponse struct {
	Signature  string `json:"signature"`
	PublicKey  string `json:"public_key"`
	KeyVersion int    `json:"key_version"`
}
