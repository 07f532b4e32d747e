package acksp

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
)

// Capability is the decryption capability of a recovered registry key.
// It opens messages encrypted to the key's published PublicKey and can
// itself serve as a SelfEncryptor.
type Capability struct {
	key *ecdsa.PrivateKey
	enc *ECIESEncryptor
}

var _ SelfEncryptor = (*Capability)(nil)

// NewCapability wraps raw 32-byte secp256k1 key material.
func NewCapability(raw []byte) (*Capability, error) {
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	return capabilityFromKey(key), nil
}

func capabilityFromKey(key *ecdsa.PrivateKey) *Capability {
	return &Capability{key: key, enc: NewECIESEncryptor(key)}
}

// PublicKey returns the compressed public key as published in the registry.
func (c *Capability) PublicKey() PublicKey {
	return PublicKey(crypto.CompressPubkey(&c.key.PublicKey))
}

// PrivateKey exposes the recovered key.
func (c *Capability) PrivateKey() *ecdsa.PrivateKey {
	return c.key
}

// Address returns the Ethereum address of the key.
func (c *Capability) Address() common.Address {
	return crypto.PubkeyToAddress(c.key.PublicKey)
}

// Decrypt opens a message produced by EncryptFor(c.PublicKey(), ...).
func (c *Capability) Decrypt(ciphertext []byte) ([]byte, error) {
	return c.enc.DecryptSelf(context.Background(), ciphertext)
}

// EncryptSelf implements SelfEncryptor.
func (c *Capability) EncryptSelf(ctx context.Context, plaintext []byte) ([]byte, error) {
	return c.enc.EncryptSelf(ctx, plaintext)
}

// DecryptSelf implements SelfEncryptor.
func (c *Capability) DecryptSelf(ctx context.Context, ciphertext []byte) ([]byte, error) {
	return c.enc.DecryptSelf(ctx, ciphertext)
}

// EncryptFor encrypts msg to a published registry key.
func EncryptFor(pub PublicKey, msg []byte) ([]byte, error) {
	key, err := pub.ECDSA()
	if err != nil {
		return nil, err
	}
	return ecies.Encrypt(rand.Reader, ecies.ImportECDSAPublic(key), msg, nil, nil)
}
