package acksp

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto/ecies"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// SelfEncryptor seals data so that only its holder can open it again.
// Implementations are bound to one secret: a local key, a passphrase,
// or a key held in OpenBao.
type SelfEncryptor interface {
	EncryptSelf(ctx context.Context, plaintext []byte) ([]byte, error)
	DecryptSelf(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// ECIESEncryptor encrypts to its own secp256k1 public key.
type ECIESEncryptor struct {
	key *ecies.PrivateKey
}

var _ SelfEncryptor = (*ECIESEncryptor)(nil)

// NewECIESEncryptor binds an encryptor to key.
func NewECIESEncryptor(key *ecdsa.PrivateKey) *ECIESEncryptor {
	return &ECIESEncryptor{key: ecies.ImportECDSA(key)}
}

// EncryptSelf implements SelfEncryptor.
func (e *ECIESEncryptor) EncryptSelf(_ context.Context, plaintext []byte) ([]byte, error) {
	return ecies.Encrypt(rand.Reader, &e.key.PublicKey, plaintext, nil, nil)
}

// DecryptSelf implements SelfEncryptor.
func (e *ECIESEncryptor) DecryptSelf(_ context.Context, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: empty ciphertext", ErrDecryptionFailed)
	}
	plaintext, err := e.key.Decrypt(ciphertext, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// scrypt parameters for PassphraseEncryptor.
const (
	scryptN       = 1 << 15
	scryptR       = 8
	scryptP       = 1
	saltLength    = 16
	nonceLength   = 24
	secretKeySize = 32
)

// PassphraseEncryptor derives a secretbox key from a passphrase with scrypt.
// Ciphertext layout: salt || nonce || box.
type PassphraseEncryptor struct {
	passphrase []byte
}

var _ SelfEncryptor = (*PassphraseEncryptor)(nil)

// NewPassphraseEncryptor binds an encryptor to passphrase.
func NewPassphraseEncryptor(passphrase string) *PassphraseEncryptor {
	return &PassphraseEncryptor{passphrase: []byte(passphrase)}
}

func (e *PassphraseEncryptor) deriveKey(salt []byte) (*[secretKeySize]byte, error) {
	derived, err := scrypt.Key(e.passphrase, salt, scryptN, scryptR, scryptP, secretKeySize)
	if err != nil {
		return nil, err
	}
	var key [secretKeySize]byte
	copy(key[:], derived)
	return &key, nil
}

// EncryptSelf implements SelfEncryptor.
func (e *PassphraseEncryptor) EncryptSelf(_ context.Context, plaintext []byte) ([]byte, error) {
	header := make([]byte, saltLength+nonceLength)
	if _, err := io.ReadFull(rand.Reader, header); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	key, err := e.deriveKey(header[:saltLength])
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	var nonce [nonceLength]byte
	copy(nonce[:], header[saltLength:])
	return secretbox.Seal(header, plaintext, &nonce, key), nil
}

// DecryptSelf implements SelfEncryptor.
func (e *PassphraseEncryptor) DecryptSelf(_ context.Context, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < saltLength+nonceLength+secretbox.Overhead {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	key, err := e.deriveKey(ciphertext[:saltLength])
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	var nonce [nonceLength]byte
	copy(nonce[:], ciphertext[saltLength:saltLength+nonceLength])
	plaintext, ok := secretbox.Open(nil, ciphertext[saltLength+nonceLength:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}
	return plaintext, nil
}

// BaoTransitEncryptor escrows through an OpenBao transit key. The
// ciphertext is the transit token itself (vault:vN:...).
type BaoTransitEncryptor struct {
	client  *BaoClient
	keyName string
}

var _ SelfEncryptor = (*BaoTransitEncryptor)(nil)

// NewBaoTransitEncryptor binds an encryptor to the transit key keyName.
func NewBaoTransitEncryptor(client *BaoClient, keyName string) *BaoTransitEncryptor {
	return &BaoTransitEncryptor{client: client, keyName: keyName}
}

// EncryptSelf implements SelfEncryptor.
func (e *BaoTransitEncryptor) EncryptSelf(ctx context.Context, plaintext []byte) ([]byte, error) {
	token, err := e.client.Encrypt(ctx, e.keyName, plaintext)
	if err != nil {
		return nil, err
	}
	return []byte(token), nil
}

// DecryptSelf implements SelfEncryptor.
func (e *BaoTransitEncryptor) DecryptSelf(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: empty ciphertext", ErrDecryptionFailed)
	}
	return e.client.Decrypt(ctx, e.keyName, string(ciphertext))
}
