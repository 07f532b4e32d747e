package acksp

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer authorizes registry transactions for one account.
type Signer interface {
	Address() common.Address
	SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
}

// LocalSigner signs with an in-memory ECDSA key.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

var _ Signer = (*LocalSigner)(nil)

// NewLocalSigner creates a signer for chainID.
func NewLocalSigner(key *ecdsa.PrivateKey, chainID *big.Int) *LocalSigner {
	return &LocalSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}
}

// NewLocalSignerFromHex parses a hex private key, with or without 0x.
func NewLocalSignerFromHex(hexKey string, chainID *big.Int) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return NewLocalSigner(key, chainID), nil
}

// Address returns the signing account.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// Encryptor returns an ECIES self-encryptor bound to the signing key, so
// an account can escrow published keys under its own identity.
func (s *LocalSigner) Encryptor() *ECIESEncryptor {
	return NewECIESEncryptor(s.key)
}

// SignTransaction signs tx for the configured chain.
func (s *LocalSigner) SignTransaction(_ context.Context, tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
}

// BaoSigner signs through the OpenBao secp256k1 plugin. The private key
// never leaves OpenBao.
type BaoSigner struct {
	client  *BaoClient
	keyName string
	address common.Address
	chainID *big.Int
}

var _ Signer = (*BaoSigner)(nil)

// NewBaoSigner looks up keyName in OpenBao and derives its Ethereum address.
func NewBaoSigner(ctx context.Context, client *BaoClient, keyName string, chainID *big.Int) (*BaoSigner, error) {
	info, err := client.GetKey(ctx, keyName)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(info.PublicKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode public key of %q: %w", keyName, err)
	}
	addr, err := PublicKey(raw).Address()
	if err != nil {
		return nil, fmt.Errorf("public key of %q: %w", keyName, err)
	}
	return &BaoSigner{
		client:  client,
		keyName: keyName,
		address: addr,
		chainID: chainID,
	}, nil
}

// Address returns the signing account.
func (s *BaoSigner) Address() common.Address {
	return s.address
}

// SignTransaction sends the signing hash to OpenBao and attaches the
// signature. OpenBao returns R||S only, so the recovery id is found by
// matching the recovered address.
func (s *BaoSigner) SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(s.chainID)
	hash := signer.Hash(tx)

	rs, err := s.client.Sign(ctx, s.keyName, hash[:])
	if err != nil {
		return nil, err
	}

	sig := make([]byte, 65)
	copy(sig, rs)
	for v := byte(0); v < 2; v++ {
		sig[64] = v
		pub, err := crypto.SigToPub(hash[:], sig)
		if err != nil {
			continue
		}
		if crypto.PubkeyToAddress(*pub) == s.address {
			return tx.WithSignature(signer, sig)
		}
	}
	return nil, fmt.Errorf("sign with %q: %w", s.keyName, ErrInvalidSignature)
}
