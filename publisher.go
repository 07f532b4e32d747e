package acksp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// WriteOnlyClient publishes new keys for the signer's account.
type WriteOnlyClient struct {
	ledger Ledger
	signer Signer
	clock  Clock
	logger *slog.Logger
	store  *KeyStore
}

// NewWriteOnlyClient creates a publisher that signs with signer.
func NewWriteOnlyClient(ledger Ledger, signer Signer, opts ...ClientOption) *WriteOnlyClient {
	o := resolveOptions(opts)
	return &WriteOnlyClient{
		ledger: ledger,
		signer: signer,
		clock:  o.clock,
		logger: o.logger,
		store:  o.store,
	}
}

// Address returns the account keys are published for.
func (c *WriteOnlyClient) Address() common.Address {
	return c.signer.Address()
}

// Publish generates a fresh key pair, optionally escrows the private half
// through opts.Encryptor, and registers the public key until opts.ValidTill.
// It returns once the registry transaction is confirmed. A failed publish
// must be retried from scratch; the generated key is discarded.
//
// When a KeyStore is attached and saving fails after confirmation, the
// PublishedKey is returned together with the error.
func (c *WriteOnlyClient) Publish(ctx context.Context, opts PublishOptions) (*PublishedKey, error) {
	now := nowMilli(c.clock)
	validTill := opts.ValidTill
	if validTill == 0 {
		validTill = now + uint64(DefaultValidity/time.Millisecond)
	}
	if validTill <= now {
		return nil, NewValidationError("ValidTill", "must be in the future")
	}

	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	pub := PublicKey(crypto.CompressPubkey(&priv.PublicKey))

	sealed := []byte{}
	if opts.Encryptor != nil {
		sealed, err = opts.Encryptor.EncryptSelf(ctx, crypto.FromECDSA(priv))
		if err != nil {
			return nil, fmt.Errorf("escrow private key: %w", err)
		}
	}

	c.logger.Debug("publishing key",
		slog.String("owner", c.signer.Address().Hex()),
		slog.String("public_key", pub.Hex()),
		slog.Bool("escrowed", len(sealed) > 0),
		slog.Uint64("valid_till", validTill),
	)

	tx, err := c.ledger.BuildTransaction(ctx, c.signer.Address(), MethodAddKey, []byte(pub), sealed, validTill)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	signed, err := c.signer.SignTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	hash, err := c.ledger.Submit(ctx, signed)
	if err != nil {
		return nil, fmt.Errorf("submit transaction: %w", err)
	}
	receipt, err := c.ledger.WaitForConfirmation(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("confirm transaction: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s", ErrTransactionReverted, hash.Hex())
	}

	c.logger.Info("key published",
		slog.String("owner", c.signer.Address().Hex()),
		slog.String("public_key", pub.Hex()),
		slog.String("tx_hash", hash.Hex()),
	)

	published := &PublishedKey{
		PrivateKey:          priv,
		PublicKey:           pub,
		EncryptedPrivateKey: sealed,
		ValidTill:           validTill,
		TxHash:              hash,
	}
	if c.store != nil {
		if _, err := c.store.SavePublished(c.signer.Address(), published, c.clock.Now()); err != nil {
			return published, fmt.Errorf("save published key: %w", err)
		}
	}
	return published, nil
}
