package acksp

import (
	"context"
	"io"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
)

// ClientOption configures the clients.
type ClientOption func(*clientOptions)

type clientOptions struct {
	clock       Clock
	logger      *slog.Logger
	concurrency int
	store       *KeyStore
}

// WithClock sets the source of "now". Defaults to SystemClock.
func WithClock(c Clock) ClientOption {
	return func(o *clientOptions) { o.clock = c }
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// WithRecoverConcurrency bounds parallel decryptions.
func WithRecoverConcurrency(n int) ClientOption {
	return func(o *clientOptions) { o.concurrency = n }
}

// WithKeyStore retains every published key in s.
func WithKeyStore(s *KeyStore) ClientOption {
	return func(o *clientOptions) { o.store = s }
}

func resolveOptions(opts []ClientOption) clientOptions {
	o := clientOptions{
		clock:       SystemClock,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		concurrency: DefaultRecoverConcurrency,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.concurrency <= 0 {
		o.concurrency = DefaultRecoverConcurrency
	}
	return o
}

// FullClient combines a ReadOnlyClient and a WriteOnlyClient.
type FullClient struct {
	ro *ReadOnlyClient
	wo *WriteOnlyClient
}

// NewFullClient creates a client that can both read and publish.
func NewFullClient(ledger Ledger, signer Signer, opts ...ClientOption) *FullClient {
	return &FullClient{
		ro: NewReadOnlyClient(ledger, opts...),
		wo: NewWriteOnlyClient(ledger, signer, opts...),
	}
}

// Address returns the publishing account.
func (c *FullClient) Address() common.Address {
	return c.wo.Address()
}

// FetchAllRecords returns every record owner has published, in registry order.
func (c *FullClient) FetchAllRecords(ctx context.Context, owner common.Address) ([]KeyRecord, error) {
	return c.ro.FetchAllRecords(ctx, owner)
}

// FetchValidRecord returns the record of owner valid at ts.
func (c *FullClient) FetchValidRecord(ctx context.Context, owner common.Address, ts uint64) (KeyRecord, error) {
	return c.ro.FetchValidRecord(ctx, owner, ts)
}

// FetchAllPublicKeys returns the public keys of all records of owner.
func (c *FullClient) FetchAllPublicKeys(ctx context.Context, owner common.Address) ([]PublicKey, error) {
	return c.ro.FetchAllPublicKeys(ctx, owner)
}

// FetchCurrentPublicKey returns the public key of owner valid now.
func (c *FullClient) FetchCurrentPublicKey(ctx context.Context, owner common.Address) (PublicKey, error) {
	return c.ro.FetchCurrentPublicKey(ctx, owner)
}

// FetchPublicKeyAt returns the public key of owner valid at ts.
func (c *FullClient) FetchPublicKeyAt(ctx context.Context, owner common.Address, ts uint64) (PublicKey, error) {
	return c.ro.FetchPublicKeyAt(ctx, owner, ts)
}

// RecoverPrivateCapability decrypts the escrowed key of owner valid now.
func (c *FullClient) RecoverPrivateCapability(ctx context.Context, owner common.Address, decryptor SelfEncryptor) (*Capability, error) {
	return c.ro.RecoverPrivateCapability(ctx, owner, decryptor)
}

// RecoverPrivateCapabilityAt decrypts the escrowed key of owner valid at ts.
func (c *FullClient) RecoverPrivateCapabilityAt(ctx context.Context, owner common.Address, decryptor SelfEncryptor, ts uint64) (*Capability, error) {
	return c.ro.RecoverPrivateCapabilityAt(ctx, owner, decryptor, ts)
}

// RecoverAllPrivateCapabilities decrypts every escrowed key of owner. It
// fails as a whole if any record cannot be recovered.
func (c *FullClient) RecoverAllPrivateCapabilities(ctx context.Context, owner common.Address, decryptor SelfEncryptor) ([]*Capability, error) {
	return c.ro.RecoverAllPrivateCapabilities(ctx, owner, decryptor)
}

// Publish generates and registers a new key for the signer. See
// WriteOnlyClient.Publish.
func (c *FullClient) Publish(ctx context.Context, opts PublishOptions) (*PublishedKey, error) {
	return c.wo.Publish(ctx, opts)
}
