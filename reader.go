package acksp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// ReadOnlyClient resolves registry keys. It needs no signing authority.
type ReadOnlyClient struct {
	ledger      Ledger
	clock       Clock
	logger      *slog.Logger
	concurrency int
}

// NewReadOnlyClient creates a reader over ledger.
func NewReadOnlyClient(ledger Ledger, opts ...ClientOption) *ReadOnlyClient {
	o := resolveOptions(opts)
	return &ReadOnlyClient{
		ledger:      ledger,
		clock:       o.clock,
		logger:      o.logger,
		concurrency: o.concurrency,
	}
}

// FetchAllRecords returns every record published by owner, in registry order.
func (c *ReadOnlyClient) FetchAllRecords(ctx context.Context, owner common.Address) ([]KeyRecord, error) {
	out, err := c.ledger.View(ctx, MethodGetKeys, owner)
	if err != nil {
		return nil, err
	}
	return decodeRecords(MethodGetKeys, out)
}

// FetchValidRecord returns the record of owner whose window contains ts.
// If the registry reports several, the most recently started one wins.
func (c *ReadOnlyClient) FetchValidRecord(ctx context.Context, owner common.Address, ts uint64) (KeyRecord, error) {
	out, err := c.ledger.View(ctx, MethodGetKeyAtTime, owner, ts)
	if err != nil {
		return KeyRecord{}, err
	}
	records, err := decodeRecords(MethodGetKeyAtTime, out)
	if err != nil {
		return KeyRecord{}, err
	}
	return selectValid(records, ts)
}

func selectValid(records []KeyRecord, ts uint64) (KeyRecord, error) {
	best := -1
	for i, r := range records {
		if !r.Contains(ts) {
			continue
		}
		if best < 0 || r.ValidFrom > records[best].ValidFrom {
			best = i
		}
	}
	if best < 0 {
		return KeyRecord{}, ErrKeyNotFound
	}
	return records[best], nil
}

// FetchAllPublicKeys projects FetchAllRecords onto public keys.
func (c *ReadOnlyClient) FetchAllPublicKeys(ctx context.Context, owner common.Address) ([]PublicKey, error) {
	records, err := c.FetchAllRecords(ctx, owner)
	if err != nil {
		return nil, err
	}
	keys := make([]PublicKey, len(records))
	for i, r := range records {
		keys[i] = r.PublicKey
	}
	return keys, nil
}

// FetchCurrentPublicKey returns the key of owner valid now.
func (c *ReadOnlyClient) FetchCurrentPublicKey(ctx context.Context, owner common.Address) (PublicKey, error) {
	return c.FetchPublicKeyAt(ctx, owner, nowMilli(c.clock))
}

// FetchPublicKeyAt returns the key of owner valid at ts.
func (c *ReadOnlyClient) FetchPublicKeyAt(ctx context.Context, owner common.Address, ts uint64) (PublicKey, error) {
	r, err := c.FetchValidRecord(ctx, owner, ts)
	if err != nil {
		return nil, err
	}
	return r.PublicKey, nil
}

// RecoverPrivateCapability decrypts the escrowed key of owner valid now.
func (c *ReadOnlyClient) RecoverPrivateCapability(ctx context.Context, owner common.Address, decryptor SelfEncryptor) (*Capability, error) {
	return c.RecoverPrivateCapabilityAt(ctx, owner, decryptor, nowMilli(c.clock))
}

// RecoverPrivateCapabilityAt decrypts the escrowed key of owner valid at ts.
func (c *ReadOnlyClient) RecoverPrivateCapabilityAt(ctx context.Context, owner common.Address, decryptor SelfEncryptor, ts uint64) (*Capability, error) {
	r, err := c.FetchValidRecord(ctx, owner, ts)
	if err != nil {
		return nil, err
	}
	return recoverRecord(ctx, r, decryptor)
}

// RecoverAllPrivateCapabilities decrypts every record of owner concurrently.
// The result is all-or-nothing: the first failure cancels the shared
// context and is returned as a *RecordError; results keep registry order.
func (c *ReadOnlyClient) RecoverAllPrivateCapabilities(ctx context.Context, owner common.Address, decryptor SelfEncryptor) ([]*Capability, error) {
	records, err := c.FetchAllRecords(ctx, owner)
	if err != nil {
		return nil, err
	}

	caps := make([]*Capability, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, r := range records {
		i, r := i, r
		g.Go(func() error {
			capability, err := recoverRecord(gctx, r, decryptor)
			if err != nil {
				return &RecordError{Index: i, Err: err}
			}
			caps[i] = capability
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Debug("recover all failed",
			slog.String("owner", owner.Hex()),
			slog.Int("records", len(records)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return caps, nil
}

func recoverRecord(ctx context.Context, r KeyRecord, decryptor SelfEncryptor) (*Capability, error) {
	if !r.Escrowed() {
		return nil, fmt.Errorf("%w: key %s", ErrEscrowNotAvailable, r.PublicKey.Hex())
	}
	raw, err := decryptor.DecryptSelf(ctx, r.EncryptedPrivateKey)
	if err != nil {
		return nil, err
	}
	return NewCapability(raw)
}
