package acksp

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// ============================================
// Test Helpers
// ============================================

var testChainID = big.NewInt(1337)

// fakeClock is a settable Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(ms uint64) *fakeClock {
	return &fakeClock{now: time.UnixMilli(int64(ms))}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(ms uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.UnixMilli(int64(ms))
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type pendingKey struct {
	owner     common.Address
	publicKey []byte
	encrypted []byte
	validTill uint64
}

// fakeLedger is an in-memory registry. Transactions are decoded on Submit
// and become records on WaitForConfirmation, stamped with the clock.
type fakeLedger struct {
	mu      sync.Mutex
	clock   Clock
	records map[common.Address][]KeyRecord
	pending map[common.Hash]pendingKey
	nonces  map[common.Address]uint64

	// unfiltered makes get_key_timestamp return every record of the owner.
	unfiltered bool

	viewErr    error
	viewOutput []byte
	buildErr   error
	submitErr  error
	confirmErr error
	revert     bool

	views     []string
	submitted []*types.Transaction
}

var _ Ledger = (*fakeLedger)(nil)

func newFakeLedger(clock Clock) *fakeLedger {
	return &fakeLedger{
		clock:   clock,
		records: make(map[common.Address][]KeyRecord),
		pending: make(map[common.Hash]pendingKey),
		nonces:  make(map[common.Address]uint64),
	}
}

func (l *fakeLedger) seed(owner common.Address, records ...KeyRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[owner] = append(l.records[owner], records...)
}

func (l *fakeLedger) View(_ context.Context, method string, args ...any) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.views = append(l.views, method)
	if l.viewErr != nil {
		return nil, l.viewErr
	}
	if l.viewOutput != nil {
		return l.viewOutput, nil
	}
	if _, err := registryABI.Pack(method, args...); err != nil {
		return nil, err
	}

	owner := args[0].(common.Address)
	records := l.records[owner]
	switch method {
	case MethodGetKeys:
	case MethodGetKeyAtTime:
		if !l.unfiltered {
			ts := args[1].(uint64)
			var matched []KeyRecord
			for _, r := range records {
				if r.Contains(ts) {
					matched = append(matched, r)
				}
			}
			records = matched
		}
	default:
		return nil, fmt.Errorf("not a view: %s", method)
	}
	return encodeRecords(method, records)
}

func (l *fakeLedger) BuildTransaction(_ context.Context, from common.Address, method string, args ...any) (*types.Transaction, error) {
	if l.buildErr != nil {
		return nil, l.buildErr
	}
	data, err := registryABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	nonce := l.nonces[from]
	l.nonces[from]++
	l.mu.Unlock()

	to := common.HexToAddress("0x00000000000000000000000000000000000acc5b")
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: big.NewInt(1),
		Gas:      100_000,
		To:       &to,
		Data:     data,
	}), nil
}

func (l *fakeLedger) Submit(_ context.Context, tx *types.Transaction) (common.Hash, error) {
	if l.submitErr != nil {
		return common.Hash{}, l.submitErr
	}
	from, err := types.Sender(types.LatestSignerForChainID(testChainID), tx)
	if err != nil {
		return common.Hash{}, err
	}
	m := registryABI.Methods[MethodAddKey]
	args, err := m.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return common.Hash{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitted = append(l.submitted, tx)
	l.pending[tx.Hash()] = pendingKey{
		owner:     from,
		publicKey: args[0].([]byte),
		encrypted: args[1].([]byte),
		validTill: args[2].(uint64),
	}
	return tx.Hash(), nil
}

func (l *fakeLedger) WaitForConfirmation(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if l.confirmErr != nil {
		return nil, l.confirmErr
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pending[hash]
	if !ok {
		return nil, errors.New("unknown transaction")
	}
	delete(l.pending, hash)

	if l.revert {
		return &types.Receipt{Status: types.ReceiptStatusFailed, TxHash: hash}, nil
	}
	l.records[p.owner] = append(l.records[p.owner], KeyRecord{
		PublicKey:           PublicKey(p.publicKey),
		EncryptedPrivateKey: p.encrypted,
		ValidFrom:           nowMilli(l.clock),
		ValidTo:             p.validTill,
	})
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}, nil
}

// countingDecryptor records how often it is asked to decrypt.
type countingDecryptor struct {
	SelfEncryptor
	mu    sync.Mutex
	calls int
}

func (d *countingDecryptor) DecryptSelf(ctx context.Context, ciphertext []byte) ([]byte, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return d.SelfEncryptor.DecryptSelf(ctx, ciphertext)
}

func (d *countingDecryptor) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type failingSigner struct {
	addr common.Address
	err  error
}

func (s failingSigner) Address() common.Address { return s.addr }

func (s failingSigner) SignTransaction(context.Context, *types.Transaction) (*types.Transaction, error) {
	return nil, s.err
}

type failingEncryptor struct{ err error }

func (e failingEncryptor) EncryptSelf(context.Context, []byte) ([]byte, error) { return nil, e.err }
func (e failingEncryptor) DecryptSelf(context.Context, []byte) ([]byte, error) { return nil, e.err }

func newTestSigner(t *testing.T) *LocalSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewLocalSigner(key, testChainID)
}

// escrowedRecord builds a record whose private key is sealed with enc.
func escrowedRecord(t *testing.T, enc SelfEncryptor, from, to uint64) (KeyRecord, *Capability) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sealed, err := enc.EncryptSelf(context.Background(), crypto.FromECDSA(key))
	require.NoError(t, err)
	c := capabilityFromKey(key)
	return KeyRecord{
		PublicKey:           c.PublicKey(),
		EncryptedPrivateKey: sealed,
		ValidFrom:           from,
		ValidTo:             to,
	}, c
}

func plainRecord(t *testing.T, from, to uint64) KeyRecord {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return KeyRecord{
		PublicKey:           PublicKey(crypto.CompressPubkey(&key.PublicKey)),
		EncryptedPrivateKey: []byte{},
		ValidFrom:           from,
		ValidTo:             to,
	}
}
