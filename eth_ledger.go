package acksp

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ChainClient is the subset of *ethclient.Client used by EthLedger.
type ChainClient interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ ChainClient = (*ethclient.Client)(nil)

// EthLedger implements Ledger against an EVM chain hosting the registry contract.
type EthLedger struct {
	client       ChainClient
	contract     common.Address
	timeout      time.Duration
	pollInterval time.Duration
	closeFn      func()

	mu      sync.Mutex
	chainID *big.Int
}

var _ Ledger = (*EthLedger)(nil)

// NewEthLedger wraps an existing chain client.
func NewEthLedger(client ChainClient, cfg Config) *EthLedger {
	cfg = cfg.WithDefaults()
	return &EthLedger{
		client:       client,
		contract:     cfg.ContractAddress,
		timeout:      cfg.ConfirmTimeout,
		pollInterval: cfg.ReceiptPollInterval,
		chainID:      cfg.ChainID,
	}
}

// DialEthLedger connects to cfg.RPCURL.
func DialEthLedger(ctx context.Context, cfg Config) (*EthLedger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	l := NewEthLedger(client, cfg)
	l.closeFn = client.Close
	return l, nil
}

// Close releases the underlying RPC connection, if the ledger owns it.
func (l *EthLedger) Close() {
	if l.closeFn != nil {
		l.closeFn()
	}
}

// Contract returns the registry address.
func (l *EthLedger) Contract() common.Address {
	return l.contract
}

// ChainID returns the configured chain ID, asking the node once if unset.
func (l *EthLedger) ChainID(ctx context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.chainID != nil {
		return l.chainID, nil
	}
	id, err := l.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	l.chainID = id
	return id, nil
}

// View performs an eth_call against the registry.
func (l *EthLedger) View(ctx context.Context, method string, args ...any) ([]byte, error) {
	data, err := registryABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	to := l.contract
	return l.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// BuildTransaction assembles an unsigned registry call from sender. A
// dynamic-fee transaction is built when the chain reports a base fee.
func (l *EthLedger) BuildTransaction(ctx context.Context, from common.Address, method string, args ...any) (*types.Transaction, error) {
	data, err := registryABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	to := l.contract

	chainID, err := l.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	nonce, err := l.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	gas, err := l.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	head, err := l.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}

	if head.BaseFee != nil {
		tip, err := l.client.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas tip: %w", err)
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &to,
			Data:      data,
		}), nil
	}

	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Data:     data,
	}), nil
}

// Submit broadcasts a signed transaction.
func (l *EthLedger) Submit(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if err := l.client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// WaitForConfirmation polls for the receipt of hash. The receipt is
// returned as-is; callers check its status.
func (l *EthLedger) WaitForConfirmation(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			return nil, err
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrConfirmationTimeout, hash.Hex())
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
