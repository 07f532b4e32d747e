package acksp

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Ledger is the registry's view of the chain. Methods name registry
// contract entry points; View returns the raw ABI-encoded output.
type Ledger interface {
	View(ctx context.Context, method string, args ...any) ([]byte, error)
	BuildTransaction(ctx context.Context, from common.Address, method string, args ...any) (*types.Transaction, error)
	Submit(ctx context.Context, tx *types.Transaction) (common.Hash, error)
	WaitForConfirmation(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}
