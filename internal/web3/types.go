package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// StateQuery targets a read-only view of on-chain state.
type StateQuery struct {
	Address string
	// Kind is one of balance, nonce, code, storage.
	Kind string
	// Slot selects the storage slot when Kind is storage.
	Slot string
}

// ContractCall describes either an eth_call or a state-changing
// transaction against a deployed contract.
type ContractCall struct {
	Address string
	// Data carries the hex-encoded calldata.
	Data string
	// Value carries an optional wei amount in decimal or hex form.
	Value string
	// Send switches from eth_call to a signed transaction.
	Send bool
}

// DeploymentResult captures the outcome of a contract creation.
type DeploymentResult struct {
	ContractAddress common.Address
	TxHash          common.Hash
	GasUsed         uint64
}

// CallResult captures the outcome of a contract call or transaction.
type CallResult struct {
	// Output is the hex-encoded return data for eth_call.
	Output string
	// TxHash identifies the transaction when Send was requested.
	TxHash common.Hash
	// Reverted reports whether a mined transaction ended in revert.
	Reverted bool
	GasUsed  uint64
}

// Client defines the common interface that any chain implementation must
// provide so the tool gateway can interact with different networks uniformly.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	QueryState(ctx context.Context, query StateQuery) (string, error)
	CallContract(ctx context.Context, call ContractCall) (CallResult, error)
	DeployContract(ctx context.Context, bytecode []byte, value *big.Int) (DeploymentResult, error)
	PlayerAddress() common.Address
	Close()
}
