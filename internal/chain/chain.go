// Package chain provides per-chain EVM access for the trust services: a
// client registry keyed by chain id, rate-limited read helpers, prepared
// transaction envelopes and contract ownership probing.
package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TxRequest is an unsigned transaction prepared for an external signer.
// The services never hold party keys; every state change leaves the
// process as one of these envelopes.
type TxRequest struct {
	ChainID uint64         `json:"chainId"`
	To      common.Address `json:"to"`
	Data    hexutil.Bytes  `json:"data"`
	Value   *hexutil.Big   `json:"value,omitempty"`
}

// Call is one read-only contract invocation.
type Call struct {
	To   common.Address
	Data []byte
}

// CallResult pairs batched call output with its per-item error.
type CallResult struct {
	Data []byte
	Err  error
}

// Log is a receipt log decoded at the node boundary.
type Log struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	TxHash      common.Hash
}

// LogQuery bounds an event lookup. A zero ToBlock means the latest block.
type LogQuery struct {
	FromBlock uint64
	ToBlock   uint64
	Address   common.Address
	Topics    [][]common.Hash
}

// Backend is the read-only chain surface the services consume.
type Backend interface {
	ChainID() uint64
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	CallBatch(ctx context.Context, calls []Call) ([]CallResult, error)
	Code(ctx context.Context, address common.Address) ([]byte, error)
	HeadNumber(ctx context.Context) (uint64, error)
	HeadTimestamp(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q LogQuery) ([]Log, error)
}

// Source hands out backends and endpoint metadata per chain id.
type Source interface {
	Backend(chainID uint64) (Backend, error)
	Endpoint(chainID uint64) (Endpoint, error)
}
