package chain

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain/evmrpc"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain/ratelimit"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Client wraps a node RPC client with rate limiting and call metrics for
// one chain. It satisfies Backend.
type Client struct {
	chainID    uint64
	chainLabel string
	rpc        *evmrpc.Client
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
}

var _ Backend = (*Client)(nil)

func NewClient(chainID uint64, rpc *evmrpc.Client, limiter *ratelimit.Limiter, logger *slog.Logger) *Client {
	return &Client{
		chainID:    chainID,
		chainLabel: strconv.FormatUint(chainID, 10),
		rpc:        rpc,
		limiter:    limiter,
		logger:     logger.With("component", "chain_client", "chain_id", chainID),
	}
}

func (c *Client) ChainID() uint64 {
	return c.chainID
}

// do runs one rate-limited RPC round trip and records its outcome.
func (c *Client) do(ctx context.Context, method string, fn func() error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	start := time.Now()
	err := fn()
	ratelimit.RecordCall(c.chainLabel, method, time.Since(start), err)
	return err
}

func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var out []byte
	err := c.do(ctx, "eth_call", func() error {
		var callErr error
		out, callErr = c.rpc.CallContract(ctx, evmrpc.CallMsg{
			To:   to.Hex(),
			Data: hexutil.Encode(data),
		})
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CallBatch(ctx context.Context, calls []Call) ([]CallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	msgs := make([]evmrpc.CallMsg, len(calls))
	for i, call := range calls {
		msgs[i] = evmrpc.CallMsg{
			To:   call.To.Hex(),
			Data: hexutil.Encode(call.Data),
		}
	}

	var raw []evmrpc.BatchResult
	err := c.do(ctx, "eth_call_batch", func() error {
		var batchErr error
		raw, batchErr = c.rpc.CallContractBatch(ctx, msgs)
		return batchErr
	})
	if err != nil {
		return nil, err
	}

	results := make([]CallResult, len(raw))
	for i, r := range raw {
		results[i] = CallResult{Data: r.Data, Err: r.Err}
	}
	return results, nil
}

func (c *Client) Code(ctx context.Context, address common.Address) ([]byte, error) {
	var code []byte
	err := c.do(ctx, "eth_getCode", func() error {
		var codeErr error
		code, codeErr = c.rpc.GetCode(ctx, address.Hex())
		return codeErr
	})
	if err != nil {
		return nil, err
	}
	return code, nil
}

func (c *Client) HeadNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.do(ctx, "eth_blockNumber", func() error {
		var numErr error
		n, numErr = c.rpc.BlockNumber(ctx)
		return numErr
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c *Client) HeadTimestamp(ctx context.Context) (uint64, error) {
	var block *evmrpc.Block
	err := c.do(ctx, "eth_getBlockByNumber", func() error {
		var headErr error
		block, headErr = c.rpc.LatestBlock(ctx)
		return headErr
	})
	if err != nil {
		return 0, err
	}
	return block.Time()
}

// FilterLogs runs a log query and decodes each entry at the boundary.
// Entries that fail to decode are logged and skipped rather than
// propagated in a half-parsed state.
func (c *Client) FilterLogs(ctx context.Context, q LogQuery) ([]Log, error) {
	filter := evmrpc.LogFilter{
		FromBlock: hexutil.EncodeUint64(q.FromBlock),
		ToBlock:   "latest",
	}
	if q.ToBlock != 0 {
		filter.ToBlock = hexutil.EncodeUint64(q.ToBlock)
	}
	if q.Address != (common.Address{}) {
		filter.Address = q.Address.Hex()
	}
	if len(q.Topics) > 0 {
		filter.Topics = make([][]string, len(q.Topics))
		for i, alternatives := range q.Topics {
			filter.Topics[i] = make([]string, len(alternatives))
			for j, topic := range alternatives {
				filter.Topics[i][j] = topic.Hex()
			}
		}
	}

	var raw []evmrpc.Log
	err := c.do(ctx, "eth_getLogs", func() error {
		var logsErr error
		raw, logsErr = c.rpc.GetLogs(ctx, filter)
		return logsErr
	})
	if err != nil {
		return nil, err
	}

	logs := make([]Log, 0, len(raw))
	for _, entry := range raw {
		if entry.Removed {
			continue
		}
		decoded, err := DecodeLog(entry)
		if err != nil {
			c.logger.Warn("skipping undecodable log entry",
				"tx_hash", entry.TransactionHash,
				"error", err)
			continue
		}
		logs = append(logs, decoded)
	}
	return logs, nil
}

// DecodeLog converts one wire-format log entry into its typed form. It is
// shared with the bundler client, whose user operation receipts embed logs
// in the same shape.
func DecodeLog(entry evmrpc.Log) (Log, error) {
	if !common.IsHexAddress(entry.Address) {
		return Log{}, fmt.Errorf("bad log address %q", entry.Address)
	}
	data, err := hexutil.Decode(entry.Data)
	if err != nil {
		return Log{}, fmt.Errorf("bad log data: %w", err)
	}
	blockNumber, err := hexutil.DecodeUint64(entry.BlockNumber)
	if err != nil {
		return Log{}, fmt.Errorf("bad log block number %q: %w", entry.BlockNumber, err)
	}
	txHash, err := parseHash(entry.TransactionHash)
	if err != nil {
		return Log{}, fmt.Errorf("bad log tx hash: %w", err)
	}

	topics := make([]common.Hash, len(entry.Topics))
	for i, topic := range entry.Topics {
		h, err := parseHash(topic)
		if err != nil {
			return Log{}, fmt.Errorf("bad log topic %d: %w", i, err)
		}
		topics[i] = h
	}

	return Log{
		Address:     common.HexToAddress(entry.Address),
		Topics:      topics,
		Data:        data,
		BlockNumber: blockNumber,
		TxHash:      txHash,
	}, nil
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("hash %q is %d bytes, want %d", s, len(b), common.HashLength)
	}
	return common.BytesToHash(b), nil
}
