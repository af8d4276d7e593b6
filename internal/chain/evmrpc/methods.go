package evmrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const latestTag = "latest"

// ChainID returns the chain id reported by eth_chainId.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var raw string
	if err := c.call(ctx, "eth_chainId", nil, &raw); err != nil {
		return nil, err
	}
	id, err := hexutil.DecodeBig(raw)
	if err != nil {
		return nil, fmt.Errorf("parse chain id %q: %w", raw, err)
	}
	return id, nil
}

// BlockNumber returns the current head height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var raw string
	if err := c.call(ctx, "eth_blockNumber", nil, &raw); err != nil {
		return 0, err
	}
	n, err := hexutil.DecodeUint64(raw)
	if err != nil {
		return 0, fmt.Errorf("parse block number %q: %w", raw, err)
	}
	return n, nil
}

// LatestBlock returns the head block header without transaction bodies.
func (c *Client) LatestBlock(ctx context.Context) (*Block, error) {
	var block *Block
	if err := c.call(ctx, "eth_getBlockByNumber", []any{latestTag, false}, &block); err != nil {
		return nil, err
	}
	if block == nil {
		return nil, fmt.Errorf("eth_getBlockByNumber: node returned no head block")
	}
	return block, nil
}

// NumberUint64 parses the block height out of the hex header field.
func (b *Block) NumberUint64() (uint64, error) {
	n, err := hexutil.DecodeUint64(b.Number)
	if err != nil {
		return 0, fmt.Errorf("parse block number %q: %w", b.Number, err)
	}
	return n, nil
}

// Time parses the block timestamp out of the hex header field.
func (b *Block) Time() (uint64, error) {
	ts, err := hexutil.DecodeUint64(b.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("parse block timestamp %q: %w", b.Timestamp, err)
	}
	return ts, nil
}

// CallContract executes a read-only eth_call against the latest block and
// returns the raw return data.
func (c *Client) CallContract(ctx context.Context, msg CallMsg) ([]byte, error) {
	var raw string
	if err := c.call(ctx, "eth_call", []any{msg, latestTag}, &raw); err != nil {
		return nil, err
	}
	data, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode eth_call result %q: %w", raw, err)
	}
	return data, nil
}

// BatchResult holds one outcome of a batched eth_call. Per-item node errors
// land in Err so a single failing call does not poison its batch.
type BatchResult struct {
	Data []byte
	Err  error
}

// CallContractBatch executes the given calls in one HTTP round trip. The
// returned slice is index-aligned with msgs.
func (c *Client) CallContractBatch(ctx context.Context, msgs []CallMsg) ([]BatchResult, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	reqs := make([]Request, len(msgs))
	for i, msg := range msgs {
		reqs[i] = c.newRequest("eth_call", []any{msg, latestTag})
	}
	resps, err := c.callBatch(ctx, reqs)
	if err != nil {
		return nil, err
	}

	results := make([]BatchResult, len(resps))
	for i, resp := range resps {
		if resp.Error != nil {
			results[i] = BatchResult{Err: fmt.Errorf("eth_call: %w", resp.Error)}
			continue
		}
		var raw string
		if err := json.Unmarshal(resp.Result, &raw); err != nil {
			results[i] = BatchResult{Err: fmt.Errorf("unmarshal eth_call result: %w", err)}
			continue
		}
		data, err := hexutil.Decode(raw)
		if err != nil {
			results[i] = BatchResult{Err: fmt.Errorf("decode eth_call result %q: %w", raw, err)}
			continue
		}
		results[i] = BatchResult{Data: data}
	}
	return results, nil
}

// GetCode returns the deployed bytecode at the given address, empty for
// externally owned accounts.
func (c *Client) GetCode(ctx context.Context, address string) ([]byte, error) {
	var raw string
	if err := c.call(ctx, "eth_getCode", []any{address, latestTag}, &raw); err != nil {
		return nil, err
	}
	code, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode eth_getCode result %q: %w", raw, err)
	}
	return code, nil
}

// GetLogs runs an eth_getLogs query with the given filter.
func (c *Client) GetLogs(ctx context.Context, filter LogFilter) ([]Log, error) {
	var logs []Log
	if err := c.call(ctx, "eth_getLogs", []any{filter}, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
