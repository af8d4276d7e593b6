// Package aa submits ERC-4337 user operations through per-chain bundlers.
// The bundler is an opaque channel: callers hand over a fully built and
// signed user operation, the client forwards it and tracks the receipt.
// No gas estimation or signing happens here.
package aa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain/evmrpc"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/metrics"
)

const (
	defaultHTTPTimeout  = 30 * time.Second
	defaultPollInterval = 2 * time.Second
	defaultWaitTimeout  = 90 * time.Second
)

// ErrStillPending reports that the bounded receipt wait elapsed with the
// user operation neither mined nor rejected. The operation may still land;
// callers decide whether to keep polling or surface the timeout.
var ErrStillPending = errors.New("user operation still pending")

// Client talks to the bundlers configured per chain.
type Client struct {
	source       chain.Source
	httpClient   *http.Client
	requestID    atomic.Int64
	pollInterval time.Duration
	waitTimeout  time.Duration
	logger       *slog.Logger
}

type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client, primarily for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithPollInterval sets how often WaitForReceipt polls the bundler.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithWaitTimeout bounds how long WaitForReceipt polls before giving up.
func WithWaitTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitTimeout = d
	}
}

func NewClient(source chain.Source, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		source:       source,
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
		pollInterval: defaultPollInterval,
		waitTimeout:  defaultWaitTimeout,
		logger:       logger.With("component", "bundler_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UserOpReceipt is the decoded result of eth_getUserOperationReceipt.
type UserOpReceipt struct {
	UserOpHash  common.Hash
	Sender      common.Address
	Success     bool
	Reason      string
	Logs        []chain.Log
	TxHash      common.Hash
	BlockNumber uint64
}

type userOpReceiptWire struct {
	UserOpHash string       `json:"userOpHash"`
	Sender     string       `json:"sender"`
	Success    bool         `json:"success"`
	Reason     string       `json:"reason"`
	Logs       []evmrpc.Log `json:"logs"`
	Receipt    *struct {
		TransactionHash string `json:"transactionHash"`
		BlockNumber     string `json:"blockNumber"`
	} `json:"receipt"`
}

// SendUserOperation forwards a signed user operation to the chain's bundler
// and returns the user operation hash the bundler assigned.
func (c *Client) SendUserOperation(ctx context.Context, chainID uint64, userOp json.RawMessage) (common.Hash, error) {
	ep, err := c.endpoint(chainID)
	if err != nil {
		return common.Hash{}, err
	}

	var result string
	err = c.call(ctx, ep.BundlerURL, "eth_sendUserOperation", []any{userOp, ep.EntryPoint.Hex()}, &result)
	label := strconv.FormatUint(chainID, 10)
	if err != nil {
		metrics.UserOpsSubmitted.WithLabelValues(label, "error").Inc()
		return common.Hash{}, fault.Upstream(err, "send user operation via %s bundler", ep.Name)
	}

	hash, err := parseHash(result)
	if err != nil {
		metrics.UserOpsSubmitted.WithLabelValues(label, "error").Inc()
		return common.Hash{}, fault.Upstream(err, "bundler returned bad user operation hash")
	}
	metrics.UserOpsSubmitted.WithLabelValues(label, "ok").Inc()
	c.logger.Info("user operation submitted", "chain_id", chainID, "user_op_hash", hash.Hex())
	return hash, nil
}

// SponsorUserOperation asks the chain's paymaster to sponsor the operation.
// The response is returned raw for the caller to merge back into its user
// operation before signing.
func (c *Client) SponsorUserOperation(ctx context.Context, chainID uint64, userOp json.RawMessage) (json.RawMessage, error) {
	ep, err := c.endpoint(chainID)
	if err != nil {
		return nil, err
	}

	var result json.RawMessage
	if err := c.call(ctx, ep.BundlerURL, "pm_sponsorUserOperation", []any{userOp, ep.EntryPoint.Hex()}, &result); err != nil {
		return nil, fault.Upstream(err, "sponsor user operation via %s paymaster", ep.Name)
	}
	return result, nil
}

// UserOperationReceipt fetches the receipt for a user operation hash. A nil
// receipt with nil error means the bundler has not mined it yet.
func (c *Client) UserOperationReceipt(ctx context.Context, chainID uint64, userOpHash common.Hash) (*UserOpReceipt, error) {
	ep, err := c.endpoint(chainID)
	if err != nil {
		return nil, err
	}

	var wire *userOpReceiptWire
	if err := c.call(ctx, ep.BundlerURL, "eth_getUserOperationReceipt", []any{userOpHash.Hex()}, &wire); err != nil {
		return nil, fault.Upstream(err, "fetch user operation receipt from %s bundler", ep.Name)
	}
	if wire == nil {
		return nil, nil
	}
	return c.decodeReceipt(wire)
}

// WaitForReceipt polls the bundler until the operation is mined or the
// bounded wait elapses. A timeout with the operation possibly still in
// flight surfaces ErrStillPending in the error chain so callers can tell
// it apart from hard failures. Individual poll errors are tolerated; only
// an all-errors wait reports the last one.
func (c *Client) WaitForReceipt(ctx context.Context, chainID uint64, userOpHash common.Hash) (*UserOpReceipt, error) {
	label := strconv.FormatUint(chainID, 10)

	waitCtx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := c.UserOperationReceipt(waitCtx, chainID, userOpHash)
		if err == nil && receipt != nil {
			outcome := "confirmed"
			if !receipt.Success {
				outcome = "reverted"
			}
			metrics.ReceiptWaitOutcomes.WithLabelValues(label, outcome).Inc()
			return receipt, nil
		}
		// A poll cut short by the wait deadline is not a real failure.
		if err != nil && waitCtx.Err() == nil {
			lastErr = err
			c.logger.Warn("receipt poll failed", "chain_id", chainID, "user_op_hash", userOpHash.Hex(), "error", err)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				metrics.ReceiptWaitOutcomes.WithLabelValues(label, "canceled").Inc()
				return nil, ctx.Err()
			}
			if lastErr != nil {
				metrics.ReceiptWaitOutcomes.WithLabelValues(label, "error").Inc()
				return nil, fault.Upstream(lastErr, "receipt polling for user operation %s failed", userOpHash.Hex())
			}
			metrics.ReceiptWaitOutcomes.WithLabelValues(label, "still_pending").Inc()
			return nil, fault.Upstream(ErrStillPending, "user operation %s not mined within %s", userOpHash.Hex(), c.waitTimeout)
		case <-ticker.C:
		}
	}
}

func (c *Client) endpoint(chainID uint64) (chain.Endpoint, error) {
	ep, err := c.source.Endpoint(chainID)
	if err != nil {
		return chain.Endpoint{}, err
	}
	if ep.BundlerURL == "" {
		return chain.Endpoint{}, fault.Malformedf("chain %d has no bundler configured", chainID)
	}
	return ep, nil
}

func (c *Client) decodeReceipt(wire *userOpReceiptWire) (*UserOpReceipt, error) {
	userOpHash, err := parseHash(wire.UserOpHash)
	if err != nil {
		return nil, fault.Upstream(err, "bundler returned bad receipt hash")
	}
	if !common.IsHexAddress(wire.Sender) {
		return nil, fault.Upstream(nil, "bundler returned bad receipt sender %q", wire.Sender)
	}

	receipt := &UserOpReceipt{
		UserOpHash: userOpHash,
		Sender:     common.HexToAddress(wire.Sender),
		Success:    wire.Success,
		Reason:     wire.Reason,
	}
	if wire.Receipt != nil {
		txHash, err := parseHash(wire.Receipt.TransactionHash)
		if err != nil {
			return nil, fault.Upstream(err, "bundler returned bad receipt tx hash")
		}
		blockNumber, err := hexutil.DecodeUint64(wire.Receipt.BlockNumber)
		if err != nil {
			return nil, fault.Upstream(err, "bundler returned bad receipt block number")
		}
		receipt.TxHash = txHash
		receipt.BlockNumber = blockNumber
	}

	receipt.Logs = make([]chain.Log, 0, len(wire.Logs))
	for _, entry := range wire.Logs {
		decoded, err := chain.DecodeLog(entry)
		if err != nil {
			c.logger.Warn("skipping undecodable receipt log", "tx_hash", entry.TransactionHash, "error", err)
			continue
		}
		receipt.Logs = append(receipt.Logs, decoded)
	}
	return receipt, nil
}

func (c *Client) call(ctx context.Context, url, method string, params []any, result any) error {
	req := evmrpc.Request{
		JSONRPC: "2.0",
		ID:      int(c.requestID.Add(1)),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send %s request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s: unexpected http status %d", method, resp.StatusCode)
	}

	var rpcResp evmrpc.Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal %s result: %w", method, err)
		}
	}
	return nil
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
