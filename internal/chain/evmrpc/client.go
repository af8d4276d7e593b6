// Package evmrpc is a minimal JSON-RPC 2.0 client for EVM execution nodes.
// It covers the read-only surface the trust services need: chain identity,
// head inspection, contract calls, bytecode lookups and log queries.
package evmrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

type Client struct {
	httpClient *http.Client
	rpcURL     string
	requestID  atomic.Int64
	logger     *slog.Logger
}

type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client, primarily for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func NewClient(rpcURL string, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		rpcURL:     rpcURL,
		logger:     logger.With("component", "evm_rpc"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) newRequest(method string, params []any) Request {
	if params == nil {
		params = []any{}
	}
	return Request{
		JSONRPC: "2.0",
		ID:      int(c.requestID.Add(1)),
		Method:  method,
		Params:  params,
	}
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	req := c.newRequest(method, params)

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
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

	var rpcResp Response
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

// callBatch sends several requests in a single HTTP round trip and returns
// the responses reordered to match the request slice.
func (c *Client) callBatch(ctx context.Context, reqs []Request) ([]Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(reqs)
	if err != nil {
		return nil, fmt.Errorf("marshal batch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create batch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send batch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("batch: unexpected http status %d", resp.StatusCode)
	}

	var rpcResps []Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResps); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}
	if len(rpcResps) != len(reqs) {
		return nil, fmt.Errorf("batch: got %d responses for %d requests", len(rpcResps), len(reqs))
	}

	byID := make(map[int]Response, len(rpcResps))
	for _, r := range rpcResps {
		byID[r.ID] = r
	}
	ordered := make([]Response, len(reqs))
	for i, req := range reqs {
		r, ok := byID[req.ID]
		if !ok {
			return nil, fmt.Errorf("batch: missing response for request id %d", req.ID)
		}
		ordered[i] = r
	}
	return ordered, nil
}
