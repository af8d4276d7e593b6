// Package indexer queries the GraphQL discovery indexer for decoded
// event history. Responses are parsed strictly at this boundary into
// canonical model types; rows that fail to parse are logged, counted and
// skipped so a single bad record never poisons a result set. A circuit
// breaker guards the endpoint.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/cache"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/circuitbreaker"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/domain/model"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/metrics"
)

const (
	defaultHTTPTimeout = 15 * time.Second

	agentCacheSize = 1024
	agentCacheTTL  = 5 * time.Minute
)

// Client is a GraphQL-over-HTTP client for the discovery indexer.
type Client struct {
	httpClient *http.Client
	endpoint   string
	breaker    *circuitbreaker.Breaker
	agentCache *cache.LRU[string, model.Agent]
	logger     *slog.Logger
}

type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) ClientOption {
	return func(c *Client) {
		c.breaker = b
	}
}

func NewClient(endpoint string, logger *slog.Logger, opts ...ClientOption) *Client {
	log := logger.With("component", "indexer_client")
	c := &Client{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		endpoint:   endpoint,
		agentCache: cache.NewLRU[string, model.Agent]("indexer_agents", agentCacheSize, agentCacheTTL),
		logger:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = circuitbreaker.New(circuitbreaker.Config{
			Name: "indexer",
			OnChange: func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return c
}

// Healthy reports whether the breaker currently admits calls.
func (c *Client) Healthy() bool {
	return c.breaker.State() != circuitbreaker.Open
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors,omitempty"`
}

// query runs one GraphQL document under the circuit breaker and decodes
// the data envelope into out.
func (c *Client) query(ctx context.Context, name, document string, variables map[string]any, out any) error {
	if c.endpoint == "" {
		return fault.Upstream(nil, "indexer endpoint not configured")
	}

	start := time.Now()
	err := c.breaker.Do(func() error {
		return c.roundTrip(ctx, document, variables, out)
	})
	metrics.IndexerQueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.IndexerQueriesTotal.WithLabelValues(name, "ok").Inc()
		return nil
	case errors.Is(err, circuitbreaker.ErrOpen):
		metrics.IndexerQueriesTotal.WithLabelValues(name, "rejected").Inc()
		return fault.Upstream(err, "indexer circuit open")
	default:
		metrics.IndexerQueriesTotal.WithLabelValues(name, "error").Inc()
		return fault.Upstream(err, "indexer query %s", name)
	}
}

func (c *Client) roundTrip(ctx context.Context, document string, variables map[string]any, out any) error {
	body, err := json.Marshal(gqlRequest{Query: document, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("indexer returned http status %d", resp.StatusCode)
	}

	var envelope gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("indexer rejected query: %s", envelope.Errors[0].Message)
	}
	if len(envelope.Data) == 0 {
		return fmt.Errorf("indexer returned no data")
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
