// Package ratelimit throttles outbound node RPC traffic per chain and
// records per-call outcome metrics.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain/evmrpc"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/metrics"
	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket rate limiter for RPC calls against one chain.
type Limiter struct {
	limiter *rate.Limiter
	chainID string
}

// NewLimiter creates a rate limiter that allows rps requests per second
// with a burst capacity of burst tokens. chainID is the metric label.
func NewLimiter(rps float64, burst int, chainID string) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		chainID: chainID,
	}
}

// Wait blocks until the limiter allows one event, or ctx is done.
// Uses Reserve() to guarantee exactly one token is consumed per call.
func (l *Limiter) Wait(ctx context.Context) error {
	r := l.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate: cannot reserve token")
	}
	delay := r.Delay()
	if delay > 0 {
		metrics.RPCRateLimitWaits.WithLabelValues(l.chainID).Inc()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			r.Cancel()
			return ctx.Err()
		}
	}
	return nil
}

// RecordCall records outcome and latency for one RPC round trip.
func RecordCall(chainID, method string, elapsed time.Duration, err error) {
	metrics.RPCCallsTotal.WithLabelValues(chainID, method, CallStatus(err)).Inc()
	metrics.RPCCallDuration.WithLabelValues(chainID, method).Observe(elapsed.Seconds())
}

// CallStatus maps an RPC outcome onto a bounded metric label set. Typed
// node errors are classified by code before falling back to message tokens.
func CallStatus(err error) string {
	if err == nil {
		return "ok"
	}

	var rpcErr *evmrpc.RPCError
	if errors.As(err, &rpcErr) {
		lower := strings.ToLower(rpcErr.Message)
		switch {
		case rpcErr.Code == 3 || strings.Contains(lower, "revert"):
			return "reverted"
		case rpcErr.Code == -32005 || strings.Contains(lower, "rate limit"):
			return "rate_limited"
		default:
			return "node_error"
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return "timeout"
	case strings.Contains(lower, "429") || strings.Contains(lower, "too many requests"):
		return "rate_limited"
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "network is unreachable") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "broken pipe") || strings.Contains(lower, "eof"):
		return "network_error"
	default:
		return "client_error"
	}
}
