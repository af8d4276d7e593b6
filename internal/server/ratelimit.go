package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/metrics"
)

const (
	// staleLimiterTTL is how long a per-client limiter can sit idle
	// before the sweeper drops it.
	staleLimiterTTL = 10 * time.Minute

	cleanupInterval = 1 * time.Minute
)

type endpointLimit struct {
	rps   rate.Limit
	burst int
}

type endpointRule struct {
	method string // empty matches any method
	prefix string // empty matches any path
	limit  endpointLimit
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware applies per-rule, per-client-IP token buckets.
// Registration is the only endpoint that spends anything on behalf of a
// caller, so it gets a much tighter budget than the prepare and read
// endpoints.
type RateLimitMiddleware struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry // key: "rule|clientIP"
	rules    []endpointRule
	logger   *slog.Logger
	nowFunc  func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimitMiddleware builds the middleware with the default rule
// set and starts the stale-entry sweeper. Call Stop to release it.
func NewRateLimitMiddleware(logger *slog.Logger) *RateLimitMiddleware {
	rl := &RateLimitMiddleware{
		limiters: make(map[string]*limiterEntry),
		logger:   logger.With("component", "ratelimit"),
		nowFunc:  time.Now,
		stopCh:   make(chan struct{}),
		rules: []endpointRule{
			// prepare-register only encodes calldata; it must not inherit
			// the registration budget below.
			{method: "POST", prefix: "/v1/agents/prepare-register", limit: endpointLimit{rps: 2, burst: 10}},
			{method: "POST", prefix: "/v1/agents", limit: endpointLimit{rps: rate.Limit(6.0 / 60), burst: 2}}, // 6 req/min
			{method: "POST", prefix: "", limit: endpointLimit{rps: 2, burst: 10}},
			{method: "", prefix: "", limit: endpointLimit{rps: 5, burst: 20}},
		},
	}

	go rl.sweepLoop()
	return rl
}

// Stop shuts down the sweeper. Safe to call more than once.
func (rl *RateLimitMiddleware) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}

func (rl *RateLimitMiddleware) sweepLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimitMiddleware) evictStale() {
	now := rl.nowFunc()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > staleLimiterTTL {
			delete(rl.limiters, key)
		}
	}
}

// LimiterCount reports the live limiter entries, for tests.
func (rl *RateLimitMiddleware) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Wrap applies the rate limit ahead of next.
func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := extractClientIP(r)
		ruleKey, limit := rl.matchRule(r.Method, r.URL.Path)

		if !rl.allow(ruleKey+"|"+clientIP, limit) {
			metrics.HTTPRateLimitedTotal.WithLabelValues(ruleKey).Inc()
			rl.logger.Warn("rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", clientIP,
			)
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// matchRule returns the first rule covering the request. The catch-all
// rule at the end of the list guarantees a match.
func (rl *RateLimitMiddleware) matchRule(method, path string) (string, endpointLimit) {
	for _, rule := range rl.rules {
		if rule.method != "" && !strings.EqualFold(rule.method, method) {
			continue
		}
		if rule.prefix != "" && !strings.HasPrefix(path, rule.prefix) {
			continue
		}
		if rule.method == "" && rule.prefix == "" {
			return "default", rule.limit
		}
		return rule.method + ":" + rule.prefix, rule.limit
	}
	return "default", endpointLimit{rps: 1, burst: 5}
}

func (rl *RateLimitMiddleware) allow(key string, limit endpointLimit) bool {
	now := rl.nowFunc()

	rl.mu.Lock()
	entry, ok := rl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(limit.rps, limit.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	limiter := entry.limiter
	rl.mu.Unlock()

	return limiter.Allow()
}

// extractClientIP resolves the originating client: first hop of
// X-Forwarded-For, then X-Real-IP, then the socket peer.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
