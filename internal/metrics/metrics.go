package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Protocol, upstream and server counters, partitioned by chain id where
// the operation is chain-scoped.

var (
	// Association protocol
	AssociationDigestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "association",
		Name:      "digests_total",
		Help:      "Total association ids computed",
	})

	AssociationVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "association",
		Name:      "verifications_total",
		Help:      "Total SAR verifications by outcome",
	}, []string{"result", "reason"})

	PreparedTxsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "protocol",
		Name:      "prepared_txs_total",
		Help:      "Total transaction requests prepared, by kind",
	}, []string{"kind"})

	// Chain RPC
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total chain RPC calls",
	}, []string{"chain_id", "method", "status"})

	RPCCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trustd",
		Subsystem: "rpc",
		Name:      "call_duration_seconds",
		Help:      "Chain RPC call duration",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"chain_id", "method"})

	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total RPC calls delayed by the per-chain rate limiter",
	}, []string{"chain_id"})

	// Discovery indexer
	IndexerQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "indexer",
		Name:      "queries_total",
		Help:      "Total GraphQL queries against the discovery indexer",
	}, []string{"query", "status"})

	IndexerQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trustd",
		Subsystem: "indexer",
		Name:      "query_duration_seconds",
		Help:      "Discovery indexer query duration",
		Buckets:   []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"query"})

	IndexerRecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "indexer",
		Name:      "records_skipped_total",
		Help:      "Indexer records dropped at the decode boundary",
	}, []string{"query", "reason"})

	// Validation reconciliation
	ValidationMatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "validation",
		Name:      "matches_total",
		Help:      "Validation reconciliation outcomes between chain and indexer",
	}, []string{"outcome"})

	// Drafts
	DraftEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "drafts",
		Name:      "events_total",
		Help:      "Draft lifecycle transitions",
	}, []string{"event"})

	// Lifecycle event publishing
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Lifecycle events published",
	}, []string{"type", "transport", "status"})

	// Bundler
	UserOpsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "bundler",
		Name:      "user_ops_submitted_total",
		Help:      "User operations submitted via the bundler",
	}, []string{"chain_id", "status"})

	ReceiptWaitOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "bundler",
		Name:      "receipt_wait_outcomes_total",
		Help:      "Bounded receipt waits by outcome (received, pending, failed)",
	}, []string{"chain_id", "outcome"})

	// HTTP API
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests by route and status code",
	}, []string{"route", "method", "code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trustd",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "API request duration",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"route", "method"})

	HTTPRateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "API requests rejected by the rate limiter",
	}, []string{"rule"})

	// Metadata cache
	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by cache name and result",
	}, []string{"cache", "result"})

	// IPFS gateway
	IPFSFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "ipfs",
		Name:      "fetches_total",
		Help:      "Token metadata fetches through the IPFS gateway",
	}, []string{"status"})

	// Operator alerting
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Alerts delivered, by channel and type",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustd",
		Subsystem: "alerts",
		Name:      "cooldown_skipped_total",
		Help:      "Alerts suppressed by the cooldown window",
	}, []string{"channel", "type"})
)
