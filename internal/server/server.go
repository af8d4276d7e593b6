// Package server exposes the platform core over HTTP: association
// building and verification, draft exchange, validation protocol
// transactions and agent resolution. Every state-changing endpoint
// except agent registration returns a prepared transaction; the caller
// signs and submits with their own keys.
package server

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/events"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/interop"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/metrics"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// IndexerHealth reports whether the discovery indexer is currently
// accepting queries.
type IndexerHealth interface {
	Healthy() bool
}

// Deps carries the services the API fronts. All are required.
type Deps struct {
	Associations Associations
	Verifier     RecordVerifier
	Drafts       DraftService
	Validations  Validations
	Agents       Agents
	Publisher    events.Publisher
}

// Server routes API requests to the platform services.
type Server struct {
	associations Associations
	verifier     RecordVerifier
	drafts       DraftService
	validations  Validations
	agents       Agents
	publisher    events.Publisher
	indexer      IndexerHealth
	logger       *slog.Logger
}

// ServerOption configures optional dependencies.
type ServerOption func(*Server)

// WithIndexerHealth wires the indexer circuit state into /healthz.
func WithIndexerHealth(h IndexerHealth) ServerOption {
	return func(s *Server) { s.indexer = h }
}

func NewServer(deps Deps, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		associations: deps.Associations,
		verifier:     deps.Verifier,
		drafts:       deps.Drafts,
		validations:  deps.Validations,
		agents:       deps.Agents,
		publisher:    deps.Publisher,
		logger:       logger.With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "POST /v1/associations/build", s.handleBuildAssociation)
	s.route(mux, "POST /v1/associations/verify", s.handleVerifyAssociation)
	s.route(mux, "POST /v1/associations/store", s.handleStoreAssociation)
	s.route(mux, "POST /v1/associations/revoke", s.handleRevokeAssociation)
	s.route(mux, "GET /v1/accounts/{account}/associations", s.handleAccountAssociations)

	s.route(mux, "POST /v1/drafts", s.handleCreateDraft)
	s.route(mux, "GET /v1/drafts/{id}", s.handleGetDraft)
	s.route(mux, "DELETE /v1/drafts/{id}", s.handleDeleteDraft)
	s.route(mux, "POST /v1/drafts/{id}/signatures", s.handleAttachSignature)
	s.route(mux, "GET /v1/accounts/{account}/drafts", s.handleAccountDrafts)

	s.route(mux, "POST /v1/validations/requests", s.handlePrepareValidationRequest)
	s.route(mux, "POST /v1/validations/responses", s.handlePrepareValidationResponse)
	s.route(mux, "GET /v1/validations/{requestHash}", s.handleValidationStatus)
	s.route(mux, "GET /v1/validators/{validator}/validations", s.handleValidatorValidations)

	s.route(mux, "GET /v1/agents/{id}", s.handleResolveAgent)
	s.route(mux, "GET /v1/agents/{id}/validations", s.handleAgentValidations)
	s.route(mux, "POST /v1/agents", s.handleRegisterAgent)
	s.route(mux, "POST /v1/agents/prepare-register", s.handlePrepareRegister)

	s.route(mux, "GET /healthz", s.handleHealthz)

	return mux
}

// route registers a handler wrapped with request metrics. The route
// label is the pattern itself so path variables do not explode the
// cardinality.
func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	method, path, _ := strings.Cut(pattern, " ")
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		h(sw, r)
		metrics.HTTPRequestsTotal.WithLabelValues(path, method, strconv.Itoa(sw.statusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(path, method).Observe(time.Since(start).Seconds())
	}))
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.statusCode = code
		sw.written = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.written = true
	}
	return sw.ResponseWriter.Write(b)
}

// --- Health endpoint ---

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// handleHealthz reports liveness plus an upstream snapshot. A degraded
// indexer does not fail the probe; chain-only operation is a supported
// mode, not an outage.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.indexer != nil {
		resp.Components = map[string]string{"indexer": "up"}
		if !s.indexer.Healthy() {
			resp.Status = "degraded"
			resp.Components["indexer"] = "circuit_open"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Shared helpers ---

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a fault category onto a status code. Client errors
// carry their message through; upstream and internal failures are
// logged in full and returned generically so node and gateway addresses
// never leak into responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := fault.HTTPStatus(err)
	msg := err.Error()
	switch {
	case status == http.StatusBadGateway:
		s.logger.Warn("upstream dependency failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "upstream dependency failed"
	case status >= http.StatusInternalServerError:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSONBody reads and decodes a JSON request body into v, bounded
// at maxRequestBodyBytes.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fault.Malformedf("invalid json body: %v", err)
	}
	return nil
}

// chainIDQuery extracts the required chainId query parameter.
func chainIDQuery(r *http.Request) (uint64, error) {
	id, err := chainIDQueryOptional(r)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fault.Malformedf("chainId query parameter is required")
	}
	return id, nil
}

// chainIDQueryOptional parses chainId when present; absence is 0, not
// an error.
func chainIDQueryOptional(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("chainId")
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fault.Malformedf("chainId %q is not a positive integer", raw)
	}
	return id, nil
}

// parseAccount resolves an {account} path segment. Three spellings are
// accepted: the raw interoperable address as hex, a bare EVM address
// qualified by chainID, and the "eip155:<chainId>:<address>" text form.
func parseAccount(raw string, chainID uint64) ([]byte, error) {
	if strings.HasPrefix(raw, "eip155:") {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 || !common.IsHexAddress(parts[2]) {
			return nil, fault.Malformedf("account %q is not of the form eip155:<chainId>:<address>", raw)
		}
		id, ok := new(big.Int).SetString(parts[1], 10)
		if !ok || id.Sign() <= 0 {
			return nil, fault.Malformedf("account %q has an invalid chain id", raw)
		}
		enc, err := interop.Format(id, common.HexToAddress(parts[2]))
		if err != nil {
			return nil, fault.Malformedf("encode account: %v", err)
		}
		return enc, nil
	}

	if common.IsHexAddress(raw) {
		if chainID == 0 {
			return nil, fault.Malformedf("chainId query parameter is required to qualify a bare EVM address")
		}
		enc, err := interop.Format(new(big.Int).SetUint64(chainID), common.HexToAddress(raw))
		if err != nil {
			return nil, fault.Malformedf("encode account: %v", err)
		}
		return enc, nil
	}

	b, err := hexutil.Decode(raw)
	if err != nil || len(b) == 0 {
		return nil, fault.Malformedf("account %q is not an address", raw)
	}
	return b, nil
}

// parseHash strictly decodes a 32-byte hash path segment.
func parseHash(raw string) (common.Hash, error) {
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fault.Malformedf("%q is not a 32-byte hash", raw)
	}
	return common.BytesToHash(b), nil
}

// parseAgentID accepts decimal or 0x-prefixed hex agent ids.
func parseAgentID(raw string) (*big.Int, error) {
	var (
		id *big.Int
		ok bool
	)
	if rest, found := strings.CutPrefix(raw, "0x"); found {
		id, ok = new(big.Int).SetString(rest, 16)
	} else {
		id, ok = new(big.Int).SetString(raw, 10)
	}
	if !ok || id.Sign() < 0 {
		return nil, fault.Malformedf("agent id %q is not a non-negative integer", raw)
	}
	return id, nil
}

// publish is fire-and-forget; the publisher logs and counts failures.
func (s *Server) publish(r *http.Request, ev events.Event) {
	_ = s.publisher.Publish(r.Context(), ev)
}
