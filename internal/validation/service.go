package validation

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/domain/model"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/metrics"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/tracing"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"
)

// maxResponseScore bounds the response value a validator may record.
const maxResponseScore = 100

// RegistryGateway is the slice of the validation registry this service
// consumes.
type RegistryGateway interface {
	RequestTx(chainID uint64, validator common.Address, agentID *big.Int, requestURI string, requestHash common.Hash) (*chain.TxRequest, error)
	ResponseTx(chainID uint64, requestHash common.Hash, response uint8, responseURI string, responseHash, tag common.Hash) (*chain.TxRequest, error)
	Status(ctx context.Context, chainID uint64, requestHash common.Hash) (model.ValidationStatus, error)
	StatusBatch(ctx context.Context, chainID uint64, hashes []common.Hash) ([]model.ValidationStatus, error)
	ValidatorRequests(ctx context.Context, chainID uint64, validator common.Address) ([]common.Hash, error)
	AgentValidations(ctx context.Context, chainID uint64, agentID *big.Int) ([]common.Hash, error)
	RequestTxHashes(ctx context.Context, chainID uint64, validator common.Address, fromBlock uint64) (map[common.Hash]common.Hash, error)
}

// IndexerSource supplies the off-chain half of reconciliation.
type IndexerSource interface {
	ValidatorValidations(ctx context.Context, chainID uint64, validator common.Address) ([]model.IndexedValidation, error)
}

// Service prepares validation protocol transactions and reconciles
// registry state with the indexer. It never signs or submits.
type Service struct {
	registry RegistryGateway
	indexer  IndexerSource
	logger   *slog.Logger
}

func NewService(registry RegistryGateway, indexer IndexerSource, logger *slog.Logger) *Service {
	return &Service{
		registry: registry,
		indexer:  indexer,
		logger:   logger.With("component", "validation_service"),
	}
}

// RequestParams describes a validation request to prepare. RequestURI and
// RequestHash are optional; defaults are derived and returned so the
// caller can correlate the pending request either way.
type RequestParams struct {
	ChainID     uint64
	AgentID     *big.Int
	Validator   common.Address
	RequestURI  string
	RequestHash common.Hash
}

// PreparedRequest carries the transaction plus the correlation fields
// actually encoded into it.
type PreparedRequest struct {
	Tx          *chain.TxRequest `json:"tx"`
	RequestURI  string           `json:"requestUri"`
	RequestHash common.Hash      `json:"requestHash"`
}

// PrepareRequestTx builds the validationRequest transaction. An omitted
// URI is synthesized from the agent id; an omitted hash is
// keccak256(utf8(uri)).
func (s *Service) PrepareRequestTx(ctx context.Context, params RequestParams) (*PreparedRequest, error) {
	if params.AgentID == nil {
		return nil, fault.Malformedf("agent id must be set")
	}
	if params.AgentID.Sign() < 0 {
		return nil, fault.Malformedf("agent id %s must not be negative", params.AgentID)
	}
	if params.Validator == (common.Address{}) {
		return nil, fault.Malformedf("validator address must be set")
	}

	uri := params.RequestURI
	if uri == "" {
		uri = fmt.Sprintf("urn:agent:%s:validation-request", params.AgentID)
	}
	requestHash := params.RequestHash
	if requestHash == (common.Hash{}) {
		requestHash = crypto.Keccak256Hash([]byte(uri))
	}

	tx, err := s.registry.RequestTx(params.ChainID, params.Validator, params.AgentID, uri, requestHash)
	if err != nil {
		return nil, err
	}

	metrics.PreparedTxsTotal.WithLabelValues("validation_request").Inc()
	return &PreparedRequest{Tx: tx, RequestURI: uri, RequestHash: requestHash}, nil
}

// ResponseParams describes a validation response to prepare. Response is
// an int so out-of-range input can be rejected instead of wrapping.
type ResponseParams struct {
	ChainID      uint64
	RequestHash  common.Hash
	Response     int
	ResponseURI  string
	ResponseHash common.Hash
	Tag          common.Hash
}

// PrepareResponseTx builds the validationResponse transaction. The score
// is range-checked before anything touches the network, and a request
// already answered on chain is rejected rather than silently re-encoded;
// a second response would either revert or overwrite depending on the
// deployment, and neither is worth a wasted transaction.
func (s *Service) PrepareResponseTx(ctx context.Context, params ResponseParams) (*chain.TxRequest, error) {
	if params.RequestHash == (common.Hash{}) {
		return nil, fault.Malformedf("request hash must be set")
	}
	if params.Response < 0 || params.Response > maxResponseScore {
		return nil, fault.Malformedf("response score %d out of range [0,%d]", params.Response, maxResponseScore)
	}

	status, err := s.registry.Status(ctx, params.ChainID, params.RequestHash)
	if err != nil {
		return nil, err
	}
	if !status.Pending() {
		return nil, fault.Malformedf("validation request %s already completed with score %d", params.RequestHash.Hex(), status.Response)
	}

	tx, err := s.registry.ResponseTx(params.ChainID, params.RequestHash, uint8(params.Response), params.ResponseURI, params.ResponseHash, params.Tag)
	if err != nil {
		return nil, err
	}

	metrics.PreparedTxsTotal.WithLabelValues("validation_response").Inc()
	return tx, nil
}

// Status reads one request's registry state.
func (s *Service) Status(ctx context.Context, chainID uint64, requestHash common.Hash) (model.ValidationStatus, error) {
	return s.registry.Status(ctx, chainID, requestHash)
}

// AgentValidations lists the registry state of every validation recorded
// for an agent.
func (s *Service) AgentValidations(ctx context.Context, chainID uint64, agentID *big.Int) ([]model.ValidationStatus, error) {
	if agentID == nil {
		return nil, fault.Malformedf("agent id must be set")
	}
	hashes, err := s.registry.AgentValidations(ctx, chainID, agentID)
	if err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return nil, nil
	}
	return s.registry.StatusBatch(ctx, chainID, hashes)
}

// ReconciledValidation is one validator-addressed request merged with
// whatever the indexer knows about it.
type ReconciledValidation struct {
	model.ValidationStatus

	Matched   bool
	MatchedBy string
	IndexedAt uint64
}

// Matching keys for ReconciledValidation.MatchedBy.
const (
	MatchedByRequestHash = "request_hash"
	MatchedByTxHash      = "tx_hash"
)

// ValidatorView lists every request addressed to a validator, reconciled
// against the indexer. The registry is authoritative; indexer and event
// scan failures degrade the enrichment, never the view.
func (s *Service) ValidatorView(ctx context.Context, chainID uint64, validator common.Address) ([]ReconciledValidation, error) {
	ctx, span := tracing.Tracer("validation").Start(ctx, "validation.validatorView",
		otelTrace.WithAttributes(
			attribute.Int64("chain_id", int64(chainID)),
			attribute.String("validator", validator.Hex()),
		),
	)
	defer span.End()

	out, err := s.validatorView(ctx, chainID, validator)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("requests", len(out)))
	return out, nil
}

func (s *Service) validatorView(ctx context.Context, chainID uint64, validator common.Address) ([]ReconciledValidation, error) {
	if validator == (common.Address{}) {
		return nil, fault.Malformedf("validator address must be set")
	}

	hashes, err := s.registry.ValidatorRequests(ctx, chainID, validator)
	if err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return nil, nil
	}
	statuses, err := s.registry.StatusBatch(ctx, chainID, hashes)
	if err != nil {
		return nil, err
	}

	txByRequest, err := s.registry.RequestTxHashes(ctx, chainID, validator, 0)
	if err != nil {
		s.logger.Warn("request event scan failed, view will lack tx hashes",
			"chain_id", chainID, "validator", validator.Hex(), "error", err)
		txByRequest = nil
	}

	indexed, err := s.indexer.ValidatorValidations(ctx, chainID, validator)
	if err != nil {
		s.logger.Warn("indexer unavailable, view will be chain only",
			"chain_id", chainID, "validator", validator.Hex(), "error", err)
		metrics.ValidationMatchesTotal.WithLabelValues("indexer_unavailable").Inc()
		indexed = nil
	}

	return s.reconcile(statuses, txByRequest, indexed), nil
}

// reconcile merges registry statuses with indexer records using two
// lookup maps over the indexer set: normalized request hash and
// lowercased transaction hash.
func (s *Service) reconcile(statuses []model.ValidationStatus, txByRequest map[common.Hash]common.Hash, indexed []model.IndexedValidation) []ReconciledValidation {
	byRequest := make(map[string]model.IndexedValidation, len(indexed))
	byTx := make(map[string]model.IndexedValidation, len(indexed))
	for _, rec := range indexed {
		if rec.TxHash != "" {
			byTx[strings.ToLower(rec.TxHash)] = rec
		}
		key, err := NormalizeHash(rec.RequestHash)
		if err != nil {
			// Still reachable through its transaction hash above.
			s.logger.Warn("indexer record has unusable request hash",
				"request_hash", rec.RequestHash, "tx_hash", rec.TxHash, "error", err)
			metrics.ValidationMatchesTotal.WithLabelValues("indexer_unparsable").Inc()
			continue
		}
		byRequest[key] = rec
	}

	out := make([]ReconciledValidation, 0, len(statuses))
	for _, status := range statuses {
		merged := ReconciledValidation{ValidationStatus: status}
		if txHash, ok := txByRequest[status.RequestHash]; ok {
			merged.TxHash = strings.ToLower(txHash.Hex())
		}

		key, err := NormalizeHash(status.RequestHash)
		if err == nil {
			if rec, ok := byRequest[key]; ok {
				merged.Matched = true
				merged.MatchedBy = MatchedByRequestHash
				merged.IndexedAt = rec.Timestamp
				if merged.TxHash == "" && rec.TxHash != "" {
					merged.TxHash = strings.ToLower(rec.TxHash)
				}
			}
		}
		if !merged.Matched && merged.TxHash != "" {
			if rec, ok := byTx[merged.TxHash]; ok {
				merged.Matched = true
				merged.MatchedBy = MatchedByTxHash
				merged.IndexedAt = rec.Timestamp
			}
		}

		if merged.Matched {
			metrics.ValidationMatchesTotal.WithLabelValues("matched").Inc()
		} else {
			metrics.ValidationMatchesTotal.WithLabelValues("unmatched").Inc()
		}
		out = append(out, merged)
	}
	return out
}
