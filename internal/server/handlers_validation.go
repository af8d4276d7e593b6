package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/domain/model"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/events"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/validation"
)

type validationStatusJSON struct {
	ChainID      uint64         `json:"chainId"`
	AgentID      string         `json:"agentId"`
	Validator    common.Address `json:"validator"`
	RequestURI   string         `json:"requestUri,omitempty"`
	RequestHash  common.Hash    `json:"requestHash"`
	Response     uint8          `json:"response"`
	Pending      bool           `json:"pending"`
	ResponseURI  string         `json:"responseUri,omitempty"`
	ResponseHash *common.Hash   `json:"responseHash,omitempty"`
	Tag          *common.Hash   `json:"tag,omitempty"`
	LastUpdate   uint64         `json:"lastUpdate,omitempty"`
	TxHash       string         `json:"txHash,omitempty"`
}

func validationStatusToJSON(st model.ValidationStatus) validationStatusJSON {
	agentID := ""
	if st.AgentID != nil {
		agentID = st.AgentID.String()
	}
	return validationStatusJSON{
		ChainID:      st.ChainID,
		AgentID:      agentID,
		Validator:    st.Validator,
		RequestURI:   st.RequestURI,
		RequestHash:  st.RequestHash,
		Response:     st.Response,
		Pending:      st.Pending(),
		ResponseURI:  st.ResponseURI,
		ResponseHash: hashPtr(st.ResponseHash),
		Tag:          hashPtr(st.Tag),
		LastUpdate:   st.LastUpdate,
		TxHash:       st.TxHash,
	}
}

// hashPtr turns the zero hash into an omitted field; omitempty cannot
// do that for array types.
func hashPtr(h common.Hash) *common.Hash {
	if h == (common.Hash{}) {
		return nil
	}
	return &h
}

type prepareValidationRequest struct {
	ChainID     uint64        `json:"chainId"`
	AgentID     string        `json:"agentId"`
	Validator   string        `json:"validator"`
	RequestURI  string        `json:"requestUri,omitempty"`
	RequestHash hexutil.Bytes `json:"requestHash,omitempty"`
}

// handlePrepareValidationRequest builds the validationRequest
// transaction. URI and hash default inside the service and come back in
// the response so the caller can track the pending request.
func (s *Server) handlePrepareValidationRequest(w http.ResponseWriter, r *http.Request) {
	var req prepareValidationRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	agentID, err := parseAgentID(req.AgentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !common.IsHexAddress(req.Validator) {
		s.writeError(w, r, fault.Malformedf("validator %q is not an EVM address", req.Validator))
		return
	}
	var requestHash common.Hash
	if len(req.RequestHash) > 0 {
		if len(req.RequestHash) != common.HashLength {
			s.writeError(w, r, fault.Malformedf("requestHash must be 32 bytes, got %d", len(req.RequestHash)))
			return
		}
		requestHash = common.BytesToHash(req.RequestHash)
	}

	prepared, err := s.validations.PrepareRequestTx(r.Context(), validation.RequestParams{
		ChainID:     req.ChainID,
		AgentID:     agentID,
		Validator:   common.HexToAddress(req.Validator),
		RequestURI:  req.RequestURI,
		RequestHash: requestHash,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.publish(r, events.New(events.TypeValidationRequestPrepared, map[string]string{
		"chain_id":     strconv.FormatUint(req.ChainID, 10),
		"agent_id":     agentID.String(),
		"validator":    req.Validator,
		"request_hash": prepared.RequestHash.Hex(),
	}))
	writeJSON(w, http.StatusOK, prepared)
}

type prepareValidationResponse struct {
	ChainID      uint64        `json:"chainId"`
	RequestHash  string        `json:"requestHash"`
	Response     int           `json:"response"`
	ResponseURI  string        `json:"responseUri,omitempty"`
	ResponseHash hexutil.Bytes `json:"responseHash,omitempty"`
	Tag          string        `json:"tag,omitempty"`
}

// handlePrepareValidationResponse builds the validationResponse
// transaction for a pending request.
func (s *Server) handlePrepareValidationResponse(w http.ResponseWriter, r *http.Request) {
	var req prepareValidationResponse
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	requestHash, err := parseHash(req.RequestHash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var responseHash common.Hash
	if len(req.ResponseHash) > 0 {
		if len(req.ResponseHash) != common.HashLength {
			s.writeError(w, r, fault.Malformedf("responseHash must be 32 bytes, got %d", len(req.ResponseHash)))
			return
		}
		responseHash = common.BytesToHash(req.ResponseHash)
	}
	tag, err := parseTag(req.Tag)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	tx, err := s.validations.PrepareResponseTx(r.Context(), validation.ResponseParams{
		ChainID:      req.ChainID,
		RequestHash:  requestHash,
		Response:     req.Response,
		ResponseURI:  req.ResponseURI,
		ResponseHash: responseHash,
		Tag:          tag,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.publish(r, events.New(events.TypeValidationResponsePrepared, map[string]string{
		"chain_id":     strconv.FormatUint(req.ChainID, 10),
		"request_hash": requestHash.Hex(),
		"response":     strconv.Itoa(req.Response),
	}))
	writeJSON(w, http.StatusOK, preparedTxResponse{Tx: tx})
}

// parseTag accepts either a 0x-prefixed bytes32 or a short label copied
// left-aligned into the tag slot, matching how contracts spell short
// strings in bytes32.
func parseTag(raw string) (common.Hash, error) {
	if raw == "" {
		return common.Hash{}, nil
	}
	if strings.HasPrefix(raw, "0x") {
		return parseHash(raw)
	}
	if len(raw) > common.HashLength {
		return common.Hash{}, fault.Malformedf("tag %q exceeds 32 bytes", raw)
	}
	var h common.Hash
	copy(h[:], raw)
	return h, nil
}

func (s *Server) handleValidationStatus(w http.ResponseWriter, r *http.Request) {
	chainID, err := chainIDQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	requestHash, err := parseHash(r.PathValue("requestHash"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status, err := s.validations.Status(r.Context(), chainID, requestHash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validationStatusToJSON(status))
}

type agentValidationsResponse struct {
	Validations []validationStatusJSON `json:"validations"`
}

func (s *Server) handleAgentValidations(w http.ResponseWriter, r *http.Request) {
	chainID, err := chainIDQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	agentID, err := parseAgentID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	statuses, err := s.validations.AgentValidations(r.Context(), chainID, agentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := agentValidationsResponse{Validations: make([]validationStatusJSON, 0, len(statuses))}
	for _, st := range statuses {
		out.Validations = append(out.Validations, validationStatusToJSON(st))
	}
	writeJSON(w, http.StatusOK, out)
}

type reconciledValidationJSON struct {
	validationStatusJSON

	Matched   bool   `json:"matched"`
	MatchedBy string `json:"matchedBy,omitempty"`
	IndexedAt uint64 `json:"indexedAt,omitempty"`
}

type validatorValidationsResponse struct {
	Validations []reconciledValidationJSON `json:"validations"`
}

// handleValidatorValidations lists every request addressed to the
// validator, reconciled against the indexer.
func (s *Server) handleValidatorValidations(w http.ResponseWriter, r *http.Request) {
	chainID, err := chainIDQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	raw := r.PathValue("validator")
	if !common.IsHexAddress(raw) {
		s.writeError(w, r, fault.Malformedf("validator %q is not an EVM address", raw))
		return
	}

	reconciled, err := s.validations.ValidatorView(r.Context(), chainID, common.HexToAddress(raw))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := validatorValidationsResponse{Validations: make([]reconciledValidationJSON, 0, len(reconciled))}
	for _, rec := range reconciled {
		out.Validations = append(out.Validations, reconciledValidationJSON{
			validationStatusJSON: validationStatusToJSON(rec.ValidationStatus),
			Matched:              rec.Matched,
			MatchedBy:            rec.MatchedBy,
			IndexedAt:            rec.IndexedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
