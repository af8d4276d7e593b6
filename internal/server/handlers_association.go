package server

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/association"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/events"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
)

type buildAssociationRequest struct {
	ChainID          uint64        `json:"chainId"`
	Initiator        string        `json:"initiator"`
	Approver         string        `json:"approver"`
	InitiatorKeyType hexutil.Bytes `json:"initiatorKeyType,omitempty"`
	ApproverKeyType  hexutil.Bytes `json:"approverKeyType,omitempty"`
	ValidAt          uint64        `json:"validAt,omitempty"`
	ValidUntil       uint64        `json:"validUntil,omitempty"`
	InterfaceID      hexutil.Bytes `json:"interfaceId,omitempty"`
	Data             hexutil.Bytes `json:"data,omitempty"`

	// Convenience alternative to raw data: a typed payload encoded with
	// the default interface.
	AssociationType *uint8 `json:"associationType,omitempty"`
	Description     string `json:"description,omitempty"`
}

type buildAssociationResponse struct {
	ID          common.Hash `json:"id"`
	Association SARJSON     `json:"association"`
}

// handleBuildAssociation assembles an unsigned record and returns it
// with its digest. The id is what both parties sign; the server holds
// no keys, so signatures always arrive from outside.
func (s *Server) handleBuildAssociation(w http.ResponseWriter, r *http.Request) {
	var req buildAssociationRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if !common.IsHexAddress(req.Initiator) {
		s.writeError(w, r, fault.Malformedf("initiator %q is not an EVM address", req.Initiator))
		return
	}
	if !common.IsHexAddress(req.Approver) {
		s.writeError(w, r, fault.Malformedf("approver %q is not an EVM address", req.Approver))
		return
	}

	data := []byte(req.Data)
	if req.AssociationType != nil {
		if len(data) > 0 {
			s.writeError(w, r, fault.Malformedf("data and associationType are mutually exclusive"))
			return
		}
		encoded, err := association.EncodeData(*req.AssociationType, req.Description)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		data = encoded
	}

	validAt := req.ValidAt
	if validAt == 0 {
		proposed, err := s.associations.ProposeValidAt(r.Context(), req.ChainID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		validAt = proposed
	}

	var interfaceID [4]byte
	if len(req.InterfaceID) > 0 {
		if len(req.InterfaceID) != 4 {
			s.writeError(w, r, fault.Malformedf("interfaceId must be 4 bytes, got %d", len(req.InterfaceID)))
			return
		}
		copy(interfaceID[:], req.InterfaceID)
	}
	initiatorKT, err := keyTypeFromJSON("initiatorKeyType", req.InitiatorKeyType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	approverKT, err := keyTypeFromJSON("approverKeyType", req.ApproverKeyType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sar, err := association.Build(r.Context(), association.BuildParams{
		ChainID:          req.ChainID,
		Initiator:        common.HexToAddress(req.Initiator),
		Approver:         common.HexToAddress(req.Approver),
		InitiatorKeyType: initiatorKT,
		ApproverKeyType:  approverKT,
		ValidAt:          validAt,
		ValidUntil:       req.ValidUntil,
		InterfaceID:      interfaceID,
		Data:             data,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, buildAssociationResponse{
		ID:          sar.ID(),
		Association: sarToJSON(sar),
	})
}

type verifyAssociationRequest struct {
	Association SARJSON `json:"association"`
}

type verifyAssociationResponse struct {
	association.Result
	ID common.Hash `json:"id"`
}

// handleVerifyAssociation checks both signatures. An invalid record is
// still a 200; the outcome is the payload, not an error.
func (s *Server) handleVerifyAssociation(w http.ResponseWriter, r *http.Request) {
	var req verifyAssociationRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sar, err := sarFromJSON(req.Association)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.verifier.Verify(r.Context(), sar)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyAssociationResponse{Result: result, ID: sar.ID()})
}

type storeAssociationRequest struct {
	ChainID     uint64  `json:"chainId"`
	Association SARJSON `json:"association"`
}

type preparedTxResponse struct {
	Tx *chain.TxRequest `json:"tx"`
}

// handleStoreAssociation verifies a fully signed record and prepares
// the storing transaction for the caller to sign and submit.
func (s *Server) handleStoreAssociation(w http.ResponseWriter, r *http.Request) {
	var req storeAssociationRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sar, err := sarFromJSON(req.Association)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	tx, err := s.associations.PrepareStoreTx(r.Context(), req.ChainID, sar)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preparedTxResponse{Tx: tx})
}

type revokeAssociationRequest struct {
	ChainID       uint64 `json:"chainId"`
	AssociationID string `json:"associationId"`
	RevokedAt     uint64 `json:"revokedAt,omitempty"`
}

type revokeAssociationResponse struct {
	Tx        *chain.TxRequest `json:"tx"`
	RevokedAt uint64           `json:"revokedAt"`
}

// handleRevokeAssociation prepares the revocation transaction. An
// omitted revokedAt is resolved to the same skew-buffered timestamp new
// records get, and echoed back so the caller knows what was encoded.
func (s *Server) handleRevokeAssociation(w http.ResponseWriter, r *http.Request) {
	var req revokeAssociationRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := parseHash(req.AssociationID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	revokedAt := req.RevokedAt
	if revokedAt == 0 {
		proposed, err := s.associations.ProposeValidAt(r.Context(), req.ChainID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		revokedAt = proposed
	}

	tx, err := s.associations.PrepareRevokeTx(r.Context(), req.ChainID, id, revokedAt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.publish(r, events.New(events.TypeRevocationPrepared, map[string]string{
		"chain_id":       strconv.FormatUint(req.ChainID, 10),
		"association_id": id.Hex(),
		"revoked_at":     strconv.FormatUint(revokedAt, 10),
	}))
	writeJSON(w, http.StatusOK, revokeAssociationResponse{Tx: tx, RevokedAt: revokedAt})
}

type accountAssociationJSON struct {
	ID                  common.Hash   `json:"id"`
	Role                string        `json:"role"`
	Counterparty        hexutil.Bytes `json:"counterparty"`
	CounterpartyDisplay string        `json:"counterpartyDisplay,omitempty"`
	Active              bool          `json:"active"`
	Association         SARJSON       `json:"association"`
}

type accountAssociationsResponse struct {
	Associations []accountAssociationJSON `json:"associations"`
}

// handleAccountAssociations lists every stored record the account
// appears in, on either side.
func (s *Server) handleAccountAssociations(w http.ResponseWriter, r *http.Request) {
	chainID, err := chainIDQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := parseAccount(r.PathValue("account"), chainID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	assocs, err := s.associations.AssociationsForAccount(r.Context(), chainID, account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := accountAssociationsResponse{Associations: make([]accountAssociationJSON, 0, len(assocs))}
	for _, a := range assocs {
		out.Associations = append(out.Associations, accountAssociationJSON{
			ID:                  a.ID,
			Role:                string(a.Role),
			Counterparty:        a.Counterparty,
			CounterpartyDisplay: a.CounterpartyDisplay,
			Active:              a.Active,
			Association:         sarToJSON(a.SAR),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
