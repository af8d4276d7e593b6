package server

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/association"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/domain/model"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
)

type draftJSON struct {
	ID            uuid.UUID `json:"id"`
	ChainID       uint64    `json:"chainId"`
	AssociationID string    `json:"associationId"`
	Status        string    `json:"status"`
	Association   SARJSON   `json:"association"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// draftToJSON renders straight from the draft columns; no digest check
// happens on the read path.
func draftToJSON(d *model.AssociationDraft) draftJSON {
	return draftJSON{
		ID:            d.ID,
		ChainID:       d.ChainID,
		AssociationID: d.AssociationID,
		Status:        string(d.Status),
		Association: SARJSON{
			Record: RecordJSON{
				Initiator:   d.Initiator,
				Approver:    d.Approver,
				ValidAt:     d.ValidAt,
				ValidUntil:  d.ValidUntil,
				InterfaceID: d.InterfaceID,
				Data:        d.Data,
			},
			InitiatorKeyType:   d.InitiatorKeyType,
			ApproverKeyType:    d.ApproverKeyType,
			InitiatorSignature: d.InitiatorSignature,
			ApproverSignature:  d.ApproverSignature,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type createDraftRequest struct {
	ChainID     uint64  `json:"chainId"`
	Association SARJSON `json:"association"`
}

// handleCreateDraft parks a record, usually half signed, so the
// counterparty can fetch and countersign it later.
func (s *Server) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var req createDraftRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sar, err := sarFromJSON(req.Association)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	draft, err := s.drafts.Create(r.Context(), req.ChainID, sar)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, draftToJSON(draft))
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	draft, err := s.drafts.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draftToJSON(draft))
}

type attachSignatureRequest struct {
	Role      string        `json:"role"`
	Signature hexutil.Bytes `json:"signature"`
}

// handleAttachSignature fills one signature slot. The draft service
// rejects overwrites, so replaying this request is safe to surface as a
// client error.
func (s *Server) handleAttachSignature(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req attachSignatureRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	draft, err := s.drafts.Attach(r.Context(), id, association.Role(req.Role), req.Signature)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draftToJSON(draft))
}

func (s *Server) handleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.drafts.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type accountDraftsResponse struct {
	Drafts []draftJSON `json:"drafts"`
}

// handleAccountDrafts lists drafts involving the account, newest first.
// chainId is only needed to qualify a bare EVM address.
func (s *Server) handleAccountDrafts(w http.ResponseWriter, r *http.Request) {
	chainID, err := chainIDQueryOptional(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := parseAccount(r.PathValue("account"), chainID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	drafts, err := s.drafts.List(r.Context(), account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := accountDraftsResponse{Drafts: make([]draftJSON, 0, len(drafts))}
	for i := range drafts {
		out.Drafts = append(out.Drafts, draftToJSON(&drafts[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func parseUUID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, fault.Malformedf("draft id %q is not a uuid", raw)
	}
	return id, nil
}
