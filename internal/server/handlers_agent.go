package server

import (
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/identity"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/registry"
)

type agentJSON struct {
	ChainID         uint64                      `json:"chainId"`
	ID              string                      `json:"id"`
	Owner           common.Address              `json:"owner"`
	TokenURI        string                      `json:"tokenUri,omitempty"`
	Name            string                      `json:"name,omitempty"`
	Description     string                      `json:"description,omitempty"`
	Endpoint        string                      `json:"endpoint,omitempty"`
	OwnerIsContract bool                        `json:"ownerIsContract"`
	Reputation      *registry.ReputationSummary `json:"reputation,omitempty"`
}

func agentToJSON(a *identity.ResolvedAgent) agentJSON {
	id := ""
	if a.ID != nil {
		id = a.ID.String()
	}
	return agentJSON{
		ChainID:         a.ChainID,
		ID:              id,
		Owner:           a.Owner,
		TokenURI:        a.TokenURI,
		Name:            a.Name,
		Description:     a.Description,
		Endpoint:        a.Endpoint,
		OwnerIsContract: a.OwnerIsContract,
		Reputation:      a.Reputation,
	}
}

func (s *Server) handleResolveAgent(w http.ResponseWriter, r *http.Request) {
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

	agent, err := s.agents.Resolve(r.Context(), chainID, agentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agentToJSON(agent))
}

type registerAgentRequest struct {
	ChainID  uint64            `json:"chainId"`
	UserOp   json.RawMessage   `json:"userOp"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type registerAgentResponse struct {
	AgentID     string             `json:"agentId"`
	Owner       common.Address     `json:"owner"`
	TokenURI    string             `json:"tokenUri,omitempty"`
	UserOpHash  common.Hash        `json:"userOpHash"`
	TxHash      common.Hash        `json:"txHash"`
	BlockNumber uint64             `json:"blockNumber"`
	MetadataTxs []*chain.TxRequest `json:"metadataTxs,omitempty"`
}

// handleRegisterAgent submits the signed registration user operation
// through the bundler and waits for the mint. This is the one endpoint
// that sends anything; the operation arrives already signed, so the
// server still holds no keys.
func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.agents.Register(r.Context(), identity.RegisterParams{
		ChainID:  req.ChainID,
		UserOp:   req.UserOp,
		Metadata: req.Metadata,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	agentID := ""
	if result.AgentID != nil {
		agentID = result.AgentID.String()
	}
	writeJSON(w, http.StatusCreated, registerAgentResponse{
		AgentID:     agentID,
		Owner:       result.Owner,
		TokenURI:    result.TokenURI,
		UserOpHash:  result.UserOpHash,
		TxHash:      result.TxHash,
		BlockNumber: result.BlockNumber,
		MetadataTxs: result.MetadataTxs,
	})
}

type prepareRegisterRequest struct {
	ChainID  uint64 `json:"chainId"`
	TokenURI string `json:"tokenUri"`
}

// handlePrepareRegister builds the plain register transaction for
// callers minting from an EOA instead of through the bundler.
func (s *Server) handlePrepareRegister(w http.ResponseWriter, r *http.Request) {
	var req prepareRegisterRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	tx, err := s.agents.PrepareRegisterTx(req.ChainID, req.TokenURI)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preparedTxResponse{Tx: tx})
}
