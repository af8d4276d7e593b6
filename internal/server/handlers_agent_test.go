package server

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/domain/model"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/identity"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/registry"
)

func TestResolveAgent(t *testing.T) {
	srv, td := newTestServer(t)

	td.agents.resolveFn = func(_ context.Context, chainID uint64, agentID *big.Int) (*identity.ResolvedAgent, error) {
		assert.Equal(t, testChainID, chainID)
		assert.Equal(t, int64(7), agentID.Int64())
		return &identity.ResolvedAgent{
			Agent: model.Agent{
				ChainID:     chainID,
				ID:          agentID,
				Owner:       testInitiator,
				TokenURI:    "ipfs://bafyagent",
				Name:        "travel-butler",
				Description: "books trips",
				Endpoint:    "https://agents.example.com/butler",
			},
			OwnerIsContract: true,
			Reputation:      &registry.ReputationSummary{Count: big.NewInt(3), AverageScore: 88},
		}, nil
	}

	rec := doJSON(t, srv, http.MethodGet, "/v1/agents/7?chainId=11155111", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp agentJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "7", resp.ID)
	assert.Equal(t, testInitiator, resp.Owner)
	assert.Equal(t, "travel-butler", resp.Name)
	assert.True(t, resp.OwnerIsContract)
	require.NotNil(t, resp.Reputation)
	assert.Equal(t, uint8(88), resp.Reputation.AverageScore)
	assert.Zero(t, resp.Reputation.Count.Cmp(big.NewInt(3)))
}

func TestResolveAgent_NotFound(t *testing.T) {
	srv, td := newTestServer(t)

	td.agents.resolveFn = func(_ context.Context, chainID uint64, agentID *big.Int) (*identity.ResolvedAgent, error) {
		return nil, fault.NotFoundf("agent %s not found on chain %d", agentID, chainID)
	}

	rec := doJSON(t, srv, http.MethodGet, "/v1/agents/999?chainId=11155111", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "agent 999 not found")
}

func TestRegisterAgent(t *testing.T) {
	srv, td := newTestServer(t)

	td.agents.registerFn = func(_ context.Context, params identity.RegisterParams) (*identity.RegisterResult, error) {
		assert.Equal(t, testChainID, params.ChainID)
		assert.JSONEq(t, `{"sender":"0x1111111111111111111111111111111111111111"}`, string(params.UserOp))
		assert.Equal(t, "ipfs://bafycard", params.Metadata["agentCard"])
		return &identity.RegisterResult{
			AgentID:     big.NewInt(42),
			Owner:       testInitiator,
			TokenURI:    "ipfs://bafyagent",
			UserOpHash:  common.Hash{0x0a},
			TxHash:      common.Hash{0x0b},
			BlockNumber: 123456,
			MetadataTxs: []*chain.TxRequest{{ChainID: params.ChainID}},
		}, nil
	}

	rec := doJSON(t, srv, http.MethodPost, "/v1/agents", map[string]any{
		"chainId":  testChainID,
		"userOp":   map[string]any{"sender": testInitiator.Hex()},
		"metadata": map[string]string{"agentCard": "ipfs://bafycard"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp registerAgentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "42", resp.AgentID)
	assert.Equal(t, testInitiator, resp.Owner)
	assert.Equal(t, uint64(123456), resp.BlockNumber)
	require.Len(t, resp.MetadataTxs, 1)
}

func TestRegisterAgent_UpstreamSanitized(t *testing.T) {
	srv, td := newTestServer(t)

	td.agents.registerFn = func(_ context.Context, _ identity.RegisterParams) (*identity.RegisterResult, error) {
		return nil, fault.Upstream(context.DeadlineExceeded, "bundler https://paymaster.internal timed out")
	}

	rec := doJSON(t, srv, http.MethodPost, "/v1/agents", map[string]any{
		"chainId": testChainID,
		"userOp":  map[string]any{"sender": testInitiator.Hex()},
	})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "paymaster.internal")
}

func TestPrepareRegister(t *testing.T) {
	srv, td := newTestServer(t)

	td.agents.prepareRegisterFn = func(chainID uint64, tokenURI string) (*chain.TxRequest, error) {
		assert.Equal(t, testChainID, chainID)
		assert.Equal(t, "ipfs://bafyagent", tokenURI)
		return &chain.TxRequest{ChainID: chainID, Data: []byte{0xaa}}, nil
	}

	rec := doJSON(t, srv, http.MethodPost, "/v1/agents/prepare-register", map[string]any{
		"chainId":  testChainID,
		"tokenUri": "ipfs://bafyagent",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp preparedTxResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Tx)
	assert.Equal(t, []byte{0xaa}, []byte(resp.Tx.Data))
}
