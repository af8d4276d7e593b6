package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/events"
)

func TestDraftLifecycle(t *testing.T) {
	srv, td := newTestServer(t)
	sar, approver := signedRecord(t, testChainID, false)

	rec := doJSON(t, srv, http.MethodPost, "/v1/drafts", map[string]any{
		"chainId":     testChainID,
		"association": sarToJSON(sar),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created draftJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, sar.ID().Hex(), created.AssociationID)
	assert.NotEmpty(t, created.Association.InitiatorSignature)
	assert.Empty(t, created.Association.ApproverSignature)

	rec = doJSON(t, srv, http.MethodGet, "/v1/drafts/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	sig, err := approver.SignDigest(context.Background(), sar.ID())
	require.NoError(t, err)
	rec = doJSON(t, srv, http.MethodPost, "/v1/drafts/"+created.ID.String()+"/signatures", map[string]any{
		"role":      "approver",
		"signature": hexutil.Bytes(sig),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var completed draftJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completed))
	assert.Equal(t, "complete", completed.Status)
	assert.Equal(t, hexutil.Bytes(sig), completed.Association.ApproverSignature)

	rec = doJSON(t, srv, http.MethodGet, "/v1/accounts/"+hexutil.Encode(sar.Record.Initiator)+"/drafts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed accountDraftsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Drafts, 1)
	assert.Equal(t, created.ID, listed.Drafts[0].ID)

	types := make([]events.Type, 0, 2)
	for _, ev := range td.events.Events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []events.Type{events.TypeDraftCreated, events.TypeDraftCompleted}, types)

	rec = doJSON(t, srv, http.MethodDelete, "/v1/drafts/"+created.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/v1/drafts/"+created.ID.String(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateDraft_InvalidRecord(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/drafts", map[string]any{
		"chainId": testChainID,
		"association": map[string]any{
			"record": map[string]any{
				"approver": "0xdeadbeef",
				"validAt":  1_700_000_000,
			},
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttachSignature_OverwriteRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	sar, _ := signedRecord(t, testChainID, false)

	rec := doJSON(t, srv, http.MethodPost, "/v1/drafts", map[string]any{
		"chainId":     testChainID,
		"association": sarToJSON(sar),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created draftJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, srv, http.MethodPost, "/v1/drafts/"+created.ID.String()+"/signatures", map[string]any{
		"role":      "initiator",
		"signature": hexutil.Bytes{0x01, 0x02},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "already carries an initiator signature")
}

func TestAttachSignature_UnknownDraft(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/drafts/"+uuid.NewString()+"/signatures", map[string]any{
		"role":      "approver",
		"signature": hexutil.Bytes{0x01},
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetDraft_BadID(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/v1/drafts/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "is not a uuid")
}
