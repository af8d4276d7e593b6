package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/association"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/domain/model"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
)

func testDraft(t *testing.T, initiator, approver []byte) *model.AssociationDraft {
	t.Helper()
	sar := &association.SignedRecord{
		Record: association.Record{
			Initiator:   initiator,
			Approver:    approver,
			ValidAt:     1_700_000_000,
			InterfaceID: [4]byte{0xaa, 0xbb, 0xcc, 0xdd},
			Data:        []byte("session-key"),
		},
		InitiatorKeyType:   association.KeyTypeECDSA,
		ApproverKeyType:    association.KeyTypeECDSA,
		InitiatorSignature: []byte{0x01, 0x02},
	}
	return model.NewAssociationDraft(11155111, sar)
}

func TestMemory_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	draft := testDraft(t, []byte{0xa1}, []byte{0xb2})

	require.NoError(t, repo.Create(ctx, draft))

	got, err := repo.Get(ctx, draft.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, draft.AssociationID, got.AssociationID)
	assert.Equal(t, model.DraftStatusPending, got.Status)

	missing, err := repo.Get(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemory_Create_DuplicateID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	draft := testDraft(t, []byte{0xa1}, []byte{0xb2})

	require.NoError(t, repo.Create(ctx, draft))
	err := repo.Create(ctx, draft)
	require.Error(t, err)
	assert.True(t, fault.IsMalformed(err))
}

func TestMemory_AttachSignature_CompletesDraft(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	draft := testDraft(t, []byte{0xa1}, []byte{0xb2})
	require.NoError(t, repo.Create(ctx, draft))

	updated, err := repo.AttachSignature(ctx, draft.ID, association.RoleApprover, []byte{0x03, 0x04})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, model.DraftStatusComplete, updated.Status)
	assert.Equal(t, []byte{0x03, 0x04}, updated.ApproverSignature)

	stored, err := repo.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DraftStatusComplete, stored.Status)
}

func TestMemory_AttachSignature_RejectsOverwrite(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	draft := testDraft(t, []byte{0xa1}, []byte{0xb2})
	require.NoError(t, repo.Create(ctx, draft))

	_, err := repo.AttachSignature(ctx, draft.ID, association.RoleInitiator, []byte{0xff})
	require.Error(t, err)
	assert.True(t, fault.IsMalformed(err))
	assert.Contains(t, err.Error(), "already carries")

	stored, err := repo.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, stored.InitiatorSignature)
	assert.Equal(t, model.DraftStatusPending, stored.Status)
}

func TestMemory_AttachSignature_UnknownID(t *testing.T) {
	repo := NewMemory()
	got, err := repo.AttachSignature(context.Background(), uuid.New(), association.RoleApprover, []byte{0x01})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemory_ListByAccount(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	alice := []byte{0xa1, 0xa2}
	bob := []byte{0xb1, 0xb2}
	carol := []byte{0xc1, 0xc2}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := testDraft(t, alice, bob)
	first.CreatedAt = base
	second := testDraft(t, carol, alice)
	second.CreatedAt = base.Add(time.Minute)
	third := testDraft(t, bob, carol)
	third.CreatedAt = base.Add(2 * time.Minute)
	for _, d := range []*model.AssociationDraft{first, second, third} {
		require.NoError(t, repo.Create(ctx, d))
	}

	got, err := repo.ListByAccount(ctx, alice)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, first.ID, got[1].ID)

	none, err := repo.ListByAccount(ctx, []byte{0xee})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	draft := testDraft(t, []byte{0xa1}, []byte{0xb2})
	require.NoError(t, repo.Create(ctx, draft))

	deleted, err := repo.Delete(ctx, draft.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	again, err := repo.Delete(ctx, draft.ID)
	require.NoError(t, err)
	assert.False(t, again)

	got, err := repo.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemory_ReturnedDraftIsACopy(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	draft := testDraft(t, []byte{0xa1}, []byte{0xb2})
	require.NoError(t, repo.Create(ctx, draft))

	got, err := repo.Get(ctx, draft.ID)
	require.NoError(t, err)
	got.Data[0] = 0x00
	got.InitiatorSignature[0] = 0x00

	stored, err := repo.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("session-key"), stored.Data)
	assert.Equal(t, []byte{0x01, 0x02}, stored.InitiatorSignature)
}
