package store

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/association"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/domain/model"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
)

// Memory is an in-process DraftRepository. Every read and write works on
// copies, so callers can never mutate stored state through a returned
// draft.
type Memory struct {
	mu     sync.RWMutex
	drafts map[uuid.UUID]*model.AssociationDraft
}

var _ DraftRepository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{drafts: make(map[uuid.UUID]*model.AssociationDraft)}
}

func (m *Memory) Create(_ context.Context, draft *model.AssociationDraft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drafts[draft.ID]; ok {
		return fault.Malformedf("draft %s already exists", draft.ID)
	}
	m.drafts[draft.ID] = cloneDraft(draft)
	return nil
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (*model.AssociationDraft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, nil
	}
	return cloneDraft(d), nil
}

func (m *Memory) AttachSignature(_ context.Context, id uuid.UUID, role association.Role, sig []byte) (*model.AssociationDraft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, nil
	}
	updated := cloneDraft(d)
	if err := updated.AttachSignature(role, sig); err != nil {
		return nil, err
	}
	m.drafts[id] = updated
	return cloneDraft(updated), nil
}

func (m *Memory) ListByAccount(_ context.Context, account []byte) ([]model.AssociationDraft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.AssociationDraft
	for _, d := range m.drafts {
		if d.Involves(account) {
			out = append(out, *cloneDraft(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *Memory) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drafts[id]; !ok {
		return false, nil
	}
	delete(m.drafts, id)
	return true, nil
}

func cloneDraft(d *model.AssociationDraft) *model.AssociationDraft {
	c := *d
	c.Initiator = bytes.Clone(d.Initiator)
	c.Approver = bytes.Clone(d.Approver)
	c.InterfaceID = bytes.Clone(d.InterfaceID)
	c.Data = bytes.Clone(d.Data)
	c.InitiatorKeyType = bytes.Clone(d.InitiatorKeyType)
	c.ApproverKeyType = bytes.Clone(d.ApproverKeyType)
	c.InitiatorSignature = bytes.Clone(d.InitiatorSignature)
	c.ApproverSignature = bytes.Clone(d.ApproverSignature)
	return &c
}
