// Package store persists association drafts while they collect their
// second signature. Two implementations are provided: a Postgres-backed
// repository for deployments and an in-memory one for tests and
// single-process setups.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/association"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/domain/model"
)

// DraftRepository provides access to association draft data.
//
// Lookups for an unknown id return (nil, nil); callers translate that
// into their own not-found handling. Semantic violations, such as
// overwriting a signature that is already present, surface as
// fault-categorized errors so transport layers can map them to client
// errors, while infrastructure failures come back as plain wrapped
// errors.
type DraftRepository interface {
	// Create persists a new draft row. The draft id must be unique.
	Create(ctx context.Context, draft *model.AssociationDraft) error

	// Get returns the draft with the given id, or (nil, nil) when no
	// such draft exists.
	Get(ctx context.Context, id uuid.UUID) (*model.AssociationDraft, error)

	// AttachSignature fills one signature slot on the stored draft and
	// returns the updated row. The status advances to complete when
	// both slots are filled. Attaching over a present signature fails.
	AttachSignature(ctx context.Context, id uuid.UUID, role association.Role, sig []byte) (*model.AssociationDraft, error)

	// ListByAccount returns every draft whose initiator or approver
	// equals the given interoperable address bytes, newest first.
	ListByAccount(ctx context.Context, account []byte) ([]model.AssociationDraft, error)

	// Delete removes the draft with the given id and reports whether a
	// row was actually deleted.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}
