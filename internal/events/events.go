// Package events publishes lifecycle notifications for drafts and
// prepared transactions. Publishing is fire-and-forget from the caller's
// point of view: a lost event never fails the request that produced it.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names one lifecycle transition.
type Type string

const (
	TypeDraftCreated   Type = "draft.created"
	TypeDraftSigned    Type = "draft.signed"
	TypeDraftCompleted Type = "draft.completed"

	TypeValidationRequestPrepared  Type = "validation.request.prepared"
	TypeValidationResponsePrepared Type = "validation.response.prepared"
	TypeRevocationPrepared         Type = "association.revocation.prepared"
)

// Event is one published lifecycle notification. Payload keys are
// event-specific and flat; consumers must tolerate unknown keys.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Type       Type              `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Payload    map[string]string `json:"payload,omitempty"`
}

// New stamps a fresh event with identity and time.
func New(typ Type, payload map[string]string) Event {
	return Event{
		ID:         uuid.New(),
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Publisher delivers events to whatever transport the deployment wired
// in. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}
