// Package drafts coordinates the two-party signing exchange: one side
// creates a draft from a half-signed record, the counterparty attaches
// the second signature later, and a completed draft is ready to be
// encoded into a store transaction.
package drafts

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/association"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/domain/model"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/events"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/metrics"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/store"
)

type Service struct {
	repo      store.DraftRepository
	publisher events.Publisher
	logger    *slog.Logger
}

func NewService(repo store.DraftRepository, publisher events.Publisher, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With("component", "draft_service"),
	}
}

// Create parks a record so the missing signature can be collected. The
// record fields are validated here; signatures are not, because a draft
// is by definition not yet verifiable. Cryptographic verification
// happens when the completed draft is turned into a store transaction.
func (s *Service) Create(ctx context.Context, chainID uint64, sar *association.SignedRecord) (*model.AssociationDraft, error) {
	if chainID == 0 {
		return nil, fault.Malformedf("chain id must be set")
	}
	if sar == nil {
		return nil, fault.Malformedf("record must be provided")
	}
	if err := sar.Record.Validate(); err != nil {
		return nil, err
	}

	draft := model.NewAssociationDraft(chainID, sar)
	if err := s.repo.Create(ctx, draft); err != nil {
		return nil, err
	}

	metrics.DraftEventsTotal.WithLabelValues("created").Inc()
	s.publish(ctx, events.New(events.TypeDraftCreated, map[string]string{
		"draft_id":       draft.ID.String(),
		"chain_id":       strconv.FormatUint(draft.ChainID, 10),
		"association_id": draft.AssociationID,
	}))
	s.logger.Info("draft created",
		"draft_id", draft.ID,
		"chain_id", draft.ChainID,
		"association_id", draft.AssociationID,
		"status", draft.Status)
	return draft, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.AssociationDraft, error) {
	draft, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if draft == nil {
		return nil, fault.NotFoundf("draft %s not found", id)
	}
	return draft, nil
}

// Attach fills one signature slot. When the second slot fills, the
// draft completes and a completion event is published so waiting
// parties know the record is ready to store.
func (s *Service) Attach(ctx context.Context, id uuid.UUID, role association.Role, sig []byte) (*model.AssociationDraft, error) {
	draft, err := s.repo.AttachSignature(ctx, id, role, sig)
	if err != nil {
		return nil, err
	}
	if draft == nil {
		return nil, fault.NotFoundf("draft %s not found", id)
	}

	payload := map[string]string{
		"draft_id":       draft.ID.String(),
		"association_id": draft.AssociationID,
		"role":           string(role),
	}
	if draft.Status == model.DraftStatusComplete {
		metrics.DraftEventsTotal.WithLabelValues("completed").Inc()
		s.publish(ctx, events.New(events.TypeDraftCompleted, payload))
	} else {
		metrics.DraftEventsTotal.WithLabelValues("signed").Inc()
		s.publish(ctx, events.New(events.TypeDraftSigned, payload))
	}
	s.logger.Info("signature attached", "draft_id", draft.ID, "role", role, "status", draft.Status)
	return draft, nil
}

func (s *Service) List(ctx context.Context, account []byte) ([]model.AssociationDraft, error) {
	if len(account) == 0 {
		return nil, fault.Malformedf("account must be set")
	}
	return s.repo.ListByAccount(ctx, account)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fault.NotFoundf("draft %s not found", id)
	}
	metrics.DraftEventsTotal.WithLabelValues("deleted").Inc()
	s.logger.Info("draft deleted", "draft_id", id)
	return nil
}

// publish is fire-and-forget; the publisher logs and counts failures.
func (s *Service) publish(ctx context.Context, ev events.Event) {
	_ = s.publisher.Publish(ctx, ev)
}
