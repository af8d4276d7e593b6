package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/association"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/domain/model"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/store"
)

// DraftRepo provides access to association draft data.
type DraftRepo struct {
	db *DB
}

var _ store.DraftRepository = (*DraftRepo)(nil)

func NewDraftRepo(db *DB) *DraftRepo {
	return &DraftRepo{db: db}
}

const draftColumns = `id, chain_id, association_id, initiator, approver,
		valid_at, valid_until, interface_id, data,
		initiator_key_type, approver_key_type,
		initiator_signature, approver_signature,
		status, created_at, updated_at`

func (r *DraftRepo) Create(ctx context.Context, draft *model.AssociationDraft) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	query := `
		INSERT INTO association_drafts (` + draftColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.ExecContext(ctx, query,
		draft.ID,
		int64(draft.ChainID),
		draft.AssociationID,
		draft.Initiator,
		draft.Approver,
		int64(draft.ValidAt),
		int64(draft.ValidUntil),
		draft.InterfaceID,
		draft.Data,
		draft.InitiatorKeyType,
		draft.ApproverKeyType,
		draft.InitiatorSignature,
		draft.ApproverSignature,
		string(draft.Status),
		draft.CreatedAt,
		draft.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert draft %s: %w", draft.ID, err)
	}
	return nil
}

func (r *DraftRepo) Get(ctx context.Context, id uuid.UUID) (*model.AssociationDraft, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	query := `SELECT ` + draftColumns + ` FROM association_drafts WHERE id = $1`
	draft, err := scanDraft(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get draft %s: %w", id, err)
	}
	return draft, nil
}

// AttachSignature loads the draft under a row lock, applies the model's
// own attachment rules, and writes the mutable columns back. Running the
// whole exchange in one transaction keeps two concurrent signers from
// both observing an empty slot.
func (r *DraftRepo) AttachSignature(ctx context.Context, id uuid.UUID, role association.Role, sig []byte) (*model.AssociationDraft, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin attach signature: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	query := `SELECT ` + draftColumns + ` FROM association_drafts WHERE id = $1 FOR UPDATE`
	draft, err := scanDraft(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock draft %s: %w", id, err)
	}

	if err := draft.AttachSignature(role, sig); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE association_drafts
		SET initiator_signature = $2, approver_signature = $3, status = $4, updated_at = $5
		WHERE id = $1
	`, draft.ID, draft.InitiatorSignature, draft.ApproverSignature, string(draft.Status), draft.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update draft %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit attach signature: %w", err)
	}
	committed = true
	return draft, nil
}

func (r *DraftRepo) ListByAccount(ctx context.Context, account []byte) ([]model.AssociationDraft, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	query := `
		SELECT ` + draftColumns + `
		FROM association_drafts
		WHERE initiator = $1 OR approver = $1
		ORDER BY created_at DESC, id
	`
	rows, err := r.db.QueryContext(ctx, query, account)
	if err != nil {
		return nil, fmt.Errorf("list drafts by account: %w", err)
	}
	defer rows.Close()

	var drafts []model.AssociationDraft
	for rows.Next() {
		draft, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draft row: %w", err)
		}
		drafts = append(drafts, *draft)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate draft rows: %w", err)
	}
	return drafts, nil
}

func (r *DraftRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM association_drafts WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete draft %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete draft %s: %w", id, err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(row rowScanner) (*model.AssociationDraft, error) {
	var (
		d          model.AssociationDraft
		chainID    int64
		validAt    int64
		validUntil int64
		status     string
	)
	if err := row.Scan(
		&d.ID,
		&chainID,
		&d.AssociationID,
		&d.Initiator,
		&d.Approver,
		&validAt,
		&validUntil,
		&d.InterfaceID,
		&d.Data,
		&d.InitiatorKeyType,
		&d.ApproverKeyType,
		&d.InitiatorSignature,
		&d.ApproverSignature,
		&status,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.ChainID = uint64(chainID)
	d.ValidAt = uint64(validAt)
	d.ValidUntil = uint64(validUntil)
	d.Status = model.DraftStatus(status)
	return &d, nil
}
