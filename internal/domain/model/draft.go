package model

import (
	"bytes"
	"time"

	"github.com/google/uuid"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/association"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
)

type DraftStatus string

const (
	// DraftStatusPending marks a draft still missing at least one signature.
	DraftStatusPending DraftStatus = "pending"
	// DraftStatusComplete marks a draft carrying both signatures; it is
	// ready to be encoded into a store transaction.
	DraftStatusComplete DraftStatus = "complete"
)

// AssociationDraft parks a half-signed association record while the
// counterparty signature is collected, possibly from another session or
// wallet. The record fields are frozen at creation; only the signature
// columns and status may change afterwards, because any record edit
// would change the digest the first party already signed.
type AssociationDraft struct {
	ID                 uuid.UUID   `db:"id"`
	ChainID            uint64      `db:"chain_id"`
	AssociationID      string      `db:"association_id"`
	Initiator          []byte      `db:"initiator"`
	Approver           []byte      `db:"approver"`
	ValidAt            uint64      `db:"valid_at"`
	ValidUntil         uint64      `db:"valid_until"`
	InterfaceID        []byte      `db:"interface_id"`
	Data               []byte      `db:"data"`
	InitiatorKeyType   []byte      `db:"initiator_key_type"`
	ApproverKeyType    []byte      `db:"approver_key_type"`
	InitiatorSignature []byte      `db:"initiator_signature"`
	ApproverSignature  []byte      `db:"approver_signature"`
	Status             DraftStatus `db:"status"`
	CreatedAt          time.Time   `db:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at"`
}

// NewAssociationDraft snapshots a signed record into a draft row. The
// association id is recomputed here, never taken from the caller.
func NewAssociationDraft(chainID uint64, sar *association.SignedRecord) *AssociationDraft {
	now := time.Now().UTC()
	d := &AssociationDraft{
		ID:                 uuid.New(),
		ChainID:            chainID,
		AssociationID:      sar.ID().Hex(),
		Initiator:          sar.Record.Initiator,
		Approver:           sar.Record.Approver,
		ValidAt:            sar.Record.ValidAt,
		ValidUntil:         sar.Record.ValidUntil,
		InterfaceID:        sar.Record.InterfaceID[:],
		Data:               sar.Record.Data,
		InitiatorKeyType:   sar.InitiatorKeyType[:],
		ApproverKeyType:    sar.ApproverKeyType[:],
		InitiatorSignature: sar.InitiatorSignature,
		ApproverSignature:  sar.ApproverSignature,
		Status:             DraftStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	d.refreshStatus()
	return d
}

// SignedRecord rebuilds the association value persisted in this draft.
func (d *AssociationDraft) SignedRecord() (*association.SignedRecord, error) {
	if len(d.InterfaceID) != 4 {
		return nil, fault.Malformedf("draft %s has %d-byte interface id", d.ID, len(d.InterfaceID))
	}
	if len(d.InitiatorKeyType) != 2 || len(d.ApproverKeyType) != 2 {
		return nil, fault.Malformedf("draft %s has malformed key type tags", d.ID)
	}
	sar := &association.SignedRecord{
		Record: association.Record{
			Initiator:   d.Initiator,
			Approver:    d.Approver,
			ValidAt:     d.ValidAt,
			ValidUntil:  d.ValidUntil,
			InterfaceID: [4]byte(d.InterfaceID),
			Data:        d.Data,
		},
		InitiatorKeyType:   [2]byte(d.InitiatorKeyType),
		ApproverKeyType:    [2]byte(d.ApproverKeyType),
		InitiatorSignature: d.InitiatorSignature,
		ApproverSignature:  d.ApproverSignature,
	}
	if got := sar.ID().Hex(); got != d.AssociationID {
		return nil, fault.Malformedf("draft %s digest mismatch: stored %s, recomputed %s", d.ID, d.AssociationID, got)
	}
	return sar, nil
}

// AttachSignature fills one signature slot and advances the status when
// both slots are filled. Overwriting a present signature is rejected so a
// second session cannot silently replace what the first party signed.
func (d *AssociationDraft) AttachSignature(role association.Role, sig []byte) error {
	if len(sig) == 0 {
		return fault.Malformedf("empty signature for %s", role)
	}
	switch role {
	case association.RoleInitiator:
		if len(d.InitiatorSignature) > 0 {
			return fault.Malformedf("draft %s already carries an initiator signature", d.ID)
		}
		d.InitiatorSignature = sig
	case association.RoleApprover:
		if len(d.ApproverSignature) > 0 {
			return fault.Malformedf("draft %s already carries an approver signature", d.ID)
		}
		d.ApproverSignature = sig
	default:
		return fault.Malformedf("unknown signer role %q", role)
	}
	d.UpdatedAt = time.Now().UTC()
	d.refreshStatus()
	return nil
}

// Involves reports whether the given interoperable address bytes appear
// on either side of the draft. Matching is on exact encoded bytes.
func (d *AssociationDraft) Involves(account []byte) bool {
	return bytes.Equal(d.Initiator, account) || bytes.Equal(d.Approver, account)
}

func (d *AssociationDraft) refreshStatus() {
	if len(d.InitiatorSignature) > 0 && len(d.ApproverSignature) > 0 {
		d.Status = DraftStatusComplete
		return
	}
	d.Status = DraftStatusPending
}
