package association

import (
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/ethereum/go-ethereum/common"
)

// Key type tags distinguishing how a party's signature is validated.
var (
	// KeyTypeECDSA marks a plain secp256k1 signature recoverable locally.
	KeyTypeECDSA = [2]byte{0x00, 0x01}
	// KeyTypeERC1271 marks a smart-account signature validated by calling
	// isValidSignature on the signer contract.
	KeyTypeERC1271 = [2]byte{0x00, 0x02}
)

// Role names which side of a record a party occupies.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleApprover  Role = "approver"
)

// SignedRecord wraps a record with its revocation state and the two
// party signatures. A half-signed value with one empty signature is a
// legitimate intermediate state while the counterparty signature is
// still being collected, not an error.
type SignedRecord struct {
	Record             Record
	RevokedAt          uint64
	InitiatorKeyType   [2]byte
	ApproverKeyType    [2]byte
	InitiatorSignature []byte
	ApproverSignature  []byte
}

// ID recomputes the canonical digest of the underlying record.
func (s *SignedRecord) ID() common.Hash {
	return ComputeID(s.Record)
}

// Signed reports whether the given role's signature slot is filled.
func (s *SignedRecord) Signed(role Role) bool {
	switch role {
	case RoleInitiator:
		return len(s.InitiatorSignature) > 0
	case RoleApprover:
		return len(s.ApproverSignature) > 0
	}
	return false
}

// Attach fills in one party's signature. The record itself is immutable
// once a digest has been signed, so only the signature slots may change.
func (s *SignedRecord) Attach(role Role, sig []byte) error {
	if len(sig) == 0 {
		return fault.Malformedf("empty signature for %s", role)
	}
	switch role {
	case RoleInitiator:
		s.InitiatorSignature = sig
	case RoleApprover:
		s.ApproverSignature = sig
	default:
		return fault.Malformedf("unknown signer role %q", role)
	}
	return nil
}
