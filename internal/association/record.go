// Package association implements the signed association record protocol:
// canonical record encoding, domain-separated digests, dual-signature
// assembly and verification, and prepared transactions against the proxy
// contract that anchors records on chain.
package association

import (
	"fmt"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// maxUint40 bounds every timestamp field carried by a record.
const maxUint40 = 1<<40 - 1

// DefaultInterfaceID tags records whose data payload is the ABI tuple
// (uint8 assocType, string description).
var DefaultInterfaceID = [4]byte(crypto.Keccak256([]byte("AssociatedAccountData(uint8,string)"))[:4])

// Record is the typed message both parties sign. Initiator and approver
// are interoperable address encodings; Data is an opaque payload whose
// schema is tagged by InterfaceID. Any field change after signing
// invalidates the collected signatures because the digest changes.
type Record struct {
	Initiator   []byte
	Approver    []byte
	ValidAt     uint64
	ValidUntil  uint64
	InterfaceID [4]byte
	Data        []byte
}

// Validate checks construction invariants. It guards the build path;
// records decoded from chain state bypass it and are handled best effort.
func (r Record) Validate() error {
	if len(r.Initiator) == 0 {
		return fault.Malformedf("record initiator must be set")
	}
	if len(r.Approver) == 0 {
		return fault.Malformedf("record approver must be set")
	}
	if r.ValidAt > maxUint40 {
		return fault.Malformedf("validAt %d exceeds uint40 range", r.ValidAt)
	}
	if r.ValidUntil > maxUint40 {
		return fault.Malformedf("validUntil %d exceeds uint40 range", r.ValidUntil)
	}
	if r.ValidUntil != 0 && r.ValidUntil < r.ValidAt {
		return fault.Malformedf("validUntil %d precedes validAt %d", r.ValidUntil, r.ValidAt)
	}
	return nil
}

var (
	uint8Type  = mustABIType("uint8")
	stringType = mustABIType("string")

	dataArguments = abi.Arguments{{Type: uint8Type}, {Type: stringType}}
)

func mustABIType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("abi type %q: %v", t, err))
	}
	return ty
}

// EncodeData packs the application payload carried by this system's own
// records: an association type tag plus a human-readable description.
func EncodeData(assocType uint8, description string) ([]byte, error) {
	data, err := dataArguments.Pack(assocType, description)
	if err != nil {
		return nil, fmt.Errorf("pack association data: %w", err)
	}
	return data, nil
}

// DecodeData is the inverse of EncodeData.
func DecodeData(data []byte) (uint8, string, error) {
	out, err := dataArguments.Unpack(data)
	if err != nil {
		return 0, "", fmt.Errorf("unpack association data: %w", err)
	}
	assocType, ok := out[0].(uint8)
	if !ok {
		return 0, "", fmt.Errorf("unexpected assocType type %T", out[0])
	}
	description, ok := out[1].(string)
	if !ok {
		return 0, "", fmt.Errorf("unexpected description type %T", out[1])
	}
	return assocType, description, nil
}
