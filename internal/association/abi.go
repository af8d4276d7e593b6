package association

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// proxyABIJSON is the surface of the proxy contract that anchors signed
// records: store, revoke and per-account lookup.
const proxyABIJSON = `[
  {
    "type": "function",
    "name": "storeAssociation",
    "stateMutability": "nonpayable",
    "inputs": [
      {
        "name": "sar",
        "type": "tuple",
        "components": [
          {"name": "revokedAt", "type": "uint40"},
          {"name": "initiatorKeyType", "type": "bytes2"},
          {"name": "approverKeyType", "type": "bytes2"},
          {"name": "initiatorSignature", "type": "bytes"},
          {"name": "approverSignature", "type": "bytes"},
          {
            "name": "record",
            "type": "tuple",
            "components": [
              {"name": "initiator", "type": "bytes"},
              {"name": "approver", "type": "bytes"},
              {"name": "validAt", "type": "uint40"},
              {"name": "validUntil", "type": "uint40"},
              {"name": "interfaceId", "type": "bytes4"},
              {"name": "data", "type": "bytes"}
            ]
          }
        ]
      }
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "revokeAssociation",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "associationId", "type": "bytes32"},
      {"name": "revokedAt", "type": "uint40"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "getAssociationsForAccount",
    "stateMutability": "view",
    "inputs": [
      {"name": "account", "type": "bytes"}
    ],
    "outputs": [
      {
        "name": "",
        "type": "tuple[]",
        "components": [
          {"name": "revokedAt", "type": "uint40"},
          {"name": "initiatorKeyType", "type": "bytes2"},
          {"name": "approverKeyType", "type": "bytes2"},
          {"name": "initiatorSignature", "type": "bytes"},
          {"name": "approverSignature", "type": "bytes"},
          {
            "name": "record",
            "type": "tuple",
            "components": [
              {"name": "initiator", "type": "bytes"},
              {"name": "approver", "type": "bytes"},
              {"name": "validAt", "type": "uint40"},
              {"name": "validUntil", "type": "uint40"},
              {"name": "interfaceId", "type": "bytes4"},
              {"name": "data", "type": "bytes"}
            ]
          }
        ]
      }
    ]
  }
]`

var proxyABI = mustParseABI(proxyABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// recordTuple mirrors the on-wire record component layout. Field names
// follow the ABI component names so reflection-based packing maps them.
type recordTuple struct {
	Initiator   []byte
	Approver    []byte
	ValidAt     *big.Int
	ValidUntil  *big.Int
	InterfaceId [4]byte
	Data        []byte
}

// sarTuple mirrors the on-wire signed record component layout.
type sarTuple struct {
	RevokedAt          *big.Int
	InitiatorKeyType   [2]byte
	ApproverKeyType    [2]byte
	InitiatorSignature []byte
	ApproverSignature  []byte
	Record             recordTuple
}

func toSARTuple(s *SignedRecord) sarTuple {
	return sarTuple{
		RevokedAt:          new(big.Int).SetUint64(s.RevokedAt),
		InitiatorKeyType:   s.InitiatorKeyType,
		ApproverKeyType:    s.ApproverKeyType,
		InitiatorSignature: emptyNotNil(s.InitiatorSignature),
		ApproverSignature:  emptyNotNil(s.ApproverSignature),
		Record: recordTuple{
			Initiator:   s.Record.Initiator,
			Approver:    s.Record.Approver,
			ValidAt:     new(big.Int).SetUint64(s.Record.ValidAt),
			ValidUntil:  new(big.Int).SetUint64(s.Record.ValidUntil),
			InterfaceId: s.Record.InterfaceID,
			Data:        emptyNotNil(s.Record.Data),
		},
	}
}

func fromSARTuple(t sarTuple) (*SignedRecord, error) {
	revokedAt, err := uint40FromBig(t.RevokedAt, "revokedAt")
	if err != nil {
		return nil, err
	}
	validAt, err := uint40FromBig(t.Record.ValidAt, "validAt")
	if err != nil {
		return nil, err
	}
	validUntil, err := uint40FromBig(t.Record.ValidUntil, "validUntil")
	if err != nil {
		return nil, err
	}

	return &SignedRecord{
		Record: Record{
			Initiator:   t.Record.Initiator,
			Approver:    t.Record.Approver,
			ValidAt:     validAt,
			ValidUntil:  validUntil,
			InterfaceID: t.Record.InterfaceId,
			Data:        t.Record.Data,
		},
		RevokedAt:          revokedAt,
		InitiatorKeyType:   t.InitiatorKeyType,
		ApproverKeyType:    t.ApproverKeyType,
		InitiatorSignature: t.InitiatorSignature,
		ApproverSignature:  t.ApproverSignature,
	}, nil
}

func uint40FromBig(v *big.Int, field string) (uint64, error) {
	if v == nil {
		return 0, fmt.Errorf("%s is nil", field)
	}
	if !v.IsUint64() || v.Uint64() > maxUint40 {
		return 0, fmt.Errorf("%s %s exceeds uint40 range", field, v.String())
	}
	return v.Uint64(), nil
}

// emptyNotNil keeps dynamic bytes fields packable when unset.
func emptyNotNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
