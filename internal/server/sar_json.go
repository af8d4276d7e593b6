package server

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/association"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
)

// RecordJSON is the wire form of an association record. Addresses are
// interoperable address bytes, not bare EVM addresses.
type RecordJSON struct {
	Initiator   hexutil.Bytes `json:"initiator"`
	Approver    hexutil.Bytes `json:"approver"`
	ValidAt     uint64        `json:"validAt"`
	ValidUntil  uint64        `json:"validUntil,omitempty"`
	InterfaceID hexutil.Bytes `json:"interfaceId"`
	Data        hexutil.Bytes `json:"data,omitempty"`
}

// SARJSON is the wire form of a signed association record.
type SARJSON struct {
	Record             RecordJSON    `json:"record"`
	RevokedAt          uint64        `json:"revokedAt,omitempty"`
	InitiatorKeyType   hexutil.Bytes `json:"initiatorKeyType"`
	ApproverKeyType    hexutil.Bytes `json:"approverKeyType"`
	InitiatorSignature hexutil.Bytes `json:"initiatorSignature,omitempty"`
	ApproverSignature  hexutil.Bytes `json:"approverSignature,omitempty"`
}

func sarToJSON(sar *association.SignedRecord) SARJSON {
	return SARJSON{
		Record: RecordJSON{
			Initiator:   sar.Record.Initiator,
			Approver:    sar.Record.Approver,
			ValidAt:     sar.Record.ValidAt,
			ValidUntil:  sar.Record.ValidUntil,
			InterfaceID: sar.Record.InterfaceID[:],
			Data:        sar.Record.Data,
		},
		RevokedAt:          sar.RevokedAt,
		InitiatorKeyType:   sar.InitiatorKeyType[:],
		ApproverKeyType:    sar.ApproverKeyType[:],
		InitiatorSignature: sar.InitiatorSignature,
		ApproverSignature:  sar.ApproverSignature,
	}
}

// sarFromJSON rebuilds the typed record. Fixed-size fields are length
// checked here; omitted interface id and key types take the same
// defaults the builder applies, so a record round-trips to the same
// digest whichever side serialized it.
func sarFromJSON(j SARJSON) (*association.SignedRecord, error) {
	interfaceID := association.DefaultInterfaceID
	if len(j.Record.InterfaceID) > 0 {
		if len(j.Record.InterfaceID) != 4 {
			return nil, fault.Malformedf("interfaceId must be 4 bytes, got %d", len(j.Record.InterfaceID))
		}
		copy(interfaceID[:], j.Record.InterfaceID)
	}

	initiatorKT, err := keyTypeFromJSON("initiatorKeyType", j.InitiatorKeyType)
	if err != nil {
		return nil, err
	}
	approverKT, err := keyTypeFromJSON("approverKeyType", j.ApproverKeyType)
	if err != nil {
		return nil, err
	}

	return &association.SignedRecord{
		Record: association.Record{
			Initiator:   j.Record.Initiator,
			Approver:    j.Record.Approver,
			ValidAt:     j.Record.ValidAt,
			ValidUntil:  j.Record.ValidUntil,
			InterfaceID: interfaceID,
			Data:        j.Record.Data,
		},
		RevokedAt:          j.RevokedAt,
		InitiatorKeyType:   initiatorKT,
		ApproverKeyType:    approverKT,
		InitiatorSignature: j.InitiatorSignature,
		ApproverSignature:  j.ApproverSignature,
	}, nil
}

func keyTypeFromJSON(field string, b hexutil.Bytes) ([2]byte, error) {
	if len(b) == 0 {
		return association.KeyTypeECDSA, nil
	}
	if len(b) != 2 {
		return [2]byte{}, fault.Malformedf("%s must be 2 bytes, got %d", field, len(b))
	}
	var kt [2]byte
	copy(kt[:], b)
	return kt, nil
}
