package association

import (
	"math/big"
	"testing"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/interop"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(t *testing.T) Record {
	t.Helper()
	initiator, err := interop.Format(big.NewInt(11155111),
		common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"))
	require.NoError(t, err)
	approver, err := interop.Format(big.NewInt(11155111),
		common.HexToAddress("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"))
	require.NoError(t, err)

	data, err := EncodeData(0, "membership")
	require.NoError(t, err)

	return Record{
		Initiator:   initiator,
		Approver:    approver,
		ValidAt:     1_700_000_000,
		ValidUntil:  0,
		InterfaceID: DefaultInterfaceID,
		Data:        data,
	}
}

func TestDomainSeparator_ReducedDomain(t *testing.T) {
	// The domain hashes only name and version. Reproduce it from scratch
	// to pin the exact construction.
	want := crypto.Keccak256Hash(
		crypto.Keccak256([]byte("EIP712Domain(string name,string version)")),
		crypto.Keccak256([]byte("AssociatedAccounts")),
		crypto.Keccak256([]byte("1")),
	)
	assert.Equal(t, want, DomainSeparator())
}

func TestComputeID_MatchesManualAssembly(t *testing.T) {
	record := sampleRecord(t)

	// Assemble the struct hash word by word, independently of ComputeID's
	// own concatenation.
	buf := make([]byte, 0, 7*32)
	buf = append(buf, crypto.Keccak256([]byte("AssociatedAccountRecord(bytes initiator,bytes approver,uint40 validAt,uint40 validUntil,bytes4 interfaceId,bytes data)"))...)
	buf = append(buf, crypto.Keccak256(record.Initiator)...)
	buf = append(buf, crypto.Keccak256(record.Approver)...)
	buf = append(buf, common.LeftPadBytes(new(big.Int).SetUint64(record.ValidAt).Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(new(big.Int).SetUint64(record.ValidUntil).Bytes(), 32)...)
	buf = append(buf, common.RightPadBytes(record.InterfaceID[:], 32)...)
	buf = append(buf, crypto.Keccak256(record.Data)...)
	structHash := crypto.Keccak256(buf)

	envelope := make([]byte, 0, 2+32+32)
	envelope = append(envelope, 0x19, 0x01)
	envelope = append(envelope, DomainSeparator().Bytes()...)
	envelope = append(envelope, structHash...)

	assert.Equal(t, common.BytesToHash(crypto.Keccak256(envelope)), ComputeID(record))
}

func TestComputeID_Deterministic(t *testing.T) {
	a := sampleRecord(t)
	b := sampleRecord(t)
	assert.Equal(t, ComputeID(a), ComputeID(b))
}

func TestComputeID_EveryFieldChangesID(t *testing.T) {
	base := sampleRecord(t)
	baseID := ComputeID(base)

	mutations := map[string]func(r *Record){
		"initiator byte": func(r *Record) {
			r.Initiator = append([]byte{}, r.Initiator...)
			r.Initiator[len(r.Initiator)-1] ^= 0x01
		},
		"approver byte": func(r *Record) {
			r.Approver = append([]byte{}, r.Approver...)
			r.Approver[len(r.Approver)-1] ^= 0x01
		},
		"validAt":     func(r *Record) { r.ValidAt++ },
		"validUntil":  func(r *Record) { r.ValidUntil = r.ValidAt + 1 },
		"interfaceId": func(r *Record) { r.InterfaceID[0] ^= 0x01 },
		"data byte": func(r *Record) {
			r.Data = append([]byte{}, r.Data...)
			r.Data[len(r.Data)-1] ^= 0x01
		},
	}

	seen := map[common.Hash]string{baseID: "base"}
	for name, mutate := range mutations {
		r := base
		mutate(&r)
		id := ComputeID(r)

		prev, dup := seen[id]
		require.False(t, dup, "mutation %q collides with %q", name, prev)
		seen[id] = name
	}
}

func TestComputeID_FieldConcatenationDoesNotCollide(t *testing.T) {
	// Moving a byte across the initiator/approver boundary must change
	// the id: each dynamic field is hashed on its own before assembly.
	a := sampleRecord(t)
	b := sampleRecord(t)

	b.Initiator = append(append([]byte{}, a.Initiator...), a.Approver[0])
	b.Approver = append([]byte{}, a.Approver[1:]...)

	assert.NotEqual(t, ComputeID(a), ComputeID(b))
}
