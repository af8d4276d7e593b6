package association

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Digest constants. These must match the deployed contracts byte for
// byte; computing them differently makes every existing signature
// unverifiable. The domain binds only name and version, not chainId or
// verifying contract: chain identity travels inside the interoperable
// address bytes of each party. Do not widen the domain to the usual
// EIP-712 shape, that would orphan every record already on chain.
var (
	domainTypeHash = crypto.Keccak256Hash(
		[]byte("EIP712Domain(string name,string version)"))

	messageTypeHash = crypto.Keccak256Hash(
		[]byte("AssociatedAccountRecord(bytes initiator,bytes approver,uint40 validAt,uint40 validUntil,bytes4 interfaceId,bytes data)"))

	domainNameHash    = crypto.Keccak256Hash([]byte("AssociatedAccounts"))
	domainVersionHash = crypto.Keccak256Hash([]byte("1"))

	domainSeparator = crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		domainNameHash.Bytes(),
		domainVersionHash.Bytes(),
	)
)

// DomainSeparator returns the fixed name+version domain hash.
func DomainSeparator() common.Hash {
	return domainSeparator
}

// ComputeID returns the canonical identifier of a record: the typed-data
// envelope hash keccak256(0x1901 || domainSeparator || structHash). The
// id doubles as the message each party signs and as the on-chain storage
// key, so it is recomputed locally and never trusted from external data.
func ComputeID(r Record) common.Hash {
	structHash := crypto.Keccak256Hash(
		messageTypeHash.Bytes(),
		crypto.Keccak256(r.Initiator),
		crypto.Keccak256(r.Approver),
		common.LeftPadBytes(new(big.Int).SetUint64(r.ValidAt).Bytes(), 32),
		common.LeftPadBytes(new(big.Int).SetUint64(r.ValidUntil).Bytes(), 32),
		common.RightPadBytes(r.InterfaceID[:], 32),
		crypto.Keccak256(r.Data),
	)

	return crypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		domainSeparator.Bytes(),
		structHash.Bytes(),
	)
}
