// Package interop encodes and decodes chain-qualified account identifiers
// in the binary "EVM V1" interoperable-address format: a version and chain
// type header followed by a variable-length chain reference (the EIP-155
// chain id) and the 20-byte account address. The encoded form is the
// canonical representation of an association party.
package interop

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	// versionV1 is the only interoperable-address version this codec emits.
	versionV1 uint16 = 0x0001

	// chainTypeEIP155 tags the chain reference as an EIP-155 chain id.
	chainTypeEIP155 uint16 = 0x0000

	// maxChainReferenceLen bounds the big-endian chain id encoding.
	maxChainReferenceLen = 32

	evmAddressLen = 20
	headerLen     = 5 // version(2) + chainType(2) + chainRefLen(1)
)

// Account is a decoded interoperable address.
type Account struct {
	ChainID *big.Int
	Address common.Address
}

// Encode serializes the account back to its canonical binary form.
func (a Account) Encode() ([]byte, error) {
	return Format(a.ChainID, a.Address)
}

// String renders the account as "eip155:<chainId>:<address>".
func (a Account) String() string {
	return fmt.Sprintf("eip155:%s:%s", a.ChainID, a.Address.Hex())
}

// Format encodes (chainID, address) as an EVM V1 interoperable address.
// The chain reference is the minimal big-endian encoding of chainID, so
// identical inputs always produce identical bytes. Construction failures
// (nil, zero or negative chain id, reference overflow) indicate caller
// bugs and are returned as errors before anything is emitted.
func Format(chainID *big.Int, addr common.Address) ([]byte, error) {
	if chainID == nil {
		return nil, fmt.Errorf("interop: chain id is required")
	}
	if chainID.Sign() <= 0 {
		return nil, fmt.Errorf("interop: chain id must be positive, got %s", chainID)
	}
	ref := chainID.Bytes()
	if len(ref) > maxChainReferenceLen {
		return nil, fmt.Errorf("interop: chain id %s exceeds %d-byte reference", chainID, maxChainReferenceLen)
	}

	out := make([]byte, 0, headerLen+len(ref)+1+evmAddressLen)
	out = binary.BigEndian.AppendUint16(out, versionV1)
	out = binary.BigEndian.AppendUint16(out, chainTypeEIP155)
	out = append(out, byte(len(ref)))
	out = append(out, ref...)
	out = append(out, evmAddressLen)
	out = append(out, addr.Bytes()...)
	return out, nil
}

// TryParse decodes an EVM V1 interoperable address. It never panics and
// reports ok=false for any malformed layout: short buffers, unknown
// version or chain type, non-minimal chain references, address lengths
// other than 20, or trailing bytes. Callers that receive ok=false should
// fall back to treating the raw bytes as an opaque legacy address.
func TryParse(b []byte) (Account, bool) {
	if len(b) < headerLen {
		return Account{}, false
	}
	if binary.BigEndian.Uint16(b[0:2]) != versionV1 {
		return Account{}, false
	}
	if binary.BigEndian.Uint16(b[2:4]) != chainTypeEIP155 {
		return Account{}, false
	}
	refLen := int(b[4])
	if refLen == 0 || refLen > maxChainReferenceLen {
		return Account{}, false
	}
	if len(b) < headerLen+refLen+1 {
		return Account{}, false
	}
	ref := b[headerLen : headerLen+refLen]
	if ref[0] == 0 {
		// A leading zero means the reference is not the minimal encoding,
		// so the same chain id would have two byte representations.
		return Account{}, false
	}
	addrLen := int(b[headerLen+refLen])
	if addrLen != evmAddressLen {
		return Account{}, false
	}
	addrStart := headerLen + refLen + 1
	if len(b) != addrStart+addrLen {
		return Account{}, false
	}

	return Account{
		ChainID: new(big.Int).SetBytes(ref),
		Address: common.BytesToAddress(b[addrStart:]),
	}, true
}

// DisplayAddress renders an interoperable address for humans: the
// checksummed account address when the bytes parse, otherwise the raw
// bytes as hex so malformed or legacy values still display.
func DisplayAddress(b []byte) string {
	if acct, ok := TryParse(b); ok {
		return acct.Address.Hex()
	}
	return hexutil.Encode(b)
}
