package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain/evmrpc"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	bytes32Type = mustABIType("bytes32")
	bytesType   = mustABIType("bytes")
	bytes4Type  = mustABIType("bytes4")

	// The ERC-1271 magic value is the selector of the validation method
	// itself, so deriving both from the signature keeps them in sync.
	isValidSignatureSelector = crypto.Keccak256([]byte("isValidSignature(bytes32,bytes)"))[:4]
)

// HasCode reports whether an address carries deployed bytecode.
func HasCode(ctx context.Context, backend Backend, address common.Address) (bool, error) {
	code, err := backend.Code(ctx, address)
	if err != nil {
		return false, fault.Upstream(err, "fetch code for %s", address.Hex())
	}
	return len(code) > 0, nil
}

// CallIsValidSignature asks the contract at signer whether it accepts sig
// over digest per ERC-1271. A revert or a non-magic return value counts
// as a rejection, not an error; only transport failures surface as errors.
func CallIsValidSignature(ctx context.Context, backend Backend, signer common.Address, digest [32]byte, sig []byte) (bool, error) {
	packed, err := abi.Arguments{{Type: bytes32Type}, {Type: bytesType}}.Pack(digest, sig)
	if err != nil {
		return false, fmt.Errorf("pack isValidSignature args: %w", err)
	}
	calldata := append(append([]byte{}, isValidSignatureSelector...), packed...)

	ret, err := backend.Call(ctx, signer, calldata)
	if err != nil {
		var rpcErr *evmrpc.RPCError
		if errors.As(err, &rpcErr) {
			return false, nil
		}
		return false, fault.Upstream(err, "isValidSignature on %s", signer.Hex())
	}

	out, err := abi.Arguments{{Type: bytes4Type}}.Unpack(ret)
	if err != nil {
		return false, nil
	}
	magic, ok := out[0].([4]byte)
	if !ok {
		return false, nil
	}
	return bytes.Equal(magic[:], isValidSignatureSelector), nil
}
