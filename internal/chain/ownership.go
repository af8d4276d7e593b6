package chain

import (
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
	addressType      = mustABIType("address")
	addressSliceType = mustABIType("address[]")
)

func mustABIType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("abi type %q: %v", t, err))
	}
	return ty
}

// ownerProbe is one strategy for extracting a controlling owner from a
// contract account: a function signature to call plus an extractor for
// its return data.
type ownerProbe struct {
	signature string
	extract   func(ret []byte) (common.Address, error)
}

// ownerProbes is the ordered strategy list. Probes are tried in sequence
// and the first one that yields a non-zero address wins. A revert or an
// undecodable return in one probe never aborts the remaining ones.
var ownerProbes = []ownerProbe{
	{signature: "owner()", extract: extractAddressWord},
	{signature: "getOwner()", extract: extractAddressWord},
	{signature: "getOwners()", extract: extractFirstAddress},
}

func probeSelector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// ProbeOwner resolves the owner of a contract account by trying the known
// ownership ABIs in order. Contract-side rejections move on to the next
// probe; transport failures abort immediately as upstream faults.
func ProbeOwner(ctx context.Context, backend Backend, account common.Address) (common.Address, error) {
	for _, probe := range ownerProbes {
		ret, err := backend.Call(ctx, account, probeSelector(probe.signature))
		if err != nil {
			var rpcErr *evmrpc.RPCError
			if errors.As(err, &rpcErr) {
				continue
			}
			return common.Address{}, fault.Upstream(err, "ownership probe %s on %s", probe.signature, account.Hex())
		}

		owner, err := probe.extract(ret)
		if err != nil {
			continue
		}
		if owner == (common.Address{}) {
			continue
		}
		return owner, nil
	}
	return common.Address{}, fault.NotFoundf("no ownership interface answered for %s", account.Hex())
}

func extractAddressWord(ret []byte) (common.Address, error) {
	out, err := abi.Arguments{{Type: addressType}}.Unpack(ret)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack address: %w", err)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected unpack type %T", out[0])
	}
	return addr, nil
}

func extractFirstAddress(ret []byte) (common.Address, error) {
	out, err := abi.Arguments{{Type: addressSliceType}}.Unpack(ret)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack address slice: %w", err)
	}
	addrs, ok := out[0].([]common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected unpack type %T", out[0])
	}
	if len(addrs) == 0 {
		return common.Address{}, fmt.Errorf("empty owner set")
	}
	return addrs[0], nil
}
