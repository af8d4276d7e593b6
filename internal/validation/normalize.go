// Package validation implements the validation request/response protocol
// against the on-chain registry: prepared transactions with defaulted
// correlation fields, score range enforcement, and reconciliation of
// registry state with the discovery indexer's event history.
package validation

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/ethereum/go-ethereum/common"
)

var maxHashValue = new(big.Int).Lsh(big.NewInt(1), 256)

// NormalizeHash renders a bytes32 value as its canonical comparison form:
// lowercase, 0x-prefixed, left-zero-padded to 64 hex digits. The chain
// client surfaces these as hashes or native integers while the indexer
// surfaces the same value as a JSON number or hex string; comparing
// without one shared form silently produces false mismatches.
func NormalizeHash(v any) (string, error) {
	switch x := v.(type) {
	case common.Hash:
		return strings.ToLower(x.Hex()), nil
	case [32]byte:
		return strings.ToLower(common.Hash(x).Hex()), nil
	case string:
		return normalizeHexString(x)
	case json.Number:
		i, ok := new(big.Int).SetString(x.String(), 10)
		if !ok {
			return "", fault.Malformedf("hash value %q is not an integer", x.String())
		}
		return normalizeBig(i)
	case *big.Int:
		return normalizeBig(x)
	case int:
		return normalizeBig(big.NewInt(int64(x)))
	case int64:
		return normalizeBig(big.NewInt(x))
	case uint64:
		return normalizeBig(new(big.Int).SetUint64(x))
	case nil:
		return "", fault.Malformedf("hash value is nil")
	default:
		return "", fault.Malformedf("unsupported hash value type %T", v)
	}
}

func normalizeBig(i *big.Int) (string, error) {
	if i == nil {
		return "", fault.Malformedf("hash value is nil")
	}
	if i.Sign() < 0 {
		return "", fault.Malformedf("hash value %s is negative", i)
	}
	if i.Cmp(maxHashValue) >= 0 {
		return "", fault.Malformedf("hash value %s exceeds 32 bytes", i)
	}
	return "0x" + fmt.Sprintf("%064x", i), nil
}

func normalizeHexString(s string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if trimmed == "" {
		return "", fault.Malformedf("hash value is empty")
	}
	if len(trimmed) > 64 {
		return "", fault.Malformedf("hash value %q exceeds 32 bytes", s)
	}
	lower := strings.ToLower(trimmed)
	for _, r := range lower {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", fault.Malformedf("hash value %q is not hex", s)
		}
	}
	return "0x" + strings.Repeat("0", 64-len(lower)) + lower, nil
}
