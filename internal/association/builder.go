package association

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/interop"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces a 65-byte ECDSA signature over a record digest. The
// services themselves never hold party keys; implementations live with
// the caller (wallet bridge, CLI, tests).
type Signer interface {
	Address() common.Address
	SignDigest(ctx context.Context, digest common.Hash) ([]byte, error)
}

// LocalSigner signs with an in-process secp256k1 key, for CLI and tests.
type LocalSigner struct {
	key *ecdsa.PrivateKey
}

func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key}
}

func (s *LocalSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *LocalSigner) SignDigest(_ context.Context, digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	// crypto.Sign yields V in {0,1}; contracts and wallets expect 27/28.
	sig[64] += 27
	return sig, nil
}

// BuildParams describes one record and, optionally, which role the
// supplied signer occupies. Both parties are identified by plain EVM
// addresses on one chain; the builder handles interoperable encoding.
type BuildParams struct {
	ChainID   uint64
	Initiator common.Address
	Approver  common.Address

	// Key type tags; zero values default to KeyTypeECDSA.
	InitiatorKeyType [2]byte
	ApproverKeyType  [2]byte

	ValidAt     uint64
	ValidUntil  uint64
	InterfaceID [4]byte
	Data        []byte

	// SignAs selects which signature slot Signer fills. Leave both unset
	// to build an unsigned record for out-of-band signature collection.
	SignAs Role
	Signer Signer
}

// Build constructs the record, computes its digest and, when a signer is
// supplied, fills in that party's signature. The digest is fixed before
// any signing happens; the returned value may legitimately carry zero or
// one signatures.
func Build(ctx context.Context, p BuildParams) (*SignedRecord, error) {
	if p.ChainID == 0 {
		return nil, fault.Malformedf("chain id must be set")
	}
	if p.Initiator == (common.Address{}) {
		return nil, fault.Malformedf("initiator address must be set")
	}
	if p.Approver == (common.Address{}) {
		return nil, fault.Malformedf("approver address must be set")
	}

	chainID := new(big.Int).SetUint64(p.ChainID)
	initiator, err := interop.Format(chainID, p.Initiator)
	if err != nil {
		return nil, fault.Malformedf("encode initiator: %v", err)
	}
	approver, err := interop.Format(chainID, p.Approver)
	if err != nil {
		return nil, fault.Malformedf("encode approver: %v", err)
	}

	interfaceID := p.InterfaceID
	if interfaceID == ([4]byte{}) {
		interfaceID = DefaultInterfaceID
	}

	record := Record{
		Initiator:   initiator,
		Approver:    approver,
		ValidAt:     p.ValidAt,
		ValidUntil:  p.ValidUntil,
		InterfaceID: interfaceID,
		Data:        p.Data,
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	sar := &SignedRecord{
		Record:             record,
		InitiatorKeyType:   defaultKeyType(p.InitiatorKeyType),
		ApproverKeyType:    defaultKeyType(p.ApproverKeyType),
		InitiatorSignature: []byte{},
		ApproverSignature:  []byte{},
	}

	digest := ComputeID(record)
	metrics.AssociationDigestsTotal.Inc()

	if p.Signer == nil {
		if p.SignAs != "" {
			return nil, fault.Malformedf("signer required to sign as %s", p.SignAs)
		}
		return sar, nil
	}

	switch p.SignAs {
	case RoleInitiator:
		if got := p.Signer.Address(); got != p.Initiator {
			return nil, fault.Malformedf("signer %s does not match initiator %s", got.Hex(), p.Initiator.Hex())
		}
	case RoleApprover:
		if got := p.Signer.Address(); got != p.Approver {
			return nil, fault.Malformedf("signer %s does not match approver %s", got.Hex(), p.Approver.Hex())
		}
	case "":
		return nil, fault.Malformedf("signer supplied without a role")
	default:
		return nil, fault.Malformedf("unknown signer role %q", p.SignAs)
	}

	sig, err := p.Signer.SignDigest(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("sign as %s: %w", p.SignAs, err)
	}
	if err := sar.Attach(p.SignAs, sig); err != nil {
		return nil, err
	}
	return sar, nil
}

func defaultKeyType(kt [2]byte) [2]byte {
	if kt == ([2]byte{}) {
		return KeyTypeECDSA
	}
	return kt
}
