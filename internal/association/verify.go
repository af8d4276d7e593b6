package association

import (
	"context"
	"log/slog"
	"time"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/interop"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Verification reason strings. Bounded: they double as metric labels.
const (
	ReasonRevoked            = "revoked"
	ReasonNotYetValid        = "not yet valid"
	ReasonExpired            = "expired"
	ReasonMissingInitiator   = "missing initiator signature"
	ReasonMissingApprover    = "missing approver signature"
	ReasonBadInitiatorSig    = "initiator signature invalid"
	ReasonBadApproverSig     = "approver signature invalid"
	ReasonInitiatorUnmatched = "initiator signature does not match initiator"
	ReasonApproverUnmatched  = "approver signature does not match approver"
	ReasonInitiatorOpaque    = "initiator address is not interoperable"
	ReasonApproverOpaque     = "approver address is not interoperable"
	ReasonBadKeyType         = "unsupported key type"
)

// Result is the structured outcome of a verification. Invalid records
// are an expected, common case and never surface as errors; Reason says
// which check failed so callers can prompt for what is missing.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func invalid(reason string) Result {
	metrics.AssociationVerificationsTotal.WithLabelValues("invalid", reason).Inc()
	return Result{Valid: false, Reason: reason}
}

// Verifier checks assembled records: revocation state, validity window
// and both party signatures. ECDSA signatures recover locally; ERC-1271
// signatures are validated against the signer contract on chain.
type Verifier struct {
	source chain.Source
	nowFn  func() uint64
	logger *slog.Logger
}

type VerifierOption func(*Verifier)

// WithNow overrides the verifier clock, for tests and replay.
func WithNow(nowFn func() uint64) VerifierOption {
	return func(v *Verifier) {
		v.nowFn = nowFn
	}
}

func NewVerifier(source chain.Source, logger *slog.Logger, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		source: source,
		nowFn:  func() uint64 { return uint64(time.Now().Unix()) },
		logger: logger.With("component", "association_verifier"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks one signed record and reports a structured result. Only
// infrastructure failures (an unreachable node during an ERC-1271 check)
// return an error; every protocol-level defect is a Result with a
// reason. Checks run fail-closed in a fixed order: revocation first,
// then the validity window, then signature presence and correctness.
func (v *Verifier) Verify(ctx context.Context, sar *SignedRecord) (Result, error) {
	digest := ComputeID(sar.Record)
	now := v.nowFn()

	if sar.RevokedAt != 0 && sar.RevokedAt <= now {
		return invalid(ReasonRevoked), nil
	}
	if sar.Record.ValidAt > now {
		return invalid(ReasonNotYetValid), nil
	}
	if sar.Record.ValidUntil != 0 && sar.Record.ValidUntil <= now {
		return invalid(ReasonExpired), nil
	}
	if len(sar.InitiatorSignature) == 0 {
		return invalid(ReasonMissingInitiator), nil
	}
	if len(sar.ApproverSignature) == 0 {
		return invalid(ReasonMissingApprover), nil
	}

	checks := []struct {
		party    []byte
		keyType  [2]byte
		sig      []byte
		opaque   string
		badSig   string
		unmatch  string
	}{
		{sar.Record.Initiator, sar.InitiatorKeyType, sar.InitiatorSignature,
			ReasonInitiatorOpaque, ReasonBadInitiatorSig, ReasonInitiatorUnmatched},
		{sar.Record.Approver, sar.ApproverKeyType, sar.ApproverSignature,
			ReasonApproverOpaque, ReasonBadApproverSig, ReasonApproverUnmatched},
	}

	for _, check := range checks {
		account, ok := interop.TryParse(check.party)
		if !ok {
			return invalid(check.opaque), nil
		}

		switch check.keyType {
		case KeyTypeECDSA:
			signer, err := RecoverSigner(digest, check.sig)
			if err != nil {
				return invalid(check.badSig), nil
			}
			if signer != account.Address {
				return invalid(check.unmatch), nil
			}

		case KeyTypeERC1271:
			ok, err := v.checkContractSignature(ctx, account, digest, check.sig)
			if err != nil {
				return Result{}, err
			}
			if !ok {
				return invalid(check.unmatch), nil
			}

		default:
			return invalid(ReasonBadKeyType), nil
		}
	}

	metrics.AssociationVerificationsTotal.WithLabelValues("valid", "").Inc()
	return Result{Valid: true}, nil
}

func (v *Verifier) checkContractSignature(ctx context.Context, account interop.Account, digest common.Hash, sig []byte) (bool, error) {
	backend, err := v.source.Backend(account.ChainID.Uint64())
	if err != nil {
		return false, err
	}

	hasCode, err := chain.HasCode(ctx, backend, account.Address)
	if err != nil {
		return false, err
	}
	if !hasCode {
		return false, nil
	}

	return chain.CallIsValidSignature(ctx, backend, account.Address, digest, sig)
}

// RecoverSigner recovers the address behind a 65-byte signature over a
// raw digest. Both V conventions are accepted: 27/28 as produced by
// wallets and 0/1 as produced by low-level signers.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fault.Malformedf("signature is %d bytes, want %d", len(sig), crypto.SignatureLength)
	}

	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fault.Verificationf("recover signer: %v", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
