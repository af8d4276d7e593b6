package association

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/interop"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/metrics"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// clockSkewBuffer is subtracted from the chain head timestamp when
// stamping new records so validAt never lands in the future relative to
// the block that finally includes the store transaction.
const clockSkewBuffer = 10

// Service prepares association transactions and reads proxy state. It
// never signs or submits anything; every state change leaves as a
// chain.TxRequest for the caller's own signer.
type Service struct {
	source   chain.Source
	verifier *Verifier
	logger   *slog.Logger
}

func NewService(source chain.Source, verifier *Verifier, logger *slog.Logger) *Service {
	return &Service{
		source:   source,
		verifier: verifier,
		logger:   logger.With("component", "association_service"),
	}
}

// ProposeValidAt returns a validAt for a new record on the given chain:
// the current head timestamp minus a small skew buffer.
func (s *Service) ProposeValidAt(ctx context.Context, chainID uint64) (uint64, error) {
	backend, err := s.source.Backend(chainID)
	if err != nil {
		return 0, err
	}
	now, err := backend.HeadTimestamp(ctx)
	if err != nil {
		return 0, fault.Upstream(err, "fetch head timestamp for chain %d", chainID)
	}
	if now <= clockSkewBuffer {
		return 0, fault.Upstream(nil, "implausible head timestamp %d on chain %d", now, chainID)
	}
	return now - clockSkewBuffer, nil
}

// PrepareStoreTx verifies a fully assembled record and encodes the
// storeAssociation call against the chain's proxy contract.
func (s *Service) PrepareStoreTx(ctx context.Context, chainID uint64, sar *SignedRecord) (*chain.TxRequest, error) {
	proxy, err := s.proxyAddress(chainID)
	if err != nil {
		return nil, err
	}

	result, err := s.verifier.Verify(ctx, sar)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, fault.Malformedf("association is not storable: %s", result.Reason)
	}

	data, err := proxyABI.Pack("storeAssociation", toSARTuple(sar))
	if err != nil {
		return nil, fmt.Errorf("pack storeAssociation: %w", err)
	}

	metrics.PreparedTxsTotal.WithLabelValues("store_association").Inc()
	return &chain.TxRequest{ChainID: chainID, To: proxy, Data: data}, nil
}

// PrepareRevokeTx encodes revokeAssociation for an existing id. A zero
// revokedAt defaults to the chain's current head timestamp minus the
// skew buffer so revocation takes effect immediately on inclusion.
// On-chain access control decides whether the eventual sender may
// revoke; nothing is re-verified here.
func (s *Service) PrepareRevokeTx(ctx context.Context, chainID uint64, id common.Hash, revokedAt uint64) (*chain.TxRequest, error) {
	proxy, err := s.proxyAddress(chainID)
	if err != nil {
		return nil, err
	}
	if id == (common.Hash{}) {
		return nil, fault.Malformedf("association id must be set")
	}

	if revokedAt == 0 {
		revokedAt, err = s.ProposeValidAt(ctx, chainID)
		if err != nil {
			return nil, err
		}
	}
	if revokedAt > maxUint40 {
		return nil, fault.Malformedf("revokedAt %d exceeds uint40 range", revokedAt)
	}

	data, err := proxyABI.Pack("revokeAssociation", id, new(big.Int).SetUint64(revokedAt))
	if err != nil {
		return nil, fmt.Errorf("pack revokeAssociation: %w", err)
	}

	metrics.PreparedTxsTotal.WithLabelValues("revoke_association").Inc()
	return &chain.TxRequest{ChainID: chainID, To: proxy, Data: data}, nil
}

// AccountAssociation is one stored record viewed from a queried account:
// its recomputed id, the role the account holds in it, the counterparty
// and the record's liveness at query time.
type AccountAssociation struct {
	SAR          *SignedRecord
	ID           common.Hash
	Role         Role
	Counterparty []byte
	// CounterpartyDisplay renders the counterparty for humans, falling
	// back to raw hex when the stored bytes are not interoperable.
	CounterpartyDisplay string
	Active              bool
}

// AssociationsForAccount queries the proxy for every record in which the
// account appears on either side. Records whose stored fields resist
// decoding degrade to best-effort values rather than failing the query.
func (s *Service) AssociationsForAccount(ctx context.Context, chainID uint64, account []byte) ([]AccountAssociation, error) {
	if len(account) == 0 {
		return nil, fault.Malformedf("account must be set")
	}
	proxy, err := s.proxyAddress(chainID)
	if err != nil {
		return nil, err
	}
	backend, err := s.source.Backend(chainID)
	if err != nil {
		return nil, err
	}

	calldata, err := proxyABI.Pack("getAssociationsForAccount", account)
	if err != nil {
		return nil, fmt.Errorf("pack getAssociationsForAccount: %w", err)
	}

	ret, err := backend.Call(ctx, proxy, calldata)
	if err != nil {
		return nil, fault.Upstream(err, "query associations on chain %d", chainID)
	}

	out, err := proxyABI.Unpack("getAssociationsForAccount", ret)
	if err != nil {
		return nil, fault.Upstream(err, "decode associations response from chain %d", chainID)
	}
	tuples := *abi.ConvertType(out[0], new([]sarTuple)).(*[]sarTuple)

	now := s.verifier.nowFn()
	associations := make([]AccountAssociation, 0, len(tuples))
	for i, tuple := range tuples {
		sar, err := fromSARTuple(tuple)
		if err != nil {
			s.logger.Warn("skipping undecodable association record",
				"chain_id", chainID, "index", i, "error", err)
			continue
		}
		associations = append(associations, s.describe(sar, account, now))
	}
	return associations, nil
}

func (s *Service) describe(sar *SignedRecord, account []byte, now uint64) AccountAssociation {
	role := RoleInitiator
	counterparty := sar.Record.Approver
	if !bytes.Equal(sar.Record.Initiator, account) {
		role = RoleApprover
		counterparty = sar.Record.Initiator
	}

	// Chain-qualified rendering when the bytes parse, raw hex when they
	// are legacy opaque data.
	display := hexutil.Encode(counterparty)
	if acct, ok := interop.TryParse(counterparty); ok {
		display = acct.String()
	}

	active := (sar.RevokedAt == 0 || sar.RevokedAt > now) &&
		sar.Record.ValidAt <= now &&
		(sar.Record.ValidUntil == 0 || sar.Record.ValidUntil > now)

	return AccountAssociation{
		SAR:                 sar,
		ID:                  ComputeID(sar.Record),
		Role:                role,
		Counterparty:        counterparty,
		CounterpartyDisplay: display,
		Active:              active,
	}
}

func (s *Service) proxyAddress(chainID uint64) (common.Address, error) {
	ep, err := s.source.Endpoint(chainID)
	if err != nil {
		return common.Address{}, err
	}
	if ep.AssociationProxy == (common.Address{}) {
		return common.Address{}, fault.Malformedf("chain %d has no association proxy configured", chainID)
	}
	return ep.AssociationProxy, nil
}
