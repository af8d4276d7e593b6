package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain/evmrpc"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/domain/model"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ValidationRegistry is the gateway to the on-chain validation registry:
// prepared request/response transactions plus status reads keyed by
// request hash.
type ValidationRegistry struct {
	source chain.Source
	logger *slog.Logger
}

func NewValidationRegistry(source chain.Source, logger *slog.Logger) *ValidationRegistry {
	return &ValidationRegistry{
		source: source,
		logger: logger.With("component", "validation_registry"),
	}
}

// RequestTx encodes validationRequest(validator, agentId, requestUri,
// requestHash) against the chain's registry. Field validation and hash
// defaulting happen in the validation service; this only packs.
func (g *ValidationRegistry) RequestTx(chainID uint64, validator common.Address, agentID *big.Int, requestURI string, requestHash common.Hash) (*chain.TxRequest, error) {
	to, err := g.contract(chainID)
	if err != nil {
		return nil, err
	}
	data, err := validationABI.Pack("validationRequest", validator, agentID, requestURI, requestHash)
	if err != nil {
		return nil, fmt.Errorf("pack validationRequest: %w", err)
	}
	return &chain.TxRequest{ChainID: chainID, To: to, Data: data}, nil
}

// ResponseTx encodes validationResponse(requestHash, response,
// responseUri, responseHash, tag).
func (g *ValidationRegistry) ResponseTx(chainID uint64, requestHash common.Hash, response uint8, responseURI string, responseHash, tag common.Hash) (*chain.TxRequest, error) {
	to, err := g.contract(chainID)
	if err != nil {
		return nil, err
	}
	data, err := validationABI.Pack("validationResponse", requestHash, response, responseURI, responseHash, tag)
	if err != nil {
		return nil, fmt.Errorf("pack validationResponse: %w", err)
	}
	return &chain.TxRequest{ChainID: chainID, To: to, Data: data}, nil
}

// Status reads the registry state for one request hash. An unknown hash
// reads back as a zero struct on chain and surfaces as not found.
func (g *ValidationRegistry) Status(ctx context.Context, chainID uint64, requestHash common.Hash) (model.ValidationStatus, error) {
	to, backend, err := g.reader(chainID)
	if err != nil {
		return model.ValidationStatus{}, err
	}

	calldata, err := validationABI.Pack("getValidationStatus", requestHash)
	if err != nil {
		return model.ValidationStatus{}, fmt.Errorf("pack getValidationStatus: %w", err)
	}
	ret, err := backend.Call(ctx, to, calldata)
	if err != nil {
		return model.ValidationStatus{}, statusCallError(err, chainID, requestHash)
	}

	status, err := decodeStatus(chainID, ret)
	if err != nil {
		return model.ValidationStatus{}, fault.Upstream(err, "decode validation status from chain %d", chainID)
	}
	if status.Validator == (common.Address{}) {
		return model.ValidationStatus{}, fault.NotFoundf("validation request %s not found on chain %d", requestHash.Hex(), chainID)
	}
	return status, nil
}

// StatusBatch reads many request hashes in one RPC round trip. A hash
// that fails individually degrades only itself: it is logged and dropped
// from the result.
func (g *ValidationRegistry) StatusBatch(ctx context.Context, chainID uint64, hashes []common.Hash) ([]model.ValidationStatus, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	to, backend, err := g.reader(chainID)
	if err != nil {
		return nil, err
	}

	calls := make([]chain.Call, len(hashes))
	for i, h := range hashes {
		calldata, err := validationABI.Pack("getValidationStatus", h)
		if err != nil {
			return nil, fmt.Errorf("pack getValidationStatus: %w", err)
		}
		calls[i] = chain.Call{To: to, Data: calldata}
	}

	results, err := backend.CallBatch(ctx, calls)
	if err != nil {
		return nil, fault.Upstream(err, "batch validation status on chain %d", chainID)
	}

	statuses := make([]model.ValidationStatus, 0, len(results))
	for i, res := range results {
		if res.Err != nil {
			g.logger.Warn("validation status read failed, skipping",
				"chain_id", chainID, "request_hash", hashes[i].Hex(), "error", res.Err)
			continue
		}
		status, err := decodeStatus(chainID, res.Data)
		if err != nil {
			g.logger.Warn("validation status undecodable, skipping",
				"chain_id", chainID, "request_hash", hashes[i].Hex(), "error", err)
			continue
		}
		if status.Validator == (common.Address{}) {
			continue
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// ValidatorRequests lists the request hashes addressed to a validator.
func (g *ValidationRegistry) ValidatorRequests(ctx context.Context, chainID uint64, validator common.Address) ([]common.Hash, error) {
	return g.hashList(ctx, chainID, "getValidatorRequests", validator)
}

// AgentValidations lists the request hashes recorded for an agent.
func (g *ValidationRegistry) AgentValidations(ctx context.Context, chainID uint64, agentID *big.Int) ([]common.Hash, error) {
	return g.hashList(ctx, chainID, "getAgentValidations", agentID)
}

// RequestTxHashes scans ValidationRequested events addressed to a
// validator and maps each request hash to the transaction that emitted
// it. The registry contract itself does not store transaction hashes, so
// this is the on-chain half of reconciliation with the indexer.
func (g *ValidationRegistry) RequestTxHashes(ctx context.Context, chainID uint64, validator common.Address, fromBlock uint64) (map[common.Hash]common.Hash, error) {
	to, backend, err := g.reader(chainID)
	if err != nil {
		return nil, err
	}

	requested := validationABI.Events["ValidationRequested"].ID
	logs, err := backend.FilterLogs(ctx, chain.LogQuery{
		FromBlock: fromBlock,
		Address:   to,
		Topics: [][]common.Hash{
			{requested},
			nil,
			{common.BytesToHash(validator.Bytes())},
		},
	})
	if err != nil {
		return nil, fault.Upstream(err, "scan ValidationRequested events on chain %d", chainID)
	}

	byRequest := make(map[common.Hash]common.Hash, len(logs))
	for _, log := range logs {
		if len(log.Topics) < 2 {
			g.logger.Warn("ValidationRequested log missing request hash topic",
				"chain_id", chainID, "tx_hash", log.TxHash.Hex())
			continue
		}
		byRequest[log.Topics[1]] = log.TxHash
	}
	return byRequest, nil
}

func (g *ValidationRegistry) hashList(ctx context.Context, chainID uint64, method string, arg any) ([]common.Hash, error) {
	to, backend, err := g.reader(chainID)
	if err != nil {
		return nil, err
	}

	calldata, err := validationABI.Pack(method, arg)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	ret, err := backend.Call(ctx, to, calldata)
	if err != nil {
		return nil, fault.Upstream(err, "%s on chain %d", method, chainID)
	}

	out, err := validationABI.Unpack(method, ret)
	if err != nil {
		return nil, fault.Upstream(err, "decode %s response from chain %d", method, chainID)
	}
	raw := *abi.ConvertType(out[0], new([][32]byte)).(*[][32]byte)

	hashes := make([]common.Hash, len(raw))
	for i, h := range raw {
		hashes[i] = common.Hash(h)
	}
	return hashes, nil
}

func (g *ValidationRegistry) contract(chainID uint64) (common.Address, error) {
	ep, err := g.source.Endpoint(chainID)
	if err != nil {
		return common.Address{}, err
	}
	if ep.ValidationRegistry == (common.Address{}) {
		return common.Address{}, fault.Malformedf("no validation registry configured for chain %d", chainID)
	}
	return ep.ValidationRegistry, nil
}

func (g *ValidationRegistry) reader(chainID uint64) (common.Address, chain.Backend, error) {
	to, err := g.contract(chainID)
	if err != nil {
		return common.Address{}, nil, err
	}
	backend, err := g.source.Backend(chainID)
	if err != nil {
		return common.Address{}, nil, err
	}
	return to, backend, nil
}

func decodeStatus(chainID uint64, ret []byte) (model.ValidationStatus, error) {
	out, err := validationABI.Unpack("getValidationStatus", ret)
	if err != nil {
		return model.ValidationStatus{}, fmt.Errorf("unpack status tuple: %w", err)
	}
	tuple := *abi.ConvertType(out[0], new(statusTuple)).(*statusTuple)

	var lastUpdate uint64
	if tuple.LastUpdate != nil && tuple.LastUpdate.IsUint64() {
		lastUpdate = tuple.LastUpdate.Uint64()
	}

	return model.ValidationStatus{
		ValidationRequest: model.ValidationRequest{
			ChainID:     chainID,
			AgentID:     tuple.AgentId,
			Validator:   tuple.Validator,
			RequestURI:  tuple.RequestUri,
			RequestHash: common.Hash(tuple.RequestHash),
		},
		Response:     tuple.Response,
		ResponseURI:  tuple.ResponseUri,
		ResponseHash: common.Hash(tuple.ResponseHash),
		Tag:          common.Hash(tuple.Tag),
		LastUpdate:   lastUpdate,
	}, nil
}

// statusCallError keeps "the registry reverted for this hash" distinct
// from "the node is down": a revert means the contract has no entry.
func statusCallError(err error, chainID uint64, requestHash common.Hash) error {
	var rpcErr *evmrpc.RPCError
	if errors.As(err, &rpcErr) && isRevert(rpcErr) {
		return fault.NotFoundf("validation request %s not found on chain %d", requestHash.Hex(), chainID)
	}
	return fault.Upstream(err, "read validation status on chain %d", chainID)
}

func isRevert(rpcErr *evmrpc.RPCError) bool {
	return rpcErr.Code == 3 || strings.Contains(strings.ToLower(rpcErr.Message), "revert")
}
