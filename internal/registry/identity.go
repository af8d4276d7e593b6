package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain/evmrpc"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// IdentityRegistry is the gateway to the agent identity token contract.
type IdentityRegistry struct {
	source chain.Source
	logger *slog.Logger
}

func NewIdentityRegistry(source chain.Source, logger *slog.Logger) *IdentityRegistry {
	return &IdentityRegistry{
		source: source,
		logger: logger.With("component", "identity_registry"),
	}
}

// RegisteredAgent is the payload of one AgentRegistered event.
type RegisteredAgent struct {
	AgentID  *big.Int
	Owner    common.Address
	TokenURI string
}

// RegisterTx encodes register(tokenURI), the mint call.
func (g *IdentityRegistry) RegisterTx(chainID uint64, tokenURI string) (*chain.TxRequest, error) {
	if tokenURI == "" {
		return nil, fault.Malformedf("tokenURI must be set")
	}
	to, err := g.contract(chainID)
	if err != nil {
		return nil, err
	}
	data, err := identityABI.Pack("register", tokenURI)
	if err != nil {
		return nil, fmt.Errorf("pack register: %w", err)
	}
	return &chain.TxRequest{ChainID: chainID, To: to, Data: data}, nil
}

// SetMetadataTx encodes setMetadata(agentId, key, value).
func (g *IdentityRegistry) SetMetadataTx(chainID uint64, agentID *big.Int, key, value string) (*chain.TxRequest, error) {
	if agentID == nil {
		return nil, fault.Malformedf("agent id must be set")
	}
	if key == "" {
		return nil, fault.Malformedf("metadata key must be set")
	}
	to, err := g.contract(chainID)
	if err != nil {
		return nil, err
	}
	data, err := identityABI.Pack("setMetadata", agentID, key, value)
	if err != nil {
		return nil, fmt.Errorf("pack setMetadata: %w", err)
	}
	return &chain.TxRequest{ChainID: chainID, To: to, Data: data}, nil
}

// Owner resolves the account that holds an agent token. The contract
// reverts for a token that was never minted, which surfaces as not found.
func (g *IdentityRegistry) Owner(ctx context.Context, chainID uint64, agentID *big.Int) (common.Address, error) {
	to, backend, err := g.reader(chainID)
	if err != nil {
		return common.Address{}, err
	}

	calldata, err := identityABI.Pack("ownerOf", agentID)
	if err != nil {
		return common.Address{}, fmt.Errorf("pack ownerOf: %w", err)
	}
	ret, err := backend.Call(ctx, to, calldata)
	if err != nil {
		return common.Address{}, g.readError(err, chainID, agentID)
	}

	out, err := identityABI.Unpack("ownerOf", ret)
	if err != nil {
		return common.Address{}, fault.Upstream(err, "decode ownerOf response from chain %d", chainID)
	}
	owner := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	if owner == (common.Address{}) {
		return common.Address{}, fault.NotFoundf("agent %s not found on chain %d", agentID, chainID)
	}
	return owner, nil
}

// TokenURI reads the metadata document pointer for an agent token.
func (g *IdentityRegistry) TokenURI(ctx context.Context, chainID uint64, agentID *big.Int) (string, error) {
	return g.stringRead(ctx, chainID, agentID, "tokenURI", agentID)
}

// Metadata reads a set of on-chain metadata keys for an agent in one
// batch. Keys the contract has no value for come back as empty strings
// and are omitted.
func (g *IdentityRegistry) Metadata(ctx context.Context, chainID uint64, agentID *big.Int, keys []string) (map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	to, backend, err := g.reader(chainID)
	if err != nil {
		return nil, err
	}

	calls := make([]chain.Call, len(keys))
	for i, key := range keys {
		calldata, err := identityABI.Pack("getMetadata", agentID, key)
		if err != nil {
			return nil, fmt.Errorf("pack getMetadata: %w", err)
		}
		calls[i] = chain.Call{To: to, Data: calldata}
	}

	results, err := backend.CallBatch(ctx, calls)
	if err != nil {
		return nil, fault.Upstream(err, "batch agent metadata on chain %d", chainID)
	}

	values := make(map[string]string, len(results))
	for i, res := range results {
		if res.Err != nil {
			g.logger.Warn("agent metadata read failed, skipping",
				"chain_id", chainID, "agent_id", agentID, "key", keys[i], "error", res.Err)
			continue
		}
		out, err := identityABI.Unpack("getMetadata", res.Data)
		if err != nil {
			g.logger.Warn("agent metadata undecodable, skipping",
				"chain_id", chainID, "agent_id", agentID, "key", keys[i], "error", err)
			continue
		}
		if value, ok := out[0].(string); ok && value != "" {
			values[keys[i]] = value
		}
	}
	return values, nil
}

// ParseAgentRegistered finds and decodes the AgentRegistered event in a
// receipt's logs. The mint flow depends on it to learn the minted id.
func (g *IdentityRegistry) ParseAgentRegistered(chainID uint64, logs []chain.Log) (*RegisteredAgent, error) {
	ep, err := g.source.Endpoint(chainID)
	if err != nil {
		return nil, err
	}

	event := identityABI.Events["AgentRegistered"]
	for _, log := range logs {
		if log.Address != ep.IdentityRegistry {
			continue
		}
		if len(log.Topics) != 3 || log.Topics[0] != event.ID {
			continue
		}

		out, err := event.Inputs.NonIndexed().Unpack(log.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack AgentRegistered data: %w", err)
		}
		tokenURI, ok := out[0].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected AgentRegistered tokenURI type %T", out[0])
		}

		return &RegisteredAgent{
			AgentID:  new(big.Int).SetBytes(log.Topics[1].Bytes()),
			Owner:    common.BytesToAddress(log.Topics[2].Bytes()),
			TokenURI: tokenURI,
		}, nil
	}
	return nil, fault.NotFoundf("no AgentRegistered event in receipt logs")
}

func (g *IdentityRegistry) stringRead(ctx context.Context, chainID uint64, agentID *big.Int, method string, args ...any) (string, error) {
	to, backend, err := g.reader(chainID)
	if err != nil {
		return "", err
	}

	calldata, err := identityABI.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", method, err)
	}
	ret, err := backend.Call(ctx, to, calldata)
	if err != nil {
		return "", g.readError(err, chainID, agentID)
	}

	out, err := identityABI.Unpack(method, ret)
	if err != nil {
		return "", fault.Upstream(err, "decode %s response from chain %d", method, chainID)
	}
	value, ok := out[0].(string)
	if !ok {
		return "", fault.Upstream(nil, "unexpected %s return type %T", method, out[0])
	}
	return value, nil
}

func (g *IdentityRegistry) contract(chainID uint64) (common.Address, error) {
	ep, err := g.source.Endpoint(chainID)
	if err != nil {
		return common.Address{}, err
	}
	if ep.IdentityRegistry == (common.Address{}) {
		return common.Address{}, fault.Malformedf("no identity registry configured for chain %d", chainID)
	}
	return ep.IdentityRegistry, nil
}

func (g *IdentityRegistry) reader(chainID uint64) (common.Address, chain.Backend, error) {
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

// readError maps a revert on a token read to not found; ERC-721 style
// contracts revert rather than return zero for unminted ids.
func (g *IdentityRegistry) readError(err error, chainID uint64, agentID *big.Int) error {
	var rpcErr *evmrpc.RPCError
	if errors.As(err, &rpcErr) && isRevert(rpcErr) {
		return fault.NotFoundf("agent %s not found on chain %d", agentID, chainID)
	}
	return fault.Upstream(err, "read identity registry on chain %d", chainID)
}
