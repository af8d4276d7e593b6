package registry

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ReputationRegistry is a read-only gateway to the feedback registry.
// This platform never writes feedback; it only surfaces the aggregate
// alongside agent lookups.
type ReputationRegistry struct {
	source chain.Source
	logger *slog.Logger
}

func NewReputationRegistry(source chain.Source, logger *slog.Logger) *ReputationRegistry {
	return &ReputationRegistry{
		source: source,
		logger: logger.With("component", "reputation_registry"),
	}
}

// ReputationSummary is the aggregate feedback state for one agent.
type ReputationSummary struct {
	Count        *big.Int `json:"count"`
	AverageScore uint8    `json:"averageScore"`
}

// FeedbackCount reads the number of feedback entries for an agent.
func (g *ReputationRegistry) FeedbackCount(ctx context.Context, chainID uint64, agentID *big.Int) (*big.Int, error) {
	to, backend, err := g.reader(chainID)
	if err != nil {
		return nil, err
	}

	calldata, err := reputationABI.Pack("getFeedbackCount", agentID)
	if err != nil {
		return nil, fmt.Errorf("pack getFeedbackCount: %w", err)
	}
	ret, err := backend.Call(ctx, to, calldata)
	if err != nil {
		return nil, fault.Upstream(err, "read feedback count on chain %d", chainID)
	}

	out, err := reputationABI.Unpack("getFeedbackCount", ret)
	if err != nil {
		return nil, fault.Upstream(err, "decode feedback count from chain %d", chainID)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// Summary reads the aggregate feedback count and average score.
func (g *ReputationRegistry) Summary(ctx context.Context, chainID uint64, agentID *big.Int) (*ReputationSummary, error) {
	to, backend, err := g.reader(chainID)
	if err != nil {
		return nil, err
	}

	calldata, err := reputationABI.Pack("getSummary", agentID)
	if err != nil {
		return nil, fmt.Errorf("pack getSummary: %w", err)
	}
	ret, err := backend.Call(ctx, to, calldata)
	if err != nil {
		return nil, fault.Upstream(err, "read reputation summary on chain %d", chainID)
	}

	out, err := reputationABI.Unpack("getSummary", ret)
	if err != nil {
		return nil, fault.Upstream(err, "decode reputation summary from chain %d", chainID)
	}

	count := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	score, ok := out[1].(uint8)
	if !ok {
		return nil, fault.Upstream(nil, "unexpected average score type %T", out[1])
	}
	return &ReputationSummary{Count: count, AverageScore: score}, nil
}

func (g *ReputationRegistry) reader(chainID uint64) (common.Address, chain.Backend, error) {
	ep, err := g.source.Endpoint(chainID)
	if err != nil {
		return common.Address{}, nil, err
	}
	if ep.ReputationRegistry == (common.Address{}) {
		return common.Address{}, nil, fault.Malformedf("no reputation registry configured for chain %d", chainID)
	}
	backend, err := g.source.Backend(chainID)
	if err != nil {
		return common.Address{}, nil, err
	}
	return ep.ReputationRegistry, backend, nil
}
