// Package identity runs agent registration and resolution against the
// identity registry. Registration is the one flow where the platform
// submits on-chain itself, through the bundler, for the platform's own
// agent accounts; the follow-up metadata writes are prepared but never
// signed here.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/aa"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/cache"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/domain/model"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/ipfs"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/registry"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/tracing"
)

const (
	resolveCacheSize = 512
	resolveCacheTTL  = time.Minute
)

// Metadata keys the registry may hold on-chain; values there override the
// registration card.
var onchainKeys = []string{"name", "description", "endpoint"}

// RegistryGateway is the identity-registry surface the service consumes.
type RegistryGateway interface {
	RegisterTx(chainID uint64, tokenURI string) (*chain.TxRequest, error)
	SetMetadataTx(chainID uint64, agentID *big.Int, key, value string) (*chain.TxRequest, error)
	Owner(ctx context.Context, chainID uint64, agentID *big.Int) (common.Address, error)
	TokenURI(ctx context.Context, chainID uint64, agentID *big.Int) (string, error)
	Metadata(ctx context.Context, chainID uint64, agentID *big.Int, keys []string) (map[string]string, error)
	ParseAgentRegistered(chainID uint64, logs []chain.Log) (*registry.RegisteredAgent, error)
}

// ReputationReader provides the feedback summary shown alongside an agent.
type ReputationReader interface {
	Summary(ctx context.Context, chainID uint64, agentID *big.Int) (*registry.ReputationSummary, error)
}

// Bundler is the submission channel for the mint user operation.
type Bundler interface {
	SendUserOperation(ctx context.Context, chainID uint64, userOp json.RawMessage) (common.Hash, error)
	WaitForReceipt(ctx context.Context, chainID uint64, userOpHash common.Hash) (*aa.UserOpReceipt, error)
}

// MetadataFetcher resolves registration cards behind token URIs.
type MetadataFetcher interface {
	Fetch(ctx context.Context, tokenURI string) (*ipfs.Metadata, error)
}

type Service struct {
	registry   RegistryGateway
	reputation ReputationReader
	bundler    Bundler
	metadata   MetadataFetcher
	source     chain.Source
	cache      *cache.LRU[string, ResolvedAgent]
	logger     *slog.Logger
}

func NewService(reg RegistryGateway, rep ReputationReader, bundler Bundler, metadata MetadataFetcher, source chain.Source, logger *slog.Logger) *Service {
	return &Service{
		registry:   reg,
		reputation: rep,
		bundler:    bundler,
		metadata:   metadata,
		source:     source,
		cache:      cache.NewLRU[string, ResolvedAgent]("agents", resolveCacheSize, resolveCacheTTL),
		logger:     logger.With("component", "identity_service"),
	}
}

// ResolvedAgent is the merged view of one agent: registry reads, owner
// probe, registration card and reputation summary.
type ResolvedAgent struct {
	model.Agent

	// OwnerIsContract reports whether the owning account carries code,
	// distinguishing smart accounts from EOAs.
	OwnerIsContract bool

	// Reputation stays nil on chains without a reputation registry or
	// while the registry is unreachable.
	Reputation *registry.ReputationSummary
}

// Resolve merges everything known about an agent. Owner and token URI are
// authoritative and fail the lookup; the card, on-chain metadata, owner
// probe and reputation are enrichment and degrade to their zero values.
func (s *Service) Resolve(ctx context.Context, chainID uint64, agentID *big.Int) (*ResolvedAgent, error) {
	if agentID == nil || agentID.Sign() < 0 {
		return nil, fault.Malformedf("invalid agent id")
	}

	key := agentKey(chainID, agentID)
	if cached, ok := s.cache.Get(key); ok {
		return &cached, nil
	}

	var (
		owner    common.Address
		tokenURI string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		owner, err = s.registry.Owner(gctx, chainID, agentID)
		return err
	})
	g.Go(func() error {
		var err error
		tokenURI, err = s.registry.TokenURI(gctx, chainID, agentID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		ownerIsContract bool
		card            *ipfs.Metadata
		onchain         map[string]string
		reputation      *registry.ReputationSummary
	)
	enrich, ectx := errgroup.WithContext(ctx)
	enrich.Go(func() error {
		backend, err := s.source.Backend(chainID)
		if err == nil {
			ownerIsContract, err = chain.HasCode(ectx, backend, owner)
		}
		if err != nil {
			s.logger.Warn("owner probe failed", "chain_id", chainID, "agent_id", agentID, "error", err)
		}
		return nil
	})
	enrich.Go(func() error {
		if tokenURI == "" {
			return nil
		}
		var err error
		card, err = s.metadata.Fetch(ectx, tokenURI)
		if err != nil {
			s.logger.Warn("registration card unavailable", "chain_id", chainID, "agent_id", agentID, "error", err)
		}
		return nil
	})
	enrich.Go(func() error {
		var err error
		onchain, err = s.registry.Metadata(ectx, chainID, agentID, onchainKeys)
		if err != nil {
			s.logger.Warn("on-chain metadata unavailable", "chain_id", chainID, "agent_id", agentID, "error", err)
		}
		return nil
	})
	enrich.Go(func() error {
		var err error
		reputation, err = s.reputation.Summary(ectx, chainID, agentID)
		if err != nil {
			reputation = nil
			if !fault.IsMalformed(err) {
				s.logger.Warn("reputation summary unavailable", "chain_id", chainID, "agent_id", agentID, "error", err)
			}
		}
		return nil
	})
	if err := enrich.Wait(); err != nil {
		return nil, err
	}

	agent := model.Agent{
		ChainID:  chainID,
		ID:       agentID,
		Owner:    owner,
		TokenURI: tokenURI,
	}
	if card != nil {
		agent.Name = card.Name
		agent.Description = card.Description
		agent.Endpoint = card.Endpoint
	}
	if v := onchain["name"]; v != "" {
		agent.Name = v
	}
	if v := onchain["description"]; v != "" {
		agent.Description = v
	}
	if v := onchain["endpoint"]; v != "" {
		agent.Endpoint = v
	}

	resolved := ResolvedAgent{
		Agent:           agent,
		OwnerIsContract: ownerIsContract,
		Reputation:      reputation,
	}
	s.cache.Put(key, resolved)
	return &resolved, nil
}

// RegisterParams carries a mint user operation already built and signed by
// the agent server's own account.
type RegisterParams struct {
	ChainID  uint64
	UserOp   json.RawMessage
	Metadata map[string]string
}

// RegisterResult reports the minted agent and the follow-up metadata
// transactions, prepared for the caller's signer.
type RegisterResult struct {
	AgentID     *big.Int
	Owner       common.Address
	TokenURI    string
	UserOpHash  common.Hash
	TxHash      common.Hash
	BlockNumber uint64
	MetadataTxs []*chain.TxRequest
}

// Register runs the ordered mint flow: submit the user operation, wait for
// its receipt within the bounded window, decode AgentRegistered to learn
// the minted id, then prepare the setMetadata calls for that id. Each step
// depends on the previous one; nothing is optimistic.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*RegisterResult, error) {
	ctx, span := tracing.Tracer("identity").Start(ctx, "identity.register",
		otelTrace.WithAttributes(
			attribute.Int64("chain_id", int64(params.ChainID)),
		),
	)
	defer span.End()

	result, err := s.register(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("agent_id", result.AgentID.String()))
	return result, nil
}

func (s *Service) register(ctx context.Context, params RegisterParams) (*RegisterResult, error) {
	if params.ChainID == 0 {
		return nil, fault.Malformedf("chain id must be set")
	}
	if len(params.UserOp) == 0 {
		return nil, fault.Malformedf("user operation must be provided")
	}

	userOpHash, err := s.bundler.SendUserOperation(ctx, params.ChainID, params.UserOp)
	if err != nil {
		return nil, err
	}

	receipt, err := s.bundler.WaitForReceipt(ctx, params.ChainID, userOpHash)
	if err != nil {
		return nil, err
	}
	if !receipt.Success {
		return nil, fault.Upstream(nil, "mint user operation %s reverted: %s", userOpHash.Hex(), receipt.Reason)
	}

	registered, err := s.registry.ParseAgentRegistered(params.ChainID, receipt.Logs)
	if err != nil {
		return nil, fmt.Errorf("mint confirmed but undecodable: %w", err)
	}

	keys := make([]string, 0, len(params.Metadata))
	for key := range params.Metadata {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	metadataTxs := make([]*chain.TxRequest, 0, len(keys))
	for _, key := range keys {
		tx, err := s.registry.SetMetadataTx(params.ChainID, registered.AgentID, key, params.Metadata[key])
		if err != nil {
			return nil, err
		}
		metadataTxs = append(metadataTxs, tx)
	}

	s.logger.Info("agent registered",
		"chain_id", params.ChainID,
		"agent_id", registered.AgentID,
		"owner", registered.Owner.Hex(),
		"tx_hash", receipt.TxHash.Hex())

	return &RegisterResult{
		AgentID:     registered.AgentID,
		Owner:       registered.Owner,
		TokenURI:    registered.TokenURI,
		UserOpHash:  userOpHash,
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
		MetadataTxs: metadataTxs,
	}, nil
}

// PrepareRegisterTx encodes the direct mint call for callers that submit
// with their own EOA instead of the bundler.
func (s *Service) PrepareRegisterTx(chainID uint64, tokenURI string) (*chain.TxRequest, error) {
	return s.registry.RegisterTx(chainID, tokenURI)
}

func agentKey(chainID uint64, agentID *big.Int) string {
	return fmt.Sprintf("%d/%s", chainID, agentID)
}
