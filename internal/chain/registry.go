package chain

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain/evmrpc"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain/ratelimit"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/ethereum/go-ethereum/common"
)

const (
	defaultRPS   = 10.0
	defaultBurst = 20
)

// Endpoint describes one configured chain: its node, its bundler and the
// deployed contract addresses the services talk to.
type Endpoint struct {
	ChainID    uint64
	Name       string
	RPCURL     string
	BundlerURL string
	EntryPoint common.Address

	AssociationProxy   common.Address
	IdentityRegistry   common.Address
	ValidationRegistry common.Address
	ReputationRegistry common.Address
}

// Registry hands out one rate-limited client per configured chain.
// Clients are created on first use and cached for the process lifetime.
type Registry struct {
	endpoints map[uint64]Endpoint
	rps       float64
	burst     int
	logger    *slog.Logger

	mu      sync.Mutex
	clients map[uint64]*Client
}

var _ Source = (*Registry)(nil)

func NewRegistry(endpoints []Endpoint, rps float64, burst int, logger *slog.Logger) (*Registry, error) {
	if rps <= 0 {
		rps = defaultRPS
	}
	if burst <= 0 {
		burst = defaultBurst
	}

	byID := make(map[uint64]Endpoint, len(endpoints))
	for _, ep := range endpoints {
		if ep.ChainID == 0 {
			return nil, fmt.Errorf("endpoint %q: chain id must be set", ep.Name)
		}
		if ep.RPCURL == "" {
			return nil, fmt.Errorf("endpoint %q (chain %d): rpc url must be set", ep.Name, ep.ChainID)
		}
		if _, dup := byID[ep.ChainID]; dup {
			return nil, fmt.Errorf("duplicate endpoint for chain %d", ep.ChainID)
		}
		byID[ep.ChainID] = ep
	}

	return &Registry{
		endpoints: byID,
		rps:       rps,
		burst:     burst,
		logger:    logger,
		clients:   make(map[uint64]*Client, len(byID)),
	}, nil
}

// Client returns the cached client for chainID, creating it on first use.
func (r *Registry) Client(chainID uint64) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[chainID]; ok {
		return c, nil
	}

	ep, ok := r.endpoints[chainID]
	if !ok {
		return nil, fault.Malformedf("unsupported chain id %d", chainID)
	}

	label := strconv.FormatUint(chainID, 10)
	rpcClient := evmrpc.NewClient(ep.RPCURL, r.logger)
	limiter := ratelimit.NewLimiter(r.rps, r.burst, label)
	c := NewClient(chainID, rpcClient, limiter, r.logger)
	r.clients[chainID] = c

	r.logger.Info("chain client created", "chain_id", chainID, "name", ep.Name)
	return c, nil
}

func (r *Registry) Backend(chainID uint64) (Backend, error) {
	c, err := r.Client(chainID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Registry) Endpoint(chainID uint64) (Endpoint, error) {
	ep, ok := r.endpoints[chainID]
	if !ok {
		return Endpoint{}, fault.Malformedf("unsupported chain id %d", chainID)
	}
	return ep, nil
}

// ChainIDs lists the configured chains in ascending order.
func (r *Registry) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(r.endpoints))
	for id := range r.endpoints {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
