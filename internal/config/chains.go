package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain"
)

const chainsFileVersion = 1

type chainsFile struct {
	Version int          `yaml:"version"`
	Chains  []chainEntry `yaml:"chains"`
}

type chainEntry struct {
	ChainID    uint64         `yaml:"chain_id"`
	Name       string         `yaml:"name"`
	RPCURL     string         `yaml:"rpc_url"`
	BundlerURL string         `yaml:"bundler_url"`
	EntryPoint string         `yaml:"entry_point"`
	Contracts  chainContracts `yaml:"contracts"`
}

type chainContracts struct {
	AssociationProxy   string `yaml:"association_proxy"`
	IdentityRegistry   string `yaml:"identity_registry"`
	ValidationRegistry string `yaml:"validation_registry"`
	ReputationRegistry string `yaml:"reputation_registry"`
}

// LoadChains reads the chain topology file and returns the endpoints the
// chain registry is built from. All contract addresses are validated here
// so a typo fails at boot, not on the first call that needs the contract.
func LoadChains(path string) ([]chain.Endpoint, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read chains file: %w", err)
	}

	var f chainsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse chains file: %w", err)
	}
	if f.Version != chainsFileVersion {
		return nil, fmt.Errorf("unsupported chains file version %d, want %d", f.Version, chainsFileVersion)
	}
	if len(f.Chains) == 0 {
		return nil, fmt.Errorf("chains file %s lists no chains", path)
	}

	endpoints := make([]chain.Endpoint, 0, len(f.Chains))
	for i, e := range f.Chains {
		ep, err := e.endpoint()
		if err != nil {
			return nil, fmt.Errorf("chains[%d]: %w", i, err)
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

func (e chainEntry) endpoint() (chain.Endpoint, error) {
	var ep chain.Endpoint
	if e.ChainID == 0 {
		return ep, fmt.Errorf("chain_id is required")
	}
	if e.RPCURL == "" {
		return ep, fmt.Errorf("chain %d: rpc_url is required", e.ChainID)
	}
	// The bundler is optional per chain, but sending user operations
	// without an entry point address cannot work.
	if e.BundlerURL != "" && e.EntryPoint == "" {
		return ep, fmt.Errorf("chain %d: bundler_url is set but entry_point is not", e.ChainID)
	}

	entryPoint, err := parseAddress(e.ChainID, "entry_point", e.EntryPoint, e.BundlerURL != "")
	if err != nil {
		return ep, err
	}
	associationProxy, err := parseAddress(e.ChainID, "contracts.association_proxy", e.Contracts.AssociationProxy, true)
	if err != nil {
		return ep, err
	}
	identityRegistry, err := parseAddress(e.ChainID, "contracts.identity_registry", e.Contracts.IdentityRegistry, true)
	if err != nil {
		return ep, err
	}
	validationRegistry, err := parseAddress(e.ChainID, "contracts.validation_registry", e.Contracts.ValidationRegistry, true)
	if err != nil {
		return ep, err
	}
	reputationRegistry, err := parseAddress(e.ChainID, "contracts.reputation_registry", e.Contracts.ReputationRegistry, true)
	if err != nil {
		return ep, err
	}

	return chain.Endpoint{
		ChainID:            e.ChainID,
		Name:               e.Name,
		RPCURL:             e.RPCURL,
		BundlerURL:         e.BundlerURL,
		EntryPoint:         entryPoint,
		AssociationProxy:   associationProxy,
		IdentityRegistry:   identityRegistry,
		ValidationRegistry: validationRegistry,
		ReputationRegistry: reputationRegistry,
	}, nil
}

func parseAddress(chainID uint64, field, raw string, required bool) (common.Address, error) {
	if raw == "" {
		if required {
			return common.Address{}, fmt.Errorf("chain %d: %s is required", chainID, field)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("chain %d: %s %q is not a hex address", chainID, field, raw)
	}
	return common.HexToAddress(raw), nil
}
