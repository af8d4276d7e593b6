// Package model holds the domain types shared across services, stores
// and transports.
package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Agent is an identity-registry entry: a minted agent token plus the
// metadata resolved for it.
type Agent struct {
	ChainID  uint64
	ID       *big.Int
	Owner    common.Address
	TokenURI string

	// Name and Description come from the token metadata document when
	// one resolves; both stay empty for agents without metadata.
	Name        string
	Description string

	// Endpoint is the agent's advertised service URL, when registered.
	Endpoint string
}
