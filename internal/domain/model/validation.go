package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ValidationRequest asks a validator to attest a claim about an agent.
// RequestHash is the correlation key shared by the on-chain registry and
// the off-chain indexer.
type ValidationRequest struct {
	ChainID     uint64
	AgentID     *big.Int
	Validator   common.Address
	RequestURI  string
	RequestHash common.Hash
}

// ValidationStatus is the registry's view of a request after zero or one
// responses. Response stays 0 while the request is pending; a completed
// validation carries a score in 1..100.
type ValidationStatus struct {
	ValidationRequest

	Response     uint8
	ResponseURI  string
	ResponseHash common.Hash
	Tag          common.Hash
	LastUpdate   uint64

	// TxHash is the transaction that created the request, when known.
	// The registry itself does not return it; it is filled in from
	// indexer data during reconciliation.
	TxHash string
}

// Pending reports whether the request has not yet received a response.
func (s ValidationStatus) Pending() bool {
	return s.Response == 0
}

// IndexedValidation is one validation event as recorded by the discovery
// indexer. RequestHash stays a string: the indexer surfaces bytes32
// values in whatever encoding its pipeline produced, so number-encoded
// values are rendered to hex at the decode boundary and the final
// padding and case normalization happens during matching.
type IndexedValidation struct {
	ChainID     uint64
	AgentID     *big.Int
	Validator   common.Address
	RequestHash string
	RequestURI  string
	TxHash      string
	BlockNumber uint64
	Timestamp   uint64
}
