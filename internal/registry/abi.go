// Package registry wraps the deployed trust registries with typed
// gateways: validation request/response state, agent identity tokens and
// reputation feedback. Every write surfaces as a prepared transaction for
// an external signer; the gateways themselves only read.
package registry

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const validationABIJSON = `[
  {
    "type": "function",
    "name": "validationRequest",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "validator", "type": "address"},
      {"name": "agentId", "type": "uint256"},
      {"name": "requestUri", "type": "string"},
      {"name": "requestHash", "type": "bytes32"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "validationResponse",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "requestHash", "type": "bytes32"},
      {"name": "response", "type": "uint8"},
      {"name": "responseUri", "type": "string"},
      {"name": "responseHash", "type": "bytes32"},
      {"name": "tag", "type": "bytes32"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "getValidationStatus",
    "stateMutability": "view",
    "inputs": [
      {"name": "requestHash", "type": "bytes32"}
    ],
    "outputs": [
      {
        "name": "",
        "type": "tuple",
        "components": [
          {"name": "validator", "type": "address"},
          {"name": "agentId", "type": "uint256"},
          {"name": "requestUri", "type": "string"},
          {"name": "requestHash", "type": "bytes32"},
          {"name": "response", "type": "uint8"},
          {"name": "responseUri", "type": "string"},
          {"name": "responseHash", "type": "bytes32"},
          {"name": "tag", "type": "bytes32"},
          {"name": "lastUpdate", "type": "uint40"}
        ]
      }
    ]
  },
  {
    "type": "function",
    "name": "getValidatorRequests",
    "stateMutability": "view",
    "inputs": [
      {"name": "validator", "type": "address"}
    ],
    "outputs": [
      {"name": "", "type": "bytes32[]"}
    ]
  },
  {
    "type": "function",
    "name": "getAgentValidations",
    "stateMutability": "view",
    "inputs": [
      {"name": "agentId", "type": "uint256"}
    ],
    "outputs": [
      {"name": "", "type": "bytes32[]"}
    ]
  },
  {
    "type": "event",
    "name": "ValidationRequested",
    "inputs": [
      {"name": "requestHash", "type": "bytes32", "indexed": true},
      {"name": "validator", "type": "address", "indexed": true},
      {"name": "agentId", "type": "uint256", "indexed": true},
      {"name": "requestUri", "type": "string", "indexed": false}
    ]
  },
  {
    "type": "event",
    "name": "ValidationResponded",
    "inputs": [
      {"name": "requestHash", "type": "bytes32", "indexed": true},
      {"name": "response", "type": "uint8", "indexed": false},
      {"name": "responseUri", "type": "string", "indexed": false},
      {"name": "responseHash", "type": "bytes32", "indexed": false},
      {"name": "tag", "type": "bytes32", "indexed": false}
    ]
  }
]`

const identityABIJSON = `[
  {
    "type": "function",
    "name": "register",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "tokenURI", "type": "string"}
    ],
    "outputs": [
      {"name": "agentId", "type": "uint256"}
    ]
  },
  {
    "type": "function",
    "name": "ownerOf",
    "stateMutability": "view",
    "inputs": [
      {"name": "agentId", "type": "uint256"}
    ],
    "outputs": [
      {"name": "", "type": "address"}
    ]
  },
  {
    "type": "function",
    "name": "tokenURI",
    "stateMutability": "view",
    "inputs": [
      {"name": "agentId", "type": "uint256"}
    ],
    "outputs": [
      {"name": "", "type": "string"}
    ]
  },
  {
    "type": "function",
    "name": "setMetadata",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "agentId", "type": "uint256"},
      {"name": "key", "type": "string"},
      {"name": "value", "type": "string"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "getMetadata",
    "stateMutability": "view",
    "inputs": [
      {"name": "agentId", "type": "uint256"},
      {"name": "key", "type": "string"}
    ],
    "outputs": [
      {"name": "", "type": "string"}
    ]
  },
  {
    "type": "event",
    "name": "AgentRegistered",
    "inputs": [
      {"name": "agentId", "type": "uint256", "indexed": true},
      {"name": "owner", "type": "address", "indexed": true},
      {"name": "tokenURI", "type": "string", "indexed": false}
    ]
  }
]`

const reputationABIJSON = `[
  {
    "type": "function",
    "name": "getFeedbackCount",
    "stateMutability": "view",
    "inputs": [
      {"name": "agentId", "type": "uint256"}
    ],
    "outputs": [
      {"name": "", "type": "uint256"}
    ]
  },
  {
    "type": "function",
    "name": "getSummary",
    "stateMutability": "view",
    "inputs": [
      {"name": "agentId", "type": "uint256"}
    ],
    "outputs": [
      {"name": "count", "type": "uint256"},
      {"name": "averageScore", "type": "uint8"}
    ]
  }
]`

var (
	validationABI = mustParseABI(validationABIJSON)
	identityABI   = mustParseABI(identityABIJSON)
	reputationABI = mustParseABI(reputationABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// statusTuple mirrors the getValidationStatus return component layout.
type statusTuple struct {
	Validator    common.Address
	AgentId      *big.Int
	RequestUri   string
	RequestHash  [32]byte
	Response     uint8
	ResponseUri  string
	ResponseHash [32]byte
	Tag          [32]byte
	LastUpdate   *big.Int
}
