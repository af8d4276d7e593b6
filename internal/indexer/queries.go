package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/domain/model"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/metrics"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/validation"
)

var _ validation.IndexerSource = (*Client)(nil)

const validatorValidationsQuery = `query ValidatorValidations($chainId: Int!, $validator: String!) {
  validationRequests(chainId: $chainId, validator: $validator) {
    agentId
    validator
    requestHash
    requestUri
    txHash
    blockNumber
    timestamp
  }
}`

const agentQuery = `query Agent($chainId: Int!, $agentId: String!) {
  agent(chainId: $chainId, agentId: $agentId) {
    agentId
    owner
    tokenUri
    name
    description
    endpoint
  }
}`

// hashString decodes an indexer hash field. Some deployments emit hashes
// as JSON numbers rather than hex strings; numbers are rendered to
// 0x-prefixed hex here so the rest of the pipeline only sees strings.
type hashString string

func (h *hashString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*h = hashString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	normalized, err := validation.NormalizeHash(n)
	if err != nil {
		return err
	}
	*h = hashString(normalized)
	return nil
}

type validationRow struct {
	AgentID     json.Number `json:"agentId"`
	Validator   string      `json:"validator"`
	RequestHash hashString  `json:"requestHash"`
	RequestURI  string      `json:"requestUri"`
	TxHash      string      `json:"txHash"`
	BlockNumber json.Number `json:"blockNumber"`
	Timestamp   json.Number `json:"timestamp"`
}

type agentRow struct {
	AgentID     json.Number `json:"agentId"`
	Owner       string      `json:"owner"`
	TokenURI    string      `json:"tokenUri"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Endpoint    string      `json:"endpoint"`
}

// ValidatorValidations returns the indexer's decoded ValidationRequested
// events for one validator. Rows that fail strict decoding are dropped
// individually so the healthy remainder still reconciles.
func (c *Client) ValidatorValidations(ctx context.Context, chainID uint64, validator common.Address) ([]model.IndexedValidation, error) {
	const queryName = "validator_validations"

	var data struct {
		ValidationRequests []json.RawMessage `json:"validationRequests"`
	}
	vars := map[string]any{
		"chainId":   chainID,
		"validator": validator.Hex(),
	}
	if err := c.query(ctx, queryName, validatorValidationsQuery, vars, &data); err != nil {
		return nil, err
	}

	out := make([]model.IndexedValidation, 0, len(data.ValidationRequests))
	for i, raw := range data.ValidationRequests {
		var row validationRow
		if err := json.Unmarshal(raw, &row); err != nil {
			c.skipRow(queryName, "unmarshal", i, err)
			continue
		}
		rec, err := row.toModel(chainID)
		if err != nil {
			c.skipRow(queryName, skipReason(err), i, err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Agent looks one agent up in the indexer, with a short-lived cache in
// front. A null result means the indexer has not seen the agent and maps
// to not found; callers that need authoritative state read the chain.
func (c *Client) Agent(ctx context.Context, chainID uint64, agentID *big.Int) (*model.Agent, error) {
	const queryName = "agent"

	if agentID == nil || agentID.Sign() < 0 {
		return nil, fault.Malformedf("invalid agent id")
	}
	key := agentCacheKey(chainID, agentID)
	if cached, ok := c.agentCache.Get(key); ok {
		return &cached, nil
	}

	var data struct {
		Agent *json.RawMessage `json:"agent"`
	}
	vars := map[string]any{
		"chainId": chainID,
		"agentId": agentID.String(),
	}
	if err := c.query(ctx, queryName, agentQuery, vars, &data); err != nil {
		return nil, err
	}
	if data.Agent == nil {
		return nil, fault.NotFoundf("agent %s not indexed on chain %d", agentID, chainID)
	}

	var row agentRow
	if err := json.Unmarshal(*data.Agent, &row); err != nil {
		return nil, fault.Upstream(err, "indexer returned unparsable agent %s", agentID)
	}
	agent, err := row.toModel(chainID)
	if err != nil {
		return nil, fault.Upstream(err, "indexer returned unparsable agent %s", agentID)
	}

	c.agentCache.Put(key, agent)
	return &agent, nil
}

// ForgetAgent drops one agent from the lookup cache. Called after writes
// that change registry state so the next read goes back to the indexer.
func (c *Client) ForgetAgent(chainID uint64, agentID *big.Int) {
	if agentID == nil {
		return
	}
	c.agentCache.Delete(agentCacheKey(chainID, agentID))
}

func (c *Client) skipRow(query, reason string, index int, err error) {
	metrics.IndexerRecordsSkipped.WithLabelValues(query, reason).Inc()
	c.logger.Warn("skipping unparsable indexer record", "query", query, "index", index, "reason", reason, "error", err)
}

func agentCacheKey(chainID uint64, agentID *big.Int) string {
	return fmt.Sprintf("%d/%s", chainID, agentID)
}

type rowError struct {
	reason string
	err    error
}

func (e *rowError) Error() string { return e.err.Error() }
func (e *rowError) Unwrap() error { return e.err }

func rowErrorf(reason, format string, args ...any) error {
	return &rowError{reason: reason, err: fmt.Errorf(format, args...)}
}

func skipReason(err error) string {
	var re *rowError
	if errors.As(err, &re) {
		return re.reason
	}
	return "invalid"
}

func (r validationRow) toModel(chainID uint64) (model.IndexedValidation, error) {
	agentID, ok := new(big.Int).SetString(r.AgentID.String(), 10)
	if !ok {
		return model.IndexedValidation{}, rowErrorf("bad_agent_id", "agent id %q is not a decimal integer", r.AgentID.String())
	}
	if !common.IsHexAddress(r.Validator) {
		return model.IndexedValidation{}, rowErrorf("bad_validator", "validator %q is not an address", r.Validator)
	}
	blockNumber, err := numberToUint64(r.BlockNumber)
	if err != nil {
		return model.IndexedValidation{}, rowErrorf("bad_block_number", "block number %q: %v", r.BlockNumber.String(), err)
	}
	timestamp, err := numberToUint64(r.Timestamp)
	if err != nil {
		return model.IndexedValidation{}, rowErrorf("bad_timestamp", "timestamp %q: %v", r.Timestamp.String(), err)
	}
	return model.IndexedValidation{
		ChainID:     chainID,
		AgentID:     agentID,
		Validator:   common.HexToAddress(r.Validator),
		RequestHash: string(r.RequestHash),
		RequestURI:  r.RequestURI,
		TxHash:      r.TxHash,
		BlockNumber: blockNumber,
		Timestamp:   timestamp,
	}, nil
}

func (r agentRow) toModel(chainID uint64) (model.Agent, error) {
	agentID, ok := new(big.Int).SetString(r.AgentID.String(), 10)
	if !ok {
		return model.Agent{}, fmt.Errorf("agent id %q is not a decimal integer", r.AgentID.String())
	}
	if !common.IsHexAddress(r.Owner) {
		return model.Agent{}, fmt.Errorf("owner %q is not an address", r.Owner)
	}
	return model.Agent{
		ChainID:     chainID,
		ID:          agentID,
		Owner:       common.HexToAddress(r.Owner),
		TokenURI:    r.TokenURI,
		Name:        r.Name,
		Description: r.Description,
		Endpoint:    r.Endpoint,
	}, nil
}

// numberToUint64 parses a json.Number field, treating absence as zero.
func numberToUint64(n json.Number) (uint64, error) {
	if n == "" {
		return 0, nil
	}
	return strconv.ParseUint(n.String(), 10, 64)
}
