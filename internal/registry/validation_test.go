package registry

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain/evmrpc"
	chainmocks "github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/chain/mocks"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/fault"
	"github.com/ethereum/go-ethereum/common"
)

const testChainID = uint64(11155111)

var (
	testValidationAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testIdentityAddr   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testReputationAddr = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testValidator      = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func expectEndpoint(source *chainmocks.MockSource) {
	source.EXPECT().Endpoint(testChainID).
		Return(chain.Endpoint{
			ChainID:            testChainID,
			Name:               "sepolia",
			RPCURL:             "http://localhost:8545",
			ValidationRegistry: testValidationAddr,
			IdentityRegistry:   testIdentityAddr,
			ReputationRegistry: testReputationAddr,
		}, nil).
		AnyTimes()
}

func testStatusTuple(requestHash common.Hash, response uint8) statusTuple {
	return statusTuple{
		Validator:    testValidator,
		AgentId:      big.NewInt(7),
		RequestUri:   "https://validator.example/requests/7",
		RequestHash:  requestHash,
		Response:     response,
		ResponseUri:  "",
		ResponseHash: [32]byte{},
		Tag:          [32]byte{},
		LastUpdate:   big.NewInt(1_700_000_000),
	}
}

func packStatus(t *testing.T, tuple statusTuple) []byte {
	t.Helper()
	out, err := validationABI.Methods["getValidationStatus"].Outputs.Pack(tuple)
	require.NoError(t, err)
	return out
}

func packHashList(t *testing.T, method string, hashes [][32]byte) []byte {
	t.Helper()
	out, err := validationABI.Methods[method].Outputs.Pack(hashes)
	require.NoError(t, err)
	return out
}

func TestValidationRequestTx(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)

	g := NewValidationRegistry(source, discardLogger())
	requestHash := common.HexToHash("0xabcd000000000000000000000000000000000000000000000000000000001234")

	tx, err := g.RequestTx(testChainID, testValidator, big.NewInt(7), "https://validator.example/requests/7", requestHash)
	require.NoError(t, err)
	assert.Equal(t, testChainID, tx.ChainID)
	assert.Equal(t, testValidationAddr, tx.To)

	method := validationABI.Methods["validationRequest"]
	require.Equal(t, method.ID, []byte(tx.Data[:4]))

	out, err := method.Inputs.Unpack(tx.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, testValidator, out[0].(common.Address))
	assert.Equal(t, int64(7), out[1].(*big.Int).Int64())
	assert.Equal(t, "https://validator.example/requests/7", out[2].(string))
	assert.Equal(t, [32]byte(requestHash), out[3].([32]byte))
}

func TestValidationResponseTx(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)

	g := NewValidationRegistry(source, discardLogger())
	requestHash := common.HexToHash("0x01")

	tx, err := g.ResponseTx(testChainID, requestHash, 87, "ipfs://response", common.Hash{}, common.Hash{})
	require.NoError(t, err)

	method := validationABI.Methods["validationResponse"]
	require.Equal(t, method.ID, []byte(tx.Data[:4]))

	out, err := method.Inputs.Unpack(tx.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, [32]byte(requestHash), out[0].([32]byte))
	assert.Equal(t, uint8(87), out[1].(uint8))
	assert.Equal(t, "ipfs://response", out[2].(string))
}

func TestValidationRequestTx_NoRegistryConfigured(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	source.EXPECT().Endpoint(testChainID).
		Return(chain.Endpoint{ChainID: testChainID, RPCURL: "http://localhost:8545"}, nil)

	g := NewValidationRegistry(source, discardLogger())

	_, err := g.RequestTx(testChainID, testValidator, big.NewInt(1), "uri", common.Hash{})
	require.Error(t, err)
	assert.True(t, fault.IsMalformed(err))
	assert.Contains(t, err.Error(), "no validation registry")
}

func TestValidationStatus(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)
	backend := chainmocks.NewMockBackend(ctrl)
	source.EXPECT().Backend(testChainID).Return(backend, nil)

	requestHash := common.HexToHash("0x02")
	backend.EXPECT().
		Call(gomock.Any(), testValidationAddr, gomock.Any()).
		Return(packStatus(t, testStatusTuple(requestHash, 95)), nil)

	g := NewValidationRegistry(source, discardLogger())
	status, err := g.Status(context.Background(), testChainID, requestHash)
	require.NoError(t, err)

	assert.Equal(t, testChainID, status.ChainID)
	assert.Equal(t, testValidator, status.Validator)
	assert.Equal(t, int64(7), status.AgentID.Int64())
	assert.Equal(t, requestHash, status.RequestHash)
	assert.Equal(t, uint8(95), status.Response)
	assert.Equal(t, uint64(1_700_000_000), status.LastUpdate)
	assert.False(t, status.Pending())
}

func TestValidationStatus_ZeroValidatorIsNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)
	backend := chainmocks.NewMockBackend(ctrl)
	source.EXPECT().Backend(testChainID).Return(backend, nil)

	empty := statusTuple{AgentId: big.NewInt(0), LastUpdate: big.NewInt(0)}
	backend.EXPECT().
		Call(gomock.Any(), testValidationAddr, gomock.Any()).
		Return(packStatus(t, empty), nil)

	g := NewValidationRegistry(source, discardLogger())
	_, err := g.Status(context.Background(), testChainID, common.HexToHash("0x03"))
	require.Error(t, err)
	assert.True(t, fault.IsNotFound(err))
}

func TestValidationStatus_RevertIsNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)
	backend := chainmocks.NewMockBackend(ctrl)
	source.EXPECT().Backend(testChainID).Return(backend, nil)

	backend.EXPECT().
		Call(gomock.Any(), testValidationAddr, gomock.Any()).
		Return(nil, &evmrpc.RPCError{Code: 3, Message: "execution reverted"})

	g := NewValidationRegistry(source, discardLogger())
	_, err := g.Status(context.Background(), testChainID, common.HexToHash("0x04"))
	require.Error(t, err)
	assert.True(t, fault.IsNotFound(err))
}

func TestValidationStatus_TransportFailureIsUpstream(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)
	backend := chainmocks.NewMockBackend(ctrl)
	source.EXPECT().Backend(testChainID).Return(backend, nil)

	backend.EXPECT().
		Call(gomock.Any(), testValidationAddr, gomock.Any()).
		Return(nil, context.DeadlineExceeded)

	g := NewValidationRegistry(source, discardLogger())
	_, err := g.Status(context.Background(), testChainID, common.HexToHash("0x05"))
	require.Error(t, err)
	assert.True(t, fault.IsUpstream(err))
}

func TestValidationStatusBatch_SkipsFailedItems(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)
	backend := chainmocks.NewMockBackend(ctrl)
	source.EXPECT().Backend(testChainID).Return(backend, nil)

	hashA := common.HexToHash("0x0a")
	hashB := common.HexToHash("0x0b")
	hashC := common.HexToHash("0x0c")

	backend.EXPECT().
		CallBatch(gomock.Any(), gomock.Len(3)).
		Return([]chain.CallResult{
			{Data: packStatus(t, testStatusTuple(hashA, 0))},
			{Err: &evmrpc.RPCError{Code: 3, Message: "execution reverted"}},
			{Data: packStatus(t, testStatusTuple(hashC, 100))},
		}, nil)

	g := NewValidationRegistry(source, discardLogger())
	statuses, err := g.StatusBatch(context.Background(), testChainID, []common.Hash{hashA, hashB, hashC})
	require.NoError(t, err)

	require.Len(t, statuses, 2)
	assert.Equal(t, hashA, statuses[0].RequestHash)
	assert.True(t, statuses[0].Pending())
	assert.Equal(t, hashC, statuses[1].RequestHash)
	assert.Equal(t, uint8(100), statuses[1].Response)
}

func TestValidationStatusBatch_Empty(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	g := NewValidationRegistry(chainmocks.NewMockSource(ctrl), discardLogger())
	statuses, err := g.StatusBatch(context.Background(), testChainID, nil)
	require.NoError(t, err)
	assert.Nil(t, statuses)
}

func TestValidatorRequests(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)
	backend := chainmocks.NewMockBackend(ctrl)
	source.EXPECT().Backend(testChainID).Return(backend, nil)

	want := [][32]byte{
		common.HexToHash("0x0a"),
		common.HexToHash("0x0b"),
	}
	var gotCalldata []byte
	backend.EXPECT().
		Call(gomock.Any(), testValidationAddr, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ common.Address, data []byte) ([]byte, error) {
			gotCalldata = data
			return packHashList(t, "getValidatorRequests", want), nil
		})

	g := NewValidationRegistry(source, discardLogger())
	hashes, err := g.ValidatorRequests(context.Background(), testChainID, testValidator)
	require.NoError(t, err)

	require.Len(t, hashes, 2)
	assert.Equal(t, common.Hash(want[0]), hashes[0])
	assert.Equal(t, common.Hash(want[1]), hashes[1])

	method := validationABI.Methods["getValidatorRequests"]
	require.Equal(t, method.ID, gotCalldata[:4])
	in, err := method.Inputs.Unpack(gotCalldata[4:])
	require.NoError(t, err)
	assert.Equal(t, testValidator, in[0].(common.Address))
}

func TestAgentValidations(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)
	backend := chainmocks.NewMockBackend(ctrl)
	source.EXPECT().Backend(testChainID).Return(backend, nil)

	backend.EXPECT().
		Call(gomock.Any(), testValidationAddr, gomock.Any()).
		Return(packHashList(t, "getAgentValidations", [][32]byte{}), nil)

	g := NewValidationRegistry(source, discardLogger())
	hashes, err := g.AgentValidations(context.Background(), testChainID, big.NewInt(7))
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestRequestTxHashes(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := chainmocks.NewMockSource(ctrl)
	expectEndpoint(source)
	backend := chainmocks.NewMockBackend(ctrl)
	source.EXPECT().Backend(testChainID).Return(backend, nil)

	requested := validationABI.Events["ValidationRequested"].ID
	hashA := common.HexToHash("0x0a")
	txA := common.HexToHash("0xf1")

	var gotQuery chain.LogQuery
	backend.EXPECT().
		FilterLogs(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, q chain.LogQuery) ([]chain.Log, error) {
			gotQuery = q
			return []chain.Log{
				{
					Address: testValidationAddr,
					Topics: []common.Hash{
						requested,
						hashA,
						common.BytesToHash(testValidator.Bytes()),
						common.BigToHash(big.NewInt(7)),
					},
					TxHash: txA,
				},
				// Undecodable entry: dropped, not fatal.
				{Address: testValidationAddr, Topics: []common.Hash{requested}, TxHash: common.HexToHash("0xf2")},
			}, nil
		})

	g := NewValidationRegistry(source, discardLogger())
	byRequest, err := g.RequestTxHashes(context.Background(), testChainID, testValidator, 100)
	require.NoError(t, err)

	require.Len(t, byRequest, 1)
	assert.Equal(t, txA, byRequest[hashA])

	assert.Equal(t, uint64(100), gotQuery.FromBlock)
	assert.Equal(t, testValidationAddr, gotQuery.Address)
	require.Len(t, gotQuery.Topics, 3)
	assert.Equal(t, []common.Hash{requested}, gotQuery.Topics[0])
	assert.Nil(t, gotQuery.Topics[1])
	assert.Equal(t, []common.Hash{common.BytesToHash(testValidator.Bytes())}, gotQuery.Topics[2])
}

func TestEventSignatures(t *testing.T) {
	sig := validationABI.Events["ValidationRequested"].Sig
	assert.Equal(t, "ValidationRequested(bytes32,address,uint256,string)", sig)

	sig = validationABI.Events["ValidationResponded"].Sig
	assert.Equal(t, "ValidationResponded(bytes32,uint8,string,bytes32,bytes32)", sig)
}
